package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Context-level fields, propagated through the call chain of one run or request.
const (
	FieldRequestID    = "request_id"
	FieldRunID        = "run_id"
	FieldComponent    = "component"
	FieldPhase        = "phase"
	FieldTenderType   = "tender_type"
	FieldTenderNumber = "tender_number"
	FieldWindow       = "window"
	FieldBackend      = "backend"
)

// Entry-level metric fields, used for aggregation and alerting.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
	FieldLocal      = "local_count"
	FieldRemote     = "remote_count"
)
