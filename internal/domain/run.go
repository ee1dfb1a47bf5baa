package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// RunStatus is the outcome of a sync run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// HealthStatus summarizes the run history for monitoring.
// Values include HealthHealthy, HealthStale, HealthFailed and HealthNoData.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthStale   HealthStatus = "stale"
	HealthFailed  HealthStatus = "failed"
	HealthNoData  HealthStatus = "no_data"
)

// RunMetrics are the counters reported for one run. The first five fields are
// the historical set consumed by dashboards; the rest were added later.
type RunMetrics struct {
	TotalActiveRechecked  int      `json:"total_active_rechecked"`
	StatusChangesDetected int      `json:"status_changes_detected"`
	NewTendersAdded       int      `json:"new_tenders_added"`
	TotalTenders          int      `json:"total_tenders"`
	Errors                []string `json:"errors"`

	RecordsUpdated     int `json:"records_updated"`
	UnchangedSkipped   int `json:"unchanged_skipped"`
	MalformedLines     int `json:"malformed_lines"`
	DuplicatesResolved int `json:"duplicates_resolved"`
	WindowsChecked     int `json:"windows_checked"`
	WindowsMismatched  int `json:"windows_mismatched"`
	CountQueries       int `json:"count_queries"`
}

// AddError appends a formatted per-item error.
func (m *RunMetrics) AddError(format string, args ...interface{}) {
	m.Errors = append(m.Errors, fmt.Sprintf(format, args...))
}

// RunRecord is one entry in the run history.
type RunRecord struct {
	RunID           string     `json:"run_id"`
	Timestamp       Timestamp  `json:"timestamp"`
	Status          RunStatus  `json:"status"`
	Metrics         RunMetrics `json:"metrics"`
	DurationSeconds float64    `json:"duration_seconds"`
	DataFile        string     `json:"data_file"`
	TenderType      string     `json:"tender_type,omitempty"`
	DryRun          bool       `json:"dry_run"`
}

// NewRunRecord starts a record with an empty (non-nil) error list.
func NewRunRecord(runID string, started time.Time) *RunRecord {
	return &RunRecord{
		RunID:     runID,
		Timestamp: Timestamp{Time: started.UTC()},
		Status:    RunStatusSuccess,
		Metrics:   RunMetrics{Errors: []string{}},
	}
}

// Finish stamps status and the elapsed time, rounded to centiseconds.
func (r *RunRecord) Finish(status RunStatus, finished time.Time) {
	r.Status = status
	elapsed := finished.Sub(r.Timestamp.Time).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	r.DurationSeconds = math.Round(elapsed*100) / 100
}

// Timestamp is a time.Time that also reads the naive ISO-8601 form
// ("2025-01-15T10:30:00.123456", no zone) written by older runs; such values are taken as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.UTC().Format(time.RFC3339))
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
