package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/logger"
	"github.com/timmy/tendersync/internal/metrics"
	"github.com/timmy/tendersync/internal/reconcile"
	"github.com/timmy/tendersync/internal/source"
	"github.com/timmy/tendersync/internal/status"
	"github.com/timmy/tendersync/internal/store"
)

// RunRecorder persists finished run records (runlog.History).
type RunRecorder interface {
	Record(run *domain.RunRecord) error
}

// Mirror receives the persisted record set and run records, e.g. a database.
type Mirror interface {
	SyncTenders(ctx context.Context, tenderType string, records []*domain.Tender) error
	RecordRun(ctx context.Context, run *domain.RunRecord) error
}

// Archiver copies a persisted record file to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, path string, run *domain.RunRecord) (string, error)
}

// ConfigError marks a problem with the run's inputs. It is raised before any
// backend call.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "invalid sync configuration: " + e.Msg }

// SyncConfig holds the engine settings.
type SyncConfig struct {
	RecencyDays          int
	RecheckBatchSize     int
	CallTimeout          time.Duration
	InitialLookbackDays  int
	DiscoveryBufferDays  int
	DiscoveryHorizonDays int
	Reconcile            reconcile.Options
	// TenderTypes lists the accepted type codes; empty accepts any.
	TenderTypes []domain.TenderType
	Location    *time.Location
	Now         func() time.Time
}

// DefaultSyncConfig returns the production defaults.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		RecencyDays:         60,
		RecheckBatchSize:    50,
		CallTimeout:         10 * time.Minute,
		InitialLookbackDays: 30,
		Reconcile:           reconcile.DefaultOptions(),
		Location:            time.UTC,
		Now:                 time.Now,
	}
}

// SyncOptions select what one run does.
type SyncOptions struct {
	DataFile     string
	TenderType   string
	CategoryCode string
	DateFrom     domain.Date
	DateTo       domain.Date
	// DateFromText and DateToText are unparsed YYYY-MM-DD values, e.g. from
	// the command line. Run parses them when DateFrom and DateTo are zero.
	DateFromText  string
	DateToText    string
	DryRun        bool
	SkipRecheck   bool
	SkipDiscovery bool
}

func (o SyncOptions) filter() source.Filter {
	return source.Filter{TenderType: o.TenderType, CategoryCode: o.CategoryCode}
}

// SyncService runs the two-phase synchronization of one record file:
// Phase A re-checks active tenders, Phase B discovers new ones, then the
// file is rewritten once, atomically.
type SyncService struct {
	backend    source.Backend
	classifier *status.Classifier
	reconciler *reconcile.Reconciler
	history    RunRecorder
	mirror     Mirror
	archiver   Archiver
	logger     *logger.Logger
	cfg        *SyncConfig

	save func(path string, records []*domain.Tender) error
}

// NewSyncService creates a new sync service.
// Parameters:
//   - backend: scraper backend used for fetches and counts.
//   - classifier: status classifier bound to the loaded vocabulary.
//   - history: run history; required.
//   - mirror: optional database mirror, may be nil.
//   - archiver: optional snapshot archiver, may be nil.
//   - log: base logger.
//   - cfg: engine settings; nil uses DefaultSyncConfig.
//
// Returns:
//   - *SyncService: ready to Run.
func NewSyncService(
	backend source.Backend,
	classifier *status.Classifier,
	history RunRecorder,
	mirror Mirror,
	archiver Archiver,
	log *logger.Logger,
	cfg *SyncConfig,
) *SyncService {
	if cfg == nil {
		cfg = DefaultSyncConfig()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RecheckBatchSize <= 0 {
		cfg.RecheckBatchSize = 50
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &SyncService{
		backend:    backend,
		classifier: classifier,
		reconciler: reconcile.New(backend, cfg.Reconcile),
		history:    history,
		mirror:     mirror,
		archiver:   archiver,
		logger:     log,
		cfg:        cfg,
		save:       store.Save,
	}
}

func (s *SyncService) today() domain.Date {
	return domain.DateOf(s.cfg.Now().In(s.cfg.Location))
}

// Run executes one synchronization and records it in the run history; dry
// runs are only logged. The returned record is always non-nil. The error is
// set when the run FAILED (configuration, unreadable input, persistence,
// cancellation) or when the history could not be written.
func (s *SyncService) Run(ctx context.Context, opts SyncOptions) (*domain.RunRecord, error) {
	rec := domain.NewRunRecord(uuid.NewString(), s.cfg.Now())
	if opts.DataFile != "" {
		rec.DataFile = filepath.Base(opts.DataFile)
	}
	rec.TenderType = opts.TenderType
	rec.DryRun = opts.DryRun

	ctx = s.logger.WithFields(logger.Fields{
		logger.FieldRunID:      rec.RunID,
		logger.FieldTenderType: opts.TenderType,
		logger.FieldComponent:  "sync",
	}).WithContext(ctx)

	logger.CtxInfo(ctx, "Starting sync of %s (backend=%s, dry_run=%v)", rec.DataFile, s.backend.Name(), opts.DryRun)

	runErr := s.run(ctx, opts, rec)
	runStatus := domain.RunStatusSuccess
	if runErr != nil {
		runStatus = domain.RunStatusFailed
		rec.Metrics.AddError("fatal: %v", runErr)
	}
	rec.Finish(runStatus, s.cfg.Now())
	metrics.ObserveRun(rec)

	var histErr error
	if opts.DryRun {
		logger.CtxInfo(ctx, "Dry run: run %s not written to history", rec.RunID)
	} else if err := s.history.Record(rec); err != nil {
		histErr = fmt.Errorf("record run history: %w", err)
		logger.FromContext(ctx).WithError(err).Error("Failed to write run history")
	}
	if s.mirror != nil && !opts.DryRun {
		if err := s.mirror.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to mirror run record")
		}
	}

	logger.With(logger.Fields{
		logger.FieldStatus:        string(rec.Status),
		logger.FieldDurationMs:    int64(rec.DurationSeconds * 1000),
		"total_active_rechecked":  rec.Metrics.TotalActiveRechecked,
		"status_changes_detected": rec.Metrics.StatusChangesDetected,
		"new_tenders_added":       rec.Metrics.NewTendersAdded,
		"records_updated":         rec.Metrics.RecordsUpdated,
		"total_tenders":           rec.Metrics.TotalTenders,
		"errors":                  len(rec.Metrics.Errors),
	}).Info(ctx, "Sync finished")

	return rec, errors.Join(runErr, histErr)
}

// validate checks the run's inputs and parses the text dates into opts.
func (s *SyncService) validate(opts *SyncOptions) error {
	if len(s.cfg.TenderTypes) > 0 {
		if _, err := domain.LookupTenderType(s.cfg.TenderTypes, opts.TenderType); err != nil {
			return &ConfigError{Msg: err.Error()}
		}
	}
	if opts.DataFile == "" {
		return &ConfigError{Msg: "data file is required"}
	}
	if opts.DateFrom.IsZero() && opts.DateFromText != "" {
		d, err := domain.ParseDate(opts.DateFromText)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("date-from: %v", err)}
		}
		opts.DateFrom = d
	}
	if opts.DateTo.IsZero() && opts.DateToText != "" {
		d, err := domain.ParseDate(opts.DateToText)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("date-to: %v", err)}
		}
		opts.DateTo = d
	}
	if opts.DateFrom.IsZero() != opts.DateTo.IsZero() {
		return &ConfigError{Msg: "date-from and date-to must be given together"}
	}
	if !opts.DateFrom.IsZero() && opts.DateFrom.After(opts.DateTo) {
		return &ConfigError{Msg: fmt.Sprintf("date-from %s is after date-to %s", opts.DateFrom, opts.DateTo)}
	}
	return nil
}

func (s *SyncService) run(ctx context.Context, opts SyncOptions, rec *domain.RunRecord) error {
	if err := s.validate(&opts); err != nil {
		return err
	}

	coll, report, err := store.Load(opts.DataFile)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	rec.Metrics.MalformedLines = len(report.Malformed)
	rec.Metrics.DuplicatesResolved = report.Duplicates
	for i, m := range report.Malformed {
		if i == 10 {
			logger.CtxWarn(ctx, "%d more malformed lines not shown", len(report.Malformed)-i)
			break
		}
		logger.CtxWarn(ctx, "Skipping malformed record: %v", m)
	}
	logger.With(logger.Fields{logger.FieldCount: coll.Len()}).Info(ctx, "Loaded %s", rec.DataFile)

	dirty := report.Duplicates > 0
	today := s.today()

	if !opts.SkipRecheck {
		changed, err := s.recheckActive(logger.SetPhase(ctx, "recheck"), coll, opts, rec, today)
		if err != nil {
			return err
		}
		dirty = dirty || changed
	}
	if !opts.SkipDiscovery {
		changed, err := s.discover(logger.SetPhase(ctx, "discovery"), coll, opts, rec, today)
		if err != nil {
			return err
		}
		dirty = dirty || changed
	}
	rec.Metrics.TotalTenders = coll.Len()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled before persist: %w", err)
	}
	if opts.DryRun {
		logger.CtxInfo(ctx, "Dry run: record file left untouched")
		return nil
	}
	if !dirty {
		logger.CtxInfo(ctx, "No changes; record file left untouched")
		return nil
	}

	start := time.Now()
	if err := s.save(opts.DataFile, coll.Records()); err != nil {
		return fmt.Errorf("persist records: %w", err)
	}
	logger.With(logger.Fields{logger.FieldCount: coll.Len()}).WithDuration(start).Info(ctx, "Persisted %s", rec.DataFile)

	s.afterPersist(ctx, opts, coll, rec)
	return nil
}

// afterPersist runs best-effort side outputs of a saved snapshot.
func (s *SyncService) afterPersist(ctx context.Context, opts SyncOptions, coll *store.Collection, rec *domain.RunRecord) {
	if s.archiver != nil {
		key, err := s.archiver.Archive(ctx, opts.DataFile, rec)
		if err != nil {
			rec.Metrics.AddError("archive snapshot: %v", err)
		} else {
			logger.CtxInfo(ctx, "Archived snapshot to %s", key)
		}
	}
	if s.mirror != nil {
		if err := s.mirror.SyncTenders(ctx, opts.TenderType, coll.Records()); err != nil {
			rec.Metrics.AddError("mirror records: %v", err)
		}
	}
}

// recheckActive is Phase A: re-fetch active tenders published within the
// recency window and apply what changed.
func (s *SyncService) recheckActive(ctx context.Context, coll *store.Collection, opts SyncOptions, rec *domain.RunRecord, today domain.Date) (bool, error) {
	start := time.Now()
	cutoff := today.AddDays(-s.cfg.RecencyDays)

	active, final := s.classifier.Partition(coll.Records())
	var ids []string
	for _, t := range active {
		if status.IsRecent(t, cutoff) {
			ids = append(ids, t.Key())
		}
	}
	rec.Metrics.TotalActiveRechecked = len(ids)
	logger.With(logger.Fields{
		"active":          len(active),
		"final":           len(final),
		logger.FieldCount: len(ids),
		"cutoff":          cutoff.String(),
	}).Info(ctx, "Phase A: re-checking active tenders")

	if opts.DryRun || len(ids) == 0 {
		return false, nil
	}

	changed := false
	for from := 0; from < len(ids); from += s.cfg.RecheckBatchSize {
		to := from + s.cfg.RecheckBatchSize
		if to > len(ids) {
			to = len(ids)
		}
		batch := ids[from:to]

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		results, err := s.backend.FetchByIDs(callCtx, batch, opts.filter())
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, fmt.Errorf("phase A cancelled: %w", ctxErr)
		}
		if err != nil && len(results) == 0 {
			rec.Metrics.AddError("recheck batch %d-%d: %v", from, to-1, err)
			continue
		}

		for _, r := range results {
			if s.applyRecheck(ctx, coll, r, rec) {
				changed = true
			}
		}
	}

	logger.With(logger.Fields{
		"status_changes":  rec.Metrics.StatusChangesDetected,
		"records_updated": rec.Metrics.RecordsUpdated,
		"skipped":         rec.Metrics.UnchangedSkipped,
	}).WithDuration(start).Info(ctx, "Phase A finished")
	return changed, nil
}

func (s *SyncService) applyRecheck(ctx context.Context, coll *store.Collection, r source.FetchResult, rec *domain.RunRecord) bool {
	switch {
	case errors.Is(r.Err, source.ErrNotFound):
		rec.Metrics.AddError("%s: no longer retrievable, left untouched", r.Number)
		return false
	case r.Err != nil:
		rec.Metrics.AddError("%s: %v", r.Number, r.Err)
		return false
	case r.Tender == nil:
		rec.Metrics.AddError("%s: backend returned no record", r.Number)
		return false
	}

	key := r.Tender.Key()
	if key == "" {
		key = r.Number
		r.Tender.Number = key
	}
	stored, ok := coll.Get(key)
	if !ok {
		rec.Metrics.AddError("%s: re-check returned a tender not in the store", key)
		return false
	}

	merged, outcome := mergeTender(stored, r.Tender)
	switch {
	case outcome.StatusChanged:
		rec.Metrics.StatusChangesDetected++
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldTenderNumber: key,
			"from":                   stored.Status,
			"to":                     merged.Status,
		}).Info("Status changed")
	case outcome.Changed():
		rec.Metrics.RecordsUpdated++
	default:
		rec.Metrics.UnchangedSkipped++
		return false
	}
	coll.Upsert(merged)
	return true
}

// filteredCounter counts stored tenders in a window that match the run's filter.
type filteredCounter struct {
	coll   *store.Collection
	filter source.Filter
}

func (c filteredCounter) CountInWindow(w domain.SyncWindow) int {
	n := 0
	for _, t := range c.coll.Filter(c.filter.Matches) {
		if w.Contains(t.PublishedDate) {
			n++
		}
	}
	return n
}

// discoveryWindow picks the Phase B range. ok is false when the store is
// already current.
func (s *SyncService) discoveryWindow(coll *store.Collection, opts SyncOptions, today domain.Date) (domain.SyncWindow, bool) {
	if !opts.DateFrom.IsZero() {
		return domain.SyncWindow{From: opts.DateFrom, To: opts.DateTo}, true
	}

	start := today.AddDays(-s.cfg.InitialLookbackDays)
	if latest, ok := coll.LatestPublished(); ok {
		start = latest.AddDays(1 - s.cfg.DiscoveryBufferDays)
	}
	end := today.AddDays(s.cfg.DiscoveryHorizonDays)
	if start.After(end) {
		return domain.SyncWindow{}, false
	}
	return domain.SyncWindow{From: start, To: end}, true
}

// discover is Phase B: reconcile counts over the discovery window and fetch
// the windows that disagree.
func (s *SyncService) discover(ctx context.Context, coll *store.Collection, opts SyncOptions, rec *domain.RunRecord, today domain.Date) (bool, error) {
	start := time.Now()
	window, ok := s.discoveryWindow(coll, opts, today)
	if !ok {
		logger.CtxInfo(ctx, "Phase B: store already current, nothing to discover")
		return false, nil
	}
	ctx = logger.WithField(ctx, logger.FieldWindow, window.String())
	logger.CtxInfo(ctx, "Phase B: reconciling %d day(s)", window.Days())

	res, err := s.reconciler.Reconcile(ctx, window, filteredCounter{coll: coll, filter: opts.filter()}, opts.filter())
	rec.Metrics.WindowsChecked = res.Checked
	rec.Metrics.WindowsMismatched = len(res.Windows)
	rec.Metrics.CountQueries = res.Queries
	metrics.ObserveReconcile(res.Queries, res.Unknown, res.FellBack)
	if err != nil {
		return false, fmt.Errorf("phase B cancelled: %w", err)
	}

	logger.With(logger.Fields{
		"mismatched_windows": len(res.Windows),
		"mismatched_days":    res.MismatchedDays(),
		"queries":            res.Queries,
		"unknown":            res.Unknown,
		"fell_back":          res.FellBack,
	}).Info(ctx, "Count reconciliation finished")

	if opts.DryRun {
		for _, w := range res.Windows {
			logger.CtxInfo(ctx, "Dry run: would fetch %s", w)
		}
		return false, nil
	}

	changed := false
	for _, w := range res.Windows {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		results, err := s.backend.FetchByWindow(callCtx, w, opts.filter())
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, fmt.Errorf("phase B cancelled: %w", ctxErr)
		}
		if err != nil {
			rec.Metrics.AddError("window %s: %v", w, err)
			continue
		}
		for _, r := range results {
			if s.applyDiscovered(coll, r, rec) {
				changed = true
			}
		}
	}

	logger.With(logger.Fields{
		"new_tenders": rec.Metrics.NewTendersAdded,
	}).WithDuration(start).Info(ctx, "Phase B finished")
	return changed, nil
}

func (s *SyncService) applyDiscovered(coll *store.Collection, r source.FetchResult, rec *domain.RunRecord) bool {
	if r.Err != nil {
		rec.Metrics.AddError("%s: %v", r.Number, r.Err)
		return false
	}
	if r.Tender == nil || r.Tender.Key() == "" {
		rec.Metrics.AddError("%s: backend returned a record without a tender number", r.Number)
		return false
	}

	stored, ok := coll.Get(r.Tender.Key())
	if !ok {
		coll.Upsert(r.Tender)
		rec.Metrics.NewTendersAdded++
		return true
	}
	merged, outcome := mergeTender(stored, r.Tender)
	if !outcome.Changed() {
		rec.Metrics.UnchangedSkipped++
		return false
	}
	if outcome.StatusChanged {
		rec.Metrics.StatusChangesDetected++
	} else {
		rec.Metrics.RecordsUpdated++
	}
	coll.Upsert(merged)
	return true
}
