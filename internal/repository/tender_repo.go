package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/tendersync/internal/domain"
)

const defaultBatchSize = 500

// TenderMirror copies persisted record files and run records into a SQL
// database so they can be queried without parsing JSONL.
type TenderMirror struct {
	db        *gorm.DB
	batchSize int
}

// NewTenderMirror creates a TenderMirror. batchSize <= 0 uses the default.
func NewTenderMirror(db *gorm.DB, batchSize int) *TenderMirror {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &TenderMirror{db: db, batchSize: batchSize}
}

// SyncTenders upserts every record of one tender type keyed by
// (tender_type, number).
func (m *TenderMirror) SyncTenders(ctx context.Context, tenderType string, records []*domain.Tender) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]TenderRow, 0, len(records))
	for _, t := range records {
		row, err := tenderRow(tenderType, t, now)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(rows); start += m.batchSize {
			end := start + m.batchSize
			if end > len(rows) {
				end = len(rows)
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "tender_type"}, {Name: "number"}},
				UpdateAll: true,
			}).Create(rows[start:end]).Error
			if err != nil {
				return fmt.Errorf("upsert tenders %d-%d: %w", start, end, err)
			}
		}
		return nil
	})
}

// RecordRun stores a run record; re-recording the same run ID is a no-op.
func (m *TenderMirror) RecordRun(ctx context.Context, run *domain.RunRecord) error {
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("encode run metrics: %w", err)
	}
	row := SyncRunRow{
		RunID:           run.RunID,
		Timestamp:       run.Timestamp.UTC(),
		Status:          string(run.Status),
		TenderType:      run.TenderType,
		DryRun:          run.DryRun,
		DurationSeconds: run.DurationSeconds,
		TotalChecked:    run.Metrics.TotalActiveRechecked,
		StatusChanges:   run.Metrics.StatusChangesDetected,
		NewTendersAdded: run.Metrics.NewTendersAdded,
		RecordsUpdated:  run.Metrics.RecordsUpdated,
		ErrorCount:      len(run.Metrics.Errors),
		Metrics:         string(metrics),
		DataFile:        run.DataFile,
	}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		DoNothing: true,
	}).Create(&row).Error
}

// GetTender loads one mirrored record.
func (m *TenderMirror) GetTender(ctx context.Context, tenderType, number string) (*TenderRow, error) {
	var row TenderRow
	err := m.db.WithContext(ctx).
		First(&row, "tender_type = ? AND number = ?", tenderType, number).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// CountByStatus returns mirrored record counts per status for one type.
func (m *TenderMirror) CountByStatus(ctx context.Context, tenderType string) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := m.db.WithContext(ctx).Model(&TenderRow{}).
		Select("status, count(*) as n").
		Where("tender_type = ?", tenderType).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// ListRuns returns the most recent mirrored runs first.
func (m *TenderMirror) ListRuns(ctx context.Context, limit int) ([]SyncRunRow, error) {
	var runs []SyncRunRow
	q := m.db.WithContext(ctx).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func tenderRow(tenderType string, t *domain.Tender, now time.Time) (TenderRow, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return TenderRow{}, fmt.Errorf("encode tender %s: %w", t.Key(), err)
	}
	row := TenderRow{
		TenderType:   tenderType,
		Number:       t.Key(),
		Status:       t.Status,
		Buyer:        t.Buyer,
		CategoryCode: t.CategoryCode,
		Amount:       t.Amount,
		Payload:      string(payload),
		UpdatedAt:    now,
	}
	if !t.PublishedDate.IsZero() {
		p := t.PublishedDate.Time()
		row.PublishedDate = &p
	}
	if !t.DeadlineDate.IsZero() {
		d := t.DeadlineDate.Time()
		row.DeadlineDate = &d
	}
	return row, nil
}
