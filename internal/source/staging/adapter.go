// Package staging serves scraper output already written to disk. It lets a
// sync run against a directory of JSONL files instead of the live scraper.
package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/logger"
	"github.com/timmy/tendersync/internal/source"
	"github.com/timmy/tendersync/internal/store"
)

// Adapter implements source.Backend over every *.jsonl file in a directory.
type Adapter struct {
	basePath string

	mu      sync.Mutex
	loaded  bool
	records []*domain.Tender
	byID    map[string]*domain.Tender
}

// NewAdapter creates a new staging adapter.
// Parameters:
//   - basePath: directory holding scraper output files.
//
// Returns:
//   - *Adapter: adapter that loads the directory on first use.
func NewAdapter(basePath string) *Adapter {
	return &Adapter{basePath: basePath}
}

// Name identifies the backend in logs.
func (a *Adapter) Name() string {
	return "staging:" + filepath.Base(a.basePath)
}

// Reload drops the cached records so the next call re-reads the directory.
func (a *Adapter) Reload() {
	a.mu.Lock()
	a.loaded = false
	a.mu.Unlock()
}

func (a *Adapter) load(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return nil
	}

	if _, err := os.Stat(a.basePath); err != nil {
		return fmt.Errorf("staging directory: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(a.basePath, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("list staging files: %w", err)
	}
	sort.Strings(files)

	merged := store.NewCollection()
	for _, path := range files {
		c, report, err := store.Load(path)
		if err != nil {
			return err
		}
		if len(report.Malformed) > 0 {
			logger.With(logger.Fields{
				"file":            filepath.Base(path),
				logger.FieldCount: len(report.Malformed),
			}).Warn(ctx, "Skipped malformed staging lines")
		}
		for _, t := range c.Records() {
			merged.Upsert(t)
		}
	}

	a.records = merged.Records()
	a.byID = make(map[string]*domain.Tender, len(a.records))
	for _, t := range a.records {
		a.byID[t.Key()] = t
	}
	a.loaded = true
	return nil
}

// FetchByIDs looks each number up in the staged records.
func (a *Adapter) FetchByIDs(ctx context.Context, ids []string, f source.Filter) ([]source.FetchResult, error) {
	if err := a.load(ctx); err != nil {
		return nil, err
	}
	results := make([]source.FetchResult, 0, len(ids))
	for _, id := range ids {
		t, ok := a.byID[id]
		if !ok || !f.Matches(t) {
			results = append(results, source.FetchResult{Number: id, Err: fmt.Errorf("%s: %w", id, source.ErrNotFound)})
			continue
		}
		results = append(results, source.FetchResult{Number: id, Tender: t.Clone()})
	}
	return results, nil
}

// FetchByWindow returns every staged tender published in w.
func (a *Adapter) FetchByWindow(ctx context.Context, w domain.SyncWindow, f source.Filter) ([]source.FetchResult, error) {
	if err := a.load(ctx); err != nil {
		return nil, err
	}
	var results []source.FetchResult
	for _, t := range a.records {
		if w.Contains(t.PublishedDate) && f.Matches(t) {
			results = append(results, source.FetchResult{Number: t.Key(), Tender: t.Clone()})
		}
	}
	return results, nil
}

// CountForWindow counts staged tenders published in w.
func (a *Adapter) CountForWindow(ctx context.Context, w domain.SyncWindow, f source.Filter) (int, error) {
	if err := a.load(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", source.ErrCountUnavailable, err)
	}
	n := 0
	for _, t := range a.records {
		if w.Contains(t.PublishedDate) && f.Matches(t) {
			n++
		}
	}
	return n, nil
}
