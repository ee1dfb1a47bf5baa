// Package runlog keeps the bounded history of sync runs and derives health from it.
package runlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/lockfile"
)

// DefaultRetention is the number of runs kept when none is configured.
const DefaultRetention = 100

const (
	lockTTL   = 30 * time.Second
	lockRetry = 25 * time.Millisecond
	lockWait  = 15 * time.Second
)

// document is the on-disk shape: most recent run first.
type document struct {
	Logs []domain.RunRecord `json:"logs"`
}

// History is a run-history file shared by every tender type. Methods are safe
// for concurrent use within one process; writers in different processes are
// serialized by a lock file next to the history.
type History struct {
	path      string
	retention int
	lockWait  time.Duration
	mu        sync.Mutex
}

// NewHistory binds a history to path. retention <= 0 means DefaultRetention.
func NewHistory(path string, retention int) *History {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &History{path: path, retention: retention, lockWait: lockWait}
}

// Path returns the history file location.
func (h *History) Path() string { return h.path }

// Record prepends run and drops the oldest entries beyond the retention limit.
// A history file that exists but cannot be parsed is an error; it is never
// silently replaced.
func (h *History) Record(run *domain.RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	lock, err := h.lock()
	if err != nil {
		return err
	}
	defer lock.Release()

	logs, err := h.read()
	if err != nil {
		return err
	}
	logs = append([]domain.RunRecord{*run}, logs...)
	if len(logs) > h.retention {
		logs = logs[:h.retention]
	}
	return h.write(logs)
}

// List returns up to limit runs, most recent first. limit <= 0 returns all.
func (h *History) List(limit int) ([]domain.RunRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	logs, err := h.read()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// Latest returns the most recent run, or nil when none has been recorded.
func (h *History) Latest() (*domain.RunRecord, error) {
	logs, err := h.List(1)
	if err != nil || len(logs) == 0 {
		return nil, err
	}
	return &logs[0], nil
}

// lock takes the history lock file, waiting up to lockWait for another
// process to finish its write.
func (h *History) lock() (*lockfile.Lock, error) {
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	deadline := time.Now().Add(h.lockWait)
	for {
		l, err := lockfile.Acquire(lockfile.PathFor(h.path), lockTTL)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, lockfile.ErrLocked) || !time.Now().Before(deadline) {
			return nil, fmt.Errorf("lock run history: %w", err)
		}
		time.Sleep(lockRetry)
	}
}

func (h *History) read() ([]domain.RunRecord, error) {
	data, err := os.ReadFile(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run history: %w", err)
	}
	return decode(data)
}

// decode accepts {"logs": [...]} and the older bare array, which was stored
// oldest first.
func decode(data []byte) ([]domain.RunRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var logs []domain.RunRecord
		if err := json.Unmarshal(trimmed, &logs); err != nil {
			return nil, fmt.Errorf("parse run history: %w", err)
		}
		sort.SliceStable(logs, func(i, j int) bool {
			return logs[i].Timestamp.After(logs[j].Timestamp.Time)
		})
		return logs, nil
	}
	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("parse run history: %w", err)
	}
	return doc.Logs, nil
}

func (h *History) write(logs []domain.RunRecord) (err error) {
	if logs == nil {
		logs = []domain.RunRecord{}
	}
	data, err := json.MarshalIndent(document{Logs: logs}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run history: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(h.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp history: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp history: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp history: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp history: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp history: %w", err)
	}
	if err = os.Rename(tmp.Name(), h.path); err != nil {
		return fmt.Errorf("replace run history: %w", err)
	}
	return nil
}

// Health is the monitoring view of the latest run.
type Health struct {
	Status    domain.HealthStatus `json:"status"`
	Latest    *domain.RunRecord   `json:"latest,omitempty"`
	Age       time.Duration       `json:"-"`
	AgeHours  float64             `json:"last_run_age_hours"`
	Threshold time.Duration       `json:"-"`
}

// Health classifies the latest run against a freshness threshold:
// no runs is NoData, a FAILED latest run is Failed, a SUCCESS older than
// threshold is Stale, otherwise Healthy.
func (h *History) Health(threshold time.Duration, now time.Time) (Health, error) {
	latest, err := h.Latest()
	if err != nil {
		return Health{}, err
	}
	return Evaluate(latest, threshold, now), nil
}

// Evaluate is Health for an already loaded run.
func Evaluate(latest *domain.RunRecord, threshold time.Duration, now time.Time) Health {
	res := Health{Status: domain.HealthNoData, Threshold: threshold}
	if latest == nil {
		return res
	}
	res.Latest = latest
	res.Age = now.Sub(latest.Timestamp.Time)
	res.AgeHours = float64(int64(res.Age.Hours()*100)) / 100

	switch {
	case latest.Status == domain.RunStatusFailed:
		res.Status = domain.HealthFailed
	case res.Age >= threshold:
		res.Status = domain.HealthStale
	default:
		res.Status = domain.HealthHealthy
	}
	return res
}
