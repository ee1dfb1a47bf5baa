package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/lockfile"
)

var base = time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

func run(id string, at time.Time, status domain.RunStatus) *domain.RunRecord {
	rec := domain.NewRunRecord(id, at)
	rec.Finish(status, at.Add(90*time.Second))
	rec.DataFile = "con_detailed_tenders.jsonl"
	return rec
}

func TestHistory_RecordKeepsMostRecentFirst(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "update_log.json"), 0)

	for i := 0; i < 3; i++ {
		if err := h.Record(run(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour), domain.RunStatusSuccess)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	logs, err := h.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(logs) != 3 || logs[0].RunID != "run-2" || logs[2].RunID != "run-0" {
		t.Fatalf("unexpected order: %+v", logs)
	}
	if logs[0].DurationSeconds != 90 {
		t.Errorf("duration = %v, want 90", logs[0].DurationSeconds)
	}
	if logs[0].Metrics.Errors == nil {
		t.Error("errors should decode as an empty list")
	}
}

func TestHistory_Retention(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "update_log.json"), 5)
	for i := 0; i < 8; i++ {
		if err := h.Record(run(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute), domain.RunStatusSuccess)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	logs, err := h.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(logs) != 5 {
		t.Fatalf("kept %d runs, want 5", len(logs))
	}
	if logs[0].RunID != "run-7" || logs[4].RunID != "run-3" {
		t.Errorf("retained %s..%s, want run-7..run-3", logs[0].RunID, logs[4].RunID)
	}
}

func TestHistory_FileShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update_log.json")
	h := NewHistory(path, 0)
	if err := h.Record(run("only", base, domain.RunStatusSuccess)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string][]map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("history is not {logs: [...]}: %v", err)
	}
	entry := doc["logs"][0]
	for _, key := range []string{"run_id", "timestamp", "status", "metrics", "duration_seconds", "data_file", "dry_run"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("entry missing %q", key)
		}
	}
	if entry["timestamp"] != "2025-06-01T06:00:00Z" {
		t.Errorf("timestamp = %v", entry["timestamp"])
	}
}

func TestHistory_ReadsLegacyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update_log.json")
	legacy := `[
  {"run_id":"old","timestamp":"2025-01-01T06:00:00.000001","status":"SUCCESS","metrics":{"errors":[]},"duration_seconds":1.5,"data_file":"x","dry_run":false},
  {"run_id":"new","timestamp":"2025-01-02T06:00:00.000001","status":"FAILED","metrics":{"errors":["boom"]},"duration_seconds":2,"data_file":"x","dry_run":false}
]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewHistory(path, 0)

	latest, err := h.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || latest.RunID != "new" {
		t.Fatalf("Latest = %+v, want run new", latest)
	}

	if err := h.Record(run("newest", base, domain.RunStatusSuccess)); err != nil {
		t.Fatalf("Record over legacy file: %v", err)
	}
	logs, _ := h.List(0)
	if len(logs) != 3 || logs[0].RunID != "newest" || logs[2].RunID != "old" {
		t.Errorf("unexpected history after upgrade: %v", logs)
	}
}

func TestHistory_CorruptFileIsNotOverwritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update_log.json")
	if err := os.WriteFile(path, []byte(`{"logs": [`), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewHistory(path, 0)
	if err := h.Record(run("x", base, domain.RunStatusSuccess)); err == nil {
		t.Fatal("expected error for corrupt history")
	}
	data, _ := os.ReadFile(path)
	if string(data) != `{"logs": [` {
		t.Errorf("corrupt history was rewritten: %s", data)
	}
}

func TestHealth(t *testing.T) {
	threshold := 48 * time.Hour
	now := base.Add(24 * time.Hour)

	tests := []struct {
		name   string
		latest *domain.RunRecord
		want   domain.HealthStatus
	}{
		{name: "no runs", latest: nil, want: domain.HealthNoData},
		{name: "fresh success", latest: run("a", base, domain.RunStatusSuccess), want: domain.HealthHealthy},
		{name: "old success", latest: run("b", base.Add(-72*time.Hour), domain.RunStatusSuccess), want: domain.HealthStale},
		{name: "fresh failure", latest: run("c", base, domain.RunStatusFailed), want: domain.HealthFailed},
		{name: "old failure", latest: run("d", base.Add(-72*time.Hour), domain.RunStatusFailed), want: domain.HealthFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.latest, threshold, now)
			if got.Status != tt.want {
				t.Errorf("status = %s, want %s", got.Status, tt.want)
			}
		})
	}

	h := NewHistory(filepath.Join(t.TempDir(), "update_log.json"), 0)
	res, err := h.Health(threshold, now)
	if err != nil || res.Status != domain.HealthNoData {
		t.Errorf("empty history health = %v, %v", res.Status, err)
	}
}

func TestHistory_SeparateWritersKeepEveryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update_logs.json")

	// Each writer has its own History, as separate sync processes do.
	const writers = 12
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := NewHistory(path, 0)
			errs <- h.Record(run(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute), domain.RunStatusSuccess))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	logs, err := NewHistory(path, 0).List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(logs) != writers {
		t.Errorf("kept %d runs, want %d", len(logs), writers)
	}
	if _, err := os.Stat(lockfile.PathFor(path)); !os.IsNotExist(err) {
		t.Error("history lock left behind")
	}
}

func TestHistory_RecordWaitsForLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update_logs.json")
	held, err := lockfile.Acquire(lockfile.PathFor(path), time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	h := NewHistory(path, 0)
	h.lockWait = 50 * time.Millisecond
	if err := h.Record(run("blocked", base, domain.RunStatusSuccess)); !errors.Is(err, lockfile.ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}

	h.lockWait = 5 * time.Second
	done := make(chan error, 1)
	go func() { done <- h.Record(run("waited", base, domain.RunStatusSuccess)) }()
	time.Sleep(100 * time.Millisecond)
	if err := held.Release(); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Record after release: %v", err)
	}
	latest, err := h.Latest()
	if err != nil || latest == nil || latest.RunID != "waited" {
		t.Errorf("latest = %+v, err = %v", latest, err)
	}
}
