package lockfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquire_Exclusive(t *testing.T) {
	path := PathFor(filepath.Join(t.TempDir(), "con_detailed_tenders.jsonl"))

	l, err := Acquire(path, time.Minute)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := Acquire(path, time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire err = %v, want ErrLocked", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	l2, err := Acquire(path, time.Minute)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = l2.Release()
}

func TestAcquire_TakesOverStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.jsonl.lock")
	if err := os.WriteFile(path, []byte(`{"pid":1,"time":0}`), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(path, 10*time.Minute)
	if err != nil {
		t.Fatalf("Acquire over stale lock: %v", err)
	}
	defer l.Release()
	if Holder(path) == "holder unknown" {
		t.Error("lock file should record the new holder")
	}
}

func TestHeartbeat_RefreshesModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.jsonl.lock")
	l, err := Acquire(path, time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	l.Heartbeat(context.Background(), 10*time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		info, err := os.Stat(path)
		if err == nil && time.Since(info.ModTime()) < time.Minute {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) >= time.Minute {
		t.Errorf("heartbeat did not refresh the lock (err=%v)", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("lock file still present after Release")
	}
}
