// Package lockfile guards a record file against concurrent sync processes.
// The lock is a sibling file created with O_EXCL; a lock whose modification
// time is older than its TTL is considered abandoned and taken over. The
// holder refreshes the modification time while it works.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"
)

// ErrLocked is returned when another live process holds the lock.
var ErrLocked = errors.New("another sync is running against this file")

// Lock is a held lock file.
type Lock struct {
	path string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type owner struct {
	PID     int   `json:"pid"`
	Started int64 `json:"time"`
}

// PathFor returns the lock path used for a record file.
func PathFor(dataFile string) string {
	return dataFile + ".lock"
}

// Acquire takes the lock at path. A stale lock (older than ttl) is removed
// and acquisition retried once.
func Acquire(path string, ttl time.Duration) (*Lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = json.NewEncoder(f).Encode(owner{PID: os.Getpid(), Started: time.Now().Unix()})
			if err := f.Close(); err != nil {
				os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", err)
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		info, statErr := os.Stat(path)
		if errors.Is(statErr, fs.ErrNotExist) {
			continue
		}
		if statErr != nil {
			return nil, fmt.Errorf("inspect lock file: %w", statErr)
		}
		if time.Since(info.ModTime()) < ttl {
			return nil, fmt.Errorf("%w (%s)", ErrLocked, Holder(path))
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return nil, ErrLocked
}

// Holder describes the process recorded in the lock file, for error messages.
func Holder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "holder unknown"
	}
	var o owner
	if json.Unmarshal(data, &o) != nil || o.PID == 0 {
		return "holder unknown"
	}
	return fmt.Sprintf("pid %d since %s", o.PID, time.Unix(o.Started, 0).UTC().Format(time.RFC3339))
}

// Heartbeat refreshes the lock's modification time every interval until
// Release is called or ctx is done.
func (l *Lock) Heartbeat(ctx context.Context, interval time.Duration) {
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				now := time.Now()
				_ = os.Chtimes(l.path, now, now)
			case <-l.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Release stops the heartbeat and removes the lock file.
func (l *Lock) Release() error {
	l.stopOnce.Do(func() {
		if l.stop != nil {
			close(l.stop)
			<-l.done
		}
	})
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
