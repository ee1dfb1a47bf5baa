package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/timmy/tendersync/internal/domain"
)

const snapshotContentType = "application/x-ndjson"

// SnapshotArchiver uploads each persisted record file under
// <prefix>/<type>/<yyyy-mm-dd>/<run_id>.jsonl.
type SnapshotArchiver struct {
	store  ObjectStorage
	prefix string

	bucketOnce sync.Once
	bucketErr  error
}

// NewSnapshotArchiver wraps an object store. An empty prefix writes at the
// bucket root.
func NewSnapshotArchiver(store ObjectStorage, prefix string) *SnapshotArchiver {
	return &SnapshotArchiver{store: store, prefix: strings.Trim(prefix, "/")}
}

// Archive uploads the file at p and returns its object key. A key that is
// already present is left as is; a run's snapshot is written once.
func (a *SnapshotArchiver) Archive(ctx context.Context, p string, run *domain.RunRecord) (string, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return "", err
	}

	key := SnapshotKey(a.prefix, p, run)
	if exists, err := a.store.Exists(ctx, key); err == nil && exists {
		return key, nil
	}

	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat snapshot: %w", err)
	}

	if err := a.store.Upload(ctx, key, f, info.Size(), snapshotContentType); err != nil {
		return "", err
	}
	return key, nil
}

// ensureBucket creates the bucket on first use when the store supports it.
func (a *SnapshotArchiver) ensureBucket(ctx context.Context) error {
	e, ok := a.store.(bucketEnsurer)
	if !ok {
		return nil
	}
	a.bucketOnce.Do(func() {
		if err := e.EnsureBucket(ctx); err != nil {
			a.bucketErr = fmt.Errorf("ensure bucket: %w", err)
		}
	})
	return a.bucketErr
}

// SnapshotKey builds the object key for a run's record file.
func SnapshotKey(prefix, filePath string, run *domain.RunRecord) string {
	tenderType := run.TenderType
	if tenderType == "" {
		tenderType = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}
	day := run.Timestamp.UTC().Format(domain.DateLayout)
	parts := []string{strings.ToLower(tenderType), day, run.RunID + ".jsonl"}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return path.Join(parts...)
}
