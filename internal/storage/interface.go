package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the object storage operations the archiver needs
type ObjectStorage interface {
	// Upload uploads an object to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)
}

// bucketEnsurer is implemented by stores that can create their bucket.
type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}
