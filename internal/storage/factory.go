package storage

import (
	"strings"

	"github.com/timmy/tendersync/internal/config"
)

// NewStorage creates an ObjectStorage instance based on the configuration.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	s3cfg := &S3Config{
		Type:      StorageType(cfg.Type),
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
	}
	// Auto-detect storage type if not specified
	if s3cfg.Type == "" {
		s3cfg.Type = detectStorageType(cfg.Endpoint)
	}

	return NewS3Storage(s3cfg)
}

// detectStorageType attempts to detect the storage type from the endpoint
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case endpoint == "":
		return StorageTypeS3
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
