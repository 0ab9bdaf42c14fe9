// Package storage persists finalized script artifacts outside the database,
// so generated tests can be pulled by CI without going through the API.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrFileNotFound is returned when a requested artifact does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidPath is returned when a path is empty or escapes the base
	// directory.
	ErrInvalidPath = errors.New("invalid path")
)

// BlobStorage stores and retrieves opaque artifacts by path.
type BlobStorage interface {
	// Upload stores data from the reader at the specified path.
	Upload(ctx context.Context, path string, reader io.Reader) error

	// Download retrieves data from the specified path.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the data at the specified path.
	Delete(ctx context.Context, path string) error

	// Exists checks if data exists at the specified path.
	Exists(ctx context.Context, path string) (bool, error)
}

// Config selects and parameterizes a BlobStorage implementation.
type Config struct {
	Type     string // "local" or "s3"
	BaseDir  string // local: artifact root directory
	S3Bucket string
	S3Region string
}

// New creates a BlobStorage implementation from configuration.
func New(cfg Config) (BlobStorage, error) {
	switch strings.ToLower(cfg.Type) {
	case "local":
		if cfg.BaseDir == "" {
			return nil, fmt.Errorf("base_dir is required for local storage")
		}
		return NewLocalStorage(cfg.BaseDir)

	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("bucket is required for S3 storage")
		}
		if cfg.S3Region == "" {
			return nil, fmt.Errorf("region is required for S3 storage")
		}
		return NewS3Storage(cfg.S3Bucket, cfg.S3Region)

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// ScriptPath returns the canonical artifact path for a finalized version's
// script.
func ScriptPath(caseID string, versionNo int) string {
	return fmt.Sprintf("scripts/%s/v%d.py", caseID, versionNo)
}
