package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("file not found")

// Storage is an object store for identifier images and exported files.
// Backends: local filesystem (demo/testing) and S3 compatible buckets.
type Storage interface {
	// PutFile stores the content under key, replacing any existing object
	PutFile(ctx context.Context, key, contentType string, body io.Reader) error

	// ReadFile opens the object for reading. Returns ErrNotFound when it does not exist
	ReadFile(ctx context.Context, key string) (io.ReadCloser, error)

	// FileExists checks if an object exists and returns its size
	FileExists(ctx context.Context, key string) (exists bool, size int64, err error)

	// DeleteFile removes an object. Deleting a missing object is not an error
	DeleteFile(ctx context.Context, key string) error

	// GeneratePresignedDownloadURL returns a URL the object can be fetched from
	GeneratePresignedDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, error)
}
