// Package storage stores run artifacts in an object backend, either an
// S3-compatible service or a local filesystem directory.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rfvault/rfvault/pkg/config"
)

// MaxKeyLength bounds object keys; S3 limits keys to 1024 bytes.
const MaxKeyLength = 1024

// Backend reads and writes artifact objects without exposing the
// underlying storage details.
type Backend interface {
	// Put writes an object, replacing any existing object at the key,
	// and returns the number of bytes written.
	Put(ctx context.Context, key string, body io.Reader) (int64, error)

	// Get opens an object for reading along with its size.
	// Returns (nil, 0, nil) when the object does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Delete removes an object. Deleting an absent object is not an
	// error, so deletes can be retried freely.
	Delete(ctx context.Context, key string) error

	// List returns every object key under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// New creates a Backend from the storage configuration.
func New(cfg *config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3Backend(cfg.S3), nil
	case "local":
		return NewLocalBackend(cfg.Local)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// ValidateKey rejects object keys that could escape the run's prefix or
// break the backend.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key is empty")
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf(
			"object key exceeds %d characters", MaxKeyLength,
		)
	}

	if strings.Contains(key, "..") {
		return fmt.Errorf("object key must not contain %q", "..")
	}

	if strings.ContainsRune(key, '\x00') {
		return fmt.Errorf("object key must not contain NUL")
	}

	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("object key must be relative")
	}

	return nil
}
