package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rfvault/rfvault/pkg/config"
)

// Compile-time interface check.
var _ Backend = (*localBackend)(nil)

type localBackend struct {
	root string
}

// NewLocalBackend creates a Backend on a local filesystem directory.
func NewLocalBackend(cfg *config.LocalStorageConfig) (Backend, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}

	return &localBackend{root: root}, nil
}

func (b *localBackend) Put(
	_ context.Context, key string, body io.Reader,
) (int64, error) {
	dst := filepath.Join(b.root, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("creating object directory: %w", err)
	}

	// Write to a temp file in the same directory, then rename, so a
	// reader never observes a half-written object.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp object: %w", err)
	}

	written, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return 0, fmt.Errorf("writing object %q: %w", key, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return 0, fmt.Errorf("closing object %q: %w", key, err)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())

		return 0, fmt.Errorf("renaming object %q: %w", key, err)
	}

	return written, nil
}

// Get opens the object. Returns (nil, 0, nil) when the file does not
// exist.
func (b *localBackend) Get(
	_ context.Context, key string,
) (io.ReadCloser, int64, error) {
	src := filepath.Join(b.root, filepath.FromSlash(key))

	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}

		return nil, 0, fmt.Errorf("opening object %q: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, 0, fmt.Errorf("statting object %q: %w", key, err)
	}

	return f, info.Size(), nil
}

// Delete removes the object file. An absent file is not an error.
func (b *localBackend) Delete(_ context.Context, key string) error {
	src := filepath.Join(b.root, filepath.FromSlash(key))

	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting object %q: %w", key, err)
	}

	return nil
}

// List walks the root and returns every object key under the prefix,
// using forward slashes regardless of platform.
func (b *localBackend) List(
	_ context.Context, prefix string,
) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(
		b.root,
		func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if d.IsDir() {
				return nil
			}

			// Skip in-flight temp files from Put.
			if strings.HasPrefix(d.Name(), ".put-") {
				return nil
			}

			rel, err := filepath.Rel(b.root, path)
			if err != nil {
				return err
			}

			key := filepath.ToSlash(rel)
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}

			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("listing objects under %q: %w", prefix, err)
	}

	return keys, nil
}
