// Package local provides a local filesystem blob backend.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Backend stores blobs as files under a root directory.
type Backend struct {
	rootPath string
}

// New creates a local filesystem backend rooted at rootPath, creating the
// root if needed.
func New(rootPath string) (*Backend, error) {
	if rootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}

	info, err := os.Stat(rootPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat root path %s: %w", rootPath, err)
		}
		if mkErr := os.MkdirAll(rootPath, 0755); mkErr != nil {
			return nil, fmt.Errorf("create root path %s: %w", rootPath, mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", rootPath)
	}

	return &Backend{rootPath: rootPath}, nil
}

func (b *Backend) fullPath(ref string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(ref))
}

// Put writes content to the local filesystem atomically.
func (b *Backend) Put(_ context.Context, ref string, body io.Reader, size int64, _ string) error {
	path := b.fullPath(ref)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", ref, err)
	}

	// Write to temp file then rename for atomicity
	tmp, err := os.CreateTemp(dir, ".vaultdrive-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", ref, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", ref, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", ref, err)
	}

	return nil
}

// Get opens a blob for reading.
func (b *Backend) Get(_ context.Context, ref string) (io.ReadCloser, int64, error) {
	path := b.fullPath(ref)
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", ref, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", ref, err)
	}

	return f, info.Size(), nil
}

// Delete removes a blob from the local filesystem.
func (b *Backend) Delete(_ context.Context, ref string) error {
	err := os.Remove(b.fullPath(ref))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

// Exists checks whether a blob exists on the local filesystem.
func (b *Backend) Exists(_ context.Context, ref string) (bool, error) {
	_, err := os.Stat(b.fullPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", ref, err)
	}
	return true, nil
}

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }
