// Package blob defines the Backend interface for file content storage and
// provides backend selection from configuration.
package blob

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Backend is the interface for blob storage backends.
// Implementations handle raw content I/O (local filesystem, S3, MinIO).
// Hierarchy metadata is handled separately by the metadata stores.
type Backend interface {
	// Put uploads content under the given reference.
	Put(ctx context.Context, ref string, body io.Reader, size int64, contentType string) error

	// Get retrieves content by reference, returning the stream and its size.
	Get(ctx context.Context, ref string) (io.ReadCloser, int64, error)

	// Delete removes the content behind a reference. Deleting a reference
	// that does not exist is not an error.
	Delete(ctx context.Context, ref string) error

	// Exists checks whether content exists for a reference.
	Exists(ctx context.Context, ref string) (bool, error)

	// Type returns the backend type identifier ("local", "s3", "minio").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// NewRef mints a fresh blob reference for an owner. References are opaque to
// callers; the owner prefix keeps per-user content grouped in the backend.
func NewRef(ownerID string) string {
	return ownerID + "/" + uuid.New().String()
}
