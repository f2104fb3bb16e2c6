// Package drive holds the core domain types and the mutation service for the
// file hierarchy.
package drive

import (
	"context"
	"time"

	"github.com/vaultdrive/vaultdrive/internal/category"
)

// Kind distinguishes files from folders.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Entry is a node in a user's hierarchy. Files carry a size, content type and
// a blob reference; folders carry none of those. A nil ParentID means the
// entry sits at the hierarchy root.
type Entry struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	ParentID  *string   `json:"parent_id"`
	Size      int64     `json:"size,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	BlobRef   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFolder reports whether the entry is a folder.
func (e *Entry) IsFolder() bool {
	return e.Kind == KindFolder
}

// Category returns the entry's category as derived by the given classifier.
// Folders have no category.
func (e *Entry) Category(c *category.Classifier) category.Category {
	return c.Classify(e.MimeType)
}

// CategoryStats aggregates file count and bytes for one category.
type CategoryStats struct {
	Count int64 `json:"count"`
	Bytes int64 `json:"bytes"`
}

// StorageStats is a per-user usage summary. Folders contribute nothing.
type StorageStats struct {
	TotalFiles int64                                `json:"total_files"`
	TotalBytes int64                                `json:"total_bytes"`
	Categories map[category.Category]*CategoryStats `json:"categories"`
}

// Patch describes a partial update to an entry. Nil fields are left
// untouched. SetParent distinguishes "move to root" (SetParent true,
// ParentID nil) from "do not touch the parent" (SetParent false).
type Patch struct {
	Name      *string
	ParentID  *string
	SetParent bool
}

// Repository is the metadata store for hierarchy entries.
type Repository interface {
	// Insert persists a new entry. The entry's ID must be set by the store
	// and is returned on the entry itself.
	Insert(ctx context.Context, e *Entry) error

	// Get fetches an entry by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Entry, error)

	// GetByBlobRef fetches the owner's entry holding the given blob
	// reference. Returns ErrNotFound if absent or owned by someone else.
	GetByBlobRef(ctx context.Context, ownerID, ref string) (*Entry, error)

	// Update applies a patch and returns the updated entry. Returns
	// ErrNotFound if absent.
	Update(ctx context.Context, id string, p Patch) (*Entry, error)

	// Delete removes an entry's metadata. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// ListChildren returns the direct children of parentID for an owner,
	// most recently updated first. A nil parentID lists the root.
	ListChildren(ctx context.Context, ownerID string, parentID *string) ([]*Entry, error)

	// ListFolders returns all folders owned by ownerID.
	ListFolders(ctx context.Context, ownerID string) ([]*Entry, error)

	// ListRecentFiles returns the owner's most recently updated files,
	// capped at limit. A limit of zero or less means DefaultRecentLimit.
	ListRecentFiles(ctx context.Context, ownerID string, limit int) ([]*Entry, error)

	// AggregateStats summarizes the owner's file usage. The scan behind it
	// is capped, so the summary is approximate for very large accounts.
	AggregateStats(ctx context.Context, ownerID string) (*StorageStats, error)

	// CountChildren returns the number of direct children of an entry.
	CountChildren(ctx context.Context, id string) (int64, error)
}

// Identity yields the authenticated user for a request context.
type Identity interface {
	// CurrentUser returns the caller's user ID, or ErrAuthentication when
	// the context carries no verified identity.
	CurrentUser(ctx context.Context) (string, error)
}

// CapacityChecker gates uploads against per-file and per-account limits.
type CapacityChecker interface {
	// CheckFileSize rejects files above the per-file ceiling.
	CheckFileSize(size int64) error

	// CheckCapacity rejects uploads that would push the owner's total
	// usage past the account ceiling.
	CheckCapacity(ctx context.Context, ownerID string, additional int64) error
}
