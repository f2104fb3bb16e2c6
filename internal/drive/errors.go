package drive

import "fmt"

// Sentinel errors for common failure modes.
var (
	// ErrNotFound is returned when an entry does not exist, or when the
	// caller is not its owner. The two cases are indistinguishable on
	// purpose so that entry IDs do not leak across accounts.
	ErrNotFound = fmt.Errorf("entry not found")

	// ErrAuthentication is returned when no verified identity is present.
	ErrAuthentication = fmt.Errorf("authentication required")

	// ErrFolderNotEmpty is returned when deleting a folder that still has
	// children.
	ErrFolderNotEmpty = fmt.Errorf("folder not empty")
)

// InvalidParentError is returned when a move or create names a parent that
// cannot hold the entry.
type InvalidParentError struct {
	ParentID string
	Reason   string
}

func (e *InvalidParentError) Error() string {
	return fmt.Sprintf("invalid parent %q: %s", e.ParentID, e.Reason)
}

// FileTooLargeError is returned when a single file exceeds the per-file
// ceiling.
type FileTooLargeError struct {
	Size  int64
	Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file size %d exceeds limit %d", e.Size, e.Limit)
}

// QuotaExceededError is returned when an upload would push account usage past
// the total-storage ceiling.
type QuotaExceededError struct {
	Used      int64
	Requested int64
	Limit     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded: used %d + requested %d > limit %d", e.Used, e.Requested, e.Limit)
}

// InconsistencyError reports a mutation that left metadata and blob storage
// out of step, with enough detail to reconcile by hand.
type InconsistencyError struct {
	Op      string
	EntryID string
	BlobRef string
	Err     error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%s left inconsistent state (entry %s, blob %s): %v", e.Op, e.EntryID, e.BlobRef, e.Err)
}

func (e *InconsistencyError) Unwrap() error { return e.Err }

// BackendError wraps a failure from a storage or metadata backend.
type BackendError struct {
	System string
	Err    error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.System, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
