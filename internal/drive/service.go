package drive

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/vaultdrive/vaultdrive/internal/blob"
	"github.com/vaultdrive/vaultdrive/internal/events"
	"github.com/vaultdrive/vaultdrive/internal/logging"
	"github.com/vaultdrive/vaultdrive/internal/metrics"
)

// maxDepth bounds the ancestor walk during move validation. Hierarchies this
// deep do not occur in practice; hitting the bound means a corrupt parent
// chain.
const maxDepth = 256

// DefaultRecentLimit is the number of recent files returned when a caller
// does not ask for a specific limit.
const DefaultRecentLimit = 10

// Upload describes an incoming file.
type Upload struct {
	Name     string
	MimeType string
	Size     int64
	ParentID *string
	Content  io.Reader
}

// Service coordinates hierarchy mutations across the metadata store and the
// blob backend. Mutations are not transactional across the two systems; the
// ordering inside each operation bounds the inconsistency window to orphaned
// blobs, never dangling metadata.
type Service struct {
	repo        Repository
	blobs       blob.Backend
	capacity    CapacityChecker
	identity    Identity
	broadcaster *events.Broadcaster
}

// NewService creates a Service.
func NewService(repo Repository, blobs blob.Backend, capacity CapacityChecker, identity Identity, broadcaster *events.Broadcaster) *Service {
	return &Service{
		repo:        repo,
		blobs:       blobs,
		capacity:    capacity,
		identity:    identity,
		broadcaster: broadcaster,
	}
}

// owned fetches an entry and verifies the caller owns it. A foreign entry is
// reported as ErrNotFound so IDs do not leak across accounts.
func (s *Service) owned(ctx context.Context, ownerID, id string) (*Entry, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return e, nil
}

// validateParent checks that parentID can hold a new child for ownerID.
func (s *Service) validateParent(ctx context.Context, ownerID string, parentID *string) error {
	if parentID == nil {
		return nil
	}
	parent, err := s.repo.Get(ctx, *parentID)
	if err != nil {
		if err == ErrNotFound {
			return &InvalidParentError{ParentID: *parentID, Reason: "does not exist"}
		}
		return fmt.Errorf("fetch parent: %w", err)
	}
	if parent.OwnerID != ownerID {
		return &InvalidParentError{ParentID: *parentID, Reason: "does not exist"}
	}
	if !parent.IsFolder() {
		return &InvalidParentError{ParentID: *parentID, Reason: "not a folder"}
	}
	return nil
}

// CreateFolder creates a folder under parentID (nil for the root).
func (s *Service) CreateFolder(ctx context.Context, name string, parentID *string) (*Entry, error) {
	ownerID, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("folder name is required")
	}
	if err := s.validateParent(ctx, ownerID, parentID); err != nil {
		metrics.RecordMutation("create_folder", false)
		return nil, err
	}

	e := &Entry{
		OwnerID:  ownerID,
		Name:     name,
		Kind:     KindFolder,
		ParentID: parentID,
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		metrics.RecordMutation("create_folder", false)
		return nil, fmt.Errorf("insert folder: %w", err)
	}

	metrics.RecordMutation("create_folder", true)
	s.broadcaster.Publish(events.Event{
		Type:     events.EventCreated,
		EntryID:  e.ID,
		OwnerID:  ownerID,
		Name:     e.Name,
		ParentID: e.ParentID,
	})
	return e, nil
}

// UploadFile stores file content and records its metadata. Checks run in a
// fixed order: identity, per-file size, account capacity, then the blob
// write, then the metadata insert. A rejected upload leaves no trace in
// either system.
func (s *Service) UploadFile(ctx context.Context, up Upload) (*Entry, error) {
	ownerID, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if up.Name == "" {
		return nil, fmt.Errorf("file name is required")
	}

	if err := s.capacity.CheckFileSize(up.Size); err != nil {
		metrics.RecordMutation("upload", false)
		return nil, err
	}
	if err := s.capacity.CheckCapacity(ctx, ownerID, up.Size); err != nil {
		metrics.RecordMutation("upload", false)
		return nil, err
	}
	if err := s.validateParent(ctx, ownerID, up.ParentID); err != nil {
		metrics.RecordMutation("upload", false)
		return nil, err
	}

	// The blob write is the first irreversible step; give a cancelled
	// request its last clean exit here.
	if err := ctx.Err(); err != nil {
		metrics.RecordMutation("upload", false)
		return nil, err
	}

	ref := blob.NewRef(ownerID)
	if err := s.blobs.Put(ctx, ref, up.Content, up.Size, up.MimeType); err != nil {
		metrics.RecordMutation("upload", false)
		return nil, &BackendError{System: "blob", Err: err}
	}
	metrics.RecordBlobUpload(up.Size)

	e := &Entry{
		OwnerID:  ownerID,
		Name:     up.Name,
		Kind:     KindFile,
		ParentID: up.ParentID,
		Size:     up.Size,
		MimeType: up.MimeType,
		BlobRef:  ref,
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		// The blob is now orphaned. Log the reference for reconciliation
		// and surface the failure; re-running the upload is safe.
		metrics.RecordMutation("upload", false)
		metrics.RecordInconsistency()
		logging.Error("metadata insert failed after blob write, blob orphaned",
			zap.String("blob_ref", ref),
			zap.String("owner_id", ownerID),
			zap.Error(err))
		return nil, &InconsistencyError{Op: "upload", BlobRef: ref, Err: err}
	}

	metrics.RecordMutation("upload", true)
	s.broadcaster.Publish(events.Event{
		Type:     events.EventCreated,
		EntryID:  e.ID,
		OwnerID:  ownerID,
		Name:     e.Name,
		ParentID: e.ParentID,
		Size:     e.Size,
	})
	return e, nil
}

// DeleteEntry removes an entry. Files lose their blob first and metadata
// second, so a partial failure can orphan a blob but never leave metadata
// pointing at deleted content. Folders must be empty.
func (s *Service) DeleteEntry(ctx context.Context, id string) error {
	ownerID, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return err
	}
	e, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if e.IsFolder() {
		n, err := s.repo.CountChildren(ctx, id)
		if err != nil {
			metrics.RecordMutation("delete", false)
			return fmt.Errorf("count children of %s: %w", id, err)
		}
		if n > 0 {
			metrics.RecordMutation("delete", false)
			return ErrFolderNotEmpty
		}
	} else {
		if err := s.blobs.Delete(ctx, e.BlobRef); err != nil {
			// Abort before touching metadata; the entry stays fully intact.
			metrics.RecordMutation("delete", false)
			return &BackendError{System: "blob", Err: err}
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		metrics.RecordMutation("delete", false)
		if !e.IsFolder() {
			metrics.RecordInconsistency()
			logging.Error("metadata delete failed after blob delete",
				zap.String("entry_id", id),
				zap.String("blob_ref", e.BlobRef),
				zap.Error(err))
			return &InconsistencyError{Op: "delete", EntryID: id, BlobRef: e.BlobRef, Err: err}
		}
		return fmt.Errorf("delete entry %s: %w", id, err)
	}

	metrics.RecordMutation("delete", true)
	s.broadcaster.Publish(events.Event{
		Type:    events.EventDeleted,
		EntryID: id,
		OwnerID: ownerID,
		Name:    e.Name,
	})
	return nil
}

// MoveEntry reparents an entry. Only the parent pointer changes; content,
// size and name are untouched and no capacity check runs.
func (s *Service) MoveEntry(ctx context.Context, id string, newParentID *string) (*Entry, error) {
	ownerID, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	e, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if err := s.validateParent(ctx, ownerID, newParentID); err != nil {
		metrics.RecordMutation("move", false)
		return nil, err
	}

	if newParentID != nil {
		if *newParentID == id {
			metrics.RecordMutation("move", false)
			return nil, &InvalidParentError{ParentID: *newParentID, Reason: "entry cannot be its own parent"}
		}
		if e.IsFolder() {
			if err := s.checkNoCycle(ctx, id, *newParentID); err != nil {
				metrics.RecordMutation("move", false)
				return nil, err
			}
		}
	}

	updated, err := s.repo.Update(ctx, id, Patch{ParentID: newParentID, SetParent: true})
	if err != nil {
		metrics.RecordMutation("move", false)
		return nil, fmt.Errorf("move entry %s: %w", id, err)
	}

	metrics.RecordMutation("move", true)
	s.broadcaster.Publish(events.Event{
		Type:     events.EventMoved,
		EntryID:  id,
		OwnerID:  ownerID,
		Name:     updated.Name,
		ParentID: updated.ParentID,
	})
	return updated, nil
}

// checkNoCycle walks up from newParentID and rejects the move if it would
// place the folder inside its own subtree.
func (s *Service) checkNoCycle(ctx context.Context, id, newParentID string) error {
	cur := newParentID
	for depth := 0; depth < maxDepth; depth++ {
		if cur == id {
			return &InvalidParentError{ParentID: newParentID, Reason: "would create a cycle"}
		}
		ancestor, err := s.repo.Get(ctx, cur)
		if err != nil {
			if err == ErrNotFound {
				return nil
			}
			return fmt.Errorf("walk ancestors: %w", err)
		}
		if ancestor.ParentID == nil {
			return nil
		}
		cur = *ancestor.ParentID
	}
	return fmt.Errorf("parent chain of %s exceeds max depth", newParentID)
}

// RenameEntry changes an entry's display name.
func (s *Service) RenameEntry(ctx context.Context, id, name string) (*Entry, error) {
	ownerID, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, id, Patch{Name: &name})
	if err != nil {
		metrics.RecordMutation("rename", false)
		return nil, fmt.Errorf("rename entry %s: %w", id, err)
	}

	metrics.RecordMutation("rename", true)
	s.broadcaster.Publish(events.Event{
		Type:     events.EventRenamed,
		EntryID:  id,
		OwnerID:  ownerID,
		Name:     updated.Name,
		ParentID: updated.ParentID,
	})
	return updated, nil
}

// EntryByBlobRef resolves the caller's entry for a blob reference. Foreign
// references come back as ErrNotFound.
func (s *Service) EntryByBlobRef(ctx context.Context, ref string) (*Entry, error) {
	ownerID, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByBlobRef(ctx, ownerID, ref)
}

// GetEntry fetches a single entry owned by the caller.
func (s *Service) GetEntry(ctx context.Context, id string) (*Entry, error) {
	ownerID, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.owned(ctx, ownerID, id)
}

// ListChildren lists the caller's entries under parentID (nil for the root).
func (s *Service) ListChildren(ctx context.Context, parentID *string) ([]*Entry, error) {
	ownerID, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListChildren(ctx, ownerID, parentID)
}

// ListFolders lists all of the caller's folders.
func (s *Service) ListFolders(ctx context.Context) ([]*Entry, error) {
	ownerID, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListFolders(ctx, ownerID)
}

// ListRecentFiles lists the caller's most recently updated files. A limit of
// zero or less falls back to DefaultRecentLimit.
func (s *Service) ListRecentFiles(ctx context.Context, limit int) ([]*Entry, error) {
	ownerID, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return s.repo.ListRecentFiles(ctx, ownerID, limit)
}

// Stats summarizes the caller's storage usage by category.
func (s *Service) Stats(ctx context.Context) (*StorageStats, error) {
	ownerID, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.AggregateStats(ctx, ownerID)
}
