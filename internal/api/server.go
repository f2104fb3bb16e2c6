// Package api exposes the hierarchy service over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vaultdrive/vaultdrive/internal/blob"
	"github.com/vaultdrive/vaultdrive/internal/config"
	"github.com/vaultdrive/vaultdrive/internal/drive"
	"github.com/vaultdrive/vaultdrive/internal/events"
	"github.com/vaultdrive/vaultdrive/internal/identity"
	"github.com/vaultdrive/vaultdrive/internal/logging"
	"github.com/vaultdrive/vaultdrive/internal/metrics"
)

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	svc         *drive.Service
	blobs       blob.Backend
	resolver    *blob.Resolver
	broadcaster *events.Broadcaster
	verifier    *identity.Verifier
	cfg         *config.Config
}

// NewServer creates a Server.
func NewServer(
	svc *drive.Service,
	blobs blob.Backend,
	resolver *blob.Resolver,
	broadcaster *events.Broadcaster,
	verifier *identity.Verifier,
	cfg *config.Config,
) *Server {
	return &Server{
		svc:         svc,
		blobs:       blobs,
		resolver:    resolver,
		broadcaster: broadcaster,
		verifier:    verifier,
		cfg:         cfg,
	}
}

// Handler assembles the route table with middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Protected endpoints
	protected := http.NewServeMux()

	// Listing endpoints
	protected.HandleFunc("GET /api/v1/entries", s.handleListEntries)
	protected.HandleFunc("GET /api/v1/folders", s.handleListFolders)
	protected.HandleFunc("GET /api/v1/recent", s.handleListRecent)
	protected.HandleFunc("GET /api/v1/stats", s.handleStats)
	protected.HandleFunc("GET /api/v1/usage", s.handleUsage)

	// Entry endpoints
	protected.HandleFunc("POST /api/v1/entries", s.handleUpload)
	protected.HandleFunc("POST /api/v1/folders", s.handleCreateFolder)
	protected.HandleFunc("GET /api/v1/entries/{id}", s.handleGetEntry)
	protected.HandleFunc("PATCH /api/v1/entries/{id}", s.handlePatchEntry)
	protected.HandleFunc("DELETE /api/v1/entries/{id}", s.handleDeleteEntry)

	// Content endpoints
	protected.HandleFunc("GET /api/v1/blobs/{ref...}", s.handleBlob)

	// SSE endpoint
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)

	mux.Handle("/api/v1/", s.verifier.Middleware(protected))

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// entryView is the JSON shape for entries, with derived locators for files.
type entryView struct {
	*drive.Entry
	ViewURL     string `json:"view_url,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

func (s *Server) view(e *drive.Entry) entryView {
	v := entryView{Entry: e}
	if !e.IsFolder() {
		v.ViewURL = s.resolver.ViewURL(e.BlobRef)
		v.DownloadURL = s.resolver.DownloadURL(e.BlobRef)
	}
	return v
}

func (s *Server) views(entries []*drive.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.view(e))
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	var parentID *string
	if p := r.URL.Query().Get("parent_id"); p != "" {
		parentID = &p
	}

	entries, err := s.svc.ListChildren(r.Context(), parentID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"entries": s.views(entries)})
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.svc.ListFolders(r.Context())
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"folders": s.views(folders)})
}

func (s *Server) handleListRecent(w http.ResponseWriter, r *http.Request) {
	limit := drive.DefaultRecentLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			s.sendError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	files, err := s.svc.ListRecentFiles(r.Context(), limit)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"files": s.views(files)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"used_bytes":     stats.TotalBytes,
		"max_bytes":      s.cfg.MaxTotalStorage,
		"max_file_bytes": s.cfg.MaxFileSize,
		"total_files":    stats.TotalFiles,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Bound the multipart body: file plus a small allowance for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file exceeds maximum size of %d bytes", s.cfg.MaxFileSize))
			return
		}
		s.sendError(w, http.StatusBadRequest, "multipart file field required")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	var parentID *string
	if p := r.FormValue("parent_id"); p != "" {
		parentID = &p
	}
	mimeType := header.Header.Get("Content-Type")

	entry, err := s.svc.UploadFile(r.Context(), drive.Upload{
		Name:     name,
		MimeType: mimeType,
		Size:     header.Size,
		ParentID: parentID,
		Content:  file,
	})
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, s.view(entry))
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string  `json:"name"`
		ParentID *string `json:"parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	entry, err := s.svc.CreateFolder(r.Context(), req.Name, req.ParentID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, s.view(entry))
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.GetEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.view(entry))
}

// handlePatchEntry renames and/or moves an entry. A "parent_id" key present
// in the body means move; null moves to the root.
func (s *Server) handlePatchEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Name     *string          `json:"name"`
		ParentID *json.RawMessage `json:"parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == nil && req.ParentID == nil {
		s.sendError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	var entry *drive.Entry
	var err error

	if req.Name != nil {
		entry, err = s.svc.RenameEntry(r.Context(), id, *req.Name)
		if err != nil {
			s.sendServiceError(w, err)
			return
		}
	}
	if req.ParentID != nil {
		var parentID *string
		if string(*req.ParentID) != "null" {
			var p string
			if err := json.Unmarshal(*req.ParentID, &p); err != nil {
				s.sendError(w, http.StatusBadRequest, "invalid parent_id")
				return
			}
			parentID = &p
		}
		entry, err = s.svc.MoveEntry(r.Context(), id, parentID)
		if err != nil {
			s.sendServiceError(w, err)
			return
		}
	}

	s.sendJSON(w, http.StatusOK, s.view(entry))
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteEntry(r.Context(), r.PathValue("id")); err != nil {
		s.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBlob streams blob content. The trailing path segment selects the
// disposition: /view for inline, /download for attachment.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")

	var disposition string
	switch {
	case strings.HasSuffix(ref, "/view"):
		ref = strings.TrimSuffix(ref, "/view")
		disposition = "inline"
	case strings.HasSuffix(ref, "/download"):
		ref = strings.TrimSuffix(ref, "/download")
		disposition = "attachment"
	default:
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}

	// The lookup is scoped to the caller, so a foreign reference reads as
	// missing.
	entry, err := s.svc.EntryByBlobRef(r.Context(), ref)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	body, size, err := s.blobs.Get(r.Context(), ref)
	if err != nil {
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}
	defer body.Close()

	contentType := entry.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, entry.Name))
	if _, err := io.Copy(w, body); err != nil {
		logging.Warn("blob stream interrupted", zap.String("ref", ref), zap.Error(err))
		return
	}
	metrics.RecordBlobDownload(size)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ownerID, err := identity.ContextIdentity{}.CurrentUser(r.Context())
	if err != nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.OwnerID != ownerID {
				continue
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// sendServiceError maps domain errors to HTTP statuses.
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	var (
		tooLarge     *drive.FileTooLargeError
		exceeded     *drive.QuotaExceededError
		invalid      *drive.InvalidParentError
		inconsistent *drive.InconsistencyError
		backend      *drive.BackendError
	)

	switch {
	case errors.Is(err, drive.ErrAuthentication):
		s.sendError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, drive.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "entry not found")
	case errors.Is(err, drive.ErrFolderNotEmpty):
		s.sendError(w, http.StatusConflict, "folder is not empty")
	case errors.As(err, &tooLarge):
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file size %d exceeds maximum of %d bytes", tooLarge.Size, tooLarge.Limit))
	case errors.As(err, &exceeded):
		s.sendError(w, http.StatusRequestEntityTooLarge, "storage quota exceeded")
	case errors.As(err, &invalid):
		s.sendError(w, http.StatusBadRequest, invalid.Error())
	// An inconsistency often wraps the backend failure that caused it, so it
	// must be matched before the plain backend case.
	case errors.As(err, &inconsistent):
		logging.Error("mutation left inconsistent state", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "operation partially failed, retry is safe")
	case errors.As(err, &backend):
		logging.Error("storage backend failure", zap.Error(err))
		s.sendError(w, http.StatusBadGateway, "storage backend unavailable")
	default:
		logging.Error("request failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": message,
		"code":  code,
	})
}
