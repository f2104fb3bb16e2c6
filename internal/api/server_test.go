package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vaultdrive/vaultdrive/internal/blob"
	"github.com/vaultdrive/vaultdrive/internal/category"
	"github.com/vaultdrive/vaultdrive/internal/config"
	"github.com/vaultdrive/vaultdrive/internal/drive"
	"github.com/vaultdrive/vaultdrive/internal/events"
	"github.com/vaultdrive/vaultdrive/internal/identity"
	"github.com/vaultdrive/vaultdrive/internal/quota"
)

const testSecret = "api-test-secret"

// memRepo is a minimal in-memory drive.Repository for handler tests.
type memRepo struct {
	mu         sync.Mutex
	entries    map[string]*drive.Entry
	nextID     int
	classifier *category.Classifier
}

func newMemRepo() *memRepo {
	return &memRepo{
		entries: make(map[string]*drive.Entry),
		classifier: category.NewClassifier(
			config.DefaultDocumentMimeTypes,
			config.DefaultImageMimeTypes,
			config.DefaultVideoMimeTypes,
		),
	}
}

func (r *memRepo) Insert(ctx context.Context, e *drive.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = "e" + strconv.Itoa(r.nextID)
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	cp := *e
	r.entries[e.ID] = &cp
	return nil
}

func (r *memRepo) Get(ctx context.Context, id string) (*drive.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, drive.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memRepo) GetByBlobRef(ctx context.Context, ownerID, ref string) (*drive.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.OwnerID == ownerID && e.BlobRef == ref {
			cp := *e
			return &cp, nil
		}
	}
	return nil, drive.ErrNotFound
}

func (r *memRepo) Update(ctx context.Context, id string, p drive.Patch) (*drive.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, drive.ErrNotFound
	}
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.SetParent {
		e.ParentID = p.ParentID
	}
	e.UpdatedAt = time.Now()
	cp := *e
	return &cp, nil
}

func (r *memRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return drive.ErrNotFound
	}
	delete(r.entries, id)
	return nil
}

func (r *memRepo) ListChildren(ctx context.Context, ownerID string, parentID *string) ([]*drive.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*drive.Entry{}
	for _, e := range r.entries {
		if e.OwnerID != ownerID {
			continue
		}
		match := (e.ParentID == nil && parentID == nil) ||
			(e.ParentID != nil && parentID != nil && *e.ParentID == *parentID)
		if match {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) ListFolders(ctx context.Context, ownerID string) ([]*drive.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*drive.Entry{}
	for _, e := range r.entries {
		if e.OwnerID == ownerID && e.IsFolder() {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) ListRecentFiles(ctx context.Context, ownerID string, limit int) ([]*drive.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*drive.Entry{}
	for _, e := range r.entries {
		if e.OwnerID == ownerID && !e.IsFolder() {
			cp := *e
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) AggregateStats(ctx context.Context, ownerID string) (*drive.StorageStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &drive.StorageStats{Categories: make(map[category.Category]*drive.CategoryStats)}
	for _, c := range category.Categories() {
		stats.Categories[c] = &drive.CategoryStats{}
	}
	for _, e := range r.entries {
		if e.OwnerID != ownerID || e.IsFolder() {
			continue
		}
		stats.TotalFiles++
		stats.TotalBytes += e.Size
		cat := r.classifier.Classify(e.MimeType)
		stats.Categories[cat].Count++
		stats.Categories[cat].Bytes += e.Size
	}
	return stats, nil
}

func (r *memRepo) CountChildren(ctx context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.entries {
		if e.ParentID != nil && *e.ParentID == id {
			n++
		}
	}
	return n, nil
}

// memBlob is a minimal in-memory blob backend.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (b *memBlob) Put(ctx context.Context, ref string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.objects[ref] = data
	b.mu.Unlock()
	return nil
}

func (b *memBlob) Get(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	b.mu.Lock()
	data, ok := b.objects[ref]
	b.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("no such object %s", ref)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (b *memBlob) Delete(ctx context.Context, ref string) error {
	b.mu.Lock()
	delete(b.objects, ref)
	b.mu.Unlock()
	return nil
}

func (b *memBlob) Exists(ctx context.Context, ref string) (bool, error) {
	b.mu.Lock()
	_, ok := b.objects[ref]
	b.mu.Unlock()
	return ok, nil
}

func (b *memBlob) Type() string { return "mem" }
func (b *memBlob) Close() error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *memRepo, *memBlob) {
	t.Helper()

	cfg := &config.Config{
		PublicBaseURL:   "http://drive.test",
		MaxFileSize:     50 * 1024 * 1024,
		MaxTotalStorage: 500 * 1024 * 1024,
	}

	repo := newMemRepo()
	blobs := newMemBlob()
	enforcer := quota.NewEnforcer(repo, cfg.MaxFileSize, cfg.MaxTotalStorage)
	broadcaster := events.NewBroadcaster()

	verifier, err := identity.NewVerifier(context.Background(), identity.Config{JWTSecret: testSecret})
	if err != nil {
		t.Fatal(err)
	}

	resolver, err := blob.NewResolver(cfg.PublicBaseURL)
	if err != nil {
		t.Fatal(err)
	}

	svc := drive.NewService(repo, blobs, enforcer, identity.ContextIdentity{}, broadcaster)
	server := NewServer(svc, blobs, resolver, broadcaster, verifier, cfg)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, repo, blobs
}

func authToken(t *testing.T, userID string) string {
	t.Helper()
	claims := &identity.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func uploadMultipart(t *testing.T, url, token, name, contentType string, content []byte, parentID string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, name)}
	h["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if parentID != "" {
		mw.WriteField("parent_id", parentID)
	}
	mw.Close()

	req, err := http.NewRequest("POST", url+"/api/v1/entries", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeEntry(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestHealthEndpointUnauthenticated(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/entries")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestUploadAndList(t *testing.T) {
	ts, _, blobs := newTestServer(t)
	token := authToken(t, "user-1")

	resp := uploadMultipart(t, ts.URL, token, "report.pdf", "application/pdf", []byte("content"), "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	entry := decodeEntry(t, resp)
	if entry["name"] != "report.pdf" {
		t.Errorf("name = %v, want report.pdf", entry["name"])
	}
	if v, _ := entry["view_url"].(string); v == "" {
		t.Error("expected derived view locator on file entry")
	}
	if d, _ := entry["download_url"].(string); d == "" {
		t.Error("expected derived download locator on file entry")
	}
	if len(blobs.objects) != 1 {
		t.Errorf("expected 1 blob, got %d", len(blobs.objects))
	}

	resp = doJSON(t, "GET", ts.URL+"/api/v1/entries", token, nil)
	body := decodeEntry(t, resp)
	entries := body["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("listing = %d entries, want 1", len(entries))
	}
}

func TestCreateFolderAndNest(t *testing.T) {
	ts, _, _ := newTestServer(t)
	token := authToken(t, "user-1")

	resp := doJSON(t, "POST", ts.URL+"/api/v1/folders", token, map[string]any{"name": "Docs"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create folder status = %d, want 201", resp.StatusCode)
	}
	folder := decodeEntry(t, resp)
	folderID := folder["id"].(string)

	resp = uploadMultipart(t, ts.URL, token, "nested.txt", "text/plain", []byte("x"), folderID)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("nested upload status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	// Root listing holds only the folder.
	resp = doJSON(t, "GET", ts.URL+"/api/v1/entries", token, nil)
	body := decodeEntry(t, resp)
	if n := len(body["entries"].([]any)); n != 1 {
		t.Errorf("root listing = %d entries, want 1", n)
	}

	// The folder listing holds the file.
	resp = doJSON(t, "GET", ts.URL+"/api/v1/entries?parent_id="+folderID, token, nil)
	body = decodeEntry(t, resp)
	if n := len(body["entries"].([]any)); n != 1 {
		t.Errorf("folder listing = %d entries, want 1", n)
	}
}

func TestPatchMoveAndRename(t *testing.T) {
	ts, _, _ := newTestServer(t)
	token := authToken(t, "user-1")

	folder := decodeEntry(t, doJSON(t, "POST", ts.URL+"/api/v1/folders", token, map[string]any{"name": "Docs"}))
	file := decodeEntry(t, uploadMultipart(t, ts.URL, token, "a.txt", "text/plain", []byte("x"), ""))

	fileID := file["id"].(string)
	folderID := folder["id"].(string)

	resp := doJSON(t, "PATCH", ts.URL+"/api/v1/entries/"+fileID, token,
		map[string]any{"name": "b.txt", "parent_id": folderID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d, want 200", resp.StatusCode)
	}
	patched := decodeEntry(t, resp)
	if patched["name"] != "b.txt" {
		t.Errorf("name = %v, want b.txt", patched["name"])
	}
	if patched["parent_id"] != folderID {
		t.Errorf("parent_id = %v, want %v", patched["parent_id"], folderID)
	}

	// Explicit null moves back to the root.
	resp = doJSON(t, "PATCH", ts.URL+"/api/v1/entries/"+fileID, token,
		map[string]any{"parent_id": nil})
	moved := decodeEntry(t, resp)
	if moved["parent_id"] != nil {
		t.Errorf("parent_id = %v, want null", moved["parent_id"])
	}
}

func TestDeleteEntry(t *testing.T) {
	ts, _, blobs := newTestServer(t)
	token := authToken(t, "user-1")

	file := decodeEntry(t, uploadMultipart(t, ts.URL, token, "a.txt", "text/plain", []byte("x"), ""))
	fileID := file["id"].(string)

	resp := doJSON(t, "DELETE", ts.URL+"/api/v1/entries/"+fileID, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	if len(blobs.objects) != 0 {
		t.Error("expected blob removed with entry")
	}

	resp = doJSON(t, "GET", ts.URL+"/api/v1/entries/"+fileID, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteNonEmptyFolderConflict(t *testing.T) {
	ts, _, _ := newTestServer(t)
	token := authToken(t, "user-1")

	folder := decodeEntry(t, doJSON(t, "POST", ts.URL+"/api/v1/folders", token, map[string]any{"name": "Docs"}))
	folderID := folder["id"].(string)
	uploadMultipart(t, ts.URL, token, "a.txt", "text/plain", []byte("x"), folderID).Body.Close()

	resp := doJSON(t, "DELETE", ts.URL+"/api/v1/entries/"+folderID, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("delete non-empty folder = %d, want 409", resp.StatusCode)
	}
}

func TestInvalidParentBadRequest(t *testing.T) {
	ts, _, _ := newTestServer(t)
	token := authToken(t, "user-1")

	resp := uploadMultipart(t, ts.URL, token, "a.txt", "text/plain", []byte("x"), "no-such-folder")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid parent = %d, want 400", resp.StatusCode)
	}
}

func TestStatsAndUsage(t *testing.T) {
	ts, _, _ := newTestServer(t)
	token := authToken(t, "user-1")

	uploadMultipart(t, ts.URL, token, "a.pdf", "application/pdf", []byte("12345"), "").Body.Close()
	uploadMultipart(t, ts.URL, token, "b.png", "image/png", []byte("123"), "").Body.Close()

	resp := doJSON(t, "GET", ts.URL+"/api/v1/stats", token, nil)
	stats := decodeEntry(t, resp)
	if stats["total_files"].(float64) != 2 {
		t.Errorf("total_files = %v, want 2", stats["total_files"])
	}
	cats := stats["categories"].(map[string]any)
	docs := cats["documents"].(map[string]any)
	if docs["count"].(float64) != 1 || docs["bytes"].(float64) != 5 {
		t.Errorf("documents = %v, want count 1 bytes 5", docs)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/v1/usage", token, nil)
	usage := decodeEntry(t, resp)
	if usage["used_bytes"].(float64) != 8 {
		t.Errorf("used_bytes = %v, want 8", usage["used_bytes"])
	}
	if usage["max_bytes"].(float64) != 500*1024*1024 {
		t.Errorf("max_bytes = %v, want 500 MiB", usage["max_bytes"])
	}
}

func TestBlobStreamScopedToOwner(t *testing.T) {
	ts, _, _ := newTestServer(t)
	owner := authToken(t, "user-1")
	other := authToken(t, "user-2")

	file := decodeEntry(t, uploadMultipart(t, ts.URL, owner, "a.txt", "text/plain", []byte("secret"), ""))
	viewURL := file["view_url"].(string)
	// Locators are derived against PUBLIC_BASE_URL; rebase onto the test server.
	path := viewURL[len("http://drive.test"):]

	resp := doJSON(t, "GET", ts.URL+path, owner, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner view = %d, want 200", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "secret" {
		t.Errorf("content = %q, want secret", data)
	}

	resp = doJSON(t, "GET", ts.URL+path, other, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign view = %d, want 404", resp.StatusCode)
	}
}

func TestCrossUserIsolation(t *testing.T) {
	ts, _, _ := newTestServer(t)
	alice := authToken(t, "alice")
	bob := authToken(t, "bob")

	file := decodeEntry(t, uploadMultipart(t, ts.URL, alice, "a.txt", "text/plain", []byte("x"), ""))
	fileID := file["id"].(string)

	resp := doJSON(t, "GET", ts.URL+"/api/v1/entries/"+fileID, bob, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign get = %d, want 404", resp.StatusCode)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/v1/entries", bob, nil)
	body := decodeEntry(t, resp)
	if n := len(body["entries"].([]any)); n != 0 {
		t.Errorf("bob's listing = %d entries, want 0", n)
	}
}

func TestBlobStreamContentHeaders(t *testing.T) {
	ts, _, _ := newTestServer(t)
	token := authToken(t, "user-1")

	file := decodeEntry(t, uploadMultipart(t, ts.URL, token, "notes.txt", "text/plain", []byte("hello"), ""))
	viewPath := file["view_url"].(string)[len("http://drive.test"):]
	downloadPath := file["download_url"].(string)[len("http://drive.test"):]

	resp := doJSON(t, "GET", ts.URL+viewPath, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("view = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/plain" {
		t.Errorf("view Content-Type = %q, want text/plain", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `inline; filename="notes.txt"` {
		t.Errorf("view Content-Disposition = %q, want inline with filename", cd)
	}

	resp = doJSON(t, "GET", ts.URL+downloadPath, token, nil)
	resp.Body.Close()
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="notes.txt"` {
		t.Errorf("download Content-Disposition = %q, want attachment with filename", cd)
	}
}

func TestServiceErrorStatusMapping(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", drive.ErrNotFound, http.StatusNotFound},
		{"folder not empty", drive.ErrFolderNotEmpty, http.StatusConflict},
		{"backend", &drive.BackendError{System: "blob", Err: fmt.Errorf("down")}, http.StatusBadGateway},
		{
			// The inconsistency surface wins even when its cause is a
			// backend failure.
			"inconsistency wrapping backend",
			&drive.InconsistencyError{
				Op:      "delete",
				EntryID: "e1",
				BlobRef: "user-1/abc",
				Err:     &drive.BackendError{System: "metadata", Err: fmt.Errorf("connection reset")},
			},
			http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.sendServiceError(rec, tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
