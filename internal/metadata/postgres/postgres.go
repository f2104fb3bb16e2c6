// Package postgres provides a PostgreSQL-backed metadata store for hierarchy
// entries.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/vaultdrive/vaultdrive/internal/category"
	"github.com/vaultdrive/vaultdrive/internal/drive"
	"github.com/vaultdrive/vaultdrive/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	parent_id   TEXT,
	size        BIGINT NOT NULL DEFAULT 0,
	mime_type   TEXT NOT NULL DEFAULT '',
	blob_ref    TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_owner_parent ON entries (owner_id, parent_id);
CREATE INDEX IF NOT EXISTS idx_entries_owner_kind_updated ON entries (owner_id, kind, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_entries_owner_blob_ref ON entries (owner_id, blob_ref);
`

// Store is a PostgreSQL metadata store.
type Store struct {
	db         *sql.DB
	classifier *category.Classifier
	statsLimit int
}

// entryRow maps to the entries table.
type entryRow struct {
	ID        string
	OwnerID   string
	Name      string
	Kind      string
	ParentID  sql.NullString
	Size      int64
	MimeType  string
	BlobRef   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New opens the database, tunes the pool and ensures the schema.
func New(databaseURL string, classifier *category.Classifier, statsLimit int) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Store{db: db, classifier: classifier, statsLimit: statsLimit}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const entryColumns = "id, owner_id, name, kind, parent_id, size, mime_type, blob_ref, created_at, updated_at"

func scanEntry(scanner interface{ Scan(...any) error }) (*drive.Entry, error) {
	var r entryRow
	if err := scanner.Scan(&r.ID, &r.OwnerID, &r.Name, &r.Kind, &r.ParentID,
		&r.Size, &r.MimeType, &r.BlobRef, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	e := &drive.Entry{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Name:      r.Name,
		Kind:      drive.Kind(r.Kind),
		Size:      r.Size,
		MimeType:  r.MimeType,
		BlobRef:   r.BlobRef,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ParentID.Valid {
		pid := r.ParentID.String
		e.ParentID = &pid
	}
	return e, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Insert persists a new entry and assigns its ID.
func (s *Store) Insert(ctx context.Context, e *drive.Entry) error {
	start := time.Now()

	e.ID = uuid.New().String()
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.OwnerID, e.Name, string(e.Kind), nullable(e.ParentID),
		e.Size, e.MimeType, e.BlobRef, e.CreatedAt, e.UpdatedAt)
	metrics.RecordDocstoreQuery("insert", time.Since(start))
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// Get fetches an entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*drive.Entry, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	metrics.RecordDocstoreQuery("get", time.Since(start))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, drive.ErrNotFound
		}
		return nil, fmt.Errorf("find entry %s: %w", id, err)
	}
	return e, nil
}

// GetByBlobRef fetches the owner's entry holding the given blob reference.
func (s *Store) GetByBlobRef(ctx context.Context, ownerID, ref string) (*drive.Entry, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE owner_id = $1 AND blob_ref = $2`,
		ownerID, ref)
	e, err := scanEntry(row)
	metrics.RecordDocstoreQuery("get_by_blob_ref", time.Since(start))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, drive.ErrNotFound
		}
		return nil, fmt.Errorf("find entry by blob ref: %w", err)
	}
	return e, nil
}

// Update applies a patch and returns the updated entry.
func (s *Store) Update(ctx context.Context, id string, p drive.Patch) (*drive.Entry, error) {
	start := time.Now()

	set := "updated_at = $2"
	args := []any{id, time.Now().UTC()}
	if p.Name != nil {
		args = append(args, *p.Name)
		set += fmt.Sprintf(", name = $%d", len(args))
	}
	if p.SetParent {
		args = append(args, nullable(p.ParentID))
		set += fmt.Sprintf(", parent_id = $%d", len(args))
	}

	row := s.db.QueryRowContext(ctx,
		`UPDATE entries SET `+set+` WHERE id = $1 RETURNING `+entryColumns, args...)
	e, err := scanEntry(row)
	metrics.RecordDocstoreQuery("update", time.Since(start))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, drive.ErrNotFound
		}
		return nil, fmt.Errorf("update entry %s: %w", id, err)
	}
	return e, nil
}

// Delete removes an entry's metadata.
func (s *Store) Delete(ctx context.Context, id string) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = $1`, id)
	metrics.RecordDocstoreQuery("delete", time.Since(start))
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return drive.ErrNotFound
	}
	return nil
}

// ListChildren returns the direct children of parentID for an owner, most
// recently updated first. IS NOT DISTINCT FROM makes the nil parent match
// NULL rows.
func (s *Store) ListChildren(ctx context.Context, ownerID string, parentID *string) ([]*drive.Entry, error) {
	return s.query(ctx, "list_children",
		`SELECT `+entryColumns+` FROM entries
		 WHERE owner_id = $1 AND parent_id IS NOT DISTINCT FROM $2
		 ORDER BY updated_at DESC`,
		ownerID, nullable(parentID))
}

// ListFolders returns all folders owned by ownerID.
func (s *Store) ListFolders(ctx context.Context, ownerID string) ([]*drive.Entry, error) {
	return s.query(ctx, "list_folders",
		`SELECT `+entryColumns+` FROM entries
		 WHERE owner_id = $1 AND kind = $2
		 ORDER BY name`,
		ownerID, string(drive.KindFolder))
}

// ListRecentFiles returns the owner's most recently updated files.
func (s *Store) ListRecentFiles(ctx context.Context, ownerID string, limit int) ([]*drive.Entry, error) {
	if limit <= 0 {
		limit = drive.DefaultRecentLimit
	}
	return s.query(ctx, "list_recent",
		`SELECT `+entryColumns+` FROM entries
		 WHERE owner_id = $1 AND kind = $2
		 ORDER BY updated_at DESC LIMIT $3`,
		ownerID, string(drive.KindFile), limit)
}

func (s *Store) query(ctx context.Context, name, q string, args ...any) ([]*drive.Entry, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer rows.Close()

	var out []*drive.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", name, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", name, err)
	}
	metrics.RecordDocstoreQuery(name, time.Since(start))
	return out, nil
}

// AggregateStats summarizes the owner's file usage by category. The scan is
// capped at statsLimit rows and categorized in Go so both metadata backends
// report identical summaries for the same data.
func (s *Store) AggregateStats(ctx context.Context, ownerID string) (*drive.StorageStats, error) {
	files, err := s.query(ctx, "aggregate_stats",
		`SELECT `+entryColumns+` FROM entries
		 WHERE owner_id = $1 AND kind = $2 LIMIT $3`,
		ownerID, string(drive.KindFile), s.statsLimit)
	if err != nil {
		return nil, err
	}

	stats := &drive.StorageStats{
		Categories: make(map[category.Category]*drive.CategoryStats),
	}
	for _, c := range category.Categories() {
		stats.Categories[c] = &drive.CategoryStats{}
	}
	for _, f := range files {
		stats.TotalFiles++
		stats.TotalBytes += f.Size
		cat := s.classifier.Classify(f.MimeType)
		stats.Categories[cat].Count++
		stats.Categories[cat].Bytes += f.Size
	}
	return stats, nil
}

// CountChildren returns the number of direct children of an entry.
func (s *Store) CountChildren(ctx context.Context, id string) (int64, error) {
	start := time.Now()
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE parent_id = $1`, id).Scan(&n)
	metrics.RecordDocstoreQuery("count_children", time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("count children of %s: %w", id, err)
	}
	return n, nil
}
