// Package mongo provides a MongoDB-backed metadata store for hierarchy
// entries.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vaultdrive/vaultdrive/internal/category"
	"github.com/vaultdrive/vaultdrive/internal/drive"
	"github.com/vaultdrive/vaultdrive/internal/metrics"
)

// Store is a MongoDB metadata store.
type Store struct {
	client     *mongo.Client
	coll       *mongo.Collection
	classifier *category.Classifier
	statsLimit int
}

// entryDoc maps to the entries collection.
type entryDoc struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty"`
	OwnerID   string              `bson:"owner_id"`
	Name      string              `bson:"name"`
	Kind      string              `bson:"kind"`
	ParentID  *primitive.ObjectID `bson:"parent_id"`
	Size      int64               `bson:"size"`
	MimeType  string              `bson:"mime_type,omitempty"`
	BlobRef   string              `bson:"blob_ref,omitempty"`
	CreatedAt time.Time           `bson:"created_at"`
	UpdatedAt time.Time           `bson:"updated_at"`
}

// New connects to MongoDB and ensures the indexes the queries rely on.
func New(ctx context.Context, uri, database string, classifier *category.Classifier, statsLimit int) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection("entries")

	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "parent_id", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "blob_ref", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	return &Store{
		client:     client,
		coll:       coll,
		classifier: classifier,
		statsLimit: statsLimit,
	}, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		// A malformed ID cannot name any entry.
		return primitive.NilObjectID, drive.ErrNotFound
	}
	return oid, nil
}

func docToEntry(d *entryDoc) *drive.Entry {
	e := &drive.Entry{
		ID:        d.ID.Hex(),
		OwnerID:   d.OwnerID,
		Name:      d.Name,
		Kind:      drive.Kind(d.Kind),
		Size:      d.Size,
		MimeType:  d.MimeType,
		BlobRef:   d.BlobRef,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.ParentID != nil {
		pid := d.ParentID.Hex()
		e.ParentID = &pid
	}
	return e
}

// Insert persists a new entry and assigns its ID.
func (s *Store) Insert(ctx context.Context, e *drive.Entry) error {
	start := time.Now()

	doc := entryDoc{
		OwnerID:   e.OwnerID,
		Name:      e.Name,
		Kind:      string(e.Kind),
		Size:      e.Size,
		MimeType:  e.MimeType,
		BlobRef:   e.BlobRef,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if e.ParentID != nil {
		oid, err := parseID(*e.ParentID)
		if err != nil {
			return err
		}
		doc.ParentID = &oid
	}

	res, err := s.coll.InsertOne(ctx, doc)
	metrics.RecordDocstoreQuery("insert", time.Since(start))
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	e.ID = res.InsertedID.(primitive.ObjectID).Hex()
	e.CreatedAt = doc.CreatedAt
	e.UpdatedAt = doc.UpdatedAt
	return nil
}

// Get fetches an entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*drive.Entry, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var doc entryDoc
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	metrics.RecordDocstoreQuery("get", time.Since(start))
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, drive.ErrNotFound
		}
		return nil, fmt.Errorf("find entry %s: %w", id, err)
	}
	return docToEntry(&doc), nil
}

// GetByBlobRef fetches the owner's entry holding the given blob reference.
func (s *Store) GetByBlobRef(ctx context.Context, ownerID, ref string) (*drive.Entry, error) {
	start := time.Now()
	var doc entryDoc
	err := s.coll.FindOne(ctx, bson.M{"owner_id": ownerID, "blob_ref": ref}).Decode(&doc)
	metrics.RecordDocstoreQuery("get_by_blob_ref", time.Since(start))
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, drive.ErrNotFound
		}
		return nil, fmt.Errorf("find entry by blob ref: %w", err)
	}
	return docToEntry(&doc), nil
}

// Update applies a patch and returns the updated entry.
func (s *Store) Update(ctx context.Context, id string, p drive.Patch) (*drive.Entry, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	if p.Name != nil {
		set["name"] = *p.Name
	}
	if p.SetParent {
		if p.ParentID != nil {
			poid, err := parseID(*p.ParentID)
			if err != nil {
				return nil, err
			}
			set["parent_id"] = poid
		} else {
			set["parent_id"] = nil
		}
	}

	start := time.Now()
	var doc entryDoc
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	metrics.RecordDocstoreQuery("update", time.Since(start))
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, drive.ErrNotFound
		}
		return nil, fmt.Errorf("update entry %s: %w", id, err)
	}
	return docToEntry(&doc), nil
}

// Delete removes an entry's metadata.
func (s *Store) Delete(ctx context.Context, id string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	metrics.RecordDocstoreQuery("delete", time.Since(start))
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return drive.ErrNotFound
	}
	return nil
}

// ListChildren returns the direct children of parentID for an owner, most
// recently updated first. A nil parent_id filter matches both absent and
// null fields, which covers root entries either way they were written.
func (s *Store) ListChildren(ctx context.Context, ownerID string, parentID *string) ([]*drive.Entry, error) {
	filter := bson.M{"owner_id": ownerID}
	if parentID != nil {
		oid, err := parseID(*parentID)
		if err != nil {
			return nil, err
		}
		filter["parent_id"] = oid
	} else {
		filter["parent_id"] = nil
	}

	return s.find(ctx, "list_children", filter,
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
}

// ListFolders returns all folders owned by ownerID.
func (s *Store) ListFolders(ctx context.Context, ownerID string) ([]*drive.Entry, error) {
	return s.find(ctx, "list_folders",
		bson.M{"owner_id": ownerID, "kind": string(drive.KindFolder)},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
}

// ListRecentFiles returns the owner's most recently updated files.
func (s *Store) ListRecentFiles(ctx context.Context, ownerID string, limit int) ([]*drive.Entry, error) {
	if limit <= 0 {
		limit = drive.DefaultRecentLimit
	}
	return s.find(ctx, "list_recent",
		bson.M{"owner_id": ownerID, "kind": string(drive.KindFile)},
		options.Find().
			SetSort(bson.D{{Key: "updated_at", Value: -1}}).
			SetLimit(int64(limit)))
}

func (s *Store) find(ctx context.Context, query string, filter bson.M, opts ...*options.FindOptions) ([]*drive.Entry, error) {
	start := time.Now()
	cur, err := s.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", query, err)
	}
	defer cur.Close(ctx)

	var out []*drive.Entry
	for cur.Next(ctx) {
		var doc entryDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s decode: %w", query, err)
		}
		out = append(out, docToEntry(&doc))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%s cursor: %w", query, err)
	}
	metrics.RecordDocstoreQuery(query, time.Since(start))
	return out, nil
}

// AggregateStats summarizes the owner's file usage by category. The scan is
// capped at statsLimit documents, so accounts past the cap get an
// approximate summary.
func (s *Store) AggregateStats(ctx context.Context, ownerID string) (*drive.StorageStats, error) {
	files, err := s.find(ctx, "aggregate_stats",
		bson.M{"owner_id": ownerID, "kind": string(drive.KindFile)},
		options.Find().SetLimit(int64(s.statsLimit)))
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
	oid, err := parseID(id)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := s.coll.CountDocuments(ctx, bson.M{"parent_id": oid})
	metrics.RecordDocstoreQuery("count_children", time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("count children of %s: %w", id, err)
	}
	return n, nil
}
