package rag

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/qdrant/go-client/qdrant"
)

// Payload keys reserved by the store. Everything else in a point payload is
// user metadata.
const (
	payloadContent = "content"
	payloadDocID   = "doc_id"
)

// QdrantConfig holds connection parameters for a Qdrant-backed vector store.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// VectorSize is the dimensionality of stored embeddings. Required;
	// every collection is created with this size.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore on a Qdrant instance, mapping each
// logical collection to a Qdrant collection of the same name. Point IDs are
// UUIDs derived from the deterministic document ID, so re-upserting the same
// content overwrites in place.
type QdrantStore struct {
	client *qdrant.Client
	cfg    *QdrantConfig
	closed atomic.Bool
}

// NewQdrantStore connects to Qdrant and returns a ready-to-use store.
// Collections are created on first use; call EnsureCollections to create
// them eagerly.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg}, nil
}

// EnsureCollections creates any of the named collections that do not exist.
func (s *QdrantStore) EnsureCollections(ctx context.Context, names []string) error {
	if s.closed.Load() {
		return fmt.Errorf("qdrant: ensure collections: %w", ErrShutdown)
	}
	for _, name := range names {
		if err := s.ensureCollection(ctx, name); err != nil {
			return NewStorageError("ensure", name, err)
		}
	}
	return nil
}

// ensureCollection creates the collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Upsert writes docs into the collection, creating it if needed. Embeddings
// must be pre-computed.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, docs []Document) error {
	if s.closed.Load() {
		return fmt.Errorf("qdrant: upsert: %w", ErrShutdown)
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return NewStorageError("upsert", collection, err)
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, doc := range docs {
		payload := map[string]interface{}{
			payloadContent: doc.Content,
			payloadDocID:   doc.ID,
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointUUID(doc.ID)),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return NewStorageError("upsert", collection, err)
	}
	return nil
}

// Query returns the topK nearest neighbors of vector, with payload and stored
// vectors, optionally filtered by exact metadata matches.
func (s *QdrantStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter Metadata) ([]Result, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("qdrant: query: %w", ErrShutdown)
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return nil, NewStorageError("query", collection, err)
	}
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}

	limit := uint64(topK)
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if len(filter) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			conditions = append(conditions, qdrant.NewMatch(k, v))
		}
		req.Filter = &qdrant.Filter{Must: conditions}
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, NewStorageError("query", collection, err)
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		doc := Document{Metadata: make(Metadata)}
		for k, v := range p.Payload {
			switch k {
			case payloadContent:
				doc.Content = v.GetStringValue()
			case payloadDocID:
				doc.ID = v.GetStringValue()
			default:
				doc.Metadata[k] = v.GetStringValue()
			}
		}
		if doc.ID == "" {
			doc.ID = p.Id.GetUuid()
		}
		if vecs := p.Vectors.GetVector(); vecs != nil {
			doc.Embedding = vecs.GetData()
		}

		// Qdrant reports cosine similarity; the store contract is distance.
		results = append(results, Result{
			Document:   doc,
			Collection: collection,
			Distance:   1 - p.Score,
			Score:      0,
		})
	}
	return results, nil
}

// Count reports the exact number of points in the collection. An unknown
// collection counts as zero.
func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("qdrant: count: %w", ErrShutdown)
	}
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return 0, NewStorageError("count", collection, err)
	}
	if !exists {
		return 0, nil
	}

	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, NewStorageError("count", collection, err)
	}
	return int(n), nil
}

// Clear drops and recreates the collection. A no-op success when the
// collection does not exist.
func (s *QdrantStore) Clear(ctx context.Context, collection string) error {
	if s.closed.Load() {
		return fmt.Errorf("qdrant: clear: %w", ErrShutdown)
	}
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return NewStorageError("clear", collection, err)
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return NewStorageError("clear", collection, err)
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return NewStorageError("clear", collection, err)
	}
	return nil
}

// Delete removes documents by their document IDs.
func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if s.closed.Load() {
		return fmt.Errorf("qdrant: delete: %w", ErrShutdown)
	}
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(pointUUID(id)))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return NewStorageError("delete", collection, err)
	}
	return nil
}

// Ping checks that the Qdrant server is reachable.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrShutdown
	}
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Name identifies this store in readiness reports.
func (s *QdrantStore) Name() string { return "qdrant" }

// Close closes the underlying gRPC connection. Idempotent.
func (s *QdrantStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}

// pointUUID formats a 32-hex-char document ID as a UUID string, which is the
// point ID form Qdrant accepts. IDs that are not 32 hex chars (for example
// suffixed duplicates) are re-hashed through ContentHash first.
func pointUUID(id string) string {
	if len(id) != 32 {
		id = ContentHash(id)
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s", id[:8], id[8:12], id[12:16], id[16:20], id[20:])
}
