// Package store provides the default rag.VectorStore backend: a local
// SQLite database holding every collection in one file under the configured
// data directory. Nearest-neighbor search is an exact cosine scan over the
// requested collection, which is well within budget for curriculum-scale
// corpora (thousands of records, not millions).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/bilgeai/yksai-go/internal/rag"
)

// SQLiteStore is a rag.VectorStore backed by a local SQLite database.
// Safe for concurrent use; the connection pool is limited to one writer to
// avoid SQLITE_BUSY under concurrent batched ingestion.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB

	// dir is the data directory holding the database and the collections
	// marker file. Empty for in-memory databases.
	dir string

	// closed flips once Close is called; subsequent operations fail with
	// rag.ErrShutdown.
	closed atomic.Bool
}

// DefaultDir returns the default on-disk data directory (~/.yksai/store),
// creating it if needed.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".yksai", "store")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return dir, nil
}

// Open opens (or creates) the vector store in dir and runs the schema
// migration. Pass ":memory:" as dir for an in-memory store in tests.
func Open(dir string) (*SQLiteStore, error) {
	var dsn string
	var dataDir string
	if dir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
		}
		dataDir = dir
		// WAL mode improves concurrent read performance for single-host use.
		dsn = filepath.Join(dir, "vectors.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dir: dataDir}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS collections (
    name       TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL REFERENCES collections(name),
    id         TEXT NOT NULL,
    content    TEXT NOT NULL,
    metadata   TEXT NOT NULL,  -- JSON object, string keys and values
    embedding  BLOB NOT NULL,  -- little-endian float32 vector
    added_at   INTEGER NOT NULL,
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// EnsureCollections guarantees the named collections exist. Idempotent.
// On success the collections marker file is refreshed.
func (s *SQLiteStore) EnsureCollections(ctx context.Context, names []string) error {
	if s.closed.Load() {
		return fmt.Errorf("store: ensure collections: %w", rag.ErrShutdown)
	}
	for _, name := range names {
		if err := s.ensureCollection(ctx, name); err != nil {
			return rag.NewStorageError("ensure", name, err)
		}
	}
	s.writeMarker(len(names))
	return nil
}

// ensureCollection inserts the collection row if missing.
func (s *SQLiteStore) ensureCollection(ctx context.Context, name string) error {
	const q = `INSERT OR IGNORE INTO collections (name, created_at) VALUES (?, ?)`
	_, err := s.db.ExecContext(ctx, q, name, time.Now().Unix())
	return err
}

// Upsert writes docs into the collection inside a single transaction, so a
// batch either fully succeeds or leaves the store untouched. An existing ID
// is replaced (last writer wins; IDs are content-derived).
func (s *SQLiteStore) Upsert(ctx context.Context, collection string, docs []rag.Document) error {
	if s.closed.Load() {
		return fmt.Errorf("store: upsert: %w", rag.ErrShutdown)
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return rag.NewStorageError("upsert", collection, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rag.NewStorageError("upsert", collection, err)
	}
	defer tx.Rollback()

	const q = `INSERT OR REPLACE INTO documents (collection, id, content, metadata, embedding, added_at)
               VALUES (?, ?, ?, ?, ?, ?)`
	now := time.Now().Unix()
	for _, doc := range docs {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return rag.NewStorageError("upsert", collection, fmt.Errorf("marshal metadata for %s: %w", doc.ID, err))
		}
		if _, err := tx.ExecContext(ctx, q, collection, doc.ID, doc.Content, meta, encodeVector(doc.Embedding), now); err != nil {
			return rag.NewStorageError("upsert", collection, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return rag.NewStorageError("upsert", collection, err)
	}
	return nil
}

// Query scans the collection, scores every document whose metadata matches
// filter by cosine distance to vector, and returns the topK closest.
// An unknown collection is created empty and yields zero results.
func (s *SQLiteStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter rag.Metadata) ([]rag.Result, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("store: query: %w", rag.ErrShutdown)
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return nil, rag.NewStorageError("query", collection, err)
	}
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}

	const q = `SELECT id, content, metadata, embedding FROM documents WHERE collection = ?`
	rows, err := s.db.QueryContext(ctx, q, collection)
	if err != nil {
		return nil, rag.NewStorageError("query", collection, err)
	}
	defer rows.Close()

	var results []rag.Result
	for rows.Next() {
		var (
			id, content string
			metaJSON    []byte
			blob        []byte
		)
		if err := rows.Scan(&id, &content, &metaJSON, &blob); err != nil {
			return nil, rag.NewStorageError("query scan", collection, err)
		}

		var meta rag.Metadata
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, rag.NewStorageError("query", collection, fmt.Errorf("corrupt metadata for %s: %w", id, err))
		}
		if !meta.Matches(filter) {
			continue
		}

		embedding := decodeVector(blob)
		results = append(results, rag.Result{
			Document: rag.Document{
				ID:        id,
				Content:   content,
				Metadata:  meta,
				Embedding: embedding,
			},
			Collection: collection,
			Distance:   cosineDistance(vector, embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, rag.NewStorageError("query rows", collection, err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count reports the number of documents in the collection.
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("store: count: %w", rag.ErrShutdown)
	}
	const q = `SELECT COUNT(*) FROM documents WHERE collection = ?`
	var n int
	if err := s.db.QueryRowContext(ctx, q, collection).Scan(&n); err != nil {
		return 0, rag.NewStorageError("count", collection, err)
	}
	return n, nil
}

// Clear removes every document from the collection. A no-op success when
// the collection is empty or unknown.
func (s *SQLiteStore) Clear(ctx context.Context, collection string) error {
	if s.closed.Load() {
		return fmt.Errorf("store: clear: %w", rag.ErrShutdown)
	}
	const q = `DELETE FROM documents WHERE collection = ?`
	if _, err := s.db.ExecContext(ctx, q, collection); err != nil {
		return rag.NewStorageError("clear", collection, err)
	}
	return nil
}

// Delete removes documents by ID. Unknown IDs are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, collection string, ids []string) error {
	if s.closed.Load() {
		return fmt.Errorf("store: delete: %w", rag.ErrShutdown)
	}
	const q = `DELETE FROM documents WHERE collection = ? AND id = ?`
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, q, collection, id); err != nil {
			return rag.NewStorageError("delete", collection, err)
		}
	}
	return nil
}

// Close flips the shutdown flag and closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable. Used by the readiness probe.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("store: ping: %w", rag.ErrShutdown)
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Name labels the store in readiness responses.
func (s *SQLiteStore) Name() string { return "sqlite" }

// collectionsMarker is the small JSON file recording when the collection
// bootstrap last succeeded. Purely informational; absence is harmless.
type collectionsMarker struct {
	Cached      bool      `json:"cached"`
	Collections int       `json:"collections"`
	Timestamp   time.Time `json:"timestamp"`
}

// writeMarker best-effort writes the collections marker file next to the
// database. Skipped for in-memory stores.
func (s *SQLiteStore) writeMarker(count int) {
	if s.dir == "" {
		return
	}
	data, err := json.Marshal(collectionsMarker{Cached: true, Collections: count, Timestamp: time.Now()})
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(s.dir, "collections.json"), data, 0o600)
}
