package store

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/bilgeai/yksai-go/internal/rag"
)

// newTestStore returns an in-memory store closed automatically at test end.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDoc(id, content string, meta rag.Metadata, embedding []float32) rag.Document {
	return rag.Document{ID: id, Content: content, Metadata: meta, Embedding: embedding}
}

func Test_Store_UpsertAndCount(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	docs := []rag.Document{
		testDoc("a", "limit kavramı", rag.Metadata{"subject": "matematik"}, []float32{1, 0}),
		testDoc("b", "türev kuralları", rag.Metadata{"subject": "matematik"}, []float32{0, 1}),
	}
	if err := s.Upsert(ctx, rag.CollectionCurriculum, docs); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	n, err := s.Count(ctx, rag.CollectionCurriculum)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func Test_Store_UpsertReplacesExistingID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	first := testDoc("same", "eski içerik", nil, []float32{1, 0})
	second := testDoc("same", "yeni içerik", nil, []float32{1, 0})
	if err := s.Upsert(ctx, rag.CollectionDocuments, []rag.Document{first}); err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	if err := s.Upsert(ctx, rag.CollectionDocuments, []rag.Document{second}); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	n, err := s.Count(ctx, rag.CollectionDocuments)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1 after replace", n)
	}

	results, err := s.Query(ctx, rag.CollectionDocuments, []float32{1, 0}, 1, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0].Content != "yeni içerik" {
		t.Errorf("Query returned %+v, want replaced content", results)
	}
}

func Test_Store_QueryOrdersByCosineDistance(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	docs := []rag.Document{
		testDoc("near", "yakın", nil, []float32{1, 0.1}),
		testDoc("far", "uzak", nil, []float32{-1, 0}),
		testDoc("mid", "orta", nil, []float32{0.5, 0.5}),
	}
	if err := s.Upsert(ctx, rag.CollectionQuestions, docs); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := s.Query(ctx, rag.CollectionQuestions, []float32{1, 0}, 3, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Query returned %d results, want 3", len(results))
	}
	wantOrder := []string{"near", "mid", "far"}
	for i, want := range wantOrder {
		if results[i].ID != want {
			t.Errorf("results[%d].ID = %q, want %q", i, results[i].ID, want)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Distance > results[i].Distance {
			t.Errorf("distances not ascending: %v > %v", results[i-1].Distance, results[i].Distance)
		}
	}
}

func Test_Store_QueryRetainsEmbeddings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	vec := []float32{0.25, -0.5, 0.75}
	if err := s.Upsert(ctx, rag.CollectionWebContent, []rag.Document{testDoc("x", "içerik", nil, vec)}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := s.Query(ctx, rag.CollectionWebContent, vec, 1, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Query returned %d results, want 1", len(results))
	}
	got := results[0].Embedding
	if len(got) != len(vec) {
		t.Fatalf("embedding length = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if math.Abs(float64(got[i]-vec[i])) > 1e-6 {
			t.Errorf("embedding[%d] = %v, want %v", i, got[i], vec[i])
		}
	}
}

func Test_Store_QueryMetadataFilter(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	docs := []rag.Document{
		testDoc("m9", "kümeler", rag.Metadata{"subject": "matematik", "grade": "9"}, []float32{1, 0}),
		testDoc("m10", "fonksiyonlar", rag.Metadata{"subject": "matematik", "grade": "10"}, []float32{1, 0}),
		testDoc("f9", "kuvvet", rag.Metadata{"subject": "fizik", "grade": "9"}, []float32{1, 0}),
	}
	if err := s.Upsert(ctx, rag.CollectionCurriculum, docs); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := s.Query(ctx, rag.CollectionCurriculum, []float32{1, 0}, 10,
		rag.Metadata{"subject": "matematik", "grade": "9"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "m9" {
		t.Errorf("filtered Query returned %+v, want only m9", results)
	}
}

func Test_Store_QueryUnknownCollectionCreatesEmpty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	results, err := s.Query(ctx, "never_seen_before", []float32{1, 0}, 5, nil)
	if err != nil {
		t.Fatalf("Query on unknown collection failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Query returned %d results, want 0", len(results))
	}

	// The collection now exists and accepts writes.
	if err := s.Upsert(ctx, "never_seen_before", []rag.Document{testDoc("a", "x", nil, []float32{1})}); err != nil {
		t.Fatalf("Upsert after lazy creation failed: %v", err)
	}
}

func Test_Store_CollectionIsolation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, rag.CollectionCurriculum, []rag.Document{testDoc("a", "müfredat", nil, []float32{1, 0})}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Upsert(ctx, rag.CollectionConversations, []rag.Document{testDoc("b", "sohbet", nil, []float32{1, 0})}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := s.Query(ctx, rag.CollectionCurriculum, []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Errorf("curriculum query returned %+v, want only doc a", results)
	}
}

func Test_Store_ClearEmptyCollectionSucceeds(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Clear(ctx, rag.CollectionYouTube); err != nil {
		t.Errorf("Clear on empty collection failed: %v", err)
	}
}

func Test_Store_ClearRemovesAllDocuments(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	docs := []rag.Document{
		testDoc("a", "bir", nil, []float32{1}),
		testDoc("b", "iki", nil, []float32{1}),
	}
	if err := s.Upsert(ctx, rag.CollectionDocuments, docs); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Clear(ctx, rag.CollectionDocuments); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	n, err := s.Count(ctx, rag.CollectionDocuments)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Count after Clear = %d, want 0", n)
	}
}

func Test_Store_DeleteByID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	docs := []rag.Document{
		testDoc("keep", "kalır", nil, []float32{1}),
		testDoc("drop", "gider", nil, []float32{1}),
	}
	if err := s.Upsert(ctx, rag.CollectionDocuments, docs); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Delete(ctx, rag.CollectionDocuments, []string{"drop", "missing"}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	n, err := s.Count(ctx, rag.CollectionDocuments)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count after Delete = %d, want 1", n)
	}
}

func Test_Store_OperationsAfterCloseReturnShutdown(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	if err := s.Upsert(ctx, rag.CollectionDocuments, []rag.Document{testDoc("a", "x", nil, []float32{1})}); !errors.Is(err, rag.ErrShutdown) {
		t.Errorf("Upsert after Close = %v, want ErrShutdown", err)
	}
	if _, err := s.Query(ctx, rag.CollectionDocuments, []float32{1}, 1, nil); !errors.Is(err, rag.ErrShutdown) {
		t.Errorf("Query after Close = %v, want ErrShutdown", err)
	}
	if _, err := s.Count(ctx, rag.CollectionDocuments); !errors.Is(err, rag.ErrShutdown) {
		t.Errorf("Count after Close = %v, want ErrShutdown", err)
	}
	if err := s.Clear(ctx, rag.CollectionDocuments); !errors.Is(err, rag.ErrShutdown) {
		t.Errorf("Clear after Close = %v, want ErrShutdown", err)
	}
}

func Test_Store_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.EnsureCollections(ctx, rag.RequiredCollections()); err != nil {
		t.Fatalf("EnsureCollections failed: %v", err)
	}
	if err := s.Upsert(ctx, rag.CollectionCurriculum, []rag.Document{testDoc("p", "kalıcı", nil, []float32{1, 0})}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	n, err := reopened.Count(ctx, rag.CollectionCurriculum)
	if err != nil {
		t.Fatalf("Count after reopen failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count after reopen = %d, want 1", n)
	}

	if _, err := os.Stat(filepath.Join(dir, "collections.json")); err != nil {
		t.Errorf("collections marker file missing: %v", err)
	}
}

func Test_Store_VectorRoundTrip(t *testing.T) {
	t.Parallel()

	cases := [][]float32{
		nil,
		{},
		{0},
		{1.5, -2.25, 3.125},
		{math.MaxFloat32, -math.MaxFloat32},
	}
	for _, in := range cases {
		out := decodeVector(encodeVector(in))
		if len(in) == 0 {
			if out != nil {
				t.Errorf("decode(encode(%v)) = %v, want nil", in, out)
			}
			continue
		}
		if len(out) != len(in) {
			t.Fatalf("decode(encode(%v)) length = %d, want %d", in, len(out), len(in))
		}
		for i := range in {
			if out[i] != in[i] {
				t.Errorf("round trip[%d] = %v, want %v", i, out[i], in[i])
			}
		}
	}
}
