package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeStore is an in-memory VectorStore returning canned per-collection hits.
type fakeStore struct {
	// hits maps collection name to the results Query returns.
	hits map[string][]Result
	// queryErr fails every Query when set.
	queryErr error
	// upserted collects every document written via Upsert.
	upserted map[string][]Document
	// lastFilter records the filter of the most recent Query call.
	lastFilter Metadata
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		hits:     make(map[string][]Result),
		upserted: make(map[string][]Document),
	}
}

func (f *fakeStore) EnsureCollections(context.Context, []string) error { return nil }

func (f *fakeStore) Upsert(_ context.Context, collection string, docs []Document) error {
	f.upserted[collection] = append(f.upserted[collection], docs...)
	return nil
}

func (f *fakeStore) Query(_ context.Context, collection string, _ []float32, topK int, filter Metadata) ([]Result, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	f.lastFilter = filter
	hits := f.hits[collection]
	var out []Result
	for _, h := range hits {
		if h.Metadata.Matches(filter) {
			out = append(out, h)
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeStore) Count(_ context.Context, collection string) (int, error) {
	return len(f.hits[collection]), nil
}

func (f *fakeStore) Clear(_ context.Context, collection string) error {
	delete(f.hits, collection)
	return nil
}

func (f *fakeStore) Delete(context.Context, string, []string) error { return nil }

func (f *fakeStore) Close() error { return nil }

// fixedEmbedder returns the same vector for every input text.
type fixedEmbedder struct {
	vector []float32
	err    error
}

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

// scriptedGenerator returns a fixed response or error.
type scriptedGenerator struct {
	response string
	err      error
	// lastReq records the most recent request for assertions.
	lastReq *GenerateRequest
}

func (g *scriptedGenerator) Generate(_ context.Context, req *GenerateRequest) (string, error) {
	g.lastReq = req
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

// testLogger returns a logger that writes nowhere.
func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestEngine builds an Engine on the fakes with quiet logging.
func newTestEngine(t *testing.T, store *fakeStore, gen Generator, defaults *SearchConfig) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), &EngineConfig{
		Store:     store,
		Embedder:  &fixedEmbedder{vector: []float32{1, 0, 0}},
		Generator: gen,
		Defaults:  defaults,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

// curriculumHit builds a curriculum result with the given score inputs.
func curriculumHit(id, content string, distance float32, meta Metadata) Result {
	return Result{
		Document:   Document{ID: id, Content: content, Metadata: meta},
		Collection: CollectionCurriculum,
		Distance:   distance,
	}
}

// ---------------------------------------------------------------------------
// Search pipeline
// ---------------------------------------------------------------------------

func Test_Engine_EmptyQueryYieldsNoResults(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, newFakeStore(), nil, nil)
	results, err := e.Search(context.Background(), "   ", nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for blank query, got %d", len(results))
	}
}

func Test_Engine_EmptyStoreYieldsNoResults(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, newFakeStore(), nil, nil)
	results, err := e.Search(context.Background(), "türev", nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results from empty store, got %d", len(results))
	}
}

func Test_Engine_StoreErrorPropagates(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.queryErr = NewStorageError("query", CollectionCurriculum, ErrShutdown)
	e := newTestEngine(t, store, nil, nil)

	_, err := e.Search(context.Background(), "türev", nil)
	if err == nil {
		t.Fatal("expected storage error to propagate")
	}
	if !IsStorage(err) {
		t.Errorf("expected StorageError, got %T: %v", err, err)
	}
}

func Test_Engine_ScoreIsOneMinusDistance(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.hits[CollectionCurriculum] = []Result{
		curriculumHit("near", "içerik", 0.1, nil),
		curriculumHit("far", "içerik", 0.6, nil),
	}
	// Keyword and MMR off to observe the raw semantic score.
	cfg := SearchConfig{SemanticWeight: 1, KeywordWeight: 0, UseMMR: false}
	e := newTestEngine(t, store, nil, &cfg)

	results, err := e.Search(context.Background(), "sorgu", &SearchOptions{Collections: []string{CollectionCurriculum}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "near" {
		t.Errorf("expected nearest hit first, got %q", results[0].ID)
	}
	if math.Abs(results[0].Score-0.9) > 1e-6 {
		t.Errorf("score = %f, want 0.9", results[0].Score)
	}
	if math.Abs(results[1].Score-0.4) > 1e-6 {
		t.Errorf("score = %f, want 0.4", results[1].Score)
	}
}

func Test_Engine_KeywordOverlapBoostsRanking(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	// Identical distances: only the keyword stage can separate them.
	store.hits[CollectionDocuments] = []Result{
		{Document: Document{ID: "off-topic", Content: "hücre bölünmesi mitoz"}, Collection: CollectionDocuments, Distance: 0.3},
		{Document: Document{ID: "on-topic", Content: "türev alma kuralları zincir"}, Collection: CollectionDocuments, Distance: 0.3},
	}
	cfg := SearchConfig{SemanticWeight: 0.7, KeywordWeight: 0.3, UseMMR: false}
	e := newTestEngine(t, store, nil, &cfg)

	results, err := e.Search(context.Background(), "türev zincir", &SearchOptions{Collections: []string{CollectionDocuments}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "on-topic" {
		t.Errorf("expected keyword-matching hit first, got %q", results[0].ID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("keyword overlap should raise the score: %f <= %f", results[0].Score, results[1].Score)
	}
}

func Test_Engine_KeywordStageSkippedWhenWeightZero(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.hits[CollectionDocuments] = []Result{
		{Document: Document{ID: "a", Content: "türev zincir"}, Collection: CollectionDocuments, Distance: 0.2},
	}
	cfg := SearchConfig{SemanticWeight: 1, KeywordWeight: 0, UseMMR: false}
	e := newTestEngine(t, store, nil, &cfg)

	results, err := e.Search(context.Background(), "türev zincir", &SearchOptions{Collections: []string{CollectionDocuments}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	// Full keyword overlap would change the score if the stage ran.
	if math.Abs(results[0].Score-0.8) > 1e-6 {
		t.Errorf("score = %f, want raw 0.8 with keyword stage disabled", results[0].Score)
	}
}

func Test_Engine_WeakSubjectBoost(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.hits[CollectionCurriculum] = []Result{
		curriculumHit("weak", "konu", 0.5, Metadata{"subject": "fizik"}),
		curriculumHit("strong", "konu", 0.5, Metadata{"subject": "tarih"}),
	}
	cfg := SearchConfig{SemanticWeight: 1, KeywordWeight: 0, UseMMR: false}
	e := newTestEngine(t, store, nil, &cfg)

	results, err := e.Search(context.Background(), "konu", &SearchOptions{
		Collections: []string{CollectionCurriculum},
		User:        &UserContext{WeakSubjects: []string{"fizik"}},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results[0].ID != "weak" {
		t.Fatalf("expected weak-subject hit first, got %q", results[0].ID)
	}
	// Base score 0.5 boosted by exactly 1.2.
	if math.Abs(results[0].Score-0.6) > 1e-6 {
		t.Errorf("boosted score = %f, want 0.6", results[0].Score)
	}
	if math.Abs(results[1].Score-0.5) > 1e-6 {
		t.Errorf("unboosted score = %f, want 0.5", results[1].Score)
	}
}

func Test_Engine_ExamTargetBoostStacks(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.hits[CollectionCurriculum] = []Result{
		curriculumHit("both", "konu", 0.5, Metadata{"subject": "fizik", "exam_type": "YKS"}),
	}
	cfg := SearchConfig{SemanticWeight: 1, KeywordWeight: 0, UseMMR: false}
	e := newTestEngine(t, store, nil, &cfg)

	results, err := e.Search(context.Background(), "konu", &SearchOptions{
		Collections: []string{CollectionCurriculum},
		User:        &UserContext{WeakSubjects: []string{"fizik"}, ExamTarget: "YKS"},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	// 0.5 × 1.2 × 1.1 = 0.66, boosts stack multiplicatively.
	if math.Abs(results[0].Score-0.66) > 1e-6 {
		t.Errorf("stacked score = %f, want 0.66", results[0].Score)
	}
}

func Test_Engine_MMRPrefersDiverseResults(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	// Two near-duplicates score highest; one distinct doc scores lower.
	// MMR should pick the distinct doc second.
	store.hits[CollectionDocuments] = []Result{
		{Document: Document{ID: "dup-1", Content: "a", Embedding: []float32{1, 0, 0}}, Collection: CollectionDocuments, Distance: 0.1},
		{Document: Document{ID: "dup-2", Content: "b", Embedding: []float32{0.99, 0.01, 0}}, Collection: CollectionDocuments, Distance: 0.12},
		{Document: Document{ID: "distinct", Content: "c", Embedding: []float32{0, 1, 0}}, Collection: CollectionDocuments, Distance: 0.4},
	}
	cfg := SearchConfig{SemanticWeight: 1, KeywordWeight: 0, UseMMR: true, MMRLambda: 0.5}
	e := newTestEngine(t, store, nil, &cfg)

	results, err := e.Search(context.Background(), "sorgu", &SearchOptions{
		Collections: []string{CollectionDocuments},
		N:           2,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "dup-1" {
		t.Errorf("expected top hit to seed selection, got %q", results[0].ID)
	}
	if results[1].ID != "distinct" {
		t.Errorf("expected diverse hit second, got %q", results[1].ID)
	}
}

func Test_Engine_TruncatesToN(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	for i := range 10 {
		store.hits[CollectionDocuments] = append(store.hits[CollectionDocuments],
			Result{Document: Document{ID: fmt.Sprintf("d%d", i), Content: "içerik"}, Collection: CollectionDocuments, Distance: float32(i) / 20})
	}
	e := newTestEngine(t, store, nil, nil)

	results, err := e.Search(context.Background(), "içerik", &SearchOptions{
		Collections: []string{CollectionDocuments},
		N:           3,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}
}

func Test_Engine_RerankReordersPerModelOutput(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.hits[CollectionDocuments] = []Result{
		{Document: Document{ID: "first", Content: "a"}, Collection: CollectionDocuments, Distance: 0.1},
		{Document: Document{ID: "second", Content: "b"}, Collection: CollectionDocuments, Distance: 0.2},
		{Document: Document{ID: "third", Content: "c"}, Collection: CollectionDocuments, Distance: 0.3},
	}
	gen := &scriptedGenerator{response: "3, 1, 2"}
	cfg := SearchConfig{SemanticWeight: 1, UseMMR: false, Rerank: true}
	e := newTestEngine(t, store, gen, &cfg)

	results, err := e.Search(context.Background(), "sorgu", &SearchOptions{
		Collections: []string{CollectionDocuments},
		N:           3,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	want := []string{"third", "first", "second"}
	for i, id := range want {
		if results[i].ID != id {
			t.Errorf("position %d = %q, want %q", i, results[i].ID, id)
		}
	}
}

func Test_Engine_RerankFailureKeepsOrder(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.hits[CollectionDocuments] = []Result{
		{Document: Document{ID: "first", Content: "a"}, Collection: CollectionDocuments, Distance: 0.1},
		{Document: Document{ID: "second", Content: "b"}, Collection: CollectionDocuments, Distance: 0.2},
	}
	gen := &scriptedGenerator{err: fmt.Errorf("model unavailable")}
	cfg := SearchConfig{SemanticWeight: 1, UseMMR: false, Rerank: true}
	e := newTestEngine(t, store, gen, &cfg)

	results, err := e.Search(context.Background(), "sorgu", &SearchOptions{Collections: []string{CollectionDocuments}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results[0].ID != "first" || results[1].ID != "second" {
		t.Errorf("rerank failure must keep the original order, got %q, %q", results[0].ID, results[1].ID)
	}
}

func Test_ParseRanking(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		size int
		want []int
	}{
		{"1, 2, 3", 3, []int{0, 1, 2}},
		{"3,1,2", 3, []int{2, 0, 1}},
		{"2, 9, 1", 3, []int{1, 0}},
		{"garbage", 3, nil},
		{"0, -1", 3, nil},
	}
	for _, tc := range cases {
		got := parseRanking(tc.text, tc.size)
		if len(got) != len(tc.want) {
			t.Errorf("parseRanking(%q) = %v, want %v", tc.text, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("parseRanking(%q)[%d] = %d, want %d", tc.text, i, got[i], tc.want[i])
			}
		}
	}
}

func Test_Snippet_RuneSafeTruncation(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("ğ", 50)
	got := snippet(s, 10)
	if got != strings.Repeat("ğ", 10)+"..." {
		t.Errorf("snippet split a multi-byte rune: %q", got)
	}
	if snippet("kısa", 100) != "kısa" {
		t.Error("short strings must pass through unchanged")
	}
}

func Test_CosineSimilarity(t *testing.T) {
	t.Parallel()

	if sim := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(sim-1) > 1e-9 {
		t.Errorf("identical vectors: sim = %f, want 1", sim)
	}
	if sim := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(sim) > 1e-9 {
		t.Errorf("orthogonal vectors: sim = %f, want 0", sim)
	}
	if sim := cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); sim != 0 {
		t.Errorf("mismatched lengths: sim = %f, want 0", sim)
	}
	if sim := cosineSimilarity(nil, nil); sim != 0 {
		t.Errorf("empty vectors: sim = %f, want 0", sim)
	}
}

func Test_DocumentID_Deterministic(t *testing.T) {
	t.Parallel()

	meta := Metadata{"subject": "matematik", "grade": "11"}
	a := DocumentID("türev konusu", meta)
	b := DocumentID("türev konusu", Metadata{"grade": "11", "subject": "matematik"})
	if a != b {
		t.Errorf("IDs must be independent of metadata key order: %q != %q", a, b)
	}
	if len(a) != 32 {
		t.Errorf("ID length = %d, want 32 hex chars", len(a))
	}
	if c := DocumentID("türev konusu", Metadata{"subject": "fizik"}); c == a {
		t.Error("different metadata must yield a different ID")
	}
	if c := DocumentID("başka içerik", meta); c == a {
		t.Error("different content must yield a different ID")
	}
}

func Test_ContentHash_Stable(t *testing.T) {
	t.Parallel()

	a := ContentHash("aynı metin")
	b := ContentHash("aynı metin")
	if a != b {
		t.Errorf("hash must be stable: %q != %q", a, b)
	}
	if len(a) != 32 {
		t.Errorf("hash length = %d, want 32 hex chars", len(a))
	}
	if ContentHash("farklı metin") == a {
		t.Error("different text must yield a different hash")
	}
}
