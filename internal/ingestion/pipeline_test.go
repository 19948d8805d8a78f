package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bilgeai/yksai-go/internal/rag"
	"github.com/bilgeai/yksai-go/internal/store"
)

// lengthEmbedder returns deterministic vectors derived from text length,
// optionally failing on a specific batch ordinal.
type lengthEmbedder struct {
	calls       int
	failOnBatch int // 1-based; 0 = never fail
}

func (e *lengthEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.failOnBatch > 0 && e.calls == e.failOnBatch {
		return nil, fmt.Errorf("synthetic embed failure")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

// newTestPipeline wires a pipeline onto an in-memory store.
func newTestPipeline(t *testing.T, emb rag.Embedder, cfg *Config) (*Pipeline, *store.SQLiteStore) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	p, err := NewPipeline(emb, s, cfg)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return p, s
}

func Test_Pipeline_SkipsEmptyContent(t *testing.T) {
	t.Parallel()
	p, s := newTestPipeline(t, &lengthEmbedder{}, nil)
	ctx := context.Background()

	report, err := p.Ingest(ctx, rag.CollectionDocuments, []Record{
		{Content: "geçerli içerik"},
		{Content: "   "},
		{Content: ""},
		{Content: "başka içerik"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if report.Ingested != 2 || report.Skipped != 2 {
		t.Errorf("report = %+v, want 2 ingested, 2 skipped", report)
	}

	n, err := s.Count(ctx, rag.CollectionDocuments)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func Test_Pipeline_IdempotentReingestion(t *testing.T) {
	t.Parallel()
	p, s := newTestPipeline(t, &lengthEmbedder{}, nil)
	ctx := context.Background()

	records := []Record{
		{Content: "limit tanımı", Metadata: rag.Metadata{"subject": "matematik"}},
		{Content: "türev tanımı", Metadata: rag.Metadata{"subject": "matematik"}},
	}

	if _, err := p.Ingest(ctx, rag.CollectionDocuments, records); err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	first, err := s.Count(ctx, rag.CollectionDocuments)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if first != 2 {
		t.Fatalf("Count after first ingest = %d, want 2", first)
	}

	if _, err := p.Ingest(ctx, rag.CollectionDocuments, records); err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}
	second, err := s.Count(ctx, rag.CollectionDocuments)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if second != first {
		t.Errorf("Count grew from %d to %d, re-ingestion must replace, not duplicate", first, second)
	}

	// The stored ID must be derived from the caller's metadata alone. If the
	// ingestion timestamp leaked into the hash, a later re-ingest would mint
	// a fresh ID for the same logical record.
	results, err := s.Query(ctx, rag.CollectionDocuments, []float32{float32(len(records[0].Content)), 1}, 1, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Query returned %d results, want 1", len(results))
	}
	if want := rag.DocumentID(results[0].Content, rag.Metadata{"subject": "matematik"}); results[0].ID != want {
		t.Errorf("stored ID = %q, want time-independent %q", results[0].ID, want)
	}
}

func Test_Pipeline_InBatchDuplicatesGetSuffixes(t *testing.T) {
	t.Parallel()
	p, s := newTestPipeline(t, &lengthEmbedder{}, nil)
	ctx := context.Background()

	records := []Record{
		{Content: "aynı içerik"},
		{Content: "aynı içerik"},
		{Content: "aynı içerik"},
	}
	report, err := p.Ingest(ctx, rag.CollectionDocuments, records)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if report.Ingested != 3 {
		t.Errorf("Ingested = %d, want 3", report.Ingested)
	}

	n, err := s.Count(ctx, rag.CollectionDocuments)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3 distinct suffixed records", n)
	}
}

func Test_Pipeline_FailedBatchDoesNotAbortCall(t *testing.T) {
	t.Parallel()
	emb := &lengthEmbedder{failOnBatch: 1}
	p, s := newTestPipeline(t, emb, &Config{BatchSize: 2})
	ctx := context.Background()

	records := []Record{
		{Content: "bir"},
		{Content: "iki"},
		{Content: "üç"},
		{Content: "dört"},
	}
	report, err := p.Ingest(ctx, rag.CollectionDocuments, records)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if report.Failed != 2 || report.Ingested != 2 {
		t.Errorf("report = %+v, want 2 failed (first batch), 2 ingested", report)
	}

	n, err := s.Count(ctx, rag.CollectionDocuments)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func Test_Pipeline_ShutdownMidIngestIsBenign(t *testing.T) {
	t.Parallel()
	p, s := newTestPipeline(t, &lengthEmbedder{}, nil)
	ctx := context.Background()

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	report, err := p.Ingest(ctx, rag.CollectionDocuments, []Record{{Content: "geç kalan"}})
	if err != nil {
		t.Errorf("Ingest after shutdown = %v, want nil (benign)", err)
	}
	if report.Ingested != 0 {
		t.Errorf("Ingested = %d, want 0", report.Ingested)
	}
}

// writeCurriculumFixture writes a small curriculum file and returns its dir.
func writeCurriculumFixture(t *testing.T) string {
	t.Helper()
	const data = `{
  "yks": {
    "fizik": {
      "9": {
        "alt": {
          "1": {
            "baslik": "Kuvvet ve Hareket",
            "terimler_ve_kavramlar": ["kuvvet", "ivme"],
            "aciklama": "Newton hareket yasaları."
          }
        }
      }
    }
  }
}`
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "fizik.json"), []byte(data), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return dir
}

func Test_Pipeline_LoadCurriculum(t *testing.T) {
	t.Parallel()
	p, s := newTestPipeline(t, &lengthEmbedder{}, nil)
	ctx := context.Background()
	dir := writeCurriculumFixture(t)

	report, err := p.LoadCurriculum(ctx, dir, false)
	if err != nil {
		t.Fatalf("LoadCurriculum failed: %v", err)
	}
	if report.Ingested != 1 {
		t.Errorf("Ingested = %d, want 1", report.Ingested)
	}

	results, err := s.Query(ctx, rag.CollectionCurriculum, []float32{1, 1}, 1, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Query returned %d results, want 1", len(results))
	}
	doc := results[0]
	if !strings.Contains(doc.Content, "Başlık: Kuvvet ve Hareket") {
		t.Errorf("content missing title section: %q", doc.Content)
	}
	if doc.Metadata["subject"] != "fizik" || doc.Metadata["grade"] != "9" {
		t.Errorf("metadata = %v, want subject fizik grade 9", doc.Metadata)
	}
	if doc.Metadata["exam_type"] != "YKS" || doc.Metadata["topic_type"] != "curriculum" {
		t.Errorf("metadata = %v, want exam_type YKS topic_type curriculum", doc.Metadata)
	}
	if doc.Metadata["added_at"] == "" {
		t.Error("added_at metadata missing")
	}
}

func Test_Pipeline_LoadCurriculumWarmStartSkips(t *testing.T) {
	t.Parallel()
	p, s := newTestPipeline(t, &lengthEmbedder{}, nil)
	ctx := context.Background()
	dir := writeCurriculumFixture(t)

	if _, err := p.LoadCurriculum(ctx, dir, false); err != nil {
		t.Fatalf("first LoadCurriculum failed: %v", err)
	}

	report, err := p.LoadCurriculum(ctx, dir, false)
	if err != nil {
		t.Fatalf("warm-start LoadCurriculum failed: %v", err)
	}
	if report.Ingested != 0 {
		t.Errorf("warm-start Ingested = %d, want 0", report.Ingested)
	}

	n, err := s.Count(ctx, rag.CollectionCurriculum)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func Test_Pipeline_LoadCurriculumForceReloads(t *testing.T) {
	t.Parallel()
	p, s := newTestPipeline(t, &lengthEmbedder{}, nil)
	ctx := context.Background()
	dir := writeCurriculumFixture(t)

	if _, err := p.LoadCurriculum(ctx, dir, false); err != nil {
		t.Fatalf("first LoadCurriculum failed: %v", err)
	}

	report, err := p.LoadCurriculum(ctx, dir, true)
	if err != nil {
		t.Fatalf("forced LoadCurriculum failed: %v", err)
	}
	if report.Ingested != 1 {
		t.Errorf("forced Ingested = %d, want 1", report.Ingested)
	}

	n, err := s.Count(ctx, rag.CollectionCurriculum)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count after forced reload = %d, want 1 (no stale records)", n)
	}
}
