// Package ingestion implements the content ingestion pipeline: records are
// deduplicated by content hash, embedded in batches (through the embedding
// cache when wired), and upserted into the vector store. The curriculum
// loader feeds this pipeline for the `yksai ingest` CLI command; web,
// YouTube, and document content arrive through the server API.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bilgeai/yksai-go/internal/curriculum"
	"github.com/bilgeai/yksai-go/internal/rag"
)

// Record is one piece of content submitted for ingestion.
type Record struct {
	// Content is the raw text. Empty or whitespace-only content is skipped.
	Content string

	// Metadata is attached to the stored document and feeds the
	// deterministic ID.
	Metadata rag.Metadata
}

// Report summarizes one Ingest call.
type Report struct {
	// Ingested is the number of documents written to the store.
	Ingested int

	// Skipped is the number of records dropped for empty content.
	Skipped int

	// Failed is the number of records lost to failed batches.
	Failed int
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// BatchSize is the number of records embedded and upserted per batch.
	// Defaults to 100 if zero.
	BatchSize int

	// Logger receives structured diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// Pipeline orchestrates the dedup → embed → upsert flow.
type Pipeline struct {
	// embedder converts record content into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded documents.
	store rag.VectorStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	log *slog.Logger
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		log:      log,
	}, nil
}

// Ingest deduplicates, embeds, and stores records into the collection.
// Empty-content records are skipped without aborting the call. Records whose
// deterministic ID collides within the call get a numeric suffix so none are
// silently lost. Batches that fail to embed or upsert are logged and
// dropped; the rest of the call continues. A store shutdown mid-ingest is
// benign: the report covers what was written before the shutdown.
func (p *Pipeline) Ingest(ctx context.Context, collection string, records []Record) (*Report, error) {
	report := &Report{}
	now := time.Now().UTC().Format(time.RFC3339)

	seen := make(map[string]int)
	var docs []rag.Document
	for _, rec := range records {
		if strings.TrimSpace(rec.Content) == "" {
			report.Skipped++
			continue
		}

		// The ID is derived from the caller-supplied metadata only; the
		// ingestion timestamp must not feed it or re-ingesting the same
		// record in a later second would mint a new ID.
		id := rag.DocumentID(rec.Content, rec.Metadata)
		meta := rec.Metadata.Clone()
		meta["added_at"] = now
		if n := seen[id]; n > 0 {
			seen[id] = n + 1
			id = fmt.Sprintf("%s-%d", id, n)
		} else {
			seen[id] = 1
		}

		docs = append(docs, rag.Document{
			ID:       id,
			Content:  rec.Content,
			Metadata: meta,
		})
	}
	if len(docs) == 0 {
		return report, nil
	}

	for start := 0; start < len(docs); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		if err := p.ingestBatch(ctx, collection, batch); err != nil {
			if errors.Is(err, rag.ErrShutdown) {
				p.log.Info("ingestion: store shutting down, stopping",
					slog.String("collection", collection),
					slog.Int("ingested", report.Ingested))
				report.Failed += len(docs) - start
				return report, nil
			}
			p.log.Error("ingestion: batch failed, continuing",
				slog.String("collection", collection),
				slog.Int("batch_start", start),
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
			report.Failed += len(batch)
			continue
		}
		report.Ingested += len(batch)
	}

	p.log.Info("ingestion: completed",
		slog.String("collection", collection),
		slog.Int("ingested", report.Ingested),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed))
	return report, nil
}

// ingestBatch embeds one batch and writes it to the store.
func (p *Pipeline) ingestBatch(ctx context.Context, collection string, batch []rag.Document) error {
	texts := make([]string, len(batch))
	for i, doc := range batch {
		texts[i] = doc.Content
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vectors))
	}
	for i := range batch {
		batch[i].Embedding = vectors[i]
	}

	if err := p.store.Upsert(ctx, collection, batch); err != nil {
		return err
	}
	return nil
}

// LoadCurriculum ingests every curriculum JSON file in dir into the
// curriculum collection. When the collection already holds documents and
// force is false the call is a warm-start no-op. With force the collection
// is cleared first so stale topic records never survive a reload.
func (p *Pipeline) LoadCurriculum(ctx context.Context, dir string, force bool) (*Report, error) {
	count, err := p.store.Count(ctx, rag.CollectionCurriculum)
	if err != nil && !errors.Is(err, rag.ErrShutdown) {
		return nil, fmt.Errorf("ingestion: counting curriculum collection: %w", err)
	}
	if count > 0 && !force {
		p.log.Info("ingestion: curriculum already loaded, skipping",
			slog.Int("documents", count))
		return &Report{}, nil
	}
	if count > 0 && force {
		if err := p.store.Clear(ctx, rag.CollectionCurriculum); err != nil {
			return nil, fmt.Errorf("ingestion: clearing curriculum collection: %w", err)
		}
		p.log.Info("ingestion: cleared curriculum collection for reload",
			slog.Int("removed", count))
	}

	topics, problems := curriculum.LoadDir(dir)
	for _, problem := range problems {
		p.log.Warn("ingestion: curriculum file skipped",
			slog.String("error", problem.Error()))
	}
	if len(topics) == 0 {
		p.log.Warn("ingestion: no curriculum topics found", slog.String("dir", dir))
		return &Report{}, nil
	}

	records := make([]Record, 0, len(topics))
	for _, topic := range topics {
		records = append(records, Record{
			Content: topic.Content(),
			Metadata: rag.Metadata{
				"subject":    topic.Subject,
				"grade":      topic.Grade,
				"code":       topic.Code,
				"title":      topic.Title,
				"source":     topic.SourceFile,
				"exam_type":  "YKS",
				"topic_type": "curriculum",
			},
		})
	}

	return p.Ingest(ctx, rag.CollectionCurriculum, records)
}
