package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bilgeai/yksai-go/internal/ingestion"
	"github.com/bilgeai/yksai-go/internal/logging"
	"github.com/bilgeai/yksai-go/internal/rag"
)

// ingestLine is the JSONL wire form of one document to ingest.
type ingestLine struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewIngestCmd constructs the `yksai ingest` command, which reads documents
// from a JSONL file and indexes them into the vector store.
func NewIngestCmd() *cobra.Command {
	var collection string
	var file string
	var batchSize int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents into the vector store",
		Long: `Read documents from a JSONL file and index them into the vector store.

Each line is a JSON object with a "content" field and an optional "metadata"
object of string values. Documents are deduplicated by content hash, so
re-running the same file is idempotent.

Examples:
  yksai ingest --file notes.jsonl
  yksai ingest --collection questions --file past_questions.jsonl
  yksai ingest --file - < documents.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if file == "" {
				return fmt.Errorf("ingest: --file is required")
			}

			s, err := buildStack(ctx, log, false)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer s.Close()

			records, err := readRecords(file)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if len(records) == 0 {
				return fmt.Errorf("ingest: no records found in %s", file)
			}

			pipeline, err := ingestion.NewPipeline(s.Embedder, s.Store, &ingestion.Config{
				BatchSize: batchSize,
				Logger:    log,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			report, err := pipeline.Ingest(ctx, collection, records)
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			log.Info("ingestion complete",
				slog.String("collection", collection),
				slog.Int("ingested", report.Ingested),
				slog.Int("skipped", report.Skipped),
				slog.Int("failed", report.Failed),
			)
			fmt.Printf("ingested %d, skipped %d, failed %d\n", report.Ingested, report.Skipped, report.Failed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "c", rag.CollectionDocuments, "Target collection")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSONL file to ingest (- for stdin)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records per embedding batch (default 100)")

	return cmd
}

// readRecords parses a JSONL file into ingestion records. Blank lines are
// skipped; a malformed line aborts with its line number.
func readRecords(path string) ([]ingestion.Record, error) {
	var in *os.File
	if path == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		in = f
	}

	var records []ingestion.Record
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ingestLine
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		records = append(records, ingestion.Record{
			Content:  rec.Content,
			Metadata: rag.Metadata(rec.Metadata),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, nil
}
