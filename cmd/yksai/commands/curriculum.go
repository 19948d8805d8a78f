package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bilgeai/yksai-go/internal/ingestion"
	"github.com/bilgeai/yksai-go/internal/logging"
	"github.com/bilgeai/yksai-go/internal/rag"
)

// NewCurriculumCmd constructs the `yksai curriculum` command group.
func NewCurriculumCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "curriculum",
		Short: "Load and analyse the YKS curriculum",
	}
	cmd.AddCommand(
		newCurriculumLoadCmd(),
		newCurriculumSearchCmd(),
		newCurriculumRelatedCmd(),
		newCurriculumCoverageCmd(),
	)
	return cmd
}

// newCurriculumLoadCmd constructs `yksai curriculum load`, which indexes the
// curriculum JSON files into the vector store.
func newCurriculumLoadCmd() *cobra.Command {
	var dir string
	var force bool

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Index curriculum JSON files into the vector store",
		Long: `Flatten the curriculum JSON files into topics and index them into the
curriculum collection. Loading is skipped when the collection is already
populated; use --force to clear and reload.

Examples:
  yksai curriculum load --dir ./mufredat
  yksai curriculum load --dir ./mufredat --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if dir == "" {
				dir = os.Getenv("YKSAI_CURRICULUM_DIR")
			}
			if dir == "" {
				return fmt.Errorf("curriculum load: --dir or YKSAI_CURRICULUM_DIR is required")
			}

			s, err := buildStack(ctx, log, false)
			if err != nil {
				return fmt.Errorf("curriculum load: %w", err)
			}
			defer s.Close()

			pipeline, err := ingestion.NewPipeline(s.Embedder, s.Store, &ingestion.Config{Logger: log})
			if err != nil {
				return fmt.Errorf("curriculum load: failed to create pipeline: %w", err)
			}

			report, err := pipeline.LoadCurriculum(ctx, dir, force)
			if err != nil {
				return fmt.Errorf("curriculum load: %w", err)
			}

			log.Info("curriculum load complete",
				slog.String("dir", dir),
				slog.Int("ingested", report.Ingested),
				slog.Int("skipped", report.Skipped),
				slog.Int("failed", report.Failed),
			)
			fmt.Printf("ingested %d, skipped %d, failed %d\n", report.Ingested, report.Skipped, report.Failed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory holding the curriculum JSON files")
	cmd.Flags().BoolVar(&force, "force", false, "Clear the curriculum collection and reload")

	return cmd
}

// newCurriculumSearchCmd constructs `yksai curriculum search`, which searches
// within the student's selected topics.
func newCurriculumSearchCmd() *cobra.Command {
	var topics []string
	var n int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search within selected curriculum topics",
		Long: `Search the curriculum collection restricted to the selected topics.
Topics are given as subject:grade:title triples. Without a query, the topic
titles themselves are used as the search text.

Examples:
  yksai curriculum search --topic "matematik:11:Türev" "zincir kuralı"
  yksai curriculum search --topic "fizik:10:Kuvvet" --topic "fizik:10:Hareket"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			selected, err := parseTopics(topics)
			if err != nil {
				return fmt.Errorf("curriculum search: %w", err)
			}

			s, err := buildStack(ctx, log, false)
			if err != nil {
				return fmt.Errorf("curriculum search: %w", err)
			}
			defer s.Close()

			results, err := s.Engine.SearchByTopics(ctx, selected, strings.Join(args, " "), n)
			if err != nil {
				return fmt.Errorf("curriculum search: %w", err)
			}
			printResults(results)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&topics, "topic", "t", nil, "Selected topic as subject:grade:title (repeatable)")
	cmd.Flags().IntVarP(&n, "num", "n", 10, "Number of results")
	_ = cmd.MarkFlagRequired("topic")

	return cmd
}

// newCurriculumRelatedCmd constructs `yksai curriculum related`, which finds
// topics related to the student's selection.
func newCurriculumRelatedCmd() *cobra.Command {
	var topics []string
	var relation string

	cmd := &cobra.Command{
		Use:   "related",
		Short: "Find topics related to a selection",
		Long: `Find curriculum topics related to the selected ones. The relation is
similar (same grade), prerequisite (one grade below), or advanced (one
grade above).

Examples:
  yksai curriculum related --topic "matematik:11:Türev" --relation prerequisite
  yksai curriculum related --topic "kimya:9:Atom" --relation advanced`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			selected, err := parseTopics(topics)
			if err != nil {
				return fmt.Errorf("curriculum related: %w", err)
			}

			s, err := buildStack(ctx, log, false)
			if err != nil {
				return fmt.Errorf("curriculum related: %w", err)
			}
			defer s.Close()

			results, err := s.Engine.RelatedContent(ctx, selected, relation)
			if err != nil {
				return fmt.Errorf("curriculum related: %w", err)
			}
			printResults(results)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&topics, "topic", "t", nil, "Selected topic as subject:grade:title (repeatable)")
	cmd.Flags().StringVarP(&relation, "relation", "r", "similar", "Relation type: similar, prerequisite, advanced")
	_ = cmd.MarkFlagRequired("topic")

	return cmd
}

// newCurriculumCoverageCmd constructs `yksai curriculum coverage`, which
// reports how well a selection covers the curriculum.
func newCurriculumCoverageCmd() *cobra.Command {
	var topics []string

	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Analyse curriculum coverage of a topic selection",
		Long: `Report per-subject coverage of the selected topics against the indexed
curriculum, including missing topic samples and study recommendations.
Output is JSON.

Example:
  yksai curriculum coverage --topic "matematik:11:Türev" --topic "matematik:11:Limit"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			selected, err := parseTopics(topics)
			if err != nil {
				return fmt.Errorf("curriculum coverage: %w", err)
			}

			s, err := buildStack(ctx, log, false)
			if err != nil {
				return fmt.Errorf("curriculum coverage: %w", err)
			}
			defer s.Close()

			report, err := s.Engine.CoverageAnalysis(ctx, selected)
			if err != nil {
				return fmt.Errorf("curriculum coverage: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("curriculum coverage: encode report: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&topics, "topic", "t", nil, "Selected topic as subject:grade:title (repeatable)")
	_ = cmd.MarkFlagRequired("topic")

	return cmd
}

// parseTopics converts subject:grade:title flags into topic selections.
// The title part may itself contain colons.
func parseTopics(specs []string) ([]rag.TopicSelection, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one --topic is required")
	}
	selected := make([]rag.TopicSelection, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("invalid topic %q (expected subject:grade:title)", spec)
		}
		selected = append(selected, rag.TopicSelection{
			Subject: parts[0],
			Grade:   parts[1],
			Title:   parts[2],
		})
	}
	return selected, nil
}

// printResults writes scored hits to stdout, one per line.
func printResults(results []rag.Result) {
	if len(results) == 0 {
		fmt.Println("Sonuç bulunamadı.")
		return
	}
	for i, res := range results {
		fmt.Printf("%d. [%.3f] %s\n", i+1, res.Score, firstLine(res.Content))
		if subject := res.Metadata["subject"]; subject != "" {
			fmt.Printf("   subject=%s grade=%s\n", subject, res.Metadata["grade"])
		}
	}
}
