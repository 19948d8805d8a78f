package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bilgeai/yksai-go/internal/logging"
	"github.com/bilgeai/yksai-go/internal/rag"
)

// NewSearchCmd constructs the `yksai search` command, which runs a semantic
// search against the vector store and prints the scored results.
func NewSearchCmd() *cobra.Command {
	var collections []string
	var n int
	var filters []string
	var weakSubjects []string
	var examTarget string

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the indexed study material",
		Long: `Run a semantic search across the indexed collections and print the
scored results. No model API key is required; search uses only the
embedding provider.

Examples:
  yksai search "integral alma teknikleri"
  yksai search --collection curriculum -n 10 "hücre bölünmesi"
  yksai search --filter subject=matematik "türev"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			s, err := buildStack(ctx, log, false)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer s.Close()

			filter, err := parseFilters(filters)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			opts := &rag.SearchOptions{
				Collections: collections,
				N:           n,
				Filter:      filter,
			}
			if len(weakSubjects) > 0 || examTarget != "" {
				opts.User = &rag.UserContext{WeakSubjects: weakSubjects, ExamTarget: examTarget}
			}

			results, err := s.Engine.Search(ctx, strings.Join(args, " "), opts)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if len(results) == 0 {
				fmt.Println("Sonuç bulunamadı.")
				return nil
			}

			for i, res := range results {
				fmt.Printf("%d. [%.3f] %s (%s)\n", i+1, res.Score, firstLine(res.Content), res.Collection)
				if subject := res.Metadata["subject"]; subject != "" {
					fmt.Printf("   subject=%s grade=%s\n", subject, res.Metadata["grade"])
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&collections, "collection", "c", nil, "Collection to search (repeatable, default: all)")
	cmd.Flags().IntVarP(&n, "num", "n", 5, "Number of results")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "Metadata filter as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&weakSubjects, "weak-subject", nil, "Subject to boost in scoring (repeatable)")
	cmd.Flags().StringVar(&examTarget, "exam-target", "", "Exam type to boost in scoring")

	return cmd
}

// parseFilters converts key=value flags into a metadata filter.
func parseFilters(pairs []string) (rag.Metadata, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filter := make(rag.Metadata, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q (expected key=value)", pair)
		}
		filter[key] = value
	}
	return filter, nil
}
