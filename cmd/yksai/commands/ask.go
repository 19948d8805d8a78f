package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bilgeai/yksai-go/internal/logging"
	"github.com/bilgeai/yksai-go/internal/rag"
)

// NewAskCmd constructs the `yksai ask` command, which answers a single
// natural language question grounded on retrieved study material.
func NewAskCmd() *cobra.Command {
	var userID string
	var weakSubjects []string
	var examTarget string
	var remember bool
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the study assistant a question",
		Long: `Ask a natural language question about YKS exam topics.

The assistant retrieves the most relevant curriculum topics, documents, and
past conversations from the vector store and generates a grounded answer
in Turkish.

Examples:
  yksai ask "türev nedir ve nerede kullanılır?"
  yksai ask --weak-subject fizik "elektrik alan nasıl hesaplanır?"
  yksai ask --user ali --remember "limit kavramını açıklar mısın?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			s, err := buildStack(ctx, log, true)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer s.Close()

			question := strings.Join(args, " ")
			user := &rag.UserContext{
				UserID:       userID,
				WeakSubjects: weakSubjects,
				ExamTarget:   examTarget,
			}

			results, err := s.Engine.Search(ctx, question, &rag.SearchOptions{User: user})
			if err != nil {
				return fmt.Errorf("ask: retrieval failed: %w", err)
			}

			answer := s.Engine.Answer(ctx, question, results, user)
			fmt.Println(answer)

			if showSources && len(results) > 0 {
				fmt.Println("\nKaynaklar:")
				for _, res := range results {
					fmt.Printf("  [%.2f] %s: %s\n", res.Score, res.Collection, firstLine(res.Content))
				}
			}

			if remember {
				meta := rag.Metadata{}
				if userID != "" {
					meta["user_id"] = userID
				}
				if err := s.Engine.AddConversation(ctx, question, answer, meta); err != nil {
					log.Warn("ask: conversation not stored", "error", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID for conversation memory and personalization")
	cmd.Flags().StringArrayVar(&weakSubjects, "weak-subject", nil, "Subject the student struggles with (repeatable)")
	cmd.Flags().StringVar(&examTarget, "exam-target", "YKS", "Targeted exam type")
	cmd.Flags().BoolVar(&remember, "remember", false, "Store this exchange in conversation memory")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Print the retrieved sources after the answer")

	return cmd
}

// firstLine returns the first line of s, truncated to 100 runes.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > 100 {
		return string(runes[:100]) + "..."
	}
	return s
}
