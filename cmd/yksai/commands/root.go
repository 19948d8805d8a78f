// Package commands defines all Cobra CLI commands for the yksai binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/bilgeai/yksai-go/internal/audit"
	"github.com/bilgeai/yksai-go/internal/config"
	"github.com/bilgeai/yksai-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "yksai",
		Short: "YKS-AI, an AI study assistant for Turkish university entrance exams",
		Long: `YKS-AI is a retrieval-augmented study assistant for students preparing
for the YKS university entrance exams.

It indexes curriculum topics, documents, past questions, and study material
into a vector store, retrieves the most relevant passages for a question,
and generates grounded answers in Turkish.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.yksai/config.yaml).
See 'yksai --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.yksai/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewSearchCmd(),
		NewIngestCmd(),
		NewCurriculumCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
