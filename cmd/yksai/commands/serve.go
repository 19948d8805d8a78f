package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/bilgeai/yksai-go/internal/ingestion"
	"github.com/bilgeai/yksai-go/internal/logging"
	"github.com/bilgeai/yksai-go/internal/server"
	"github.com/bilgeai/yksai-go/internal/tracing"
)

// NewServeCmd constructs the `yksai serve` command, which starts the HTTP
// server exposing the study assistant API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the YKS-AI HTTP server",
		Long: `Start the YKS-AI HTTP server.

The server exposes a REST API for question answering (/api/ask), semantic
search (/api/search), curriculum analysis (/api/curriculum/*), document
ingestion (/api/documents), plus health, readiness, and Prometheus metrics
endpoints.

Set YKSAI_API_KEY to require Bearer authentication on the API routes.

Examples:
  yksai serve
  yksai serve --port 9090
  MODEL_PROVIDER=ollama yksai serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing, opt-in and no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			s, err := buildStack(ctx, log, true)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer s.Close()

			pipeline, err := ingestion.NewPipeline(s.Embedder, s.Store, &ingestion.Config{Logger: log})
			if err != nil {
				return fmt.Errorf("serve: failed to create pipeline: %w", err)
			}

			if host == "" {
				host = getEnvOrDefault("YKSAI_SERVER_HOST", "127.0.0.1")
			}
			if port == 0 {
				port = getEnvInt("YKSAI_SERVER_PORT", 8080)
			}

			srv, err := server.New(s.Engine, pipeline, &server.Config{
				Host:     host,
				Port:     port,
				Logger:   log,
				Pingers:  s.Pingers,
				APIKey:   os.Getenv("YKSAI_API_KEY"),
				Registry: prometheus.DefaultRegisterer,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx) //nolint:wrapcheck // CLI entry point, error goes directly to cobra
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: 8080)")

	return cmd
}
