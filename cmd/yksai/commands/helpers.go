package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bilgeai/yksai-go/internal/embedder"
	"github.com/bilgeai/yksai-go/internal/provider"
	"github.com/bilgeai/yksai-go/internal/rag"
	"github.com/bilgeai/yksai-go/internal/server"
	"github.com/bilgeai/yksai-go/internal/store"
)

// stack bundles the wired retrieval components shared by the CLI commands.
type stack struct {
	// Store is the vector store backend.
	Store rag.VectorStore
	// Embedder is the (cache-wrapped) embedding provider.
	Embedder rag.Embedder
	// Engine is the retrieval and answer engine.
	Engine *rag.Engine
	// Cache is the embedding cache, nil when caching is disabled.
	Cache *embedder.Cache
	// Pingers are the readiness probes for the wired dependencies.
	Pingers []server.Pinger
}

// Close flushes the embedding cache and closes the store.
func (s *stack) Close() {
	if s.Cache != nil {
		s.Cache.Flush()
	}
	if s.Store != nil {
		_ = s.Store.Close()
	}
}

// buildStack wires store, embedder, generator, and engine from the
// environment. When withGenerator is false the engine runs retrieval-only,
// which avoids requiring a model API key for search and ingestion commands.
func buildStack(ctx context.Context, log *slog.Logger, withGenerator bool) (*stack, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err //nolint:wrapcheck // validation errors are already descriptive
	}

	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	s := &stack{}

	// Wrap the embedder with the persistent cache unless disabled.
	cachePath := cachePathFromEnv()
	if cachePath != "" {
		s.Cache = embedder.OpenCache(cachePath, log)
		emb = embedder.NewCachingEmbedder(emb, s.Cache)
		log.Info("embedding cache enabled", slog.String("path", cachePath))
	}
	s.Embedder = emb

	vectorStore, pinger, err := buildStore(ctx, log)
	if err != nil {
		return nil, err
	}
	s.Store = vectorStore
	if pinger != nil {
		s.Pingers = append(s.Pingers, pinger)
	}

	var generator rag.Generator
	if withGenerator {
		chatModel, chatErr := provider.NewFromEnv(ctx)
		if chatErr != nil {
			return nil, fmt.Errorf("failed to initialise model provider: %w", chatErr)
		}
		generator, err = provider.NewChatGenerator(chatModel, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise generator: %w", err)
		}
	}

	engine, err := rag.NewEngine(ctx, &rag.EngineConfig{
		Store:     vectorStore,
		Embedder:  emb,
		Generator: generator,
		Defaults:  searchDefaultsFromEnv(),
		Logger:    log,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialise engine: %w", err)
	}
	s.Engine = engine

	return s, nil
}

// buildStore opens the vector store selected by YKSAI_STORE_BACKEND:
// "sqlite" (default, local file) or "qdrant" (remote cluster).
func buildStore(ctx context.Context, log *slog.Logger) (rag.VectorStore, server.Pinger, error) {
	backend := getEnvOrDefault("YKSAI_STORE_BACKEND", "sqlite")
	switch backend {
	case "sqlite":
		dir := os.Getenv("YKSAI_STORE_DIR")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to resolve home directory for store: %w", err)
			}
			dir = filepath.Join(home, ".yksai", "store")
		}
		st, err := store.Open(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store at %s: %w", dir, err)
		}
		log.Info("sqlite store ready", slog.String("dir", dir))
		return st, st, nil

	case "qdrant":
		host := getEnvOrDefault("QDRANT_HOST", "localhost")
		port := getEnvInt("QDRANT_PORT", 6334)
		embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "gemini"))
		dims := getEnvInt("EMBEDDING_DIMENSIONS", embedder.DefaultDimensions(embBackend))

		st, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
			Host:       host,
			Port:       port,
			VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
		}
		log.Info("qdrant store ready", slog.String("host", host), slog.Int("port", port))
		return st, st, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q (expected sqlite or qdrant)", backend)
	}
}

// cachePathFromEnv resolves the embedding cache path. YKSAI_EMBED_CACHE
// overrides the default (~/.yksai/embeddings.bin); "disabled" turns
// caching off entirely.
func cachePathFromEnv() string {
	path := os.Getenv("YKSAI_EMBED_CACHE")
	if path == "disabled" {
		return ""
	}
	if path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".yksai", "embeddings.bin")
}

// searchDefaultsFromEnv builds the engine's default search configuration,
// applying the SEARCH_* overrides that config.Load projects into the env.
func searchDefaultsFromEnv() *rag.SearchConfig {
	cfg := rag.DefaultSearchConfig()
	if v := getEnvFloat("SEARCH_SEMANTIC_WEIGHT", -1); v >= 0 {
		cfg.SemanticWeight = v
	}
	if v := getEnvFloat("SEARCH_KEYWORD_WEIGHT", -1); v >= 0 {
		cfg.KeywordWeight = v
	}
	if v := getEnvFloat("SEARCH_MMR_LAMBDA", -1); v >= 0 {
		cfg.MMRLambda = v
	}
	return &cfg
}

// getEnvOrDefault returns the env var value or fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as int, or fallback when unset or
// unparseable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat returns the env var parsed as float64, or fallback when
// unset or unparseable.
func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
