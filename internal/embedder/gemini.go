// Package embedder provides implementations of the rag.Embedder interface for
// converting text into dense vector embeddings, plus a persistent cache
// wrapper that memoizes embeddings by content hash. Gemini is the primary
// backend; OpenAI, Azure OpenAI, and Ollama are available via plain HTTP for
// deployments without Google API access.
package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiEmbedder implements rag.Embedder using the Gemini embedding API via
// the official genai SDK. Safe for concurrent use.
type GeminiEmbedder struct {
	// client is the shared genai client.
	client *genai.Client
	// model is the embedding model name (e.g. "text-embedding-004").
	model string
	// dimensions requests a specific output dimensionality (0 = model default).
	dimensions int
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	// APIKey is the Gemini API key.
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-004").
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
}

// NewGeminiEmbedder constructs a GeminiEmbedder from the given config.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini embedder: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: create client: %w", err)
	}

	return &GeminiEmbedder{
		client:     client,
		model:      model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	cfg := &genai.EmbedContentConfig{}
	if e.dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(e.dimensions))
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: embed content: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embedder: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	embeddings := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("gemini embedder: empty embedding at index %d", i)
		}
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}
