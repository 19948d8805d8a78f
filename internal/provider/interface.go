// Package provider selects and constructs the LLM chat backend at runtime
// and adapts it to the rag.Generator interface used by answer generation and
// re-ranking. Supported backends: Google Gemini, Ollama, OpenAI, Azure
// OpenAI, AWS Bedrock.
package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendGemini selects Google Gemini via AI Studio. This is the
	// default backend.
	BackendGemini Backend = "gemini"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
)

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	// Model is the model name or deployment ID to use
	// (e.g. "gemini-1.5-flash", "gpt-4o", "llama3").
	Model string

	// BaseURL overrides the default API endpoint (required for Ollama and Azure).
	BaseURL string

	// APIKey is the authentication credential for the selected provider.
	// For Bedrock this field is unused; AWS credentials are resolved via the SDK chain.
	APIKey string

	// AzureDeployment is the Azure OpenAI deployment name (Azure only).
	AzureDeployment string

	// AzureAPIVersion is the Azure OpenAI REST API version (Azure only).
	// Populated from AZURE_OPENAI_API_VERSION (e.g. "2024-02-01").
	AzureAPIVersion string

	// AWSRegion is the AWS region for Bedrock (Bedrock only).
	AWSRegion string

	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Validate checks the config for backend-specific required fields so callers
// get a clear error at startup rather than on the first request.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGemini:
		if c.APIKey == "" {
			return fmt.Errorf("provider: GEMINI_API_KEY is required for gemini backend")
		}
	case BackendOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
	case BackendAzure:
		if c.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.BaseURL == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureDeployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendBedrock:
		if c.Model == "" {
			return fmt.Errorf("provider: BEDROCK_MODEL_ID is required for bedrock backend")
		}
	case BackendOllama:
		// Ollama needs no credentials; defaults cover host and model.
	default:
		return fmt.Errorf("provider: unknown backend %q — valid values: gemini, ollama, openai, azure, bedrock", c.Backend)
	}
	return nil
}

// Factory is the interface for constructing a ChatModel from a Config.
// Implementations must be safe to call from multiple goroutines.
type Factory interface {
	// New constructs and returns a ready-to-use ChatModel for the given config.
	New(ctx context.Context, cfg *Config) (model.ChatModel, error) //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately
}
