package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/bilgeai/yksai-go/internal/budget"
	"github.com/bilgeai/yksai-go/internal/rag"
)

// ChatGenerator adapts an eino ChatModel to the rag.Generator interface.
// Safe for concurrent use.
type ChatGenerator struct {
	chat model.ChatModel //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately
	log  *slog.Logger
}

// NewChatGenerator wraps chat. A nil logger falls back to slog.Default.
func NewChatGenerator(chat model.ChatModel, log *slog.Logger) (*ChatGenerator, error) { //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately
	if chat == nil {
		return nil, fmt.Errorf("provider: chat model must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &ChatGenerator{chat: chat, log: log}, nil
}

// Generate sends the request to the chat model and returns the response text.
func (g *ChatGenerator) Generate(ctx context.Context, req *rag.GenerateRequest) (string, error) {
	var msgs []*schema.Message
	if req.SystemInstruction != "" {
		msgs = append(msgs, schema.SystemMessage(req.SystemInstruction))
	}
	msgs = append(msgs, schema.UserMessage(req.Prompt))

	g.log.Debug("provider: generating",
		slog.Int("estimated_prompt_tokens", budget.EstimateMessages(msgs)))

	var opts []model.Option
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(req.Temperature))
	}

	resp, err := g.chat.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("provider: generation failed: %w", err)
	}
	if resp == nil || resp.Content == "" {
		return "", fmt.Errorf("provider: model returned empty response")
	}
	return resp.Content, nil
}
