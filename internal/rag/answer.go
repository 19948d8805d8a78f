package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bilgeai/yksai-go/internal/budget"
)

// answerSystemInstruction is the fixed exam-tutor persona for grounded
// answer generation.
const answerSystemInstruction = "Sen YKS uzmanı bir eğitmensin. Verilen bağlam bilgilerini kullanarak soruları doğru ve detaylı cevapla."

// answerFallback is returned to the student when generation fails.
// Generation failures are non-fatal to the calling flow.
const answerFallback = "Üzgünüm, sorunuzu cevaplayamadım."

// Answer produces a grounded answer for question. When contextDocs is nil
// the retrieval engine runs first. Retrieved passages are concatenated with
// per-passage source tags, bounded by the context token budget, and handed
// to the generator with the tutor persona. Any provider failure yields the
// literal apology string — never an error to the caller.
func (e *Engine) Answer(ctx context.Context, question string, contextDocs []Result, user *UserContext) string {
	if contextDocs == nil {
		docs, err := e.Search(ctx, question, &SearchOptions{N: 5, User: user})
		if err != nil {
			e.log.Error("rag: context retrieval for answer failed",
				slog.String("error", err.Error()))
		}
		contextDocs = docs
	}

	contextText := e.assembleContext(contextDocs)

	prompt := fmt.Sprintf(
		"Aşağıdaki bağlam bilgilerini kullanarak soruyu cevapla:\n\nBağlam:\n%s\n\nSoru: %s\n\nLütfen bağlam bilgilerini kullanarak detaylı ve doğru bir cevap ver.",
		contextText, question)

	if e.generator == nil {
		e.log.Error("rag: no generator configured for answer generation")
		return answerFallback
	}

	text, err := e.generator.Generate(ctx, &GenerateRequest{
		Prompt:            prompt,
		SystemInstruction: answerSystemInstruction,
	})
	if err != nil {
		e.log.Error("rag: answer generation failed", slog.String("error", err.Error()))
		return answerFallback
	}
	return text
}

// assembleContext concatenates passages with source attribution, dropping
// trailing passages once the token budget is exhausted so provenance of the
// highest-ranked content is always preserved.
func (e *Engine) assembleContext(docs []Result) string {
	maxTokens := e.maxContextTokens
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}

	var parts []string
	used := 0
	for _, doc := range docs {
		source := doc.Metadata["source"]
		if source == "" {
			source = "Bilinmeyen"
		}
		part := fmt.Sprintf("[Kaynak: %s]\n%s", source, doc.Content)

		cost := budget.Estimate(part)
		if used+cost > maxTokens && len(parts) > 0 {
			e.log.Debug("rag: context budget reached",
				slog.Int("included", len(parts)),
				slog.Int("dropped", len(docs)-len(parts)))
			break
		}
		parts = append(parts, part)
		used += cost
	}

	return strings.Join(parts, "\n\n")
}

// AddConversation stores a question-answer exchange in the conversations
// collection so later searches can recall it. Metadata is copied and tagged
// with type=conversation plus a timestamp.
func (e *Engine) AddConversation(ctx context.Context, userMsg, aiResp string, meta Metadata) error {
	if strings.TrimSpace(userMsg) == "" {
		return nil
	}

	content := fmt.Sprintf("Soru: %s\nCevap: %s", userMsg, aiResp)
	m := meta.Clone()
	m["type"] = "conversation"
	m["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	vectors, err := e.embedder.Embed(ctx, []string{content})
	if err != nil {
		return fmt.Errorf("rag: embedding conversation failed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return fmt.Errorf("rag: embedder returned empty vector for conversation")
	}

	doc := Document{
		ID:        DocumentID(content, m),
		Content:   content,
		Metadata:  m,
		Embedding: vectors[0],
	}
	if err := e.store.Upsert(ctx, CollectionConversations, []Document{doc}); err != nil {
		if errors.Is(err, ErrShutdown) {
			e.log.Debug("rag: conversation dropped, store shutting down")
			return nil
		}
		return err
	}
	return nil
}

// RelevantConversations returns past conversation turns related to the
// current query, optionally restricted to one user.
func (e *Engine) RelevantConversations(ctx context.Context, query, userID string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 3
	}
	filter := Metadata{"type": "conversation"}
	if userID != "" {
		filter["user_id"] = userID
	}
	return e.Search(ctx, query, &SearchOptions{
		Collections: []string{CollectionConversations},
		N:           topK,
		Filter:      filter,
	})
}
