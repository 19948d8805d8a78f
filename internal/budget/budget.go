// Package budget provides token budget estimation for prompt and context
// assembly. Because the assistant supports multiple LLM backends with
// different tokenizers, it uses a conservative character-based heuristic:
// 1 token ≈ 4 characters. This deliberately under-estimates so assembled
// context leaves headroom for model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative character-to-token ratio. 4 is
	// standard for prose and holds up acceptably for Turkish text.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default budget for assembled
	// retrieval context. Small enough to leave most of an 8k window for
	// the question, persona, and answer.
	DefaultMaxContextTokens = 4000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// chat messages, including a small per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Most chat APIs add ~4 tokens of framing per message.
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}
