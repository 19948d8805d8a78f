// Package rag implements the retrieval-augmented generation core of the
// YKS AI study assistant: collection-partitioned vector storage, multi-signal
// retrieval (semantic, keyword, personalization, MMR diversity), and grounded
// answer generation over Turkish university-entrance curriculum content.
// Concrete storage backends (SQLite, Qdrant) satisfy the VectorStore
// interface so the engine never depends on a specific store.
package rag

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Well-known collection names. Collections partition the store by content
// domain; search never crosses collections unless explicitly requested.
const (
	CollectionCurriculum    = "curriculum"
	CollectionConversations = "conversations"
	CollectionDocuments     = "documents"
	CollectionQuestions     = "questions"
	CollectionWebContent    = "web_content"
	CollectionYouTube       = "youtube_content"
)

// RequiredCollections returns the collections every deployment must have.
// EnsureCollections is called with this set at startup; ad-hoc names
// referenced later are created lazily.
func RequiredCollections() []string {
	return []string{
		CollectionCurriculum,
		CollectionConversations,
		CollectionDocuments,
		CollectionQuestions,
		CollectionWebContent,
		CollectionYouTube,
	}
}

// Metadata is the open key-value mapping attached to every document.
// Collections intentionally carry different metadata shapes (subject, grade,
// topic, source, exam_type, timestamps); operations validate only the keys
// they actually read.
type Metadata map[string]string

// Clone returns a shallow copy of m. A nil receiver yields an empty map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Matches reports whether every key in filter is present in m with an equal
// value. An empty filter matches everything.
func (m Metadata) Matches(filter Metadata) bool {
	for k, v := range filter {
		if m[k] != v {
			return false
		}
	}
	return true
}

// Document is the atomic unit stored in a collection. Content and embedding
// are immutable once written; an update is modeled as delete+reinsert.
type Document struct {
	// ID is the deterministic hash of content + serialized metadata.
	// See DocumentID.
	ID string

	// Content is the raw text. Empty-content documents are rejected at
	// ingestion time.
	Content string

	// Metadata holds the collection-specific key-value pairs.
	Metadata Metadata

	// Embedding is the fixed-dimension vector for Content, produced once
	// and cached. Always retained on query results so MMR never has to
	// fall back for lack of a vector.
	Embedding []float32
}

// Result is a single search hit. Score starts as 1−Distance and is refined
// in place by the fixed scoring stages (keyword blend, personalization,
// diversity selection).
type Result struct {
	Document

	// Collection is the collection the hit came from.
	Collection string

	// Distance is the raw cosine distance reported by the store
	// (lower means more similar).
	Distance float32

	// Score is the combined relevance score (higher is better).
	Score float64
}

// VectorStore is the collection-partitioned persistence layer.
// Implementations must be safe to call from multiple goroutines, must create
// unknown collections lazily instead of failing, and must return
// ErrShutdown-wrapped errors for operations attempted after Close.
type VectorStore interface {
	// EnsureCollections guarantees the named collections exist. Idempotent;
	// intended for the startup bootstrap.
	EnsureCollections(ctx context.Context, names []string) error

	// Upsert writes a batch of documents into the collection, creating it
	// if needed. Writing an existing ID replaces the record (last writer
	// wins — acceptable because IDs are content-derived).
	Upsert(ctx context.Context, collection string, docs []Document) error

	// Query returns the topK nearest neighbors of vector in the collection,
	// optionally restricted to documents whose metadata matches filter
	// exactly. An unknown collection is created empty and yields zero
	// results. Returned documents carry their embeddings.
	Query(ctx context.Context, collection string, vector []float32, topK int, filter Metadata) ([]Result, error)

	// Count reports the number of documents in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// Clear removes every document from the collection. A no-op success on
	// an already-empty collection.
	Clear(ctx context.Context, collection string) error

	// Delete removes documents by ID.
	Delete(ctx context.Context, collection string, ids []string) error

	// Close releases resources. Subsequent operations fail with ErrShutdown.
	Close() error
}

// Embedder converts text into dense vector embeddings.
// The returned slice is parallel to the input slice.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerateRequest is a single generation call to the language model provider.
type GenerateRequest struct {
	// Prompt is the full user prompt including any assembled context.
	Prompt string

	// SystemInstruction sets the model persona. Empty means provider default.
	SystemInstruction string

	// Temperature overrides the provider's configured sampling temperature
	// when > 0.
	Temperature float32
}

// Generator produces text from the external generative model provider.
// Implementations must be safe to call from multiple goroutines.
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (string, error)
}

// SearchConfig tunes the scoring stages of a search. Weights are not forced
// to sum to 1 — that is the caller's responsibility.
type SearchConfig struct {
	// SemanticWeight scales the vector-similarity component of the blended
	// score.
	SemanticWeight float64

	// KeywordWeight scales the query-term-overlap component. Zero disables
	// the keyword stage entirely.
	KeywordWeight float64

	// UseMMR enables diversity-aware re-ranking of the sorted candidates.
	UseMMR bool

	// MMRLambda balances relevance (1.0) against diversity (0.0).
	MMRLambda float64

	// Rerank enables an additional LLM-based re-ranking pass. Off by
	// default; requires a Generator on the engine.
	Rerank bool
}

// DefaultSearchConfig returns the standard scoring configuration:
// 0.7 semantic / 0.3 keyword, MMR enabled with λ=0.7, LLM rerank off.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		SemanticWeight: 0.7,
		KeywordWeight:  0.3,
		UseMMR:         true,
		MMRLambda:      0.7,
		Rerank:         false,
	}
}

// UserContext carries the per-student personalization signals.
type UserContext struct {
	// UserID identifies the student for conversation-memory scoping.
	// Empty means anonymous; scoring is unaffected.
	UserID string

	// WeakSubjects lists subjects the student struggles with; matching
	// candidates get a ×1.2 score boost.
	WeakSubjects []string

	// ExamTarget is the targeted exam type (e.g. "YKS"); matching
	// candidates get an additional ×1.1 boost.
	ExamTarget string
}

// SearchOptions control a single Engine.Search call. The zero value means:
// all required collections, five results, no filter, engine default config,
// no personalization.
type SearchOptions struct {
	// Collections restricts the search to the named collections.
	// Empty means every required collection.
	Collections []string

	// N is the number of results to return (default 5).
	N int

	// Filter is an exact-match metadata filter pushed down to the store.
	Filter Metadata

	// Config overrides the engine's default scoring configuration.
	Config *SearchConfig

	// User enables the personalization stage when non-nil.
	User *UserContext
}

// DocumentID derives the deterministic record ID from content plus
// canonically serialized metadata: same content and metadata always produce
// the same ID (idempotent re-ingestion), while the same text under different
// metadata yields distinguishable records.
func DocumentID(content string, meta Metadata) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(content)
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(meta[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum[:16])
}

// ContentHash returns the stable hash of a text alone, used as the embedding
// cache key.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum[:16])
}
