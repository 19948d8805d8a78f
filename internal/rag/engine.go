package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Personalization boost factors applied multiplicatively during the
// personalization stage. Both can apply to the same candidate.
const (
	weakSubjectBoost = 1.2
	examTargetBoost  = 1.1
)

// EngineConfig holds the dependencies and defaults for constructing an Engine.
type EngineConfig struct {
	// Store is the vector store backend. Required.
	Store VectorStore

	// Embedder converts query and document text to vectors. Required.
	// Wrap with embedder.NewCachingEmbedder so repeated texts never hit
	// the provider twice.
	Embedder Embedder

	// Generator is the generative model provider used for answer
	// generation and optional LLM re-ranking. May be nil: search works
	// without it, Answer falls back to the apology message.
	Generator Generator

	// Defaults overrides the engine-wide default search configuration.
	Defaults *SearchConfig

	// MaxContextTokens bounds the assembled context passed to the
	// generator. Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int

	// Logger receives structured diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// Engine is the query-time core: it fetches nearest-neighbor candidates per
// collection and refines them through the fixed scoring stages. A single
// Engine is constructed at startup and injected into every consumer — there
// is no ambient global instance.
type Engine struct {
	store            VectorStore
	embedder         Embedder
	generator        Generator
	defaults         SearchConfig
	maxContextTokens int
	log              *slog.Logger
}

// NewEngine constructs an Engine and bootstraps the required collections.
// A collection-creation failure during bootstrap is logged, not fatal — the
// store retries lazily on first use.
func NewEngine(ctx context.Context, cfg *EngineConfig) (*Engine, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}

	defaults := DefaultSearchConfig()
	if cfg.Defaults != nil {
		defaults = *cfg.Defaults
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	maxTokens := cfg.MaxContextTokens

	e := &Engine{
		store:            cfg.Store,
		embedder:         cfg.Embedder,
		generator:        cfg.Generator,
		defaults:         defaults,
		maxContextTokens: maxTokens,
		log:              log,
	}

	if err := e.store.EnsureCollections(ctx, RequiredCollections()); err != nil {
		// Bootstrap failures are retried on next access; do not fail startup.
		log.Warn("rag: collection bootstrap failed, will retry lazily",
			slog.String("error", err.Error()))
	}

	return e, nil
}

// Store exposes the underlying vector store for callers that need direct
// collection management (clear, count).
func (e *Engine) Store() VectorStore { return e.store }

// Search runs the full retrieval pipeline for query and returns the top
// results ordered by descending score. Stage order is fixed: candidate fetch,
// initial scoring, keyword blend, personalization, global sort, MMR
// diversity selection, optional LLM rerank, truncation.
//
// An empty query yields an empty result list without error. Internal scoring
// failures degrade to an empty list with a logged error; storage failures
// propagate as StorageError.
func (e *Engine) Search(ctx context.Context, query string, opts *SearchOptions) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if opts == nil {
		opts = &SearchOptions{}
	}

	n := opts.N
	if n <= 0 {
		n = 5
	}
	collections := opts.Collections
	if len(collections) == 0 {
		collections = RequiredCollections()
	}
	cfg := e.defaults
	if opts.Config != nil {
		cfg = *opts.Config
	}

	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		e.log.Error("rag: embedder returned empty vector for query")
		return nil, nil
	}
	queryVec := vectors[0]

	// Stage 1+2: candidate fetch with 2× oversampling per collection;
	// initial score is 1 − cosine distance.
	var candidates []Result
	for _, coll := range collections {
		hits, err := e.store.Query(ctx, coll, queryVec, n*2, opts.Filter)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, hits...)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	for i := range candidates {
		candidates[i].Score = 1 - float64(candidates[i].Distance)
	}

	// Stage 3: keyword blending.
	if cfg.KeywordWeight > 0 {
		applyKeywordScoring(query, candidates, cfg)
	}

	// Stage 4: personalization boosts.
	if opts.User != nil {
		applyPersonalization(candidates, opts.User)
	}

	// Stage 5: global sort by descending score.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	// Stage 6: diversity selection.
	if cfg.UseMMR {
		candidates = applyMMR(candidates, n, cfg.MMRLambda)
	}

	// Stage 7: optional LLM rerank over the surviving candidates.
	if cfg.Rerank && e.generator != nil {
		candidates = e.rerankWithModel(ctx, query, candidates)
	}

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates, nil
}

// applyKeywordScoring blends the semantic score with the ratio of query
// terms found in the candidate content. Mutates scores in place.
func applyKeywordScoring(query string, results []Result, cfg SearchConfig) {
	queryTerms := termSet(query)
	if len(queryTerms) == 0 {
		return
	}

	for i := range results {
		contentTerms := termSet(results[i].Content)
		common := 0
		for t := range queryTerms {
			if contentTerms[t] {
				common++
			}
		}
		keywordScore := float64(common) / float64(len(queryTerms))
		results[i].Score = cfg.SemanticWeight*results[i].Score + cfg.KeywordWeight*keywordScore
	}
}

// applyPersonalization multiplies candidate scores by the weak-subject and
// exam-target boosts. Boosts stack multiplicatively.
func applyPersonalization(results []Result, user *UserContext) {
	for i := range results {
		subject := strings.ToLower(results[i].Metadata["subject"])
		for _, weak := range user.WeakSubjects {
			if weak != "" && strings.Contains(subject, strings.ToLower(weak)) {
				results[i].Score *= weakSubjectBoost
				break
			}
		}
		if user.ExamTarget != "" &&
			strings.Contains(results[i].Metadata["exam_type"], user.ExamTarget) {
			results[i].Score *= examTargetBoost
		}
	}
}

// applyMMR greedily selects up to n results maximizing
// λ·relevance − (1−λ)·max_similarity_to_selected. Input must already be
// sorted by descending score; the top candidate seeds the selection.
// A candidate without an embedding falls back to pure relevance.
func applyMMR(results []Result, n int, lambda float64) []Result {
	if len(results) == 0 {
		return results
	}

	selected := []Result{results[0]}
	candidates := append([]Result(nil), results[1:]...)

	for len(selected) < n && len(candidates) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)

		for i, cand := range candidates {
			mmr := cand.Score
			if len(cand.Embedding) > 0 {
				maxSim := 0.0
				for _, sel := range selected {
					if len(sel.Embedding) == 0 {
						continue
					}
					if sim := cosineSimilarity(cand.Embedding, sel.Embedding); sim > maxSim {
						maxSim = sim
					}
				}
				mmr = lambda*cand.Score - (1-lambda)*maxSim
			}
			if mmr > bestScore {
				bestScore = mmr
				bestIdx = i
			}
		}

		selected = append(selected, candidates[bestIdx])
		candidates = append(candidates[:bestIdx], candidates[bestIdx+1:]...)
	}

	return selected
}

// rerankWithModel asks the generator to order the candidates by relevance to
// the query and re-sorts accordingly. Any provider or parse failure leaves
// the original order untouched — rerank is strictly best-effort.
func (e *Engine) rerankWithModel(ctx context.Context, query string, results []Result) []Result {
	if len(results) < 2 {
		return results
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, snippet(r.Content, 200))
	}

	prompt := fmt.Sprintf(
		"Aşağıdaki sorguya en uygun sonuçları sırala:\n\nSorgu: %s\n\nAdaylar:\n%s\nEn uygun sıralama (sadece numaraları virgülle ayırarak yaz):",
		query, sb.String())

	text, err := e.generator.Generate(ctx, &GenerateRequest{
		Prompt:            prompt,
		SystemInstruction: "Sen bir arama sonucu sıralama uzmanısın.",
		Temperature:       0.1,
	})
	if err != nil {
		e.log.Warn("rag: LLM rerank failed, keeping original order",
			slog.String("error", err.Error()))
		return results
	}

	order := parseRanking(text, len(results))
	if len(order) == 0 {
		return results
	}

	reranked := make([]Result, 0, len(results))
	seen := make(map[int]bool, len(results))
	for _, idx := range order {
		if !seen[idx] {
			seen[idx] = true
			reranked = append(reranked, results[idx])
		}
	}
	for i, r := range results {
		if !seen[i] {
			reranked = append(reranked, r)
		}
	}
	return reranked
}

// parseRanking extracts 0-based indices from a comma-separated 1-based list,
// dropping anything out of range. Returns nil when nothing parses.
func parseRanking(text string, size int) []int {
	var order []int
	for _, part := range strings.Split(text, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if idx := v - 1; idx >= 0 && idx < size {
			order = append(order, idx)
		}
	}
	return order
}

// termSet lowercases and splits text into a set of whitespace-delimited terms.
func termSet(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(text)) {
		terms[t] = true
	}
	return terms
}

// cosineSimilarity computes the cosine of the angle between a and b.
// Mismatched or zero-length vectors yield 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// snippet truncates s to at most max runes, appending an ellipsis when cut.
// Truncation is rune-aware so Turkish characters are never split.
func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
