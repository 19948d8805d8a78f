// Package server exposes the study assistant over HTTP: question answering,
// semantic search, curriculum analysis, and document ingestion, plus health
// and metrics endpoints for operators.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bilgeai/yksai-go/internal/ingestion"
	"github.com/bilgeai/yksai-go/internal/rag"
)

const (
	defaultHost            = "127.0.0.1"
	defaultPort            = 8080
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	maxRequestBody         = 1 << 20 // 1 MiB
)

// New creates a Server wired to the given engine and ingestion pipeline.
func New(engine *rag.Engine, pipeline *ingestion.Pipeline, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: engine is required")
	}
	// A nil *Pipeline must stay a nil interface so the documents endpoint
	// reports 503 instead of panicking.
	var ing ingestor
	if pipeline != nil {
		ing = pipeline
	}
	return newServer(engine, ing, cfg)
}

// newServer is the interface-typed constructor used by New and by tests.
func newServer(engine studyEngine, pipeline ingestor, cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := newServerMetrics(reg)

	s := &Server{
		engine:   engine,
		pipeline: pipeline,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  metrics,
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	s.stopRL = stopRL

	mux := http.NewServeMux()

	// Protected API routes: auth then rate limit, innermost first.
	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}
	mux.Handle("POST /api/ask", protected(s.handleAsk))
	mux.Handle("POST /api/search", protected(s.handleSearch))
	mux.Handle("POST /api/curriculum/search", protected(s.handleCurriculumSearch))
	mux.Handle("POST /api/curriculum/related", protected(s.handleCurriculumRelated))
	mux.Handle("POST /api/curriculum/coverage", protected(s.handleCurriculumCoverage))
	mux.Handle("POST /api/documents", protected(s.handleIngest))

	// Operational routes are unauthenticated so probes and scrapers work
	// without credentials.
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	if gatherer, ok := reg.(prometheus.Gatherer); ok {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.requestLogger(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("server: shutting down", "timeout", s.cfg.ShutdownTimeout)
	if s.stopRL != nil {
		s.stopRL()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler returns the server's root HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleAsk answers a student question grounded on retrieved context.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	user := userContext(req.UserID, req.WeakSubjects, req.ExamTarget)
	start := time.Now()

	results, err := s.engine.Search(r.Context(), req.Question, &rag.SearchOptions{User: user})
	if err != nil {
		s.metrics.askTotal.WithLabelValues("error").Inc()
		s.log.Error("server: ask retrieval failed", "error", err)
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}
	if results == nil {
		// Answer treats a nil slice as "retrieve for me"; a zero-hit search
		// already ran, so hand over an empty slice to keep it that way.
		results = []rag.Result{}
	}

	answer := s.engine.Answer(r.Context(), req.Question, results, user)
	s.metrics.askTotal.WithLabelValues("ok").Inc()
	s.metrics.askDuration.Observe(time.Since(start).Seconds())

	if req.Remember {
		meta := rag.Metadata{}
		if req.UserID != "" {
			meta["user_id"] = req.UserID
		}
		if err := s.engine.AddConversation(r.Context(), req.Question, answer, meta); err != nil {
			s.log.Warn("server: conversation not stored", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, askResponse{Answer: answer, Sources: toResultJSON(results)})
}

// handleSearch runs a semantic search across the requested collections.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	opts := &rag.SearchOptions{
		Collections: req.Collections,
		N:           req.N,
		User:        userContext("", req.WeakSubjects, req.ExamTarget),
	}
	if len(req.Filter) > 0 {
		opts.Filter = rag.Metadata(req.Filter)
	}

	start := time.Now()
	results, err := s.engine.Search(r.Context(), req.Query, opts)
	if err != nil {
		s.metrics.searchTotal.WithLabelValues("error").Inc()
		s.log.Error("server: search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	s.metrics.searchTotal.WithLabelValues("ok").Inc()
	s.metrics.searchDuration.Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, searchResponse{Results: toResultJSON(results)})
}

// handleCurriculumSearch searches within the student's selected topics.
func (s *Server) handleCurriculumSearch(w http.ResponseWriter, r *http.Request) {
	var req curriculumSearchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Topics) == 0 {
		writeError(w, http.StatusBadRequest, "topics are required")
		return
	}

	results, err := s.engine.SearchByTopics(r.Context(), toSelections(req.Topics), req.Query, req.N)
	if err != nil {
		s.log.Error("server: curriculum search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "curriculum search failed")
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: toResultJSON(results)})
}

// handleCurriculumRelated finds topics related to the student's selection.
func (s *Server) handleCurriculumRelated(w http.ResponseWriter, r *http.Request) {
	var req relatedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Topics) == 0 {
		writeError(w, http.StatusBadRequest, "topics are required")
		return
	}

	results, err := s.engine.RelatedContent(r.Context(), toSelections(req.Topics), req.Relation)
	if err != nil {
		s.log.Error("server: related content failed", "error", err, "relation", req.Relation)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: toResultJSON(results)})
}

// handleCurriculumCoverage reports how well the selection covers the curriculum.
func (s *Server) handleCurriculumCoverage(w http.ResponseWriter, r *http.Request) {
	var req coverageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Topics) == 0 {
		writeError(w, http.StatusBadRequest, "topics are required")
		return
	}

	report, err := s.engine.CoverageAnalysis(r.Context(), toSelections(req.Topics))
	if err != nil {
		s.log.Error("server: coverage analysis failed", "error", err)
		writeError(w, http.StatusInternalServerError, "coverage analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleIngest embeds and stores a batch of documents.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is not configured")
		return
	}
	var req ingestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Collection == "" {
		writeError(w, http.StatusBadRequest, "collection is required")
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records are required")
		return
	}

	records := make([]ingestion.Record, 0, len(req.Records))
	for _, rec := range req.Records {
		records = append(records, ingestion.Record{
			Content:  rec.Content,
			Metadata: rag.Metadata(rec.Metadata),
		})
	}

	report, err := s.pipeline.Ingest(r.Context(), req.Collection, records)
	if err != nil {
		s.log.Error("server: ingestion failed", "error", err, "collection", req.Collection)
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}
	s.metrics.ingestTotal.Add(float64(report.Ingested))
	writeJSON(w, http.StatusOK, ingestResponse{
		Ingested: report.Ingested,
		Skipped:  report.Skipped,
		Failed:   report.Failed,
	})
}

// handleHealth reports process liveness. It never touches dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// userContext builds a UserContext, or returns nil when nothing is set.
func userContext(userID string, weakSubjects []string, examTarget string) *rag.UserContext {
	if userID == "" && len(weakSubjects) == 0 && examTarget == "" {
		return nil
	}
	return &rag.UserContext{
		UserID:       userID,
		WeakSubjects: weakSubjects,
		ExamTarget:   examTarget,
	}
}

// toSelections converts wire topics into engine topic selections.
func toSelections(topics []topicJSON) []rag.TopicSelection {
	out := make([]rag.TopicSelection, 0, len(topics))
	for _, t := range topics {
		out = append(out, rag.TopicSelection{
			Subject: t.Subject,
			Grade:   t.Grade,
			Title:   t.Title,
			Note:    t.Note,
		})
	}
	return out
}

// toResultJSON converts engine results into their wire form.
func toResultJSON(results []rag.Result) []resultJSON {
	out := make([]resultJSON, 0, len(results))
	for _, res := range results {
		out = append(out, resultJSON{
			ID:         res.ID,
			Collection: res.Collection,
			Content:    res.Content,
			Score:      res.Score,
			Metadata:   res.Metadata,
		})
	}
	return out
}

// decodeBody parses the JSON request body into dst. On failure it writes a
// 400 response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
