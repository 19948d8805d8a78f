package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bilgeai/yksai-go/internal/ingestion"
	"github.com/bilgeai/yksai-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics. If nil a private
	// registry is created; pass prometheus.DefaultRegisterer in production.
	Registry prometheus.Registerer
}

// studyEngine is the interface the handlers call into the retrieval core.
// *rag.Engine satisfies it; tests inject a fake.
type studyEngine interface {
	Search(ctx context.Context, query string, opts *rag.SearchOptions) ([]rag.Result, error)
	Answer(ctx context.Context, question string, contextDocs []rag.Result, user *rag.UserContext) string
	AddConversation(ctx context.Context, userMsg, aiResp string, meta rag.Metadata) error
	SearchByTopics(ctx context.Context, selected []rag.TopicSelection, query string, n int) ([]rag.Result, error)
	RelatedContent(ctx context.Context, selected []rag.TopicSelection, relation string) ([]rag.Result, error)
	CoverageAnalysis(ctx context.Context, selected []rag.TopicSelection) (*rag.CoverageReport, error)
}

// ingestor is the interface the document endpoint calls.
// *ingestion.Pipeline satisfies it; tests inject a fake.
type ingestor interface {
	Ingest(ctx context.Context, collection string, records []ingestion.Record) (*ingestion.Report, error)
}

// Server is the HTTP server exposing the study assistant API.
type Server struct {
	// engine answers questions and runs retrieval.
	engine studyEngine
	// pipeline ingests documents submitted via the API.
	pipeline ingestor
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Question is the student's question in natural language.
	Question string `json:"question"`
	// UserID identifies the student for conversation memory. Optional.
	UserID string `json:"user_id,omitempty"`
	// WeakSubjects lists subjects the student struggles with. Optional.
	WeakSubjects []string `json:"weak_subjects,omitempty"`
	// ExamTarget is the targeted exam type (e.g. "YKS"). Optional.
	ExamTarget string `json:"exam_target,omitempty"`
	// Remember stores the exchange in conversation memory when true.
	Remember bool `json:"remember,omitempty"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	// Answer is the generated answer text.
	Answer string `json:"answer"`
	// Sources lists the passages the answer was grounded on.
	Sources []resultJSON `json:"sources"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query is the search text.
	Query string `json:"query"`
	// Collections restricts the search. Empty means all collections.
	Collections []string `json:"collections,omitempty"`
	// N is the number of results (default 5).
	N int `json:"n,omitempty"`
	// Filter is an exact-match metadata filter.
	Filter map[string]string `json:"filter,omitempty"`
	// WeakSubjects and ExamTarget enable personalization.
	WeakSubjects []string `json:"weak_subjects,omitempty"`
	ExamTarget   string   `json:"exam_target,omitempty"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	// Results is the scored hit list, best first.
	Results []resultJSON `json:"results"`
}

// resultJSON is the wire form of one search hit.
type resultJSON struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection"`
	Content    string            `json:"content"`
	Score      float64           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// topicJSON is the wire form of a curriculum topic selection.
type topicJSON struct {
	Subject string `json:"subject"`
	Grade   string `json:"grade"`
	Title   string `json:"title"`
	Note    string `json:"note,omitempty"`
}

// curriculumSearchRequest is the JSON body for POST /api/curriculum/search.
type curriculumSearchRequest struct {
	// Topics is the student's topic selection.
	Topics []topicJSON `json:"topics"`
	// Query overrides the synthetic topic-title query. Optional.
	Query string `json:"query,omitempty"`
	// N is the number of results (default 10).
	N int `json:"n,omitempty"`
}

// relatedRequest is the JSON body for POST /api/curriculum/related.
type relatedRequest struct {
	Topics []topicJSON `json:"topics"`
	// Relation is similar, prerequisite, or advanced.
	Relation string `json:"relation"`
}

// coverageRequest is the JSON body for POST /api/curriculum/coverage.
type coverageRequest struct {
	Topics []topicJSON `json:"topics"`
}

// recordJSON is the wire form of one document to ingest.
type recordJSON struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ingestRequest is the JSON body for POST /api/documents.
type ingestRequest struct {
	// Collection is the target collection name.
	Collection string `json:"collection"`
	// Records is the batch of documents to ingest.
	Records []recordJSON `json:"records"`
}

// ingestResponse is the JSON response for POST /api/documents.
type ingestResponse struct {
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}
