package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "yksai"

// serverMetrics holds the Prometheus instruments owned by one Server.
// Each Server registers into its own registry so tests stay hermetic.
type serverMetrics struct {
	// askTotal counts answered questions by outcome (ok, error).
	askTotal *prometheus.CounterVec
	// askDuration observes end-to-end answer latency in seconds.
	askDuration prometheus.Histogram
	// searchTotal counts search requests by outcome (ok, error).
	searchTotal *prometheus.CounterVec
	// searchDuration observes search latency in seconds.
	searchDuration prometheus.Histogram
	// ingestTotal counts documents ingested via the API.
	ingestTotal prometheus.Counter
	// httpTotal counts HTTP requests by method, path, and status class.
	httpTotal *prometheus.CounterVec
	// httpDuration observes HTTP request latency by method and path.
	httpDuration *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics into reg.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)
	return &serverMetrics{
		askTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Answered questions by outcome.",
		}, []string{"outcome"}),
		askDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "End-to-end answer latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		searchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Search requests by outcome.",
		}, []string{"outcome"}),
		searchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		ingestTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents ingested via the API.",
		}),
		httpTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, path, and status class.",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}
