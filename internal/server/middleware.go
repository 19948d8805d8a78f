package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	// status is the HTTP status code written, 200 if never set explicitly.
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLogger logs every request with method, path, status, duration, and a
// per-request ID, and records the HTTP metrics.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		s.metrics.httpTotal.WithLabelValues(r.Method, r.URL.Path, statusClass(rw.status)).Inc()
		s.metrics.httpDuration.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())
		s.log.Info("server: request",
			"request_id", newRequestID(),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", elapsed.Milliseconds(),
			"remote", r.RemoteAddr,
		)
	})
}

// newRequestID returns a random 16-hex-char request identifier.
func newRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}

// statusClass buckets a status code into "2xx", "4xx", etc. to keep metric
// cardinality bounded.
func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
