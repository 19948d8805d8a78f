package server

import (
	"context"
	"net/http"
	"time"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	// Ping returns nil when the dependency is healthy.
	Ping(ctx context.Context) error
	// Name identifies the dependency in readiness reports.
	Name() string
}

// checkResult is one dependency's readiness outcome.
type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleReady probes every configured dependency and reports 200 only when
// all are healthy. With no pingers configured it degrades to a liveness check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make([]checkResult, 0, len(s.pingers))
	ready := true

	for _, p := range s.pingers {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Ping(ctx)
		cancel()

		result := checkResult{Name: p.Name(), Status: "ok"}
		if err != nil {
			result.Status = "unreachable"
			result.Error = err.Error()
			ready = false
		}
		checks = append(checks, result)
	}

	status := http.StatusOK
	overall := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		overall = "not ready"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}
