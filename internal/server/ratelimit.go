package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRateLimit = 10.0
	defaultRateBurst = 20
	// clientTTL is how long an idle client's bucket is kept before eviction.
	clientTTL = 10 * time.Minute
	// evictInterval is how often the eviction sweep runs.
	evictInterval = time.Minute
)

// client tracks the token bucket and last activity for one remote IP.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter applies a per-IP token bucket across all protected endpoints.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
}

// newRateLimiter creates a rate limiter and starts its eviction goroutine.
// The returned stop function terminates the goroutine.
func newRateLimiter(limit float64, burst int) (*rateLimiter, func()) {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}
	rl := &rateLimiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(limit),
		burst:   burst,
	}
	done := make(chan struct{})
	go rl.evictLoop(done)
	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

// allow reports whether the given IP may proceed.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	c, ok := rl.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

// evictLoop periodically drops buckets for clients idle longer than clientTTL.
func (rl *rateLimiter) evictLoop(done <-chan struct{}) {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-clientTTL)
			rl.mu.Lock()
			for ip, c := range rl.clients {
				if c.lastSeen.Before(cutoff) {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// middleware rejects requests over the per-IP limit with 429.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the remote IP, falling back to the raw RemoteAddr when it
// has no port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
