// Package middleware provides HTTP middleware for the inbound API surface.
package middleware

import (
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter enforces a per-client request budget on the inbound API so a
// single misbehaving caller cannot monopolize the broadcast worker pool.
//
// Uses a fixed one-minute window per client key; expired windows are
// garbage-collected periodically.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	maxPerMinute int
	burst        int

	logger *log.Logger
}

type window struct {
	count int
	start time.Time
}

// NewRateLimiter creates a rate limiter. burst is the hard ceiling a client
// may briefly exceed maxPerMinute by.
func NewRateLimiter(maxPerMinute, burst int) *RateLimiter {
	if maxPerMinute <= 0 {
		maxPerMinute = 60
	}
	if burst < maxPerMinute {
		burst = maxPerMinute * 2
	}

	rl := &RateLimiter{
		windows:      make(map[string]*window),
		maxPerMinute: maxPerMinute,
		burst:        burst,
		logger:       log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
	}

	go rl.cleanup()

	return rl
}

// Allow reports whether a request from the given client key is within its
// budget.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) > time.Minute {
		rl.windows[key] = &window{count: 1, start: now}
		return true
	}

	w.count++
	if w.count > rl.burst {
		rl.logger.Printf("🚫 Rate limit exceeded (burst): key=%s count=%d limit=%d", key, w.count, rl.burst)
		return false
	}
	if w.count > rl.maxPerMinute {
		rl.logger.Printf("⚠️ Rate limit exceeded: key=%s count=%d limit=%d", key, w.count, rl.maxPerMinute)
		return false
	}
	return true
}

// Middleware enforces the limit per client. Clients are keyed by the
// X-Client-ID header when present, otherwise by remote address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Client-ID")
		if key == "" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			key = host
		}

		if !rl.Allow(key) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":60}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// cleanup periodically drops expired windows to bound memory.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		rl.mu.Lock()
		for key, w := range rl.windows {
			if now.Sub(w.start) > 2*time.Minute {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}
