package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinBudget(t *testing.T) {
	rl := NewRateLimiter(5, 10)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("client-a"), "request %d", i)
	}
	assert.False(t, rl.Allow("client-a"))
}

func TestAllowIsPerClient(t *testing.T) {
	rl := NewRateLimiter(2, 4)

	rl.Allow("client-a")
	rl.Allow("client-a")
	assert.False(t, rl.Allow("client-a"))

	// Another client still has a full budget.
	assert.True(t, rl.Allow("client-b"))
}

func TestMiddlewareKeysByClientIDHeader(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(clientID string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/partners", nil)
		if clientID != "" {
			req.Header.Set("X-Client-ID", clientID)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send("a"))
	require.Equal(t, http.StatusOK, send("b"))

	// Exhaust client a's budget; b is unaffected.
	send("a")
	send("a")
	assert.Equal(t, http.StatusTooManyRequests, send("a"))
	assert.Equal(t, http.StatusOK, send("b"))
}

func TestMiddlewareRejectionShape(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Client-ID", "hammering")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i >= 1 {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
			assert.Equal(t, "60", rec.Header().Get("Retry-After"))
			assert.Contains(t, rec.Body.String(), "rate limit exceeded")
		}
	}
}

func TestBurstCeiling(t *testing.T) {
	rl := NewRateLimiter(2, 5)

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("c") {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
}
