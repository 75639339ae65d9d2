package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_PerUser(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(userID string) int {
		req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
		req = req.WithContext(WithUser(req.Context(), userID))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, call("a"))
	require.Equal(t, http.StatusOK, call("a"))
	require.Equal(t, http.StatusTooManyRequests, call("a"))
	require.Equal(t, http.StatusOK, call("b"))

	now = now.Add(time.Second)
	require.Equal(t, http.StatusOK, call("a"))
}

func TestRateLimiter_DropsIdleUsers(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.limiterFor("a")
	now = now.Add(staleAfter + time.Second)
	rl.limiterFor("b")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	require.Len(t, rl.visitors, 1)
	require.Contains(t, rl.visitors, "b")
}

func TestRateLimiter_SkipsAnonymous(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}
