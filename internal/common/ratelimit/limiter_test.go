package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	c := Config{RequestsPerSecond: 0, BurstSize: 1}
	assert.Error(t, c.Validate())

	c = Config{RequestsPerSecond: 1, BurstSize: 0}
	assert.Error(t, c.Validate())

	c = Config{RequestsPerSecond: 1, BurstSize: 1}
	require.NoError(t, c.Validate())
	assert.Equal(t, 10*time.Minute, c.CleanupPeriod)
	assert.Equal(t, 10000, c.MaxKeys)
}

func TestLimiter_PerKey(t *testing.T) {
	l, err := New(Config{RequestsPerSecond: 0.001, BurstSize: 2})
	require.NoError(t, err)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	assert.True(t, l.Allow("b"), "each key has its own bucket")
	assert.Equal(t, 2, l.Keys())
}

func TestLimiter_CleanupForgetsIdleKeys(t *testing.T) {
	l, err := New(Config{RequestsPerSecond: 1, BurstSize: 1, CleanupPeriod: time.Minute})
	require.NoError(t, err)

	l.Allow("idle")
	l.limiters["idle"].lastUsed = time.Now().Add(-2 * time.Minute)
	l.lastCleanup = time.Now().Add(-2 * time.Minute)

	l.Allow("fresh")
	assert.Equal(t, 1, l.Keys())
}

func TestHTTPMiddleware(t *testing.T) {
	l, err := New(Config{RequestsPerSecond: 0.001, BurstSize: 1})
	require.NoError(t, err)

	h := HTTPMiddleware(l, IPKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/self-serve/join", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodGet, "/self-serve/join", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.4:1234"
	assert.Equal(t, "192.168.1.4", IPKey(req))

	req.Header.Set("X-Real-IP", "172.16.0.9")
	assert.Equal(t, "172.16.0.9", IPKey(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", IPKey(req))
}
