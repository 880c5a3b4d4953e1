// Package ratelimit provides per-key token bucket limiting for HTTP routes.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"membership-manager/internal/common/errors"
)

// Config sets the bucket shape shared by every key
type Config struct {
	RequestsPerSecond float64
	BurstSize         int
	// Keys unused for CleanupPeriod are forgotten
	CleanupPeriod time.Duration
	MaxKeys       int
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.RequestsPerSecond <= 0 {
		return errors.ConfigError("requests per second must be positive")
	}
	if c.BurstSize < 1 {
		return errors.ConfigError("burst size must be at least 1")
	}
	if c.CleanupPeriod <= 0 {
		c.CleanupPeriod = 10 * time.Minute
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 10000
	}
	return nil
}

// Limiter keeps one token bucket per key
type Limiter struct {
	mu          sync.Mutex
	config      Config
	limiters    map[string]*limiterEntry
	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// New creates a keyed limiter
func New(config Config) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}, nil
}

// Allow takes a token for key without blocking
func (l *Limiter) Allow(key string) bool {
	return l.limiterFor(key).Allow()
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastCleanup) > l.config.CleanupPeriod {
		l.cleanup(now)
	}

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize)}
		l.limiters[key] = entry
		if len(l.limiters) > l.config.MaxKeys {
			l.cleanup(now)
		}
	}
	entry.lastUsed = now
	return entry.limiter
}

func (l *Limiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.config.CleanupPeriod)
	for key, entry := range l.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
	l.lastCleanup = now
}

// Keys returns how many keys are being tracked
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// HTTPMiddleware rejects requests over the limit with 429
func HTTPMiddleware(limiter *Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFunc(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKey uses the first X-Forwarded-For hop, then X-Real-IP, then the peer
// address without its port
func IPKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
