package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration
type Config struct {
	RequestsPerSecond float64       // Requests per second limit
	Burst             int           // Maximum burst size
	CleanupInterval   time.Duration // How often to clean up stale limiters
	TTL               time.Duration // Time to keep unused limiters
}

// DefaultConfig returns default rate limiter configuration
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 100,
		Burst:             200,
		CleanupInterval:   time.Minute,
		TTL:               5 * time.Minute,
	}
}

// client holds a rate limiter and last-seen time for one API caller,
// keyed by their bearer secret rather than by IP.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// CallerRateLimiter implements per-API-client rate limiting for the Token
// API, configured by the platform's `rate_limit_calls`/`period` pair.
type CallerRateLimiter struct {
	mu      sync.RWMutex
	clients map[string]*client
	config  Config
	stop    chan struct{}
}

// NewCallerRateLimiter creates a new bearer-secret-keyed rate limiter.
func NewCallerRateLimiter(cfg Config) *CallerRateLimiter {
	rl := &CallerRateLimiter{
		clients: make(map[string]*client),
		config:  cfg,
		stop:    make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// FromCallsPerPeriod builds a Config from the spec's `rate_limit_calls`
// (burst/allowance per window) and `period` (window length) pair.
func FromCallsPerPeriod(calls int, period time.Duration) Config {
	cfg := DefaultConfig()
	if period <= 0 || calls <= 0 {
		return cfg
	}
	cfg.RequestsPerSecond = float64(calls) / period.Seconds()
	cfg.Burst = calls
	return cfg
}

func (rl *CallerRateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, exists := rl.clients[key]
	if !exists {
		limiter := rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)
		rl.clients[key] = &client{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}

	c.lastSeen = time.Now()
	return c.limiter
}

// Allow checks if a request from the given caller key is allowed.
func (rl *CallerRateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

func (rl *CallerRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			for key, c := range rl.clients {
				if time.Since(c.lastSeen) > rl.config.TTL {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *CallerRateLimiter) Stop() {
	close(rl.stop)
}

// Middleware returns an HTTP middleware for rate limiting, keyed by the
// caller's bearer secret (falls back to remote address when absent).
func (rl *CallerRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerKey(r)

		if !rl.Allow(key) {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return auth
	}
	return r.RemoteAddr
}

// Stats returns current rate limiter statistics
func (rl *CallerRateLimiter) Stats() map[string]interface{} {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return map[string]interface{}{
		"active_clients":      len(rl.clients),
		"requests_per_second": rl.config.RequestsPerSecond,
		"burst":               rl.config.Burst,
	}
}
