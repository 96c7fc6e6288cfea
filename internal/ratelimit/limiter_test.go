package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestsPerSecond != 100 {
		t.Errorf("expected RequestsPerSecond 100, got %f", cfg.RequestsPerSecond)
	}
	if cfg.Burst != 200 {
		t.Errorf("expected Burst 200, got %d", cfg.Burst)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("expected CleanupInterval 1m, got %v", cfg.CleanupInterval)
	}
	if cfg.TTL != 5*time.Minute {
		t.Errorf("expected TTL 5m, got %v", cfg.TTL)
	}
}

func TestFromCallsPerPeriod(t *testing.T) {
	cfg := FromCallsPerPeriod(60, time.Minute)
	if cfg.Burst != 60 {
		t.Errorf("expected burst 60, got %d", cfg.Burst)
	}
	if cfg.RequestsPerSecond != 1 {
		t.Errorf("expected 1 req/s, got %f", cfg.RequestsPerSecond)
	}
}

func TestNewCallerRateLimiter(t *testing.T) {
	cfg := DefaultConfig()
	rl := NewCallerRateLimiter(cfg)
	defer rl.Stop()

	if rl == nil {
		t.Fatal("expected non-nil rate limiter")
	}
	if rl.clients == nil {
		t.Error("expected clients map to be initialized")
	}
}

func TestCallerRateLimiter_Allow(t *testing.T) {
	cfg := Config{
		RequestsPerSecond: 10,
		Burst:             10,
		CleanupInterval:   time.Hour,
		TTL:               time.Hour,
	}
	rl := NewCallerRateLimiter(cfg)
	defer rl.Stop()

	key := "secret-abc"

	for i := 0; i < 10; i++ {
		if !rl.Allow(key) {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	if rl.Allow(key) {
		t.Error("request 11 should be denied")
	}
}

func TestCallerRateLimiter_AllowDifferentCallers(t *testing.T) {
	cfg := Config{
		RequestsPerSecond: 1,
		Burst:             1,
		CleanupInterval:   time.Hour,
		TTL:               time.Hour,
	}
	rl := NewCallerRateLimiter(cfg)
	defer rl.Stop()

	if !rl.Allow("secret-1") {
		t.Error("first caller first request should be allowed")
	}
	if !rl.Allow("secret-2") {
		t.Error("second caller first request should be allowed")
	}
	if rl.Allow("secret-1") {
		t.Error("first caller second request should be denied")
	}
}

func TestCallerRateLimiter_Concurrent(t *testing.T) {
	cfg := Config{
		RequestsPerSecond: 1000,
		Burst:             1000,
		CleanupInterval:   time.Hour,
		TTL:               time.Hour,
	}
	rl := NewCallerRateLimiter(cfg)
	defer rl.Stop()

	var wg sync.WaitGroup
	allowed := make(chan bool, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := "secret-" + string(rune('a'+id%26))
			allowed <- rl.Allow(key)
		}(i)
	}

	wg.Wait()
	close(allowed)

	count := 0
	for a := range allowed {
		if a {
			count++
		}
	}

	if count < 50 {
		t.Errorf("expected most requests to be allowed, got %d/100", count)
	}
}

func TestCallerRateLimiter_Stats(t *testing.T) {
	cfg := Config{
		RequestsPerSecond: 100,
		Burst:             200,
		CleanupInterval:   time.Hour,
		TTL:               time.Hour,
	}
	rl := NewCallerRateLimiter(cfg)
	defer rl.Stop()

	rl.Allow("secret-1")
	rl.Allow("secret-2")
	rl.Allow("secret-3")

	stats := rl.Stats()

	if stats["active_clients"].(int) != 3 {
		t.Errorf("expected 3 active clients, got %v", stats["active_clients"])
	}
	if stats["requests_per_second"].(float64) != 100 {
		t.Errorf("expected requests_per_second 100, got %v", stats["requests_per_second"])
	}
	if stats["burst"].(int) != 200 {
		t.Errorf("expected burst 200, got %v", stats["burst"])
	}
}

func TestCallerRateLimiter_Middleware(t *testing.T) {
	cfg := Config{
		RequestsPerSecond: 100,
		Burst:             100,
		CleanupInterval:   time.Hour,
		TTL:               time.Hour,
	}
	rl := NewCallerRateLimiter(cfg)
	defer rl.Stop()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrappedHandler := rl.Middleware(handler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer secret-1")
	rec := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestCallerRateLimiter_Middleware_TooManyRequests(t *testing.T) {
	cfg := Config{
		RequestsPerSecond: 1,
		Burst:             1,
		CleanupInterval:   time.Hour,
		TTL:               time.Hour,
	}
	rl := NewCallerRateLimiter(cfg)
	defer rl.Stop()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrappedHandler := rl.Middleware(handler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer secret-1")
	rec := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("first request: expected status 200, got %d", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(rec2, req)

	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected status 429, got %d", rec2.Code)
	}
}

func TestCallerKey_Authorization(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer secret-1")
	req.RemoteAddr = "192.168.1.1:12345"

	key := callerKey(req)
	if key != "Bearer secret-1" {
		t.Errorf("expected 'Bearer secret-1', got '%s'", key)
	}
}

func TestCallerKey_FallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"

	key := callerKey(req)
	if key != "192.168.1.1:12345" {
		t.Errorf("expected '192.168.1.1:12345', got '%s'", key)
	}
}

func TestCallerRateLimiter_Stop(t *testing.T) {
	cfg := Config{
		RequestsPerSecond: 100,
		Burst:             100,
		CleanupInterval:   100 * time.Millisecond,
		TTL:               time.Hour,
	}
	rl := NewCallerRateLimiter(cfg)

	rl.Stop()

	if !rl.Allow("secret-1") {
		t.Error("should still allow requests after stop")
	}
}
