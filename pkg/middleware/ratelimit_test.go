package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/permgate/pkg/rbac"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(config *RateLimitConfig) (*RateLimiter, *manualClock) {
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := NewRateLimiter(config)
	limiter.now = clock.Now
	return limiter, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter, clock := newTestLimiter(config)
	ctx := context.Background()
	key := "user:1"

	// Should allow initial requests up to limit + burst
	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		if ok, _ := limiter.Allow(ctx, key); ok {
			allowedCount++
		}
	}

	expected := config.RequestsPerWindow + config.BurstSize
	if allowedCount != expected {
		t.Errorf("Allowed %d requests, want %d", allowedCount, expected)
	}

	clock.Advance(time.Second)
	if ok, _ := limiter.Allow(ctx, key); !ok {
		t.Error("Should allow request after refill")
	}
}

func TestRateLimiter_Remaining(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter, _ := newTestLimiter(config)
	ctx := context.Background()

	initial, _ := limiter.Remaining(ctx, "user:1")
	if initial != 12 {
		t.Errorf("Initial remaining = %d, want 12", initial)
	}

	limiter.Allow(ctx, "user:1")
	remaining, _ := limiter.Remaining(ctx, "user:1")
	if remaining != initial-1 {
		t.Errorf("After using 1 token, remaining = %d, want %d", remaining, initial-1)
	}
}

func TestRateLimiter_TokenCapRefill(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter, clock := newTestLimiter(config)
	ctx := context.Background()

	limiter.Allow(ctx, "k")
	clock.Advance(time.Hour)
	limiter.Allow(ctx, "k")

	remaining, _ := limiter.Remaining(ctx, "k")
	if remaining != 11 {
		t.Errorf("Remaining after long idle = %d, want capacity-1 = 11", remaining)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    100 * time.Millisecond,
		BurstSize:         2,
	}
	limiter, clock := newTestLimiter(config)
	ctx := context.Background()

	limiter.Allow(ctx, "old")
	clock.Advance(300 * time.Millisecond)
	limiter.Allow(ctx, "fresh")
	limiter.Cleanup()

	limiter.mu.RLock()
	_, oldExists := limiter.buckets["old"]
	_, freshExists := limiter.buckets["fresh"]
	limiter.mu.RUnlock()

	if oldExists {
		t.Error("Idle bucket should be removed")
	}
	if !freshExists {
		t.Error("Recent bucket should be kept")
	}
}

func TestRateLimiter_StartCleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	limiter.StartCleanup(ctx)
	limiter.Allow(ctx, "k")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		limiter.mu.RLock()
		n := len(limiter.buckets)
		limiter.mu.RUnlock()
		if n == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	if len(limiter.buckets) != 0 {
		t.Errorf("Background cleanup left %d buckets", len(limiter.buckets))
	}
}

func TestRateLimiter_Concurrency(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Hour,
		BurstSize:         0,
	}
	limiter, _ := newTestLimiter(config)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if ok, _ := limiter.Allow(ctx, "shared"); ok {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 100 {
		t.Errorf("Allowed %d concurrent requests, want 100", allowed.Load())
	}
}

func TestNewRateLimiter_NilConfig(t *testing.T) {
	limiter := NewRateLimiter(nil)
	if limiter.Config().RequestsPerWindow != DefaultRateLimitConfig().RequestsPerWindow {
		t.Error("Nil config should fall back to defaults")
	}
}

func TestRateLimitConfig_Defaults(t *testing.T) {
	anon := DefaultRateLimitConfig()
	user := PerUserRateLimitConfig()

	if anon.RequestsPerWindow != 100 || anon.BurstSize != 10 || anon.WindowDuration != time.Minute {
		t.Errorf("Unexpected anonymous defaults: %+v", anon)
	}
	if user.RequestsPerWindow != 1000 || user.BurstSize != 50 || user.WindowDuration != time.Minute {
		t.Errorf("Unexpected per-user defaults: %+v", user)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expectedIP string
	}{
		{
			name:       "X-Forwarded-For header",
			headers:    map[string]string{"X-Forwarded-For": "192.168.1.1"},
			remoteAddr: "10.0.0.1:12345",
			expectedIP: "192.168.1.1",
		},
		{
			name:       "X-Forwarded-For chain uses first hop",
			headers:    map[string]string{"X-Forwarded-For": "192.168.1.1, 10.1.1.1"},
			remoteAddr: "10.0.0.1:12345",
			expectedIP: "192.168.1.1",
		},
		{
			name:       "X-Real-IP header",
			headers:    map[string]string{"X-Real-IP": "192.168.1.2"},
			remoteAddr: "10.0.0.1:12345",
			expectedIP: "192.168.1.2",
		},
		{
			name:       "RemoteAddr fallback strips port",
			headers:    map[string]string{},
			remoteAddr: "10.0.0.1:12345",
			expectedIP: "10.0.0.1",
		},
		{
			name:       "RemoteAddr without port",
			headers:    map[string]string{},
			remoteAddr: "10.0.0.1",
			expectedIP: "10.0.0.1",
		},
		{
			name:       "X-Forwarded-For takes precedence",
			headers:    map[string]string{"X-Forwarded-For": "192.168.1.1", "X-Real-IP": "192.168.1.2"},
			remoteAddr: "10.0.0.1:12345",
			expectedIP: "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			ip := getClientIP(req)
			if ip != tt.expectedIP {
				t.Errorf("getClientIP() = %v, want %v", ip, tt.expectedIP)
			}
		})
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_Handler_Anonymous(t *testing.T) {
	anon, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute, BurstSize: 1})
	user, _ := newTestLimiter(PerUserRateLimitConfig())
	handler := NewRateLimitMiddleware(user, anon, nil).Handler(okHandler())

	codes := []int{}
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	want := []int{200, 200, 200, 200, 429}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("Request %d: got %d, want %d", i, codes[i], want[i])
		}
	}

	// A different IP has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.2:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Other IP got %d, want 200", rec.Code)
	}
}

func TestRateLimitMiddleware_Handler_AuthenticatedUser(t *testing.T) {
	anon, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	user, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute})
	handler := NewRateLimitMiddleware(user, anon, nil).Handler(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req = req.WithContext(rbac.WithPrincipal(req.Context(), &rbac.Principal{UserID: 42, Role: rbac.AccountRoleAgent}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("Request %d: got %d, want 200", i, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "5" {
			t.Errorf("X-RateLimit-Limit = %q, want 5", rec.Header().Get("X-RateLimit-Limit"))
		}
	}

	if remaining, _ := user.Remaining(context.Background(), "user:42"); remaining != 0 {
		t.Errorf("user:42 remaining = %d, want 0", remaining)
	}
	if remaining, _ := anon.Remaining(context.Background(), "ip:192.168.1.1"); remaining != 1 {
		t.Errorf("Anonymous bucket should be untouched, remaining = %d", remaining)
	}
}

func TestRateLimitMiddleware_RateLimitExceeded_Headers(t *testing.T) {
	anon, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	handler := NewRateLimitMiddleware(anon, anon, nil).Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rec.Code)
	}

	headers := []string{"Content-Type", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"}
	for _, header := range headers {
		if rec.Header().Get(header) == "" {
			t.Errorf("Header %s should be set", header)
		}
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %s, want 60", rec.Header().Get("Retry-After"))
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func (failingLimiter) Remaining(context.Context, string) (int, error) {
	return 0, errors.New("redis down")
}

func (failingLimiter) Config() *RateLimitConfig { return DefaultRateLimitConfig() }

func TestRateLimitMiddleware_LimiterFailure(t *testing.T) {
	m := NewRateLimitMiddleware(failingLimiter{}, failingLimiter{}, nil)

	rec := httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Fail-open: got %d, want 200", rec.Code)
	}

	m.SetFailOpen(false)
	rec = httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Fail-closed: got %d, want 503", rec.Code)
	}
}
