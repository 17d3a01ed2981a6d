package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerSecond: 1, Burst: 1}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}

	now = now.Add(time.Second)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected refill after one second, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesSubjects(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerSecond: 1, Burst: 1}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }

	alice := httptest.NewRequest(http.MethodPost, "/", nil)
	alice = alice.WithContext(WithPrincipal(alice.Context(), &Principal{Subject: "0xA11CE"}))
	bob := httptest.NewRequest(http.MethodPost, "/", nil)
	bob = bob.WithContext(WithPrincipal(bob.Context(), &Principal{Subject: "0xB0B"}))

	if !limiter.Allow(CallerKey(alice)) || !limiter.Allow(CallerKey(bob)) {
		t.Fatalf("expected first request per subject to pass")
	}
	if limiter.Allow(CallerKey(alice)) {
		t.Fatalf("expected alice to be throttled")
	}
	if CallerKey(alice) != "sub:0xa11ce" {
		t.Fatalf("unexpected caller key %q", CallerKey(alice))
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{}, nil)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("ip:127.0.0.1") {
			t.Fatalf("disabled limiter throttled request %d", i)
		}
	}
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerSecond: 0.001, Burst: 1}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	limiter.Allow("ip:10.0.0.1")
	now = now.Add(visitorTTL + time.Second)
	limiter.Allow("ip:10.0.0.2")
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.visitors["ip:10.0.0.1"]; ok {
		t.Fatalf("expected idle visitor to be evicted")
	}
}

func TestClientIPPrefersForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := clientIP(req); got != "192.0.2.1" {
		t.Fatalf("unexpected remote ip %q", got)
	}
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := clientIP(req); got != "198.51.100.7" {
		t.Fatalf("unexpected forwarded ip %q", got)
	}
	req.Header.Set("X-Real-IP", "203.0.113.9")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Fatalf("unexpected real ip %q", got)
	}
}
