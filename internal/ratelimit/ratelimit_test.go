package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllow(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1, Burst: 3})
	defer l.Close()

	// The burst is available immediately
	for i := 0; i < 3; i++ {
		if !l.Allow("test-ip") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	// 4th should be rejected
	if l.Allow("test-ip") {
		t.Error("4th request should be rejected")
	}
}

func TestAllow_DifferentKeys(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1, Burst: 1})
	defer l.Close()

	if !l.Allow("ip-a") {
		t.Error("ip-a first request should be allowed")
	}
	if !l.Allow("ip-b") {
		t.Error("ip-b first request should be allowed (separate bucket)")
	}
	if l.Allow("ip-a") {
		t.Error("ip-a second request should be rejected")
	}
}

func TestAllow_Refill(t *testing.T) {
	// 1200/min is one token every 50ms
	l := New(Config{RequestsPerMinute: 1200, Burst: 1})
	defer l.Close()

	l.Allow("key")
	if l.Allow("key") {
		t.Error("should be rejected before refill")
	}

	time.Sleep(70 * time.Millisecond)

	if !l.Allow("key") {
		t.Error("should be allowed after refill")
	}
}

func TestRetryAfter(t *testing.T) {
	l := New(Config{RequestsPerMinute: 12, Burst: 1})
	defer l.Close()

	l.Allow("key")

	ra := l.RetryAfter("key")
	if ra <= 0 || ra > 6 {
		t.Errorf("expected RetryAfter 1-6, got %d", ra)
	}
	if l.RetryAfter("other") != 0 {
		t.Error("unused key should not need to wait")
	}
}

func TestPurge(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, Burst: 1, IdleTimeout: time.Minute})
	defer l.Close()

	l.Allow("key")
	l.purge(time.Now().Add(2 * time.Minute))

	l.mu.Lock()
	n := len(l.clients)
	l.mu.Unlock()
	if n != 0 {
		t.Errorf("idle key should be purged, %d left", n)
	}
}

func TestMiddleware_RateLimited(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1, Burst: 1})
	defer l.Close()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// First request: OK
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "1.2.3.4:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("first request: expected 200, got %d", rec.Code)
	}

	// Second request: rate limited
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"remote addr", nil, "10.0.0.1:5555", "10.0.0.1"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.1:1", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.1:1", "198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := extractIP(req); got != tt.want {
				t.Errorf("extractIP = %q, want %q", got, tt.want)
			}
		})
	}
}
