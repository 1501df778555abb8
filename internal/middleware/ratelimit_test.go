package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func limited(rl *RateLimiter) http.Handler {
	return rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, remote, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/turns", http.NoBody)
	req.RemoteAddr = remote
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	h := limited(rl)

	for i := range 3 {
		if rec := hit(h, "10.0.0.1:5000", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
	}
	rec := hit(h, "10.0.0.1:5000", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}

	now = now.Add(time.Second)
	if rec := hit(h, "10.0.0.1:5000", ""); rec.Code != http.StatusOK {
		t.Errorf("after refill: status %d", rec.Code)
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := limited(rl)

	hit(h, "10.0.0.1:1", "")
	if rec := hit(h, "10.0.0.1:2", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("same IP: status %d", rec.Code)
	}
	if rec := hit(h, "10.0.0.2:1", ""); rec.Code != http.StatusOK {
		t.Errorf("other IP: status %d", rec.Code)
	}
	if rec := hit(h, "10.0.0.1:3", "k1"); rec.Code != http.StatusOK {
		t.Errorf("API key gets its own bucket: status %d", rec.Code)
	}
}

func TestRateLimiterRemainingHeader(t *testing.T) {
	h := limited(NewRateLimiter(1, 5))
	if got := hit(h, "10.0.0.1:1", "").Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("remaining = %q, want 4", got)
	}
}

func TestRateLimiterEvict(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	hit(limited(rl), "10.0.0.1:1", "")

	if n := rl.evict(time.Minute); n != 0 {
		t.Errorf("evicted fresh client: %d", n)
	}
	now = now.Add(2 * time.Minute)
	if n := rl.evict(time.Minute); n != 1 {
		t.Errorf("evicted = %d, want 1", n)
	}
}
