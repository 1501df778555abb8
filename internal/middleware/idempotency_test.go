package middleware_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/GGUFloader/agentcore/internal/middleware"
	"github.com/GGUFloader/agentcore/internal/port/cache"
)

// mapCache is an in-memory cache.Cache for testing.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

var _ cache.Cache = (*mapCache)(nil)

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func countingHandler(counter *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*counter++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *counter)
	})
}

func post(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, http.NoBody)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyNoHeader(t *testing.T) {
	counter := 0
	c := newMapCache()
	h := middleware.Idempotency(c, time.Hour)(countingHandler(&counter, http.StatusOK))

	post(h, "/api/v1/turns", "")
	post(h, "/api/v1/turns", "")
	if counter != 2 || c.len() != 0 {
		t.Fatalf("calls = %d, stored = %d", counter, c.len())
	}
}

func TestIdempotencyReplays(t *testing.T) {
	counter := 0
	c := newMapCache()
	h := middleware.Idempotency(c, time.Hour)(countingHandler(&counter, http.StatusOK))

	first := post(h, "/api/v1/turns", "key-1")
	second := post(h, "/api/v1/turns", "key-1")

	if counter != 1 {
		t.Fatalf("handler calls = %d, want 1", counter)
	}
	if second.Code != http.StatusOK || second.Body.String() != first.Body.String() {
		t.Errorf("replay = %d %q, want %q", second.Code, second.Body.String(), first.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("replay should be marked")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", second.Header().Get("Content-Type"))
	}
	for _, ttl := range c.ttls {
		if ttl != time.Hour {
			t.Errorf("ttl = %v", ttl)
		}
	}
}

func TestIdempotencyScopedByPath(t *testing.T) {
	counter := 0
	h := middleware.Idempotency(newMapCache(), time.Hour)(countingHandler(&counter, http.StatusOK))
	post(h, "/api/v1/turns", "k")
	post(h, "/api/v1/turns/stop", "k")
	post(h, "/api/v1/turns", "other")
	if counter != 3 {
		t.Fatalf("calls = %d, want 3", counter)
	}
}

func TestIdempotencySkipsFailures(t *testing.T) {
	counter := 0
	c := newMapCache()
	h := middleware.Idempotency(c, time.Hour)(countingHandler(&counter, http.StatusConflict))
	post(h, "/api/v1/turns", "k")
	post(h, "/api/v1/turns", "k")
	if counter != 2 || c.len() != 0 {
		t.Fatalf("calls = %d, stored = %d", counter, c.len())
	}
}

func TestIdempotencyGETIgnored(t *testing.T) {
	counter := 0
	c := newMapCache()
	h := middleware.Idempotency(c, time.Hour)(countingHandler(&counter, http.StatusOK))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/turns", http.NoBody)
	req.Header.Set("Idempotency-Key", "k")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if counter != 1 || c.len() != 0 {
		t.Fatalf("calls = %d, stored = %d", counter, c.len())
	}
}

func TestIdempotencyCacheErrorPassesThrough(t *testing.T) {
	counter := 0
	c := newMapCache()
	c.err = errors.New("nats down")
	h := middleware.Idempotency(c, time.Hour)(countingHandler(&counter, http.StatusOK))
	if rec := post(h, "/api/v1/turns", "k"); rec.Code != http.StatusOK || counter != 1 {
		t.Fatalf("status = %d, calls = %d", rec.Code, counter)
	}
}
