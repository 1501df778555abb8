package tiered_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GGUFloader/agentcore/internal/adapter/tiered"
	"github.com/GGUFloader/agentcore/internal/port/cache"
	"github.com/GGUFloader/agentcore/internal/port/cache/cachetest"
)

// memCache implements cache.Cache for testing.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

var _ cache.Cache = (*memCache)(nil)

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

func TestCompliance(t *testing.T) {
	cachetest.Run(t, tiered.New(newMemCache(), newMemCache(), time.Minute))
}

func TestSharedHitBackfillsLocal(t *testing.T) {
	local, shared := newMemCache(), newMemCache()
	c := tiered.New(local, shared, 5*time.Minute)
	shared.data["k"] = []byte("1")

	val, ok, err := c.Get(context.Background(), "k")
	if err != nil || !ok || string(val) != "1" {
		t.Fatalf("Get = %q, %v, %v", val, ok, err)
	}
	if string(local.data["k"]) != "1" || local.ttls["k"] != 5*time.Minute {
		t.Errorf("local not backfilled: %q ttl %v", local.data["k"], local.ttls["k"])
	}
}

func TestLocalHitSkipsShared(t *testing.T) {
	local, shared := newMemCache(), newMemCache()
	shared.err = errors.New("must not be called")
	c := tiered.New(local, shared, time.Minute)
	local.data["k"] = []byte("0")

	val, ok, err := c.Get(context.Background(), "k")
	if err != nil || !ok || string(val) != "0" {
		t.Fatalf("Get = %q, %v, %v", val, ok, err)
	}
}

func TestSharedFailureDegradesToLocal(t *testing.T) {
	local, shared := newMemCache(), newMemCache()
	shared.err = errors.New("nats: connection closed")
	c := tiered.New(local, shared, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("1"), time.Hour); err != nil {
		t.Fatalf("Set should tolerate shared failure: %v", err)
	}
	if _, ok, err := c.Get(ctx, "k"); err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("miss with shared failure = %v, %v", ok, err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete should tolerate shared failure: %v", err)
	}
}

func TestLocalFailureIsReturned(t *testing.T) {
	local, shared := newMemCache(), newMemCache()
	local.err = errors.New("broken")
	c := tiered.New(local, shared, time.Minute)
	if err := c.Set(context.Background(), "k", []byte("1"), 0); err == nil {
		t.Fatal("expected local failure")
	}
}
