// Package ristretto implements the cache port with an in-process ristretto
// cache. It is the L1 tier for safety confirmation decisions and holds
// replayable responses for idempotent requests.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

// Cache holds values in process memory, bounded by total key and value size.
type Cache struct {
	c          *ristretto.Cache[string, []byte]
	defaultTTL time.Duration
}

// New creates a cache from configuration. A non-positive size falls back
// to 16 MiB.
func New(cfg config.Cache) (*Cache, error) {
	maxCost := cfg.L1MaxSizeMB << 20
	if maxCost <= 0 {
		maxCost = 16 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// Most entries are one-byte decisions; size the counters for many keys.
		NumCounters: max(maxCost/64, 1000) * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{c: c, defaultTTL: cfg.TTL}, nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value and waits for the write buffer so the entry is visible
// to the next Get. A zero ttl uses the configured default.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	// Cost counts the key too; a one-byte decision would otherwise be nearly free.
	c.c.SetWithTTL(key, value, int64(len(key)+len(value)), ttl)
	c.c.Wait()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close releases the cache goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
