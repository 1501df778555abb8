// Package tiered combines a local and a shared cache. Reads try the local
// tier first and backfill it from the shared tier; writes go to both.
// Failures of the shared tier are logged and do not fail the call, so
// decisions keep working locally while the shared store is unreachable.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/GGUFloader/agentcore/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

// Cache is a two-level cache.
type Cache struct {
	local    cache.Cache
	shared   cache.Cache
	backfill time.Duration
}

// New creates a tiered cache. backfill is the local TTL for entries copied
// up from the shared tier.
func New(local, shared cache.Cache, backfill time.Duration) *Cache {
	return &Cache{local: local, shared: shared, backfill: backfill}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return val, true, nil
	}

	val, ok, err = c.shared.Get(ctx, key)
	if err != nil {
		slog.Warn("shared cache read failed", "key", key, "error", err)
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	if err := c.local.Set(ctx, key, val, c.backfill); err != nil {
		slog.Warn("local cache backfill failed", "key", key, "error", err)
	}
	return val, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := c.shared.Set(ctx, key, value, ttl); err != nil {
		slog.Warn("shared cache write failed", "key", key, "error", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	if err := c.shared.Delete(ctx, key); err != nil {
		slog.Warn("shared cache delete failed", "key", key, "error", err)
	}
	return nil
}
