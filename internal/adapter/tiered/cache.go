// Package tiered layers a short-lived local cache in front of a shared one.
package tiered

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/TaskForge/internal/port/cache"
)

// Cache reads the local tier first and falls back to the shared tier.
// Local entries expire after localTTL so values written by other processes
// become visible within that window.
type Cache struct {
	local    cache.Cache
	shared   cache.Cache
	localTTL time.Duration
}

var _ cache.Cache = (*Cache)(nil)

// New creates a tiered cache.
func New(local, shared cache.Cache, localTTL time.Duration) *Cache {
	return &Cache{local: local, shared: shared, localTTL: localTTL}
}

// Get returns the local value when present, otherwise the shared one, which
// is then copied into the local tier.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if val, ok, err := c.local.Get(ctx, key); err != nil {
		return nil, false, fmt.Errorf("local get %s: %w", key, err)
	} else if ok {
		return val, true, nil
	}

	val, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("shared get %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	_ = c.local.Set(ctx, key, val, c.localTTL)
	return val, true, nil
}

// Set writes the shared tier first; the local tier only caches what the
// shared tier accepted.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.shared.Set(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("shared set %s: %w", key, err)
	}
	return c.local.Set(ctx, key, value, c.expiry(ttl))
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return fmt.Errorf("local delete %s: %w", key, err)
	}
	if err := c.shared.Delete(ctx, key); err != nil {
		return fmt.Errorf("shared delete %s: %w", key, err)
	}
	return nil
}

func (c *Cache) expiry(ttl time.Duration) time.Duration {
	if ttl <= 0 || (c.localTTL > 0 && c.localTTL < ttl) {
		return c.localTTL
	}
	return ttl
}
