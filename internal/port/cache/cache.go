// Package cache defines the port for the last-value snapshot cache.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values by key. A zero ttl keeps the value until it is
// evicted or overwritten.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
