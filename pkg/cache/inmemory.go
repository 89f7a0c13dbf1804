package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// InMemoryTTLCache is a thread-safe in-memory cache whose entries expire a fixed
// time after they were stored. It suits values that go stale, such as revocation
// lists.
type InMemoryTTLCache[K comparable, V any] struct {
	items    *ttlcache.Cache[K, V]
	fallback Fetcher[K, V]
}

// NewInMemoryTTLCache creates a cache whose entries live for ttl and starts its
// expiry loop. Close stops it.
func NewInMemoryTTLCache[K comparable, V any](ttl time.Duration, fallback Fetcher[K, V]) (*InMemoryTTLCache[K, V], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be greater than 0")
	}
	items := ttlcache.New(
		ttlcache.WithTTL[K, V](ttl),
		ttlcache.WithDisableTouchOnHit[K, V](),
	)
	go items.Start()
	return &InMemoryTTLCache[K, V]{items: items, fallback: fallback}, nil
}

// Fetch returns the cached value or loads it from the fallback.
func (c *InMemoryTTLCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	if item := c.items.Get(key); item != nil {
		return item.Value(), nil
	}

	var zero V
	if c.fallback == nil {
		return zero, fmt.Errorf("key '%v' not found in TTL cache and no fallback is configured: %w", key, ErrCacheMiss)
	}
	value, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}
	c.items.Set(key, value, ttlcache.DefaultTTL)
	return value, nil
}

// Write stores value under key with the cache's TTL.
func (c *InMemoryTTLCache[K, V]) Write(_ context.Context, key K, value V) error {
	c.items.Set(key, value, ttlcache.DefaultTTL)
	return nil
}

// Invalidate removes key.
func (c *InMemoryTTLCache[K, V]) Invalidate(_ context.Context, key K) error {
	c.items.Delete(key)
	return nil
}

// Close stops the expiry loop and closes the fallback, if any.
func (c *InMemoryTTLCache[K, V]) Close() error {
	c.items.Stop()
	if c.fallback != nil {
		return c.fallback.Close()
	}
	return nil
}
