package cache

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned by a cache that has neither the key nor a fallback.
var ErrCacheMiss = errors.New("cache miss")

// Fetcher retrieves a value by key, typically from a slower source of truth.
type Fetcher[K comparable, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
	Close() error
}

// FetcherFunc adapts a function to Fetcher. Close is a no-op.
type FetcherFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

func (f FetcherFunc[K, V]) Fetch(ctx context.Context, key K) (V, error) { return f(ctx, key) }
func (f FetcherFunc[K, V]) Close() error                                { return nil }

// Cache is a Fetcher that keeps what it fetched. Each implementation falls back
// to an optional Fetcher on a miss and stores the result, so caches chain:
// an LRU in front of Redis in front of the object store.
type Cache[K comparable, V any] interface {
	Fetcher[K, V]
	Write(ctx context.Context, key K, value V) error
	Invalidate(ctx context.Context, key K) error
}
