package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/illmade-knight/go-trailflow/pkg/cache"
	"github.com/illmade-knight/go-trailflow/pkg/objectstore"
)

// PEMFetcher loads a PEM-encoded certificate or revocation list.
type PEMFetcher interface {
	FetchPEM(ctx context.Context, bucket, key string) ([]byte, error)
}

// PEMObject is a fetched PEM file, in a shape every cache backend can store.
type PEMObject struct {
	Bucket string `json:"bucket" firestore:"bucket"`
	Key    string `json:"key" firestore:"key"`
	Data   []byte `json:"data" firestore:"data"`
}

// StorePEMFetcher reads PEM files straight from the object store on every call.
type StorePEMFetcher struct {
	store objectstore.Store
}

// NewStorePEMFetcher creates an uncached PEMFetcher.
func NewStorePEMFetcher(store objectstore.Store) (*StorePEMFetcher, error) {
	if store == nil {
		return nil, errors.New("object store cannot be nil")
	}
	return &StorePEMFetcher{store: store}, nil
}

// FetchPEM implements PEMFetcher.
func (f *StorePEMFetcher) FetchPEM(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := f.store.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch PEM %s/%s: %w", bucket, key, err)
	}
	return obj.Bytes, nil
}

// CacheKey is the key PEM objects are cached under.
func CacheKey(bucket, key string) string {
	return bucket + "/" + key
}

// PEMSource exposes a PEMFetcher as the source of truth for a cache.
func PEMSource(next PEMFetcher) cache.Fetcher[string, PEMObject] {
	return cache.FetcherFunc[string, PEMObject](func(ctx context.Context, cacheKey string) (PEMObject, error) {
		bucket, key, ok := strings.Cut(cacheKey, "/")
		if !ok {
			return PEMObject{}, fmt.Errorf("malformed PEM cache key %q", cacheKey)
		}
		data, err := next.FetchPEM(ctx, bucket, key)
		if err != nil {
			return PEMObject{}, err
		}
		return PEMObject{Bucket: bucket, Key: key, Data: data}, nil
	})
}

// CachingPEMFetcher serves PEM files through a cache. Build the cache with
// PEMSource as its fallback.
type CachingPEMFetcher struct {
	cache cache.Fetcher[string, PEMObject]
}

// NewCachingPEMFetcher creates a CachingPEMFetcher.
func NewCachingPEMFetcher(c cache.Fetcher[string, PEMObject]) (*CachingPEMFetcher, error) {
	if c == nil {
		return nil, errors.New("cache cannot be nil")
	}
	return &CachingPEMFetcher{cache: c}, nil
}

// FetchPEM implements PEMFetcher.
func (f *CachingPEMFetcher) FetchPEM(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := f.cache.Fetch(ctx, CacheKey(bucket, key))
	if err != nil {
		return nil, err
	}
	return obj.Data, nil
}

// Close closes the underlying cache chain.
func (f *CachingPEMFetcher) Close() error {
	return f.cache.Close()
}
