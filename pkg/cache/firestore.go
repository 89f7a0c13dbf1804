package cache

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore client.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreCache stores values as documents in one collection. Intended for
// low-volume deployments that already run on GCP; use Redis for anything hot.
// V must be a type Firestore can map, i.e. a struct or a map.
type FirestoreCache[K comparable, V any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
	fallback       Fetcher[K, V]
}

// NewFirestoreCache creates a FirestoreCache. The Firestore client's lifecycle is
// managed by the caller. fallback is optional.
func NewFirestoreCache[K comparable, V any](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
	fallback Fetcher[K, V],
) (*FirestoreCache[K, V], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreCache initialized.")

	return &FirestoreCache[K, V]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreCache").Logger(),
		fallback:       fallback,
	}, nil
}

// DocumentID maps a key to a valid document id; Firestore ids cannot contain '/'.
func DocumentID(key any) string {
	return strings.ReplaceAll(fmt.Sprintf("%v", key), "/", "|")
}

// Fetch retrieves a document by key, loading it from the fallback on a miss.
func (c *FirestoreCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	docID := DocumentID(key)
	docSnap, err := c.client.Collection(c.collectionName).Doc(docID).Get(ctx)
	if err == nil {
		var value V
		if err := docSnap.DataTo(&value); err != nil {
			return zero, fmt.Errorf("firestore DataTo for %s: %w", docID, err)
		}
		c.logger.Debug().Str("key", docID).Msg("Firestore cache hit.")
		return value, nil
	}
	if status.Code(err) != codes.NotFound {
		c.logger.Error().Err(err).Str("key", docID).Msg("Failed to get document from Firestore.")
		return zero, fmt.Errorf("firestore get for %s: %w", docID, err)
	}

	if c.fallback == nil {
		return zero, fmt.Errorf("document %s not found and no fallback is configured: %w", docID, ErrCacheMiss)
	}
	value, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}
	if err := c.Write(ctx, key, value); err != nil {
		c.logger.Warn().Err(err).Str("key", docID).Msg("Failed to write fetched value back to Firestore.")
	}
	return value, nil
}

// Write stores value as the document for key.
func (c *FirestoreCache[K, V]) Write(ctx context.Context, key K, value V) error {
	docID := DocumentID(key)
	if _, err := c.client.Collection(c.collectionName).Doc(docID).Set(ctx, value); err != nil {
		return fmt.Errorf("firestore set for %s: %w", docID, err)
	}
	return nil
}

// Invalidate deletes the document for key.
func (c *FirestoreCache[K, V]) Invalidate(ctx context.Context, key K) error {
	docID := DocumentID(key)
	if _, err := c.client.Collection(c.collectionName).Doc(docID).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete for %s: %w", docID, err)
	}
	return nil
}

// Close closes the fallback, if any. The Firestore client is not closed.
func (c *FirestoreCache[K, V]) Close() error {
	if c.fallback != nil {
		return c.fallback.Close()
	}
	return nil
}
