package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// Fetcher downloads the log file a Source points at.
type Fetcher struct {
	store Store
}

// NewFetcher creates a Fetcher reading through store.
func NewFetcher(store Store) (*Fetcher, error) {
	if store == nil {
		return nil, errors.New("object store cannot be nil")
	}
	return &Fetcher{store: store}, nil
}

// Download reads the object named by source and wraps it in an unverified Log.
func (f *Fetcher) Download(ctx context.Context, source types.Source) (*types.Log, error) {
	obj, err := f.store.GetObject(ctx, source.Bucket, source.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download log %s: %w", source.Location(), err)
	}
	return types.NewLog(source, obj.Bytes, obj.Metadata), nil
}
