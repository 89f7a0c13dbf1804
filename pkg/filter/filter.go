package filter

import (
	"context"

	"github.com/illmade-knight/go-trailflow/pkg/sourceid"
	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// SourceFilter decides whether a source is downloaded at all. Returning false skips
// download, verification and extraction for that source. An error is treated as a
// failure of that source only.
type SourceFilter func(ctx context.Context, source types.Source) (bool, error)

// EventFilter decides whether an extracted event is delivered.
type EventFilter func(ctx context.Context, event types.Event) (bool, error)

// AcceptAllSources is the default SourceFilter.
func AcceptAllSources(context.Context, types.Source) (bool, error) { return true, nil }

// AcceptAllEvents is the default EventFilter.
func AcceptAllEvents(context.Context, types.Event) (bool, error) { return true, nil }

// AccountIDFilter accepts sources whose object key belongs to one of the given
// accounts. Sources with no recognizable account id are rejected.
func AccountIDFilter(accountIDs ...string) SourceFilter {
	allowed := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		allowed[id] = struct{}{}
	}
	return func(_ context.Context, source types.Source) (bool, error) {
		id, ok := source.Attribute(types.AttrAccountID)
		if !ok {
			id, ok = sourceid.ExtractAccountID(source.ObjectKey)
		}
		if !ok {
			return false, nil
		}
		_, allow := allowed[id]
		return allow, nil
	}
}

// AllSources accepts a source only if every filter does. Evaluation stops at the
// first rejection or error.
func AllSources(filters ...SourceFilter) SourceFilter {
	return func(ctx context.Context, source types.Source) (bool, error) {
		for _, f := range filters {
			ok, err := f(ctx, source)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// AllEvents accepts an event only if every filter does.
func AllEvents(filters ...EventFilter) EventFilter {
	return func(ctx context.Context, event types.Event) (bool, error) {
		for _, f := range filters {
			ok, err := f(ctx, event)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}
