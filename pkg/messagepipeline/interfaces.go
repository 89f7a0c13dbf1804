package messagepipeline

import (
	"context"

	"github.com/illmade-knight/go-trailflow/pkg/progress"
	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// ====================================================================================
// This file defines the contracts the pipeline is assembled from: where sources come
// from, how log files are fetched and verified, and where events end up.
// ====================================================================================

// --- Stage 1: Queue ---

// QueueManager is the queue-facing side of the pipeline. *queue.Manager implements it.
type QueueManager interface {
	PollQueue(ctx context.Context) []types.Notification
	ParseMessage(ctx context.Context, notifications []types.Notification) []types.Source
	DeleteMessage(ctx context.Context, ref types.MessageRef, trigger progress.Phase) bool
	ShouldDeleteUponFailure(success bool) bool
}

// --- Stage 2: Download and verification ---

// LogDownloader fetches the log file a source points at.
type LogDownloader interface {
	Download(ctx context.Context, source types.Source) (*types.Log, error)
}

// Verifier decides and records the verification result of a log. It never fails;
// anything that prevents a decision must yield SignatureNotVerified.
type Verifier interface {
	Verify(ctx context.Context, log *types.Log) types.VerificationResult
}

// --- Stage 3: Delivery ---

// EventsProcessor receives batches of events, at most the configured buffer
// capacity at a time. A returned error fails the source the events came from.
//
// Process may be called concurrently from several workers, each with events
// from a different source.
type EventsProcessor interface {
	Process(ctx context.Context, events []types.Event) error
}

// EventsProcessorFunc adapts a function to EventsProcessor.
type EventsProcessorFunc func(ctx context.Context, events []types.Event) error

// Process implements EventsProcessor.
func (f EventsProcessorFunc) Process(ctx context.Context, events []types.Event) error {
	return f(ctx, events)
}

// SourceProcessor runs the whole per-source pipeline and reports whether it
// succeeded. *Pipeline implements it.
type SourceProcessor interface {
	ProcessSource(ctx context.Context, source types.Source) bool
}
