package messagepipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// LoggingProcessor is an EventsProcessor that writes one log line per event.
// It is the default sink of the command and never fails.
type LoggingProcessor struct {
	logger zerolog.Logger
}

// NewLoggingProcessor creates a LoggingProcessor.
func NewLoggingProcessor(logger zerolog.Logger) *LoggingProcessor {
	return &LoggingProcessor{logger: logger.With().Str("component", "LoggingProcessor").Logger()}
}

// Process implements EventsProcessor.
func (p *LoggingProcessor) Process(_ context.Context, events []types.Event) error {
	for _, ev := range events {
		p.logger.Info().
			Str("event_id", ev.Data.EventID).
			Str("event_name", ev.Data.EventName).
			Str("event_source", ev.Data.EventSource).
			Str("account_id", ev.Data.RecipientAccountID).
			Time("event_time", ev.Data.EventTime).
			Str("object_key", ev.Metadata.Source.ObjectKey).
			Int("position", ev.Metadata.Position).
			Str("verification", ev.Metadata.Verification.String()).
			Msg("Audit event.")
	}
	return nil
}
