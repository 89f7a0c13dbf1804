package messagepipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// PubsubPublisherConfig holds configuration for the Pub/Sub event publisher.
type PubsubPublisherConfig struct {
	TopicID    string
	BatchSize  int           // Corresponds to Pub/Sub's CountThreshold.
	BatchDelay time.Duration // Corresponds to Pub/Sub's DelayThreshold.
	// TopicExistsTimeout bounds the existence check made by the constructor.
	TopicExistsTimeout time.Duration
	// PublishConfirmationTimeout bounds the wait for a batch's publish results.
	PublishConfirmationTimeout time.Duration
}

// NewPubsubPublisherDefaults provides a config with sensible defaults.
func NewPubsubPublisherDefaults(topicID string) *PubsubPublisherConfig {
	return &PubsubPublisherConfig{
		TopicID:                    topicID,
		BatchSize:                  100,
		BatchDelay:                 100 * time.Millisecond,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
}

// publishedEvent is the message body written for every event.
type publishedEvent struct {
	Event        types.EventData `json:"event"`
	Bucket       string          `json:"bucket"`
	ObjectKey    string          `json:"objectKey"`
	Position     int             `json:"position"`
	Verification string          `json:"verification"`
	RawEvent     string          `json:"rawEvent,omitempty"`
}

// PubsubPublisher is an EventsProcessor that republishes every event as a JSON
// message on a Pub/Sub topic. Process returns once every message of the batch
// is confirmed, so a notification is never deleted before its events are out.
type PubsubPublisher struct {
	topic                      *pubsub.Topic
	publishConfirmationTimeout time.Duration
	logger                     zerolog.Logger
}

// NewPubsubPublisher creates a PubsubPublisher. It validates the topic's
// existence before returning.
func NewPubsubPublisher(
	ctx context.Context,
	cfg *PubsubPublisherConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*PubsubPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for publisher")
	}
	if cfg.TopicExistsTimeout <= 0 {
		cfg.TopicExistsTimeout = 15 * time.Second
	}
	if cfg.PublishConfirmationTimeout <= 0 {
		cfg.PublishConfirmationTimeout = 20 * time.Second
	}

	topic := client.Topic(cfg.TopicID)
	topic.PublishSettings.DelayThreshold = cfg.BatchDelay
	topic.PublishSettings.CountThreshold = cfg.BatchSize
	topic.PublishSettings.Timeout = 10 * time.Second

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("PubsubPublisher initialized successfully.")
	return &PubsubPublisher{
		topic:                      topic,
		publishConfirmationTimeout: cfg.PublishConfirmationTimeout,
		logger:                     logger.With().Str("component", "PubsubPublisher").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Process implements EventsProcessor.
func (p *PubsubPublisher) Process(ctx context.Context, events []types.Event) error {
	results := make([]*pubsub.PublishResult, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(publishedEvent{
			Event:        ev.Data,
			Bucket:       ev.Metadata.Source.Bucket,
			ObjectKey:    ev.Metadata.Source.ObjectKey,
			Position:     ev.Metadata.Position,
			Verification: ev.Metadata.Verification.String(),
			RawEvent:     ev.Metadata.RawEvent,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", ev.Data.EventID, err)
		}
		results = append(results, p.topic.Publish(ctx, &pubsub.Message{
			Data:       payload,
			Attributes: eventAttributes(ev),
		}))
	}

	getCtx, cancel := context.WithTimeout(ctx, p.publishConfirmationTimeout)
	defer cancel()
	for i, res := range results {
		if _, err := res.Get(getCtx); err != nil {
			return fmt.Errorf("failed to publish event %d of %d: %w", i+1, len(results), err)
		}
	}
	p.logger.Debug().Int("count", len(results)).Msg("Published events.")
	return nil
}

func eventAttributes(ev types.Event) map[string]string {
	attrs := map[string]string{
		"eventName":    ev.Data.EventName,
		"eventSource":  ev.Data.EventSource,
		"verification": ev.Metadata.Verification.String(),
		"position":     strconv.Itoa(ev.Metadata.Position),
	}
	if ev.Data.RecipientAccountID != "" {
		attrs[types.AttrAccountID] = ev.Data.RecipientAccountID
	}
	return attrs
}

// Stop flushes any pending messages for the topic, respecting the context's timeout.
func (p *PubsubPublisher) Stop(ctx context.Context) error {
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		p.logger.Info().Msg("Pub/Sub topic stopped.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for Pub/Sub topic to flush and stop.")
		return ctx.Err()
	}
}
