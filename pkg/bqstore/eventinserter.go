package bqstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// EventRow is the BigQuery row written for one audit event. Nested structures
// whose shape varies per service are stored as JSON strings.
type EventRow struct {
	EventID             string              `bigquery:"event_id"`
	EventTime           time.Time           `bigquery:"event_time"`
	EventVersion        string              `bigquery:"event_version"`
	EventName           string              `bigquery:"event_name"`
	EventSource         string              `bigquery:"event_source"`
	EventType           string              `bigquery:"event_type"`
	AWSRegion           string              `bigquery:"aws_region"`
	SourceIPAddress     string              `bigquery:"source_ip_address"`
	UserAgent           string              `bigquery:"user_agent"`
	RecipientAccountID  string              `bigquery:"recipient_account_id"`
	RequestID           string              `bigquery:"request_id"`
	ReadOnly            bigquery.NullBool   `bigquery:"read_only"`
	ErrorCode           string              `bigquery:"error_code"`
	ErrorMessage        string              `bigquery:"error_message"`
	UserIdentity        bigquery.NullString `bigquery:"user_identity"`
	RequestParameters   bigquery.NullString `bigquery:"request_parameters"`
	ResponseElements    bigquery.NullString `bigquery:"response_elements"`
	AdditionalEventData bigquery.NullString `bigquery:"additional_event_data"`
	Resources           bigquery.NullString `bigquery:"resources"`

	LogBucket    string              `bigquery:"log_bucket"`
	LogKey       string              `bigquery:"log_key"`
	Position     int                 `bigquery:"position"`
	Verification string              `bigquery:"verification"`
	RawEvent     bigquery.NullString `bigquery:"raw_event"`
	IngestedAt   time.Time           `bigquery:"ingested_at"`
}

// NewEventRow flattens an event into a row.
func NewEventRow(ev types.Event, ingestedAt time.Time) (*EventRow, error) {
	d := ev.Data
	row := &EventRow{
		EventID:            d.EventID,
		EventTime:          d.EventTime,
		EventVersion:       d.EventVersion,
		EventName:          d.EventName,
		EventSource:        d.EventSource,
		EventType:          d.EventType,
		AWSRegion:          d.AWSRegion,
		SourceIPAddress:    d.SourceIPAddress,
		UserAgent:          d.UserAgent,
		RecipientAccountID: d.RecipientAccountID,
		RequestID:          d.RequestID,
		ErrorCode:          d.ErrorCode,
		ErrorMessage:       d.ErrorMessage,
		LogBucket:          ev.Metadata.Source.Bucket,
		LogKey:             ev.Metadata.Source.ObjectKey,
		Position:           ev.Metadata.Position,
		Verification:       ev.Metadata.Verification.String(),
		IngestedAt:         ingestedAt,
	}
	if d.ReadOnly != nil {
		row.ReadOnly = bigquery.NullBool{Bool: *d.ReadOnly, Valid: true}
	}
	if ev.Metadata.RawEvent != "" {
		row.RawEvent = bigquery.NullString{StringVal: ev.Metadata.RawEvent, Valid: true}
	}

	nested := []struct {
		dst *bigquery.NullString
		src any
		ok  bool
	}{
		{&row.UserIdentity, d.UserIdentity, d.UserIdentity != nil},
		{&row.RequestParameters, d.RequestParameters, d.RequestParameters != nil},
		{&row.ResponseElements, d.ResponseElements, d.ResponseElements != nil},
		{&row.AdditionalEventData, d.AdditionalEventData, d.AdditionalEventData != nil},
		{&row.Resources, d.Resources, d.Resources != nil},
	}
	for _, n := range nested {
		if !n.ok {
			continue
		}
		b, err := json.Marshal(n.src)
		if err != nil {
			return nil, fmt.Errorf("failed to encode nested field of event %s: %w", d.EventID, err)
		}
		*n.dst = bigquery.NullString{StringVal: string(b), Valid: true}
	}
	return row, nil
}

// EventInserterConfig holds configuration for the EventInserter.
type EventInserterConfig struct {
	// InsertTimeout bounds a single InsertBatch call.
	InsertTimeout time.Duration
}

// EventInserter is an EventsProcessor that streams every batch of events into
// BigQuery before returning.
type EventInserter struct {
	cfg      EventInserterConfig
	inserter DataBatchInserter[EventRow]
	now      func() time.Time
	logger   zerolog.Logger
}

// NewEventInserter creates an EventInserter.
func NewEventInserter(cfg EventInserterConfig, inserter DataBatchInserter[EventRow], logger zerolog.Logger) (*EventInserter, error) {
	if inserter == nil {
		return nil, errors.New("inserter cannot be nil")
	}
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = 30 * time.Second
	}
	return &EventInserter{
		cfg:      cfg,
		inserter: inserter,
		now:      time.Now,
		logger:   logger.With().Str("component", "EventInserter").Logger(),
	}, nil
}

// Process implements messagepipeline.EventsProcessor.
func (e *EventInserter) Process(ctx context.Context, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}
	ingestedAt := e.now().UTC()
	rows := make([]*EventRow, 0, len(events))
	for _, ev := range events {
		row, err := NewEventRow(ev, ingestedAt)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	insertCtx, cancel := context.WithTimeout(ctx, e.cfg.InsertTimeout)
	defer cancel()
	if err := e.inserter.InsertBatch(insertCtx, rows); err != nil {
		e.logger.Error().Err(err).Int("batch_size", len(rows)).Msg("Failed to insert events.")
		return err
	}
	e.logger.Debug().Int("batch_size", len(rows)).Msg("Inserted events.")
	return nil
}

// Close closes the underlying inserter.
func (e *EventInserter) Close() error {
	return e.inserter.Close()
}

// NewBigQueryEventSink assembles an EventInserter backed by a BigQueryInserter
// for the configured table, creating the table if needed.
func NewBigQueryEventSink(
	ctx context.Context,
	client *bigquery.Client,
	dataset *BigQueryDatasetConfig,
	cfg EventInserterConfig,
	logger zerolog.Logger,
) (*EventInserter, error) {
	inserter, err := NewBigQueryInserter[EventRow](ctx, client, dataset, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery inserter: %w", err)
	}
	return NewEventInserter(cfg, inserter, logger)
}
