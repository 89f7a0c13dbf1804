// Package bqstore streams audit events into Google BigQuery.
package bqstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DataBatchInserter inserts a batch of rows into a data store.
type DataBatchInserter[T any] interface {
	InsertBatch(ctx context.Context, items []*T) error
	Close() error
}

// BigQueryDatasetConfig holds configuration for a BigQuery dataset and table.
type BigQueryDatasetConfig struct {
	ProjectID       string
	DatasetID       string
	TableID         string
	CredentialsFile string // Optional: Path to a service account JSON file.
}

// NewProductionBigQueryClient creates a BigQuery client. It uses Application
// Default Credentials unless a credentials file is given.
func NewProductionBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	logger.Info().Str("project_id", projectID).Msg("BigQuery client created successfully.")
	return client, nil
}

// BigQueryInserter streams rows of type T into one table.
type BigQueryInserter[T any] struct {
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryInserter creates an inserter for the configured table. A missing
// table is created with a schema inferred from T.
func NewBigQueryInserter[T any](
	ctx context.Context,
	client *bigquery.Client,
	cfg *BigQueryDatasetConfig,
	logger zerolog.Logger,
) (*BigQueryInserter[T], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryDatasetConfig cannot be nil")
	}

	logger = logger.With().
		Str("component", "BigQueryInserter").
		Str("project_id", client.Project()).
		Str("dataset_id", cfg.DatasetID).
		Str("table_id", cfg.TableID).
		Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := tableRef.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
		logger.Warn().Msg("BigQuery table not found. Attempting to create with inferred schema.")
		var zero T
		schema, err := bigquery.InferSchema(zero)
		if err != nil {
			return nil, fmt.Errorf("failed to infer schema for type %T: %w", zero, err)
		}
		meta := &bigquery.TableMetadata{
			Schema:           schema,
			TimePartitioning: timePartitioning(schema),
		}
		if err := tableRef.Create(ctx, meta); err != nil {
			return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, err)
		}
		logger.Info().Int("field_count", len(schema)).Msg("BigQuery table created successfully.")
	} else {
		logger.Info().Msg("Successfully connected to existing BigQuery table.")
	}

	return &BigQueryInserter[T]{
		inserter: tableRef.Inserter(),
		logger:   logger,
	}, nil
}

// InsertBatch streams a batch of rows. Row-level failures are logged one by one
// and returned wrapped.
func (i *BigQueryInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}

	if err := i.inserter.Put(ctx, items); err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				i.logger.Error().
					Int("row_index", rowErr.RowIndex).
					Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed for %d rows: %w", len(items), err)
	}

	i.logger.Debug().Int("batch_size", len(items)).Msg("Successfully inserted batch into BigQuery.")
	return nil
}

// Close is a no-op; the BigQuery client's lifecycle is managed by its creator.
func (i *BigQueryInserter[T]) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// timePartitioning partitions by event_time when the schema has it.
func timePartitioning(schema bigquery.Schema) *bigquery.TimePartitioning {
	for _, f := range schema {
		if f.Name == "event_time" && f.Type == bigquery.TimestampFieldType {
			return &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: f.Name}
		}
	}
	return nil
}
