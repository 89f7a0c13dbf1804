package icestore

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/illmade-knight/go-trailflow/pkg/objectstore"
	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// GCSBatchUploaderConfig holds configuration specific to the GCS uploader.
type GCSBatchUploaderConfig struct {
	BucketName   string
	ObjectPrefix string
	// UploadTimeout bounds one UploadBatch call.
	UploadTimeout time.Duration
}

// GCSBatchUploader groups items by their batch key and uploads each group to
// its own compressed object.
type GCSBatchUploader struct {
	client objectstore.GCSClient
	config GCSBatchUploaderConfig
	logger zerolog.Logger
}

// NewGCSBatchUploader creates a new uploader configured for Google Cloud Storage.
func NewGCSBatchUploader(
	gcsClient objectstore.GCSClient,
	config GCSBatchUploaderConfig,
	logger zerolog.Logger,
) (*GCSBatchUploader, error) {
	if gcsClient == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	if config.UploadTimeout <= 0 {
		config.UploadTimeout = time.Minute
	}
	return &GCSBatchUploader{
		client: gcsClient,
		config: config,
		logger: logger.With().Str("component", "GCSBatchUploader").Logger(),
	}, nil
}

// UploadBatch uploads the groups in parallel and returns the first failure.
func (u *GCSBatchUploader) UploadBatch(ctx context.Context, items []*ArchivalData) error {
	groups := make(map[string][]*ArchivalData)
	for _, item := range items {
		if item == nil || item.GetBatchKey() == "" {
			continue
		}
		groups[item.GetBatchKey()] = append(groups[item.GetBatchKey()], item)
	}
	if len(groups) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, u.config.UploadTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for key, group := range groups {
		g.Go(func() error {
			return u.uploadSingleGroup(gctx, key, group)
		})
	}
	return g.Wait()
}

// uploadSingleGroup streams one group through gzip into a new object.
func (u *GCSBatchUploader) uploadSingleGroup(ctx context.Context, batchKey string, batchData []*ArchivalData) error {
	objectName := path.Join(u.config.ObjectPrefix, batchKey, fmt.Sprintf("%s.jsonl.gz", uuid.NewString()))

	gcsWriter := u.client.Bucket(u.config.BucketName).Object(objectName).NewWriter(ctx)
	pr, pw := io.Pipe()

	go func() {
		gz := gzip.NewWriter(pw)
		enc := json.NewEncoder(gz)
		var err error
		for _, rec := range batchData {
			if err = enc.Encode(rec); err != nil {
				err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
				break
			}
		}
		if closeErr := gz.Close(); err == nil {
			err = closeErr
		}
		_ = pw.CloseWithError(err)
	}()

	bytesWritten, pipeErr := io.Copy(gcsWriter, pr)
	closeErr := gcsWriter.Close()
	if pipeErr != nil {
		_ = pr.CloseWithError(pipeErr)
		return fmt.Errorf("failed to stream data for GCS object %s: %w", objectName, pipeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, closeErr)
	}

	u.logger.Debug().
		Str("object_name", objectName).
		Int("record_count", len(batchData)).
		Int64("bytes_written", bytesWritten).
		Msg("Uploaded archive object.")
	return nil
}

// Archiver is an EventsProcessor that writes every batch of events to GCS
// before returning.
type Archiver struct {
	uploader *GCSBatchUploader
	now      func() time.Time
	logger   zerolog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(uploader *GCSBatchUploader, logger zerolog.Logger) (*Archiver, error) {
	if uploader == nil {
		return nil, errors.New("uploader cannot be nil")
	}
	return &Archiver{
		uploader: uploader,
		now:      time.Now,
		logger:   logger.With().Str("component", "Archiver").Logger(),
	}, nil
}

// Process implements messagepipeline.EventsProcessor.
func (a *Archiver) Process(ctx context.Context, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}
	archivedAt := a.now().UTC()
	items := make([]*ArchivalData, len(events))
	for i, ev := range events {
		items[i] = NewArchivalData(ev, archivedAt)
	}
	if err := a.uploader.UploadBatch(ctx, items); err != nil {
		a.logger.Error().Err(err).Int("batch_size", len(items)).Msg("Failed to archive events.")
		return err
	}
	return nil
}
