package messagepipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trailflow/pkg/buffer"
	"github.com/illmade-knight/go-trailflow/pkg/extract"
	"github.com/illmade-knight/go-trailflow/pkg/filter"
	"github.com/illmade-knight/go-trailflow/pkg/progress"
	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// DefaultBufferCapacity is the largest batch handed to the EventsProcessor when
// no capacity is configured.
const DefaultBufferCapacity = 100

// ErrUnverifiedLog fails a log whose signature did not verify while RejectUnverified is set.
var ErrUnverifiedLog = errors.New("log signature is not valid")

// PipelineConfig holds the per-source processing options.
type PipelineConfig struct {
	// BufferCapacity is the maximum number of events per EventsProcessor call.
	BufferCapacity int
	// RejectUnverified fails every log whose result is not ValidSignature instead
	// of delivering its events annotated with the result.
	RejectUnverified bool
	// EnableRawEventInfo keeps each record's original JSON on the event.
	EnableRawEventInfo bool
}

// Pipeline takes one source from filter to delivery:
// processSource → downloadLog → processLog. Every phase is reported through the
// Dispatcher and every failure is handed to its ExceptionHandler; ProcessSource
// itself never fails.
type Pipeline struct {
	downloader   LogDownloader
	verifier     Verifier
	extractor    *extract.Extractor
	sourceFilter filter.SourceFilter
	eventFilter  filter.EventFilter
	processor    EventsProcessor
	dispatcher   *progress.Dispatcher
	cfg          PipelineConfig
	logger       zerolog.Logger
}

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

// WithSourceFilter sets the filter consulted before a source is downloaded.
func WithSourceFilter(f filter.SourceFilter) PipelineOption {
	return func(p *Pipeline) {
		if f != nil {
			p.sourceFilter = f
		}
	}
}

// WithEventFilter sets the filter consulted for every extracted event.
func WithEventFilter(f filter.EventFilter) PipelineOption {
	return func(p *Pipeline) {
		if f != nil {
			p.eventFilter = f
		}
	}
}

// WithVerifier sets the signature verifier. Without one, logs stay Unverified.
func WithVerifier(v Verifier) PipelineOption {
	return func(p *Pipeline) {
		p.verifier = v
	}
}

// WithDispatcher sets the progress dispatcher.
func WithDispatcher(d *progress.Dispatcher) PipelineOption {
	return func(p *Pipeline) {
		if d != nil {
			p.dispatcher = d
		}
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(
	cfg PipelineConfig,
	downloader LogDownloader,
	processor EventsProcessor,
	logger zerolog.Logger,
	opts ...PipelineOption,
) (*Pipeline, error) {
	if downloader == nil {
		return nil, errors.New("log downloader cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("events processor cannot be nil")
	}
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}
	if cfg.BufferCapacity < 0 {
		return nil, buffer.ErrInvalidCapacity
	}

	p := &Pipeline{
		downloader:   downloader,
		extractor:    extract.New(cfg.EnableRawEventInfo),
		sourceFilter: filter.AcceptAllSources,
		eventFilter:  filter.AcceptAllEvents,
		processor:    processor,
		cfg:          cfg,
		logger:       logger.With().Str("component", "Pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.dispatcher == nil {
		p.dispatcher = progress.NewDispatcher(nil, nil, logger)
	}
	if p.cfg.RejectUnverified && p.verifier == nil {
		return nil, errors.New("rejecting unverified logs requires a verifier")
	}
	return p, nil
}

// ProcessSource runs the pipeline for one source and reports whether it
// succeeded. A source rejected by the source filter counts as a success.
func (p *Pipeline) ProcessSource(ctx context.Context, source types.Source) bool {
	status := progress.NewStatus(progress.PhaseProcessSource, progress.SourceInfo{Source: source})
	startCtx := p.dispatcher.Start(status)

	ok := p.processSource(ctx, source, status)

	status.Info = progress.SourceInfo{Succeeded: ok, Source: source}
	p.dispatcher.End(status, startCtx)
	return ok
}

func (p *Pipeline) processSource(ctx context.Context, source types.Source, status progress.Status) bool {
	logger := p.logger.With().Str("msg_id", source.MessageID).Str("bucket", source.Bucket).Str("object_key", source.ObjectKey).Logger()

	var accept bool
	err := progress.SafeCall(func() error {
		var err error
		accept, err = p.sourceFilter(ctx, source)
		return err
	})
	if err != nil {
		p.fail(status, progress.KindCallback, fmt.Errorf("source filter: %w", err), source)
		return false
	}
	if !accept {
		logger.Debug().Msg("Source rejected by filter.")
		return true
	}

	log, ok := p.downloadLog(ctx, source)
	if !ok {
		return false
	}
	return p.processLog(ctx, log)
}

func (p *Pipeline) downloadLog(ctx context.Context, source types.Source) (*types.Log, bool) {
	status := progress.NewStatus(progress.PhaseDownloadLog, progress.SourceInfo{Source: source})
	startCtx := p.dispatcher.Start(status)
	defer func() { p.dispatcher.End(status, startCtx) }()

	log, err := p.downloader.Download(ctx, source)
	if err != nil {
		p.fail(status, progress.KindTransport, err, source)
		return nil, false
	}
	status.Info = progress.SourceInfo{Succeeded: true, Source: source}
	return log, true
}

// processLog verifies, extracts, filters and delivers a downloaded log. Events
// are delivered as soon as a full batch is buffered; the remainder after the
// last record. The first failed delivery abandons the rest of the log.
func (p *Pipeline) processLog(ctx context.Context, log *types.Log) bool {
	source := log.Source
	info := progress.LogInfo{Source: source}
	status := progress.NewStatus(progress.PhaseProcessLog, info)
	startCtx := p.dispatcher.Start(status)
	defer func() {
		status.Info = info
		p.dispatcher.End(status, startCtx)
	}()

	if p.verifier != nil {
		p.verifier.Verify(ctx, log)
	}
	info.Verification = log.VerificationResult()
	if p.cfg.RejectUnverified && info.Verification != types.ValidSignature {
		p.fail(status, progress.KindVerification, fmt.Errorf("%s: %w (%s)", source.Location(), ErrUnverifiedLog, info.Verification), source)
		return false
	}

	events, err := p.extractor.Extract(log)
	if err != nil {
		p.fail(status, progress.KindParse, err, source)
		return false
	}

	buf, err := buffer.New[types.Event](p.cfg.BufferCapacity)
	if err != nil {
		p.fail(status, progress.KindConfiguration, err, source)
		return false
	}

	succeeded := true
	for _, event := range events {
		var accept bool
		err := progress.SafeCall(func() error {
			var err error
			accept, err = p.eventFilter(ctx, event)
			return err
		})
		if err != nil {
			p.fail(status, progress.KindCallback, fmt.Errorf("event filter at position %d: %w", event.Metadata.Position, err), source)
			succeeded = false
			continue
		}
		if !accept {
			continue
		}
		buf.Add(event)
		if buf.IsFull() {
			if !p.deliver(ctx, status, buf.Drain(), &info) {
				return false
			}
		}
	}
	for buf.Len() > 0 {
		if !p.deliver(ctx, status, buf.Drain(), &info) {
			return false
		}
	}

	info.Succeeded = succeeded
	p.logger.Debug().
		Str("bucket", source.Bucket).
		Str("object_key", source.ObjectKey).
		Int("extracted", len(events)).
		Int("delivered", info.DeliveredEvents).
		Str("verification", info.Verification.String()).
		Msg("Processed log.")
	return succeeded
}

func (p *Pipeline) deliver(ctx context.Context, status progress.Status, batch []types.Event, info *progress.LogInfo) bool {
	err := progress.SafeCall(func() error {
		return p.processor.Process(ctx, batch)
	})
	if err != nil {
		p.fail(status, progress.KindCallback, fmt.Errorf("events processor: %w", err), info.Source)
		return false
	}
	info.DeliveredEvents += len(batch)
	return true
}

func (p *Pipeline) fail(status progress.Status, kind progress.ErrorKind, err error, source types.Source) {
	p.dispatcher.Fail(progress.NewProcessingError(status, kind, err).WithReceiptHandle(source.ReceiptHandle))
}
