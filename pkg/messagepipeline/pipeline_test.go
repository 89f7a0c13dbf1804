package messagepipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/illmade-knight/go-trailflow/pkg/buffer"
	"github.com/illmade-knight/go-trailflow/pkg/filter"
	"github.com/illmade-knight/go-trailflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-trailflow/pkg/progress"
	"github.com/illmade-knight/go-trailflow/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const logKey = "AWSLogs/123456789012/CloudTrail/us-east-1/2024/05/01/123456789012_CloudTrail_us-east-1_20240501T1000Z_abc.json.gz"

type pipelineFixture struct {
	downloader *fakeDownloader
	processor  *collectingProcessor
	recorder   *recorder
	pipeline   *messagepipeline.Pipeline
}

func newPipelineFixture(t *testing.T, cfg messagepipeline.PipelineConfig, opts ...messagepipeline.PipelineOption) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		downloader: newFakeDownloader(),
		processor:  &collectingProcessor{},
		recorder:   &recorder{},
	}
	dispatcher := progress.NewDispatcher(f.recorder, f.recorder, zerolog.Nop())
	opts = append([]messagepipeline.PipelineOption{messagepipeline.WithDispatcher(dispatcher)}, opts...)
	p, err := messagepipeline.NewPipeline(cfg, f.downloader, f.processor, zerolog.Nop(), opts...)
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func TestPipeline_DeliversInBufferSizedBatches(t *testing.T) {
	// Arrange
	f := newPipelineFixture(t, messagepipeline.PipelineConfig{BufferCapacity: 3},
		messagepipeline.WithVerifier(fixedVerifier(types.ValidSignature)))
	f.downloader.bodies[logKey] = records(7)

	// Act
	ok := f.pipeline.ProcessSource(context.Background(), auditSource("m-1", logKey))

	// Assert
	require.True(t, ok)
	assert.Equal(t, []int{3, 3, 1}, f.processor.batchSizes())
	assert.Equal(t, []string{"e-0", "e-1", "e-2", "e-3", "e-4", "e-5", "e-6"}, f.processor.eventIDs())
	assert.Equal(t, []progress.Phase{progress.PhaseDownloadLog, progress.PhaseProcessLog, progress.PhaseProcessSource}, f.recorder.endPhases())

	logStatus, found := f.recorder.lastEnd(progress.PhaseProcessLog)
	require.True(t, found)
	info := logStatus.Info.(progress.LogInfo)
	assert.True(t, info.Succeeded)
	assert.Equal(t, 7, info.DeliveredEvents)
	assert.Equal(t, types.ValidSignature, info.Verification)
	assert.Empty(t, f.recorder.failures)

	first := f.processor.batches[0][0]
	assert.Equal(t, types.ValidSignature, first.Metadata.Verification)
	assert.Equal(t, "m-1", first.Metadata.Source.MessageID)
}

func TestPipeline_SourceFilterRejectionIsSuccess(t *testing.T) {
	reject := func(context.Context, types.Source) (bool, error) { return false, nil }
	f := newPipelineFixture(t, messagepipeline.PipelineConfig{}, messagepipeline.WithSourceFilter(reject))

	ok := f.pipeline.ProcessSource(context.Background(), auditSource("m-1", logKey))

	assert.True(t, ok)
	assert.Zero(t, f.downloader.callCount())
	assert.Equal(t, []progress.Phase{progress.PhaseProcessSource}, f.recorder.endPhases())
}

func TestPipeline_AccountFilter(t *testing.T) {
	f := newPipelineFixture(t, messagepipeline.PipelineConfig{}, messagepipeline.WithSourceFilter(filter.AccountIDFilter("999999999999")))

	ok := f.pipeline.ProcessSource(context.Background(), auditSource("m-1", logKey))

	assert.True(t, ok)
	assert.Zero(t, f.downloader.callCount())
}

func TestPipeline_CallbackFailures(t *testing.T) {
	testCases := []struct {
		name string
		opt  messagepipeline.PipelineOption
	}{
		{
			name: "source filter error",
			opt: messagepipeline.WithSourceFilter(func(context.Context, types.Source) (bool, error) {
				return false, errors.New("lookup failed")
			}),
		},
		{
			name: "source filter panic",
			opt: messagepipeline.WithSourceFilter(func(context.Context, types.Source) (bool, error) {
				panic("boom")
			}),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPipelineFixture(t, messagepipeline.PipelineConfig{}, tc.opt)

			ok := f.pipeline.ProcessSource(context.Background(), auditSource("m-1", logKey))

			assert.False(t, ok)
			require.Len(t, f.recorder.failures, 1)
			assert.Equal(t, progress.KindCallback, f.recorder.failures[0].Kind)
			assert.Equal(t, "rh-m-1", f.recorder.failures[0].ReceiptHandle)
			status, _ := f.recorder.lastEnd(progress.PhaseProcessSource)
			assert.False(t, status.Success())
		})
	}
}

func TestPipeline_DownloadFailure(t *testing.T) {
	// Arrange
	f := newPipelineFixture(t, messagepipeline.PipelineConfig{})
	f.downloader.errs[logKey] = errors.New("connection reset")

	// Act
	ok := f.pipeline.ProcessSource(context.Background(), auditSource("m-1", logKey))

	// Assert
	assert.False(t, ok)
	assert.Equal(t, []progress.ErrorKind{progress.KindTransport}, f.recorder.failureKinds())
	assert.Equal(t, progress.PhaseDownloadLog, f.recorder.failures[0].Status.Phase)
	assert.Equal(t, []progress.Phase{progress.PhaseDownloadLog, progress.PhaseProcessSource}, f.recorder.endPhases())
	assert.Empty(t, f.processor.batches)
}

func TestPipeline_RejectUnverified(t *testing.T) {
	// Arrange
	f := newPipelineFixture(t, messagepipeline.PipelineConfig{RejectUnverified: true},
		messagepipeline.WithVerifier(fixedVerifier(types.InvalidSignature)))
	f.downloader.bodies[logKey] = records(2)

	// Act
	ok := f.pipeline.ProcessSource(context.Background(), auditSource("m-1", logKey))

	// Assert
	assert.False(t, ok)
	assert.Empty(t, f.processor.batches)
	require.Len(t, f.recorder.failures, 1)
	assert.Equal(t, progress.KindVerification, f.recorder.failures[0].Kind)
	assert.ErrorIs(t, f.recorder.failures[0], messagepipeline.ErrUnverifiedLog)

	status, _ := f.recorder.lastEnd(progress.PhaseProcessLog)
	assert.Equal(t, types.InvalidSignature, status.Info.(progress.LogInfo).Verification)
}

func TestPipeline_AnnotatesUnverifiedByDefault(t *testing.T) {
	f := newPipelineFixture(t, messagepipeline.PipelineConfig{},
		messagepipeline.WithVerifier(fixedVerifier(types.RevokedCertificate)))
	f.downloader.bodies[logKey] = records(2)

	ok := f.pipeline.ProcessSource(context.Background(), auditSource("m-1", logKey))

	require.True(t, ok)
	require.Len(t, f.processor.batches, 1)
	for _, e := range f.processor.batches[0] {
		assert.Equal(t, types.RevokedCertificate, e.Metadata.Verification)
	}
}

func TestPipeline_EventFilter(t *testing.T) {
	t.Run("drops rejected events", func(t *testing.T) {
		odd := func(_ context.Context, e types.Event) (bool, error) { return e.Metadata.Position%2 == 1, nil }
		f := newPipelineFixture(t, messagepipeline.PipelineConfig{}, messagepipeline.WithEventFilter(odd))
		f.downloader.bodies[logKey] = records(5)

		ok := f.pipeline.ProcessSource(context.Background(), auditSource("m-1", logKey))

		assert.True(t, ok)
		assert.Equal(t, []string{"e-1", "e-3"}, f.processor.eventIDs())
	})

	t.Run("error fails the source but delivers the rest", func(t *testing.T) {
		flaky := func(_ context.Context, e types.Event) (bool, error) {
			if e.Data.EventID == "e-1" {
				return false, errors.New("bad expression input")
			}
			return true, nil
		}
		f := newPipelineFixture(t, messagepipeline.PipelineConfig{}, messagepipeline.WithEventFilter(flaky))
		f.downloader.bodies[logKey] = records(3)

		ok := f.pipeline.ProcessSource(context.Background(), auditSource("m-1", logKey))

		assert.False(t, ok)
		assert.Equal(t, []string{"e-0", "e-2"}, f.processor.eventIDs())
		assert.Equal(t, []progress.ErrorKind{progress.KindCallback}, f.recorder.failureKinds())
	})
}

func TestPipeline_ProcessorFailureStopsDelivery(t *testing.T) {
	// Arrange
	f := newPipelineFixture(t, messagepipeline.PipelineConfig{BufferCapacity: 2})
	f.processor.failOn = 1
	f.downloader.bodies[logKey] = records(5)

	// Act
	ok := f.pipeline.ProcessSource(context.Background(), auditSource("m-1", logKey))

	// Assert
	assert.False(t, ok)
	assert.Equal(t, 1, f.processor.calls)
	assert.Equal(t, []progress.ErrorKind{progress.KindCallback}, f.recorder.failureKinds())
	status, _ := f.recorder.lastEnd(progress.PhaseProcessLog)
	assert.False(t, status.Success())
	assert.Zero(t, status.Info.(progress.LogInfo).DeliveredEvents)
}

func TestPipeline_ProcessorPanicIsRecovered(t *testing.T) {
	recorder := &recorder{}
	downloader := newFakeDownloader()
	downloader.bodies[logKey] = records(1)
	panicky := messagepipeline.EventsProcessorFunc(func(context.Context, []types.Event) error { panic("sink bug") })
	p, err := messagepipeline.NewPipeline(messagepipeline.PipelineConfig{}, downloader, panicky, zerolog.Nop(),
		messagepipeline.WithDispatcher(progress.NewDispatcher(recorder, recorder, zerolog.Nop())))
	require.NoError(t, err)

	ok := p.ProcessSource(context.Background(), auditSource("m-1", logKey))

	assert.False(t, ok)
	assert.Equal(t, []progress.ErrorKind{progress.KindCallback}, recorder.failureKinds())
}

func TestPipeline_MalformedLog(t *testing.T) {
	f := newPipelineFixture(t, messagepipeline.PipelineConfig{})
	f.downloader.bodies[logKey] = []byte("<html>not a log</html>")

	ok := f.pipeline.ProcessSource(context.Background(), auditSource("m-1", logKey))

	assert.False(t, ok)
	assert.Equal(t, []progress.ErrorKind{progress.KindParse}, f.recorder.failureKinds())
}

func TestNewPipeline_Validation(t *testing.T) {
	processor := &collectingProcessor{}
	downloader := newFakeDownloader()

	_, err := messagepipeline.NewPipeline(messagepipeline.PipelineConfig{}, nil, processor, zerolog.Nop())
	assert.Error(t, err)

	_, err = messagepipeline.NewPipeline(messagepipeline.PipelineConfig{}, downloader, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = messagepipeline.NewPipeline(messagepipeline.PipelineConfig{BufferCapacity: -1}, downloader, processor, zerolog.Nop())
	assert.ErrorIs(t, err, buffer.ErrInvalidCapacity)

	_, err = messagepipeline.NewPipeline(messagepipeline.PipelineConfig{RejectUnverified: true}, downloader, processor, zerolog.Nop())
	assert.Error(t, err)
}
