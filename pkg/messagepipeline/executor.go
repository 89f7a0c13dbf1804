package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/illmade-knight/go-trailflow/pkg/progress"
	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// ExecutorConfig holds configuration for an Executor.
type ExecutorConfig struct {
	NumWorkers int
	// IdleBackoff is how long the poll loop pauses after a poll returned nothing.
	IdleBackoff time.Duration
}

// Executor is the worker pool. One poll loop pulls notifications, turns them into
// sources and hands each source to a worker; a notification is deleted once all
// of its sources are done, according to the queue's failure policy.
type Executor struct {
	cfg        ExecutorConfig
	queue      QueueManager
	pipeline   SourceProcessor
	dispatcher *progress.Dispatcher
	logger     zerolog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	tasks    chan sourceTask
	pollWg   sync.WaitGroup
	workerWg sync.WaitGroup
}

type sourceTask struct {
	source types.Source
	done   *notificationTracker
}

// notificationTracker counts the outstanding sources of one notification.
type notificationTracker struct {
	mu        sync.Mutex
	ref       types.MessageRef
	remaining int
	failed    bool
}

// complete records one finished source and reports, once all sources are
// done, whether any failed.
func (t *notificationTracker) complete(success bool) (done, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !success {
		t.failed = true
	}
	t.remaining--
	return t.remaining == 0, t.failed
}

// NewExecutor creates an Executor. A nil dispatcher only logs failures.
func NewExecutor(
	cfg ExecutorConfig,
	queue QueueManager,
	pipeline SourceProcessor,
	dispatcher *progress.Dispatcher,
	logger zerolog.Logger,
) (*Executor, error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = 500 * time.Millisecond
	}
	if queue == nil {
		return nil, fmt.Errorf("queue manager cannot be nil")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if dispatcher == nil {
		dispatcher = progress.NewDispatcher(nil, nil, logger)
	}
	return &Executor{
		cfg:        cfg,
		queue:      queue,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		logger:     logger.With().Str("service", "Executor").Logger(),
	}, nil
}

// Start launches the poll loop and the workers. Cancelling ctx stops polling;
// sources already handed to a worker still run to completion.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("executor already started")
	}

	runID := uuid.NewString()
	e.logger = e.logger.With().Str("run_id", runID).Logger()
	e.logger.Info().Int("worker_count", e.cfg.NumWorkers).Msg("Starting executor...")

	pollCtx, cancel := context.WithCancel(ctx)
	workCtx := context.WithoutCancel(ctx)
	e.cancel = cancel
	e.tasks = make(chan sourceTask)
	e.running = true

	e.workerWg.Add(e.cfg.NumWorkers)
	for i := 0; i < e.cfg.NumWorkers; i++ {
		go e.worker(workCtx, i)
	}
	e.pollWg.Add(1)
	go e.pollLoop(pollCtx, workCtx)

	e.logger.Info().Msg("Executor started successfully.")
	return nil
}

// Stop stops polling, then waits for in-flight sources to finish, bounded by ctx.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	e.logger.Info().Msg("Stopping executor...")
	cancel()

	allDone := make(chan struct{})
	go func() {
		e.pollWg.Wait()
		e.workerWg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		e.logger.Info().Msg("All workers completed gracefully.")
	case <-ctx.Done():
		e.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for workers to finish.")
		return ctx.Err()
	}

	e.logger.Info().Msg("Executor stopped.")
	return nil
}

// ProcessBatch runs a single poll cycle to completion on the calling goroutine's
// behalf, at most NumWorkers sources at a time. It returns the number of sources
// processed. It does not require Start.
func (e *Executor) ProcessBatch(ctx context.Context) int {
	tasks := e.nextTasks(ctx, ctx)
	if len(tasks) == 0 {
		return 0
	}

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.NumWorkers)
	for _, task := range tasks {
		g.Go(func() error {
			e.run(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return len(tasks)
}

// pollLoop owns the task channel and closes it on exit so workers drain and stop.
func (e *Executor) pollLoop(pollCtx, workCtx context.Context) {
	defer e.pollWg.Done()
	defer close(e.tasks)

	for pollCtx.Err() == nil {
		tasks := e.nextTasks(pollCtx, workCtx)
		if len(tasks) == 0 {
			select {
			case <-pollCtx.Done():
			case <-time.After(e.cfg.IdleBackoff):
			}
			continue
		}
		for _, task := range tasks {
			select {
			case e.tasks <- task:
			case <-pollCtx.Done():
				e.logger.Info().Msg("Shutdown requested, leaving undispatched sources for redelivery.")
				return
			}
		}
	}
	e.logger.Info().Msg("Poll loop stopped.")
}

// nextTasks polls once and groups the resulting sources by notification.
func (e *Executor) nextTasks(pollCtx, workCtx context.Context) []sourceTask {
	notifications := e.queue.PollQueue(pollCtx)
	if len(notifications) == 0 {
		return nil
	}
	sources := e.queue.ParseMessage(workCtx, notifications)

	trackers := make(map[string]*notificationTracker)
	for _, s := range sources {
		t, ok := trackers[s.ReceiptHandle]
		if !ok {
			t = &notificationTracker{ref: s.Ref()}
			trackers[s.ReceiptHandle] = t
		}
		t.remaining++
	}
	tasks := make([]sourceTask, 0, len(sources))
	for _, s := range sources {
		tasks = append(tasks, sourceTask{source: s, done: trackers[s.ReceiptHandle]})
	}
	return tasks
}

func (e *Executor) worker(ctx context.Context, workerID int) {
	defer e.workerWg.Done()
	e.logger.Debug().Int("worker_id", workerID).Msg("Processing worker started.")
	for task := range e.tasks {
		e.run(ctx, task)
	}
	e.logger.Debug().Int("worker_id", workerID).Msg("Task channel closed, worker exiting.")
}

// run processes one source and settles its notification. A panic is reported
// in the uncaughtException phase and counts as a failed source.
func (e *Executor) run(ctx context.Context, task sourceTask) {
	success := false
	defer func() {
		if r := recover(); r != nil {
			e.reportUncaught(task.source, r)
			success = false
		}
		e.settle(ctx, task, success)
	}()
	success = e.pipeline.ProcessSource(ctx, task.source)
}

func (e *Executor) settle(ctx context.Context, task sourceTask, success bool) {
	done, failed := task.done.complete(success)
	if !done {
		return
	}
	if !failed || e.queue.ShouldDeleteUponFailure(false) {
		e.queue.DeleteMessage(ctx, task.done.ref, progress.PhaseProcessSource)
		return
	}
	e.logger.Debug().Str("msg_id", task.done.ref.ID).Msg("Leaving failed notification for redelivery.")
}

func (e *Executor) reportUncaught(source types.Source, r any) {
	status := progress.NewStatus(progress.PhaseUncaughtException, progress.SourceInfo{Source: source})
	startCtx := e.dispatcher.Start(status)
	e.dispatcher.Fail(progress.NewProcessingError(status, progress.KindUncaught, fmt.Errorf("worker panicked: %v", r)).WithReceiptHandle(source.ReceiptHandle))
	e.dispatcher.End(status, startCtx)
}
