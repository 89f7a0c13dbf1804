package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trailflow/pkg/progress"
	"github.com/illmade-knight/go-trailflow/pkg/types"
)

const (
	// MaxMessagesPerPoll is the batch cap of one long poll.
	MaxMessagesPerPoll = 10
	// PollWaitTime is the long-poll wait of one poll.
	PollWaitTime = 20 * time.Second

	defaultDeleteTrackerTTL = 15 * time.Minute
)

// ManagerConfig holds the queue-side processing policy.
type ManagerConfig struct {
	// DeleteOnFailure deletes notifications whose processing failed instead of
	// leaving them for redelivery.
	DeleteOnFailure bool
	// VisibilityTimeout is requested on every poll; zero keeps the queue default.
	VisibilityTimeout time.Duration
}

// Manager polls the queue, turns notifications into sources and deletes
// notifications according to policy. Every call is reported through the
// Dispatcher; none of them returns an error.
type Manager struct {
	service    Service
	serializer SourceSerializer
	dispatcher *progress.Dispatcher
	tracker    *DeleteTracker
	cfg        ManagerConfig
	logger     zerolog.Logger
}

// NewManager creates a Manager. A nil serializer detects the notification format
// per message; a nil dispatcher only logs failures.
func NewManager(
	service Service,
	serializer SourceSerializer,
	dispatcher *progress.Dispatcher,
	cfg ManagerConfig,
	logger zerolog.Logger,
) (*Manager, error) {
	if service == nil {
		return nil, errors.New("queue service cannot be nil")
	}
	if cfg.VisibilityTimeout < 0 {
		return nil, errors.New("visibility timeout cannot be negative")
	}
	if serializer == nil {
		serializer = NewDetectingSerializer()
	}
	if dispatcher == nil {
		dispatcher = progress.NewDispatcher(nil, nil, logger)
	}
	ttl := cfg.VisibilityTimeout
	if ttl == 0 {
		ttl = defaultDeleteTrackerTTL
	}
	return &Manager{
		service:    service,
		serializer: serializer,
		dispatcher: dispatcher,
		tracker:    NewDeleteTracker(ttl),
		cfg:        cfg,
		logger:     logger.With().Str("component", "QueueManager").Logger(),
	}, nil
}

// PollQueue long-polls for one batch of notifications. A failed poll is reported
// and yields no notifications.
func (m *Manager) PollQueue(ctx context.Context) []types.Notification {
	status := progress.NewStatus(progress.PhasePollQueue, progress.PollQueueInfo{})
	startCtx := m.dispatcher.Start(status)

	notifications, err := m.service.Poll(ctx, PollRequest{
		MaxMessages:       MaxMessagesPerPoll,
		WaitTime:          PollWaitTime,
		VisibilityTimeout: m.cfg.VisibilityTimeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			m.logger.Debug().Err(err).Msg("Poll interrupted by shutdown.")
		} else {
			m.dispatcher.Fail(progress.NewProcessingError(status, progress.KindTransport, err))
		}
		m.dispatcher.End(status, startCtx)
		return nil
	}

	status.Info = progress.PollQueueInfo{Succeeded: true, PolledCount: len(notifications)}
	m.dispatcher.End(status, startCtx)
	if len(notifications) > 0 {
		m.logger.Debug().Int("count", len(notifications)).Msg("Polled notifications.")
	}
	return notifications
}

// ParseMessage resolves notifications into audit-log sources. Validation markers
// are deleted straight away unless their notification also names audit logs.
// Other sources are skipped and left on the queue. A notification that cannot be
// parsed is reported and, under DeleteOnFailure, deleted.
func (m *Manager) ParseMessage(ctx context.Context, notifications []types.Notification) []types.Source {
	var sources []types.Source
	for _, n := range notifications {
		ref := n.Ref()
		status := progress.NewStatus(progress.PhaseParseMessage, progress.MessageInfo{Message: ref})
		startCtx := m.dispatcher.Start(status)

		parsed, err := m.serializer.Sources(n, UnwrapEnvelope(n.Body))
		if err != nil {
			m.dispatcher.Fail(progress.NewProcessingError(status, progress.KindParse, err).WithReceiptHandle(n.ReceiptHandle))
			m.dispatcher.End(status, startCtx)
			if m.ShouldDeleteUponFailure(false) {
				m.DeleteMessage(ctx, ref, progress.PhaseParseMessage)
			}
			continue
		}
		status.Info = progress.MessageInfo{Succeeded: true, Message: ref}
		m.dispatcher.End(status, startCtx)

		var hasAuditLog, hasMarker bool
		for _, s := range parsed {
			switch s.Type {
			case types.SourceAuditLog:
				hasAuditLog = true
				sources = append(sources, s)
			case types.SourceValidationMarker:
				hasMarker = true
				m.logger.Info().Str("msg_id", n.ID).Str("bucket", s.Bucket).Msg("Received validation marker.")
			default:
				m.logger.Debug().Str("msg_id", n.ID).Str("bucket", s.Bucket).Str("object_key", s.ObjectKey).Msg("Skipping non audit-log source.")
			}
		}
		if hasMarker && !hasAuditLog {
			m.DeleteMessage(ctx, ref, progress.PhaseParseMessage)
		}
	}
	return sources
}

// DeleteMessage deletes a notification on behalf of the phase that decided to.
// A receipt handle already deleted by this Manager is not deleted again.
// It reports whether the notification is gone.
func (m *Manager) DeleteMessage(ctx context.Context, ref types.MessageRef, trigger progress.Phase) bool {
	logger := m.logger.With().Str("msg_id", ref.ID).Str("trigger", trigger.String()).Logger()
	if ref.ReceiptHandle == "" {
		logger.Warn().Msg("Cannot delete notification without a receipt handle.")
		return false
	}
	if !m.tracker.Claim(ref.ReceiptHandle) {
		logger.Debug().Msg("Notification already deleted, skipping.")
		return true
	}

	status := progress.NewStatus(progress.PhaseDeleteMessage, progress.MessageInfo{Message: ref})
	startCtx := m.dispatcher.Start(status)

	if err := m.service.Delete(ctx, ref.ReceiptHandle); err != nil {
		m.tracker.Release(ref.ReceiptHandle)
		m.dispatcher.Fail(progress.NewProcessingError(status, progress.KindTransport, err).WithReceiptHandle(ref.ReceiptHandle))
		m.dispatcher.End(status, startCtx)
		return false
	}

	status.Info = progress.MessageInfo{Succeeded: true, Message: ref}
	m.dispatcher.End(status, startCtx)
	logger.Debug().Msg("Deleted notification.")
	return true
}

// ShouldDeleteUponFailure reports whether a notification whose processing ended
// with success should be deleted because of the failure policy.
func (m *Manager) ShouldDeleteUponFailure(success bool) bool {
	return !success && m.cfg.DeleteOnFailure
}

// Close releases the delete tracker.
func (m *Manager) Close() {
	m.tracker.Close()
}
