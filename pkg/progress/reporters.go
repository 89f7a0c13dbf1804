package progress

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// LoggingReporter writes one debug line per phase start and one per phase end,
// including the phase latency.
type LoggingReporter struct {
	logger zerolog.Logger
}

// NewLoggingReporter creates a LoggingReporter.
func NewLoggingReporter(logger zerolog.Logger) *LoggingReporter {
	return &LoggingReporter{logger: logger.With().Str("component", "LoggingReporter").Logger()}
}

func (r *LoggingReporter) ReportStart(status Status) any {
	r.logger.Debug().Str("phase", status.Phase.String()).Msg("Phase started.")
	return time.Now()
}

func (r *LoggingReporter) ReportEnd(status Status, startContext any) {
	ev := r.logger.Debug()
	if !status.Success() {
		ev = r.logger.Warn()
	}
	ev = ev.Str("phase", status.Phase.String()).Bool("success", status.Success())
	if started, ok := startContext.(time.Time); ok {
		ev = ev.Dur("elapsed", time.Since(started))
	}

	switch info := status.Info.(type) {
	case PollQueueInfo:
		ev = ev.Int("polled_count", info.PolledCount)
	case MessageInfo:
		ev = ev.Str("msg_id", info.Message.ID)
	case SourceInfo:
		ev = ev.Str("source", info.Source.Location())
	case LogInfo:
		ev = ev.Str("source", info.Source.Location()).
			Str("verification", info.Verification.String()).
			Int("delivered_events", info.DeliveredEvents)
	}
	ev.Msg("Phase ended.")
}

// MetricsReporter records phase latency and outcome counts in Prometheus.
type MetricsReporter struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
}

// NewMetricsReporter creates a MetricsReporter and registers its collectors.
func NewMetricsReporter(reg prometheus.Registerer) (*MetricsReporter, error) {
	r := &MetricsReporter{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trailflow_phase_duration_seconds",
				Help:    "Duration of pipeline phases in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"phase", "status"},
		),
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trailflow_phase_total",
				Help: "Total number of completed pipeline phases (count)",
			},
			[]string{"phase", "status"},
		),
	}
	if reg != nil {
		if err := reg.Register(r.duration); err != nil {
			return nil, err
		}
		if err := reg.Register(r.total); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *MetricsReporter) ReportStart(Status) any {
	return time.Now()
}

func (r *MetricsReporter) ReportEnd(status Status, startContext any) {
	outcome := "success"
	if !status.Success() {
		outcome = "failure"
	}
	r.total.WithLabelValues(status.Phase.String(), outcome).Inc()
	if started, ok := startContext.(time.Time); ok {
		r.duration.WithLabelValues(status.Phase.String(), outcome).Observe(time.Since(started).Seconds())
	}
}

// multiReporter fans out to several reporters, keeping each one's start context.
type multiReporter []Reporter

// Reporters combines reporters into one.
func Reporters(reporters ...Reporter) Reporter {
	return multiReporter(reporters)
}

func (m multiReporter) ReportStart(status Status) any {
	contexts := make([]any, len(m))
	for i, r := range m {
		contexts[i] = r.ReportStart(status)
	}
	return contexts
}

func (m multiReporter) ReportEnd(status Status, startContext any) {
	contexts, _ := startContext.([]any)
	for i, r := range m {
		var c any
		if i < len(contexts) {
			c = contexts[i]
		}
		r.ReportEnd(status, c)
	}
}
