package progress

import (
	"github.com/rs/zerolog"
)

// Reporter receives start/end notifications for every pipeline phase. The value
// returned by ReportStart is handed back to ReportEnd untouched.
type Reporter interface {
	ReportStart(status Status) any
	ReportEnd(status Status, startContext any)
}

// ExceptionHandler receives every recoverable failure. It must not panic.
type ExceptionHandler interface {
	HandleException(err *ProcessingError)
}

// ExceptionHandlerFunc adapts a function to ExceptionHandler.
type ExceptionHandlerFunc func(err *ProcessingError)

func (f ExceptionHandlerFunc) HandleException(err *ProcessingError) { f(err) }

// NopReporter ignores all progress.
type NopReporter struct{}

func (NopReporter) ReportStart(Status) any { return nil }
func (NopReporter) ReportEnd(Status, any)  {}

// Dispatcher routes phase boundaries to the user's Reporter and failures to the
// user's ExceptionHandler. A panicking reporter or handler is logged and swallowed
// so it cannot take the pipeline down with it.
type Dispatcher struct {
	reporter Reporter
	handler  ExceptionHandler
	logger   zerolog.Logger
}

// NewDispatcher creates a Dispatcher. A nil reporter reports nothing; a nil handler
// logs failures.
func NewDispatcher(reporter Reporter, handler ExceptionHandler, logger zerolog.Logger) *Dispatcher {
	logger = logger.With().Str("component", "Dispatcher").Logger()
	if reporter == nil {
		reporter = NopReporter{}
	}
	if handler == nil {
		handler = NewLoggingExceptionHandler(logger)
	}
	return &Dispatcher{reporter: reporter, handler: handler, logger: logger}
}

// Start reports the beginning of a phase and returns the reporter's opaque context.
func (d *Dispatcher) Start(status Status) (startContext any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("phase", status.Phase.String()).Msg("Progress reporter panicked in ReportStart.")
			startContext = nil
		}
	}()
	return d.reporter.ReportStart(status)
}

// End reports the end of a phase.
func (d *Dispatcher) End(status Status, startContext any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("phase", status.Phase.String()).Msg("Progress reporter panicked in ReportEnd.")
		}
	}()
	d.reporter.ReportEnd(status, startContext)
}

// Fail hands a failure to the exception handler.
func (d *Dispatcher) Fail(err *ProcessingError) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Err(err).Msg("Exception handler panicked.")
		}
	}()
	d.handler.HandleException(err)
}

// LoggingExceptionHandler logs each failure at error level.
type LoggingExceptionHandler struct {
	logger zerolog.Logger
}

// NewLoggingExceptionHandler creates the default exception handler.
func NewLoggingExceptionHandler(logger zerolog.Logger) *LoggingExceptionHandler {
	return &LoggingExceptionHandler{logger: logger}
}

func (h *LoggingExceptionHandler) HandleException(err *ProcessingError) {
	ev := h.logger.Error().
		Err(err.Err).
		Str("phase", err.Status.Phase.String()).
		Str("kind", err.Kind.String())
	if err.HasReceiptHandle() {
		ev = ev.Str("receipt_handle", err.ReceiptHandle)
	}
	ev.Msg("Pipeline failure.")
}
