package progress

import (
	"fmt"
)

// ErrorKind classifies recoverable pipeline failures.
type ErrorKind int

const (
	// KindTransport is a failed queue or object-store call.
	KindTransport ErrorKind = iota
	// KindParse is a malformed notification body or log file.
	KindParse
	// KindVerification is a log that failed the configured verification policy.
	KindVerification
	// KindCallback is a failing or panicking user filter, processor or reporter.
	KindCallback
	// KindConfiguration is a missing or invalid setting.
	KindConfiguration
	// KindUncaught is a panic escaping a worker.
	KindUncaught
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindParse:
		return "parse"
	case KindVerification:
		return "verification"
	case KindCallback:
		return "callback"
	case KindConfiguration:
		return "configuration"
	case KindUncaught:
		return "uncaught"
	default:
		return "unknown"
	}
}

// ProcessingError is what the ExceptionHandler receives. ReceiptHandle is set by
// whoever raised the error when the failure is tied to a queue message, so handlers
// never need to inspect concrete error types to find it.
type ProcessingError struct {
	Status        Status
	Kind          ErrorKind
	ReceiptHandle string
	Err           error
}

// NewProcessingError wraps err with the status in effect when it happened.
func NewProcessingError(status Status, kind ErrorKind, err error) *ProcessingError {
	return &ProcessingError{Status: status, Kind: kind, Err: err}
}

// WithReceiptHandle attaches the receipt handle of the affected notification.
func (e *ProcessingError) WithReceiptHandle(handle string) *ProcessingError {
	e.ReceiptHandle = handle
	return e
}

// HasReceiptHandle reports whether the error is tied to a queue message.
func (e *ProcessingError) HasReceiptHandle() bool {
	return e.ReceiptHandle != ""
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s failure in phase %s: %v", e.Kind, e.Status.Phase, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// SafeCall runs a user callback, turning a panic into an error.
func SafeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return fn()
}
