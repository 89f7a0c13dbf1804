package progress

import (
	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// Phase is one named stage of the pipeline.
type Phase int

const (
	PhasePollQueue Phase = iota
	PhaseParseMessage
	PhaseDeleteMessage
	PhaseProcessSource
	PhaseDownloadLog
	PhaseProcessLog
	PhaseUncaughtException
)

func (p Phase) String() string {
	switch p {
	case PhasePollQueue:
		return "pollQueue"
	case PhaseParseMessage:
		return "parseMessage"
	case PhaseDeleteMessage:
		return "deleteMessage"
	case PhaseProcessSource:
		return "processSource"
	case PhaseDownloadLog:
		return "downloadLog"
	case PhaseProcessLog:
		return "processLog"
	case PhaseUncaughtException:
		return "uncaughtException"
	default:
		return "unknown"
	}
}

// Info is the phase-specific payload of a Status.
type Info interface {
	Success() bool
}

// BasicInfo carries nothing but the outcome.
type BasicInfo struct {
	Succeeded bool
}

func (i BasicInfo) Success() bool { return i.Succeeded }

// PollQueueInfo describes one poll of the queue.
type PollQueueInfo struct {
	Succeeded   bool
	PolledCount int
}

func (i PollQueueInfo) Success() bool { return i.Succeeded }

// MessageInfo describes work on a single notification (parse or delete).
type MessageInfo struct {
	Succeeded bool
	Message   types.MessageRef
}

func (i MessageInfo) Success() bool { return i.Succeeded }

// SourceInfo describes work on a single source (processSource, downloadLog).
type SourceInfo struct {
	Succeeded bool
	Source    types.Source
}

func (i SourceInfo) Success() bool { return i.Succeeded }

// LogInfo describes processing of a downloaded log file.
type LogInfo struct {
	Succeeded       bool
	Source          types.Source
	Verification    types.VerificationResult
	DeliveredEvents int
}

func (i LogInfo) Success() bool { return i.Succeeded }

// Status is a snapshot of where the pipeline is. It is passed by value and never
// retained by the pipeline.
type Status struct {
	Phase Phase
	Info  Info
}

// NewStatus builds a Status.
func NewStatus(phase Phase, info Info) Status {
	return Status{Phase: phase, Info: info}
}

// Success reports the outcome carried by the Info payload.
func (s Status) Success() bool {
	return s.Info != nil && s.Info.Success()
}
