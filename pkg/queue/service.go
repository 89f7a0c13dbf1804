package queue

import (
	"context"
	"time"

	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// PollRequest bounds a single long poll.
type PollRequest struct {
	MaxMessages       int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
}

// Service is the queue boundary: long-poll for notifications and delete them by
// receipt handle. Implementations must be safe for concurrent use.
type Service interface {
	Poll(ctx context.Context, req PollRequest) ([]types.Notification, error)
	Delete(ctx context.Context, receiptHandle string) error
}
