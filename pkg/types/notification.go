package types

import (
	"time"
)

// Notification is a single message pulled from the queue. The pipeline only holds
// it for the duration of one processing attempt; redelivery is the queue's business.
type Notification struct {
	// ID is the unique identifier assigned by the queue service.
	ID string
	// Body is the raw message body, possibly wrapped in an SNS envelope.
	Body []byte
	// ReceiptHandle identifies this particular delivery and is required to delete it.
	ReceiptHandle string
	// ApproximateReceiveCount is how many times the queue has handed out this message.
	ApproximateReceiveCount int
	// SentTimestamp is when the message was originally sent, if the queue reports it.
	SentTimestamp time.Time
	// Attributes holds the queue service's message and system attributes.
	Attributes map[string]string
}

// Ref returns the identity needed to delete this notification from the queue.
func (n Notification) Ref() MessageRef {
	return MessageRef{ID: n.ID, ReceiptHandle: n.ReceiptHandle}
}

// MessageRef is the minimum a caller needs to delete a notification.
type MessageRef struct {
	ID            string
	ReceiptHandle string
}
