package types

import (
	"maps"
	"strconv"
)

// SourceType classifies what a notification points at.
type SourceType int

const (
	// SourceOther is anything that is neither an audit log nor a validation marker.
	SourceOther SourceType = iota
	// SourceAuditLog is a delivered audit-log file.
	SourceAuditLog
	// SourceValidationMarker is a test or validation message that carries no payload.
	SourceValidationMarker
)

func (t SourceType) String() string {
	switch t {
	case SourceAuditLog:
		return "AuditLog"
	case SourceValidationMarker:
		return "ValidationMarker"
	default:
		return "Other"
	}
}

// Well-known Source attribute keys.
const (
	AttrAccountID                        = "accountId"
	AttrEventName                        = "eventName"
	AttrApproximateReceiveCount          = "approximateReceiveCount"
	AttrSentTimestamp                    = "sentTimestamp"
	AttrApproximateFirstReceiveTimestamp = "approximateFirstReceiveTimestamp"
)

// Source is a resolved unit of work: one candidate log object plus a reference back
// to the notification it came from. Construct it with NewSource; the attribute map
// is copied on the way in and only exposed through accessors.
type Source struct {
	Type      SourceType
	Bucket    string
	ObjectKey string
	// MessageID and ReceiptHandle identify the originating notification.
	MessageID     string
	ReceiptHandle string

	attributes map[string]string
}

// NewSource creates a Source bound to the notification it was derived from.
func NewSource(sourceType SourceType, bucket, objectKey string, origin Notification, attributes map[string]string) Source {
	attrs := make(map[string]string, len(attributes)+1)
	maps.Copy(attrs, attributes)
	if _, ok := attrs[AttrApproximateReceiveCount]; !ok && origin.ApproximateReceiveCount > 0 {
		attrs[AttrApproximateReceiveCount] = strconv.Itoa(origin.ApproximateReceiveCount)
	}
	return Source{
		Type:          sourceType,
		Bucket:        bucket,
		ObjectKey:     objectKey,
		MessageID:     origin.ID,
		ReceiptHandle: origin.ReceiptHandle,
		attributes:    attrs,
	}
}

// Attribute returns a single attribute value.
func (s Source) Attribute(key string) (string, bool) {
	v, ok := s.attributes[key]
	return v, ok
}

// Attributes returns a copy of the source's attributes.
func (s Source) Attributes() map[string]string {
	return maps.Clone(s.attributes)
}

// Ref returns the originating notification's identity.
func (s Source) Ref() MessageRef {
	return MessageRef{ID: s.MessageID, ReceiptHandle: s.ReceiptHandle}
}

// Location renders the source as bucket/key for logging.
func (s Source) Location() string {
	return s.Bucket + "/" + s.ObjectKey
}
