package types

import (
	"time"
)

// Event is one audit record extracted from a log file, plus where it came from.
type Event struct {
	Data     EventData
	Metadata EventMetadata
}

// EventData holds the commonly used fields of an audit record. Nested structures
// that vary per service are kept as generic maps.
type EventData struct {
	EventVersion        string           `json:"eventVersion"`
	EventID             string           `json:"eventID"`
	EventTime           time.Time        `json:"eventTime"`
	EventName           string           `json:"eventName"`
	EventSource         string           `json:"eventSource"`
	EventType           string           `json:"eventType"`
	AWSRegion           string           `json:"awsRegion"`
	SourceIPAddress     string           `json:"sourceIPAddress"`
	UserAgent           string           `json:"userAgent"`
	RecipientAccountID  string           `json:"recipientAccountId"`
	RequestID           string           `json:"requestID"`
	ReadOnly            *bool            `json:"readOnly,omitempty"`
	ErrorCode           string           `json:"errorCode,omitempty"`
	ErrorMessage        string           `json:"errorMessage,omitempty"`
	UserIdentity        map[string]any   `json:"userIdentity,omitempty"`
	RequestParameters   map[string]any   `json:"requestParameters,omitempty"`
	ResponseElements    map[string]any   `json:"responseElements,omitempty"`
	AdditionalEventData map[string]any   `json:"additionalEventData,omitempty"`
	Resources           []map[string]any `json:"resources,omitempty"`
}

// EventMetadata describes the delivery context of an Event.
type EventMetadata struct {
	Source Source
	// Position is the zero-based index of the record within its log file.
	Position int
	// Verification is the signature verification result of the containing log.
	Verification VerificationResult
	// RawEvent is the record's original JSON, only populated when raw event info is enabled.
	RawEvent string
}
