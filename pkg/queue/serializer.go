package queue

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/illmade-knight/go-trailflow/pkg/sourceid"
	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// CloudTrailValidationMessage is the body published when a trail is first wired to a topic.
const CloudTrailValidationMessage = "CloudTrail validation message."

const s3TestEvent = "s3:TestEvent"

// ErrUnrecognizedBody is returned when no serializer understands a notification body.
var ErrUnrecognizedBody = errors.New("unrecognized notification body")

// SourceSerializer turns one (already unwrapped) notification body into sources.
type SourceSerializer interface {
	Sources(n types.Notification, body []byte) ([]types.Source, error)
}

type snsEnvelope struct {
	Type    string  `json:"Type"`
	Message *string `json:"Message"`
}

// UnwrapEnvelope strips one SNS notification envelope, if present. Any other body
// is returned as is.
func UnwrapEnvelope(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body
	}
	var env snsEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return body
	}
	if env.Type != "Notification" || env.Message == nil {
		return body
	}
	return []byte(*env.Message)
}

// sourceAttributes copies the notification's attributes and adds per-object ones.
func sourceAttributes(n types.Notification, objectKey string) map[string]string {
	attrs := maps.Clone(n.Attributes)
	if attrs == nil {
		attrs = make(map[string]string)
	}
	if objectKey != "" {
		if id, ok := sourceid.ExtractAccountID(objectKey); ok {
			attrs[types.AttrAccountID] = id
		}
	}
	return attrs
}

// S3EventSerializer understands S3 event notifications.
type S3EventSerializer struct {
	identifier sourceid.Identifier
}

// NewS3EventSerializer creates an S3EventSerializer.
func NewS3EventSerializer() *S3EventSerializer {
	return &S3EventSerializer{identifier: sourceid.NewIdentifier()}
}

type s3Event struct {
	Event   string `json:"Event"`
	Bucket  string `json:"Bucket"`
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// Sources implements SourceSerializer.
func (s *S3EventSerializer) Sources(n types.Notification, body []byte) ([]types.Source, error) {
	var evt s3Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse S3 event: %w", err)
	}

	if evt.Event == s3TestEvent {
		return []types.Source{types.NewSource(types.SourceValidationMarker, evt.Bucket, "", n, sourceAttributes(n, ""))}, nil
	}
	if len(evt.Records) == 0 {
		return nil, fmt.Errorf("S3 event has no records: %w", ErrUnrecognizedBody)
	}

	sources := make([]types.Source, 0, len(evt.Records))
	for i, rec := range evt.Records {
		bucket := rec.S3.Bucket.Name
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to unescape key of record %d: %w", i, err)
		}
		if bucket == "" || key == "" {
			return nil, fmt.Errorf("S3 event record %d has no bucket or key", i)
		}
		attrs := sourceAttributes(n, key)
		attrs[types.AttrEventName] = rec.EventName
		sourceType := s.identifier.IdentifyWithAction(key, rec.EventName)
		sources = append(sources, types.NewSource(sourceType, bucket, key, n, attrs))
	}
	return sources, nil
}

// CloudTrailSerializer understands CloudTrail delivery notifications.
type CloudTrailSerializer struct {
	identifier sourceid.Identifier
}

// NewCloudTrailSerializer creates a CloudTrailSerializer.
func NewCloudTrailSerializer() *CloudTrailSerializer {
	return &CloudTrailSerializer{identifier: sourceid.NewIdentifier()}
}

type cloudTrailNotification struct {
	S3Bucket    string   `json:"s3Bucket"`
	S3ObjectKey []string `json:"s3ObjectKey"`
}

// Sources implements SourceSerializer.
func (s *CloudTrailSerializer) Sources(n types.Notification, body []byte) ([]types.Source, error) {
	trimmed := bytes.TrimSpace(body)
	if string(trimmed) == CloudTrailValidationMessage {
		return []types.Source{types.NewSource(types.SourceValidationMarker, "", "", n, sourceAttributes(n, ""))}, nil
	}

	var ct cloudTrailNotification
	if err := json.Unmarshal(trimmed, &ct); err != nil {
		return nil, fmt.Errorf("failed to parse CloudTrail notification: %w", err)
	}
	if ct.S3Bucket == "" || len(ct.S3ObjectKey) == 0 {
		return nil, fmt.Errorf("CloudTrail notification has no bucket or keys: %w", ErrUnrecognizedBody)
	}

	sources := make([]types.Source, 0, len(ct.S3ObjectKey))
	for _, key := range ct.S3ObjectKey {
		sources = append(sources, types.NewSource(s.identifier.Identify(key), ct.S3Bucket, key, n, sourceAttributes(n, key)))
	}
	return sources, nil
}

// DetectingSerializer picks the S3 or CloudTrail serializer by body shape.
type DetectingSerializer struct {
	s3         *S3EventSerializer
	cloudTrail *CloudTrailSerializer
}

// NewDetectingSerializer creates the default serializer.
func NewDetectingSerializer() *DetectingSerializer {
	return &DetectingSerializer{s3: NewS3EventSerializer(), cloudTrail: NewCloudTrailSerializer()}
}

// Sources implements SourceSerializer.
func (d *DetectingSerializer) Sources(n types.Notification, body []byte) ([]types.Source, error) {
	trimmed := bytes.TrimSpace(body)
	if string(trimmed) == CloudTrailValidationMessage {
		return d.cloudTrail.Sources(n, trimmed)
	}

	var probe struct {
		Records  json.RawMessage `json:"Records"`
		Event    string          `json:"Event"`
		S3Bucket string          `json:"s3Bucket"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse notification body: %w", err)
	}

	switch {
	case probe.S3Bucket != "":
		return d.cloudTrail.Sources(n, trimmed)
	case len(probe.Records) > 0 || probe.Event != "":
		return d.s3.Sources(n, trimmed)
	default:
		return nil, ErrUnrecognizedBody
	}
}
