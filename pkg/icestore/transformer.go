// Package icestore archives audit events as gzipped JSON lines in Google Cloud Storage.
package icestore

import (
	"fmt"
	"time"

	"github.com/illmade-knight/go-trailflow/pkg/sourceid"
	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// ArchivalData is one line of an archive object.
type ArchivalData struct {
	ID           string          `json:"id"`
	BatchKey     string          `json:"batchKey"`
	Event        types.EventData `json:"event"`
	LogBucket    string          `json:"logBucket"`
	LogKey       string          `json:"logKey"`
	Position     int             `json:"position"`
	Verification string          `json:"verification"`
	RawEvent     string          `json:"rawEvent,omitempty"`
	ArchivedAt   time.Time       `json:"archivedAt"`
}

// GetBatchKey returns the key used for grouping data in GCS.
func (d *ArchivalData) GetBatchKey() string {
	return d.BatchKey
}

// NewArchivalData converts an event for archiving. Events are grouped by
// account and event date, e.g. "123456789012/2025/06/15"; the date falls back
// to the archive time when the event has none.
func NewArchivalData(ev types.Event, archivedAt time.Time) *ArchivalData {
	ts := ev.Data.EventTime
	if ts.IsZero() {
		ts = archivedAt
	}
	ts = ts.UTC()

	account := ev.Data.RecipientAccountID
	if account == "" {
		if id, ok := ev.Metadata.Source.Attribute(types.AttrAccountID); ok {
			account = id
		} else if id, ok := sourceid.ExtractAccountID(ev.Metadata.Source.ObjectKey); ok {
			account = id
		} else {
			account = "unknown"
		}
	}

	return &ArchivalData{
		ID:           ev.Data.EventID,
		BatchKey:     fmt.Sprintf("%s/%d/%02d/%02d", account, ts.Year(), ts.Month(), ts.Day()),
		Event:        ev.Data,
		LogBucket:    ev.Metadata.Source.Bucket,
		LogKey:       ev.Metadata.Source.ObjectKey,
		Position:     ev.Metadata.Position,
		Verification: ev.Metadata.Verification.String(),
		RawEvent:     ev.Metadata.RawEvent,
		ArchivedAt:   archivedAt,
	}
}
