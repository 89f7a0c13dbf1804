// Package extract turns a downloaded log file into individual audit events.
package extract

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// ErrNoRecords is returned when a log file has no Records array.
var ErrNoRecords = errors.New("log file has no Records array")

var gzipMagic = []byte{0x1f, 0x8b}

type logFile struct {
	Records []json.RawMessage `json:"Records"`
}

// Extractor decodes log files into events.
type Extractor struct {
	// IncludeRaw keeps each record's original JSON in EventMetadata.RawEvent.
	IncludeRaw bool
}

// New creates an Extractor.
func New(includeRaw bool) *Extractor {
	return &Extractor{IncludeRaw: includeRaw}
}

// Extract decompresses the log if needed and returns its events in file order.
// Each event carries the log's source and verification result.
func (e *Extractor) Extract(log *types.Log) ([]types.Event, error) {
	data, err := Decompress(log.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", log.Source.Location(), err)
	}

	var file logFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", log.Source.Location(), err)
	}
	if file.Records == nil {
		return nil, fmt.Errorf("%s: %w", log.Source.Location(), ErrNoRecords)
	}

	verification := log.VerificationResult()
	events := make([]types.Event, 0, len(file.Records))
	for i, raw := range file.Records {
		var data types.EventData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to decode record %d of %s: %w", i, log.Source.Location(), err)
		}
		meta := types.EventMetadata{
			Source:       log.Source,
			Position:     i,
			Verification: verification,
		}
		if e.IncludeRaw {
			meta.RawEvent = string(raw)
		}
		events = append(events, types.Event{Data: data, Metadata: meta})
	}
	return events, nil
}

// Decompress gunzips data when it carries the gzip magic number and returns it
// unchanged otherwise.
func Decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
