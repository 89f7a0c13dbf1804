package messagepipeline_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/illmade-knight/go-trailflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-trailflow/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingProcessor_OneLinePerEvent(t *testing.T) {
	// Arrange
	var out bytes.Buffer
	p := messagepipeline.NewLoggingProcessor(zerolog.New(&out))
	ev := types.Event{
		Data:     types.EventData{EventID: "e-1", EventName: "PutObject", EventTime: time.Unix(0, 0).UTC()},
		Metadata: types.EventMetadata{Position: 3, Verification: types.ValidSignature},
	}

	// Act
	err := p.Process(context.Background(), []types.Event{ev, ev})

	// Assert
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"event_name":"PutObject"`)
	assert.Contains(t, lines[0], `"verification":"ValidSignature"`)
	assert.Contains(t, lines[0], `"position":3`)
}
