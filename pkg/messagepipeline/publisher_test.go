package messagepipeline_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/goccy/go-json"
	"github.com/illmade-knight/go-trailflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-trailflow/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// setupTestPubsub creates a mock Pub/Sub server, client and topic for testing.
func setupTestPubsub(t *testing.T, projectID, topicID string) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	return client, srv
}

func TestPubsubPublisher_PublishesEvents(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	client, srv := setupTestPubsub(t, "test-project", "trail-events")

	publisher, err := messagepipeline.NewPubsubPublisher(ctx, messagepipeline.NewPubsubPublisherDefaults("trail-events"), client, zerolog.Nop())
	require.NoError(t, err)

	source := auditSource("m-1", logKey)
	events := []types.Event{
		{
			Data:     types.EventData{EventID: "e-0", EventName: "ListBuckets", EventSource: "s3.amazonaws.com", RecipientAccountID: "123456789012"},
			Metadata: types.EventMetadata{Source: source, Position: 0, Verification: types.ValidSignature},
		},
		{
			Data:     types.EventData{EventID: "e-1", EventName: "PutObject"},
			Metadata: types.EventMetadata{Source: source, Position: 1, Verification: types.ValidSignature},
		},
	}

	// Act
	err = publisher.Process(ctx, events)

	// Assert
	require.NoError(t, err)
	msgs := srv.Messages()
	require.Len(t, msgs, 2)

	byName := map[string]*pstest.Message{}
	for _, m := range msgs {
		byName[m.Attributes["eventName"]] = m
	}
	first := byName["ListBuckets"]
	require.NotNil(t, first)
	assert.Equal(t, "123456789012", first.Attributes[types.AttrAccountID])
	assert.Equal(t, "ValidSignature", first.Attributes["verification"])

	var body struct {
		Event     types.EventData `json:"event"`
		Bucket    string          `json:"bucket"`
		ObjectKey string          `json:"objectKey"`
		Position  int             `json:"position"`
	}
	require.NoError(t, json.Unmarshal(first.Data, &body))
	assert.Equal(t, "e-0", body.Event.EventID)
	assert.Equal(t, "trail-bucket", body.Bucket)
	assert.Equal(t, logKey, body.ObjectKey)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(stopCancel)
	assert.NoError(t, publisher.Stop(stopCtx))
}

func TestPubsubPublisher_MissingTopic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	client, _ := setupTestPubsub(t, "test-project", "other-topic")

	_, err := messagepipeline.NewPubsubPublisher(ctx, messagepipeline.NewPubsubPublisherDefaults("missing"), client, zerolog.Nop())

	assert.Error(t, err)
}

func TestPubsubPublisher_NilClient(t *testing.T) {
	_, err := messagepipeline.NewPubsubPublisher(context.Background(), messagepipeline.NewPubsubPublisherDefaults("t"), nil, zerolog.Nop())
	assert.Error(t, err)
}
