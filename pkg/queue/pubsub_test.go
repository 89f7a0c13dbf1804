package queue_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	pubsubapi "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-trailflow/pkg/queue"
	"github.com/illmade-knight/go-trailflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func setupPubsubService(t *testing.T, projectID, topicID, subID string) (*queue.PubsubService, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	opts := []option.ClientOption{option.WithGRPCConn(conn)}

	admin, err := pubsub.NewClient(ctx, projectID, opts...)
	require.NoError(t, err)
	topic, err := admin.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	_, err = admin.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic, AckDeadline: 10 * time.Second})
	require.NoError(t, err)

	subscriber, err := pubsubapi.NewSubscriberClient(ctx, opts...)
	require.NoError(t, err)

	svc, err := queue.NewPubsubService(queue.NewSubscriberClientAdapter(subscriber), "projects/"+projectID+"/subscriptions/"+subID)
	require.NoError(t, err)
	return svc, srv
}

func TestPubsubService_PollAndDelete(t *testing.T) {
	// Arrange
	svc, srv := setupPubsubService(t, "test-project", "trail-topic", "trail-sub")
	msgID := srv.Publish("projects/test-project/topics/trail-topic", []byte(trailS3Evt), map[string]string{"tenant": "acme"})
	ctx := context.Background()

	// Act
	got, err := svc.Poll(ctx, queue.PollRequest{MaxMessages: 10, WaitTime: 2 * time.Second, VisibilityTimeout: 30 * time.Second})

	// Assert
	require.NoError(t, err)
	require.Len(t, got, 1)
	n := got[0]
	assert.Equal(t, msgID, n.ID)
	assert.Equal(t, trailS3Evt, string(n.Body))
	assert.NotEmpty(t, n.ReceiptHandle)
	assert.Equal(t, 1, n.ApproximateReceiveCount)
	assert.Equal(t, "acme", n.Attributes["tenant"])
	assert.Equal(t, "1", n.Attributes[types.AttrApproximateReceiveCount])
	assert.False(t, n.SentTimestamp.IsZero())

	// Deleting acknowledges the message so it is not redelivered.
	require.NoError(t, svc.Delete(ctx, n.ReceiptHandle))
	require.Eventually(t, func() bool {
		msgs := srv.Messages()
		return len(msgs) == 1 && msgs[0].Acks == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNewPubsubService_Validates(t *testing.T) {
	_, err := queue.NewPubsubService(nil, "projects/p/subscriptions/s")
	assert.Error(t, err)
}
