package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	pubsubapi "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"

	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// SubscriberAPI is the synchronous-pull subset of the Pub/Sub subscriber API.
type SubscriberAPI interface {
	Pull(ctx context.Context, req *pubsubpb.PullRequest) (*pubsubpb.PullResponse, error)
	Acknowledge(ctx context.Context, req *pubsubpb.AcknowledgeRequest) error
	ModifyAckDeadline(ctx context.Context, req *pubsubpb.ModifyAckDeadlineRequest) error
}

type subscriberClientAdapter struct {
	client *pubsubapi.SubscriberClient
}

// NewSubscriberClientAdapter makes the generated *SubscriberClient conform to SubscriberAPI.
func NewSubscriberClientAdapter(client *pubsubapi.SubscriberClient) SubscriberAPI {
	if client == nil {
		return nil
	}
	return &subscriberClientAdapter{client: client}
}

func (a *subscriberClientAdapter) Pull(ctx context.Context, req *pubsubpb.PullRequest) (*pubsubpb.PullResponse, error) {
	return a.client.Pull(ctx, req)
}

func (a *subscriberClientAdapter) Acknowledge(ctx context.Context, req *pubsubpb.AcknowledgeRequest) error {
	return a.client.Acknowledge(ctx, req)
}

func (a *subscriberClientAdapter) ModifyAckDeadline(ctx context.Context, req *pubsubpb.ModifyAckDeadlineRequest) error {
	return a.client.ModifyAckDeadline(ctx, req)
}

// PubsubService treats a Pub/Sub subscription as a visibility-timeout queue:
// the ack ID is the receipt handle and acknowledging is deleting.
type PubsubService struct {
	client       SubscriberAPI
	subscription string
}

// NewPubsubService creates a PubsubService. subscription is the full resource
// name, projects/<project>/subscriptions/<id>.
func NewPubsubService(client SubscriberAPI, subscription string) (*PubsubService, error) {
	if client == nil {
		return nil, errors.New("pubsub subscriber client cannot be nil")
	}
	if subscription == "" {
		return nil, errors.New("pubsub subscription is required")
	}
	return &PubsubService{client: client, subscription: subscription}, nil
}

// Poll implements Service. An empty wait window is not an error.
func (s *PubsubService) Poll(ctx context.Context, req PollRequest) ([]types.Notification, error) {
	pullCtx := ctx
	if req.WaitTime > 0 {
		var cancel context.CancelFunc
		pullCtx, cancel = context.WithTimeout(ctx, req.WaitTime)
		defer cancel()
	}

	resp, err := s.client.Pull(pullCtx, &pubsubpb.PullRequest{
		Subscription: s.subscription,
		MaxMessages:  int32(req.MaxMessages),
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(pullCtx.Err(), context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pull from %s: %w", s.subscription, err)
	}

	received := resp.GetReceivedMessages()
	if len(received) == 0 {
		return nil, nil
	}

	if req.VisibilityTimeout > 0 {
		ackIDs := make([]string, 0, len(received))
		for _, rm := range received {
			ackIDs = append(ackIDs, rm.GetAckId())
		}
		err = s.client.ModifyAckDeadline(ctx, &pubsubpb.ModifyAckDeadlineRequest{
			Subscription:       s.subscription,
			AckIds:             ackIDs,
			AckDeadlineSeconds: int32(req.VisibilityTimeout / time.Second),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to extend ack deadline on %s: %w", s.subscription, err)
		}
	}

	notifications := make([]types.Notification, 0, len(received))
	for _, rm := range received {
		notifications = append(notifications, fromReceivedMessage(rm))
	}
	return notifications, nil
}

// Delete implements Service by acknowledging the message.
func (s *PubsubService) Delete(ctx context.Context, receiptHandle string) error {
	err := s.client.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: s.subscription,
		AckIds:       []string{receiptHandle},
	})
	if err != nil {
		return fmt.Errorf("failed to acknowledge message on %s: %w", s.subscription, err)
	}
	return nil
}

func fromReceivedMessage(rm *pubsubpb.ReceivedMessage) types.Notification {
	msg := rm.GetMessage()
	attrs := make(map[string]string, len(msg.GetAttributes())+2)
	for k, v := range msg.GetAttributes() {
		attrs[k] = v
	}

	// Delivery attempts are only tracked with a dead-letter policy; count the first one.
	receiveCount := int(rm.GetDeliveryAttempt())
	if receiveCount < 1 {
		receiveCount = 1
	}
	attrs[types.AttrApproximateReceiveCount] = strconv.Itoa(receiveCount)

	n := types.Notification{
		ID:                      msg.GetMessageId(),
		Body:                    msg.GetData(),
		ReceiptHandle:           rm.GetAckId(),
		ApproximateReceiveCount: receiveCount,
		Attributes:              attrs,
	}
	if pt := msg.GetPublishTime(); pt != nil {
		n.SentTimestamp = pt.AsTime()
		attrs[types.AttrSentTimestamp] = strconv.FormatInt(n.SentTimestamp.UnixMilli(), 10)
	}
	return n
}
