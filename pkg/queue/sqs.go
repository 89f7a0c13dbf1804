package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// SQSAPI is the subset of *sqs.Client used by SQSService.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSService polls and deletes messages on one SQS queue.
type SQSService struct {
	client   SQSAPI
	queueURL string
}

// NewSQSService creates an SQSService for queueURL.
func NewSQSService(client SQSAPI, queueURL string) (*SQSService, error) {
	if client == nil {
		return nil, errors.New("SQS client cannot be nil")
	}
	if queueURL == "" {
		return nil, errors.New("SQS queue URL is required")
	}
	return &SQSService{client: client, queueURL: queueURL}, nil
}

// Poll implements Service.
func (s *SQSService) Poll(ctx context.Context, req PollRequest) ([]types.Notification, error) {
	in := &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(s.queueURL),
		MaxNumberOfMessages:         int32(req.MaxMessages),
		WaitTimeSeconds:             int32(req.WaitTime / time.Second),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameAll},
		MessageAttributeNames:       []string{"All"},
	}
	if req.VisibilityTimeout > 0 {
		in.VisibilityTimeout = int32(req.VisibilityTimeout / time.Second)
	}

	out, err := s.client.ReceiveMessage(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages from %s: %w", s.queueURL, err)
	}

	notifications := make([]types.Notification, 0, len(out.Messages))
	for _, msg := range out.Messages {
		notifications = append(notifications, toNotification(msg))
	}
	return notifications, nil
}

// Delete implements Service.
func (s *SQSService) Delete(ctx context.Context, receiptHandle string) error {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message from %s: %w", s.queueURL, err)
	}
	return nil
}

var sqsSystemAttributes = map[string]string{
	string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount):          types.AttrApproximateReceiveCount,
	string(sqstypes.MessageSystemAttributeNameSentTimestamp):                    types.AttrSentTimestamp,
	string(sqstypes.MessageSystemAttributeNameApproximateFirstReceiveTimestamp): types.AttrApproximateFirstReceiveTimestamp,
}

func toNotification(msg sqstypes.Message) types.Notification {
	n := types.Notification{
		ID:            aws.ToString(msg.MessageId),
		Body:          []byte(aws.ToString(msg.Body)),
		ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		Attributes:    make(map[string]string, len(msg.Attributes)+len(msg.MessageAttributes)),
	}
	for name, v := range msg.MessageAttributes {
		if v.StringValue != nil {
			n.Attributes[name] = *v.StringValue
		}
	}
	for name, v := range msg.Attributes {
		if key, ok := sqsSystemAttributes[name]; ok {
			n.Attributes[key] = v
		} else {
			n.Attributes[name] = v
		}
	}

	if rc, err := strconv.Atoi(n.Attributes[types.AttrApproximateReceiveCount]); err == nil {
		n.ApproximateReceiveCount = rc
	}
	if ms, err := strconv.ParseInt(n.Attributes[types.AttrSentTimestamp], 10, 64); err == nil {
		n.SentTimestamp = time.UnixMilli(ms).UTC()
	}
	return n
}
