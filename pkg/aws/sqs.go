package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// SQSAPI is the subset of the SQS client the consumer calls.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// MessageHandler processes one message body. A non-nil error leaves the
// message on the queue so it is redelivered after the visibility timeout.
type MessageHandler func(ctx context.Context, body string) error

// SQSConsumer long-polls one queue.
type SQSConsumer struct {
	client     SQSAPI
	queueURL   string
	batchSize  int32
	waitTime   int32
	visibility int32
	backoff    time.Duration
	logger     *zap.Logger
}

func NewSQSConsumer(cfg sdkaws.Config, queueURL string, logger *zap.Logger) *SQSConsumer {
	return NewSQSConsumerWithClient(sqs.NewFromConfig(cfg), queueURL, logger)
}

func NewSQSConsumerWithClient(client SQSAPI, queueURL string, logger *zap.Logger) *SQSConsumer {
	return &SQSConsumer{
		client:     client,
		queueURL:   queueURL,
		batchSize:  10,
		waitTime:   20,
		visibility: 30,
		backoff:    time.Second,
		logger:     logger,
	}
}

// StartPolling polls until ctx is cancelled. Receive errors back off for a
// second so a missing queue does not spin.
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting SQS polling", zap.String("queue_url", c.queueURL))

	for ctx.Err() == nil {
		if _, err := c.PollOnce(ctx, handler); err != nil && ctx.Err() == nil {
			c.logger.Warn("Error polling SQS", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
		}
	}

	c.logger.Info("SQS polling stopped", zap.String("queue_url", c.queueURL))
	return ctx.Err()
}

// PollOnce receives one batch, hands each body to handler and deletes the
// ones it accepted. It returns how many messages were deleted.
func (c *SQSConsumer) PollOnce(ctx context.Context, handler MessageHandler) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            sdkaws.String(c.queueURL),
		MaxNumberOfMessages: c.batchSize,
		WaitTimeSeconds:     c.waitTime,
		VisibilityTimeout:   c.visibility,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to receive messages: %w", err)
	}

	var done []types.DeleteMessageBatchRequestEntry
	for i, msg := range out.Messages {
		if msg.Body == nil {
			continue
		}
		if err := handler(ctx, *msg.Body); err != nil {
			c.logger.Warn("Message left for redelivery",
				zap.String("message_id", sdkaws.ToString(msg.MessageId)),
				zap.Error(err),
			)
			continue
		}
		done = append(done, types.DeleteMessageBatchRequestEntry{
			Id:            sdkaws.String(strconv.Itoa(i)),
			ReceiptHandle: msg.ReceiptHandle,
		})
	}
	if len(done) == 0 {
		return 0, nil
	}

	res, err := c.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: sdkaws.String(c.queueURL),
		Entries:  done,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	for _, f := range res.Failed {
		c.logger.Warn("Failed to delete message",
			zap.String("entry", sdkaws.ToString(f.Id)),
			zap.String("code", sdkaws.ToString(f.Code)),
		)
	}
	return len(done) - len(res.Failed), nil
}

// UnwrapSNSEnvelope returns the inner message when body is an SNS
// notification delivered to SQS, and body unchanged otherwise.
func UnwrapSNSEnvelope(body string) string {
	var envelope struct {
		Type    string `json:"Type"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Type == "Notification" && envelope.Message != "" {
		return envelope.Message
	}
	return body
}
