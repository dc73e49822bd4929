// Package queue provides the SQS producer that hands transactional email
// work to the email worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"fieldnotes/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EmailPublisher serializes EmailMessages onto the notification queue. It is
// only ever called after the billing transaction has committed; a publish
// failure is logged by the caller and never affects billing state.
type EmailPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewEmailPublisher creates an EmailPublisher for the given queue URL.
func NewEmailPublisher(client SQSSender, queueURL string, logger *slog.Logger) *EmailPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish enqueues one email message. The MessageID and EnqueuedAt fields are
// stamped here if the caller left them empty.
func (p *EmailPublisher) Publish(ctx context.Context, msg types.EmailMessage) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal EmailMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Kind)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send EmailMessage to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "email message sent",
		"queue_url", p.queueURL,
		"message_id", msg.MessageID,
		"trace_id", msg.TraceID,
		"kind", string(msg.Kind),
	)

	return nil
}
