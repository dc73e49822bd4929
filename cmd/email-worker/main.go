// Package main is the entrypoint for the email worker Lambda function.
//
// The worker consumes EmailMessage envelopes from the notification SQS queue,
// renders the transactional template for each, and delivers via the email
// provider. Each invocation receives a batch of SQS messages; failures are
// reported individually through partial batch responses so SQS retries only
// the messages that need it.
//
// Cold start (main):
//  1. Initialize structured logger.
//  2. Load AWS SDK configuration.
//  3. Initialize the CloudWatch metrics publisher.
//  4. Initialize the email provider (SendGrid, or a stub when no API key is
//     configured).
//  5. Register the handler and call lambda.Start.
//
// In local mode (APP_ENV=local) the worker reads a JSON SQS event from stdin
// instead of starting the Lambda runtime, which enables integration testing
// without the AWS Lambda RIE.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"fieldnotes/internal/email"
	"fieldnotes/internal/external"
	"fieldnotes/internal/notify"
	"fieldnotes/internal/types"
)

// Handler holds the dependencies for the email worker Lambda handler.
type Handler struct {
	provider external.EmailProvider
	renderer *email.Renderer
	metrics  notify.BillingMetrics
	logger   *slog.Logger
}

// Handle processes an SQS event containing one or more email messages. Each
// message is processed independently; messages that fail with a retryable
// error are returned in batchItemFailures so SQS redelivers them.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process SQS message",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processRecord delivers a single queued email. A nil return acknowledges the
// message; an error requeues it.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var msg types.EmailMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal email message",
			"message_id", record.MessageId,
			"error", err,
		)
		// Permanent parse failure, do not retry.
		return nil
	}

	logger := h.logger.With(
		"message_id", msg.MessageID,
		"kind", string(msg.Kind),
		"recipient", msg.Recipient,
		"trace_id", msg.TraceID,
	)

	if msg.Recipient == "" {
		logger.ErrorContext(ctx, "email message has no recipient")
		h.metrics.RecordDelivery(ctx, string(msg.Kind), notify.MetricFailed)
		return nil
	}

	input, err := h.renderer.Render(msg)
	if err != nil {
		// Unknown kind or broken template data. Retrying cannot fix it.
		logger.ErrorContext(ctx, "failed to render email", "error", err)
		h.metrics.RecordDelivery(ctx, string(msg.Kind), notify.MetricFailed)
		return nil
	}

	providerMsgID, err := h.provider.Send(ctx, input)
	if err != nil {
		if isRetryable(err) {
			h.metrics.RecordDelivery(ctx, string(msg.Kind), notify.MetricFailed)
			return fmt.Errorf("sending email: %w", err)
		}
		logger.ErrorContext(ctx, "email delivery permanently failed", "error", err)
		h.metrics.RecordDelivery(ctx, string(msg.Kind), notify.MetricFailed)
		return nil
	}

	logger.InfoContext(ctx, "email delivered", "provider_message_id", providerMsgID)
	h.metrics.RecordDelivery(ctx, string(msg.Kind), notify.MetricSuccess)
	return nil
}

// isRetryable reports whether a provider error is worth an SQS redelivery.
// Rate limits and provider outages are; rejected payloads are not.
func isRetryable(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return true
	}
	switch appErr.Code {
	case types.ErrCodeUpstreamRateLimited,
		types.ErrCodeUpstreamUnavailable,
		types.ErrCodeUpstreamEmail:
		return true
	default:
		return false
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("email worker initializing (cold start)")

	fromAddress := os.Getenv("EMAIL_FROM_ADDRESS")
	if fromAddress == "" {
		fromAddress = "billing@fieldnotes.app"
	}
	fromName := os.Getenv("EMAIL_FROM_NAME")
	if fromName == "" {
		fromName = "FieldNotes"
	}
	appBaseURL := os.Getenv("APP_BASE_URL")
	metricNamespace := os.Getenv("METRIC_NAMESPACE")
	if metricNamespace == "" {
		metricNamespace = "FieldNotes/Billing"
	}

	var metrics notify.BillingMetrics = notify.NopMetrics{}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Warn("AWS config unavailable, metrics disabled", "error", err)
	} else {
		cwClient := cloudwatch.NewFromConfig(awsCfg)
		metrics = notify.NewCloudWatchBillingMetrics(cwClient, metricNamespace, logger)
	}

	var provider external.EmailProvider
	sendgridKey := os.Getenv("SENDGRID_API_KEY")
	if sendgridKey == "" {
		logger.Warn("SENDGRID_API_KEY not set, using stub email provider")
		provider = external.NewStubEmailProvider(logger)
	} else {
		provider = external.NewSendGridClient(
			&http.Client{Timeout: 10 * time.Second},
			external.SendGridClientConfig{
				APIKey: sendgridKey,
				Logger: logger,
			},
		)
	}

	handler := &Handler{
		provider: provider,
		renderer: &email.Renderer{
			From:       types.EmailAddress{Address: fromAddress, Name: fromName},
			AppBaseURL: appBaseURL,
		},
		metrics: metrics,
		logger:  logger,
	}

	logger.Info("email worker initialized",
		"from_address", fromAddress,
		"metric_namespace", metricNamespace,
	)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime.
	// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/email-worker
	if os.Getenv("APP_ENV") == "local" {
		logger.Info("APP_ENV=local: reading SQS event from stdin")
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read stdin", "error", err)
			os.Exit(1)
		}
		if len(payload) == 0 {
			logger.Error("no input received on stdin")
			os.Exit(1)
		}
		var sqsEvent events.SQSEvent
		if err := json.Unmarshal(payload, &sqsEvent); err != nil {
			logger.Error("failed to parse stdin as SQS event", "error", err)
			os.Exit(1)
		}
		response, err := handler.Handle(context.Background(), sqsEvent)
		if err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		if len(response.BatchItemFailures) > 0 {
			respJSON, _ := json.MarshalIndent(response, "", "  ")
			fmt.Fprintln(os.Stderr, string(respJSON))
		}
		logger.Info("handler execution completed",
			"records_processed", len(sqsEvent.Records),
			"failures", len(response.BatchItemFailures),
		)
		return
	}

	lambda.Start(handler.Handle)
}
