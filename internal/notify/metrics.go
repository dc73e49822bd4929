package notify

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names and dimensions emitted by the billing service.
const (
	MetricNotificationDispatch = "NotificationDispatch"
	MetricEmailDelivery        = "EmailDelivery"
	MetricInvariantRefusal     = "InvariantRefusal"

	DimResult = "Result"
	DimKind   = "Kind"
)

// MetricResult labels the outcome dimension of a dispatch metric.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
	MetricSkipped MetricResult = "skipped"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// BillingMetrics publishes billing telemetry to CloudWatch. Emission is
// best-effort: a PutMetricData failure is logged and swallowed.
type BillingMetrics interface {
	RecordDispatch(ctx context.Context, kind string, result MetricResult)
	RecordDelivery(ctx context.Context, kind string, result MetricResult)
	RecordInvariantRefusal(ctx context.Context, reason string)
}

// CloudWatchBillingMetrics implements BillingMetrics against the real
// CloudWatch API.
type CloudWatchBillingMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchBillingMetrics creates a metrics publisher for the given
// namespace.
func NewCloudWatchBillingMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchBillingMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchBillingMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordDispatch emits a NotificationDispatch count with Kind and Result
// dimensions.
func (m *CloudWatchBillingMetrics) RecordDispatch(ctx context.Context, kind string, result MetricResult) {
	m.put(ctx, MetricNotificationDispatch, []cwtypes.Dimension{
		{Name: aws.String(DimKind), Value: aws.String(kind)},
		{Name: aws.String(DimResult), Value: aws.String(string(result))},
	})
}

// RecordDelivery emits an EmailDelivery count from the email worker.
func (m *CloudWatchBillingMetrics) RecordDelivery(ctx context.Context, kind string, result MetricResult) {
	m.put(ctx, MetricEmailDelivery, []cwtypes.Dimension{
		{Name: aws.String(DimKind), Value: aws.String(kind)},
		{Name: aws.String(DimResult), Value: aws.String(string(result))},
	})
}

// RecordInvariantRefusal emits an InvariantRefusal count. These should be
// zero in steady state; any datapoint warrants investigation.
func (m *CloudWatchBillingMetrics) RecordInvariantRefusal(ctx context.Context, reason string) {
	m.put(ctx, MetricInvariantRefusal, []cwtypes.Dimension{
		{Name: aws.String(DimKind), Value: aws.String(reason)},
	})
}

func (m *CloudWatchBillingMetrics) put(ctx context.Context, name string, dims []cwtypes.Dimension) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to put metric data",
			"metric", name,
			"error", err,
		)
	}
}

// NopMetrics implements BillingMetrics as a no-op, for local mode and tests.
type NopMetrics struct{}

func (NopMetrics) RecordDispatch(ctx context.Context, kind string, result MetricResult) {}
func (NopMetrics) RecordDelivery(ctx context.Context, kind string, result MetricResult) {}
func (NopMetrics) RecordInvariantRefusal(ctx context.Context, reason string)            {}

var (
	_ BillingMetrics = (*CloudWatchBillingMetrics)(nil)
	_ BillingMetrics = NopMetrics{}
)
