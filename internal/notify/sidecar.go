// Package notify implements the post-commit notification sidecar. It fires
// after a billing transaction commits and is strictly best-effort: no failure
// in here can reach the webhook response or the committed ledger state.
package notify

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"fieldnotes/internal/types"
)

// dispatchTimeout bounds a single sidecar publish. The webhook handler has
// already responded by the time this runs, so the timeout only protects the
// goroutine from leaking.
const dispatchTimeout = 5 * time.Second

// EmailEnqueuer is the subset of the queue publisher used by the sidecar.
type EmailEnqueuer interface {
	Publish(ctx context.Context, msg types.EmailMessage) error
}

// Sidecar dispatches welcome and dunning emails after a transition commits.
type Sidecar struct {
	enqueuer EmailEnqueuer
	metrics  BillingMetrics
	logger   *slog.Logger
}

// NewSidecar creates a Sidecar. A nil enqueuer disables dispatch (local mode
// without a queue); sends are then logged and counted as skipped.
func NewSidecar(enqueuer EmailEnqueuer, metrics BillingMetrics, logger *slog.Logger) *Sidecar {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sidecar{
		enqueuer: enqueuer,
		metrics:  metrics,
		logger:   logger,
	}
}

// DispatchWelcome enqueues the welcome email for a freshly granted trial.
// Called in its own goroutine after commit; never returns anything to the
// webhook path.
func (s *Sidecar) DispatchWelcome(traceID string, ev *types.ProcessorEvent, outcome *types.ApplyOutcome) {
	s.dispatch(traceID, types.EmailMessage{
		TraceID:   traceID,
		Kind:      types.EmailWelcome,
		Recipient: types.NormalizeEmail(ev.Email),
		TemplateData: map[string]string{
			"plan":            string(ev.Plan),
			"credits_granted": strconv.Itoa(outcome.CreditsGranted),
		},
	})
}

// DispatchPaymentFailed enqueues the dunning email when an account enters
// past_due.
func (s *Sidecar) DispatchPaymentFailed(traceID string, ev *types.ProcessorEvent) {
	s.dispatch(traceID, types.EmailMessage{
		TraceID:   traceID,
		Kind:      types.EmailPaymentFailed,
		Recipient: types.NormalizeEmail(ev.Email),
	})
}

func (s *Sidecar) dispatch(traceID string, msg types.EmailMessage) {
	msg.MessageID = uuid.New().String()
	msg.EnqueuedAt = time.Now().UTC()

	// Detached context: the originating request context is canceled the
	// moment the handler responds.
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if s.enqueuer == nil {
		s.logger.InfoContext(ctx, "notification queue disabled, skipping email dispatch",
			"kind", string(msg.Kind),
			"recipient", msg.Recipient,
			"trace_id", traceID,
		)
		s.metrics.RecordDispatch(ctx, string(msg.Kind), MetricSkipped)
		return
	}

	if err := s.enqueuer.Publish(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "email dispatch failed",
			"kind", string(msg.Kind),
			"recipient", msg.Recipient,
			"message_id", msg.MessageID,
			"trace_id", traceID,
			"error", err,
		)
		s.metrics.RecordDispatch(ctx, string(msg.Kind), MetricFailed)
		return
	}

	s.metrics.RecordDispatch(ctx, string(msg.Kind), MetricSuccess)
}
