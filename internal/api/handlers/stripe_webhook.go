// Package handlers contains the HTTP handler implementations for the
// FieldNotes billing API.
//
// This file implements the Stripe webhook endpoint: the single entry point
// through which subscription state and credit grants reach the ledger. The
// route is not behind auth middleware; security is the Stripe-Signature
// HMAC check.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fieldnotes/internal/core"
	"fieldnotes/internal/external"
	"fieldnotes/internal/notify"
	"fieldnotes/internal/types"
)

// maxWebhookBodySize is the maximum allowed Stripe webhook payload (64 KB).
// Real payloads are far smaller; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// EventApplier runs the atomic ledger transition for one normalized event.
type EventApplier interface {
	Apply(ctx context.Context, ev *types.ProcessorEvent) (*types.ApplyOutcome, error)
}

// PlanResolver maps Stripe price IDs onto plan tiers.
type PlanResolver interface {
	PlanForPrice(priceID string) types.PlanTier
}

// EmailDispatcher is the post-commit notification sidecar.
type EmailDispatcher interface {
	DispatchWelcome(traceID string, ev *types.ProcessorEvent, outcome *types.ApplyOutcome)
	DispatchPaymentFailed(traceID string, ev *types.ProcessorEvent)
}

// StripeWebhookHandler handles asynchronous events from Stripe.
//
// Response contract (the processor redelivers on non-2xx):
//   - applied, duplicate, unknown type, invariant refusal -> 200
//   - missing or invalid signature, malformed JSON        -> 400
//   - transient storage failure                           -> 500 (retry)
type StripeWebhookHandler struct {
	verifier  external.WebhookVerifier
	processor EventApplier
	plans     PlanResolver
	sidecar   EmailDispatcher
	metrics   notify.BillingMetrics
	secret    string
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler with the provided
// dependencies. sidecar may be nil when notifications are disabled.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	processor EventApplier,
	plans PlanResolver,
	sidecar EmailDispatcher,
	metrics notify.BillingMetrics,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if metrics == nil {
		metrics = notify.NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:  verifier,
		processor: processor,
		plans:     plans,
		sidecar:   sidecar,
		metrics:   metrics,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Kept separate from the /v1
// handlers because this route is public and processor-facing.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes one inbound Stripe webhook delivery:
//  1. Read the raw body (size-limited).
//  2. Verify the Stripe-Signature header.
//  3. Normalize the event into a ProcessorEvent.
//  4. Run the atomic ledger transition.
//  5. Pick the response code from the outcome and fire the sidecar.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignatureMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event JSON",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	ev := h.normalizeEvent(&event)
	if ev.Kind == types.EventUnknown {
		h.logger.InfoContext(r.Context(), "ignoring unhandled webhook event type",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		h.ack(w, r, nil)
		return
	}

	outcome, err := h.processor.Apply(r.Context(), ev)
	if err != nil {
		h.respondApplyError(w, r, ev, err)
		return
	}

	if outcome.Duplicate {
		h.logger.InfoContext(r.Context(), "duplicate event acknowledged",
			"event_id", ev.EventID,
			"kind", ev.Kind,
		)
	}

	h.fireSidecar(r.Context(), ev, outcome)
	h.ack(w, r, outcome)
}

// respondApplyError maps a processor error onto the response contract.
// Transient failures get a 5xx so the processor redelivers; anything
// redelivery cannot fix is acknowledged.
func (h *StripeWebhookHandler) respondApplyError(w http.ResponseWriter, r *http.Request, ev *types.ProcessorEvent, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch {
		case appErr.Code == types.ErrCodeInvariantViolation:
			// Refused pre-commit. Redelivery would refuse again, so ack to
			// stop the retry loop and alarm instead.
			h.logger.ErrorContext(r.Context(), "event refused by invariant check",
				"event_id", ev.EventID,
				"kind", ev.Kind,
				"error", err,
			)
			h.metrics.RecordInvariantRefusal(r.Context(), string(ev.Kind))
			h.ack(w, r, nil)
			return

		case strings.HasPrefix(string(appErr.Code), "internal_"):
			// Nothing committed; a 500 makes the processor redeliver.
			h.logger.ErrorContext(r.Context(), "event processing failed, requesting redelivery",
				"event_id", ev.EventID,
				"kind", ev.Kind,
				"error", err,
			)
			core.Error(w, r, appErr)
			return
		}
	}

	// Unexpected error shape. Fail the delivery; redelivery is safe because
	// the transaction rolled back.
	h.logger.ErrorContext(r.Context(), "unexpected event processing error",
		"event_id", ev.EventID,
		"kind", ev.Kind,
		"error", err,
	)
	core.Error(w, r, types.NewAppError(
		types.ErrCodeInternalUnexpected,
		"event processing failed",
		err,
	))
}

// fireSidecar dispatches post-commit notifications. Runs detached so the
// response is never delayed or failed by notification trouble.
func (h *StripeWebhookHandler) fireSidecar(ctx context.Context, ev *types.ProcessorEvent, outcome *types.ApplyOutcome) {
	if h.sidecar == nil {
		return
	}

	traceID := types.GetRequestID(ctx)

	if outcome.Notify {
		go h.sidecar.DispatchWelcome(traceID, ev, outcome)
	}
	if ev.Kind == types.EventPaymentFailed && !outcome.Duplicate {
		go h.sidecar.DispatchPaymentFailed(traceID, ev)
	}
}

// ack writes the 200 acknowledgment. The body is informational only; the
// processor cares about the status code.
func (h *StripeWebhookHandler) ack(w http.ResponseWriter, r *http.Request, outcome *types.ApplyOutcome) {
	body := map[string]any{"received": true}
	if outcome != nil {
		body["duplicate"] = outcome.Duplicate
	}
	core.JSON(w, r, http.StatusOK, body)
}

// ---------------------------------------------------------------------------
// Stripe Event Normalization
// ---------------------------------------------------------------------------

// stripeWebhookEvent is a minimal representation of a Stripe webhook event
// tailored to the fields the billing pipeline needs. Avoiding the full
// stripe.Event type keeps the handler decoupled from stripe-go's payload
// structs and makes fixtures trivial to build in tests.
type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// stripeEventData wraps the event data object.
type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// stripeCheckoutSessionObj holds the minimal checkout.session.completed
// fields.
type stripeCheckoutSessionObj struct {
	Customer        string            `json:"customer"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails *stripeCustomerDetails `json:"customer_details"`
	Subscription    string            `json:"subscription"`
	Metadata        map[string]string `json:"metadata"`
}

type stripeCustomerDetails struct {
	Email string `json:"email"`
}

// stripeInvoiceObj holds the minimal invoice.* fields.
type stripeInvoiceObj struct {
	Customer            string            `json:"customer"`
	CustomerEmail       string            `json:"customer_email"`
	Subscription        string            `json:"subscription"`
	BillingReason       string            `json:"billing_reason"`
	PeriodEnd           int64             `json:"period_end"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails *stripeSubDetails `json:"subscription_details"`
	Lines               stripeInvoiceLines `json:"lines"`
}

type stripeSubDetails struct {
	Metadata map[string]string `json:"metadata"`
}

type stripeInvoiceLines struct {
	Data []stripeInvoiceLine `json:"data"`
}

type stripeInvoiceLine struct {
	Price  stripePriceRef    `json:"price"`
	Period stripeLinePeriod  `json:"period"`
}

type stripeLinePeriod struct {
	End int64 `json:"end"`
}

// stripeSubscriptionObj holds the minimal customer.subscription.* fields.
type stripeSubscriptionObj struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            stripeSubItems    `json:"items"`
}

type stripeSubItems struct {
	Data []stripeSubItem `json:"data"`
}

type stripeSubItem struct {
	Price            stripePriceRef `json:"price"`
	CurrentPeriodEnd int64          `json:"current_period_end"`
}

type stripePriceRef struct {
	ID string `json:"id"`
}

// normalizeEvent maps a raw Stripe event onto the internal ProcessorEvent.
// Unrecognized types come back as EventUnknown and are acknowledged upstream.
func (h *StripeWebhookHandler) normalizeEvent(event *stripeWebhookEvent) *types.ProcessorEvent {
	ev := &types.ProcessorEvent{
		EventID:    event.ID,
		Kind:       types.EventUnknown,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	var data stripeEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return ev
	}

	switch event.Type {
	case external.EventStripeCheckoutCompleted:
		var session stripeCheckoutSessionObj
		if err := json.Unmarshal(data.Object, &session); err != nil {
			return ev
		}
		ev.Kind = types.EventCheckoutCompleted
		ev.Email = checkoutEmail(&session)
		ev.CustomerID = session.Customer
		ev.SubscriptionID = session.Subscription
		ev.Plan = types.PlanTier(session.Metadata["plan"])
		if ev.Plan != types.PlanStandard && ev.Plan != types.PlanPlus {
			ev.Plan = types.PlanNone
		}

	case external.EventStripeInvoicePaid, external.EventStripeInvoicePaymentSucceeded:
		var invoice stripeInvoiceObj
		if err := json.Unmarshal(data.Object, &invoice); err != nil {
			return ev
		}
		// Cycle invoices carry the monthly grant; other billing reasons
		// (dunning retries, one-off adjustments) only clear past_due.
		switch invoice.BillingReason {
		case "subscription_create", "subscription_cycle":
			ev.Kind = types.EventSubscriptionRenewed
		default:
			ev.Kind = types.EventPaymentSucceeded
		}
		ev.Email = invoiceEmail(&invoice)
		ev.CustomerID = invoice.Customer
		ev.SubscriptionID = invoice.Subscription
		ev.Plan = h.invoicePlan(&invoice)
		if end := invoicePeriodEnd(&invoice); end != nil {
			ev.PeriodEnd = end
		}

	case external.EventStripePaymentFailed:
		var invoice stripeInvoiceObj
		if err := json.Unmarshal(data.Object, &invoice); err != nil {
			return ev
		}
		ev.Kind = types.EventPaymentFailed
		ev.Email = invoiceEmail(&invoice)
		ev.CustomerID = invoice.Customer
		ev.SubscriptionID = invoice.Subscription

	case external.EventStripeSubUpdated, external.EventStripeSubDeleted:
		var sub stripeSubscriptionObj
		if err := json.Unmarshal(data.Object, &sub); err != nil {
			return ev
		}
		if event.Type == external.EventStripeSubDeleted {
			ev.Kind = types.EventSubscriptionCanceled
		} else {
			ev.Kind = types.EventSubscriptionUpdated
			ev.Status = mapStripeStatus(sub.Status)
		}
		ev.Email = sub.Metadata["email"]
		ev.CustomerID = sub.Customer
		ev.SubscriptionID = sub.ID
		ev.Plan = h.subscriptionPlan(&sub)
		if end := subscriptionPeriodEnd(&sub); end != nil {
			ev.PeriodEnd = end
		}
	}

	return ev
}

// checkoutEmail resolves the account email from a checkout session:
// session metadata first (stamped by our CreateCheckoutSession), then the
// customer details, then the top-level customer_email.
func checkoutEmail(session *stripeCheckoutSessionObj) string {
	if email := session.Metadata["email"]; email != "" {
		return email
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}

// invoiceEmail resolves the account email from an invoice: invoice metadata,
// then the subscription metadata Stripe copies onto the invoice, then the
// top-level customer_email.
func invoiceEmail(invoice *stripeInvoiceObj) string {
	if email := invoice.Metadata["email"]; email != "" {
		return email
	}
	if invoice.SubscriptionDetails != nil {
		if email := invoice.SubscriptionDetails.Metadata["email"]; email != "" {
			return email
		}
	}
	return invoice.CustomerEmail
}

// invoicePlan resolves the plan tier from the first invoice line's price.
func (h *StripeWebhookHandler) invoicePlan(invoice *stripeInvoiceObj) types.PlanTier {
	if len(invoice.Lines.Data) > 0 {
		return h.plans.PlanForPrice(invoice.Lines.Data[0].Price.ID)
	}
	return types.PlanNone
}

// subscriptionPlan resolves the plan tier from the first subscription item's
// price.
func (h *StripeWebhookHandler) subscriptionPlan(sub *stripeSubscriptionObj) types.PlanTier {
	if len(sub.Items.Data) > 0 {
		return h.plans.PlanForPrice(sub.Items.Data[0].Price.ID)
	}
	return types.PlanNone
}

// invoicePeriodEnd prefers the first line's period end, falling back to the
// invoice-level period_end.
func invoicePeriodEnd(invoice *stripeInvoiceObj) *time.Time {
	if len(invoice.Lines.Data) > 0 && invoice.Lines.Data[0].Period.End > 0 {
		t := time.Unix(invoice.Lines.Data[0].Period.End, 0).UTC()
		return &t
	}
	if invoice.PeriodEnd > 0 {
		t := time.Unix(invoice.PeriodEnd, 0).UTC()
		return &t
	}
	return nil
}

// subscriptionPeriodEnd reads the subscription-level period end, falling back
// to the first item. Stripe moved this field onto items in newer API
// versions, so both shapes arrive in practice.
func subscriptionPeriodEnd(sub *stripeSubscriptionObj) *time.Time {
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		return &t
	}
	if len(sub.Items.Data) > 0 && sub.Items.Data[0].CurrentPeriodEnd > 0 {
		t := time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0).UTC()
		return &t
	}
	return nil
}

// mapStripeStatus converts a Stripe subscription status string to the local
// lifecycle enum. Statuses outside the local model return "" so the state
// machine keeps the current status.
func mapStripeStatus(status string) types.SubscriptionStatus {
	switch status {
	case "trialing":
		return types.SubStatusTrialing
	case "active":
		return types.SubStatusActive
	case "past_due", "unpaid":
		return types.SubStatusPastDue
	case "canceled", "incomplete_expired":
		return types.SubStatusCanceled
	default:
		return ""
	}
}
