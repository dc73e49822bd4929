package external

import (
	"context"

	"fieldnotes/internal/types"
)

// ---------------------------------------------------------------------------
// Payment Integration (Stripe)
// ---------------------------------------------------------------------------

// BillingService abstracts the payment provider. Implementations translate
// between domain types and the vendor API. Note that subscription state never
// flows back through this interface: the webhook pipeline is the only writer
// of local billing state.
type BillingService interface {
	// CreateCheckoutSession generates a hosted checkout URL for the given
	// email and plan. The email is stamped into session and subscription
	// metadata so every later webhook event can be correlated back to the
	// account.
	CreateCheckoutSession(ctx context.Context, email string, plan types.PlanTier, urls types.RedirectURLs) (checkoutURL string, sessionID string, err error)

	// CreatePortalSession generates a self-serve billing portal URL for an
	// existing provider customer.
	CreatePortalSession(ctx context.Context, customerID string, returnURL string) (portalURL string, err error)
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature
	// header and signing secret. Returns nil on success.
	Verify(payload []byte, header string, secret string) error
}

// Stripe event type constants prevent magic strings in webhook handlers.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	// Stripe emits invoice.paid and invoice.payment_succeeded for the same
	// settlement depending on API version; both carry the same invoice object.
	EventStripeInvoicePaid             = "invoice.paid"
	EventStripeInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventStripePaymentFailed           = "invoice.payment_failed"
	EventStripeSubUpdated              = "customer.subscription.updated"
	EventStripeSubDeleted              = "customer.subscription.deleted"
)

// ---------------------------------------------------------------------------
// Email Integration (SendGrid)
// ---------------------------------------------------------------------------

// EmailProvider abstracts the email delivery service. Implementations
// transmit pre-rendered content (Subject, BodyHTML, BodyText).
type EmailProvider interface {
	// Send transmits an email with pre-rendered content.
	// Returns the provider's message ID for correlation.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}
