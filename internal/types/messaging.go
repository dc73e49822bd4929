package types

import "time"

// EmailKind selects the transactional template rendered by the email worker.
type EmailKind string

const (
	// EmailWelcome is sent after a checkout-completion transition commits.
	EmailWelcome EmailKind = "welcome"

	// EmailPaymentFailed is sent when an account enters past_due.
	EmailPaymentFailed EmailKind = "payment_failed"
)

// EmailMessage is the SQS transport envelope between the billing core and the
// email worker. It carries everything the worker needs to render and deliver
// a transactional email without reading billing state, so a worker failure
// can never observe or influence the committed transaction.
type EmailMessage struct {
	// MessageID is a fresh UUID per enqueue, used for log correlation only.
	// Delivery dedup is not required: the sidecar is best-effort by contract.
	MessageID string `json:"message_id"`

	// TraceID propagates the originating webhook request ID.
	TraceID string `json:"trace_id"`

	Kind      EmailKind `json:"kind"`
	Recipient string    `json:"recipient"`

	// TemplateData holds the values interpolated into the template
	// (plan name, credits granted, portal URL).
	TemplateData map[string]string `json:"template_data,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// EmailAddress pairs an address with an optional display name.
type EmailAddress struct {
	Address string
	Name    string
}

// SendInput is the provider-facing form of one transactional email after the
// worker has rendered the template. Providers transmit it verbatim.
type SendInput struct {
	To       string
	From     EmailAddress
	Subject  string
	BodyHTML string
	BodyText string

	// ReferenceID carries the EmailMessage's MessageID for provider-side
	// correlation.
	ReferenceID string
}
