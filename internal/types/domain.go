// Package types defines the shared domain model for the FieldNotes billing
// authority: the account ledger record, plan and subscription enums, processor
// event representations, and the error taxonomy used across all packages.
package types

import (
	"strings"
	"time"
)

// PlanTier identifies the subscription plan attached to an account.
// The zero-value tier is PlanNone (no subscription, no grants).
type PlanTier string

const (
	PlanNone     PlanTier = "none"
	PlanStandard PlanTier = "standard"
	PlanPlus     PlanTier = "plus"
)

// SubscriptionStatus is the local subscription lifecycle state.
// Transitions are governed by the state machine in internal/billing;
// no other code may move an account between statuses.
type SubscriptionStatus string

const (
	SubStatusNone     SubscriptionStatus = "none"
	SubStatusTrialing SubscriptionStatus = "trialing"
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// EventKind is the internal classification of an inbound processor event.
// The webhook layer maps raw Stripe event type strings onto these kinds;
// everything downstream of the handler works in terms of EventKind only.
type EventKind string

const (
	// EventCheckoutCompleted confirms a new subscription after hosted checkout.
	// Eligible for the one-shot trial credit grant.
	EventCheckoutCompleted EventKind = "checkout_completed"

	// EventSubscriptionRenewed is a paid invoice for a billing cycle
	// (billing_reason subscription_create or subscription_cycle).
	// Eligible for a per-event-id monthly credit grant.
	EventSubscriptionRenewed EventKind = "subscription_renewed"

	// EventPaymentSucceeded is a paid invoice outside a renewal cycle
	// (e.g., a retried dunning payment with another billing_reason).
	// Status-only: clears past_due, grants nothing.
	EventPaymentSucceeded EventKind = "payment_succeeded"

	// EventPaymentFailed marks the account past_due. No credit change.
	EventPaymentFailed EventKind = "payment_failed"

	// EventSubscriptionUpdated syncs status and processor identifiers.
	EventSubscriptionUpdated EventKind = "subscription_updated"

	// EventSubscriptionCanceled marks the account canceled. Terminal until
	// a new checkout restarts the cycle.
	EventSubscriptionCanceled EventKind = "subscription_canceled"

	// EventUnknown is anything the webhook layer does not recognize.
	// Absorbed and acknowledged, never an error response.
	EventUnknown EventKind = "unknown"
)

// Account is the ledger record for a single customer, keyed by email.
// CreditsRemaining is mutated only by the credit grant engine (grants) and
// the consume path (decrements); Plan and SubscriptionStatus only by the
// subscription state machine.
type Account struct {
	Email                 string             `json:"email"`
	CreditsRemaining      int                `json:"credits_remaining"`
	Plan                  PlanTier           `json:"plan"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	StripeCustomerID      string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID  string             `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodEnd      *time.Time         `json:"current_period_end,omitempty"`
	EmailVerifiedAt       *time.Time         `json:"email_verified_at,omitempty"`
	TrialCreditsGrantedAt *time.Time         `json:"trial_credits_granted_at,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// ProcessorEvent is the normalized form of an inbound webhook event after
// signature verification and payload extraction. EventID is the processor's
// unique identifier for this logical occurrence and is the idempotency key
// for renewal grants.
type ProcessorEvent struct {
	EventID        string
	Kind           EventKind
	Email          string
	CustomerID     string
	SubscriptionID string
	Plan           PlanTier
	Status         SubscriptionStatus
	PeriodEnd      *time.Time
	OccurredAt     time.Time
}

// ApplyOutcome reports what the event processor did with an event. The
// webhook handler uses it to pick a response code and to decide whether the
// notification sidecar should fire.
type ApplyOutcome struct {
	// Duplicate is true when the idempotency guard detected a prior
	// application and the transaction was a no-op.
	Duplicate bool

	// CreditsGranted is the delta applied to CreditsRemaining (0 for
	// status-only transitions and duplicates).
	CreditsGranted int

	// Status is the subscription status after the transaction committed.
	Status SubscriptionStatus

	// Notify is true when a post-commit notification should be dispatched
	// (checkout completions only).
	Notify bool
}

// RedirectURLs carries the post-checkout redirect targets for a hosted
// payment session.
type RedirectURLs struct {
	Success string
	Cancel  string
}

// NormalizeEmail canonicalizes an email address for use as the account
// identity key. The processor and the UI collaborator both send addresses
// with arbitrary case and whitespace.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
