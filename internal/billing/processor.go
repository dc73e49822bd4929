package billing

import (
	"context"
	"log/slog"

	"fieldnotes/internal/config"
	"fieldnotes/internal/db"
	"fieldnotes/internal/types"
)

// EventProcessor applies normalized processor events to the account ledger.
// Every application runs as a single database transaction with the account
// row locked, so concurrent deliveries for the same email serialize and each
// logical event lands exactly once regardless of ordering or duplication.
type EventProcessor struct {
	pool     db.TxBeginner
	accounts *db.AccountRepo
	events   *db.ProcessedEventRepo
	cfg      config.LedgerConfig
	logger   *slog.Logger
}

// NewEventProcessor creates an EventProcessor. The repos must be bound to the
// same pool passed as the transaction beginner.
func NewEventProcessor(
	pool db.TxBeginner,
	accounts *db.AccountRepo,
	events *db.ProcessedEventRepo,
	cfg config.LedgerConfig,
	logger *slog.Logger,
) *EventProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventProcessor{
		pool:     pool,
		accounts: accounts,
		events:   events,
		cfg:      cfg,
		logger:   logger,
	}
}

// Apply runs the atomic transition for one event: upsert the account, lock
// its row, run the idempotency guard for the event's kind, advance the
// subscription status, and apply any credit grant. All of it commits together
// or none of it does.
//
// Error semantics matter to the caller: a returned error means nothing was
// committed. Storage errors are retryable (the webhook handler converts them
// to a 5xx so the processor redelivers); invariant violations are not (the
// handler acknowledges them so redelivery stops).
func (p *EventProcessor) Apply(ctx context.Context, ev *types.ProcessorEvent) (*types.ApplyOutcome, error) {
	if ev.Kind == types.EventUnknown {
		return &types.ApplyOutcome{}, nil
	}

	email := types.NormalizeEmail(ev.Email)
	if email == "" {
		// A recognized event with no resolvable email cannot be applied and
		// redelivery will not fix it.
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeInvariantViolation,
			"event carries no resolvable account email",
			nil,
			map[string]any{"event_id": ev.EventID, "kind": ev.Kind},
		)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.TxTimeout)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin event transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	accounts := p.accounts.WithTx(tx)
	events := p.events.WithTx(tx)

	// The account row must exist before it can be locked. First contact with
	// an unknown email (events can arrive before signup completes) creates it.
	if err := accounts.Upsert(ctx, email); err != nil {
		return nil, err
	}

	// Per-account serialization point. Everything after this line observes
	// the committed effects of any concurrent delivery for the same email.
	acct, err := accounts.LockForUpdate(ctx, email)
	if err != nil {
		return nil, err
	}

	// A single email maps to a single processor customer for its lifetime.
	// A mismatch means crossed wires upstream; granting against it could
	// credit the wrong person, so refuse and alarm instead.
	if acct.StripeCustomerID != "" && ev.CustomerID != "" && acct.StripeCustomerID != ev.CustomerID {
		p.logger.ErrorContext(ctx, "customer identifier mismatch, refusing event",
			"event_id", ev.EventID,
			"email", email,
			"known_customer_id", acct.StripeCustomerID,
			"event_customer_id", ev.CustomerID,
		)
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeInvariantViolation,
			"event customer id does not match account",
			nil,
			map[string]any{"event_id": ev.EventID, "email": email},
		)
	}

	outcome, err := p.applyLocked(ctx, accounts, events, acct, ev)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit event transaction", err)
	}

	p.logger.InfoContext(ctx, "event applied",
		"event_id", ev.EventID,
		"kind", ev.Kind,
		"email", email,
		"duplicate", outcome.Duplicate,
		"credits_granted", outcome.CreditsGranted,
		"status", outcome.Status,
	)
	return outcome, nil
}

// applyLocked runs the per-kind transition with the account row held under
// FOR UPDATE. It mutates through the transaction-bound repos only.
func (p *EventProcessor) applyLocked(
	ctx context.Context,
	accounts *db.AccountRepo,
	events *db.ProcessedEventRepo,
	acct *types.Account,
	ev *types.ProcessorEvent,
) (*types.ApplyOutcome, error) {
	email := types.NormalizeEmail(ev.Email)
	next := NextStatus(acct.SubscriptionStatus, ev.Kind, ev.Status)
	outcome := &types.ApplyOutcome{Status: next}

	switch ev.Kind {
	case types.EventCheckoutCompleted:
		plan := ev.Plan
		if plan == types.PlanNone {
			plan = acct.Plan
		}
		if err := accounts.UpdateSubscriptionState(ctx, email, plan, next, ev.CustomerID, ev.SubscriptionID, ev.PeriodEnd); err != nil {
			return nil, err
		}
		granted, err := accounts.GrantTrialCredits(ctx, email, TrialCredits, ev.OccurredAt)
		if err != nil {
			return nil, err
		}
		if !granted {
			// Either a redelivered checkout or a second subscription for an
			// account that already used its trial. State was still synced.
			outcome.Duplicate = true
			return outcome, nil
		}
		outcome.CreditsGranted = TrialCredits
		outcome.Notify = true
		return outcome, nil

	case types.EventSubscriptionRenewed:
		claimed, err := events.Claim(ctx, ev.EventID, email, ev.Kind, ev.OccurredAt)
		if err != nil {
			return nil, err
		}
		if !claimed {
			outcome.Duplicate = true
			outcome.Status = acct.SubscriptionStatus
			return outcome, nil
		}
		if acct.SubscriptionStatus == types.SubStatusCanceled {
			// Late renewal for a canceled subscription. The marker claim
			// above makes the no-grant decision permanent; the account stays
			// canceled until a new checkout restarts the cycle.
			p.logger.WarnContext(ctx, "renewal for canceled account, no credits granted",
				"event_id", ev.EventID,
				"email", email,
			)
			return outcome, nil
		}
		plan := ev.Plan
		if plan == types.PlanNone {
			plan = acct.Plan
		}
		if err := accounts.UpdateSubscriptionState(ctx, email, plan, next, ev.CustomerID, ev.SubscriptionID, ev.PeriodEnd); err != nil {
			return nil, err
		}
		amount := MonthlyCredits(plan)
		if amount == 0 {
			// Paid invoice for an account with no recognized plan. Claiming
			// the marker above still makes the no-grant decision permanent.
			p.logger.WarnContext(ctx, "renewal for unrecognized plan, no credits granted",
				"event_id", ev.EventID,
				"email", email,
				"plan", plan,
			)
			return outcome, nil
		}
		if err := accounts.GrantRenewalCredits(ctx, email, amount); err != nil {
			return nil, err
		}
		outcome.CreditsGranted = amount
		return outcome, nil

	case types.EventPaymentSucceeded, types.EventPaymentFailed, types.EventSubscriptionCanceled:
		// Status-only transitions. Naturally idempotent: reapplying writes
		// the same status.
		if err := accounts.UpdateSubscriptionState(ctx, email, acct.Plan, next, ev.CustomerID, ev.SubscriptionID, ev.PeriodEnd); err != nil {
			return nil, err
		}
		return outcome, nil

	case types.EventSubscriptionUpdated:
		plan := ev.Plan
		if plan == types.PlanNone {
			plan = acct.Plan
		}
		if err := accounts.UpdateSubscriptionState(ctx, email, plan, next, ev.CustomerID, ev.SubscriptionID, ev.PeriodEnd); err != nil {
			return nil, err
		}
		return outcome, nil

	default:
		return nil, types.NewAppError(types.ErrCodeUnknownEventKind, "unhandled event kind: "+string(ev.Kind), nil)
	}
}
