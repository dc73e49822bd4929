package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"fieldnotes/internal/types"
)

// AccountRepo is the ledger store: the durable per-account record holding
// credits, plan, subscription status, and the grant markers.
//
// Key invariants:
//   - credits_remaining never goes negative; the schema carries a CHECK and
//     every decrement is conditional.
//   - trial_credits_granted_at transitions null -> set exactly once; the
//     grant query predicates on IS NULL so a lost race is a no-op.
//   - All billing-authority mutations run inside the event processor's
//     transaction with the account row locked.
type AccountRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewAccountRepo creates an AccountRepo backed by the given database
// connection (pool or transaction).
func NewAccountRepo(db DBTX, logger *slog.Logger) *AccountRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountRepo{db: db, logger: logger}
}

// WithTx returns a copy of the repo bound to the given transaction.
func (r *AccountRepo) WithTx(tx pgx.Tx) *AccountRepo {
	return &AccountRepo{db: tx, logger: r.logger}
}

const accountColumns = `email, credits_remaining, plan, subscription_status,
	COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
	current_period_end, email_verified_at, trial_credits_granted_at,
	created_at, updated_at`

// scanAccount reads one account row in accountColumns order.
func scanAccount(row pgx.Row) (*types.Account, error) {
	var a types.Account
	err := row.Scan(
		&a.Email,
		&a.CreditsRemaining,
		&a.Plan,
		&a.SubscriptionStatus,
		&a.StripeCustomerID,
		&a.StripeSubscriptionID,
		&a.CurrentPeriodEnd,
		&a.EmailVerifiedAt,
		&a.TrialCreditsGrantedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Upsert creates the account record if it does not exist yet. Accounts are
// created on first verified signup or on the first processor event that
// references an unknown email; they are never hard-deleted.
func (r *AccountRepo) Upsert(ctx context.Context, email string) error {
	email = types.NormalizeEmail(email)
	if email == "" {
		return types.NewAppError(types.ErrCodeValidationInvalidEmail, "email must not be empty", nil)
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO accounts (email)
		 VALUES ($1)
		 ON CONFLICT (email) DO NOTHING`,
		email,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert account", err)
	}
	return nil
}

// GetByEmail returns the account for the given email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*types.Account, error) {
	email = types.NormalizeEmail(email)

	a, err := scanAccount(r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`,
		email,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found: "+email, err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load account", err)
	}
	return a, nil
}

// LockForUpdate loads the account row under FOR UPDATE. The account row is
// the per-account serialization point: two concurrent deliveries of events
// for the same email queue behind this lock, so the idempotency guard and the
// grant always observe each other's committed effects.
//
// Must be called on a repo bound to a transaction.
func (r *AccountRepo) LockForUpdate(ctx context.Context, email string) (*types.Account, error) {
	email = types.NormalizeEmail(email)

	a, err := scanAccount(r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1 FOR UPDATE`,
		email,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found: "+email, err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to lock account row", err)
	}
	return a, nil
}

// UpdateSubscriptionState writes the status-bearing fields of a transition:
// plan, status, processor identifiers, and the current period end. Credit
// changes are applied separately by the grant methods, always in the same
// transaction.
func (r *AccountRepo) UpdateSubscriptionState(
	ctx context.Context,
	email string,
	plan types.PlanTier,
	status types.SubscriptionStatus,
	customerID, subscriptionID string,
	periodEnd *time.Time,
) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET plan = $1,
		     subscription_status = $2,
		     stripe_customer_id = COALESCE(NULLIF($3, ''), stripe_customer_id),
		     stripe_subscription_id = COALESCE(NULLIF($4, ''), stripe_subscription_id),
		     current_period_end = COALESCE($5, current_period_end),
		     updated_at = NOW()
		 WHERE email = $6`,
		plan, status, customerID, subscriptionID, periodEnd, types.NormalizeEmail(email),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found: "+email, nil)
	}
	return nil
}

// GrantTrialCredits applies the one-shot trial grant. The update predicates
// on trial_credits_granted_at IS NULL, which makes the marker check and the
// grant a single atomic statement: a redelivered checkout event affects zero
// rows and is reported as not granted.
func (r *AccountRepo) GrantTrialCredits(ctx context.Context, email string, amount int, grantedAt time.Time) (bool, error) {
	if amount <= 0 {
		return false, types.NewAppError(types.ErrCodeInvariantViolation, "trial grant amount must be positive", nil)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET credits_remaining = credits_remaining + $1,
		     trial_credits_granted_at = $2,
		     updated_at = NOW()
		 WHERE email = $3
		   AND trial_credits_granted_at IS NULL`,
		amount, grantedAt, types.NormalizeEmail(email),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to grant trial credits", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GrantRenewalCredits adds the monthly credit delta. Callers must have
// claimed the per-event-id marker first (ProcessedEventRepo.Claim) in the
// same transaction; this method does not re-check it.
func (r *AccountRepo) GrantRenewalCredits(ctx context.Context, email string, amount int) error {
	if amount <= 0 {
		return types.NewAppError(types.ErrCodeInvariantViolation, "renewal grant amount must be positive", nil)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET credits_remaining = credits_remaining + $1,
		     updated_at = NOW()
		 WHERE email = $2`,
		amount, types.NormalizeEmail(email),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to grant renewal credits", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found: "+email, nil)
	}
	return nil
}

// ConsumeCredits decrements credits_remaining for the UI collaborator's
// generation path. The decrement is conditional on sufficient balance, which
// together with the schema CHECK enforces the non-negativity invariant
// without a read-modify-write race.
func (r *AccountRepo) ConsumeCredits(ctx context.Context, email string, amount int) error {
	if amount <= 0 {
		return types.NewAppError(types.ErrCodeValidationAmountRange, "consume amount must be positive", nil)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET credits_remaining = credits_remaining - $1,
		     updated_at = NOW()
		 WHERE email = $2
		   AND credits_remaining >= $1`,
		amount, types.NormalizeEmail(email),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to consume credits", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the account does not exist or the balance is too low.
		// Distinguish for the caller.
		if _, getErr := r.GetByEmail(ctx, email); getErr != nil {
			return getErr
		}
		return types.NewAppError(types.ErrCodeConflictInsufficientCredits, "insufficient credits", nil)
	}
	return nil
}
