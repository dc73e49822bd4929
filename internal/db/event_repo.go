package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"fieldnotes/internal/types"
)

// ProcessedEventRepo records which processor event IDs have already been
// applied. It backs the idempotency guard for recurring (renewal) grants,
// where a per-account marker is not enough because renewals repeat monthly.
//
// Rows are pruned after the configured retention window; the window must
// exceed the processor's maximum redelivery delay so a late redelivery still
// hits its marker.
type ProcessedEventRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewProcessedEventRepo creates a ProcessedEventRepo backed by the given
// database connection (pool or transaction).
func NewProcessedEventRepo(db DBTX, logger *slog.Logger) *ProcessedEventRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessedEventRepo{db: db, logger: logger}
}

// WithTx returns a copy of the repo bound to the given transaction.
func (r *ProcessedEventRepo) WithTx(tx pgx.Tx) *ProcessedEventRepo {
	return &ProcessedEventRepo{db: tx, logger: r.logger}
}

// Claim atomically records the event ID as processed. Returns true if this
// call claimed it (the grant may proceed), false if another delivery already
// did (duplicate, no-op). The INSERT .. ON CONFLICT makes the check-and-set a
// single statement, closing the race between two concurrent deliveries of
// the same event.
func (r *ProcessedEventRepo) Claim(ctx context.Context, eventID, email string, kind types.EventKind, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO processed_events (event_id, email, kind, processed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, types.NormalizeEmail(email), kind, at,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim event marker", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Prune deletes markers older than the cutoff and returns the number removed.
// Safe to run concurrently with event processing: a marker is only eligible
// once the processor's redelivery window has long passed.
func (r *ProcessedEventRepo) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune event markers", err)
	}
	return tag.RowsAffected(), nil
}
