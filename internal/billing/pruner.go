package billing

import (
	"context"
	"log/slog"
	"time"

	"fieldnotes/internal/config"
	"fieldnotes/internal/db"
)

// pruneBatchLogThreshold is the marker count above which a prune run is
// logged at info instead of debug.
const pruneBatchLogThreshold = 1000

// Pruner periodically deletes event markers older than the retention window.
// It runs for the life of the process and exits when its context is canceled.
type Pruner struct {
	events *db.ProcessedEventRepo
	cfg    config.LedgerConfig
	logger *slog.Logger
}

// NewPruner creates a Pruner over the processed-event repo.
func NewPruner(events *db.ProcessedEventRepo, cfg config.LedgerConfig, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{events: events, cfg: cfg, logger: logger}
}

// Run blocks, pruning once per interval until ctx is canceled. Always returns
// nil on shutdown so it composes with errgroup without aborting siblings.
func (p *Pruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pruneOnce(ctx)
		}
	}
}

func (p *Pruner) pruneOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.cfg.EventRetention)
	removed, err := p.events.Prune(ctx, cutoff)
	if err != nil {
		p.logger.ErrorContext(ctx, "event marker prune failed", "error", err)
		return
	}
	if removed >= pruneBatchLogThreshold {
		p.logger.InfoContext(ctx, "pruned event markers", "removed", removed, "cutoff", cutoff)
	} else {
		p.logger.DebugContext(ctx, "pruned event markers", "removed", removed, "cutoff", cutoff)
	}
}
