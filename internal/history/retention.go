package history

import (
	"context"
	"time"
)

// DefaultPruneInterval is how often Retention.Run prunes.
const DefaultPruneInterval = time.Hour

// Pruner is the part of Repository the retention loop needs.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Checkpointer compacts storage after a prune (database.DB).
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// Logger is the optional logger used by Retention.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Retention deletes rows older than Keep every Interval. It serves the
// history table and, through audit.SQLiteRepository, the audit log.
type Retention struct {
	Name       string // log label, default "history"
	Pruner     Pruner
	Checkpoint Checkpointer // optional
	Keep       time.Duration
	Interval   time.Duration
	Logger     Logger // optional
}

// Run prunes once immediately, then on every tick until ctx is cancelled.
// It always returns nil so it can sit in an errgroup without ending it.
func (r Retention) Run(ctx context.Context) error {
	if r.Pruner == nil || r.Keep <= 0 {
		return nil
	}
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultPruneInterval
	}

	r.pruneOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.pruneOnce(ctx)
		}
	}
}

func (r Retention) pruneOnce(ctx context.Context) {
	n, err := r.Pruner.Prune(ctx, r.Keep)
	if err != nil {
		if r.Logger != nil && ctx.Err() == nil {
			r.Logger.Warn("prune failed", "store", r.name(), "error", err)
		}
		return
	}
	if n == 0 {
		return
	}
	if r.Logger != nil {
		r.Logger.Info("pruned old rows", "store", r.name(), "rows", n, "keep", r.Keep.String())
	}
	if r.Checkpoint != nil {
		if err := r.Checkpoint.Checkpoint(ctx); err != nil && r.Logger != nil {
			r.Logger.Warn("checkpoint after prune failed", "error", err)
		}
	}
}

func (r Retention) name() string {
	if r.Name == "" {
		return "history"
	}
	return r.Name
}
