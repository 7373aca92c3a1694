package audit

import (
	"context"
	"log/slog"
	"time"
)

// Deletes audit records older than a cutoff
type Pruner interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// RunRetention prunes records older than retention every interval until ctx is cancelled
func RunRetention(ctx context.Context, pruner Pruner, retention, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prune := func() {
		cutoff := time.Now().Add(-retention)
		deleted, err := pruner.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			logger.Error("audit retention failed", slog.Any("error", err))
			return
		}
		if deleted > 0 {
			logger.Info("pruned audit records", slog.Int64("deleted", deleted), slog.Time("before", cutoff))
		}
	}

	prune()
	for {
		select {
		case <-ticker.C:
			prune()
		case <-ctx.Done():
			return nil
		}
	}
}
