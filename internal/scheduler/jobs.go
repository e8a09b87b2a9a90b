package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/healthwatch/internal/monitor"
)

// CycleRunner runs one monitoring cycle
type CycleRunner interface {
	Tick(ctx context.Context) (monitor.CycleResult, error)
}

// HistoryPruner deletes history older than a cutoff
type HistoryPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Reloader re-reads settings from their store
type Reloader interface {
	Reload(ctx context.Context) error
}

// CycleJob runs a monitoring cycle. A cycle that did not complete is not a job failure;
// the coordinator accounts for it.
func CycleJob(runner CycleRunner, logger *zap.Logger) Job {
	return func(ctx context.Context) error {
		result, err := runner.Tick(ctx)
		if err != nil {
			return fmt.Errorf("health cycle: %w", err)
		}
		if result == monitor.CycleSkipped {
			logger.Info("Health cycle skipped, previous cycle still running")
		}
		return nil
	}
}

// PruneJob deletes history older than retention
func PruneJob(pruner HistoryPruner, retention time.Duration, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		if _, err := pruner.DeleteBefore(ctx, now().Add(-retention)); err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
		return nil
	}
}

// ReloadJob reloads settings
func ReloadJob(reloader Reloader) Job {
	return func(ctx context.Context) error {
		return reloader.Reload(ctx)
	}
}
