package tasks

import (
	"context"
	"fmt"
	"time"
)

// newRetentionTask creates a scheduled task that prunes messages older than
// the configured retention window. A retention of zero days means the
// archive is kept forever and the task is a no-op.
func newRetentionTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "retention")

	return func(ctx context.Context) error {
		days := deps.Config.Database.RetentionDays
		if days <= 0 {
			log.DebugContext(ctx, "Retention disabled, nothing to prune")
			return nil
		}

		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		deleted, err := deps.Store.DeleteMessagesBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("retention prune failed: %w", err)
		}

		log.InfoContext(ctx, "Retention prune finished", "cutoff", cutoff.Format(time.RFC3339), "deleted", deleted)
		return nil
	}
}
