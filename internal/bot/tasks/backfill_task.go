package tasks

import (
	"context"
	"fmt"
	"time"
)

// newBackfillTask creates a scheduled task that re-walks the guild's
// history. The upsert makes this cheap when nothing is missing; its value is
// catching gaps left by gateway downtime.
func newBackfillTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "backfill")

	return func(ctx context.Context) error {
		guildID := deps.GuildID()
		if guildID == "" {
			log.WarnContext(ctx, "Backfill task skipped, no guild available")
			return nil
		}

		log.InfoContext(ctx, "Starting scheduled backfill", "guild_id", guildID)
		startTime := time.Now()

		if err := deps.Backfiller.Run(ctx, guildID); err != nil {
			return fmt.Errorf("scheduled backfill failed: %w", err)
		}

		log.InfoContext(ctx, "Scheduled backfill finished", "duration", time.Since(startTime))
		return nil
	}
}
