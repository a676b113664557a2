// Package tasks implements the scheduled maintenance tasks of the archive
// bot: periodic backfill, retention pruning, and SQLite maintenance.
package tasks

import (
	"log/slog"

	"github.com/CharlesAD/jeffrey/internal/config"
	"github.com/CharlesAD/jeffrey/internal/database"
	"github.com/CharlesAD/jeffrey/internal/ingest"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger     *slog.Logger
	Store      database.Store
	Backfiller *ingest.Backfiller
	Config     *config.Config
	GuildID    func() string
}
