// Package ingest persists chat messages into the archive, from live
// gateway events and from paged historical backfill. Both paths converge on
// the same idempotent upsert, so replays and overlapping fetches are safe.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/CharlesAD/jeffrey/internal/database"
)

// Event is a platform-independent chat message ready for archiving.
type Event struct {
	ID        string
	GuildID   string
	ChannelID string
	AuthorID  string
	AuthorTag string
	Bot       bool
	Content   string
	Timestamp time.Time
}

// Ingestor archives live message events.
type Ingestor struct {
	store  database.Store
	logger *slog.Logger
}

// NewIngestor creates an Ingestor over the given store.
func NewIngestor(store database.Store, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:  store,
		logger: logger.With("component", "ingest"),
	}
}

// HandleMessage archives a single live event. Bot-authored messages are
// skipped so the archive never contains the assistant's own replies.
// Failures are logged and swallowed; a storage hiccup must not take down the
// event loop.
func (i *Ingestor) HandleMessage(ctx context.Context, ev *Event) {
	if ev.Bot {
		return
	}

	inserted, err := i.store.UpsertMessage(ctx, &database.Message{
		ID:        ev.ID,
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		AuthorID:  ev.AuthorID,
		AuthorTag: ev.AuthorTag,
		Content:   ev.Content,
		Timestamp: ev.Timestamp.UTC(),
	})
	if err != nil {
		i.logger.ErrorContext(ctx, "failed to archive message", "message_id", ev.ID, "error", err)
		return
	}
	if !inserted {
		i.logger.DebugContext(ctx, "message already archived", "message_id", ev.ID)
	}
}
