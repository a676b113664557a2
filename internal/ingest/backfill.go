package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CharlesAD/jeffrey/internal/database"
)

// ErrForbidden reports a channel the bot is not allowed to read. Fetcher
// implementations wrap their platform's permission error with it.
var ErrForbidden = errors.New("channel access forbidden")

// HistoryFetcher pages backwards through a channel's history. It returns up
// to limit messages strictly older than beforeID, newest first; an empty
// beforeID starts from the present. An empty slice means the channel is
// exhausted.
type HistoryFetcher interface {
	FetchPage(ctx context.Context, channelID, beforeID string, limit int) ([]Event, error)
	TextChannelIDs(guildID string) ([]string, error)
}

// Backfiller walks every readable text channel of a guild backwards through
// time and archives what it finds. Runs are resumable: the upsert makes
// already-archived pages no-ops, so a crashed or repeated run converges on
// the same archive.
type Backfiller struct {
	store     database.Store
	fetcher   HistoryFetcher
	pageSize  int
	pageDelay time.Duration
	logger    *slog.Logger
}

// NewBackfiller creates a Backfiller. pageSize is clamped to the platform
// maximum of 100; pageDelay spaces page fetches to stay inside rate limits.
func NewBackfiller(store database.Store, fetcher HistoryFetcher, pageSize int, pageDelay time.Duration, logger *slog.Logger) *Backfiller {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &Backfiller{
		store:     store,
		fetcher:   fetcher,
		pageSize:  pageSize,
		pageDelay: pageDelay,
		logger:    logger.With("component", "backfill"),
	}
}

// Run backfills every text channel in guildID. Channels the bot cannot read
// are skipped with a warning; any other error aborts the run so a systemic
// failure is not retried channel by channel.
func (b *Backfiller) Run(ctx context.Context, guildID string) error {
	channels, err := b.fetcher.TextChannelIDs(guildID)
	if err != nil {
		return fmt.Errorf("failed to list text channels: %w", err)
	}

	var total int
	for _, channelID := range channels {
		n, err := b.backfillChannel(ctx, channelID)
		if err != nil {
			if errors.Is(err, ErrForbidden) {
				b.logger.WarnContext(ctx, "skipping unreadable channel", "channel_id", channelID)
				continue
			}
			return fmt.Errorf("backfill of channel %s failed: %w", channelID, err)
		}
		total += n
	}

	b.logger.InfoContext(ctx, "backfill complete", "guild_id", guildID, "channels", len(channels), "new_messages", total)
	return nil
}

// backfillChannel pages backwards from the present until the channel is
// exhausted, archiving as it goes. The cursor after each page is the oldest
// message ID seen, which is the last element of a newest-first page.
func (b *Backfiller) backfillChannel(ctx context.Context, channelID string) (int, error) {
	var (
		beforeID string
		inserted int
	)

	for {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}

		page, err := b.fetcher.FetchPage(ctx, channelID, beforeID, b.pageSize)
		if err != nil {
			return inserted, err
		}
		if len(page) == 0 {
			return inserted, nil
		}

		for _, ev := range page {
			if ev.Bot {
				continue
			}
			ok, err := b.store.UpsertMessage(ctx, &database.Message{
				ID:        ev.ID,
				GuildID:   ev.GuildID,
				ChannelID: ev.ChannelID,
				AuthorID:  ev.AuthorID,
				AuthorTag: ev.AuthorTag,
				Content:   ev.Content,
				Timestamp: ev.Timestamp.UTC(),
			})
			if err != nil {
				return inserted, fmt.Errorf("failed to archive message %s: %w", ev.ID, err)
			}
			if ok {
				inserted++
			}
		}

		beforeID = page[len(page)-1].ID

		if b.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return inserted, ctx.Err()
			case <-time.After(b.pageDelay):
			}
		}
	}
}
