package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/CharlesAD/jeffrey/internal/database"
)

const testGuild = "guild-1"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, discard())
}

func event(id, author, content string, at time.Time) Event {
	return Event{
		ID:        id,
		GuildID:   testGuild,
		ChannelID: "chan-1",
		AuthorID:  "uid-" + author,
		AuthorTag: author,
		Content:   content,
		Timestamp: at,
	}
}

func TestHandleMessageSkipsBots(t *testing.T) {
	store := newTestStore(t)
	ingestor := NewIngestor(store, discard())
	ctx := context.Background()

	human := event("m1", "alice", "hello", time.Now().UTC())
	bot := event("m2", "jeffrey", "I am a bot", time.Now().UTC())
	bot.Bot = true

	ingestor.HandleMessage(ctx, &human)
	ingestor.HandleMessage(ctx, &bot)

	count, err := store.CountMessages(ctx, testGuild)
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected only the human message archived, got %d", count)
	}
}

func TestHandleMessageIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ingestor := NewIngestor(store, discard())
	ctx := context.Background()

	ev := event("m1", "alice", "hello", time.Now().UTC())
	ingestor.HandleMessage(ctx, &ev)
	ingestor.HandleMessage(ctx, &ev)

	count, err := store.CountMessages(ctx, testGuild)
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 1 {
		t.Errorf("replayed event must not duplicate, got %d rows", count)
	}
}

// fakeFetcher serves pre-built channel histories, newest first, the way the
// platform API pages them.
type fakeFetcher struct {
	channels map[string][]Event
	errs     map[string]error
	fetches  int
}

func (f *fakeFetcher) TextChannelIDs(string) ([]string, error) {
	var ids []string
	for id := range f.channels {
		ids = append(ids, id)
	}
	for id := range f.errs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeFetcher) FetchPage(_ context.Context, channelID, beforeID string, limit int) ([]Event, error) {
	if err, ok := f.errs[channelID]; ok {
		return nil, err
	}
	f.fetches++

	history := f.channels[channelID]
	start := 0
	if beforeID != "" {
		for i, ev := range history {
			if ev.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(history) {
		end = len(history)
	}
	return history[start:end], nil
}

func channelHistory(channelID string, n int) []Event {
	// Newest first, matching the paging API.
	events := make([]Event, 0, n)
	base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	for i := n - 1; i >= 0; i-- {
		ev := event(fmt.Sprintf("%s-%03d", channelID, i), "alice", fmt.Sprintf("message %d", i), base.Add(time.Duration(i)*time.Minute))
		ev.ChannelID = channelID
		events = append(events, ev)
	}
	return events
}

func TestBackfillPagesToExhaustion(t *testing.T) {
	store := newTestStore(t)
	fetcher := &fakeFetcher{channels: map[string][]Event{
		"chan-1": channelHistory("chan-1", 25),
	}}
	backfiller := NewBackfiller(store, fetcher, 10, 0, discard())

	if err := backfiller.Run(context.Background(), testGuild); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	count, err := store.CountMessages(context.Background(), testGuild)
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 25 {
		t.Errorf("expected all 25 messages archived, got %d", count)
	}
	// 3 pages of data plus the empty page that ends the walk.
	if fetcher.fetches != 4 {
		t.Errorf("expected 4 page fetches, got %d", fetcher.fetches)
	}
}

func TestBackfillRerunIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	fetcher := &fakeFetcher{channels: map[string][]Event{
		"chan-1": channelHistory("chan-1", 7),
	}}
	backfiller := NewBackfiller(store, fetcher, 5, 0, discard())
	ctx := context.Background()

	if err := backfiller.Run(ctx, testGuild); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := backfiller.Run(ctx, testGuild); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	count, err := store.CountMessages(ctx, testGuild)
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 7 {
		t.Errorf("re-run must converge on the same archive, got %d rows", count)
	}
}

func TestBackfillSkipsForbiddenChannels(t *testing.T) {
	store := newTestStore(t)
	fetcher := &fakeFetcher{
		channels: map[string][]Event{
			"chan-open": channelHistory("chan-open", 3),
		},
		errs: map[string]error{
			"chan-locked": fmt.Errorf("%w: chan-locked", ErrForbidden),
		},
	}
	backfiller := NewBackfiller(store, fetcher, 100, 0, discard())

	if err := backfiller.Run(context.Background(), testGuild); err != nil {
		t.Fatalf("forbidden channel must not abort the run: %v", err)
	}

	count, err := store.CountMessages(context.Background(), testGuild)
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected the open channel archived, got %d rows", count)
	}
}

func TestBackfillAbortsOnOtherErrors(t *testing.T) {
	store := newTestStore(t)
	wantErr := errors.New("gateway exploded")
	fetcher := &fakeFetcher{
		errs: map[string]error{"chan-1": wantErr},
	}
	backfiller := NewBackfiller(store, fetcher, 100, 0, discard())

	err := backfiller.Run(context.Background(), testGuild)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected the fetch error to surface, got %v", err)
	}
}

func TestBackfillSkipsBotMessages(t *testing.T) {
	store := newTestStore(t)
	history := channelHistory("chan-1", 4)
	history[1].Bot = true
	fetcher := &fakeFetcher{channels: map[string][]Event{"chan-1": history}}
	backfiller := NewBackfiller(store, fetcher, 100, 0, discard())

	if err := backfiller.Run(context.Background(), testGuild); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	count, err := store.CountMessages(context.Background(), testGuild)
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 3 {
		t.Errorf("bot-authored history must be skipped, got %d rows", count)
	}
}

func TestBackfillHonoursCancellation(t *testing.T) {
	store := newTestStore(t)
	fetcher := &fakeFetcher{channels: map[string][]Event{
		"chan-1": channelHistory("chan-1", 50),
	}}
	backfiller := NewBackfiller(store, fetcher, 10, 0, discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := backfiller.Run(ctx, testGuild)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
