package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/CharlesAD/jeffrey/internal/database"
)

const testGuild = "guild-1"

type mapChannels map[string]string

func (m mapChannels) ResolveChannel(_, name string) (string, bool) {
	id, ok := m[name]
	return id, ok
}

func newTestEngine(t *testing.T, channels ChannelResolver) (*Engine, database.Store) {
	t.Helper()

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	store := database.NewStore(db, discard())
	return NewEngine(store, channels, discard()), store
}

func archive(t *testing.T, store database.Store, msgs ...database.Message) {
	t.Helper()
	for i := range msgs {
		if _, err := store.UpsertMessage(context.Background(), &msgs[i]); err != nil {
			t.Fatalf("failed to archive %s: %v", msgs[i].ID, err)
		}
	}
}

func guildMsg(id, channelID, author, content string, at time.Time) database.Message {
	return database.Message{
		ID:        id,
		GuildID:   testGuild,
		ChannelID: channelID,
		AuthorID:  "uid-" + author,
		AuthorTag: author,
		Content:   content,
		Timestamp: at,
	}
}

func april(day, hour, minute int) time.Time {
	return time.Date(2025, 4, day, hour, minute, 0, 0, time.UTC)
}

func TestRetrieveKeywordScanIsBounded(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	ctx := context.Background()

	var msgs []database.Message
	for i := 0; i < 23; i++ {
		msgs = append(msgs, guildMsg(
			fmt.Sprintf("m%02d", i), "chan-1", "alice",
			fmt.Sprintf("note %d mentions docker", i),
			april(2, 8, i),
		))
	}
	msgs = append(msgs, guildMsg("noise", "chan-1", "bob", "nothing relevant", april(2, 9, 0)))
	archive(t, store, msgs...)

	q := &Query{
		Kind:  KindMessagesAboutTerm,
		Term:  "docker",
		Range: &database.TimeRange{Start: april(1, 0, 0), End: april(3, 0, 0)},
	}
	rs, err := engine.Retrieve(ctx, testGuild, q)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	if len(rs.Rows) != 10 {
		t.Errorf("expected 10 rows, got %d", len(rs.Rows))
	}
	if rs.More != 13 {
		t.Errorf("expected 13 further matches, got %d", rs.More)
	}
	if rs.Rows[0].ID != "m00" {
		t.Errorf("rows should be ascending from the oldest match, got %s first", rs.Rows[0].ID)
	}
}

func TestRetrieveWhoAskedInWindow(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	ctx := context.Background()

	archive(t, store,
		guildMsg("m1", "chan-1", "alice", "how do we handle deployment?", april(1, 9, 0)),
		guildMsg("m2", "chan-1", "bob", "deployment is broken again", april(5, 9, 0)),
	)

	q := &Query{
		Kind:  KindWhoAsked,
		Term:  "deployment",
		Range: &database.TimeRange{Start: april(4, 0, 0), End: april(6, 0, 0)},
	}
	rs, err := engine.Retrieve(ctx, testGuild, q)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(rs.Rows) != 1 || rs.Rows[0].ID != "m2" {
		t.Errorf("expected the first match inside the window, got %+v", rs.Rows)
	}
}

func TestRetrieveAnswerLookup(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	ctx := context.Background()

	archive(t, store,
		guildMsg("m1", "chan-1", "alice", "does anyone understand the caching layer?", april(1, 9, 0)),
		guildMsg("m2", "chan-1", "alice", "anyone?", april(1, 9, 5)),
		guildMsg("m3", "chan-1", "bob", "it's write-through, check cache.go", april(1, 9, 10)),
	)

	rs, err := engine.Retrieve(ctx, testGuild, &Query{Kind: KindAnswerLookup, Term: "caching"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(rs.Rows) != 1 || rs.Rows[0].ID != "m1" {
		t.Fatalf("expected the question row, got %+v", rs.Rows)
	}
	if rs.Answer == nil || rs.Answer.ID != "m3" {
		t.Errorf("expected bob's reply as the answer, got %+v", rs.Answer)
	}
}

func TestRetrieveChannelMessages(t *testing.T) {
	channels := mapChannels{"general": "chan-general"}
	engine, store := newTestEngine(t, channels)
	ctx := context.Background()

	archive(t, store,
		guildMsg("m1", "chan-general", "alice", "general chatter", april(2, 9, 0)),
		guildMsg("m2", "chan-other", "bob", "elsewhere", april(2, 10, 0)),
	)

	rng := &database.TimeRange{Start: april(1, 0, 0), End: april(3, 0, 0)}

	rs, err := engine.Retrieve(ctx, testGuild, &Query{Kind: KindChannelMessages, Channel: "general", Range: rng})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(rs.Rows) != 1 || rs.Rows[0].ID != "m1" {
		t.Errorf("expected only the general-channel message, got %+v", rs.Rows)
	}

	_, err = engine.Retrieve(ctx, testGuild, &Query{Kind: KindChannelMessages, Channel: "nope", Range: rng})
	if !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestRetrieveSummaryOfTerm(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	ctx := context.Background()

	archive(t, store,
		guildMsg("m1", "chan-1", "alice", "arrays are slow here", april(3, 14, 0)),
		guildMsg("m2", "chan-1", "bob", "switched to arrays anyway", april(8, 9, 30)),
	)

	q := &Query{
		Kind:  KindSummaryOfTerm,
		Term:  "arrays",
		Range: &database.TimeRange{Start: april(1, 0, 0), End: april(10, 23, 59)},
	}
	rs, err := engine.Retrieve(ctx, testGuild, q)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if rs.Count != 2 {
		t.Errorf("expected 2 mentions, got %d", rs.Count)
	}
	if rs.First != "2025-04-03 14:00" || rs.Last != "2025-04-08 09:30" {
		t.Errorf("unexpected first/last: %q / %q", rs.First, rs.Last)
	}
	if len(rs.Rows) != 2 {
		t.Errorf("expected both rows for context, got %d", len(rs.Rows))
	}
}

func TestRetrieveFreeformFetchesNothing(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	rs, err := engine.Retrieve(context.Background(), testGuild, &Query{Kind: KindFreeform, Text: "hi"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(rs.Rows) != 0 {
		t.Errorf("freeform must not hit the archive, got %d rows", len(rs.Rows))
	}
}
