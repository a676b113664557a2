package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/CharlesAD/jeffrey/internal/database"
	"github.com/CharlesAD/jeffrey/internal/history"
)

const testGuild = "guild-1"

type fakeCompleter struct {
	reply string
}

func (f *fakeCompleter) Complete(context.Context, string, []string, string) (string, error) {
	if f.reply == "" {
		return "", errors.New("no canned reply")
	}
	return f.reply, nil
}

func (f *fakeCompleter) ClassifyYesNo(context.Context, string, string) (bool, error) {
	return false, nil
}

func newTestDeps(t *testing.T, completer history.Completer) HandlerDeps {
	t.Helper()

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := database.NewStore(db, log)

	for i := 0; i < 12; i++ {
		msg := database.Message{
			ID:        fmt.Sprintf("m%02d", i),
			GuildID:   testGuild,
			ChannelID: "chan-1",
			AuthorID:  "uid-alice",
			AuthorTag: "alice",
			Content:   fmt.Sprintf("docker note %d", i),
			Timestamp: time.Date(2025, 4, 2, 8, i, 0, 0, time.UTC),
		}
		if _, err := store.UpsertMessage(context.Background(), &msg); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}
	}

	resolver := history.NewResolverAt(func() time.Time {
		return time.Date(2025, 4, 16, 15, 30, 0, 0, time.UTC)
	})
	router := history.NewRouter(resolver, completer, log)
	engine := history.NewEngine(store, nil, log)
	synth := history.NewSynthesizer(completer, log)

	return HandlerDeps{
		Logger:   log,
		History:  history.NewService(router, engine, synth, log),
		Resolver: resolver,
	}
}

func strOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func TestHandleSmartSearchModes(t *testing.T) {
	deps := newTestDeps(t, &fakeCompleter{reply: "canned answer"})
	ctx := context.Background()

	t.Run("last_message", func(t *testing.T) {
		got := deps.handleSmartSearch(ctx, nil, testGuild, []*discordgo.ApplicationCommandInteractionDataOption{
			strOpt("mode", "last_message"),
		})
		if !strings.Contains(got, "The last message was by **alice**") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("last_mentioned", func(t *testing.T) {
		got := deps.handleSmartSearch(ctx, nil, testGuild, []*discordgo.ApplicationCommandInteractionDataOption{
			strOpt("mode", "last_mentioned"),
			strOpt("query", "docker"),
		})
		if !strings.Contains(got, "last mentioned by **alice**") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("last_mentioned requires a query", func(t *testing.T) {
		got := deps.handleSmartSearch(ctx, nil, testGuild, []*discordgo.ApplicationCommandInteractionDataOption{
			strOpt("mode", "last_mentioned"),
		})
		if !strings.Contains(got, "`query`") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("count_messages", func(t *testing.T) {
		got := deps.handleSmartSearch(ctx, nil, testGuild, []*discordgo.ApplicationCommandInteractionDataOption{
			strOpt("mode", "count_messages"),
		})
		if got != "The archive holds **12** message(s)." {
			t.Errorf("got %q", got)
		}
	})

	t.Run("keyword_between is bounded with overflow marker", func(t *testing.T) {
		got := deps.handleSmartSearch(ctx, nil, testGuild, []*discordgo.ApplicationCommandInteractionDataOption{
			strOpt("mode", "keyword_between"),
			strOpt("query", "docker"),
			strOpt("start", "2025-04-01"),
			strOpt("end", "2025-04-10"),
		})
		if !strings.Contains(got, "…and 2 more.") {
			t.Errorf("12 matches should list 10 plus a marker, got %q", got)
		}
	})

	t.Run("summary_between", func(t *testing.T) {
		got := deps.handleSmartSearch(ctx, nil, testGuild, []*discordgo.ApplicationCommandInteractionDataOption{
			strOpt("mode", "summary_between"),
			strOpt("query", "docker"),
			strOpt("start", "2025-04-01"),
			strOpt("end", "2025-04-10"),
		})
		if !strings.HasPrefix(got, "**docker** was mentioned **12** time(s)") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("who_said requires a query", func(t *testing.T) {
		got := deps.handleSmartSearch(ctx, nil, testGuild, []*discordgo.ApplicationCommandInteractionDataOption{
			strOpt("mode", "who_said"),
		})
		if !strings.Contains(got, "`query`") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("ask routes through the question pipeline", func(t *testing.T) {
		got := deps.handleSmartSearch(ctx, nil, testGuild, []*discordgo.ApplicationCommandInteractionDataOption{
			strOpt("mode", "ask"),
			strOpt("query", "good morning"),
		})
		if got != "canned answer" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		got := deps.handleSmartSearch(ctx, nil, testGuild, []*discordgo.ApplicationCommandInteractionDataOption{
			strOpt("mode", "time_travel"),
		})
		if !strings.Contains(got, "Unknown mode") {
			t.Errorf("got %q", got)
		}
	})
}
