package discord

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/CharlesAD/jeffrey/internal/config"
	"github.com/CharlesAD/jeffrey/internal/history"
	"github.com/CharlesAD/jeffrey/internal/ingest"
)

// HandlerDeps provides dependencies for Discord event handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Ingestor *ingest.Ingestor
	History  *history.Service
	Resolver *history.Resolver
}

// RegisterHandlers attaches the message and interaction handlers to the
// session. Call before Open so no early events are missed.
func RegisterHandlers(session *discordgo.Session, deps HandlerDeps) {
	session.AddHandler(newMessageCreateHandler(deps))
	session.AddHandler(newInteractionHandler(deps))
}

// newMessageCreateHandler routes live messages: guild messages are archived,
// direct messages are treated as questions about the archive.
func newMessageCreateHandler(deps HandlerDeps) func(*discordgo.Session, *discordgo.MessageCreate) {
	log := deps.Logger.With("handler", "message_create")

	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || m.Author.ID == s.State.User.ID {
			return
		}
		ctx := context.Background()

		if m.GuildID != "" {
			deps.Ingestor.HandleMessage(ctx, eventFromMessage(m.Message))
			return
		}

		// Direct message: answer against the home guild's archive.
		guildID := homeGuildID(s, deps.Config)
		if guildID == "" {
			log.WarnContext(ctx, "DM received but no guild available", "author_id", m.Author.ID)
			return
		}

		reply := deps.History.Answer(ctx, guildID, m.Content)
		if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
			log.ErrorContext(ctx, "Failed to send DM reply", "error", err, "channel_id", m.ChannelID)
		}
	}
}

// homeGuildID prefers the configured guild and falls back to the first guild
// the session is a member of.
func homeGuildID(s *discordgo.Session, cfg *config.Config) string {
	if cfg.Discord.GuildID != "" {
		return cfg.Discord.GuildID
	}
	if len(s.State.Guilds) > 0 {
		return s.State.Guilds[0].ID
	}
	return ""
}

func eventFromMessage(m *discordgo.Message) *ingest.Event {
	return &ingest.Event{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		AuthorTag: m.Author.Username,
		Bot:       m.Author.Bot,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}
