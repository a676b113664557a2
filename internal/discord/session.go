// Package discord implements the Discord surface of the archive bot: the
// gateway session, message event handling, the /smart_search slash command,
// and the history fetcher used for backfill.
package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// NewSession creates a configured gateway session. The message content
// intent must also be enabled in the developer portal or every message
// arrives with empty content.
func NewSession(token string, log *slog.Logger) (*discordgo.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("discord token is required")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	session.StateEnabled = true
	session.State.MaxMessageCount = 0

	log.With("component", "discord_session").Info("Discord session configured")
	return session, nil
}
