package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/CharlesAD/jeffrey/internal/ingest"
)

// Fetcher adapts the Discord REST API to the backfill interfaces.
type Fetcher struct {
	session *discordgo.Session
}

// NewFetcher creates a Fetcher over an open session.
func NewFetcher(session *discordgo.Session) *Fetcher {
	return &Fetcher{session: session}
}

// FetchPage returns up to limit messages older than beforeID, newest first.
// Channels the bot cannot read yield ErrForbidden so the backfill can skip
// them instead of aborting.
func (f *Fetcher) FetchPage(ctx context.Context, channelID, beforeID string, limit int) ([]ingest.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages, err := f.session.ChannelMessages(channelID, limit, beforeID, "", "")
	if err != nil {
		if isForbidden(err) {
			return nil, fmt.Errorf("%w: channel %s", ingest.ErrForbidden, channelID)
		}
		return nil, fmt.Errorf("failed to fetch messages from channel %s: %w", channelID, err)
	}

	events := make([]ingest.Event, 0, len(messages))
	for _, m := range messages {
		if m.Author == nil {
			continue
		}
		events = append(events, *eventFromMessage(m))
	}
	return events, nil
}

// TextChannelIDs lists the guild's text channels.
func (f *Fetcher) TextChannelIDs(guildID string) ([]string, error) {
	channels, err := f.session.GuildChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels of guild %s: %w", guildID, err)
	}

	var ids []string
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText {
			ids = append(ids, ch.ID)
		}
	}
	return ids, nil
}

// ResolveChannel maps a channel name to its ID, trying gateway state first
// and falling back to the REST API.
func (f *Fetcher) ResolveChannel(guildID, name string) (string, bool) {
	name = strings.TrimPrefix(strings.ToLower(name), "#")

	if guild, err := f.session.State.Guild(guildID); err == nil {
		for _, ch := range guild.Channels {
			if ch.Type == discordgo.ChannelTypeGuildText && strings.ToLower(ch.Name) == name {
				return ch.ID, true
			}
		}
	}

	channels, err := f.session.GuildChannels(guildID)
	if err != nil {
		return "", false
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && strings.ToLower(ch.Name) == name {
			return ch.ID, true
		}
	}
	return "", false
}

func isForbidden(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
			return true
		}
		if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeMissingAccess {
			return true
		}
	}
	return false
}
