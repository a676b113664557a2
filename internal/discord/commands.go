package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/CharlesAD/jeffrey/internal/database"
	"github.com/CharlesAD/jeffrey/internal/history"
)

var smartSearchCommand = &discordgo.ApplicationCommand{
	Name:        "smart_search",
	Description: "Search the chat archive",
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "mode",
			Description: "What to look for",
			Required:    true,
			Choices: []*discordgo.ApplicationCommandOptionChoice{
				{Name: "Last message", Value: "last_message"},
				{Name: "When a term was last mentioned", Value: "last_mentioned"},
				{Name: "Who said a phrase", Value: "who_said"},
				{Name: "Keyword in a period", Value: "keyword"},
				{Name: "Keyword between two dates", Value: "keyword_between"},
				{Name: "Topic summary between two dates", Value: "summary_between"},
				{Name: "Messages by a user on a date", Value: "by_user_on_date"},
				{Name: "Message count by a user", Value: "count_by_user"},
				{Name: "Channel activity in a period", Value: "channel_period"},
				{Name: "Total archived messages", Value: "count_messages"},
				{Name: "Free question", Value: "ask"},
			},
		},
		{Type: discordgo.ApplicationCommandOptionString, Name: "query", Description: "Keyword, phrase or question"},
		{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to filter by"},
		{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Channel to filter by"},
		{Type: discordgo.ApplicationCommandOptionString, Name: "date", Description: "Date, YYYY-MM-DD"},
		{Type: discordgo.ApplicationCommandOptionString, Name: "start", Description: "Range start, YYYY-MM-DD"},
		{Type: discordgo.ApplicationCommandOptionString, Name: "end", Description: "Range end, YYYY-MM-DD"},
		{Type: discordgo.ApplicationCommandOptionString, Name: "period", Description: "Period such as yesterday or last week"},
		{Type: discordgo.ApplicationCommandOptionInteger, Name: "hours", Description: "Trailing window in hours"},
	},
}

// RegisterCommands creates the slash commands. guildID may be empty for
// global registration, which Discord propagates slowly; a guild-scoped
// command is live immediately.
func RegisterCommands(session *discordgo.Session, guildID string, log *slog.Logger) error {
	_, err := session.ApplicationCommandCreate(session.State.User.ID, guildID, smartSearchCommand)
	if err != nil {
		return fmt.Errorf("failed to register smart_search command: %w", err)
	}
	log.Info("Slash commands registered", "guild_id", guildID)
	return nil
}

func newInteractionHandler(deps HandlerDeps) func(*discordgo.Session, *discordgo.InteractionCreate) {
	log := deps.Logger.With("handler", "smart_search")

	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		data := i.ApplicationCommandData()
		if data.Name != smartSearchCommand.Name {
			return
		}
		ctx := context.Background()

		// Retrieval can take a moment, so acknowledge first and edit the
		// response once the answer is ready.
		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		})
		if err != nil {
			log.ErrorContext(ctx, "Failed to defer interaction response", "error", err)
			return
		}

		guildID := i.GuildID
		if guildID == "" {
			guildID = homeGuildID(s, deps.Config)
		}

		content := deps.handleSmartSearch(ctx, s, guildID, data.Options)
		if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
			log.ErrorContext(ctx, "Failed to edit interaction response", "error", err)
		}
	}
}

// handleSmartSearch turns the typed slash options into a query descriptor
// and runs it. The free "ask" mode goes through the natural-language router
// instead.
func (deps HandlerDeps) handleSmartSearch(ctx context.Context, s *discordgo.Session, guildID string, options []*discordgo.ApplicationCommandInteractionDataOption) string {
	opts := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		opts[opt.Name] = opt
	}

	strOpt := func(name string) string {
		if opt, ok := opts[name]; ok {
			return strings.TrimSpace(opt.StringValue())
		}
		return ""
	}
	userOpt := func() string {
		if opt, ok := opts["user"]; ok {
			if u := opt.UserValue(s); u != nil {
				return u.Username
			}
		}
		return ""
	}

	mode := strOpt("mode")
	query := strOpt("query")

	switch mode {
	case "last_message":
		return deps.History.AnswerQuery(ctx, guildID, &history.Query{Kind: history.KindLastMessage})

	case "last_mentioned":
		if query == "" {
			return "Please provide a term with the `query` option."
		}
		return deps.History.AnswerQuery(ctx, guildID, &history.Query{Kind: history.KindLastMentioned, Term: query})

	case "who_said":
		if query == "" {
			return "Please provide a phrase to search for with the `query` option."
		}
		q := &history.Query{Kind: history.KindWhoSaid, Term: query, Text: "who said " + query}
		return deps.History.AnswerQuery(ctx, guildID, q)

	case "keyword":
		if query == "" {
			return "Please provide a keyword with the `query` option."
		}
		period := strOpt("period")
		if period == "" {
			period = "last week"
		}
		rng := deps.Resolver.Resolve(period)
		if rng == nil {
			return "Sorry, I couldn't recognise that time period."
		}
		return deps.History.AnswerQuery(ctx, guildID, &history.Query{Kind: history.KindMessagesAboutTerm, Term: query, Range: rng})

	case "keyword_between":
		rng := betweenRange(deps, strOpt("start"), strOpt("end"))
		if rng == nil {
			return "Please provide `start` and `end` dates as YYYY-MM-DD."
		}
		if query == "" {
			return deps.History.AnswerQuery(ctx, guildID, &history.Query{Kind: history.KindMessagesInRange, Range: rng})
		}
		return deps.History.AnswerQuery(ctx, guildID, &history.Query{Kind: history.KindMessagesAboutTerm, Term: query, Range: rng})

	case "summary_between":
		rng := betweenRange(deps, strOpt("start"), strOpt("end"))
		if rng == nil {
			return "Please provide `start` and `end` dates as YYYY-MM-DD."
		}
		if query == "" {
			return "Please provide a topic with the `query` option."
		}
		return deps.History.AnswerQuery(ctx, guildID, &history.Query{Kind: history.KindSummaryOfTerm, Term: query, Range: rng})

	case "by_user_on_date":
		user := userOpt()
		rng := deps.Resolver.Day(strOpt("date"))
		if user == "" || rng == nil {
			return "Please provide `user` and a `date` as YYYY-MM-DD."
		}
		return deps.History.AnswerQuery(ctx, guildID, &history.Query{Kind: history.KindMessagesByUserOnDate, User: user, Range: rng})

	case "count_by_user":
		user := userOpt()
		if user == "" {
			return "Please provide a `user`."
		}
		hours := 24
		if opt, ok := opts["hours"]; ok {
			if v := int(opt.IntValue()); v > 0 {
				hours = v
			}
		}
		return deps.History.AnswerQuery(ctx, guildID, &history.Query{Kind: history.KindCountByUser, User: user, Range: deps.Resolver.LastHours(hours)})

	case "channel_period":
		opt, ok := opts["channel"]
		if !ok {
			return "Please provide a `channel`."
		}
		ch := opt.ChannelValue(s)
		if ch == nil {
			return "Please provide a `channel`."
		}
		period := strOpt("period")
		if period == "" {
			period = "yesterday"
		}
		rng := deps.Resolver.Resolve(period)
		if rng == nil {
			return "Sorry, I couldn't recognise that time period."
		}
		return deps.History.AnswerQuery(ctx, guildID, &history.Query{Kind: history.KindChannelMessages, Channel: ch.Name, Range: rng})

	case "count_messages":
		return deps.History.AnswerQuery(ctx, guildID, &history.Query{Kind: history.KindMessageCount})

	case "ask":
		if query == "" {
			return "Please provide a question with the `query` option."
		}
		return deps.History.Answer(ctx, guildID, query)

	default:
		return fmt.Sprintf("Unknown mode %q.", mode)
	}
}

func betweenRange(deps HandlerDeps, start, end string) *database.TimeRange {
	if start == "" || end == "" {
		return nil
	}
	return deps.Resolver.Resolve(fmt.Sprintf("between %s and %s", start, end))
}
