package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/CharlesAD/jeffrey/internal/database"
)

// Row bounds per query shape. Single-row lookups always fetch one row;
// keyword scans over a period fetch up to termScanLimit and report how many
// further rows matched.
const (
	listLimit     = 5
	termScanLimit = 10
)

// ErrUnknownChannel reports a channel name that does not exist in the guild.
var ErrUnknownChannel = errors.New("unknown channel")

// ChannelResolver maps a human channel name to its platform ID.
type ChannelResolver interface {
	ResolveChannel(guildID, name string) (string, bool)
}

// ResultSet is the bounded outcome of a retrieval. Rows is capped by the
// query shape; More counts matching rows beyond the cap. Answer carries the
// follow-up row for answer lookups. Count, First and Last are only set for
// counting and summary queries.
type ResultSet struct {
	Rows   []database.Message
	Answer *database.Message
	Count  int
	First  string
	Last   string
	More   int
}

// Engine executes a Query against the archive and returns a bounded
// ResultSet. It never synthesises text; that is the Synthesizer's job.
type Engine struct {
	store    database.Store
	channels ChannelResolver
	logger   *slog.Logger
}

// NewEngine creates an Engine over the given store. channels may be nil when
// channel-scoped questions are not reachable, such as in tests.
func NewEngine(store database.Store, channels ChannelResolver, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		channels: channels,
		logger:   logger.With("component", "history_engine"),
	}
}

// Retrieve runs the archive operation q describes within guildID.
func (e *Engine) Retrieve(ctx context.Context, guildID string, q *Query) (*ResultSet, error) {
	rs := &ResultSet{}

	switch q.Kind {
	case KindLastMessage:
		msg, err := e.store.LastMessage(ctx, guildID)
		if err != nil {
			return nil, err
		}
		appendRow(rs, msg)

	case KindWhoAsked:
		msg, err := e.store.FirstMatch(ctx, guildID, q.Term, q.Range)
		if err != nil {
			return nil, err
		}
		appendRow(rs, msg)

	case KindLastMentioned, KindWhoSaid:
		msg, err := e.store.LastMention(ctx, guildID, q.Term)
		if err != nil {
			return nil, err
		}
		appendRow(rs, msg)

	case KindAnswerLookup:
		question, err := e.store.FirstMatch(ctx, guildID, q.Term, nil)
		if err != nil {
			return nil, err
		}
		if question == nil {
			return rs, nil
		}
		appendRow(rs, question)
		answer, err := e.store.NextInChannelAfter(ctx, guildID, question.ChannelID, question.Timestamp, question.AuthorID)
		if err != nil {
			return nil, err
		}
		rs.Answer = answer

	case KindLastQuestionBy:
		msg, err := e.store.LastQuestionByUser(ctx, guildID, q.User)
		if err != nil {
			return nil, err
		}
		appendRow(rs, msg)

	case KindMessagesByUserOnDate:
		rows, err := e.store.MessagesByUser(ctx, guildID, q.User, q.Range, listLimit)
		if err != nil {
			return nil, err
		}
		rs.Rows = rows

	case KindMessagesInRange:
		rows, err := e.store.MessagesInRange(ctx, guildID, q.Range, listLimit)
		if err != nil {
			return nil, err
		}
		rs.Rows = rows

	case KindMessagesAboutTerm:
		rows, err := e.store.SearchByTerm(ctx, guildID, q.Term, q.Range, termScanLimit)
		if err != nil {
			return nil, err
		}
		rs.Rows = rows
		summary, err := e.store.SummarizeTerm(ctx, guildID, q.Term, q.Range)
		if err != nil {
			return nil, err
		}
		if extra := summary.Count - len(rows); extra > 0 {
			rs.More = extra
		}

	case KindSummaryOfTerm:
		summary, err := e.store.SummarizeTerm(ctx, guildID, q.Term, q.Range)
		if err != nil {
			return nil, err
		}
		rs.Count = summary.Count
		if summary.Count > 0 {
			rs.First = summary.First.Format(timestampLayout)
			rs.Last = summary.Last.Format(timestampLayout)
			rows, err := e.store.SearchByTerm(ctx, guildID, q.Term, q.Range, termScanLimit)
			if err != nil {
				return nil, err
			}
			rs.Rows = rows
		}

	case KindCountByUser:
		count, err := e.store.CountByUser(ctx, guildID, q.User, q.Range)
		if err != nil {
			return nil, err
		}
		rs.Count = count

	case KindChannelMessages:
		if e.channels == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, q.Channel)
		}
		channelID, ok := e.channels.ResolveChannel(guildID, q.Channel)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, q.Channel)
		}
		rows, err := e.store.MessagesInChannel(ctx, guildID, channelID, q.Range, listLimit)
		if err != nil {
			return nil, err
		}
		rs.Rows = rows

	case KindLastSaidBy:
		msg, err := e.store.LastMessageByUser(ctx, guildID, q.User)
		if err != nil {
			return nil, err
		}
		appendRow(rs, msg)

	case KindMessageCount:
		count, err := e.store.CountMessages(ctx, guildID)
		if err != nil {
			return nil, err
		}
		rs.Count = count

	case KindGenericSearch:
		rows, err := e.store.RecentByTerm(ctx, guildID, q.Term, listLimit)
		if err != nil {
			return nil, err
		}
		rs.Rows = rows

	case KindFreeform:
		// Nothing to retrieve.

	default:
		return nil, fmt.Errorf("unhandled query kind %d", q.Kind)
	}

	e.logger.DebugContext(ctx, "retrieval complete",
		"kind", q.Kind.String(), "rows", len(rs.Rows), "more", rs.More)
	return rs, nil
}

func appendRow(rs *ResultSet, msg *database.Message) {
	if msg != nil {
		rs.Rows = append(rs.Rows, *msg)
	}
}
