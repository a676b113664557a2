package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CharlesAD/jeffrey/internal/database"
)

const timestampLayout = "2006-01-02 15:04"

const (
	ragSystemPrompt = "You are Jeffrey, an assistant who answers questions using the chat history excerpts provided. " +
		"Answer concisely and quote the history where helpful. If the excerpts do not answer the question, say you couldn't find anything relevant."
	chatSystemPrompt = "You are Jeffrey, a friendly and concise chat assistant."

	apologyReply = "Sorry, something went wrong while generating my answer."
)

// Synthesizer renders a ResultSet into a user-visible reply. Most query
// kinds use fixed templates; open-ended kinds ground a model completion on
// the retrieved rows. Every path ends in a string, completion failures
// included, so callers never surface a raw error to the user.
type Synthesizer struct {
	completer Completer
	logger    *slog.Logger
}

// NewSynthesizer creates a Synthesizer. completer may be nil, in which case
// open-ended questions get a fallback listing of the retrieved rows.
func NewSynthesizer(completer Completer, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		completer: completer,
		logger:    logger.With("component", "history_synthesizer"),
	}
}

// Synthesize produces the reply for q given its retrieval outcome.
func (s *Synthesizer) Synthesize(ctx context.Context, q *Query, rs *ResultSet) string {
	switch q.Kind {
	case KindLastMessage:
		if len(rs.Rows) == 0 {
			return "No messages recorded yet."
		}
		m := rs.Rows[0]
		return fmt.Sprintf("The last message was by **%s** at %s:\n> %s",
			m.AuthorTag, m.Timestamp.Format(timestampLayout), m.Content)

	case KindWhoAsked:
		if len(rs.Rows) == 0 {
			return fmt.Sprintf("I couldn't find anyone asking about %q.", q.Term)
		}
		m := rs.Rows[0]
		return fmt.Sprintf("**%s** asked about %q at %s:\n> %s",
			m.AuthorTag, q.Term, m.Timestamp.Format(timestampLayout), m.Content)

	case KindLastMentioned:
		if len(rs.Rows) == 0 {
			return fmt.Sprintf("No one mentioned %q.", q.Term)
		}
		m := rs.Rows[0]
		return fmt.Sprintf("%q was last mentioned by **%s** at %s:\n> %s",
			q.Term, m.AuthorTag, m.Timestamp.Format(timestampLayout), m.Content)

	case KindAnswerLookup:
		if len(rs.Rows) == 0 {
			return fmt.Sprintf("I couldn't find a question about %q.", q.Term)
		}
		question := rs.Rows[0]
		if rs.Answer == nil {
			return fmt.Sprintf("**%s** asked about %q at %s, but no reply was recorded.",
				question.AuthorTag, q.Term, question.Timestamp.Format(timestampLayout))
		}
		return fmt.Sprintf("**%s** asked at %s:\n> %s\n**%s** answered at %s:\n> %s",
			question.AuthorTag, question.Timestamp.Format(timestampLayout), question.Content,
			rs.Answer.AuthorTag, rs.Answer.Timestamp.Format(timestampLayout), rs.Answer.Content)

	case KindLastQuestionBy:
		if len(rs.Rows) == 0 {
			return fmt.Sprintf("I couldn't find a question from **%s**.", q.User)
		}
		m := rs.Rows[0]
		return fmt.Sprintf("The last question **%s** asked was at %s:\n> %s",
			m.AuthorTag, m.Timestamp.Format(timestampLayout), m.Content)

	case KindMessagesByUserOnDate:
		if len(rs.Rows) == 0 {
			return fmt.Sprintf("No messages from **%s** on %s.", q.User, q.Range.Start.Format(dateLayout))
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Messages from **%s** on %s:\n", rs.Rows[0].AuthorTag, q.Range.Start.Format(dateLayout))
		writeBullets(&b, rs.Rows, false)
		return b.String()

	case KindMessagesInRange:
		if len(rs.Rows) == 0 {
			return "No messages found for that period."
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Here's what was said between %s and %s:\n",
			q.Range.Start.Format(timestampLayout), q.Range.End.Format(timestampLayout))
		writeBullets(&b, rs.Rows, true)
		return b.String()

	case KindMessagesAboutTerm:
		if len(rs.Rows) == 0 {
			return fmt.Sprintf("No messages about %q in that period.", q.Term)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Here's what we said about **%s** between %s and %s:\n",
			q.Term, q.Range.Start.Format(timestampLayout), q.Range.End.Format(timestampLayout))
		writeBullets(&b, rs.Rows, true)
		if rs.More > 0 {
			fmt.Fprintf(&b, "…and %d more.", rs.More)
		}
		return strings.TrimRight(b.String(), "\n")

	case KindSummaryOfTerm:
		if rs.Count == 0 {
			return fmt.Sprintf("No mentions of **%s** in that period.", q.Term)
		}
		return fmt.Sprintf("**%s** was mentioned **%d** time(s) between %s and %s.\nFirst: %s\nLast: %s",
			q.Term, rs.Count,
			q.Range.Start.Format(dateLayout), q.Range.End.Format(dateLayout),
			rs.First, rs.Last)

	case KindCountByUser:
		return fmt.Sprintf("**%s** sent **%d** message(s) in that period.", q.User, rs.Count)

	case KindMessageCount:
		return fmt.Sprintf("The archive holds **%d** message(s).", rs.Count)

	case KindChannelMessages:
		if len(rs.Rows) == 0 {
			return fmt.Sprintf("No messages found in **#%s** for that period.", q.Channel)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Here's what was discussed in **#%s**:\n", q.Channel)
		writeBullets(&b, rs.Rows, true)
		return b.String()

	case KindWhoSaid:
		if len(rs.Rows) == 0 {
			return fmt.Sprintf("No one mentioned %q.", q.Term)
		}
		return s.grounded(ctx, q.Text, rs.Rows)

	case KindLastSaidBy:
		if len(rs.Rows) == 0 {
			return fmt.Sprintf("No messages from **%s** found.", q.User)
		}
		return s.grounded(ctx, q.Text, rs.Rows)

	case KindGenericSearch:
		if len(rs.Rows) == 0 {
			return "I couldn't find anything relevant in the chat history."
		}
		return s.grounded(ctx, q.Text, rs.Rows)

	case KindFreeform:
		if s.completer == nil {
			return "I'm not sure how to help with that."
		}
		reply, err := s.completer.Complete(ctx, chatSystemPrompt, nil, q.Text)
		if err != nil {
			s.logger.ErrorContext(ctx, "freeform completion failed", "error", err)
			return apologyReply
		}
		return reply

	default:
		return apologyReply
	}
}

// grounded answers an open-ended question with a completion grounded on the
// retrieved rows. When no completer is available, or the completion fails,
// the rows themselves become the reply so the user still sees the evidence.
func (s *Synthesizer) grounded(ctx context.Context, question string, rows []database.Message) string {
	if s.completer == nil {
		var b strings.Builder
		b.WriteString("Here's what I found:\n")
		writeBullets(&b, rows, true)
		return b.String()
	}

	blocks := make([]string, 0, len(rows))
	for _, m := range rows {
		blocks = append(blocks, fmt.Sprintf("%s (%s): %s", m.AuthorTag, m.Timestamp.Format(timestampLayout), m.Content))
	}
	reply, err := s.completer.Complete(ctx, ragSystemPrompt, blocks, question)
	if err != nil {
		s.logger.ErrorContext(ctx, "grounded completion failed", "error", err)
		return apologyReply
	}
	return reply
}

func writeBullets(b *strings.Builder, rows []database.Message, withAuthor bool) {
	for _, m := range rows {
		if withAuthor {
			fmt.Fprintf(b, "• %s **%s**: %s\n", m.Timestamp.Format(timestampLayout), m.AuthorTag, m.Content)
		} else {
			fmt.Fprintf(b, "• %s %s\n", m.Timestamp.Format("15:04"), m.Content)
		}
	}
}
