package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/CharlesAD/jeffrey/internal/database"
)

// Kind identifies which archive operation a question maps to.
type Kind int

const (
	KindFreeform Kind = iota
	KindLastMessage
	KindWhoAsked
	KindLastMentioned
	KindAnswerLookup
	KindLastQuestionBy
	KindMessagesByUserOnDate
	KindMessagesInRange
	KindMessagesAboutTerm
	KindSummaryOfTerm
	KindCountByUser
	KindChannelMessages
	KindWhoSaid
	KindLastSaidBy
	KindGenericSearch
	KindMessageCount
)

var kindNames = map[Kind]string{
	KindFreeform:             "freeform",
	KindLastMessage:          "last_message",
	KindWhoAsked:             "who_asked",
	KindLastMentioned:        "last_mentioned",
	KindAnswerLookup:         "answer_lookup",
	KindLastQuestionBy:       "last_question_by",
	KindMessagesByUserOnDate: "messages_by_user_on_date",
	KindMessagesInRange:      "messages_in_range",
	KindMessagesAboutTerm:    "messages_about_term",
	KindSummaryOfTerm:        "summary_of_term",
	KindCountByUser:          "count_by_user",
	KindChannelMessages:      "channel_messages",
	KindWhoSaid:              "who_said",
	KindLastSaidBy:           "last_said_by",
	KindGenericSearch:        "generic_search",
	KindMessageCount:         "message_count",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Query is a fully resolved question descriptor. Which fields are populated
// depends on Kind; Text always carries the original question for prompting.
type Query struct {
	Kind    Kind
	Term    string
	User    string
	Channel string
	Range   *database.TimeRange
	Text    string
}

// Completer is the language-model surface the engine needs: free-text
// completion with optional grounding context, and a yes/no classification.
type Completer interface {
	Complete(ctx context.Context, system string, contextBlocks []string, user string) (string, error)
	ClassifyYesNo(ctx context.Context, instruction, text string) (bool, error)
}

var (
	// ErrUnknownPeriod reports a temporal phrase the resolver could not parse.
	ErrUnknownPeriod = errors.New("unrecognised time period")
	// ErrMissingTopic reports a question that names no topic to search for.
	ErrMissingTopic = errors.New("no topic given")
)

const classifierInstruction = "Reply YES if answering this message requires searching past chat history, otherwise reply NO."

// userToken matches a bare word or a chat mention such as <@123456>.
const userToken = `([\w<>@!&#]+)`

var (
	whoAskedRe      = regexp.MustCompile(`(?i)^who asked`)
	whoAskedDateRe  = regexp.MustCompile(`(?i)on (\d{4}-\d{2}-\d{2}).*`)
	lastMentionedRe = regexp.MustCompile(`(?i)when was (.+?) last mentioned`)
	answerAboutRe   = regexp.MustCompile(`(?i)what was the answer.*about (.+?)\s*\??$`)
	questionByRe    = regexp.MustCompile(`(?i)what was the question ` + userToken + ` asked`)
	saidOnDateRe    = regexp.MustCompile(`(?i)what did ` + userToken + ` say on (\d{4}-\d{2}-\d{2})`)
	dayRangeRe      = regexp.MustCompile(`(?i)(?:what (?:was|were) (?:said|discussed|mentioned|talked about)|what did we (?:talk|chat) about)(?: in the chat)? (yesterday|today|last week|last month|last \w+)\s*\??$`)
	topicRangeRe    = regexp.MustCompile(`(?i)what (?:was|were|did we).*?\b(?:about|on) (.+?) (yesterday|today|last week|last month|last \w+)\s*\??$`)
	aboutBetweenRe  = regexp.MustCompile(`(?i)about (.+?) between`)
	countSentRe     = regexp.MustCompile(`(?i)how many messages (?:has|did) ` + userToken + ` (?:sent|send) in the last (\d+) (hour|hours|day|days)`)
	channelRangeRe  = regexp.MustCompile(`(?i)what was discussed in #?([\w-]+) (yesterday|today|last week|last month|last \w+|between \d{4}-\d{2}-\d{2} and \d{4}-\d{2}-\d{2})`)
	lastMessageRe   = regexp.MustCompile(`(?i)what was the last message(?: in (?:the )?(?:public |general )?chat)?\s*\??$`)
	whoSaidRe       = regexp.MustCompile(`(?i)who said (.+?)\s*\??$`)
	lastSaidByRe    = regexp.MustCompile(`(?i)what did ` + userToken + ` say\s*\??$`)
)

type route struct {
	name  string
	re    *regexp.Regexp
	build func(r *Router, m []string, text string) (*Query, error)
}

// Router maps a natural-language question onto a Query. Patterns are tried
// in declaration order and the first match wins, so the same question always
// resolves to the same descriptor. Only when no pattern matches does the
// classifier decide between keyword search and freeform chat.
type Router struct {
	resolver   *Resolver
	classifier Completer
	routes     []route
	logger     *slog.Logger
}

// NewRouter creates a Router. classifier may be nil, in which case unmatched
// questions always fall through to freeform.
func NewRouter(resolver *Resolver, classifier Completer, logger *slog.Logger) *Router {
	r := &Router{
		resolver:   resolver,
		classifier: classifier,
		logger:     logger.With("component", "history_router"),
	}
	r.routes = []route{
		{"who_asked", whoAskedRe, buildWhoAsked},
		{"last_mentioned", lastMentionedRe, buildLastMentioned},
		{"answer_lookup", answerAboutRe, buildAnswerLookup},
		{"last_question_by", questionByRe, buildLastQuestionBy},
		{"said_on_date", saidOnDateRe, buildSaidOnDate},
		{"day_range", dayRangeRe, buildDayRange},
		{"topic_range", topicRangeRe, buildTopicRange},
		{"count_by_user", countSentRe, buildCountByUser},
		{"channel_range", channelRangeRe, buildChannelRange},
		{"summary_between", absoluteRangeRe, buildSummaryBetween},
		{"last_message", lastMessageRe, buildLastMessage},
		{"who_said", whoSaidRe, buildWhoSaid},
		{"last_said_by", lastSaidByRe, buildLastSaidBy},
	}
	return r
}

// Route resolves text into a Query. Pattern errors such as ErrUnknownPeriod
// and ErrMissingTopic are returned for the caller to turn into clarification
// replies; a matched pattern never falls through to a later one.
func (r *Router) Route(ctx context.Context, text string) (*Query, error) {
	trimmed := strings.TrimSpace(text)

	for _, rt := range r.routes {
		m := rt.re.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		q, err := rt.build(r, m, trimmed)
		if err != nil {
			return nil, err
		}
		q.Text = trimmed
		r.logger.DebugContext(ctx, "question routed", "route", rt.name, "kind", q.Kind.String())
		return q, nil
	}

	if r.classifier != nil {
		needsHistory, err := r.classifier.ClassifyYesNo(ctx, classifierInstruction, trimmed)
		if err != nil {
			r.logger.WarnContext(ctx, "history classifier failed, treating as freeform", "error", err)
		} else if needsHistory {
			return &Query{Kind: KindGenericSearch, Term: trimmed, Text: trimmed}, nil
		}
	}
	return &Query{Kind: KindFreeform, Text: trimmed}, nil
}

func buildWhoAsked(r *Router, _ []string, text string) (*Query, error) {
	q := &Query{Kind: KindWhoAsked}

	if m := whoAskedDateRe.FindStringSubmatch(text); m != nil {
		q.Range = r.resolver.Day(m[1])
		if q.Range == nil {
			return nil, ErrUnknownPeriod
		}
		text = whoAskedDateRe.ReplaceAllString(text, "")
	}

	term := whoAskedRe.ReplaceAllString(text, "")
	term = regexp.MustCompile(`(?i)^\s*(?:the question\s*)?(?:about\s*)?`).ReplaceAllString(term, "")
	term = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(term), "?"))
	if term == "" {
		return nil, ErrMissingTopic
	}
	q.Term = term
	return q, nil
}

func buildLastMentioned(_ *Router, m []string, _ string) (*Query, error) {
	return &Query{Kind: KindLastMentioned, Term: strings.TrimSpace(m[1])}, nil
}

func buildAnswerLookup(_ *Router, m []string, _ string) (*Query, error) {
	return &Query{Kind: KindAnswerLookup, Term: strings.TrimSpace(m[1])}, nil
}

func buildLastQuestionBy(_ *Router, m []string, _ string) (*Query, error) {
	return &Query{Kind: KindLastQuestionBy, User: m[1]}, nil
}

func buildSaidOnDate(r *Router, m []string, _ string) (*Query, error) {
	rng := r.resolver.Day(m[2])
	if rng == nil {
		return nil, ErrUnknownPeriod
	}
	return &Query{Kind: KindMessagesByUserOnDate, User: m[1], Range: rng}, nil
}

func buildDayRange(r *Router, m []string, _ string) (*Query, error) {
	rng := r.resolver.Resolve(m[1])
	if rng == nil {
		return nil, ErrUnknownPeriod
	}
	return &Query{Kind: KindMessagesInRange, Range: rng}, nil
}

func buildTopicRange(r *Router, m []string, _ string) (*Query, error) {
	rng := r.resolver.Resolve(m[2])
	if rng == nil {
		return nil, ErrUnknownPeriod
	}
	return &Query{Kind: KindMessagesAboutTerm, Term: strings.TrimSpace(m[1]), Range: rng}, nil
}

func buildSummaryBetween(r *Router, _ []string, text string) (*Query, error) {
	rng := r.resolver.Resolve(text)
	if rng == nil {
		return nil, ErrUnknownPeriod
	}
	if m := aboutBetweenRe.FindStringSubmatch(text); m != nil {
		return &Query{Kind: KindSummaryOfTerm, Term: strings.TrimSpace(m[1]), Range: rng}, nil
	}
	return &Query{Kind: KindMessagesInRange, Range: rng}, nil
}

func buildCountByUser(r *Router, m []string, _ string) (*Query, error) {
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: bad count %q", ErrUnknownPeriod, m[2])
	}
	q := &Query{Kind: KindCountByUser, User: m[1]}
	if strings.HasPrefix(m[3], "hour") {
		q.Range = r.resolver.LastHours(n)
	} else {
		q.Range = r.resolver.LastDays(n)
	}
	return q, nil
}

func buildChannelRange(r *Router, m []string, _ string) (*Query, error) {
	rng := r.resolver.Resolve(m[2])
	if rng == nil {
		return nil, ErrUnknownPeriod
	}
	return &Query{Kind: KindChannelMessages, Channel: m[1], Range: rng}, nil
}

func buildLastMessage(_ *Router, _ []string, _ string) (*Query, error) {
	return &Query{Kind: KindLastMessage}, nil
}

func buildWhoSaid(_ *Router, m []string, _ string) (*Query, error) {
	return &Query{Kind: KindWhoSaid, Term: strings.TrimSpace(m[1])}, nil
}

func buildLastSaidBy(_ *Router, m []string, _ string) (*Query, error) {
	return &Query{Kind: KindLastSaidBy, User: m[1]}, nil
}
