package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const messageColumns = "id, guild_id, channel_id, author_id, author_tag, content, ts, created_at"

// Store defines the interface for message archive operations.
// Methods accept context.Context for cancellation and timeouts. Lookups that
// may legitimately find nothing return (nil, nil); an empty result is never
// an error.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// UpsertMessage inserts a message row if its id is not already present.
	// It reports whether a new row was created. Safe to call concurrently
	// from the live and backfill producers.
	UpsertMessage(ctx context.Context, message *Message) (bool, error)

	// LastMessage retrieves the most recent message in the guild.
	LastMessage(ctx context.Context, guildID string) (*Message, error)

	// LastMention retrieves the most recent message matching term.
	LastMention(ctx context.Context, guildID, term string) (*Message, error)

	// LastMessageByUser retrieves the most recent message whose author label
	// loosely matches userPattern.
	LastMessageByUser(ctx context.Context, guildID, userPattern string) (*Message, error)

	// LastQuestionByUser retrieves the most recent question-shaped message
	// (content ending in "?") by a matching author.
	LastQuestionByUser(ctx context.Context, guildID, userPattern string) (*Message, error)

	// FirstMatch retrieves the earliest message matching term, optionally
	// bounded to a time range.
	FirstMatch(ctx context.Context, guildID, term string, r *TimeRange) (*Message, error)

	// NextInChannelAfter retrieves the first message in a channel strictly
	// after the given instant, skipping messages by excludeAuthorID so a
	// question's answer is never the asker's own follow-up.
	NextInChannelAfter(ctx context.Context, guildID, channelID string, after time.Time, excludeAuthorID string) (*Message, error)

	// SearchByTerm retrieves up to limit messages matching term, ascending
	// by timestamp, optionally bounded to a time range.
	SearchByTerm(ctx context.Context, guildID, term string, r *TimeRange, limit int) ([]Message, error)

	// RecentByTerm retrieves up to limit messages matching term, most
	// recent first.
	RecentByTerm(ctx context.Context, guildID, term string, limit int) ([]Message, error)

	// MessagesByUser retrieves up to limit messages by a matching author,
	// ascending by timestamp, optionally bounded to a time range.
	MessagesByUser(ctx context.Context, guildID, userPattern string, r *TimeRange, limit int) ([]Message, error)

	// MessagesInRange retrieves up to limit messages in the range, ascending.
	MessagesInRange(ctx context.Context, guildID string, r *TimeRange, limit int) ([]Message, error)

	// MessagesInChannel retrieves up to limit messages in a channel within
	// the range, ascending.
	MessagesInChannel(ctx context.Context, guildID, channelID string, r *TimeRange, limit int) ([]Message, error)

	// CountByUser counts messages by a matching author within the range.
	CountByUser(ctx context.Context, guildID, userPattern string, r *TimeRange) (int, error)

	// SummarizeTerm aggregates matches of term within the range: total count
	// plus first and last timestamps.
	SummarizeTerm(ctx context.Context, guildID, term string, r *TimeRange) (*TermSummary, error)

	// CountMessages counts all archived messages for a guild.
	CountMessages(ctx context.Context, guildID string) (int, error)

	// DeleteMessagesBefore removes messages older than cutoff, returning the
	// number of rows deleted. Used by the retention task.
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertMessage inserts a new message row unless the id already exists.
// Idempotence rests on the primary-key constraint plus ON CONFLICT DO
// NOTHING; concurrent producers need no further coordination.
func (s *sqlxStore) UpsertMessage(ctx context.Context, message *Message) (bool, error) {
	if message == nil {
		return false, fmt.Errorf("cannot upsert nil message")
	}
	if message.ID == "" {
		return false, fmt.Errorf("message must have a non-empty id")
	}
	if message.GuildID == "" || message.ChannelID == "" {
		return false, fmt.Errorf("message %s must have guild_id and channel_id", message.ID)
	}
	if message.Timestamp.IsZero() {
		return false, fmt.Errorf("message %s must have a non-zero timestamp", message.ID)
	}

	message.Timestamp = message.Timestamp.UTC()
	message.Content = strings.TrimSpace(message.Content)
	message.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO messages (id, guild_id, channel_id, author_id, author_tag, content, ts, created_at)
        VALUES (:id, :guild_id, :channel_id, :author_id, :author_tag, :content, :ts, :created_at)
        ON CONFLICT (id) DO NOTHING;
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error upserting message", "message_id", message.ID, "guild_id", message.GuildID, "error", err)
		return false, fmt.Errorf("failed to upsert message %s: %w", message.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not retrieve affected row count after upsert", "message_id", message.ID, "error", err)
		return false, nil
	}

	inserted := affected == 1
	s.logger.DebugContext(ctx, "Message upserted", "message_id", message.ID, "inserted", inserted)
	return inserted, nil
}

// LastMessage retrieves the most recent message in the guild.
func (s *sqlxStore) LastMessage(ctx context.Context, guildID string) (*Message, error) {
	query := `SELECT ` + messageColumns + `
	          FROM messages
	          WHERE guild_id = ?
	          ORDER BY ts DESC, id DESC
	          LIMIT 1;`
	return s.getMessage(ctx, query, guildID)
}

// LastMention retrieves the most recent message matching term.
func (s *sqlxStore) LastMention(ctx context.Context, guildID, term string) (*Message, error) {
	match := ftsMatchExpr(term)
	if match == "" {
		return nil, nil
	}
	query := `SELECT m.` + strings.ReplaceAll(messageColumns, ", ", ", m.") + `
	          FROM messages_fts f
	          JOIN messages m ON m.rowid = f.rowid
	          WHERE messages_fts MATCH ? AND m.guild_id = ?
	          ORDER BY m.ts DESC, m.id DESC
	          LIMIT 1;`
	return s.getMessage(ctx, query, match, guildID)
}

// LastMessageByUser retrieves the most recent message by a matching author.
func (s *sqlxStore) LastMessageByUser(ctx context.Context, guildID, userPattern string) (*Message, error) {
	pattern := NormalizeUserPattern(userPattern)
	if pattern == "" {
		return nil, nil
	}
	query := `SELECT ` + messageColumns + `
	          FROM messages
	          WHERE guild_id = ? AND instr(lower(author_tag), ?) > 0
	          ORDER BY ts DESC, id DESC
	          LIMIT 1;`
	return s.getMessage(ctx, query, guildID, pattern)
}

// LastQuestionByUser retrieves the most recent question by a matching author.
func (s *sqlxStore) LastQuestionByUser(ctx context.Context, guildID, userPattern string) (*Message, error) {
	pattern := NormalizeUserPattern(userPattern)
	if pattern == "" {
		return nil, nil
	}
	query := `SELECT ` + messageColumns + `
	          FROM messages
	          WHERE guild_id = ? AND instr(lower(author_tag), ?) > 0 AND content LIKE '%?'
	          ORDER BY ts DESC, id DESC
	          LIMIT 1;`
	return s.getMessage(ctx, query, guildID, pattern)
}

// FirstMatch retrieves the earliest message matching term within the range.
func (s *sqlxStore) FirstMatch(ctx context.Context, guildID, term string, r *TimeRange) (*Message, error) {
	match := ftsMatchExpr(term)
	if match == "" {
		return nil, nil
	}
	args := []any{match, guildID}
	query := `SELECT m.` + strings.ReplaceAll(messageColumns, ", ", ", m.") + `
	          FROM messages_fts f
	          JOIN messages m ON m.rowid = f.rowid
	          WHERE messages_fts MATCH ? AND m.guild_id = ?` +
		rangeClause("m.ts", r, &args) + `
	          ORDER BY m.ts ASC, m.id ASC
	          LIMIT 1;`
	return s.getMessage(ctx, query, args...)
}

// NextInChannelAfter retrieves the first message in a channel after the given instant.
func (s *sqlxStore) NextInChannelAfter(ctx context.Context, guildID, channelID string, after time.Time, excludeAuthorID string) (*Message, error) {
	query := `SELECT ` + messageColumns + `
	          FROM messages
	          WHERE guild_id = ? AND channel_id = ? AND ts > ? AND author_id != ?
	          ORDER BY ts ASC, id ASC
	          LIMIT 1;`
	return s.getMessage(ctx, query, guildID, channelID, after.UTC(), excludeAuthorID)
}

// SearchByTerm retrieves matching messages ascending by timestamp.
func (s *sqlxStore) SearchByTerm(ctx context.Context, guildID, term string, r *TimeRange, limit int) ([]Message, error) {
	match := ftsMatchExpr(term)
	if match == "" {
		return nil, nil
	}
	args := []any{match, guildID}
	query := `SELECT m.` + strings.ReplaceAll(messageColumns, ", ", ", m.") + `
	          FROM messages_fts f
	          JOIN messages m ON m.rowid = f.rowid
	          WHERE messages_fts MATCH ? AND m.guild_id = ?` +
		rangeClause("m.ts", r, &args) + `
	          ORDER BY m.ts ASC, m.id ASC
	          LIMIT ?;`
	args = append(args, clampLimit(limit))
	return s.selectMessages(ctx, query, args...)
}

// RecentByTerm retrieves matching messages, most recent first.
func (s *sqlxStore) RecentByTerm(ctx context.Context, guildID, term string, limit int) ([]Message, error) {
	match := ftsMatchExpr(term)
	if match == "" {
		return nil, nil
	}
	query := `SELECT m.` + strings.ReplaceAll(messageColumns, ", ", ", m.") + `
	          FROM messages_fts f
	          JOIN messages m ON m.rowid = f.rowid
	          WHERE messages_fts MATCH ? AND m.guild_id = ?
	          ORDER BY m.ts DESC, m.id DESC
	          LIMIT ?;`
	return s.selectMessages(ctx, query, match, guildID, clampLimit(limit))
}

// MessagesByUser retrieves messages by a matching author, ascending.
func (s *sqlxStore) MessagesByUser(ctx context.Context, guildID, userPattern string, r *TimeRange, limit int) ([]Message, error) {
	pattern := NormalizeUserPattern(userPattern)
	if pattern == "" {
		return nil, nil
	}
	args := []any{guildID, pattern}
	query := `SELECT ` + messageColumns + `
	          FROM messages
	          WHERE guild_id = ? AND instr(lower(author_tag), ?) > 0` +
		rangeClause("ts", r, &args) + `
	          ORDER BY ts ASC, id ASC
	          LIMIT ?;`
	args = append(args, clampLimit(limit))
	return s.selectMessages(ctx, query, args...)
}

// MessagesInRange retrieves messages within the range, ascending.
func (s *sqlxStore) MessagesInRange(ctx context.Context, guildID string, r *TimeRange, limit int) ([]Message, error) {
	args := []any{guildID}
	query := `SELECT ` + messageColumns + `
	          FROM messages
	          WHERE guild_id = ?` +
		rangeClause("ts", r, &args) + `
	          ORDER BY ts ASC, id ASC
	          LIMIT ?;`
	args = append(args, clampLimit(limit))
	return s.selectMessages(ctx, query, args...)
}

// MessagesInChannel retrieves channel messages within the range, ascending.
func (s *sqlxStore) MessagesInChannel(ctx context.Context, guildID, channelID string, r *TimeRange, limit int) ([]Message, error) {
	args := []any{guildID, channelID}
	query := `SELECT ` + messageColumns + `
	          FROM messages
	          WHERE guild_id = ? AND channel_id = ?` +
		rangeClause("ts", r, &args) + `
	          ORDER BY ts ASC, id ASC
	          LIMIT ?;`
	args = append(args, clampLimit(limit))
	return s.selectMessages(ctx, query, args...)
}

// CountByUser counts messages by a matching author within the range.
func (s *sqlxStore) CountByUser(ctx context.Context, guildID, userPattern string, r *TimeRange) (int, error) {
	pattern := NormalizeUserPattern(userPattern)
	if pattern == "" {
		return 0, nil
	}
	args := []any{guildID, pattern}
	query := `SELECT COUNT(*)
	          FROM messages
	          WHERE guild_id = ? AND instr(lower(author_tag), ?) > 0` +
		rangeClause("ts", r, &args) + `;`

	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error counting messages by user", "guild_id", guildID, "error", err)
		return 0, fmt.Errorf("failed to count messages by user: %w", err)
	}
	return count, nil
}

// SummarizeTerm aggregates matches of term within the range.
func (s *sqlxStore) SummarizeTerm(ctx context.Context, guildID, term string, r *TimeRange) (*TermSummary, error) {
	match := ftsMatchExpr(term)
	if match == "" {
		return &TermSummary{}, nil
	}
	args := []any{match, guildID}
	query := `SELECT COUNT(*) AS total, MIN(m.ts) AS first_ts, MAX(m.ts) AS last_ts
	          FROM messages_fts f
	          JOIN messages m ON m.rowid = f.rowid
	          WHERE messages_fts MATCH ? AND m.guild_id = ?` +
		rangeClause("m.ts", r, &args) + `;`

	var row struct {
		Total   int          `db:"total"`
		FirstTS sql.NullTime `db:"first_ts"`
		LastTS  sql.NullTime `db:"last_ts"`
	}
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error summarizing term", "guild_id", guildID, "error", err)
		return nil, fmt.Errorf("failed to summarize term: %w", err)
	}

	summary := &TermSummary{Count: row.Total}
	if row.FirstTS.Valid {
		summary.First = row.FirstTS.Time
	}
	if row.LastTS.Valid {
		summary.Last = row.LastTS.Time
	}
	return summary, nil
}

// CountMessages counts all archived messages for a guild.
func (s *sqlxStore) CountMessages(ctx context.Context, guildID string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE guild_id = ?;`, guildID); err != nil {
		s.logger.ErrorContext(ctx, "Error counting messages", "guild_id", guildID, "error", err)
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// DeleteMessagesBefore removes messages older than cutoff.
func (s *sqlxStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE ts < ?;`, cutoff.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting expired messages", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("failed to delete expired messages: %w", err)
	}
	count, _ := result.RowsAffected()
	if count > 0 {
		s.logger.InfoContext(ctx, "Deleted expired messages", "count", count, "cutoff", cutoff)
	}
	return count, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}

func (s *sqlxStore) getMessage(ctx context.Context, query string, args ...any) (*Message, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var msg Message
	err := s.db.GetContext(ctx, &msg, query, args...)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching message", "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error fetching message", "error", err)
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	return &msg, nil
}

func (s *sqlxStore) selectMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var messages []Message
	err := s.db.SelectContext(ctx, &messages, query, args...)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching messages", "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error fetching messages", "error", err)
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return messages, nil
}

// rangeClause appends range bounds to args and returns the matching SQL
// fragment. Ranges are half-open [start, end).
func rangeClause(column string, r *TimeRange, args *[]any) string {
	if r == nil {
		return ""
	}
	*args = append(*args, r.Start.UTC(), r.End.UTC())
	return " AND " + column + " >= ? AND " + column + " < ?"
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 5
	}
	if limit > 100 {
		return 100
	}
	return limit
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// ftsMatchExpr converts free text into a safe FTS5 MATCH expression: each
// word is double-quoted (disabling operator syntax) and words are implicitly
// ANDed, mirroring plain web-search semantics. Returns "" when the text holds
// no indexable words.
func ftsMatchExpr(text string) string {
	words := nonWord.Split(strings.ToLower(strings.TrimSpace(text)), -1)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		quoted = append(quoted, `"`+w+`"`)
	}
	return strings.Join(quoted, " ")
}

// NormalizeUserPattern lowercases a user reference and strips platform
// mention syntax (<@…>, <@!…>) so "<@!123>" and "Bob" match the same way.
// Substring matching against the author label is deliberately loose and can
// over-match common names; that is a documented precision tradeoff.
func NormalizeUserPattern(raw string) string {
	return strings.TrimSpace(strings.ToLower(strings.Map(func(r rune) rune {
		switch r {
		case '<', '@', '!', '>', '&', '#':
			return -1
		}
		return r
	}, raw)))
}
