package database

import "time"

// Message is a single archived guild message. The platform-assigned snowflake
// id doubles as the idempotency token for ingestion: every producer funnels
// through UpsertMessage, which inserts at most one row per id.
//
// Rows are immutable after insert: re-ingestion of a known id is a no-op and
// the first-seen content wins.
type Message struct {
	ID        string    `db:"id"`
	GuildID   string    `db:"guild_id"`
	ChannelID string    `db:"channel_id"`
	AuthorID  string    `db:"author_id"`
	AuthorTag string    `db:"author_tag"`
	Content   string    `db:"content"`
	Timestamp time.Time `db:"ts"`
	CreatedAt time.Time `db:"created_at"`
}

// TimeRange bounds a query to [Start, End). The temporal resolver produces
// ends at 23:59:59.999 of the final day, so whole-day coverage is inclusive
// in practice.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// TermSummary is the aggregate result of SummarizeTerm: how often a term was
// mentioned in a range and when it was first and last seen.
type TermSummary struct {
	Count int       `db:"total"`
	First time.Time `db:"first_ts"`
	Last  time.Time `db:"last_ts"`
}
