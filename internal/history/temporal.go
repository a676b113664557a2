// Package history implements the conversational search engine over the
// message archive: temporal phrase resolution, intent routing, ranked
// retrieval, and answer synthesis.
package history

import (
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/CharlesAD/jeffrey/internal/database"
)

const dateLayout = "2006-01-02"

var absoluteRangeRe = regexp.MustCompile(`(?i)between (\d{4}-\d{2}-\d{2}) and (\d{4}-\d{2}-\d{2})`)

// Resolver converts temporal phrases ("yesterday", "last friday",
// "between 2025-04-01 and 2025-04-10") into concrete time ranges. The clock
// is injectable so boundary instants can be pinned in tests.
type Resolver struct {
	now    func() time.Time
	parser *when.Parser
}

// NewResolver creates a Resolver using the wall clock.
func NewResolver() *Resolver {
	return NewResolverAt(time.Now)
}

// NewResolverAt creates a Resolver with a custom clock.
func NewResolverAt(now func() time.Time) *Resolver {
	parser := when.New(nil)
	parser.Add(en.All...)
	parser.Add(common.All...)
	return &Resolver{now: now, parser: parser}
}

// Now returns the resolver's current instant.
func (r *Resolver) Now() time.Time {
	return r.now()
}

// Resolve converts a temporal phrase into a concrete range, or nil when the
// phrase cannot be understood. Callers must turn nil into a clarification
// reply rather than defaulting silently.
//
// Boundary rules:
//   - "between A and B": A at 00:00:00 through B at 23:59:59.999.
//   - "yesterday": the full previous calendar day.
//   - "today": start of today through now.
//   - "last week": seven days ago at 00:00:00 through now.
//   - "last month": the full previous calendar month.
//   - anything else is delegated to the calendar-phrase parser; a bare
//     instant is widened to cover its whole day.
func (r *Resolver) Resolve(phrase string) *database.TimeRange {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	now := r.now()

	if m := absoluteRangeRe.FindStringSubmatch(phrase); m != nil {
		start, err1 := time.ParseInLocation(dateLayout, m[1], now.Location())
		end, err2 := time.ParseInLocation(dateLayout, m[2], now.Location())
		if err1 != nil || err2 != nil {
			return nil
		}
		return &database.TimeRange{Start: start, End: endOfDay(end)}
	}

	switch phrase {
	case "yesterday":
		y := now.AddDate(0, 0, -1)
		return &database.TimeRange{Start: startOfDay(y), End: endOfDay(y)}

	case "today":
		return &database.TimeRange{Start: startOfDay(now), End: now}

	case "last week":
		return &database.TimeRange{Start: startOfDay(now.AddDate(0, 0, -7)), End: now}

	case "last month":
		firstOfThis := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		firstOfLast := firstOfThis.AddDate(0, -1, 0)
		return &database.TimeRange{Start: firstOfLast, End: endOfDay(firstOfThis.AddDate(0, 0, -1))}
	}

	result, err := r.parser.Parse(phrase, now)
	if err != nil || result == nil {
		return nil
	}
	return &database.TimeRange{Start: startOfDay(result.Time), End: endOfDay(result.Time)}
}

// Day converts an absolute "YYYY-MM-DD" date into a range covering that
// whole day, or nil when the date is malformed.
func (r *Resolver) Day(date string) *database.TimeRange {
	day, err := time.ParseInLocation(dateLayout, date, r.now().Location())
	if err != nil {
		return nil
	}
	return &database.TimeRange{Start: day, End: endOfDay(day)}
}

// LastHours returns the trailing range [now-n*hours, now).
func (r *Resolver) LastHours(n int) *database.TimeRange {
	now := r.now()
	return &database.TimeRange{Start: now.Add(-time.Duration(n) * time.Hour), End: now}
}

// LastDays returns the trailing range [now-n*days, now).
func (r *Resolver) LastDays(n int) *database.TimeRange {
	now := r.now()
	return &database.TimeRange{Start: now.AddDate(0, 0, -n), End: now}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}
