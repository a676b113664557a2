package history

import (
	"testing"
	"time"
)

// fixedNow is a Wednesday mid-afternoon, chosen so day arithmetic around it
// stays inside one month.
var fixedNow = time.Date(2025, 4, 16, 15, 30, 0, 0, time.UTC)

func testResolver() *Resolver {
	return NewResolverAt(func() time.Time { return fixedNow })
}

func TestResolveYesterdayBoundaries(t *testing.T) {
	r := testResolver()

	rng := r.Resolve("yesterday")
	if rng == nil {
		t.Fatal("yesterday should resolve")
	}

	wantStart := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	if !rng.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", rng.Start, wantStart)
	}
	if rng.End.Day() != 15 || rng.End.Hour() != 23 || rng.End.Minute() != 59 || rng.End.Second() != 59 {
		t.Errorf("end should be the last instant of the 15th, got %v", rng.End)
	}
}

func TestResolveBetweenDates(t *testing.T) {
	r := testResolver()

	rng := r.Resolve("between 2025-04-01 and 2025-04-10")
	if rng == nil {
		t.Fatal("absolute range should resolve")
	}

	if !rng.Start.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", rng.Start)
	}
	if rng.End.Day() != 10 || rng.End.Hour() != 23 {
		t.Errorf("end should fall at the close of April 10, got %v", rng.End)
	}
}

func TestResolveRelativePeriods(t *testing.T) {
	r := testResolver()

	tests := []struct {
		phrase    string
		wantStart time.Time
		wantEnd   time.Time
	}{
		{"today", time.Date(2025, 4, 16, 0, 0, 0, 0, time.UTC), fixedNow},
		{"last week", time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC), fixedNow},
		{"last month", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), time.Time{}},
	}

	for _, tc := range tests {
		t.Run(tc.phrase, func(t *testing.T) {
			rng := r.Resolve(tc.phrase)
			if rng == nil {
				t.Fatalf("%q should resolve", tc.phrase)
			}
			if !rng.Start.Equal(tc.wantStart) {
				t.Errorf("start = %v, want %v", rng.Start, tc.wantStart)
			}
			if !tc.wantEnd.IsZero() && !rng.End.Equal(tc.wantEnd) {
				t.Errorf("end = %v, want %v", rng.End, tc.wantEnd)
			}
		})
	}

	rng := r.Resolve("last month")
	if rng.End.Month() != time.March || rng.End.Day() != 31 {
		t.Errorf("last month should end on March 31, got %v", rng.End)
	}
}

func TestResolveUnknownPhrase(t *testing.T) {
	r := testResolver()

	if rng := r.Resolve("the before times"); rng != nil {
		t.Errorf("nonsense phrase should not resolve, got %+v", rng)
	}
}

func TestDay(t *testing.T) {
	r := testResolver()

	rng := r.Day("2025-04-03")
	if rng == nil {
		t.Fatal("valid date should resolve")
	}
	if rng.Start.Day() != 3 || rng.End.Day() != 3 {
		t.Errorf("range should cover April 3, got %v .. %v", rng.Start, rng.End)
	}

	if rng := r.Day("not-a-date"); rng != nil {
		t.Errorf("malformed date should yield nil, got %+v", rng)
	}
}

func TestTrailingWindows(t *testing.T) {
	r := testResolver()

	rng := r.LastHours(24)
	if !rng.End.Equal(fixedNow) || !rng.Start.Equal(fixedNow.Add(-24*time.Hour)) {
		t.Errorf("unexpected 24h window: %v .. %v", rng.Start, rng.End)
	}

	rng = r.LastDays(7)
	if !rng.Start.Equal(fixedNow.AddDate(0, 0, -7)) {
		t.Errorf("unexpected 7d window start: %v", rng.Start)
	}
}
