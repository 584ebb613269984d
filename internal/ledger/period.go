package ledger

import (
	"fmt"
	"time"
)

// Period is the half-open interval [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether Start <= t < End.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Valid reports a non-empty interval.
func (p Period) Valid() bool { return p.Start.Before(p.End) }

func (p Period) String() string {
	return p.Start.Format(time.RFC3339Nano) + ".." + p.End.Format(time.RFC3339Nano)
}

// MonthPeriod covers a calendar month in UTC. End is the first instant of the
// next month, so consecutive months tile without gaps.
func MonthPeriod(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// ParseMonth parses "YYYY-MM" into a MonthPeriod.
func ParseMonth(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: want YYYY-MM", s)
	}
	return MonthPeriod(t.Year(), t.Month()), nil
}

// Cutoff is the boundary after a fiscal day.
type Cutoff struct {
	// Closing is 23:59:59.999 UTC on the cutoff day, where the closing leg is dated.
	Closing time.Time
	// DayEnd is the last representable instant before Opening. Reads
	// "as of the cutoff day" use it so legs after Closing still count.
	DayEnd time.Time
	// Opening is 00:00:00.000 UTC on the following day.
	Opening time.Time
}

// CutoffAt returns the boundary following the calendar day of d (UTC).
func CutoffAt(d time.Time) Cutoff {
	d = d.UTC()
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	opening := day.AddDate(0, 0, 1)
	return Cutoff{Closing: opening.Add(-time.Millisecond), DayEnd: opening.Add(-time.Nanosecond), Opening: opening}
}

// YearEnd returns the cutoff after December 31st of year.
func YearEnd(year int) Cutoff {
	return CutoffAt(time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC))
}

// Day returns the cutoff day as YYYY-MM-DD.
func (c Cutoff) Day() string { return c.Closing.Format("2006-01-02") }
