// Package period models the calendar units ingestion is scheduled over.
package period

import (
	"cmp"
	"crypto/sha256"
	"fmt"
	"slices"
	"time"
)

// Period is a calendar month, or a whole calendar year when Month is zero
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month,omitempty"`
}

// Month returns the period for the given year and month
func Month(year int, month time.Month) Period {
	return Period{Year: year, Month: int(month)}
}

// Year returns the whole-year period
func Year(year int) Period {
	return Period{Year: year}
}

// IsYear reports whether the period spans a whole calendar year
func (p Period) IsYear() bool {
	return p.Month == 0
}

// Start returns the first day of the period in loc
func (p Period) Start(loc *time.Location) time.Time {
	if p.IsYear() {
		return time.Date(p.Year, time.January, 1, 0, 0, 0, 0, loc)
	}
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, loc)
}

// End returns the last day of the period in loc
func (p Period) End(loc *time.Location) time.Time {
	if p.IsYear() {
		return time.Date(p.Year, time.December, 31, 0, 0, 0, 0, loc)
	}
	return p.Start(loc).AddDate(0, 1, -1)
}

// Compare orders periods chronologically; a whole year sorts before its months
func (p Period) Compare(o Period) int {
	if c := cmp.Compare(p.Year, o.Year); c != 0 {
		return c
	}
	return cmp.Compare(p.Month, o.Month)
}

// Before reports whether p sorts before o
func (p Period) Before(o Period) bool {
	return p.Compare(o) < 0
}

// String renders 2024 or 2024-03
func (p Period) String() string {
	if p.IsYear() {
		return fmt.Sprintf("%04d", p.Year)
	}
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Parse reads the String form back
func Parse(s string) (Period, error) {
	var p Period
	if len(s) == 4 {
		if _, err := fmt.Sscanf(s, "%04d", &p.Year); err != nil {
			return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
		}
		return p, nil
	}
	if _, err := fmt.Sscanf(s, "%04d-%02d", &p.Year, &p.Month); err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	if p.Month < 1 || p.Month > 12 {
		return Period{}, fmt.Errorf("invalid period %q: month out of range", s)
	}
	return p, nil
}

// RecentMonths returns the n months ending with the month containing now, most recent first
func RecentMonths(now time.Time, n int) []Period {
	out := make([]Period, 0, max(n, 0))
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for i := range n {
		m := first.AddDate(0, -i, 0)
		out = append(out, Month(m.Year(), m.Month()))
	}
	return out
}

// YearRange returns whole-year periods from..to inclusive, most recent first.
// Reversed bounds are swapped.
func YearRange(from, to int) []Period {
	if from > to {
		from, to = to, from
	}
	out := make([]Period, 0, to-from+1)
	for y := to; y >= from; y-- {
		out = append(out, Year(y))
	}
	return out
}

// filingMonthRank puts the months in which annual, half-year and third-quarter
// reports are filed ahead of all others
func filingMonthRank(month int) int {
	switch month {
	case 3:
		return 0
	case 8:
		return 1
	case 11:
		return 2
	default:
		return 9
	}
}

// Order sorts periods in place: filing months first, then most recent first
func Order(periods []Period) {
	slices.SortStableFunc(periods, func(a, b Period) int {
		if c := cmp.Compare(filingMonthRank(a.Month), filingMonthRank(b.Month)); c != 0 {
			return c
		}
		return b.Compare(a)
	})
}

// Window fingerprints an ordered period list. Lists differing in any period or
// in order get different windows.
func Window(periods []Period) string {
	h := sha256.New()
	for _, p := range periods {
		fmt.Fprintf(h, "%s;", p)
	}
	return fmt.Sprintf("%d:%x", len(periods), h.Sum(nil)[:8])
}
