package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The planning window of an allocation request
// =============================================================================

// Period is an inclusive range of calendar days [Start, End].
//
// Examples:
//   - Feb 1 - Apr 30: three full months
//   - Jan 15 - Jan 16: two days inside one ISO week
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod normalizes both ends to calendar days and rejects empty or
// inverted ranges with ErrInvalidPeriod.
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: Day(start), End: Day(end)}
	if start.IsZero() || end.IsZero() || !p.Start.Before(p.End) {
		return Period{}, fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return p, nil
}

// Contains returns true if the day is within the period [Start, End].
func (p Period) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Len returns the number of days in the period, both ends included.
func (p Period) Len() int { return DaysBetween(p.Start, p.End) + 1 }

// Days returns all days in the period.
func (p Period) Days() []time.Time {
	days := make([]time.Time, 0, p.Len())
	for d := p.Start; !d.After(p.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + FormatDate(p.Start) + ", " + FormatDate(p.End) + "]"
}

// =============================================================================
// SLICING - Calendar months and ISO weeks clipped to the period
// =============================================================================

// MonthSlice is the part of one calendar month that falls inside a period.
type MonthSlice struct {
	Year        int
	Month       time.Month
	DaysInMonth int
	OverlapDays int
}

// Months returns every calendar month overlapping the period, in order.
func (p Period) Months() []MonthSlice {
	var out []MonthSlice
	cur := StartOfMonth(p.Start.Year(), p.Start.Month())
	for !cur.After(p.End) {
		first := cur
		last := EndOfMonth(cur.Year(), cur.Month())
		if first.Before(p.Start) {
			first = p.Start
		}
		if last.After(p.End) {
			last = p.End
		}
		out = append(out, MonthSlice{
			Year:        cur.Year(),
			Month:       cur.Month(),
			DaysInMonth: DaysInMonth(cur.Year(), cur.Month()),
			OverlapDays: DaysBetween(first, last) + 1,
		})
		cur = cur.AddDate(0, 1, 0)
	}
	return out
}

// WeekSlice is the part of one ISO week that falls inside a period.
type WeekSlice struct {
	Key   WeekKey
	Start time.Time // first in-period day of the week
	End   time.Time // last in-period day of the week
}

// Days returns the in-period days of the week.
func (w WeekSlice) Days() []time.Time {
	return Period{Start: w.Start, End: w.End}.Days()
}

// Weeks returns every ISO week overlapping the period, in order. Partial
// first and last weeks are clipped to the period.
func (p Period) Weeks() []WeekSlice {
	var out []WeekSlice
	for monday := StartOfISOWeek(p.Start); !monday.After(p.End); monday = monday.AddDate(0, 0, 7) {
		first := monday
		last := monday.AddDate(0, 0, 6)
		if first.Before(p.Start) {
			first = p.Start
		}
		if last.After(p.End) {
			last = p.End
		}
		out = append(out, WeekSlice{Key: WeekOf(monday), Start: first, End: last})
	}
	return out
}
