package generic

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical calendar date format used by the store, the API
// and the CSV round-trip.
const DateLayout = "2006-01-02"

// acceptedDateLayouts are tried in order by ParseDate.
var acceptedDateLayouts = []string{
	DateLayout,
	"2006/01/02",
	"02/01/2006",
	time.RFC3339,
}

// =============================================================================
// CALENDAR DAYS - All dates are UTC midnight
// =============================================================================

// Date returns midnight UTC for the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return Date(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a calendar date in any of the accepted layouts.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range acceptedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid calendar date %q", s)
}

// FormatDate renders a day in DateLayout.
func FormatDate(t time.Time) string { return t.UTC().Format(DateLayout) }

func DaysBetween(from, to time.Time) int { return int(Day(to).Sub(Day(from)).Hours() / 24) }
func StartOfMonth(year int, month time.Month) time.Time { return Date(year, month, 1) }
func EndOfMonth(year int, month time.Month) time.Time   { return Date(year, month+1, 1).AddDate(0, 0, -1) }
func DaysInMonth(year int, month time.Month) int        { return EndOfMonth(year, month).Day() }

// =============================================================================
// ISO WEEKS - Capacity is evaluated per ISO week
// =============================================================================

// WeekKey identifies an ISO 8601 week.
type WeekKey struct {
	Year int
	Week int
}

// WeekOf returns the ISO week containing t.
func WeekOf(t time.Time) WeekKey {
	y, w := t.UTC().ISOWeek()
	return WeekKey{Year: y, Week: w}
}

// StartOfISOWeek returns the Monday of the ISO week containing t.
func StartOfISOWeek(t time.Time) time.Time {
	d := Day(t)
	offset := (int(d.Weekday()) + 6) % 7 // Monday = 0
	return d.AddDate(0, 0, -offset)
}

func (w WeekKey) String() string { return fmt.Sprintf("%04d-W%02d", w.Year, w.Week) }

// Before orders week keys chronologically.
func (w WeekKey) Before(other WeekKey) bool {
	if w.Year != other.Year {
		return w.Year < other.Year
	}
	return w.Week < other.Week
}
