package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/generic"
)

func TestNewPeriod(t *testing.T) {
	feb := generic.Date(2025, time.February, 1)

	p, err := generic.NewPeriod(feb.Add(13*time.Hour), generic.Date(2025, time.February, 2))
	require.NoError(t, err)
	assert.Equal(t, feb, p.Start, "normalized to the day")
	assert.Equal(t, 2, p.Len())

	_, err = generic.NewPeriod(feb, feb)
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
	_, err = generic.NewPeriod(feb, feb.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
	_, err = generic.NewPeriod(time.Time{}, feb)
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

func TestPeriod_Months(t *testing.T) {
	p, err := generic.NewPeriod(generic.Date(2025, time.February, 10), generic.Date(2025, time.April, 5))
	require.NoError(t, err)

	months := p.Months()

	require.Len(t, months, 3)
	assert.Equal(t, generic.MonthSlice{Year: 2025, Month: time.February, DaysInMonth: 28, OverlapDays: 19}, months[0])
	assert.Equal(t, generic.MonthSlice{Year: 2025, Month: time.March, DaysInMonth: 31, OverlapDays: 31}, months[1])
	assert.Equal(t, generic.MonthSlice{Year: 2025, Month: time.April, DaysInMonth: 30, OverlapDays: 5}, months[2])
}

func TestPeriod_Weeks(t *testing.T) {
	// GIVEN: Feb 1 2025 is a Saturday, Apr 30 a Wednesday
	p, err := generic.NewPeriod(generic.Date(2025, time.February, 1), generic.Date(2025, time.April, 30))
	require.NoError(t, err)

	weeks := p.Weeks()

	require.Len(t, weeks, 14)
	assert.Equal(t, generic.WeekSlice{
		Key:   generic.WeekKey{Year: 2025, Week: 5},
		Start: generic.Date(2025, time.February, 1),
		End:   generic.Date(2025, time.February, 2),
	}, weeks[0])
	assert.Len(t, weeks[0].Days(), 2)
	assert.Equal(t, generic.WeekSlice{
		Key:   generic.WeekKey{Year: 2025, Week: 18},
		Start: generic.Date(2025, time.April, 28),
		End:   generic.Date(2025, time.April, 30),
	}, weeks[13])
	for _, w := range weeks[1:13] {
		assert.Len(t, w.Days(), 7)
	}
}

func TestPeriod_WeeksAcrossYearEnd(t *testing.T) {
	// GIVEN: Dec 29 2025 starts ISO week 1 of 2026
	p, err := generic.NewPeriod(generic.Date(2025, time.December, 24), generic.Date(2026, time.January, 6))
	require.NoError(t, err)

	weeks := p.Weeks()

	require.Len(t, weeks, 3)
	assert.Equal(t, generic.WeekKey{Year: 2025, Week: 52}, weeks[0].Key)
	assert.Equal(t, generic.WeekKey{Year: 2026, Week: 1}, weeks[1].Key)
	assert.Equal(t, generic.Date(2025, time.December, 29), weeks[1].Start)
	assert.Equal(t, generic.WeekKey{Year: 2026, Week: 2}, weeks[2].Key)
	assert.Len(t, p.Months(), 2)
}

func TestPeriod_Contains(t *testing.T) {
	p, err := generic.NewPeriod(generic.Date(2025, time.March, 1), generic.Date(2025, time.March, 31))
	require.NoError(t, err)

	assert.True(t, p.Contains(generic.Date(2025, time.March, 1)))
	assert.True(t, p.Contains(generic.Date(2025, time.March, 31).Add(23*time.Hour)))
	assert.False(t, p.Contains(generic.Date(2025, time.April, 1)))
	assert.Equal(t, "[2025-03-01, 2025-03-31]", p.String())
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2025-02-05", generic.Date(2025, time.February, 5), true},
		{" 2025-02-05 ", generic.Date(2025, time.February, 5), true},
		{"2025/02/05", generic.Date(2025, time.February, 5), true},
		{"05/02/2025", generic.Date(2025, time.February, 5), true},
		{"2025-02-05T10:30:00Z", generic.Date(2025, time.February, 5), true},
		{"2024-02-29", generic.Date(2024, time.February, 29), true},
		{"2025-02-29", time.Time{}, false},
		{"2025-13-01", time.Time{}, false},
		{"", time.Time{}, false},
		{"tomorrow", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := generic.ParseDate(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, generic.FormatDate(tt.want), generic.FormatDate(got))
		})
	}
}

func TestWeekOf(t *testing.T) {
	assert.Equal(t, generic.WeekKey{Year: 2025, Week: 1}, generic.WeekOf(generic.Date(2024, time.December, 30)))
	assert.Equal(t, generic.WeekKey{Year: 2026, Week: 53}, generic.WeekOf(generic.Date(2027, time.January, 3)))
	assert.Equal(t, generic.Date(2025, time.March, 3), generic.StartOfISOWeek(generic.Date(2025, time.March, 9)))
	assert.Equal(t, 29, generic.DaysInMonth(2024, time.February))
}
