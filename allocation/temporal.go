package allocation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// TEMPORAL DISTRIBUTOR - Annual total -> period total -> weekly buckets
// =============================================================================

// WeekBucket is the integer quota of one ISO week slice.
type WeekBucket struct {
	Index int
	Slice generic.WeekSlice
	Quota int
}

// TemporalResult is the period-bound volume and its weekly split.
type TemporalResult struct {
	Exact      decimal.Decimal // unrounded period volume
	Calculated int
	Weeks      []WeekBucket
	Warnings   []string
}

// TemporalDistributor converts an annual total into per-week quotas.
type TemporalDistributor struct{}

// Distribute computes
//
//	calculated = round_half_up( Σ total × pct(month)/100 × overlap_days/days_in_month )
//
// over every month touching the period, then splits calculated equally over
// the period's ISO week slices. The integer remainder goes to the earliest
// weeks so that Σ quotas == calculated.
func (TemporalDistributor) Distribute(total int, curves []ProductSeasonality, period generic.Period) (TemporalResult, error) {
	if total < 0 {
		return TemporalResult{}, fmt.Errorf("%w: got %d", generic.ErrInvalidVolume, total)
	}
	if period.Start.IsZero() || period.End.IsZero() || !period.Start.Before(period.End) {
		return TemporalResult{}, fmt.Errorf("%w: %s", generic.ErrInvalidPeriod, period)
	}

	var res TemporalResult
	annual := decimal.NewFromInt(int64(total))
	exact := decimal.Zero
	warned := make(map[int]bool)
	for _, m := range period.Months() {
		curve, note := resolveCurve(curves, m.Year)
		if note != "" && !warned[m.Year] {
			warned[m.Year] = true
			res.Warnings = append(res.Warnings, note)
		}
		share := annual.Mul(curve.Pct(m.Month)).Div(hundred).
			Mul(decimal.NewFromInt(int64(m.OverlapDays))).
			Div(decimal.NewFromInt(int64(m.DaysInMonth)))
		exact = exact.Add(share)
	}
	res.Exact = exact
	res.Calculated = int(exact.Round(0).IntPart())

	slices := period.Weeks()
	ones := make([]float64, len(slices))
	for i := range ones {
		ones[i] = 1
	}
	quotas := generic.Apportion(res.Calculated, ones)
	res.Weeks = make([]WeekBucket, len(slices))
	for i, s := range slices {
		res.Weeks[i] = WeekBucket{Index: i, Slice: s, Quota: quotas[i]}
	}
	return res, nil
}

// resolveCurve picks the curve of a year: exact year, else nearest earlier,
// else nearest later, else flat. A non-empty note explains a fallback.
func resolveCurve(curves []ProductSeasonality, year int) (ProductSeasonality, string) {
	if len(curves) == 0 {
		return FlatSeasonality("", "", year), fmt.Sprintf("no seasonality configured, using a flat curve for %d", year)
	}
	sorted := append([]ProductSeasonality(nil), curves...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Year < sorted[j].Year })

	var earlier, later *ProductSeasonality
	for i := range sorted {
		c := &sorted[i]
		switch {
		case c.Year == year:
			return *c, ""
		case c.Year < year:
			earlier = c
		case later == nil:
			later = c
		}
	}
	if earlier != nil {
		return *earlier, fmt.Sprintf("no seasonality for %d, using %d", year, earlier.Year)
	}
	return *later, fmt.Sprintf("no seasonality for %d, using %d", year, later.Year)
}
