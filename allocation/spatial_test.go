package allocation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/generic"
)

func buckets(quotas ...int) []allocation.WeekBucket {
	out := make([]allocation.WeekBucket, len(quotas))
	for i, q := range quotas {
		out[i] = allocation.WeekBucket{Index: i, Quota: q}
	}
	return out
}

// =============================================================================
// CITY DEMAND
// =============================================================================

func TestCityDemand_CarriesRoundingAcrossWeeks(t *testing.T) {
	// GIVEN: Two cities weighted 2:1 and one event per week
	shares := []allocation.Share{
		{CityID: "a", Weight: 2},
		{CityID: "b", Weight: 1},
	}

	// WHEN: Splitting six weeks
	demand := allocation.SpatialAllocator{}.CityDemand(buckets(1, 1, 1, 1, 1, 1), shares)

	// THEN: Period totals follow the weights instead of always rounding to "a"
	var seq []string
	totals := make([]int, 2)
	for _, row := range demand {
		require.Equal(t, 1, generic.Sum(row))
		for i, n := range row {
			totals[i] += n
			if n > 0 {
				seq = append(seq, string(shares[i].CityID))
			}
		}
	}
	assert.Equal(t, []int{4, 2}, totals)
	assert.Equal(t, []string{"a", "b", "a", "a", "b", "a"}, seq)
}

func TestCityDemand_RowsSumToQuota(t *testing.T) {
	shares := []allocation.Share{
		{CityID: "a", Weight: 50},
		{CityID: "b", Weight: 35},
		{CityID: "c", Weight: 15},
		{CityID: "d", Weight: 0},
	}
	demand := allocation.SpatialAllocator{}.CityDemand(buckets(26, 26, 25, 0, 3, 101), shares)

	for k, q := range []int{26, 26, 25, 0, 3, 101} {
		assert.Equal(t, q, generic.Sum(demand[k]), "week %d", k)
		assert.Zero(t, demand[k][3], "zero weight gets nothing")
	}
}

// =============================================================================
// PLACEMENT
// =============================================================================

func TestPlace_HoldsBackOriginReserve(t *testing.T) {
	// GIVEN: One node with cap 8 and half reserved for origins
	snap := twoCitySnapshot(8)
	week := generic.WeekOf(generic.Date(2025, time.March, 3))
	ledger := allocation.NewLedger(snap.Topology, nil, week, 8)
	shares := []allocation.Share{{CityID: "mad", CityName: "Madrid", Classification: allocation.ClassA, Weight: 1}}

	// WHEN: Placing 5 events
	placements, deficits := allocation.SpatialAllocator{OriginReserve: 0.5}.Place([]int{5}, shares, snap.Topology, ledger)

	// THEN: 4 land, 1 is a city deficit
	require.Len(t, placements, 1)
	assert.Equal(t, allocation.Placement{Node: "MAD-01", CityID: "mad", Count: 4}, placements[0])
	require.Len(t, deficits, 1)
	assert.Equal(t, allocation.Deficit{CityID: "mad", CityName: "Madrid", Classification: allocation.ClassA, Count: 1}, deficits[0])
	assert.Equal(t, 4, ledger.Remaining("MAD-01"))
}

func TestPlace_SplitsByHeadroom(t *testing.T) {
	// GIVEN: MAD-01 has 5 existing events in the week, MAD-02 none
	snap := threeTierSnapshot()
	week := generic.WeekOf(generic.Date(2025, time.March, 3))
	ledger := allocation.NewLedger(snap.Topology, snap.Load, week, 8)
	shares := []allocation.Share{{CityID: "mad", Weight: 1}}

	// WHEN: Placing with no reserve
	placements, deficits := allocation.SpatialAllocator{}.Place([]int{11}, shares, snap.Topology, ledger)

	// THEN: Headroom 3 and 8 is filled exactly, MAD-03 without panelist gets nothing
	assert.Empty(t, deficits)
	got := map[allocation.NodeCode]int{}
	for _, p := range placements {
		got[p.Node] = p.Count
	}
	assert.Equal(t, map[allocation.NodeCode]int{"MAD-01": 3, "MAD-02": 8}, got)
}

func TestPlace_ClassLevelSlotIsDeficit(t *testing.T) {
	snap := twoCitySnapshot(50)
	ledger := allocation.NewLedger(snap.Topology, nil, generic.WeekKey{Year: 2025, Week: 10}, 50)
	shares := []allocation.Share{{Classification: allocation.ClassC, Weight: 1}}

	placements, deficits := allocation.SpatialAllocator{}.Place([]int{7}, shares, snap.Topology, ledger)

	assert.Empty(t, placements)
	require.Len(t, deficits, 1)
	assert.Equal(t, allocation.CityID(""), deficits[0].CityID)
	assert.Equal(t, allocation.ClassC, deficits[0].Classification)
	assert.Equal(t, 7, deficits[0].Count)
}

func TestBudget_KeepsCitySharesUnderTightCapacity(t *testing.T) {
	// GIVEN: Two nodes with cap 10 can pair 10 events, demand is 10/16
	snap := twoCitySnapshot(10)
	ledger := allocation.NewLedger(snap.Topology, nil, generic.WeekKey{Year: 2025, Week: 6}, 10)
	shares := []allocation.Share{
		{CityID: "bcn", Weight: 40},
		{CityID: "mad", Weight: 60},
		{Classification: allocation.ClassC, Weight: 10},
	}

	// WHEN: Budgeting the week
	kept, overflow := allocation.SpatialAllocator{}.Budget([]int{10, 16, 3}, shares, ledger)

	// THEN: Cities keep 4/6, class-level demand is untouched
	assert.Equal(t, 20, ledger.Total())
	assert.Equal(t, []int{4, 6, 3}, kept)
	assert.Equal(t, []int{6, 10, 0}, overflow)

	// THEN: Demand within the budget passes through
	kept, overflow = allocation.SpatialAllocator{}.Budget([]int{4, 5, 0}, shares, ledger)
	assert.Equal(t, []int{4, 5, 0}, kept)
	assert.Equal(t, []int{0, 0, 0}, overflow)
}

func TestMergeDeficits(t *testing.T) {
	merged := allocation.MergeDeficits(
		[]allocation.Deficit{{CityID: "mad", Count: 2}, {Classification: allocation.ClassC, Count: 1}},
		[]allocation.Deficit{{CityID: "bcn", Count: 3}, {CityID: "mad", Count: 1}, {CityID: "vlc", Count: 0}},
		[]allocation.Deficit{{Classification: allocation.ClassC, Count: 4}},
	)

	require.Len(t, merged, 3)
	assert.Equal(t, allocation.CityID("bcn"), merged[0].CityID)
	assert.Equal(t, 3, merged[0].Count)
	assert.Equal(t, allocation.CityID("mad"), merged[1].CityID)
	assert.Equal(t, 3, merged[1].Count)
	assert.Equal(t, allocation.CityID(""), merged[2].CityID)
	assert.Equal(t, 5, merged[2].Count)
	assert.Equal(t, 11, allocation.TotalDeficit(merged))
}

// =============================================================================
// WEIGHT SOURCES
// =============================================================================

func TestSelectWeightSource(t *testing.T) {
	matrix, issues := allocation.SplitMatrix(twoCitySnapshot(50).Matrix)
	require.Empty(t, issues)
	reqs := []allocation.CityRequirement{{AccountID: testAccount, CityID: "mad", FromA: 1, FromB: 2}}

	tests := []struct {
		name       string
		matrix     map[allocation.Classification]allocation.ClassificationMatrixRow
		reqs       []allocation.CityRequirement
		precedence allocation.WeightSourceKind
		want       allocation.WeightSourceKind
		warns      bool
	}{
		{"both, requirements first", matrix, reqs, allocation.ByCityRequirement, allocation.ByCityRequirement, false},
		{"both, matrix first", matrix, reqs, allocation.ByClassificationMatrix, allocation.ByClassificationMatrix, false},
		{"matrix only", matrix, nil, allocation.ByCityRequirement, allocation.ByClassificationMatrix, false},
		{"requirements only", nil, reqs, allocation.ByClassificationMatrix, allocation.ByCityRequirement, false},
		{"zero requirements count as none", nil, []allocation.CityRequirement{{CityID: "mad"}}, allocation.ByCityRequirement, allocation.ByUniform, true},
		{"nothing", nil, nil, allocation.ByCityRequirement, allocation.ByUniform, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, warnings := allocation.SelectWeightSource(tt.matrix, tt.reqs, tt.precedence)
			assert.Equal(t, tt.want, src.Kind())
			assert.Equal(t, tt.warns, len(warnings) > 0)
		})
	}
}

func TestMatrixSource_SplitsClassWeightAmongCities(t *testing.T) {
	// GIVEN: Two A cities, one B, one C; column sums A=140 B=125 C=35
	snap := threeTierSnapshot()
	matrix, _ := allocation.SplitMatrix(snap.Matrix)

	shares := allocation.NewMatrixSource(matrix).Shares(snap.Topology)

	byCity := map[allocation.CityID]float64{}
	for _, s := range shares {
		byCity[s.CityID] = s.Weight
	}
	assert.InDelta(t, 70, byCity["bcn"], 1e-9)
	assert.InDelta(t, 70, byCity["mad"], 1e-9)
	assert.InDelta(t, 125, byCity["vlc"], 1e-9)
	assert.InDelta(t, 35, byCity["sor"], 1e-9)
}

func TestMatrixSource_ClassWithoutCityGetsSlot(t *testing.T) {
	// GIVEN: Rows give weight to C but the topology has no C city
	snap := twoCitySnapshot(50)
	matrix, _ := allocation.SplitMatrix([]allocation.ClassificationMatrixRow{
		matrixRow(allocation.ClassA, 50, 30, 20),
		matrixRow(allocation.ClassB, 50, 30, 20),
	})

	shares := allocation.NewMatrixSource(matrix).Shares(snap.Topology)

	require.Len(t, shares, 3)
	assert.Equal(t, allocation.CityID("bcn"), shares[0].CityID)
	assert.Equal(t, allocation.CityID("mad"), shares[1].CityID)
	assert.Equal(t, allocation.CityID(""), shares[2].CityID)
	assert.Equal(t, allocation.ClassC, shares[2].Classification)
	assert.InDelta(t, 40, shares[2].Weight, 1e-9)
}

func TestCityRequirementSource(t *testing.T) {
	snap := twoCitySnapshot(50)
	src := allocation.NewCityRequirementSource([]allocation.CityRequirement{
		{CityID: "mad", FromA: 10, FromB: 5},
		{CityID: "bcn", FromC: 3},
	})

	shares := src.Shares(snap.Topology)

	require.Len(t, shares, 2)
	assert.Equal(t, allocation.CityID("bcn"), shares[0].CityID)
	assert.InDelta(t, 3, shares[0].Weight, 1e-9)
	assert.InDelta(t, 15, shares[1].Weight, 1e-9)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger(t *testing.T) {
	snap := threeTierSnapshot()
	week := generic.WeekOf(generic.Date(2025, time.March, 10))

	l := allocation.NewLedger(snap.Topology, snap.Load, week, 8)

	assert.Equal(t, week, l.Week())
	assert.Equal(t, 8, l.Remaining("MAD-01"), "load of another week does not count")
	assert.Equal(t, 0, l.Remaining("VLC-01"), "over-committed node has no headroom")
	assert.Equal(t, 0, l.Remaining("VLC-02"), "inactive node")
	assert.Equal(t, 0, l.Remaining("MAD-03"), "node without panelist")
	assert.Equal(t, 0, l.Remaining("NOPE"))

	assert.False(t, l.Consume("MAD-01", 9))
	assert.Equal(t, 8, l.Remaining("MAD-01"))
	assert.True(t, l.Consume("MAD-01", 6))
	assert.Equal(t, 2, l.Remaining("MAD-01"))
	assert.Equal(t, 6, l.Committed("MAD-01"))

	l.Release("MAD-01", 10)
	assert.Equal(t, 8, l.Remaining("MAD-01"), "release is bounded by what was consumed")
	assert.Zero(t, l.Committed("MAD-01"))
}

// =============================================================================
// ROUTE PAIRING
// =============================================================================

func TestRoutePairer_NeverPairsDestinationWithItself(t *testing.T) {
	snap := threeTierSnapshot()
	matrix, _ := allocation.SplitMatrix(snap.Matrix)
	pairer := allocation.NewRoutePairer(snap.Topology, matrix, nil)
	ledger := allocation.NewLedger(snap.Topology, nil, generic.WeekKey{Year: 2025, Week: 12}, 100)
	picker := generic.NewPicker(generic.Seed("pairing"), 0)

	for i := 0; i < 200; i++ {
		origin, ok := pairer.Pair("MAD-01", ledger, picker)
		require.True(t, ok)
		assert.NotEqual(t, allocation.NodeCode("MAD-01"), origin)
		assert.NotContains(t, []allocation.NodeCode{"MAD-03", "VLC-02"}, origin)
	}
}

func TestRoutePairer_ConsumesOriginHeadroom(t *testing.T) {
	snap := twoCitySnapshot(2)
	matrix, _ := allocation.SplitMatrix(snap.Matrix)
	pairer := allocation.NewRoutePairer(snap.Topology, matrix, nil)
	ledger := allocation.NewLedger(snap.Topology, nil, generic.WeekKey{Year: 2025, Week: 12}, 2)
	picker := generic.NewPicker(1, 1)

	// GIVEN: BCN-01 is the only possible origin for MAD-01
	for i := 0; i < 2; i++ {
		origin, ok := pairer.Pair("MAD-01", ledger, picker)
		require.True(t, ok)
		assert.Equal(t, allocation.NodeCode("BCN-01"), origin)
	}

	// THEN: Once BCN-01 is full no origin is left
	_, ok := pairer.Pair("MAD-01", ledger, picker)
	assert.False(t, ok)
	assert.Equal(t, 2, ledger.Remaining("MAD-01"))
}

func TestRoutePairer_ZeroWeightClassIsNeverAnOrigin(t *testing.T) {
	// GIVEN: A cities only draw from A, B cities only from B
	snap := twoCitySnapshot(50)
	matrix, _ := allocation.SplitMatrix([]allocation.ClassificationMatrixRow{
		matrixRow(allocation.ClassA, 100, 0, 0),
		matrixRow(allocation.ClassB, 0, 100, 0),
	})
	pairer := allocation.NewRoutePairer(snap.Topology, matrix, nil)
	ledger := allocation.NewLedger(snap.Topology, nil, generic.WeekKey{Year: 2025, Week: 12}, 50)
	picker := generic.NewPicker(1, 1)

	// WHEN: MAD-01's only other candidate is the B node BCN-01
	_, ok := pairer.Pair("MAD-01", ledger, picker)

	// THEN: No route is made and BCN-01 keeps its headroom
	assert.False(t, ok)
	assert.Equal(t, 50, ledger.Remaining("BCN-01"))
}

func TestRoutePairer_IsDeterministic(t *testing.T) {
	snap := threeTierSnapshot()
	matrix, _ := allocation.SplitMatrix(snap.Matrix)
	draw := func() []allocation.NodeCode {
		pairer := allocation.NewRoutePairer(snap.Topology, matrix, nil)
		ledger := allocation.NewLedger(snap.Topology, nil, generic.WeekKey{Year: 2025, Week: 12}, 20)
		picker := generic.NewPicker(generic.Seed("acme", "post"), 3)
		var out []allocation.NodeCode
		for i := 0; i < 40; i++ {
			origin, ok := pairer.Pair("SOR-01", ledger, picker)
			if !ok {
				break
			}
			out = append(out, origin)
		}
		return out
	}

	first := draw()
	assert.Equal(t, first, draw())
	assert.Len(t, first, 40)
}
