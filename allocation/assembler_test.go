package allocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/generic"
)

func assemble(t *testing.T, opts allocation.Options, snap allocation.Snapshot, req allocation.Request) *allocation.Result {
	t.Helper()
	res, err := allocation.NewAssembler(opts).Assemble(context.Background(), snap, req, "plan-1")
	require.NoError(t, err)
	return res
}

func destinationsByNode(details []allocation.PlanDetail) map[allocation.NodeCode]int {
	out := make(map[allocation.NodeCode]int)
	for _, d := range details {
		out[d.Destination]++
	}
	return out
}

func TestAssemble_BalancedTwoCity(t *testing.T) {
	// GIVEN: Capacity far above demand
	res := assemble(t, allocation.DefaultOptions(), twoCitySnapshot(50), scenarioRequest())

	// THEN: Every event is placed and destinations follow the 60/40 matrix
	assert.Equal(t, 360, res.Plan.CalculatedEvents)
	assert.Zero(t, res.Plan.UnassignedEvents)
	assert.Empty(t, res.Deficits)
	require.Len(t, res.Details, 360)
	assert.Equal(t, map[allocation.NodeCode]int{"MAD-01": 216, "BCN-01": 144}, destinationsByNode(res.Details))
	assert.Equal(t, allocation.ByClassificationMatrix, res.WeightSource)
	assert.Equal(t, 50, res.Capacity)
	assert.Equal(t, allocation.StatusDraft, res.Plan.Status)
	assert.Equal(t, allocation.MergeAppend, res.Plan.MergeStrategy)

	// THEN: The only possible pairing is the other city
	for _, d := range res.Details {
		assert.NotEqual(t, d.Origin, d.Destination)
		assert.Equal(t, allocation.PlanID("plan-1"), d.PlanID)
	}

	// THEN: Breakdown percentages are of calculated events
	require.Len(t, res.Breakdown, 2)
	assert.Equal(t, allocation.CityID("bcn"), res.Breakdown[0].CityID)
	assert.Equal(t, "40", res.Breakdown[0].Percentage.String())
	assert.Equal(t, "60", res.Breakdown[1].Percentage.String())
	assert.Equal(t, 360, res.Breakdown[1].Nodes[0].NewEvents, "both ends count")
}

func TestAssemble_CapacityOverrideProducesDeficits(t *testing.T) {
	// GIVEN: The account allows 50 but the request caps at 10
	req := scenarioRequest()
	tight := 10
	req.CapacityOverride = &tight

	res := assemble(t, allocation.DefaultOptions(), twoCitySnapshot(50), req)

	// THEN: 10 events fit per week, split 6/4 like the demand
	assert.Equal(t, 10, res.Capacity)
	assert.Equal(t, 360, res.Plan.CalculatedEvents)
	assert.Equal(t, 220, res.Plan.UnassignedEvents)
	assert.Len(t, res.Details, 140)
	require.Len(t, res.Deficits, 2)
	assert.Equal(t, allocation.Deficit{CityID: "bcn", CityName: "Barcelona", Classification: allocation.ClassB, Count: 88}, res.Deficits[0])
	assert.Equal(t, allocation.Deficit{CityID: "mad", CityName: "Madrid", Classification: allocation.ClassA, Count: 132}, res.Deficits[1])
	for _, w := range res.Weeks {
		assert.Equal(t, 10, w.Placed)
	}
	assert.Equal(t, map[allocation.NodeCode]int{"MAD-01": 84, "BCN-01": 56}, destinationsByNode(res.Details))
}

func TestAssemble_CapacityFallsBackToDefault(t *testing.T) {
	snap := twoCitySnapshot(50)
	snap.HasCapacity = false

	res := assemble(t, allocation.Options{DefaultCapacity: 7}, snap, scenarioRequest())

	assert.Equal(t, 7, res.Capacity)
}

func TestAssemble_RespectsCapacityAndEligibility(t *testing.T) {
	// GIVEN: Three tiers, ineligible nodes, one node already over its cap
	snap := threeTierSnapshot()
	req := scenarioRequest()
	req.StartDate = generic.Date(2025, time.March, 1)
	req.EndDate = generic.Date(2025, time.March, 31)
	req.TotalEvents = 2400

	// WHEN: Demand far exceeds capacity
	res := assemble(t, allocation.DefaultOptions(), snap, req)

	// THEN: 8% of 2400 over 6 ISO weeks
	assert.Equal(t, 192, res.Plan.CalculatedEvents)
	require.Len(t, res.Weeks, 6)
	assert.Positive(t, res.Plan.UnassignedEvents)

	// THEN: No node exceeds its weekly cap once existing load is counted
	for nw, n := range weeklyLoad(res.Details) {
		existing := snap.Load.At(nw.node, nw.week)
		assert.LessOrEqual(t, n, max(0, 8-existing), "%s in %v", nw.node, nw.week)
	}
	vlcBusy := generic.WeekOf(generic.Date(2025, time.March, 10))
	assert.Zero(t, weeklyLoad(res.Details)[nodeWeek{"VLC-01", vlcBusy}])

	// THEN: Every event has distinct eligible ends
	for _, d := range res.Details {
		assert.NotEqual(t, d.Origin, d.Destination)
		for _, code := range []allocation.NodeCode{d.Origin, d.Destination} {
			n, ok := snap.Topology.Node(code)
			require.True(t, ok)
			assert.True(t, n.Eligible(), "%s is not eligible", code)
		}
	}

	// THEN: Conservation holds per week and over the plan
	for _, w := range res.Weeks {
		assert.Equal(t, w.Quota, w.Placed+w.Unassigned, "week %v", w.Week)
	}
	assert.Equal(t, res.Plan.CalculatedEvents, len(res.Details)+res.Plan.UnassignedEvents)
	assert.Equal(t, res.Plan.UnassignedEvents, allocation.TotalDeficit(res.Deficits))

	// THEN: Scheduled dates stay inside the period and rows are ordered
	period := res.Plan.Period()
	for i, d := range res.Details {
		assert.True(t, period.Contains(d.ScheduledDate))
		if i > 0 {
			assert.False(t, d.ScheduledDate.Before(res.Details[i-1].ScheduledDate))
		}
	}
}

func TestAssemble_ClassWithoutCityIsClassLevelDeficit(t *testing.T) {
	// GIVEN: 20% of demand comes from C columns but no C city exists
	snap := twoCitySnapshot(50)
	snap.Matrix = []allocation.ClassificationMatrixRow{
		matrixRow(allocation.ClassA, 50, 30, 20),
		matrixRow(allocation.ClassB, 50, 30, 20),
	}

	res := assemble(t, allocation.DefaultOptions(), snap, scenarioRequest())

	// THEN: The C share is reported after the city deficits
	require.NotEmpty(t, res.Deficits)
	last := res.Deficits[len(res.Deficits)-1]
	assert.Equal(t, allocation.CityID(""), last.CityID)
	assert.Equal(t, allocation.ClassC, last.Classification)
	assert.InDelta(t, 72, last.Count, 1)
	assert.Equal(t, res.Plan.CalculatedEvents, len(res.Details)+res.Plan.UnassignedEvents)
}

func TestAssemble_UnweightedOriginClassIsDeficit(t *testing.T) {
	// GIVEN: Each class only draws from itself and Madrid has a second node
	snap := twoCitySnapshot(50)
	snap.Topology.Nodes = append(snap.Topology.Nodes, node("MAD-02", "mad"))
	snap.Matrix = []allocation.ClassificationMatrixRow{
		matrixRow(allocation.ClassA, 100, 0, 0),
		matrixRow(allocation.ClassB, 0, 100, 0),
	}

	res := assemble(t, allocation.DefaultOptions(), snap, scenarioRequest())

	// THEN: Madrid pairs inside Madrid, Barcelona has no valid origin
	require.Len(t, res.Details, 180)
	for _, d := range res.Details {
		assert.Contains(t, []allocation.NodeCode{"MAD-01", "MAD-02"}, d.Origin)
		assert.Contains(t, []allocation.NodeCode{"MAD-01", "MAD-02"}, d.Destination)
		assert.NotEqual(t, d.Origin, d.Destination)
	}
	require.Len(t, res.Deficits, 1)
	assert.Equal(t, allocation.CityID("bcn"), res.Deficits[0].CityID)
	assert.Equal(t, 180, res.Deficits[0].Count)
	assert.Equal(t, 180, res.Plan.UnassignedEvents)
}

func TestAssemble_NoEligibleNodes(t *testing.T) {
	snap := twoCitySnapshot(50)
	for i := range snap.Topology.Nodes {
		snap.Topology.Nodes[i].Status = allocation.NodeInactive
	}

	res := assemble(t, allocation.DefaultOptions(), snap, scenarioRequest())

	assert.Empty(t, res.Details)
	assert.Equal(t, 360, res.Plan.UnassignedEvents)
	assert.Equal(t, 360, allocation.TotalDeficit(res.Deficits))
}

func TestAssemble_InvalidConfigurationBecomesWarnings(t *testing.T) {
	// GIVEN: A broken matrix row and a curve that does not sum to 100
	snap := twoCitySnapshot(50)
	snap.Matrix = append(snap.Matrix, matrixRow(allocation.ClassC, 10, 10, 10))
	snap.Seasonality = []allocation.ProductSeasonality{curve("letter", 2025, 50, 50, 50, 0, 0, 0, 0, 0, 0, 0, 0, 0)}

	res := assemble(t, allocation.DefaultOptions(), snap, scenarioRequest())

	// THEN: Bad rows are skipped, the run falls back to a flat curve
	assert.Len(t, res.Warnings, 3)
	assert.Equal(t, 300, res.Plan.CalculatedEvents)
}

func TestAssemble_IsDeterministic(t *testing.T) {
	snap := threeTierSnapshot()
	req := scenarioRequest()
	req.TotalEvents = 800

	first := assemble(t, allocation.DefaultOptions(), snap, req)
	second := assemble(t, allocation.DefaultOptions(), snap, req)
	opts := allocation.DefaultOptions()
	opts.Concurrency = 1
	serial := assemble(t, opts, snap, req)

	assert.Equal(t, first.Details, second.Details)
	assert.Equal(t, first.Details, serial.Details)
	assert.Equal(t, first.Deficits, serial.Deficits)
}

func TestAssemble_RejectsInvalidRequest(t *testing.T) {
	req := scenarioRequest()
	req.EndDate = req.StartDate

	_, err := allocation.NewAssembler(allocation.DefaultOptions()).Assemble(context.Background(), twoCitySnapshot(50), req, "x")

	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

func TestAssemble_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := allocation.NewAssembler(allocation.DefaultOptions()).Assemble(ctx, twoCitySnapshot(50), scenarioRequest(), "x")

	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// GENERATOR
// =============================================================================

func TestLoadSnapshot_ReplaceExcludesOwnPending(t *testing.T) {
	// GIVEN: Two PENDING events of the tuple and one of another product
	ctx := context.Background()
	m := seedStore(t, twoCitySnapshot(50))
	other := pendingEvent("e3", generic.Date(2025, time.February, 4))
	other.ProductID = "parcel"
	require.NoError(t, m.SeedEvents(ctx, []allocation.Event{
		pendingEvent("e1", generic.Date(2025, time.February, 3)),
		pendingEvent("e2", generic.Date(2025, time.February, 4)),
		other,
	}))
	week := generic.WeekOf(generic.Date(2025, time.February, 3))

	// WHEN: Loading for append and for replace
	req := scenarioRequest()
	appendSnap, err := allocation.LoadSnapshot(ctx, m, req)
	require.NoError(t, err)
	req.MergeStrategy = allocation.MergeReplace
	replaceSnap, err := allocation.LoadSnapshot(ctx, m, req)
	require.NoError(t, err)

	// THEN: Replace ignores the events it will delete
	assert.Equal(t, 3, appendSnap.Load.At("MAD-01", week))
	assert.Equal(t, 3, appendSnap.Load.At("BCN-01", week))
	assert.Equal(t, 1, replaceSnap.Load.At("MAD-01", week))
	assert.True(t, replaceSnap.HasCapacity)
	assert.Len(t, replaceSnap.Topology.Nodes, 2)
}

func TestGenerator_PreviewDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	m := seedStore(t, twoCitySnapshot(50))
	g := allocation.NewGenerator(m, m, allocation.DefaultOptions())

	res, err := g.Preview(ctx, scenarioRequest())
	require.NoError(t, err)
	assert.Equal(t, 360, len(res.Details))

	plans, err := m.ListPlans(ctx, allocation.PlanFilter{})
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestGenerator_CreateStoresDraft(t *testing.T) {
	ctx := context.Background()
	m := seedStore(t, twoCitySnapshot(50))
	now := time.Date(2025, time.January, 20, 9, 0, 0, 0, time.UTC)
	g := allocation.NewGenerator(m, m, allocation.DefaultOptions(), allocation.WithClock(func() time.Time { return now }))

	res, err := g.Create(ctx, scenarioRequest())
	require.NoError(t, err)

	stored, err := m.GetPlan(ctx, res.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, allocation.StatusDraft, stored.Status)
	assert.Equal(t, 360, stored.CalculatedEvents)
	assert.Equal(t, 1200, stored.TotalEvents)
	assert.True(t, stored.CreatedAt.Equal(now))

	details, err := m.PlanDetails(ctx, res.Plan.ID)
	require.NoError(t, err)
	assert.Len(t, details, 360)
}

func TestGenerator_CreateWithoutPlanStore(t *testing.T) {
	m := seedStore(t, twoCitySnapshot(50))
	g := allocation.NewGenerator(m, nil, allocation.DefaultOptions())

	_, err := g.Create(context.Background(), scenarioRequest())

	assert.ErrorIs(t, err, generic.ErrStoreRequired)
}
