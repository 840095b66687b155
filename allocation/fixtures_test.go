package allocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/store/memory"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

const testAccount allocation.AccountID = "acme"

var testTuple = allocation.Tuple{AccountID: testAccount, CarrierID: "post", ProductID: "letter"}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func city(id allocation.CityID, name string, class allocation.Classification) allocation.City {
	return allocation.City{ID: id, AccountID: testAccount, Name: name, Classification: class}
}

func node(code allocation.NodeCode, city allocation.CityID) allocation.Node {
	return allocation.Node{Code: code, AccountID: testAccount, CityID: city,
		PanelistID: allocation.PanelistID("pan-" + string(code)), Status: allocation.NodeActive}
}

func matrixRow(dest allocation.Classification, a, b, c int64) allocation.ClassificationMatrixRow {
	return allocation.ClassificationMatrixRow{AccountID: testAccount, Destination: dest, FromA: dec(a), FromB: dec(b), FromC: dec(c)}
}

// curve returns a seasonality row from twelve monthly percentages.
func curve(product allocation.ProductID, year int, months ...int64) allocation.ProductSeasonality {
	s := allocation.ProductSeasonality{AccountID: testAccount, ProductID: product, Year: year}
	for i, m := range months {
		s.Months[i] = dec(m)
	}
	return s
}

// tenPercent is 10% for January to October and nothing in November/December.
func tenPercent() allocation.ProductSeasonality {
	return curve("letter", 2025, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 0, 0)
}

// twoCitySnapshot is one A city and one B city with a single panelist each.
func twoCitySnapshot(weeklyCap int) allocation.Snapshot {
	return allocation.Snapshot{
		Topology: allocation.Topology{
			Cities: []allocation.City{city("mad", "Madrid", allocation.ClassA), city("bcn", "Barcelona", allocation.ClassB)},
			Nodes:  []allocation.Node{node("MAD-01", "mad"), node("BCN-01", "bcn")},
		},
		Matrix:      []allocation.ClassificationMatrixRow{matrixRow(allocation.ClassA, 60, 40, 0), matrixRow(allocation.ClassB, 60, 40, 0)},
		Seasonality: []allocation.ProductSeasonality{tenPercent()},
		Capacity:    allocation.CapacityConfig{AccountID: testAccount, MaxEventsPerPanelistWeek: weeklyCap},
		HasCapacity: true,
	}
}

// threeTierSnapshot has ineligible nodes and existing load.
func threeTierSnapshot() allocation.Snapshot {
	inactive := node("VLC-02", "vlc")
	inactive.Status = allocation.NodeInactive
	noPanelist := node("MAD-03", "mad")
	noPanelist.PanelistID = ""

	load := make(allocation.ExistingLoad)
	load.Add("MAD-01", generic.WeekOf(generic.Date(2025, time.March, 3)), 5)
	load.Add("VLC-01", generic.WeekOf(generic.Date(2025, time.March, 10)), 12)

	return allocation.Snapshot{
		Topology: allocation.Topology{
			Cities: []allocation.City{
				city("mad", "Madrid", allocation.ClassA),
				city("bcn", "Barcelona", allocation.ClassA),
				city("vlc", "Valencia", allocation.ClassB),
				city("sor", "Soria", allocation.ClassC),
			},
			Nodes: []allocation.Node{
				node("MAD-01", "mad"), node("MAD-02", "mad"), noPanelist,
				node("BCN-01", "bcn"),
				node("VLC-01", "vlc"), inactive,
				node("SOR-01", "sor"),
			},
		},
		Matrix: []allocation.ClassificationMatrixRow{
			matrixRow(allocation.ClassA, 50, 35, 15),
			matrixRow(allocation.ClassB, 40, 40, 20),
			matrixRow(allocation.ClassC, 50, 50, 0),
		},
		Seasonality: []allocation.ProductSeasonality{curve("letter", 2025, 6, 6, 8, 9, 9, 8, 7, 6, 9, 10, 11, 11)},
		Capacity:    allocation.CapacityConfig{AccountID: testAccount, MaxEventsPerPanelistWeek: 8},
		HasCapacity: true,
		Load:        load,
	}
}

func scenarioRequest() allocation.Request {
	return allocation.Request{
		AccountID:   testAccount,
		CarrierID:   "post",
		ProductID:   "letter",
		StartDate:   generic.Date(2025, time.February, 1),
		EndDate:     generic.Date(2025, time.April, 30),
		TotalEvents: 1200,
	}
}

// seedStore writes a snapshot's configuration into a memory store.
func seedStore(t *testing.T, snap allocation.Snapshot) *memory.Store {
	t.Helper()
	ctx := context.Background()
	m := memory.New()
	for _, c := range snap.Topology.Cities {
		require.NoError(t, m.SaveCity(ctx, c))
	}
	for _, n := range snap.Topology.Nodes {
		require.NoError(t, m.SaveNode(ctx, n))
	}
	for _, r := range snap.Matrix {
		require.NoError(t, m.SaveMatrixRow(ctx, r))
	}
	for _, s := range snap.Seasonality {
		require.NoError(t, m.SaveSeasonality(ctx, s))
	}
	if snap.HasCapacity {
		require.NoError(t, m.SaveCapacity(ctx, snap.Capacity))
	}
	return m
}

func pendingEvent(id allocation.EventID, day time.Time) allocation.Event {
	return allocation.Event{
		ID: id, AccountID: testAccount, CarrierID: testTuple.CarrierID, ProductID: testTuple.ProductID,
		Origin: "BCN-01", Destination: "MAD-01", ScheduledDate: day, Status: allocation.EventPending,
	}
}

type nodeWeek struct {
	node allocation.NodeCode
	week generic.WeekKey
}

// weeklyLoad counts details per node and ISO week, both ends.
func weeklyLoad(details []allocation.PlanDetail) map[nodeWeek]int {
	out := make(map[nodeWeek]int)
	for _, d := range details {
		w := generic.WeekOf(d.ScheduledDate)
		out[nodeWeek{d.Origin, w}]++
		out[nodeWeek{d.Destination, w}]++
	}
	return out
}
