package allocation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// BREAKDOWN - Per-city review structure
// =============================================================================

// NodeBreakdown is the load of one node over the plan period. An event counts
// for a node when the node is its origin or its destination.
type NodeBreakdown struct {
	Code           NodeCode
	Eligible       bool
	ExistingEvents int
	NewEvents      int
	TotalEvents    int
	EventsPerWeek  decimal.Decimal
}

// CityBreakdown summarizes a destination city.
type CityBreakdown struct {
	CityID         CityID
	CityName       string
	Classification Classification
	TotalEvents    int             // planned events with a destination in the city
	Percentage     decimal.Decimal // of calculated events
	Unassigned     int
	Nodes          []NodeBreakdown
}

// BuildBreakdown derives the per-city review structure from detail rows. It
// works the same for freshly generated and imported details.
func BuildBreakdown(topo Topology, details []PlanDetail, load ExistingLoad, weeks []generic.WeekSlice, calculated int, deficits []Deficit) []CityBreakdown {
	newByNode := make(map[NodeCode]int)
	destByCity := make(map[CityID]int)
	for _, d := range details {
		newByNode[d.Origin]++
		newByNode[d.Destination]++
		if n, ok := topo.Node(d.Destination); ok {
			destByCity[n.CityID]++
		}
	}
	deficitByCity := make(map[CityID]int)
	for _, d := range deficits {
		if d.CityID != "" {
			deficitByCity[d.CityID] += d.Count
		}
	}

	nodesByCity := make(map[CityID][]Node)
	for _, n := range topo.Nodes {
		nodesByCity[n.CityID] = append(nodesByCity[n.CityID], n)
	}

	weekCount := decimal.NewFromInt(int64(max(len(weeks), 1)))
	out := make([]CityBreakdown, 0, len(topo.Cities))
	for _, c := range topo.SortedCities() {
		cb := CityBreakdown{
			CityID:         c.ID,
			CityName:       c.Name,
			Classification: c.Classification,
			TotalEvents:    destByCity[c.ID],
			Percentage:     percentOf(destByCity[c.ID], calculated),
			Unassigned:     deficitByCity[c.ID],
		}
		nodes := nodesByCity[c.ID]
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Code < nodes[j].Code })
		for _, n := range nodes {
			existing := load.InPeriod(n.Code, weeks)
			total := existing + newByNode[n.Code]
			cb.Nodes = append(cb.Nodes, NodeBreakdown{
				Code:           n.Code,
				Eligible:       n.Eligible(),
				ExistingEvents: existing,
				NewEvents:      newByNode[n.Code],
				TotalEvents:    total,
				EventsPerWeek:  decimal.NewFromInt(int64(total)).Div(weekCount).Round(2),
			})
		}
		out = append(out, cb)
	}
	return out
}

func percentOf(part, whole int) decimal.Decimal {
	if whole <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).Mul(hundred).Div(decimal.NewFromInt(int64(whole))).Round(2)
}
