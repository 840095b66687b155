package allocation

import (
	"math"
	"sort"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// SPATIAL ALLOCATOR - Week quota -> cities -> destination nodes
// =============================================================================

// DefaultOriginReserve is the share of a node's headroom held back during
// destination placement so the node can still be picked as an origin.
const DefaultOriginReserve = 0.5

// Deficit is demand that found no capacity. An empty CityID marks a
// classification with weight but no city in the topology.
type Deficit struct {
	CityID         CityID
	CityName       string
	Classification Classification
	Count          int
}

// Placement is a number of events landing on one destination node.
type Placement struct {
	Node   NodeCode
	CityID CityID
	Count  int
}

// SpatialAllocator apportions week quotas to cities and nodes.
type SpatialAllocator struct {
	// OriginReserve is in [0, 1). Zero places destinations against full headroom.
	OriginReserve float64
}

// CityDemand splits every week quota across shares by largest remainder.
// Rounding is carried from week to week: after each week a share's running
// total stays within one event of its exact proportional target, so the
// period totals follow the weights even when every week rounds the same way.
// Row k of the result sums to buckets[k].Quota.
func (SpatialAllocator) CityDemand(buckets []WeekBucket, shares []Share) [][]int {
	weights := shareWeights(shares)
	var sum float64
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}

	demand := make([][]int, len(buckets))
	given := make([]int, len(shares))
	cumulative := 0
	for k, b := range buckets {
		cumulative += b.Quota
		desired := make([]float64, len(shares))
		for i, w := range weights {
			if w <= 0 || sum <= 0 {
				continue
			}
			if d := w/sum*float64(cumulative) - float64(given[i]); d > 0 {
				desired[i] = d
			}
		}
		row := generic.Apportion(b.Quota, desired)
		for i, n := range row {
			given[i] += n
		}
		demand[k] = row
	}
	return demand
}

// Budget trims city demand to what the week can still pair. An event uses
// one unit of headroom at each end, so at most Total()/2 events fit. Above
// that, city shares keep a part of the budget proportional to their demand
// and the rest is returned as overflow. Class-level slots pass through.
func (SpatialAllocator) Budget(demand []int, shares []Share, ledger *Ledger) (kept, overflow []int) {
	kept = append([]int(nil), demand...)
	overflow = make([]int, len(demand))

	weights := make([]float64, len(demand))
	want := 0
	for i, s := range shares {
		if s.CityID != "" && demand[i] > 0 {
			weights[i] = float64(demand[i])
			want += demand[i]
		}
	}
	budget := ledger.Total() / 2
	if want <= budget {
		return kept, overflow
	}
	for i, n := range generic.ApportionCapped(budget, weights, demand) {
		if weights[i] == 0 {
			continue
		}
		kept[i] = n
		overflow[i] = demand[i] - n
	}
	return kept, overflow
}

// Place puts each share's demand on the eligible nodes of its city, weighted
// by headroom and limited to headroom × (1 - OriginReserve). What does not fit
// is returned as deficit. Consumed headroom is recorded in the ledger.
func (a SpatialAllocator) Place(demand []int, shares []Share, topo Topology, ledger *Ledger) ([]Placement, []Deficit) {
	var placements []Placement
	var deficits []Deficit
	keep := 1 - a.OriginReserve
	if keep <= 0 || keep > 1 {
		keep = 1
	}

	for i, s := range shares {
		want := demand[i]
		if want <= 0 {
			continue
		}
		placed := 0
		if s.CityID != "" {
			nodes := topo.EligibleNodes(s.CityID)
			weights := make([]float64, len(nodes))
			caps := make([]int, len(nodes))
			for j, n := range nodes {
				r := ledger.Remaining(n.Code)
				weights[j] = float64(r)
				caps[j] = int(math.Floor(float64(r) * keep))
			}
			for j, n := range generic.ApportionCapped(want, weights, caps) {
				if n == 0 || !ledger.Consume(nodes[j].Code, n) {
					continue
				}
				placements = append(placements, Placement{Node: nodes[j].Code, CityID: s.CityID, Count: n})
				placed += n
			}
		}
		if missing := want - placed; missing > 0 {
			deficits = append(deficits, Deficit{
				CityID:         s.CityID,
				CityName:       s.CityName,
				Classification: s.Classification,
				Count:          missing,
			})
		}
	}
	return placements, deficits
}

// bestDestination returns the eligible node of a city with the most headroom,
// lowest code first on ties.
func bestDestination(topo Topology, city CityID, ledger *Ledger) (NodeCode, bool) {
	var best NodeCode
	most := 0
	for _, n := range topo.EligibleNodes(city) {
		if r := ledger.Remaining(n.Code); r > most {
			best, most = n.Code, r
		}
	}
	return best, most > 0
}

// MergeDeficits sums deficits by city and class and orders them cities first.
func MergeDeficits(lists ...[]Deficit) []Deficit {
	type key struct {
		city  CityID
		class Classification
	}
	index := make(map[key]int)
	var out []Deficit
	for _, list := range lists {
		for _, d := range list {
			if d.Count <= 0 {
				continue
			}
			k := key{d.CityID, d.Classification}
			if i, ok := index[k]; ok {
				out[i].Count += d.Count
				continue
			}
			index[k] = len(out)
			out = append(out, d)
		}
	}
	sortDeficits(out)
	return out
}

func sortDeficits(ds []Deficit) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if (a.CityID == "") != (b.CityID == "") {
			return b.CityID == ""
		}
		if a.CityID != b.CityID {
			return a.CityID < b.CityID
		}
		return a.Classification < b.Classification
	})
}

// TotalDeficit sums deficit counts.
func TotalDeficit(ds []Deficit) int {
	n := 0
	for _, d := range ds {
		n += d.Count
	}
	return n
}
