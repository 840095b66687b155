package allocation

import (
	"sort"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// ROUTE PAIRER - Destination placement -> origin node
// =============================================================================

// Route is one paired event of a week.
type Route struct {
	Origin      NodeCode
	Destination NodeCode
}

// RoutePairer picks an origin for every placed destination event.
//
// Candidates are the eligible nodes with headroom, minus the destination.
// A candidate of class c weighs
//
//	mix[c] × headroom(node) / Σ headroom(candidates of class c)
//
// where mix is the origin mix of the destination city. A class the mix weighs
// at zero never supplies an origin; when no candidate carries weight the
// destination stays unpaired. The draw comes from a seeded Picker, so
// identical inputs pair identically.
type RoutePairer struct {
	nodes   []Node // eligible, by code
	classOf map[NodeCode]Classification
	cityOf  map[NodeCode]CityID
	mixes   map[CityID]OriginMix
}

// NewRoutePairer prepares candidate lists for a topology.
func NewRoutePairer(topo Topology, matrix map[Classification]ClassificationMatrixRow, reqs []CityRequirement) *RoutePairer {
	p := &RoutePairer{
		classOf: make(map[NodeCode]Classification),
		cityOf:  make(map[NodeCode]CityID),
		mixes:   originMixes(topo, matrix, reqs),
	}
	for _, c := range topo.SortedCities() {
		for _, n := range topo.EligibleNodes(c.ID) {
			p.nodes = append(p.nodes, n)
			p.classOf[n.Code] = c.Classification
			p.cityOf[n.Code] = c.ID
		}
	}
	sortNodes(p.nodes)
	return p
}

// Pair draws an origin for dest and consumes one unit of its headroom.
// It reports false when no weighted candidate has headroom left.
func (p *RoutePairer) Pair(dest NodeCode, ledger *Ledger, picker *generic.Picker) (NodeCode, bool) {
	var candidates []NodeCode
	var headroom []float64
	classTotal := make(map[Classification]float64)
	for _, n := range p.nodes {
		if n.Code == dest {
			continue
		}
		r := ledger.Remaining(n.Code)
		if r <= 0 {
			continue
		}
		candidates = append(candidates, n.Code)
		headroom = append(headroom, float64(r))
		classTotal[p.classOf[n.Code]] += float64(r)
	}
	if len(candidates) == 0 {
		return "", false
	}

	mix := p.mixes[p.cityOf[dest]]
	weights := make([]float64, len(candidates))
	for i, code := range candidates {
		c := p.classOf[code]
		weights[i] = mix[c] * headroom[i] / classTotal[c]
	}
	idx := picker.Pick(weights)
	if idx < 0 {
		return "", false
	}
	origin := candidates[idx]
	ledger.Consume(origin, 1)
	return origin, true
}

func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Code < nodes[j].Code })
}
