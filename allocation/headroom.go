package allocation

import "github.com/warp/allocation-engine/generic"

// =============================================================================
// HEADROOM LEDGER - Remaining weekly capacity per node
// =============================================================================

// Ledger tracks the remaining capacity of every eligible node during one ISO
// week. Each week of a generation pass owns its own ledger: capacity resets at
// week boundaries.
type Ledger struct {
	week      generic.WeekKey
	remaining map[NodeCode]int
	committed map[NodeCode]int
}

// NewLedger starts every eligible node at cap - existing load for the week.
// Ineligible nodes have no entry and therefore no headroom.
func NewLedger(topo Topology, load ExistingLoad, week generic.WeekKey, capacity int) *Ledger {
	l := &Ledger{
		week:      week,
		remaining: make(map[NodeCode]int),
		committed: make(map[NodeCode]int),
	}
	for _, n := range topo.Nodes {
		if n.Eligible() {
			l.remaining[n.Code] = capacity - load.At(n.Code, week)
		}
	}
	return l
}

// Week returns the ISO week the ledger covers.
func (l *Ledger) Week() generic.WeekKey { return l.week }

// Remaining returns the headroom of a node, never below zero.
func (l *Ledger) Remaining(node NodeCode) int {
	if r := l.remaining[node]; r > 0 {
		return r
	}
	return 0
}

// Total returns the summed headroom of all eligible nodes.
func (l *Ledger) Total() int {
	total := 0
	for node := range l.remaining {
		total += l.Remaining(node)
	}
	return total
}

// Consume commits n events to a node. It reports false and changes nothing
// when the node lacks the headroom.
func (l *Ledger) Consume(node NodeCode, n int) bool {
	if n <= 0 {
		return true
	}
	if l.Remaining(node) < n {
		return false
	}
	l.remaining[node] -= n
	l.committed[node] += n
	return true
}

// Release gives back n events previously consumed on a node.
func (l *Ledger) Release(node NodeCode, n int) {
	if n > l.committed[node] {
		n = l.committed[node]
	}
	l.remaining[node] += n
	l.committed[node] -= n
}

// Committed returns the events placed on a node by this pass.
func (l *Ledger) Committed(node NodeCode) int { return l.committed[node] }
