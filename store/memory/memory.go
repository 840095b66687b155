// Package memory provides an in-memory implementation of the allocation
// storage interfaces, for tests and the demo server.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Operations that can be made to fail with InjectFault.
const (
	OpReplaceDetails      = "replace_details"
	OpUpdatePlanCounts    = "update_plan_counts"
	OpTransitionPlan      = "transition_plan"
	OpDeletePendingEvents = "delete_pending_events"
	OpInsertEvents        = "insert_events"
)

type state struct {
	cities       map[allocation.AccountID][]allocation.City
	nodes        map[allocation.AccountID][]allocation.Node
	matrix       map[allocation.AccountID]map[allocation.Classification]allocation.ClassificationMatrixRow
	requirements map[allocation.AccountID]map[allocation.CityID]allocation.CityRequirement
	seasonality  map[seasonKey]allocation.ProductSeasonality
	capacity     map[allocation.AccountID]allocation.CapacityConfig
	plans        map[allocation.PlanID]allocation.AllocationPlan
	details      map[allocation.PlanID][]allocation.PlanDetail
	events       []allocation.Event
}

type seasonKey struct {
	Account allocation.AccountID
	Product allocation.ProductID
	Year    int
}

func newState() *state {
	return &state{
		cities:       make(map[allocation.AccountID][]allocation.City),
		nodes:        make(map[allocation.AccountID][]allocation.Node),
		matrix:       make(map[allocation.AccountID]map[allocation.Classification]allocation.ClassificationMatrixRow),
		requirements: make(map[allocation.AccountID]map[allocation.CityID]allocation.CityRequirement),
		seasonality:  make(map[seasonKey]allocation.ProductSeasonality),
		capacity:     make(map[allocation.AccountID]allocation.CapacityConfig),
		plans:        make(map[allocation.PlanID]allocation.AllocationPlan),
		details:      make(map[allocation.PlanID][]allocation.PlanDetail),
	}
}

// clone copies every mutable collection a transaction may touch. Config maps
// are shared since a Tx never writes configuration.
func (s *state) clone() *state {
	c := *s
	c.plans = make(map[allocation.PlanID]allocation.AllocationPlan, len(s.plans))
	for k, v := range s.plans {
		c.plans[k] = v
	}
	c.details = make(map[allocation.PlanID][]allocation.PlanDetail, len(s.details))
	for k, v := range s.details {
		c.details[k] = append([]allocation.PlanDetail(nil), v...)
	}
	c.events = append([]allocation.Event(nil), s.events...)
	return &c
}

// Store keeps everything in maps guarded by one RWMutex. WithTx works on a
// copy of the plan and event state and swaps it in on success.
type Store struct {
	mu     sync.RWMutex
	st     *state
	faults map[string]error
}

func New() *Store {
	return &Store{st: newState(), faults: make(map[string]error)}
}

// InjectFault makes the named Tx operation fail with err until cleared with a
// nil err.
func (m *Store) InjectFault(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// Reset clears all data.
func (m *Store) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func (m *Store) ClassificationMatrix(_ context.Context, account allocation.AccountID) ([]allocation.ClassificationMatrixRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []allocation.ClassificationMatrixRow
	for _, r := range m.st.matrix[account] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out, nil
}

func (m *Store) CityRequirements(_ context.Context, account allocation.AccountID) ([]allocation.CityRequirement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []allocation.CityRequirement
	for _, r := range m.st.requirements[account] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CityID < out[j].CityID })
	return out, nil
}

func (m *Store) Seasonality(_ context.Context, account allocation.AccountID, product allocation.ProductID) ([]allocation.ProductSeasonality, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []allocation.ProductSeasonality
	for k, s := range m.st.seasonality {
		if k.Account == account && k.Product == product {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out, nil
}

func (m *Store) Capacity(_ context.Context, account allocation.AccountID) (allocation.CapacityConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.st.capacity[account]
	if !ok {
		return allocation.CapacityConfig{AccountID: account}, false, nil
	}
	return c, true, nil
}

func (m *Store) Topology(_ context.Context, account allocation.AccountID) (allocation.Topology, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	topo := allocation.Topology{
		Cities: append([]allocation.City(nil), m.st.cities[account]...),
		Nodes:  append([]allocation.Node(nil), m.st.nodes[account]...),
	}
	sort.Slice(topo.Cities, func(i, j int) bool { return topo.Cities[i].ID < topo.Cities[j].ID })
	sort.Slice(topo.Nodes, func(i, j int) bool { return topo.Nodes[i].Code < topo.Nodes[j].Code })
	return topo, nil
}

func (m *Store) ExistingLoad(_ context.Context, q allocation.LoadQuery) (allocation.ExistingLoad, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	from := generic.StartOfISOWeek(q.Period.Start)
	to := generic.StartOfISOWeek(q.Period.End).AddDate(0, 0, 6)

	load := make(allocation.ExistingLoad)
	for _, e := range m.st.events {
		if e.AccountID != q.AccountID || e.Status == allocation.EventCancelled {
			continue
		}
		if q.Exclude != nil && e.Status == allocation.EventPending && e.Tuple() == *q.Exclude {
			continue
		}
		day := generic.Day(e.ScheduledDate)
		if day.Before(from) || day.After(to) {
			continue
		}
		week := generic.WeekOf(day)
		load.Add(e.Origin, week, 1)
		load.Add(e.Destination, week, 1)
	}
	return load, nil
}

// =============================================================================
// CONFIGURATION WRITES
// =============================================================================

func (m *Store) SaveCity(_ context.Context, c allocation.City) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cities := m.st.cities[c.AccountID]
	for i := range cities {
		if cities[i].ID == c.ID {
			cities[i] = c
			return nil
		}
	}
	m.st.cities[c.AccountID] = append(cities, c)
	return nil
}

func (m *Store) SaveNode(_ context.Context, n allocation.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	nodes := m.st.nodes[n.AccountID]
	for i := range nodes {
		if nodes[i].Code == n.Code {
			nodes[i] = n
			return nil
		}
	}
	m.st.nodes[n.AccountID] = append(nodes, n)
	return nil
}

func (m *Store) SaveMatrixRow(_ context.Context, r allocation.ClassificationMatrixRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.matrix[r.AccountID] == nil {
		m.st.matrix[r.AccountID] = make(map[allocation.Classification]allocation.ClassificationMatrixRow)
	}
	m.st.matrix[r.AccountID][r.Destination] = r
	return nil
}

func (m *Store) SaveCityRequirement(_ context.Context, r allocation.CityRequirement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.requirements[r.AccountID] == nil {
		m.st.requirements[r.AccountID] = make(map[allocation.CityID]allocation.CityRequirement)
	}
	m.st.requirements[r.AccountID][r.CityID] = r
	return nil
}

func (m *Store) SaveSeasonality(_ context.Context, s allocation.ProductSeasonality) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.seasonality[seasonKey{s.AccountID, s.ProductID, s.Year}] = s
	return nil
}

func (m *Store) SaveCapacity(_ context.Context, c allocation.CapacityConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.capacity[c.AccountID] = c
	return nil
}

func (m *Store) SeedEvents(_ context.Context, events []allocation.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertEvents(events)
}

// =============================================================================
// PLANS AND EVENTS
// =============================================================================

func (m *Store) CreatePlan(_ context.Context, plan allocation.AllocationPlan, details []allocation.PlanDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.plans[plan.ID]; ok {
		return fmt.Errorf("plan %s already exists", plan.ID)
	}
	m.st.plans[plan.ID] = plan
	m.st.details[plan.ID] = withPlanID(plan.ID, details)
	return nil
}

func (m *Store) GetPlan(_ context.Context, id allocation.PlanID) (allocation.AllocationPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getPlan(id)
}

func (m *Store) ListPlans(_ context.Context, filter allocation.PlanFilter) ([]allocation.AllocationPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listPlans(filter), nil
}

func (m *Store) PlanDetails(_ context.Context, id allocation.PlanID) ([]allocation.PlanDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.planDetails(id), nil
}

func (m *Store) CountEvents(_ context.Context, filter allocation.EventFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.st.listEvents(filter)), nil
}

func (m *Store) ListEvents(_ context.Context, filter allocation.EventFilter) ([]allocation.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listEvents(filter), nil
}

// WithTx runs fn against a copy of the state. The copy replaces the live
// state only when fn returns nil.
func (m *Store) WithTx(_ context.Context, fn func(tx allocation.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.st.clone()
	if err := fn(&memTx{st: work, faults: m.faults}); err != nil {
		return err
	}
	m.st = work
	return nil
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

type memTx struct {
	st     *state
	faults map[string]error
}

func (t *memTx) fault(op string) error {
	if err, ok := t.faults[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *memTx) GetPlan(_ context.Context, id allocation.PlanID) (allocation.AllocationPlan, error) {
	return t.st.getPlan(id)
}

func (t *memTx) ListPlans(_ context.Context, filter allocation.PlanFilter) ([]allocation.AllocationPlan, error) {
	return t.st.listPlans(filter), nil
}

func (t *memTx) PlanDetails(_ context.Context, id allocation.PlanID) ([]allocation.PlanDetail, error) {
	return t.st.planDetails(id), nil
}

func (t *memTx) CountEvents(_ context.Context, filter allocation.EventFilter) (int, error) {
	return len(t.st.listEvents(filter)), nil
}

func (t *memTx) ListEvents(_ context.Context, filter allocation.EventFilter) ([]allocation.Event, error) {
	return t.st.listEvents(filter), nil
}

func (t *memTx) ReplaceDetails(_ context.Context, id allocation.PlanID, details []allocation.PlanDetail) error {
	if err := t.fault(OpReplaceDetails); err != nil {
		return err
	}
	if _, err := t.st.getPlan(id); err != nil {
		return err
	}
	t.st.details[id] = withPlanID(id, details)
	return nil
}

func (t *memTx) UpdatePlanCounts(_ context.Context, id allocation.PlanID, calculated, unassigned int, at time.Time) error {
	if err := t.fault(OpUpdatePlanCounts); err != nil {
		return err
	}
	p, err := t.st.getPlan(id)
	if err != nil {
		return err
	}
	if p.Status != allocation.StatusDraft {
		return generic.ErrConcurrentModification
	}
	p.CalculatedEvents = calculated
	p.UnassignedEvents = unassigned
	p.UpdatedAt = at
	t.st.plans[id] = p
	return nil
}

func (t *memTx) TransitionPlan(_ context.Context, id allocation.PlanID, tr allocation.Transition) error {
	if err := t.fault(OpTransitionPlan); err != nil {
		return err
	}
	p, err := t.st.getPlan(id)
	if err != nil {
		return err
	}
	if p.Status != tr.From {
		return generic.ErrConcurrentModification
	}
	p.Status = tr.To
	if tr.Strategy != "" {
		p.MergeStrategy = tr.Strategy
	}
	p.UpdatedAt = tr.At
	if p.IsClosed() {
		at := tr.At
		p.ClosedAt = &at
	}
	t.st.plans[id] = p
	return nil
}

func (t *memTx) DeletePendingEvents(_ context.Context, tuple allocation.Tuple) (int, error) {
	if err := t.fault(OpDeletePendingEvents); err != nil {
		return 0, err
	}
	kept := t.st.events[:0]
	deleted := 0
	for _, e := range t.st.events {
		if e.Status == allocation.EventPending && e.Tuple() == tuple {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	t.st.events = kept
	return deleted, nil
}

func (t *memTx) InsertEvents(_ context.Context, events []allocation.Event) error {
	if err := t.fault(OpInsertEvents); err != nil {
		return err
	}
	return t.st.insertEvents(events)
}

// =============================================================================
// STATE HELPERS
// =============================================================================

func (s *state) getPlan(id allocation.PlanID) (allocation.AllocationPlan, error) {
	p, ok := s.plans[id]
	if !ok {
		return allocation.AllocationPlan{}, fmt.Errorf("%w: %s", generic.ErrPlanNotFound, id)
	}
	return p, nil
}

func (s *state) listPlans(filter allocation.PlanFilter) []allocation.AllocationPlan {
	var out []allocation.AllocationPlan
	for _, p := range s.plans {
		if filter.AccountID != "" && p.AccountID != filter.AccountID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) planDetails(id allocation.PlanID) []allocation.PlanDetail {
	out := append([]allocation.PlanDetail(nil), s.details[id]...)
	allocation.SortDetails(out)
	return out
}

func (s *state) listEvents(filter allocation.EventFilter) []allocation.Event {
	var out []allocation.Event
	for _, e := range s.events {
		switch {
		case filter.AccountID != "" && e.AccountID != filter.AccountID,
			filter.CarrierID != "" && e.CarrierID != filter.CarrierID,
			filter.ProductID != "" && e.ProductID != filter.ProductID,
			filter.Status != "" && e.Status != filter.Status,
			filter.PlanID != "" && e.PlanID != filter.PlanID:
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ScheduledDate.Equal(b.ScheduledDate) {
			return a.ScheduledDate.Before(b.ScheduledDate)
		}
		if a.Destination != b.Destination {
			return a.Destination < b.Destination
		}
		if a.Origin != b.Origin {
			return a.Origin < b.Origin
		}
		return a.ID < b.ID
	})
	return out
}

func (s *state) insertEvents(events []allocation.Event) error {
	seen := make(map[allocation.EventID]bool, len(s.events))
	for _, e := range s.events {
		seen[e.ID] = true
	}
	for _, e := range events {
		if seen[e.ID] {
			return fmt.Errorf("duplicate event %s", e.ID)
		}
		seen[e.ID] = true
	}
	s.events = append(s.events, events...)
	return nil
}

func withPlanID(id allocation.PlanID, details []allocation.PlanDetail) []allocation.PlanDetail {
	out := make([]allocation.PlanDetail, len(details))
	for i, d := range details {
		d.PlanID = id
		out[i] = d
	}
	return out
}
