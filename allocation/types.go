/*
Package allocation implements the allocation plan generation engine.

PURPOSE:
  Turns one high-level request ("distribute N shipment events for carrier C
  and product P between D1 and D2") into a capacity-respecting draft plan of
  dated origin -> destination events, and reconciles approved drafts into the
  production event store.

PIPELINE:
  ConfigReader -> Snapshot
    -> TemporalDistributor  (annual total -> period total -> ISO week buckets)
    -> SpatialAllocator     (week bucket -> cities -> destination nodes)
    -> RoutePairer          (destination placement -> origin node)
    -> Assembler            (details, deficits, per-city breakdown)
    -> PlanStore            (draft)
    -> Reconciler           (append / replace into production, atomically)

  The Importer is an alternate entry point: externally edited detail rows
  replace a draft's details directly.

KEY CONCEPTS IN THIS FILE (types.go):
  - Topology: cities (A/B/C classification) and nodes (panelist assignment)
  - Configuration rows: classification matrix, city requirements,
    seasonality, capacity
  - AllocationPlan / PlanDetail: the draft and its rows
  - Event: a production shipment event

SEE ALSO:
  - generator.go: End-to-end orchestration
  - reconcile.go: Merge state machine
  - store.go: Persistence contracts
*/
package allocation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type CarrierID string
type ProductID string
type CityID string
type NodeCode string
type PanelistID string
type PlanID string
type EventID string

// =============================================================================
// CLASSIFICATION - City tier driving allocation weights
// =============================================================================

type Classification string

const (
	ClassA Classification = "A"
	ClassB Classification = "B"
	ClassC Classification = "C"
)

// Classifications lists every tier in matrix column order.
var Classifications = []Classification{ClassA, ClassB, ClassC}

// ParseClassification accepts "A", "b", " C " and similar.
func ParseClassification(s string) (Classification, error) {
	c := Classification(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case ClassA, ClassB, ClassC:
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown classification %q", generic.ErrInvalidConfiguration, s)
}

// =============================================================================
// TOPOLOGY
// =============================================================================

type City struct {
	ID             CityID
	AccountID      AccountID
	Name           string
	Classification Classification
}

type NodeStatus string

const (
	NodeActive   NodeStatus = "active"
	NodeInactive NodeStatus = "inactive"
)

type Node struct {
	Code       NodeCode
	AccountID  AccountID
	CityID     CityID
	PanelistID PanelistID // empty = no panelist, zero capacity
	Status     NodeStatus
}

// Eligible reports whether the node can receive or send planned events.
func (n Node) Eligible() bool {
	return n.Status == NodeActive && n.PanelistID != ""
}

// Topology is the city/node graph of one account.
type Topology struct {
	Cities []City
	Nodes  []Node
}

// City returns the city with the given ID.
func (t Topology) City(id CityID) (City, bool) {
	for _, c := range t.Cities {
		if c.ID == id {
			return c, true
		}
	}
	return City{}, false
}

// Node returns the node with the given code.
func (t Topology) Node(code NodeCode) (Node, bool) {
	for _, n := range t.Nodes {
		if n.Code == code {
			return n, true
		}
	}
	return Node{}, false
}

// SortedCities returns cities ordered by ID.
func (t Topology) SortedCities() []City {
	out := append([]City(nil), t.Cities...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EligibleNodes returns the eligible nodes of a city ordered by code.
func (t Topology) EligibleNodes(city CityID) []Node {
	var out []Node
	for _, n := range t.Nodes {
		if n.CityID == city && n.Eligible() {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ClassOf returns the classification of the node's city.
func (t Topology) ClassOf(code NodeCode) (Classification, bool) {
	n, ok := t.Node(code)
	if !ok {
		return "", false
	}
	c, ok := t.City(n.CityID)
	if !ok {
		return "", false
	}
	return c.Classification, true
}

// =============================================================================
// CONFIGURATION ROWS
// =============================================================================

// ClassificationMatrixRow says, for one destination classification, which
// percentage of volume should originate from each source classification.
type ClassificationMatrixRow struct {
	AccountID   AccountID
	Destination Classification
	FromA       decimal.Decimal
	FromB       decimal.Decimal
	FromC       decimal.Decimal
}

// From returns the percentage for a source classification.
func (r ClassificationMatrixRow) From(c Classification) decimal.Decimal {
	switch c {
	case ClassA:
		return r.FromA
	case ClassB:
		return r.FromB
	case ClassC:
		return r.FromC
	}
	return decimal.Zero
}

func (r ClassificationMatrixRow) Total() decimal.Decimal {
	return r.FromA.Add(r.FromB).Add(r.FromC)
}

// CityRequirement carries absolute per-source counts for one destination city.
type CityRequirement struct {
	AccountID AccountID
	CityID    CityID
	FromA     int
	FromB     int
	FromC     int
}

func (r CityRequirement) Total() int { return r.FromA + r.FromB + r.FromC }

// From returns the count for a source classification.
func (r CityRequirement) From(c Classification) int {
	switch c {
	case ClassA:
		return r.FromA
	case ClassB:
		return r.FromB
	case ClassC:
		return r.FromC
	}
	return 0
}

// ProductSeasonality is a 12-month percentage curve for one product and year.
type ProductSeasonality struct {
	AccountID AccountID
	ProductID ProductID
	Year      int
	Months    [12]decimal.Decimal // January first
}

func (s ProductSeasonality) Total() decimal.Decimal {
	total := decimal.Zero
	for _, m := range s.Months {
		total = total.Add(m)
	}
	return total
}

// Pct returns the percentage for a calendar month.
func (s ProductSeasonality) Pct(m time.Month) decimal.Decimal {
	return s.Months[int(m)-1]
}

// FlatSeasonality spreads the year evenly over twelve months.
func FlatSeasonality(account AccountID, product ProductID, year int) ProductSeasonality {
	s := ProductSeasonality{AccountID: account, ProductID: product, Year: year}
	share := decimal.NewFromInt(100).Div(decimal.NewFromInt(12))
	for i := range s.Months {
		s.Months[i] = share
	}
	return s
}

// CapacityConfig is the per-account default weekly cap per panelist node.
type CapacityConfig struct {
	AccountID                AccountID
	MaxEventsPerPanelistWeek int
}

// ExistingLoad counts committed events per node and ISO week. An event counts
// once for its origin and once for its destination.
type ExistingLoad map[NodeCode]map[generic.WeekKey]int

// At returns the committed count of a node in a week.
func (l ExistingLoad) At(node NodeCode, week generic.WeekKey) int {
	if l == nil {
		return 0
	}
	return l[node][week]
}

// Add records n committed events for a node in a week.
func (l ExistingLoad) Add(node NodeCode, week generic.WeekKey, n int) {
	if l[node] == nil {
		l[node] = make(map[generic.WeekKey]int)
	}
	l[node][week] += n
}

// InPeriod sums a node's load over the weeks of a period.
func (l ExistingLoad) InPeriod(node NodeCode, weeks []generic.WeekSlice) int {
	total := 0
	for _, w := range weeks {
		total += l.At(node, w.Key)
	}
	return total
}

// =============================================================================
// PLAN
// =============================================================================

type PlanStatus string

const (
	StatusDraft     PlanStatus = "draft"
	StatusMerged    PlanStatus = "merged"
	StatusCancelled PlanStatus = "cancelled"
)

type MergeStrategy string

const (
	MergeAppend  MergeStrategy = "append"
	MergeReplace MergeStrategy = "replace"
)

// ParseMergeStrategy defaults to append on empty input.
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch MergeStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MergeAppend:
		return MergeAppend, nil
	case MergeReplace:
		return MergeReplace, nil
	}
	return "", fmt.Errorf("%w: unknown merge strategy %q", generic.ErrInvalidConfiguration, s)
}

// Tuple identifies the production events a replace merge may delete.
type Tuple struct {
	AccountID AccountID
	CarrierID CarrierID
	ProductID ProductID
}

func (t Tuple) String() string {
	return fmt.Sprintf("%s:%s:%s", t.AccountID, t.CarrierID, t.ProductID)
}

// AllocationPlan is the header of a generated plan.
type AllocationPlan struct {
	ID               PlanID
	AccountID        AccountID
	CarrierID        CarrierID
	ProductID        ProductID
	StartDate        time.Time
	EndDate          time.Time
	TotalEvents      int // annual, source of truth
	CalculatedEvents int // period-bound
	UnassignedEvents int // stale after a manual import
	MergeStrategy    MergeStrategy
	Status           PlanStatus
	CapacityOverride *int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ClosedAt         *time.Time
}

func (p AllocationPlan) Tuple() Tuple {
	return Tuple{AccountID: p.AccountID, CarrierID: p.CarrierID, ProductID: p.ProductID}
}

func (p AllocationPlan) Period() generic.Period {
	return generic.Period{Start: generic.Day(p.StartDate), End: generic.Day(p.EndDate)}
}

// IsClosed returns true once the plan reached a terminal status.
func (p AllocationPlan) IsClosed() bool {
	return p.Status == StatusMerged || p.Status == StatusCancelled
}

// CanTransition validates the plan state machine.
func (p AllocationPlan) CanTransition(to PlanStatus) error {
	if p.Status == StatusDraft && (to == StatusMerged || to == StatusCancelled) {
		return nil
	}
	return &generic.TransitionError{PlanID: string(p.ID), From: string(p.Status), To: string(to)}
}

// PlanDetail is one planned origin -> destination event.
type PlanDetail struct {
	PlanID        PlanID
	Origin        NodeCode
	Destination   NodeCode
	ScheduledDate time.Time
	Notes         string
}

// SortDetails orders rows by date, destination, origin.
func SortDetails(rows []PlanDetail) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.ScheduledDate.Equal(b.ScheduledDate) {
			return a.ScheduledDate.Before(b.ScheduledDate)
		}
		if a.Destination != b.Destination {
			return a.Destination < b.Destination
		}
		return a.Origin < b.Origin
	})
}

// =============================================================================
// PRODUCTION EVENTS
// =============================================================================

type EventStatus string

const (
	EventPending   EventStatus = "PENDING"
	EventShipped   EventStatus = "SHIPPED"
	EventReceived  EventStatus = "RECEIVED"
	EventCancelled EventStatus = "CANCELLED"
)

// Event is a production shipment event.
type Event struct {
	ID            EventID
	AccountID     AccountID
	CarrierID     CarrierID
	ProductID     ProductID
	Origin        NodeCode
	Destination   NodeCode
	ScheduledDate time.Time
	Status        EventStatus
	PlanID        PlanID // empty for events not created by a merge
	CreatedAt     time.Time
}

// Tuple returns the (account, carrier, product) key of the event.
func (e Event) Tuple() Tuple {
	return Tuple{AccountID: e.AccountID, CarrierID: e.CarrierID, ProductID: e.ProductID}
}
