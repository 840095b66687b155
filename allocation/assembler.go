/*
assembler.go - Pure plan computation over a configuration snapshot

PURPOSE:
  Runs the temporal, spatial and pairing stages for one request and turns
  their output into ordered detail rows, deficits and a per-city breakdown.
  No I/O happens here: everything comes from a Snapshot.

PER WEEK (each week owns its headroom ledger, weeks run concurrently):
  1. Place the week's city demand on destination nodes (reserve held back)
  2. Pair each placement with an origin, round-robin across placements
  3. Backfill: re-place remaining city deficits against full headroom
  4. Deal the paired events over the week's in-period days

CONSERVATION:
  For every week, routes + deficits == quota. Over the plan,
  calculated_events == len(details) + unassigned_events.

SEE ALSO:
  - temporal.go, spatial.go, routing.go: The stages
  - generator.go: Loads the snapshot and persists the result
*/
package allocation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// INPUTS
// =============================================================================

// Request is a plan generation request.
type Request struct {
	AccountID        AccountID
	CarrierID        CarrierID
	ProductID        ProductID
	StartDate        time.Time
	EndDate          time.Time
	TotalEvents      int // annual
	MergeStrategy    MergeStrategy
	CapacityOverride *int
}

// Tuple returns the production tuple the plan targets.
func (r Request) Tuple() Tuple {
	return Tuple{AccountID: r.AccountID, CarrierID: r.CarrierID, ProductID: r.ProductID}
}

// Validate rejects malformed periods and volumes before any computation.
func (r Request) Validate() (generic.Period, error) {
	if r.TotalEvents < 0 {
		return generic.Period{}, fmt.Errorf("%w: got %d", generic.ErrInvalidVolume, r.TotalEvents)
	}
	if r.CapacityOverride != nil && *r.CapacityOverride < 0 {
		return generic.Period{}, fmt.Errorf("%w: negative capacity override", generic.ErrInvalidConfiguration)
	}
	return generic.NewPeriod(r.StartDate, r.EndDate)
}

// Snapshot is the configuration and load an allocation run reads.
type Snapshot struct {
	Topology     Topology
	Matrix       []ClassificationMatrixRow
	Requirements []CityRequirement
	Seasonality  []ProductSeasonality
	Capacity     CapacityConfig
	HasCapacity  bool
	Load         ExistingLoad
}

// =============================================================================
// OUTPUTS
// =============================================================================

// WeekSummary reports one ISO week of the plan.
type WeekSummary struct {
	Week       generic.WeekKey
	Start      time.Time
	End        time.Time
	Quota      int
	Placed     int
	Unassigned int
	Backfilled int
}

// Result is a computed plan, persisted or not.
type Result struct {
	Plan         AllocationPlan
	Details      []PlanDetail
	Weeks        []WeekSummary
	Deficits     []Deficit
	Breakdown    []CityBreakdown
	WeightSource WeightSourceKind
	Capacity     int
	Warnings     []string
}

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler computes plans. The zero value is not usable, see NewAssembler.
type Assembler struct {
	temporal        TemporalDistributor
	spatial         SpatialAllocator
	precedence      WeightSourceKind
	defaultCapacity int
	concurrency     int
}

// NewAssembler builds an assembler from generator options.
func NewAssembler(opts Options) *Assembler {
	opts = opts.withDefaults()
	return &Assembler{
		spatial:         SpatialAllocator{OriginReserve: opts.OriginReserve},
		precedence:      opts.WeightPrecedence,
		defaultCapacity: opts.DefaultCapacity,
		concurrency:     opts.Concurrency,
	}
}

// Capacity resolves the weekly cap: plan override, then account, then default.
func (a *Assembler) Capacity(snap Snapshot, req Request) int {
	switch {
	case req.CapacityOverride != nil:
		return *req.CapacityOverride
	case snap.HasCapacity:
		return snap.Capacity.MaxEventsPerPanelistWeek
	}
	return a.defaultCapacity
}

// Assemble runs every stage and returns the plan with id as a draft.
func (a *Assembler) Assemble(ctx context.Context, snap Snapshot, req Request, id PlanID) (*Result, error) {
	period, err := req.Validate()
	if err != nil {
		return nil, err
	}

	res := &Result{Capacity: a.Capacity(snap, req)}

	matrix, issues := SplitMatrix(snap.Matrix)
	for _, issue := range issues {
		res.Warnings = append(res.Warnings, issue.String())
	}
	var curves []ProductSeasonality
	for _, s := range snap.Seasonality {
		if issue := CheckSeasonality(s); issue != nil {
			res.Warnings = append(res.Warnings, issue.String())
			continue
		}
		curves = append(curves, s)
	}

	temporal, err := a.temporal.Distribute(req.TotalEvents, curves, period)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, temporal.Warnings...)

	source, notes := SelectWeightSource(matrix, snap.Requirements, a.precedence)
	res.WeightSource = source.Kind()
	res.Warnings = append(res.Warnings, notes...)
	shares := prepareShares(source.Shares(snap.Topology))
	demand := a.spatial.CityDemand(temporal.Weeks, shares)

	pairer := NewRoutePairer(snap.Topology, matrix, snap.Requirements)
	seed := generic.Seed(string(req.AccountID), string(req.CarrierID), string(req.ProductID),
		generic.FormatDate(period.Start), generic.FormatDate(period.End), strconv.Itoa(req.TotalEvents))

	weeks := make([]weekOutcome, len(temporal.Weeks))
	g, gctx := errgroup.WithContext(ctx)
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i, bucket := range temporal.Weeks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ledger := NewLedger(snap.Topology, snap.Load, bucket.Slice.Key, res.Capacity)
			picker := generic.NewPicker(seed, uint64(bucket.Index))
			weeks[i] = a.runWeek(bucket, demand[i], shares, snap.Topology, pairer, ledger, picker)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("assemble plan: %w", err)
	}

	var deficitLists [][]Deficit
	for _, w := range weeks {
		res.Details = append(res.Details, scheduleWeek(id, w.routes, w.bucket.Slice.Days())...)
		deficitLists = append(deficitLists, w.deficits)
		res.Weeks = append(res.Weeks, WeekSummary{
			Week:       w.bucket.Slice.Key,
			Start:      w.bucket.Slice.Start,
			End:        w.bucket.Slice.End,
			Quota:      w.bucket.Quota,
			Placed:     len(w.routes),
			Unassigned: TotalDeficit(w.deficits),
			Backfilled: w.backfilled,
		})
	}
	SortDetails(res.Details)
	res.Deficits = MergeDeficits(deficitLists...)

	unassigned := TotalDeficit(res.Deficits)
	res.Plan = AllocationPlan{
		ID:               id,
		AccountID:        req.AccountID,
		CarrierID:        req.CarrierID,
		ProductID:        req.ProductID,
		StartDate:        period.Start,
		EndDate:          period.End,
		TotalEvents:      req.TotalEvents,
		CalculatedEvents: len(res.Details) + unassigned,
		UnassignedEvents: unassigned,
		MergeStrategy:    req.MergeStrategy,
		Status:           StatusDraft,
		CapacityOverride: req.CapacityOverride,
	}
	if res.Plan.MergeStrategy == "" {
		res.Plan.MergeStrategy = MergeAppend
	}
	res.Breakdown = BuildBreakdown(snap.Topology, res.Details, snap.Load, period.Weeks(), res.Plan.CalculatedEvents, res.Deficits)
	return res, nil
}

type weekOutcome struct {
	bucket     WeekBucket
	routes     []Route
	deficits   []Deficit
	backfilled int
}

// runWeek places, pairs and backfills one week against its own ledger.
func (a *Assembler) runWeek(bucket WeekBucket, demand []int, shares []Share, topo Topology, pairer *RoutePairer, ledger *Ledger, picker *generic.Picker) weekOutcome {
	out := weekOutcome{bucket: bucket}
	kept, overflow := a.spatial.Budget(demand, shares, ledger)
	placements, deficits := a.spatial.Place(kept, shares, topo, ledger)

	// Unplaced city demand keyed for demotions and backfill.
	cityDeficit := make(map[CityID]*Deficit)
	var classLevel []Deficit
	for _, d := range deficits {
		if d.CityID == "" {
			classLevel = append(classLevel, d)
			continue
		}
		d := d
		cityDeficit[d.CityID] = &d
	}
	addDeficit := func(s Share, n int) {
		if d, ok := cityDeficit[s.CityID]; ok {
			d.Count += n
			return
		}
		cityDeficit[s.CityID] = &Deficit{CityID: s.CityID, CityName: s.CityName, Classification: s.Classification, Count: n}
	}

	// Pair round-robin across placements so no destination drains the
	// origins before the others get a draw.
	left := make([]int, len(placements))
	for i, p := range placements {
		left[i] = p.Count
	}
	for pending := true; pending; {
		pending = false
		for i, p := range placements {
			if left[i] == 0 {
				continue
			}
			left[i]--
			pending = true
			if origin, ok := pairer.Pair(p.Node, ledger, picker); ok {
				out.routes = append(out.routes, Route{Origin: origin, Destination: p.Node})
			} else {
				ledger.Release(p.Node, 1)
				addDeficit(shareOf(shares, p.CityID), 1)
			}
		}
	}

	// Backfill against full remaining headroom, first the demand kept within
	// the budget, then whatever the budget cut.
	blocked := make(map[CityID]bool)
	out.backfilled += backfill(topo, cityDeficit, blocked, pairer, ledger, picker, &out.routes)
	for i, n := range overflow {
		if n > 0 {
			addDeficit(shares[i], n)
		}
	}
	out.backfilled += backfill(topo, cityDeficit, blocked, pairer, ledger, picker, &out.routes)

	for _, city := range sortedDeficitCities(cityDeficit) {
		if d := cityDeficit[city]; d.Count > 0 {
			out.deficits = append(out.deficits, *d)
		}
	}
	out.deficits = append(out.deficits, classLevel...)
	return out
}

// backfill re-places city deficits one event at a time, cities in ID order,
// until no city can pair another event. A city that fails stays blocked.
func backfill(topo Topology, deficits map[CityID]*Deficit, blocked map[CityID]bool, pairer *RoutePairer, ledger *Ledger, picker *generic.Picker, routes *[]Route) int {
	cities := sortedDeficitCities(deficits)
	placed := 0
	for progress := true; progress; {
		progress = false
		for _, city := range cities {
			d := deficits[city]
			if d.Count == 0 || blocked[city] {
				continue
			}
			dest, ok := bestDestination(topo, city, ledger)
			if !ok {
				blocked[city] = true
				continue
			}
			ledger.Consume(dest, 1)
			origin, ok := pairer.Pair(dest, ledger, picker)
			if !ok {
				ledger.Release(dest, 1)
				blocked[city] = true
				continue
			}
			*routes = append(*routes, Route{Origin: origin, Destination: dest})
			d.Count--
			placed++
			progress = true
		}
	}
	return placed
}

func sortedDeficitCities(deficits map[CityID]*Deficit) []CityID {
	cities := make([]CityID, 0, len(deficits))
	for id := range deficits {
		cities = append(cities, id)
	}
	sort.Slice(cities, func(i, j int) bool { return cities[i] < cities[j] })
	return cities
}

func shareOf(shares []Share, city CityID) Share {
	for _, s := range shares {
		if s.CityID == city {
			return s
		}
	}
	return Share{CityID: city}
}

// scheduleWeek sorts a week's routes by destination then origin and deals them
// round-robin over the in-period days of the week, first day first.
func scheduleWeek(id PlanID, routes []Route, days []time.Time) []PlanDetail {
	if len(routes) == 0 || len(days) == 0 {
		return nil
	}
	sorted := append([]Route(nil), routes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Destination != sorted[j].Destination {
			return sorted[i].Destination < sorted[j].Destination
		}
		return sorted[i].Origin < sorted[j].Origin
	})
	out := make([]PlanDetail, len(sorted))
	for i, r := range sorted {
		out[i] = PlanDetail{
			PlanID:        id,
			Origin:        r.Origin,
			Destination:   r.Destination,
			ScheduledDate: days[i%len(days)],
		}
	}
	return out
}
