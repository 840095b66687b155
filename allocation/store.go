/*
store.go - Persistence contracts consumed by the engine

PURPOSE:
  Defines the interface between the allocation engine and the database.
  Generation only reads (ConfigReader). Drafts are written once (PlanStore).
  Everything that mutates production events goes through a Tx obtained from
  TxStore.WithTx, so a merge is one unit of work with commit/rollback.

KEY INTERFACES:
  ConfigReader: Matrix, requirements, seasonality, capacity, topology, load
  PlanStore:    Draft plans and their detail rows
  EventReader:  Production event queries
  Tx:           Writes allowed inside a unit of work
  TxStore:      WithTx(ctx, fn) - fn error rolls back, nil commits

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (WAL, RWMutex-guarded)
  - store/memory/memory.go: In-memory with snapshot rollback, for tests

SEE ALSO:
  - generator.go: Reads a Snapshot through ConfigReader
  - reconcile.go: Writes through TxStore
*/
package allocation

import (
	"context"
	"time"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// CONFIGURATION - Read contract
// =============================================================================

// LoadQuery selects the committed events counted as existing load.
type LoadQuery struct {
	AccountID AccountID
	Period    generic.Period

	// Exclude skips PENDING events of a tuple. Set when a replace merge will
	// delete them anyway.
	Exclude *Tuple
}

// ConfigReader exposes the configuration an allocation run depends on.
type ConfigReader interface {
	ClassificationMatrix(ctx context.Context, account AccountID) ([]ClassificationMatrixRow, error)
	CityRequirements(ctx context.Context, account AccountID) ([]CityRequirement, error)
	// Seasonality returns every stored year for the product.
	Seasonality(ctx context.Context, account AccountID, product ProductID) ([]ProductSeasonality, error)
	// Capacity returns ok=false when the account has no capacity row.
	Capacity(ctx context.Context, account AccountID) (cfg CapacityConfig, ok bool, err error)
	Topology(ctx context.Context, account AccountID) (Topology, error)
	ExistingLoad(ctx context.Context, q LoadQuery) (ExistingLoad, error)
}

// =============================================================================
// PLANS
// =============================================================================

// PlanFilter narrows ListPlans. Zero values match everything.
type PlanFilter struct {
	AccountID AccountID
	Status    PlanStatus
}

// PlanReader reads drafts and closed plans.
type PlanReader interface {
	// GetPlan returns generic.ErrPlanNotFound for unknown IDs.
	GetPlan(ctx context.Context, id PlanID) (AllocationPlan, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]AllocationPlan, error)
	// PlanDetails returns rows ordered by date, destination, origin.
	PlanDetails(ctx context.Context, id PlanID) ([]PlanDetail, error)
}

// PlanStore persists drafts.
type PlanStore interface {
	PlanReader

	// CreatePlan writes the header and all details atomically.
	CreatePlan(ctx context.Context, plan AllocationPlan, details []PlanDetail) error
}

// =============================================================================
// PRODUCTION EVENTS
// =============================================================================

// EventFilter narrows event queries. Zero values match everything.
type EventFilter struct {
	AccountID AccountID
	CarrierID CarrierID
	ProductID ProductID
	Status    EventStatus
	PlanID    PlanID
}

// ForTuple returns a filter on the tuple's events in the given status.
func ForTuple(t Tuple, status EventStatus) EventFilter {
	return EventFilter{AccountID: t.AccountID, CarrierID: t.CarrierID, ProductID: t.ProductID, Status: status}
}

type EventReader interface {
	CountEvents(ctx context.Context, filter EventFilter) (int, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// Tx is the set of writes allowed inside WithTx. Nothing done through a Tx is
// visible outside until the callback returns nil.
type Tx interface {
	PlanReader
	EventReader

	ReplaceDetails(ctx context.Context, id PlanID, details []PlanDetail) error
	UpdatePlanCounts(ctx context.Context, id PlanID, calculated, unassigned int, at time.Time) error

	// TransitionPlan applies t conditionally: it matches on t.From and
	// returns generic.ErrConcurrentModification when the plan is no longer
	// in that status.
	TransitionPlan(ctx context.Context, id PlanID, t Transition) error

	// DeletePendingEvents removes the tuple's PENDING events and returns how
	// many were deleted.
	DeletePendingEvents(ctx context.Context, tuple Tuple) (int, error)
	InsertEvents(ctx context.Context, events []Event) error
}

// Transition is a conditional status change.
type Transition struct {
	From     PlanStatus
	To       PlanStatus
	Strategy MergeStrategy // empty keeps the stored strategy
	At       time.Time
}

// TxStore runs fn in a transaction. If fn returns an error the transaction is
// rolled back, otherwise it is committed.
type TxStore interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Store is everything the service needs from a backend.
type Store interface {
	ConfigReader
	PlanStore
	EventReader
	TxStore
}

// ConfigWriter stores account configuration. Used by seeding and demo
// scenarios; the engine itself never writes configuration.
type ConfigWriter interface {
	SaveCity(ctx context.Context, c City) error
	SaveNode(ctx context.Context, n Node) error
	SaveMatrixRow(ctx context.Context, r ClassificationMatrixRow) error
	SaveCityRequirement(ctx context.Context, r CityRequirement) error
	SaveSeasonality(ctx context.Context, s ProductSeasonality) error
	SaveCapacity(ctx context.Context, c CapacityConfig) error
	// SeedEvents inserts production events outside any merge.
	SeedEvents(ctx context.Context, events []Event) error
}
