/*
Package factory provides JSON to Go account configuration conversion.

PURPOSE:
  Converts a JSON configuration bundle (topology, capacity, matrix, city
  requirements, seasonality and optional existing events) into validated
  allocation types. This enables seeding an account without code changes:
  operations can edit one file and load it with `allocator seed`.

JSON SCHEMA:
  {
    "account_id": "acme",
    "capacity": {"max_events_per_panelist_week": 50},
    "cities": [{"id": "mad", "name": "Madrid", "classification": "A"}],
    "nodes": [{"code": "A-01", "city_id": "mad", "panelist_id": "p1", "status": "active"}],
    "classification_matrix": [
      {"destination": "A", "from_a": 60, "from_b": 40, "from_c": 0}
    ],
    "city_requirements": [{"city_id": "mad", "from_a": 30, "from_b": 20}],
    "seasonality": [
      {"product_id": "letter", "year": 2025, "months": [8, 8, 10, ...]}
    ],
    "events": [
      {"carrier_id": "post", "product_id": "letter", "origin": "B-01",
       "destination": "A-01", "scheduled_date": "2025-02-03", "status": "SHIPPED"}
    ]
  }

STRICT VS SOFT PROBLEMS:
  Malformed JSON, unknown classifications, node statuses or event statuses
  and unparseable dates fail the whole bundle with ErrInvalidConfiguration.
  Rows that parse but break a domain rule (matrix or seasonality not summing
  to 100, requirements on unknown cities, cities without eligible nodes) are
  kept and reported as ConfigIssues, the same way generation reports them.

USAGE:
  f := factory.NewConfigFactory()
  bundle, issues, err := f.ParseBundle(data)
  if err != nil {
      return err
  }
  err = bundle.Apply(ctx, store)

SEE ALSO:
  - allocation/validation.go: The domain checks reused here
  - api/scenarios.go: Demo bundles built in Go
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// BundleJSON is the JSON representation of one account's configuration.
type BundleJSON struct {
	AccountID      string            `json:"account_id"`
	Capacity       *CapacityJSON     `json:"capacity,omitempty"`
	Cities         []CityJSON        `json:"cities"`
	Nodes          []NodeJSON        `json:"nodes"`
	Matrix         []MatrixRowJSON   `json:"classification_matrix,omitempty"`
	Requirements   []RequirementJSON `json:"city_requirements,omitempty"`
	Seasonality    []SeasonalityJSON `json:"seasonality,omitempty"`
	ExistingEvents []EventJSON       `json:"events,omitempty"`
}

type CapacityJSON struct {
	MaxEventsPerPanelistWeek int `json:"max_events_per_panelist_week"`
}

type CityJSON struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Classification string `json:"classification"`
}

type NodeJSON struct {
	Code       string `json:"code"`
	CityID     string `json:"city_id"`
	PanelistID string `json:"panelist_id,omitempty"`
	Status     string `json:"status,omitempty"` // active (default), inactive
}

type MatrixRowJSON struct {
	Destination string          `json:"destination"`
	FromA       decimal.Decimal `json:"from_a"`
	FromB       decimal.Decimal `json:"from_b"`
	FromC       decimal.Decimal `json:"from_c"`
}

type RequirementJSON struct {
	CityID string `json:"city_id"`
	FromA  int    `json:"from_a"`
	FromB  int    `json:"from_b"`
	FromC  int    `json:"from_c"`
}

type SeasonalityJSON struct {
	ProductID string            `json:"product_id"`
	Year      int               `json:"year"`
	Months    []decimal.Decimal `json:"months"`
}

type EventJSON struct {
	ID            string `json:"id,omitempty"`
	CarrierID     string `json:"carrier_id"`
	ProductID     string `json:"product_id"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	ScheduledDate string `json:"scheduled_date"`
	Status        string `json:"status,omitempty"` // PENDING (default)
}

// =============================================================================
// BUNDLE
// =============================================================================

// Bundle is a parsed account configuration ready to be stored.
type Bundle struct {
	AccountID    allocation.AccountID
	Capacity     *allocation.CapacityConfig
	Topology     allocation.Topology
	Matrix       []allocation.ClassificationMatrixRow
	Requirements []allocation.CityRequirement
	Seasonality  []allocation.ProductSeasonality
	Events       []allocation.Event
}

// Apply writes the bundle through w. Writes are upserts, so applying the
// same bundle twice is harmless except for events without an explicit ID.
func (b *Bundle) Apply(ctx context.Context, w allocation.ConfigWriter) error {
	for _, c := range b.Topology.Cities {
		if err := w.SaveCity(ctx, c); err != nil {
			return fmt.Errorf("save city %s: %w", c.ID, err)
		}
	}
	for _, n := range b.Topology.Nodes {
		if err := w.SaveNode(ctx, n); err != nil {
			return fmt.Errorf("save node %s: %w", n.Code, err)
		}
	}
	if b.Capacity != nil {
		if err := w.SaveCapacity(ctx, *b.Capacity); err != nil {
			return fmt.Errorf("save capacity: %w", err)
		}
	}
	for _, r := range b.Matrix {
		if err := w.SaveMatrixRow(ctx, r); err != nil {
			return fmt.Errorf("save matrix row %s: %w", r.Destination, err)
		}
	}
	for _, r := range b.Requirements {
		if err := w.SaveCityRequirement(ctx, r); err != nil {
			return fmt.Errorf("save requirement %s: %w", r.CityID, err)
		}
	}
	for _, s := range b.Seasonality {
		if err := w.SaveSeasonality(ctx, s); err != nil {
			return fmt.Errorf("save seasonality %s/%d: %w", s.ProductID, s.Year, err)
		}
	}
	if len(b.Events) > 0 {
		if err := w.SeedEvents(ctx, b.Events); err != nil {
			return fmt.Errorf("seed events: %w", err)
		}
	}
	return nil
}

// =============================================================================
// CONFIG FACTORY
// =============================================================================

// ConfigFactory converts JSON bundles to allocation types.
type ConfigFactory struct{}

// NewConfigFactory creates a new configuration factory.
func NewConfigFactory() *ConfigFactory {
	return &ConfigFactory{}
}

// ParseBundle parses a JSON document into a Bundle plus soft issues.
func (f *ConfigFactory) ParseBundle(data []byte) (*Bundle, []allocation.ConfigIssue, error) {
	var bj BundleJSON
	if err := json.Unmarshal(data, &bj); err != nil {
		return nil, nil, fmt.Errorf("%w: failed to parse bundle JSON: %v", generic.ErrInvalidConfiguration, err)
	}
	return f.FromJSON(bj)
}

// FromJSON converts BundleJSON to a Bundle.
func (f *ConfigFactory) FromJSON(bj BundleJSON) (*Bundle, []allocation.ConfigIssue, error) {
	account := allocation.AccountID(strings.TrimSpace(bj.AccountID))
	if account == "" {
		return nil, nil, fmt.Errorf("%w: account_id is required", generic.ErrInvalidConfiguration)
	}
	b := &Bundle{AccountID: account}
	var issues []allocation.ConfigIssue

	if bj.Capacity != nil {
		if bj.Capacity.MaxEventsPerPanelistWeek < 0 {
			issues = append(issues, allocation.ConfigIssue{Kind: "capacity", Key: string(account), Message: "negative weekly cap"})
		} else {
			b.Capacity = &allocation.CapacityConfig{AccountID: account, MaxEventsPerPanelistWeek: bj.Capacity.MaxEventsPerPanelistWeek}
		}
	}

	for _, cj := range bj.Cities {
		class, err := allocation.ParseClassification(cj.Classification)
		if err != nil {
			return nil, nil, fmt.Errorf("city %s: %w", cj.ID, err)
		}
		if cj.ID == "" {
			return nil, nil, fmt.Errorf("%w: city without id", generic.ErrInvalidConfiguration)
		}
		name := cj.Name
		if name == "" {
			name = cj.ID
		}
		b.Topology.Cities = append(b.Topology.Cities, allocation.City{
			ID: allocation.CityID(cj.ID), AccountID: account, Name: name, Classification: class,
		})
	}

	for _, nj := range bj.Nodes {
		status, err := parseNodeStatus(nj.Status)
		if err != nil {
			return nil, nil, fmt.Errorf("node %s: %w", nj.Code, err)
		}
		if nj.Code == "" {
			return nil, nil, fmt.Errorf("%w: node without code", generic.ErrInvalidConfiguration)
		}
		b.Topology.Nodes = append(b.Topology.Nodes, allocation.Node{
			Code:       allocation.NodeCode(nj.Code),
			AccountID:  account,
			CityID:     allocation.CityID(nj.CityID),
			PanelistID: allocation.PanelistID(nj.PanelistID),
			Status:     status,
		})
	}
	issues = append(issues, allocation.CheckTopology(b.Topology)...)

	for _, mj := range bj.Matrix {
		dest, err := allocation.ParseClassification(mj.Destination)
		if err != nil {
			return nil, nil, fmt.Errorf("matrix row: %w", err)
		}
		row := allocation.ClassificationMatrixRow{AccountID: account, Destination: dest, FromA: mj.FromA, FromB: mj.FromB, FromC: mj.FromC}
		b.Matrix = append(b.Matrix, row)
	}
	_, matrixIssues := allocation.SplitMatrix(b.Matrix)
	issues = append(issues, matrixIssues...)

	for _, rj := range bj.Requirements {
		r := allocation.CityRequirement{AccountID: account, CityID: allocation.CityID(rj.CityID), FromA: rj.FromA, FromB: rj.FromB, FromC: rj.FromC}
		if issue := allocation.CheckRequirement(r, b.Topology); issue != nil {
			issues = append(issues, *issue)
		}
		b.Requirements = append(b.Requirements, r)
	}

	for _, sj := range bj.Seasonality {
		if len(sj.Months) != 12 {
			return nil, nil, fmt.Errorf("%w: seasonality %s/%d has %d months, expected 12",
				generic.ErrInvalidConfiguration, sj.ProductID, sj.Year, len(sj.Months))
		}
		s := allocation.ProductSeasonality{AccountID: account, ProductID: allocation.ProductID(sj.ProductID), Year: sj.Year}
		copy(s.Months[:], sj.Months)
		if issue := allocation.CheckSeasonality(s); issue != nil {
			issues = append(issues, *issue)
		}
		b.Seasonality = append(b.Seasonality, s)
	}

	for i, ej := range bj.ExistingEvents {
		e, err := parseEvent(account, ej)
		if err != nil {
			return nil, nil, fmt.Errorf("event %d: %w", i, err)
		}
		b.Events = append(b.Events, e)
	}

	return b, issues, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func parseNodeStatus(s string) (allocation.NodeStatus, error) {
	switch allocation.NodeStatus(strings.ToLower(strings.TrimSpace(s))) {
	case "", allocation.NodeActive:
		return allocation.NodeActive, nil
	case allocation.NodeInactive:
		return allocation.NodeInactive, nil
	}
	return "", fmt.Errorf("%w: unknown node status %q", generic.ErrInvalidConfiguration, s)
}

func parseEventStatus(s string) (allocation.EventStatus, error) {
	switch st := allocation.EventStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case "":
		return allocation.EventPending, nil
	case allocation.EventPending, allocation.EventShipped, allocation.EventReceived, allocation.EventCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown event status %q", generic.ErrInvalidConfiguration, s)
}

func parseEvent(account allocation.AccountID, ej EventJSON) (allocation.Event, error) {
	status, err := parseEventStatus(ej.Status)
	if err != nil {
		return allocation.Event{}, err
	}
	day, err := generic.ParseDate(ej.ScheduledDate)
	if err != nil {
		return allocation.Event{}, fmt.Errorf("%w: %v", generic.ErrInvalidConfiguration, err)
	}
	if ej.Origin == "" || ej.Destination == "" {
		return allocation.Event{}, fmt.Errorf("%w: origin and destination are required", generic.ErrInvalidConfiguration)
	}
	id := ej.ID
	if id == "" {
		id = uuid.NewString()
	}
	return allocation.Event{
		ID:            allocation.EventID(id),
		AccountID:     account,
		CarrierID:     allocation.CarrierID(ej.CarrierID),
		ProductID:     allocation.ProductID(ej.ProductID),
		Origin:        allocation.NodeCode(ej.Origin),
		Destination:   allocation.NodeCode(ej.Destination),
		ScheduledDate: day,
		Status:        status,
	}, nil
}
