/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built account configurations that populate the store with
  realistic data for demos and end-to-end tests. Each scenario is a
  factory bundle plus the plan request it is meant to be run with.

AVAILABLE SCENARIOS:
  balanced-two-city:    One A city and one B city, weekly cap 50, fits easily
  constrained-two-city: Same topology with weekly cap 10, deficits every week
  three-tier:           A/B/C cities, ineligible nodes, city requirements and
                        existing production events

HOW SCENARIOS WORK:
  1. Reset the store (clear all data)
  2. Convert the bundle via factory.ConfigFactory
  3. Apply it through allocation.ConfigWriter

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "balanced-two-city"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - factory/bundle.go: Bundle conversion
  - cmd/allocator/seed.go: Loads the same bundles from the CLI
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/factory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// Scenario is a demo bundle with its suggested request.
type Scenario struct {
	Info   ScenarioDTO
	Bundle factory.BundleJSON
}

const demoAccount = "demo"

func pct(values ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func twoCityBundle(weeklyCap int) factory.BundleJSON {
	return factory.BundleJSON{
		AccountID: demoAccount,
		Capacity:  &factory.CapacityJSON{MaxEventsPerPanelistWeek: weeklyCap},
		Cities: []factory.CityJSON{
			{ID: "mad", Name: "Madrid", Classification: "A"},
			{ID: "bcn", Name: "Barcelona", Classification: "B"},
		},
		Nodes: []factory.NodeJSON{
			{Code: "MAD-01", CityID: "mad", PanelistID: "pan-mad-01"},
			{Code: "BCN-01", CityID: "bcn", PanelistID: "pan-bcn-01"},
		},
		Matrix: []factory.MatrixRowJSON{
			{Destination: "A", FromA: decimal.NewFromInt(60), FromB: decimal.NewFromInt(40), FromC: decimal.Zero},
			{Destination: "B", FromA: decimal.NewFromInt(60), FromB: decimal.NewFromInt(40), FromC: decimal.Zero},
		},
		Seasonality: []factory.SeasonalityJSON{
			{ProductID: "letter", Year: 2025, Months: pct(10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 0, 0)},
		},
	}
}

func twoCityRequest() GeneratePlanRequest {
	return GeneratePlanRequest{
		AccountID:   demoAccount,
		CarrierID:   "post",
		ProductID:   "letter",
		StartDate:   "2025-02-01",
		EndDate:     "2025-04-30",
		TotalEvents: 1200,
	}
}

func threeTierBundle() factory.BundleJSON {
	return factory.BundleJSON{
		AccountID: demoAccount,
		Capacity:  &factory.CapacityJSON{MaxEventsPerPanelistWeek: 30},
		Cities: []factory.CityJSON{
			{ID: "mad", Name: "Madrid", Classification: "A"},
			{ID: "bcn", Name: "Barcelona", Classification: "A"},
			{ID: "vlc", Name: "Valencia", Classification: "B"},
			{ID: "svq", Name: "Sevilla", Classification: "B"},
			{ID: "sor", Name: "Soria", Classification: "C"},
		},
		Nodes: []factory.NodeJSON{
			{Code: "MAD-01", CityID: "mad", PanelistID: "pan-mad-01"},
			{Code: "MAD-02", CityID: "mad", PanelistID: "pan-mad-02"},
			{Code: "MAD-03", CityID: "mad"},
			{Code: "BCN-01", CityID: "bcn", PanelistID: "pan-bcn-01"},
			{Code: "BCN-02", CityID: "bcn", PanelistID: "pan-bcn-02", Status: "inactive"},
			{Code: "VLC-01", CityID: "vlc", PanelistID: "pan-vlc-01"},
			{Code: "SVQ-01", CityID: "svq", PanelistID: "pan-svq-01"},
			{Code: "SOR-01", CityID: "sor", PanelistID: "pan-sor-01"},
		},
		Matrix: []factory.MatrixRowJSON{
			{Destination: "A", FromA: decimal.NewFromInt(50), FromB: decimal.NewFromInt(35), FromC: decimal.NewFromInt(15)},
			{Destination: "B", FromA: decimal.NewFromInt(40), FromB: decimal.NewFromInt(40), FromC: decimal.NewFromInt(20)},
			{Destination: "C", FromA: decimal.NewFromInt(50), FromB: decimal.NewFromInt(50), FromC: decimal.Zero},
		},
		Requirements: []factory.RequirementJSON{
			{CityID: "mad", FromA: 120, FromB: 80, FromC: 40},
			{CityID: "bcn", FromA: 90, FromB: 60, FromC: 30},
			{CityID: "vlc", FromA: 50, FromB: 50, FromC: 20},
			{CityID: "svq", FromA: 40, FromB: 40, FromC: 20},
			{CityID: "sor", FromA: 20, FromB: 20},
		},
		Seasonality: []factory.SeasonalityJSON{
			{ProductID: "parcel", Year: 2025, Months: pct(6, 6, 8, 9, 9, 8, 7, 6, 9, 10, 11, 11)},
		},
		ExistingEvents: []factory.EventJSON{
			{ID: "seed-1", CarrierID: "express", ProductID: "parcel", Origin: "VLC-01", Destination: "MAD-01", ScheduledDate: "2025-03-04", Status: "SHIPPED"},
			{ID: "seed-2", CarrierID: "express", ProductID: "parcel", Origin: "SVQ-01", Destination: "MAD-01", ScheduledDate: "2025-03-05", Status: "PENDING"},
			{ID: "seed-3", CarrierID: "express", ProductID: "parcel", Origin: "MAD-02", Destination: "SOR-01", ScheduledDate: "2025-03-11", Status: "PENDING"},
			{ID: "seed-4", CarrierID: "express", ProductID: "parcel", Origin: "BCN-01", Destination: "VLC-01", ScheduledDate: "2025-03-12", Status: "CANCELLED"},
		},
	}
}

// Scenarios returns the demo scenarios in display order.
func Scenarios() []Scenario {
	return []Scenario{
		{
			Info: ScenarioDTO{
				ID:          "balanced-two-city",
				Name:        "Balanced Two Cities",
				Description: "1200 events/year at 10%/month, Feb-Apr, A/B cities with one panelist each, cap 50",
				Request:     twoCityRequest(),
			},
			Bundle: twoCityBundle(50),
		},
		{
			Info: ScenarioDTO{
				ID:          "constrained-two-city",
				Name:        "Constrained Two Cities",
				Description: "Same demand with a weekly cap of 10: unassigned events every week",
				Request:     twoCityRequest(),
			},
			Bundle: twoCityBundle(10),
		},
		{
			Info: ScenarioDTO{
				ID:          "three-tier",
				Name:        "Three Tiers",
				Description: "A/B/C cities, ineligible nodes, city requirements and existing events; replace merge",
				Request: GeneratePlanRequest{
					AccountID:     demoAccount,
					CarrierID:     "express",
					ProductID:     "parcel",
					StartDate:     "2025-03-01",
					EndDate:       "2025-05-31",
					TotalEvents:   3000,
					MergeStrategy: "replace",
				},
			},
			Bundle: threeTierBundle(),
		},
	}
}

// FindScenario returns the scenario with the given ID.
func FindScenario(id string) (Scenario, bool) {
	for _, s := range Scenarios() {
		if s.Info.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}

// LoadScenarioInto resets the backend and applies the scenario's bundle.
func LoadScenarioInto(ctx context.Context, store Backend, f *factory.ConfigFactory, id string) error {
	s, ok := FindScenario(id)
	if !ok {
		return fmt.Errorf("unknown scenario %q", id)
	}
	bundle, _, err := f.FromJSON(s.Bundle)
	if err != nil {
		return err
	}
	if err := store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	return bundle.Apply(ctx, store)
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	list := Scenarios()
	dtos := make([]ScenarioDTO, len(list))
	for i, s := range list {
		dtos[i] = s.Info
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if s, ok := FindScenario(current); ok {
		writeJSON(w, http.StatusOK, s.Info)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, ok := FindScenario(req.ScenarioID); !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = ""
	if err := LoadScenarioInto(r.Context(), h.Store, h.Factory, req.ScenarioID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.log.Infof("scenario %s loaded", req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
