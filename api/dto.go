/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Plans:
    GeneratePlanRequest, PlanDTO, PlanDetailDTO, PlanResultDTO

  Review:
    WeekDTO, DeficitDTO, CityBreakdownDTO, NodeBreakdownDTO

  Reconciliation:
    MergeRequest, MergeResultDTO, ImportRequest, ImportResultDTO

  Configuration:
    ValidationDTO, ConfigIssueDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry validator tags; handlers run them through the shared
  validator before converting to domain types.

SEE ALSO:
  - handlers.go: Uses these types
  - allocation/assembler.go: Domain result types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// GeneratePlanRequest asks for a plan. Dates are calendar dates.
type GeneratePlanRequest struct {
	AccountID        string `json:"account_id" validate:"required"`
	CarrierID        string `json:"carrier_id" validate:"required"`
	ProductID        string `json:"product_id" validate:"required"`
	StartDate        string `json:"start_date" validate:"required,calendar_date"`
	EndDate          string `json:"end_date" validate:"required,calendar_date"`
	TotalEvents      int    `json:"total_events" validate:"gte=0"`
	MergeStrategy    string `json:"merge_strategy,omitempty" validate:"omitempty,oneof=append replace"`
	CapacityOverride *int   `json:"capacity_override,omitempty" validate:"omitempty,gte=0"`
}

// MergeRequest picks the merge strategy. Empty uses the plan's.
type MergeRequest struct {
	Strategy string `json:"strategy,omitempty" validate:"omitempty,oneof=append replace"`
}

// ImportRequest is the JSON form of an import.
type ImportRequest struct {
	Rows []PlanDetailDTO `json:"rows"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// PlanDTO represents a plan header in API responses.
type PlanDTO struct {
	ID               string  `json:"id"`
	AccountID        string  `json:"account_id"`
	CarrierID        string  `json:"carrier_id"`
	ProductID        string  `json:"product_id"`
	StartDate        string  `json:"start_date"`
	EndDate          string  `json:"end_date"`
	TotalEvents      int     `json:"total_events"`
	CalculatedEvents int     `json:"calculated_events"`
	UnassignedEvents int     `json:"unassigned_events"`
	MergeStrategy    string  `json:"merge_strategy"`
	Status           string  `json:"status"`
	CapacityOverride *int    `json:"capacity_override,omitempty"`
	CreatedAt        string  `json:"created_at,omitempty"`
	UpdatedAt        string  `json:"updated_at,omitempty"`
	ClosedAt         *string `json:"closed_at,omitempty"`
}

// PlanDetailDTO is one detail row. Also used for JSON imports.
type PlanDetailDTO struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	ScheduledDate string `json:"scheduled_date"`
	Notes         string `json:"notes,omitempty"`
}

type WeekDTO struct {
	Week       string `json:"week"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Quota      int    `json:"quota"`
	Placed     int    `json:"placed"`
	Unassigned int    `json:"unassigned"`
	Backfilled int    `json:"backfilled"`
}

type DeficitDTO struct {
	CityID         string `json:"city_id,omitempty"`
	CityName       string `json:"city_name,omitempty"`
	Classification string `json:"classification"`
	Count          int    `json:"count"`
}

type NodeBreakdownDTO struct {
	Code           string          `json:"code"`
	Eligible       bool            `json:"eligible"`
	ExistingEvents int             `json:"existing_events"`
	NewEvents      int             `json:"new_events"`
	TotalEvents    int             `json:"total_events"`
	EventsPerWeek  decimal.Decimal `json:"events_per_week"`
}

type CityBreakdownDTO struct {
	CityID         string             `json:"city_id"`
	CityName       string             `json:"city_name"`
	Classification string             `json:"classification"`
	TotalEvents    int                `json:"total_events"`
	Percentage     decimal.Decimal    `json:"percentage"`
	Unassigned     int                `json:"unassigned"`
	Nodes          []NodeBreakdownDTO `json:"nodes"`
}

// PlanResultDTO is returned by preview, create and get.
type PlanResultDTO struct {
	Plan         PlanDTO            `json:"plan"`
	Details      []PlanDetailDTO    `json:"details,omitempty"`
	Weeks        []WeekDTO          `json:"weeks,omitempty"`
	Deficits     []DeficitDTO       `json:"deficits,omitempty"`
	Breakdown    []CityBreakdownDTO `json:"breakdown"`
	WeightSource string             `json:"weight_source,omitempty"`
	Capacity     int                `json:"capacity,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
}

type MergeResultDTO struct {
	Plan     PlanDTO `json:"plan"`
	Strategy string  `json:"strategy"`
	Deleted  int     `json:"deleted"`
	Inserted int     `json:"inserted"`
}

type ImportResultDTO struct {
	Plan     PlanDTO `json:"plan"`
	Received int     `json:"received"`
	Accepted int     `json:"accepted"`
	Dropped  int     `json:"dropped"`
}

type ConfigIssueDTO struct {
	Kind    string `json:"kind"`
	Key     string `json:"key"`
	Message string `json:"message"`
}

// ValidationDTO reports an account's configuration health.
type ValidationDTO struct {
	AccountID string           `json:"account_id"`
	Valid     bool             `json:"valid"`
	Issues    []ConfigIssueDTO `json:"issues"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Request     GeneratePlanRequest `json:"request"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (r GeneratePlanRequest) toDomain() (allocation.Request, error) {
	start, err := generic.ParseDate(r.StartDate)
	if err != nil {
		return allocation.Request{}, err
	}
	end, err := generic.ParseDate(r.EndDate)
	if err != nil {
		return allocation.Request{}, err
	}
	strategy, err := allocation.ParseMergeStrategy(r.MergeStrategy)
	if err != nil {
		return allocation.Request{}, err
	}
	return allocation.Request{
		AccountID:        allocation.AccountID(r.AccountID),
		CarrierID:        allocation.CarrierID(r.CarrierID),
		ProductID:        allocation.ProductID(r.ProductID),
		StartDate:        start,
		EndDate:          end,
		TotalEvents:      r.TotalEvents,
		MergeStrategy:    strategy,
		CapacityOverride: r.CapacityOverride,
	}, nil
}

func toPlanDTO(p allocation.AllocationPlan) PlanDTO {
	dto := PlanDTO{
		ID:               string(p.ID),
		AccountID:        string(p.AccountID),
		CarrierID:        string(p.CarrierID),
		ProductID:        string(p.ProductID),
		StartDate:        generic.FormatDate(p.StartDate),
		EndDate:          generic.FormatDate(p.EndDate),
		TotalEvents:      p.TotalEvents,
		CalculatedEvents: p.CalculatedEvents,
		UnassignedEvents: p.UnassignedEvents,
		MergeStrategy:    string(p.MergeStrategy),
		Status:           string(p.Status),
		CapacityOverride: p.CapacityOverride,
	}
	if !p.CreatedAt.IsZero() {
		dto.CreatedAt = p.CreatedAt.Format(time.RFC3339)
	}
	if !p.UpdatedAt.IsZero() {
		dto.UpdatedAt = p.UpdatedAt.Format(time.RFC3339)
	}
	if p.ClosedAt != nil {
		s := p.ClosedAt.Format(time.RFC3339)
		dto.ClosedAt = &s
	}
	return dto
}

func toDetailDTOs(details []allocation.PlanDetail) []PlanDetailDTO {
	out := make([]PlanDetailDTO, len(details))
	for i, d := range details {
		out[i] = PlanDetailDTO{
			Origin:        string(d.Origin),
			Destination:   string(d.Destination),
			ScheduledDate: generic.FormatDate(d.ScheduledDate),
			Notes:         d.Notes,
		}
	}
	return out
}

func toBreakdownDTOs(breakdown []allocation.CityBreakdown) []CityBreakdownDTO {
	out := make([]CityBreakdownDTO, len(breakdown))
	for i, c := range breakdown {
		dto := CityBreakdownDTO{
			CityID:         string(c.CityID),
			CityName:       c.CityName,
			Classification: string(c.Classification),
			TotalEvents:    c.TotalEvents,
			Percentage:     c.Percentage,
			Unassigned:     c.Unassigned,
			Nodes:          make([]NodeBreakdownDTO, len(c.Nodes)),
		}
		for j, n := range c.Nodes {
			dto.Nodes[j] = NodeBreakdownDTO{
				Code:           string(n.Code),
				Eligible:       n.Eligible,
				ExistingEvents: n.ExistingEvents,
				NewEvents:      n.NewEvents,
				TotalEvents:    n.TotalEvents,
				EventsPerWeek:  n.EventsPerWeek,
			}
		}
		out[i] = dto
	}
	return out
}

func toResultDTO(res *allocation.Result, withDetails bool) PlanResultDTO {
	dto := PlanResultDTO{
		Plan:         toPlanDTO(res.Plan),
		Breakdown:    toBreakdownDTOs(res.Breakdown),
		WeightSource: string(res.WeightSource),
		Capacity:     res.Capacity,
		Warnings:     res.Warnings,
	}
	if withDetails {
		dto.Details = toDetailDTOs(res.Details)
	}
	for _, w := range res.Weeks {
		dto.Weeks = append(dto.Weeks, WeekDTO{
			Week:       w.Week.String(),
			Start:      generic.FormatDate(w.Start),
			End:        generic.FormatDate(w.End),
			Quota:      w.Quota,
			Placed:     w.Placed,
			Unassigned: w.Unassigned,
			Backfilled: w.Backfilled,
		})
	}
	for _, d := range res.Deficits {
		dto.Deficits = append(dto.Deficits, DeficitDTO{
			CityID:         string(d.CityID),
			CityName:       d.CityName,
			Classification: string(d.Classification),
			Count:          d.Count,
		})
	}
	return dto
}

func toIssueDTOs(issues []allocation.ConfigIssue) []ConfigIssueDTO {
	out := make([]ConfigIssueDTO, len(issues))
	for i, is := range issues {
		out[i] = ConfigIssueDTO{Kind: is.Kind, Key: is.Key, Message: is.Message}
	}
	return out
}
