/*
handlers.go - HTTP API handlers for the allocation engine

PURPOSE:
  Exposes plan generation, review, round-trip and reconciliation via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  allocation package.

ENDPOINTS:
  Plans:
    POST   /api/plans/preview          Compute a plan without storing it
    POST   /api/plans                  Compute and store a draft
    GET    /api/plans                  List plans (?account_id=, ?status=)
    GET    /api/plans/{id}             Plan header and per-city breakdown
    GET    /api/plans/{id}/details     Detail rows

  Round-trip:
    GET    /api/plans/{id}/export      ?format=csv (default) or xlsx
    POST   /api/plans/{id}/import      text/csv, xlsx or JSON rows

  Reconciliation:
    POST   /api/plans/{id}/merge       {"strategy": "append"|"replace"}
    POST   /api/plans/{id}/cancel

  Configuration:
    GET    /api/accounts/{id}/validation  Matrix, topology and seasonality issues

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Plan not found
  - 409: Plan closed, invalid transition, merge lock busy
  - 500: Merge atomicity failures and internal errors

  Capacity shortfalls are never errors: they come back as deficits and
  unassigned_events in a 200/201 response.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/export"
	"github.com/warp/allocation-engine/factory"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/lock"
	"github.com/warp/allocation-engine/logger"
)

const (
	maxImportBytes = 10 << 20
	xlsxMIME       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the storage the API runs on. Both store/sqlite and store/memory
// satisfy it.
type Backend interface {
	allocation.Store
	allocation.ConfigWriter
	Reset(ctx context.Context) error
}

// Deps wires a Handler.
type Deps struct {
	Store      Backend
	Locker     lock.Locker
	Options    allocation.Options
	Reconciler allocation.ReconcilerOptions
	Logger     logger.Logger
	Recorder   allocation.Recorder
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Backend
	Generator  *allocation.Generator
	Reconciler *allocation.Reconciler
	Importer   *allocation.Importer
	Factory    *factory.ConfigFactory

	validate *validator.Validate
	log      logger.Logger

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler from its dependencies.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = logger.NopLogger{}
	}
	if d.Recorder == nil {
		d.Recorder = allocation.NopRecorder{}
	}
	return &Handler{
		Store: d.Store,
		Generator: allocation.NewGenerator(d.Store, d.Store, d.Options,
			allocation.WithGeneratorLogger(d.Logger),
			allocation.WithGeneratorRecorder(d.Recorder)),
		Reconciler: allocation.NewReconciler(d.Store, d.Locker, d.Reconciler, d.Logger, d.Recorder),
		Importer:   allocation.NewImporter(d.Store, d.Logger, d.Recorder),
		Factory:    factory.NewConfigFactory(),
		validate:   allocation.NewRowValidator(),
		log:        d.Logger,
	}
}

// =============================================================================
// PLAN GENERATION
// =============================================================================

// PreviewPlan computes a plan without persisting it.
// POST /api/plans/preview
func (h *Handler) PreviewPlan(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeGenerate(w, r)
	if !ok {
		return
	}
	res, err := h.Generator.Preview(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "Failed to preview plan", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res, true))
}

// CreatePlan computes a plan and stores it as a draft.
// POST /api/plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeGenerate(w, r)
	if !ok {
		return
	}
	res, err := h.Generator.Create(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "Failed to create plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, toResultDTO(res, false))
}

func (h *Handler) decodeGenerate(w http.ResponseWriter, r *http.Request) (allocation.Request, bool) {
	var body GeneratePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return allocation.Request{}, false
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid plan request", err)
		return allocation.Request{}, false
	}
	req, err := body.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid plan request", err)
		return allocation.Request{}, false
	}
	return req, true
}

// =============================================================================
// PLAN REVIEW
// =============================================================================

// ListPlans returns plan headers, newest first.
// GET /api/plans?account_id=&status=
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	filter := allocation.PlanFilter{
		AccountID: allocation.AccountID(r.URL.Query().Get("account_id")),
		Status:    allocation.PlanStatus(r.URL.Query().Get("status")),
	}
	plans, err := h.Store.ListPlans(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list plans", err)
		return
	}
	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPlan returns the plan header with a breakdown rebuilt from its stored
// details. Per-city unassigned counts are only known at generation time and
// are reported as zero here.
// GET /api/plans/{id}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plan, details, topo, err := h.loadPlan(ctx, allocation.PlanID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get plan", err)
		return
	}
	breakdown, err := h.breakdown(ctx, plan, details, topo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read existing load", err)
		return
	}
	writeJSON(w, http.StatusOK, PlanResultDTO{Plan: toPlanDTO(plan), Breakdown: toBreakdownDTOs(breakdown)})
}

// GetPlanDetails returns the plan's detail rows.
// GET /api/plans/{id}/details
func (h *Handler) GetPlanDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := allocation.PlanID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetPlan(ctx, id); err != nil {
		h.writeDomainError(w, "Failed to get plan", err)
		return
	}
	details, err := h.Store.PlanDetails(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get details", err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailDTOs(details))
}

func (h *Handler) loadPlan(ctx context.Context, id allocation.PlanID) (allocation.AllocationPlan, []allocation.PlanDetail, allocation.Topology, error) {
	plan, err := h.Store.GetPlan(ctx, id)
	if err != nil {
		return plan, nil, allocation.Topology{}, err
	}
	details, err := h.Store.PlanDetails(ctx, id)
	if err != nil {
		return plan, nil, allocation.Topology{}, err
	}
	topo, err := h.Store.Topology(ctx, plan.AccountID)
	return plan, details, topo, err
}

// breakdown rebuilds the review structure of a stored plan. A draft replace
// plan does not count the tuple's PENDING events since the merge deletes them.
func (h *Handler) breakdown(ctx context.Context, plan allocation.AllocationPlan, details []allocation.PlanDetail, topo allocation.Topology) ([]allocation.CityBreakdown, error) {
	q := allocation.LoadQuery{AccountID: plan.AccountID, Period: plan.Period()}
	if plan.Status == allocation.StatusDraft && plan.MergeStrategy == allocation.MergeReplace {
		t := plan.Tuple()
		q.Exclude = &t
	}
	load, err := h.Store.ExistingLoad(ctx, q)
	if err != nil {
		return nil, err
	}
	return allocation.BuildBreakdown(topo, details, load, plan.Period().Weeks(), plan.CalculatedEvents, nil), nil
}

// =============================================================================
// ROUND-TRIP
// =============================================================================

// ExportPlan streams the plan's details as CSV or an XLSX review workbook.
// GET /api/plans/{id}/export?format=csv|xlsx
func (h *Handler) ExportPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plan, details, topo, err := h.loadPlan(ctx, allocation.PlanID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to export plan", err)
		return
	}
	rows := allocation.ExportRows(details, topo)

	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=plan-%s.csv", plan.ID))
		if err := export.WriteCSV(w, rows); err != nil {
			h.log.Errorf("export plan %s: %v", plan.ID, err)
		}
	case "xlsx":
		breakdown, err := h.breakdown(ctx, plan, details, topo)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to read existing load", err)
			return
		}
		w.Header().Set("Content-Type", xlsxMIME)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=plan-%s.xlsx", plan.ID))
		if err := export.WriteXLSX(w, rows, breakdown); err != nil {
			h.log.Errorf("export plan %s: %v", plan.ID, err)
		}
	default:
		writeError(w, http.StatusBadRequest, "Unsupported export format", fmt.Errorf("format %q", format))
	}
}

// ImportPlan replaces a draft's details with externally edited rows.
// Invalid rows are dropped and counted.
// POST /api/plans/{id}/import
func (h *Handler) ImportPlan(w http.ResponseWriter, r *http.Request) {
	id := allocation.PlanID(chi.URLParam(r, "id"))
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)

	var (
		rows []allocation.ImportRow
		err  error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "text/csv":
		rows, err = export.ReadCSV(body)
	case xlsxMIME:
		rows, err = export.ReadXLSX(body)
	default:
		var req ImportRequest
		if err = json.NewDecoder(body).Decode(&req); err == nil {
			for _, d := range req.Rows {
				rows = append(rows, allocation.ImportRow{
					Origin: d.Origin, Destination: d.Destination, ScheduledDate: d.ScheduledDate, Notes: d.Notes,
				})
			}
		}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid import file", err)
		return
	}

	res, err := h.Importer.Import(r.Context(), id, rows)
	if err != nil {
		h.writeDomainError(w, "Failed to import plan", err)
		return
	}
	writeJSON(w, http.StatusOK, ImportResultDTO{
		Plan:     toPlanDTO(res.Plan),
		Received: res.Received,
		Accepted: res.Accepted,
		Dropped:  res.Dropped,
	})
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// MergePlan applies a draft to the production event store.
// POST /api/plans/{id}/merge
func (h *Handler) MergePlan(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid merge strategy", err)
		return
	}

	res, err := h.Reconciler.Merge(r.Context(), allocation.PlanID(chi.URLParam(r, "id")), allocation.MergeStrategy(req.Strategy))
	if err != nil {
		h.writeDomainError(w, "Failed to merge plan", err)
		return
	}
	writeJSON(w, http.StatusOK, MergeResultDTO{
		Plan:     toPlanDTO(res.Plan),
		Strategy: string(res.Strategy),
		Deleted:  res.Deleted,
		Inserted: res.Inserted,
	})
}

// CancelPlan discards a draft.
// POST /api/plans/{id}/cancel
func (h *Handler) CancelPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.Reconciler.Cancel(r.Context(), allocation.PlanID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to cancel plan", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// ValidateAccount reports configuration issues. ?product_id= adds the
// product's seasonality curves to the check.
// GET /api/accounts/{id}/validation
func (h *Handler) ValidateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := allocation.AccountID(chi.URLParam(r, "id"))
	issues, err := allocation.ValidateAccount(ctx, h.Store, account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to validate account", err)
		return
	}
	if product := r.URL.Query().Get("product_id"); product != "" {
		more, err := allocation.ValidateSeasonality(ctx, h.Store, account, allocation.ProductID(product))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to validate seasonality", err)
			return
		}
		issues = append(issues, more...)
	}
	writeJSON(w, http.StatusOK, ValidationDTO{
		AccountID: string(account),
		Valid:     len(issues) == 0,
		Issues:    toIssueDTOs(issues),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var verr validator.ValidationErrors
	switch {
	case generic.IsClientError(err), errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, message, err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		if errors.Is(err, generic.ErrMergeAtomicityFailure) {
			h.log.Errorf("%s: %v", message, err)
		}
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
