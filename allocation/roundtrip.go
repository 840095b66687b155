package allocation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logger"
)

// =============================================================================
// ROUND-TRIP - Externally edited detail rows
// =============================================================================

// ImportRow is one externally supplied detail row. Only the three contract
// columns and notes are read; display enrichment is ignored.
type ImportRow struct {
	Origin        string `validate:"required"`
	Destination   string `validate:"required"`
	ScheduledDate string `validate:"required,calendar_date"`
	Notes         string
}

// ImportResult reports an import. Dropped rows are counted, not itemized.
type ImportResult struct {
	Plan     AllocationPlan
	Received int
	Accepted int
	Dropped  int
}

// NewRowValidator returns a validator knowing the calendar_date tag.
func NewRowValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("calendar_date", func(fl validator.FieldLevel) bool {
		_, err := generic.ParseDate(fl.Field().String())
		return err == nil
	})
	return v
}

// Importer replaces a draft's details with validated external rows.
type Importer struct {
	store interface {
		PlanReader
		TxStore
	}
	validate *validator.Validate
	log      logger.Logger
	rec      Recorder
	now      func() time.Time
}

func NewImporter(store interface {
	PlanReader
	TxStore
}, log logger.Logger, rec Recorder) *Importer {
	if log == nil {
		log = logger.NopLogger{}
	}
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Importer{store: store, validate: NewRowValidator(), log: log, rec: rec, now: time.Now}
}

// Valid trims the row and reports whether it passes validation.
func (i *Importer) Valid(row ImportRow) (ImportRow, bool) {
	row.Origin = strings.TrimSpace(row.Origin)
	row.Destination = strings.TrimSpace(row.Destination)
	row.ScheduledDate = strings.TrimSpace(row.ScheduledDate)
	row.Notes = strings.TrimSpace(row.Notes)
	return row, i.validate.Struct(row) == nil
}

// Import validates rows, silently drops invalid ones and replaces the plan's
// details with the rest. calculated_events becomes the number of accepted
// rows. unassigned_events is left untouched and must be treated as unknown.
func (i *Importer) Import(ctx context.Context, id PlanID, rows []ImportRow) (ImportResult, error) {
	res := ImportResult{Received: len(rows)}
	details := make([]PlanDetail, 0, len(rows))
	for _, raw := range rows {
		row, ok := i.Valid(raw)
		if !ok {
			res.Dropped++
			continue
		}
		day, _ := generic.ParseDate(row.ScheduledDate)
		details = append(details, PlanDetail{
			PlanID:        id,
			Origin:        NodeCode(row.Origin),
			Destination:   NodeCode(row.Destination),
			ScheduledDate: day,
			Notes:         row.Notes,
		})
	}
	SortDetails(details)
	res.Accepted = len(details)

	err := i.store.WithTx(ctx, func(tx Tx) error {
		plan, err := tx.GetPlan(ctx, id)
		if err != nil {
			return err
		}
		if plan.IsClosed() {
			return fmt.Errorf("%w: plan %s is %s", generic.ErrPlanClosed, id, plan.Status)
		}
		if err := tx.ReplaceDetails(ctx, id, details); err != nil {
			return fmt.Errorf("replace details: %w", err)
		}
		if err := tx.UpdatePlanCounts(ctx, id, len(details), plan.UnassignedEvents, i.now().UTC()); err != nil {
			return fmt.Errorf("update counts: %w", err)
		}
		res.Plan, err = tx.GetPlan(ctx, id)
		return err
	})
	if err != nil {
		return ImportResult{}, err
	}
	i.rec.RowsImported(res.Accepted, res.Dropped)
	i.log.Infof("plan %s imported: received=%d accepted=%d dropped=%d", id, res.Received, res.Accepted, res.Dropped)
	return res, nil
}

// =============================================================================
// EXPORT - Contract columns plus display enrichment
// =============================================================================

// ExportRow is a detail row as handed to reviewers.
type ExportRow struct {
	Origin                    string
	Destination               string
	ScheduledDate             string
	Notes                     string
	OriginCity                string
	OriginClassification      string
	DestinationCity           string
	DestinationClassification string
}

// ImportRow drops the enrichment.
func (r ExportRow) ImportRow() ImportRow {
	return ImportRow{Origin: r.Origin, Destination: r.Destination, ScheduledDate: r.ScheduledDate, Notes: r.Notes}
}

// ExportRows renders details in their stored order.
func ExportRows(details []PlanDetail, topo Topology) []ExportRow {
	cityOf := func(code NodeCode) (string, string) {
		n, ok := topo.Node(code)
		if !ok {
			return "", ""
		}
		c, ok := topo.City(n.CityID)
		if !ok {
			return string(n.CityID), ""
		}
		return c.Name, string(c.Classification)
	}
	out := make([]ExportRow, len(details))
	for i, d := range details {
		oc, ocl := cityOf(d.Origin)
		dc, dcl := cityOf(d.Destination)
		out[i] = ExportRow{
			Origin:                    string(d.Origin),
			Destination:               string(d.Destination),
			ScheduledDate:             generic.FormatDate(d.ScheduledDate),
			Notes:                     d.Notes,
			OriginCity:                oc,
			OriginClassification:      ocl,
			DestinationCity:           dc,
			DestinationClassification: dcl,
		}
	}
	return out
}
