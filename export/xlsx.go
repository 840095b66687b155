package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/warp/allocation-engine/allocation"
)

const (
	DetailsSheet   = "Details"
	BreakdownSheet = "Breakdown"
)

var breakdownColumns = []string{
	"city_id", "city", "classification", "city_events", "percentage", "city_unassigned",
	"node", "eligible", "existing_events", "new_events", "total_events", "events_per_week",
}

// WriteXLSX writes a review workbook with a Details sheet laid out like the
// CSV export and a Breakdown sheet with one line per node.
func WriteXLSX(w io.Writer, rows []allocation.ExportRow, breakdown []allocation.CityBreakdown) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", DetailsSheet); err != nil {
		return err
	}
	if err := writeRow(f, DetailsSheet, 1, toAny(Columns)); err != nil {
		return err
	}
	for i, r := range rows {
		if err := writeRow(f, DetailsSheet, i+2, toAny(values(r))); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(BreakdownSheet); err != nil {
		return err
	}
	if err := writeRow(f, BreakdownSheet, 1, toAny(breakdownColumns)); err != nil {
		return err
	}
	line := 2
	for _, c := range breakdown {
		city := []any{string(c.CityID), c.CityName, string(c.Classification), c.TotalEvents, c.Percentage.InexactFloat64(), c.Unassigned}
		if len(c.Nodes) == 0 {
			if err := writeRow(f, BreakdownSheet, line, city); err != nil {
				return err
			}
			line++
			continue
		}
		for _, n := range c.Nodes {
			cells := append(append([]any(nil), city...),
				string(n.Code), n.Eligible, n.ExistingEvents, n.NewEvents, n.TotalEvents, n.EventsPerWeek.InexactFloat64())
			if err := writeRow(f, BreakdownSheet, line, cells); err != nil {
				return err
			}
			line++
		}
	}
	return f.Write(w)
}

// ReadXLSX reads import rows from the Details sheet, or the first sheet when
// there is none.
func ReadXLSX(r io.Reader) ([]allocation.ImportRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := DetailsSheet
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		sheet = f.GetSheetName(0)
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return fromRecords(records)
}

func writeRow(f *excelize.File, sheet string, line int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, line)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &cells)
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
