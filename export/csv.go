// Package export renders plan details for offline review and reads edited
// rows back for import.
//
// Only origin, destination, scheduled_date and notes are read on import. The
// enrichment columns are informational and ignored, so reimporting an
// unmodified export reproduces the same details.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/warp/allocation-engine/allocation"
)

// Columns is the header written by WriteCSV and WriteXLSX.
var Columns = []string{
	"origin", "destination", "scheduled_date", "notes",
	"origin_city", "origin_classification",
	"destination_city", "destination_classification",
}

// requiredColumns must be present in any imported file.
var requiredColumns = []string{"origin", "destination", "scheduled_date"}

// ErrMissingColumn is returned when an imported header lacks a contract column.
var ErrMissingColumn = errors.New("missing required column")

type rowValues []string

func (r rowValues) get(idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(r) {
		return ""
	}
	return r[i]
}

func values(r allocation.ExportRow) []string {
	return []string{
		r.Origin, r.Destination, r.ScheduledDate, r.Notes,
		r.OriginCity, r.OriginClassification,
		r.DestinationCity, r.DestinationClassification,
	}
}

// WriteCSV writes the header and one line per row.
func WriteCSV(w io.Writer, rows []allocation.ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(values(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses an exported or hand-written file. Columns are matched by
// header name in any order. Row-level validation is left to the Importer.
func ReadCSV(r io.Reader) ([]allocation.ImportRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRecords(records)
}

func fromRecords(records [][]string) ([]allocation.ImportRow, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}
	idx := make(map[string]int)
	for i, h := range records[0] {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	rows := make([]allocation.ImportRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		v := rowValues(rec)
		if isBlank(v) {
			continue
		}
		rows = append(rows, allocation.ImportRow{
			Origin:        v.get(idx, "origin"),
			Destination:   v.get(idx, "destination"),
			ScheduledDate: v.get(idx, "scheduled_date"),
			Notes:         v.get(idx, "notes"),
		})
	}
	return rows, nil
}

func isBlank(v rowValues) bool {
	for _, s := range v {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}
