package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/generic"
)

func sampleTopology() allocation.Topology {
	return allocation.Topology{
		Cities: []allocation.City{
			{ID: "mad", Name: "Madrid", Classification: allocation.ClassA},
			{ID: "bcn", Name: "Barcelona", Classification: allocation.ClassB},
		},
		Nodes: []allocation.Node{
			{Code: "A-01", CityID: "mad", PanelistID: "p1", Status: allocation.NodeActive},
			{Code: "B-01", CityID: "bcn", PanelistID: "p2", Status: allocation.NodeActive},
		},
	}
}

func sampleDetails() []allocation.PlanDetail {
	return []allocation.PlanDetail{
		{Origin: "B-01", Destination: "A-01", ScheduledDate: generic.Date(2025, time.February, 3)},
		{Origin: "A-01", Destination: "B-01", ScheduledDate: generic.Date(2025, time.February, 4), Notes: "check, with comma"},
	}
}

func TestCSV_RoundTripIsIdempotent(t *testing.T) {
	// GIVEN: An export of two details
	rows := allocation.ExportRows(sampleDetails(), sampleTopology())
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))
	first := buf.String()

	// WHEN: The file is read back and exported again
	imported, err := ReadCSV(strings.NewReader(first))
	require.NoError(t, err)
	require.Len(t, imported, 2)

	again := make([]allocation.ExportRow, len(imported))
	for i, r := range imported {
		again[i] = rows[i]
		assert.Equal(t, rows[i].ImportRow(), r)
	}
	buf.Reset()
	require.NoError(t, WriteCSV(&buf, again))

	// THEN: Both files are identical
	assert.Equal(t, first, buf.String())
	assert.Contains(t, first, "Madrid")
}

func TestReadCSV_ColumnsByName(t *testing.T) {
	data := "notes,scheduled_date,destination,origin,extra\n" +
		"hi,2025-02-03,A-01,B-01,x\n" +
		",,,,\n" +
		",2025-02-04,A-01,B-01\n"
	rows, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, allocation.ImportRow{Origin: "B-01", Destination: "A-01", ScheduledDate: "2025-02-03", Notes: "hi"}, rows[0])
	assert.Equal(t, "", rows[1].Notes)
}

func TestReadCSV_MissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("origin,scheduled_date\nB-01,2025-02-03\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestXLSX_DetailsReadBack(t *testing.T) {
	rows := allocation.ExportRows(sampleDetails(), sampleTopology())
	breakdown := []allocation.CityBreakdown{{
		CityID: "mad", CityName: "Madrid", Classification: allocation.ClassA,
		TotalEvents: 1, Percentage: decimal.NewFromInt(50),
		Nodes: []allocation.NodeBreakdown{{Code: "A-01", Eligible: true, NewEvents: 2, TotalEvents: 2, EventsPerWeek: decimal.NewFromInt(2)}},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, rows, breakdown))

	imported, err := ReadXLSX(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, imported, 2)
	assert.Equal(t, rows[0].ImportRow(), imported[0])
	assert.Equal(t, rows[1].ImportRow(), imported[1])
}
