package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/allocation"
)

var _ allocation.Recorder = (*PromRecorder)(nil)

func TestPromRecorder_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewPromRecorderWithRegistry(reg)
	require.NoError(t, err)

	r.PlanGenerated("acme", 360, 4, 20*time.Millisecond)
	r.MergeCompleted(allocation.MergeReplace, 10, 356, time.Second)
	r.MergeFailed(allocation.MergeAppend, "conflict")
	r.RowsImported(9, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.plans.WithLabelValues("acme")))
	assert.Equal(t, 360.0, testutil.ToFloat64(r.calculated.WithLabelValues("acme")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.unassigned.WithLabelValues("acme")))
	assert.Equal(t, 356.0, testutil.ToFloat64(r.mergeRows.WithLabelValues("replace", "inserted")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.mergeRows.WithLabelValues("replace", "deleted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("append", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.imported.WithLabelValues("dropped")))
}

func TestPromRecorder_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromRecorderWithRegistry(reg)
	require.NoError(t, err)
	second, err := NewPromRecorderWithRegistry(reg)
	require.NoError(t, err)

	first.PlanGenerated("acme", 1, 0, 0)
	second.PlanGenerated("acme", 1, 0, 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(second.plans.WithLabelValues("acme")))
}
