// Package metrics exposes allocation engine measurements to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/allocation-engine/allocation"
)

// PromRecorder implements allocation.Recorder on Prometheus collectors.
type PromRecorder struct {
	plans      *prometheus.CounterVec
	calculated *prometheus.CounterVec
	unassigned *prometheus.CounterVec
	genLatency prometheus.Histogram
	merges     *prometheus.CounterVec
	mergeRows  *prometheus.CounterVec
	mergeTime  *prometheus.HistogramVec
	failures   *prometheus.CounterVec
	imported   *prometheus.CounterVec
}

// NewPromRecorder registers on the default Prometheus registerer.
func NewPromRecorder() (*PromRecorder, error) {
	return NewPromRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromRecorderWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered under the same name are reused.
func NewPromRecorderWithRegistry(reg prometheus.Registerer) (*PromRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PromRecorder{
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocation_plans_generated_total",
			Help: "Number of allocation plans computed",
		}, []string{"account_id"}),
		calculated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocation_events_calculated_total",
			Help: "Period-bound events requested across generated plans",
		}, []string{"account_id"}),
		unassigned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocation_events_unassigned_total",
			Help: "Events that could not be placed for lack of capacity or topology",
		}, []string{"account_id"}),
		genLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "allocation_generation_seconds",
			Help:    "Time spent computing one plan",
			Buckets: prometheus.DefBuckets,
		}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocation_merges_total",
			Help: "Completed merges",
		}, []string{"strategy"}),
		mergeRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocation_merge_events_total",
			Help: "Production events touched by merges",
		}, []string{"strategy", "op"}),
		mergeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "allocation_merge_seconds",
			Help:    "Time spent in a merge including lock acquisition",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocation_merge_failures_total",
			Help: "Merges rolled back or refused",
		}, []string{"strategy", "reason"}),
		imported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocation_import_rows_total",
			Help: "Rows received by detail imports",
		}, []string{"result"}),
	}

	var err error
	if r.plans, err = register(reg, r.plans); err != nil {
		return nil, err
	}
	if r.calculated, err = register(reg, r.calculated); err != nil {
		return nil, err
	}
	if r.unassigned, err = register(reg, r.unassigned); err != nil {
		return nil, err
	}
	if r.genLatency, err = register(reg, r.genLatency); err != nil {
		return nil, err
	}
	if r.merges, err = register(reg, r.merges); err != nil {
		return nil, err
	}
	if r.mergeRows, err = register(reg, r.mergeRows); err != nil {
		return nil, err
	}
	if r.mergeTime, err = register(reg, r.mergeTime); err != nil {
		return nil, err
	}
	if r.failures, err = register(reg, r.failures); err != nil {
		return nil, err
	}
	if r.imported, err = register(reg, r.imported); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (r *PromRecorder) PlanGenerated(account allocation.AccountID, calculated, unassigned int, took time.Duration) {
	r.plans.WithLabelValues(string(account)).Inc()
	r.calculated.WithLabelValues(string(account)).Add(float64(calculated))
	r.unassigned.WithLabelValues(string(account)).Add(float64(unassigned))
	r.genLatency.Observe(took.Seconds())
}

func (r *PromRecorder) MergeCompleted(strategy allocation.MergeStrategy, deleted, inserted int, took time.Duration) {
	r.merges.WithLabelValues(string(strategy)).Inc()
	r.mergeRows.WithLabelValues(string(strategy), "deleted").Add(float64(deleted))
	r.mergeRows.WithLabelValues(string(strategy), "inserted").Add(float64(inserted))
	r.mergeTime.WithLabelValues(string(strategy)).Observe(took.Seconds())
}

func (r *PromRecorder) MergeFailed(strategy allocation.MergeStrategy, reason string) {
	r.failures.WithLabelValues(string(strategy), reason).Inc()
}

func (r *PromRecorder) RowsImported(accepted, dropped int) {
	r.imported.WithLabelValues("accepted").Add(float64(accepted))
	r.imported.WithLabelValues("dropped").Add(float64(dropped))
}
