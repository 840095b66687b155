package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logger"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options tune plan generation.
type Options struct {
	// DefaultCapacity applies when neither the plan nor the account sets a cap.
	DefaultCapacity int
	// OriginReserve is the share of node headroom held back for origins
	// during destination placement.
	OriginReserve float64
	// WeightPrecedence decides between the two destination weight surfaces
	// when an account configures both.
	WeightPrecedence WeightSourceKind
	// Concurrency bounds the number of weeks computed in parallel. Zero means
	// no limit.
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.DefaultCapacity <= 0 {
		o.DefaultCapacity = 50
	}
	if o.OriginReserve < 0 || o.OriginReserve >= 1 {
		o.OriginReserve = DefaultOriginReserve
	}
	if o.WeightPrecedence == "" {
		o.WeightPrecedence = ByCityRequirement
	}
	return o
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{OriginReserve: DefaultOriginReserve}.withDefaults()
}

// =============================================================================
// RECORDER - Metrics hook
// =============================================================================

// Recorder receives engine measurements.
type Recorder interface {
	PlanGenerated(account AccountID, calculated, unassigned int, took time.Duration)
	MergeCompleted(strategy MergeStrategy, deleted, inserted int, took time.Duration)
	MergeFailed(strategy MergeStrategy, reason string)
	RowsImported(accepted, dropped int)
}

// NopRecorder discards every measurement.
type NopRecorder struct{}

func (NopRecorder) PlanGenerated(AccountID, int, int, time.Duration)       {}
func (NopRecorder) MergeCompleted(MergeStrategy, int, int, time.Duration) {}
func (NopRecorder) MergeFailed(MergeStrategy, string)                     {}
func (NopRecorder) RowsImported(int, int)                                 {}

// =============================================================================
// GENERATOR - Snapshot loading and draft persistence
// =============================================================================

// Generator produces draft plans from stored configuration.
type Generator struct {
	reader    ConfigReader
	plans     PlanStore
	assembler *Assembler
	log       logger.Logger
	rec       Recorder
	now       func() time.Time
}

// GeneratorOption customizes a Generator.
type GeneratorOption func(*Generator)

func WithGeneratorLogger(l logger.Logger) GeneratorOption {
	return func(g *Generator) { g.log = l }
}

func WithGeneratorRecorder(r Recorder) GeneratorOption {
	return func(g *Generator) { g.rec = r }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// NewGenerator wires a generator. plans may be nil for preview-only use.
func NewGenerator(reader ConfigReader, plans PlanStore, opts Options, options ...GeneratorOption) *Generator {
	g := &Generator{
		reader:    reader,
		plans:     plans,
		assembler: NewAssembler(opts),
		log:       logger.NopLogger{},
		rec:       NopRecorder{},
		now:       time.Now,
	}
	for _, o := range options {
		o(g)
	}
	return g
}

// LoadSnapshot reads everything a request needs. For replace requests the
// tuple's PENDING events are left out of the existing load since the merge
// will delete them.
func LoadSnapshot(ctx context.Context, reader ConfigReader, req Request) (Snapshot, error) {
	period, err := req.Validate()
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if snap.Topology, err = reader.Topology(ctx, req.AccountID); err != nil {
		return Snapshot{}, fmt.Errorf("read topology: %w", err)
	}
	if snap.Matrix, err = reader.ClassificationMatrix(ctx, req.AccountID); err != nil {
		return Snapshot{}, fmt.Errorf("read matrix: %w", err)
	}
	if snap.Requirements, err = reader.CityRequirements(ctx, req.AccountID); err != nil {
		return Snapshot{}, fmt.Errorf("read city requirements: %w", err)
	}
	if snap.Seasonality, err = reader.Seasonality(ctx, req.AccountID, req.ProductID); err != nil {
		return Snapshot{}, fmt.Errorf("read seasonality: %w", err)
	}
	if snap.Capacity, snap.HasCapacity, err = reader.Capacity(ctx, req.AccountID); err != nil {
		return Snapshot{}, fmt.Errorf("read capacity: %w", err)
	}

	q := LoadQuery{AccountID: req.AccountID, Period: period}
	if req.MergeStrategy == MergeReplace {
		t := req.Tuple()
		q.Exclude = &t
	}
	if snap.Load, err = reader.ExistingLoad(ctx, q); err != nil {
		return Snapshot{}, fmt.Errorf("read existing load: %w", err)
	}
	return snap, nil
}

// Preview computes a plan without persisting it.
func (g *Generator) Preview(ctx context.Context, req Request) (*Result, error) {
	return g.generate(ctx, req, PlanID("preview"))
}

// Create computes a plan and stores it as a draft.
func (g *Generator) Create(ctx context.Context, req Request) (*Result, error) {
	if g.plans == nil {
		return nil, fmt.Errorf("create plan: %w", generic.ErrStoreRequired)
	}
	res, err := g.generate(ctx, req, PlanID(uuid.NewString()))
	if err != nil {
		return nil, err
	}
	now := g.now().UTC()
	res.Plan.CreatedAt = now
	res.Plan.UpdatedAt = now
	if err := g.plans.CreatePlan(ctx, res.Plan, res.Details); err != nil {
		return nil, fmt.Errorf("persist plan %s: %w", res.Plan.ID, err)
	}
	g.log.Infof("plan %s created: account=%s calculated=%d unassigned=%d details=%d",
		res.Plan.ID, res.Plan.AccountID, res.Plan.CalculatedEvents, res.Plan.UnassignedEvents, len(res.Details))
	return res, nil
}

func (g *Generator) generate(ctx context.Context, req Request, id PlanID) (*Result, error) {
	start := g.now()
	snap, err := LoadSnapshot(ctx, g.reader, req)
	if err != nil {
		return nil, err
	}
	res, err := g.assembler.Assemble(ctx, snap, req, id)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		g.log.Warnf("plan %s: %s", id, w)
	}
	g.log.Debugw("plan computed", map[string]any{
		"plan_id":       string(id),
		"weight_source": string(res.WeightSource),
		"capacity":      res.Capacity,
		"weeks":         len(res.Weeks),
		"calculated":    res.Plan.CalculatedEvents,
		"unassigned":    res.Plan.UnassignedEvents,
	})
	g.rec.PlanGenerated(req.AccountID, res.Plan.CalculatedEvents, res.Plan.UnassignedEvents, g.now().Sub(start))
	return res, nil
}
