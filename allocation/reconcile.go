/*
reconcile.go - Applies an approved draft to the production event store

PURPOSE:
  The only place production events are written. A merge turns every detail
  row of a draft into a PENDING event, optionally after deleting the tuple's
  existing PENDING events.

STATE MACHINE:
  draft --merge(append)--> merged
  draft --merge(replace)-> merged
  draft --cancel---------> cancelled
  Nothing leaves merged or cancelled.

ATOMICITY:
  Delete, insert and the status change run inside one TxStore.WithTx call.
  Any failure rolls all of it back and surfaces as MergeAtomicityError; the
  plan stays draft and no event of the merge is visible.

SERIALIZATION:
  Merges on the same (account, carrier, product) take a lease on the tuple key
  before opening the transaction. A busy key is retried with linear backoff
  up to the retry budget, then reported as ErrMergeConflict.

SEE ALSO:
  - lock/lock.go: Local and Redis lockers
  - store/sqlite/sqlite.go: WithTx implementation
*/
package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/lock"
	"github.com/warp/allocation-engine/logger"
)

// ReconcilerOptions tune lock handling.
type ReconcilerOptions struct {
	LockTTL      time.Duration
	RetryBudget  int           // attempts after the first one
	RetryBackoff time.Duration // multiplied by the attempt number
}

func (o ReconcilerOptions) withDefaults() ReconcilerOptions {
	if o.LockTTL <= 0 {
		o.LockTTL = 30 * time.Second
	}
	if o.RetryBudget < 0 {
		o.RetryBudget = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 50 * time.Millisecond
	}
	return o
}

// MergeResult describes a completed merge.
type MergeResult struct {
	Plan     AllocationPlan
	Strategy MergeStrategy
	Deleted  int
	Inserted int
}

// Reconciler merges and cancels plans.
type Reconciler struct {
	store  interface {
		PlanReader
		TxStore
	}
	locker lock.Locker
	opts   ReconcilerOptions
	log    logger.Logger
	rec    Recorder
	now    func() time.Time
}

// NewReconciler wires a reconciler. A nil locker serializes in-process only.
func NewReconciler(store interface {
	PlanReader
	TxStore
}, locker lock.Locker, opts ReconcilerOptions, log logger.Logger, rec Recorder) *Reconciler {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Reconciler{store: store, locker: locker, opts: opts.withDefaults(), log: log, rec: rec, now: time.Now}
}

// LockKey is the lease key of a tuple.
func LockKey(t Tuple) string { return "merge:" + t.String() }

// Merge applies the plan's details as PENDING events. An empty strategy uses
// the one stored on the plan. A replace plan cannot be merged as append; an
// append plan may be merged as replace.
func (r *Reconciler) Merge(ctx context.Context, id PlanID, strategy MergeStrategy) (MergeResult, error) {
	started := r.now()
	plan, err := r.store.GetPlan(ctx, id)
	if err != nil {
		return MergeResult{}, err
	}
	if strategy == "" {
		strategy = plan.MergeStrategy
	}
	if strategy != MergeAppend && strategy != MergeReplace {
		return MergeResult{}, fmt.Errorf("%w: unknown merge strategy %q", generic.ErrInvalidConfiguration, strategy)
	}
	// A replace draft was sized without the tuple's PENDING load. Appending it
	// would keep that load and push nodes past their weekly cap.
	if plan.MergeStrategy == MergeReplace && strategy == MergeAppend {
		return MergeResult{}, fmt.Errorf("%w: plan %s was generated for replace and cannot be appended", generic.ErrInvalidConfiguration, id)
	}
	if err := checkOpen(plan, StatusMerged); err != nil {
		return MergeResult{}, err
	}

	lease, err := r.acquire(ctx, plan.Tuple())
	if err != nil {
		r.rec.MergeFailed(strategy, "lock")
		return MergeResult{}, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warnf("release lock for plan %s: %v", id, err)
		}
	}()

	res := MergeResult{Strategy: strategy}
	err = r.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.GetPlan(ctx, id)
		if err != nil {
			return &stepError{step: "load_plan", err: err}
		}
		if err := checkOpen(current, StatusMerged); err != nil {
			return err
		}
		details, err := tx.PlanDetails(ctx, id)
		if err != nil {
			return &stepError{step: "load_details", err: err}
		}

		if strategy == MergeReplace {
			if res.Deleted, err = tx.DeletePendingEvents(ctx, current.Tuple()); err != nil {
				return &stepError{step: "delete_pending", err: err}
			}
		}

		now := r.now().UTC()
		events := make([]Event, len(details))
		for i, d := range details {
			events[i] = Event{
				ID:            EventID(uuid.NewString()),
				AccountID:     current.AccountID,
				CarrierID:     current.CarrierID,
				ProductID:     current.ProductID,
				Origin:        d.Origin,
				Destination:   d.Destination,
				ScheduledDate: d.ScheduledDate,
				Status:        EventPending,
				PlanID:        id,
				CreatedAt:     now,
			}
		}
		if err := tx.InsertEvents(ctx, events); err != nil {
			return &stepError{step: "insert_events", err: err}
		}
		res.Inserted = len(events)

		t := Transition{From: StatusDraft, To: StatusMerged, Strategy: strategy, At: now}
		if err := tx.TransitionPlan(ctx, id, t); err != nil {
			return &stepError{step: "transition", err: err}
		}
		res.Plan, err = tx.GetPlan(ctx, id)
		if err != nil {
			return &stepError{step: "reload_plan", err: err}
		}
		return nil
	})
	if err != nil {
		var se *stepError
		if !errors.As(err, &se) {
			if generic.IsConflict(err) || generic.IsNotFound(err) {
				r.rec.MergeFailed(strategy, "conflict")
				return MergeResult{}, err
			}
			se = &stepError{step: "commit", err: err}
		}
		r.rec.MergeFailed(strategy, se.step)
		r.log.Errorf("merge %s of plan %s rolled back at %s: %v", strategy, id, se.step, se.err)
		return MergeResult{}, &generic.MergeAtomicityError{PlanID: string(id), Strategy: string(strategy), Step: se.step, Err: se.err}
	}

	r.rec.MergeCompleted(strategy, res.Deleted, res.Inserted, r.now().Sub(started))
	r.log.Infof("plan %s merged (%s): deleted=%d inserted=%d", id, strategy, res.Deleted, res.Inserted)
	return res, nil
}

// Cancel discards a draft. Its details are kept for audit but never merged.
func (r *Reconciler) Cancel(ctx context.Context, id PlanID) (AllocationPlan, error) {
	var out AllocationPlan
	err := r.store.WithTx(ctx, func(tx Tx) error {
		plan, err := tx.GetPlan(ctx, id)
		if err != nil {
			return err
		}
		if err := checkOpen(plan, StatusCancelled); err != nil {
			return err
		}
		t := Transition{From: StatusDraft, To: StatusCancelled, At: r.now().UTC()}
		if err := tx.TransitionPlan(ctx, id, t); err != nil {
			return fmt.Errorf("cancel plan %s: %w", id, err)
		}
		out, err = tx.GetPlan(ctx, id)
		return err
	})
	if err != nil {
		return AllocationPlan{}, err
	}
	r.log.Infof("plan %s cancelled", id)
	return out, nil
}

func (r *Reconciler) acquire(ctx context.Context, t Tuple) (lock.Lease, error) {
	key := LockKey(t)
	for attempt := 0; ; attempt++ {
		lease, err := r.locker.TryAcquire(ctx, key, r.opts.LockTTL)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, lock.ErrNotObtained) {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if attempt >= r.opts.RetryBudget {
			return nil, fmt.Errorf("%w: %s after %d attempts", generic.ErrMergeConflict, key, attempt+1)
		}
		r.log.Debugf("lock %s busy, retry %d/%d", key, attempt+1, r.opts.RetryBudget)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.opts.RetryBackoff * time.Duration(attempt+1)):
		}
	}
}

// checkOpen rejects changes to closed plans.
func checkOpen(p AllocationPlan, to PlanStatus) error {
	if err := p.CanTransition(to); err != nil {
		if p.IsClosed() {
			return fmt.Errorf("%w: %w", generic.ErrPlanClosed, err)
		}
		return err
	}
	return nil
}

// stepError marks which merge step failed inside the transaction.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }
