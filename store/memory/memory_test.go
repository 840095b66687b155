package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/generic"
)

var testTuple = allocation.Tuple{AccountID: "acme", CarrierID: "post", ProductID: "letter"}

func pending(id allocation.EventID, day time.Time) allocation.Event {
	return allocation.Event{ID: id, AccountID: "acme", CarrierID: "post", ProductID: "letter",
		Origin: "B-01", Destination: "A-01", ScheduledDate: day, Status: allocation.EventPending}
}

func TestMemory_WithTxCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.SeedEvents(ctx, []allocation.Event{pending("e1", generic.Date(2025, 2, 3))}))

	err := m.WithTx(ctx, func(tx allocation.Tx) error {
		n, err := tx.DeletePendingEvents(ctx, testTuple)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, n)
		return tx.InsertEvents(ctx, []allocation.Event{pending("e2", generic.Date(2025, 2, 4))})
	})
	require.NoError(t, err)

	events, err := m.ListEvents(ctx, allocation.ForTuple(testTuple, ""))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, allocation.EventID("e2"), events[0].ID)
}

func TestMemory_InjectedFaultRollsBack(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.SeedEvents(ctx, []allocation.Event{pending("e1", generic.Date(2025, 2, 3))}))

	// GIVEN: Inserts fail
	boom := errors.New("disk full")
	m.InjectFault(OpInsertEvents, boom)

	// WHEN: A delete succeeds before the failing insert
	err := m.WithTx(ctx, func(tx allocation.Tx) error {
		if _, err := tx.DeletePendingEvents(ctx, testTuple); err != nil {
			return err
		}
		return tx.InsertEvents(ctx, []allocation.Event{pending("e2", generic.Date(2025, 2, 4))})
	})

	// THEN: The original event is still there
	assert.ErrorIs(t, err, boom)
	n, err := m.CountEvents(ctx, allocation.ForTuple(testTuple, allocation.EventPending))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// AND: Clearing the fault restores normal behavior
	m.InjectFault(OpInsertEvents, nil)
	err = m.WithTx(ctx, func(tx allocation.Tx) error {
		return tx.InsertEvents(ctx, []allocation.Event{pending("e2", generic.Date(2025, 2, 4))})
	})
	assert.NoError(t, err)
}

func TestMemory_DuplicateEventIDsRejected(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.SeedEvents(ctx, []allocation.Event{pending("e1", generic.Date(2025, 2, 3))}))
	err := m.SeedEvents(ctx, []allocation.Event{pending("e1", generic.Date(2025, 2, 4))})
	assert.Error(t, err)
}

func TestMemory_TransitionMatchesFromStatus(t *testing.T) {
	ctx := context.Background()
	m := New()
	plan := allocation.AllocationPlan{ID: "p1", AccountID: "acme", Status: allocation.StatusDraft, MergeStrategy: allocation.MergeAppend}
	require.NoError(t, m.CreatePlan(ctx, plan, nil))

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	err := m.WithTx(ctx, func(tx allocation.Tx) error {
		return tx.TransitionPlan(ctx, "p1", allocation.Transition{From: allocation.StatusDraft, To: allocation.StatusCancelled, At: at})
	})
	require.NoError(t, err)

	err = m.WithTx(ctx, func(tx allocation.Tx) error {
		return tx.TransitionPlan(ctx, "p1", allocation.Transition{From: allocation.StatusDraft, To: allocation.StatusMerged, At: at})
	})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	got, err := m.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, allocation.StatusCancelled, got.Status)
	assert.Equal(t, allocation.MergeAppend, got.MergeStrategy)
	require.NotNil(t, got.ClosedAt)
}
