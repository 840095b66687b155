/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Validation errors - Rejected before any computation (period, volume)
  2. Lifecycle errors  - Plan state machine violations
  3. Merge errors      - Serialization conflicts and atomicity failures
  4. Store errors      - Missing rows, concurrent modification

NOT AN ERROR:
  Insufficient topology or capacity is never reported through this file.
  The planner reports infeasibility as data (deficits / unassigned events).

USAGE:
  if errors.Is(err, generic.ErrMergeConflict) {
      // another replace on the same tuple is running, retry later
  }

SEE ALSO:
  - allocation/reconcile.go: Wraps merge errors with plan context
  - api/handlers.go: Maps error categories to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPeriod is returned when a period is malformed (start not before end).
	ErrInvalidPeriod = errors.New("invalid period: start must be before end")

	// ErrInvalidVolume is returned when the requested annual total is negative.
	ErrInvalidVolume = errors.New("invalid volume: total events must be >= 0")

	// ErrInvalidConfiguration is returned when a configuration payload cannot be parsed.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrPlanNotFound is returned when a referenced allocation plan doesn't exist.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInvalidTransition is returned when a plan status change is not allowed.
	ErrInvalidTransition = errors.New("invalid plan status transition")

	// ErrPlanClosed is returned when editing a plan that is merged or cancelled.
	ErrPlanClosed = errors.New("plan is closed")

	// ErrMergeConflict is returned when the merge lock for a tuple could not be
	// obtained within the retry budget.
	ErrMergeConflict = errors.New("merge conflict: tuple is locked by another merge")

	// ErrMergeAtomicityFailure is returned when a merge could not be applied as a
	// whole. Nothing of the merge is visible and the plan remains a draft.
	ErrMergeAtomicityFailure = errors.New("merge atomicity failure")

	// ErrConcurrentModification is returned when a conditional update matched no row.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrStoreRequired is returned when an operation requires a specific store capability.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError describes a rejected plan status change.
type TransitionError struct {
	PlanID string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("plan %s: cannot move from %s to %s", e.PlanID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// MergeAtomicityError reports which step of a merge failed. The whole unit of
// work has been rolled back when this error is returned.
type MergeAtomicityError struct {
	PlanID   string
	Strategy string
	Step     string // "delete_pending", "insert_events", "transition", "commit"
	Err      error
}

func (e *MergeAtomicityError) Error() string {
	return fmt.Sprintf("merge %s of plan %s failed at %s: %v", e.Strategy, e.PlanID, e.Step, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *MergeAtomicityError) Unwrap() []error {
	return []error{ErrMergeAtomicityFailure, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrMergeConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidVolume) ||
		errors.Is(err, ErrInvalidConfiguration)
}

// IsConflict returns true if the request conflicts with the current plan state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrPlanClosed) ||
		errors.Is(err, ErrMergeConflict)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound)
}
