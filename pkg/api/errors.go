package api

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConflict is returned when an event for the same
	// (workflow, category, name, status) tuple has already been committed by
	// another execution attempt. It is the expected signal that the step is
	// already handled; callers react per their own semantics and never retry
	// it blindly.
	ErrConflict = errors.New("event already recorded for this step")

	// ErrWorkflowNotFound is returned when no workflow exists for an ID.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowExists is returned by StartWorkflow when the workflow ID has
	// already been scheduled.
	ErrWorkflowExists = errors.New("workflow already scheduled")
)

// AwaitingSignalError unwinds a replay attempt that is parked on a named
// signal. It is not a failure; the workflow body propagates it and the
// controller records the attempt as parked.
type AwaitingSignalError struct {
	Name string
}

func (e *AwaitingSignalError) Error() string {
	return "awaiting signal: " + e.Name
}

// SleepingError unwinds a replay attempt whose workflow is sleeping. The
// wake-up timer is already durably scheduled when this is returned.
type SleepingError struct {
	Identifier string
	Remaining  time.Duration
}

func (e *SleepingError) Error() string {
	return fmt.Sprintf("sleeping %q for another %s", e.Identifier, e.Remaining)
}

// ConditionUnsatisfiedError unwinds a replay attempt parked on a condition
// that evaluated false.
type ConditionUnsatisfiedError struct {
	Identifier string
}

func (e *ConditionUnsatisfiedError) Error() string {
	return "condition not satisfied: " + e.Identifier
}

// AbortError discards a replay attempt that lost a write race to a concurrent
// attempt. The winning attempt carries the workflow forward; the loser stands
// down without recording anything further.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	return "attempt aborted: " + e.Reason
}

// IsParked reports whether err is one of the three parked unwind kinds
// (awaiting signal, sleeping, condition unsatisfied) and, if so, a short
// reason for the park.
func IsParked(err error) (reason string, ok bool) {
	var sig *AwaitingSignalError
	if errors.As(err, &sig) {
		return sig.Error(), true
	}
	var slp *SleepingError
	if errors.As(err, &slp) {
		return slp.Error(), true
	}
	var cond *ConditionUnsatisfiedError
	if errors.As(err, &cond) {
		return cond.Error(), true
	}
	return "", false
}

// IsAbort reports whether err aborts the attempt.
func IsAbort(err error) bool {
	var abort *AbortError
	return errors.As(err, &abort)
}
