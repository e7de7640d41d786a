package execution

import (
	"errors"
	"time"

	"github.com/petrijr/sisu/internal/eventlog"
	"github.com/petrijr/sisu/internal/scheduler"
	"github.com/petrijr/sisu/pkg/api"
)

// AwaitCondition parks the workflow until pred evaluates true.
//
// With pollInterval > 0 the predicate runs on a durable timer: every parked
// pass arms a re-poll task, the timer triggers a new attempt and the attempt
// re-evaluates here. With pollInterval == 0 the predicate is a checkpoint
// await: it is re-evaluated whenever something else (typically a signal)
// triggers a replay, after pending signals have been applied.
func (c *workflowContext) AwaitCondition(identifier string, pred func() (bool, error), pollInterval time.Duration) error {
	if pollInterval > 0 {
		return c.awaitPolledCondition(identifier, pred, pollInterval)
	}
	return c.awaitCheckpointCondition(identifier, pred)
}

func (c *workflowContext) awaitPolledCondition(identifier string, pred func() (bool, error), pollInterval time.Duration) error {
	correlation := c.next()

	rec, err := c.eng.store.GetCondition(c.ctx, c.workflowID, identifier)
	if err != nil && !errors.Is(err, eventlog.ErrNotFound) {
		return infra(err)
	}

	if rec != nil && rec.Satisfied() {
		if err := c.applySignals(rec.SatisfiedSeq); err != nil {
			return err
		}
		return nil
	}

	if rec == nil {
		c.eng.observer.OnOperationStarted(c.ctx, c.workflowID, api.CategoryCondition, identifier)
		_, err = c.eng.store.ConditionWaiting(c.ctx, c.workflowID, identifier, correlation)
		if err != nil && !errors.Is(err, api.ErrConflict) {
			return infra(err)
		}
	}

	if err := c.applySignals(allSignals); err != nil {
		return err
	}

	ok, err := pred()
	if err != nil {
		return err
	}
	if ok {
		seq, err := c.eng.store.ConditionSatisfied(c.ctx, c.workflowID, identifier, correlation)
		if errors.Is(err, api.ErrConflict) {
			// A concurrent attempt recorded satisfaction; same result.
			return nil
		}
		if err != nil {
			return infra(err)
		}
		return c.applySignals(seq)
	}

	// The key carries the due time: the task that triggered this very attempt
	// is completed by the scheduler after the attempt returns, so re-arming a
	// fixed key here would be erased with it and the chain of polls would end.
	due := time.Now().Add(pollInterval)
	err = c.eng.sched.Schedule(c.ctx, scheduler.Task{
		Key:        conditionTaskKey(c.workflowID, identifier, due),
		Kind:       KindRepollCondition,
		WorkflowID: c.workflowID,
		Subject:    identifier,
		DueAt:      due,
	})
	if err != nil {
		return infra(err)
	}
	return &api.ConditionUnsatisfiedError{Identifier: identifier}
}

func (c *workflowContext) awaitCheckpointCondition(identifier string, pred func() (bool, error)) error {
	correlation := c.next()

	resolved, err := c.eng.store.GetEventByName(c.ctx, c.workflowID, api.CategoryAwait, identifier, api.StatusCompleted)
	if err == nil {
		return c.applySignals(resolved.SequenceNumber)
	}
	if !errors.Is(err, eventlog.ErrNotFound) {
		return infra(err)
	}

	_, err = c.eng.store.AwaitStarted(c.ctx, c.workflowID, identifier, correlation)
	if err != nil && !errors.Is(err, api.ErrConflict) {
		return infra(err)
	}

	if err := c.applySignals(allSignals); err != nil {
		return err
	}

	ok, err := pred()
	if err != nil {
		return err
	}
	if ok {
		seq, err := c.eng.store.AwaitResolved(c.ctx, c.workflowID, identifier, correlation, api.StatusCompleted)
		if errors.Is(err, api.ErrConflict) {
			return nil
		}
		if err != nil {
			return infra(err)
		}
		return c.applySignals(seq)
	}

	// At most one UNSATISFIED event is recorded per await; later parked
	// passes conflict here, which is fine.
	_, err = c.eng.store.AwaitResolved(c.ctx, c.workflowID, identifier, correlation, api.StatusUnsatisfied)
	if err != nil && !errors.Is(err, api.ErrConflict) {
		return infra(err)
	}
	return &api.ConditionUnsatisfiedError{Identifier: identifier}
}
