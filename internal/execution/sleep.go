package execution

import (
	"errors"
	"time"

	"github.com/petrijr/sisu/internal/eventlog"
	"github.com/petrijr/sisu/internal/scheduler"
	"github.com/petrijr/sisu/pkg/api"
)

// Sleep durably pauses the workflow for d.
//
// The first encounter records SLEEP/STARTED and schedules the wake-up timer;
// the attempt then unwinds with a SleepingError. The timer callback records
// SLEEP/COMPLETED and triggers a new attempt, which passes straight through
// here. The wake-up is re-armed on every parked pass, so a timer lost to a
// crash before the scheduler committed it is recreated.
func (c *workflowContext) Sleep(identifier string, d time.Duration) error {
	correlation := c.next()

	rec, err := c.eng.store.GetSleep(c.ctx, c.workflowID, identifier)
	if err != nil && !errors.Is(err, eventlog.ErrNotFound) {
		return infra(err)
	}

	if rec == nil {
		c.eng.observer.OnOperationStarted(c.ctx, c.workflowID, api.CategorySleep, identifier)
		_, err = c.eng.store.SleepStarted(c.ctx, c.workflowID, identifier, correlation, d)
		if err != nil && !errors.Is(err, api.ErrConflict) {
			return infra(err)
		}
		rec, err = c.eng.store.GetSleep(c.ctx, c.workflowID, identifier)
		if err != nil {
			return infra(err)
		}
	}

	if rec.Completed() {
		if err := c.applySignals(rec.CompletedSeq); err != nil {
			return err
		}
		return nil
	}

	due := rec.StartedAt.Add(rec.Duration)
	err = c.eng.sched.Schedule(c.ctx, scheduler.Task{
		Key:        sleepTaskKey(c.workflowID, identifier),
		Kind:       KindCompleteSleep,
		WorkflowID: c.workflowID,
		Subject:    identifier,
		DueAt:      due,
	})
	if err != nil {
		return infra(err)
	}

	remaining := time.Until(due)
	if remaining < 0 {
		remaining = 0
	}
	return &api.SleepingError{Identifier: identifier, Remaining: remaining}
}
