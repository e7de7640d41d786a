package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/sisu/internal/eventlog"
	"github.com/petrijr/sisu/internal/scheduler"
	"github.com/petrijr/sisu/pkg/api"
)

// handleRunWorkflow runs one replay attempt on the pool, falling back to the
// scheduler's goroutine when the pool is saturated. The task completes only
// after the attempt finished without infrastructure trouble, so both a crash
// mid-attempt and a transient store failure redeliver the trigger.
func (e *Engine) handleRunWorkflow(ctx context.Context, t scheduler.Task) error {
	done := make(chan error, 1)
	job := func() {
		done <- e.runAttempt(ctx, t.WorkflowID)
	}
	if !e.pool.Submit(job) {
		job()
	}
	return <-done
}

// handleCompleteSleep records the sleep's elapsed fact, then replays.
func (e *Engine) handleCompleteSleep(ctx context.Context, t scheduler.Task) error {
	_, err := e.store.SleepCompleted(ctx, t.WorkflowID, t.Subject)
	if err != nil && !errors.Is(err, api.ErrConflict) {
		return err
	}
	return e.handleRunWorkflow(ctx, t)
}

// runAttempt executes one replay attempt: re-run the workflow function from
// the top against the log and classify how it ended. Workflow-level failures
// are absorbed here and surfaced through the observer, leaving the workflow
// parked at its last durable checkpoint. Infrastructure failures are returned
// instead so the trigger task stays scheduled and the lease redelivers it.
func (e *Engine) runAttempt(ctx context.Context, workflowID string) error {
	e.observer.OnAttemptStarted(ctx, workflowID)

	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		e.logger.ErrorContext(ctx, "attempt_load_failed",
			slog.String("workflow_id", workflowID),
			slog.Any("error", err),
		)
		return infra(err)
	}
	if wf.Completed() {
		return nil
	}

	outcome := e.executeAttempt(ctx, wf)
	if isInfra(outcome.Err) {
		e.logger.WarnContext(ctx, "attempt_infra_error",
			slog.String("workflow_id", workflowID),
			slog.Any("error", outcome.Err),
		)
		return outcome.Err
	}
	e.observer.OnAttemptFinished(ctx, workflowID, outcome)
	return nil
}

func (e *Engine) executeAttempt(ctx context.Context, wf *api.WorkflowInstance) api.Outcome {
	factory, err := e.registry.Get(wf.TypeName)
	if err != nil {
		return api.Outcome{State: api.OutcomeFailed, Err: err}
	}

	started, err := e.store.HasWorkflowStarted(ctx, wf.ID)
	if err != nil {
		return api.Outcome{State: api.OutcomeFailed, Err: infra(err)}
	}
	if !started {
		_, err := e.store.WorkflowStarted(ctx, wf.ID, wf.TypeName, wf.Input)
		if errors.Is(err, api.ErrConflict) {
			return api.Outcome{State: api.OutcomeAborted, Reason: "a concurrent attempt started first"}
		}
		if err != nil {
			return api.Outcome{State: api.OutcomeFailed, Err: infra(err)}
		}
	}

	input, err := eventlog.Decode(wf.Input)
	if err != nil {
		return api.Outcome{State: api.OutcomeFailed, Err: err}
	}

	w := factory()
	wctx := newWorkflowContext(ctx, e, wf.ID, wf.TypeName, w)

	out, execErr := w.Execute(wctx, input)
	return e.classify(ctx, wf, out, execErr)
}

func (e *Engine) classify(ctx context.Context, wf *api.WorkflowInstance, out any, execErr error) api.Outcome {
	if execErr == nil {
		output, err := eventlog.Encode(out)
		if err != nil {
			return api.Outcome{State: api.OutcomeFailed, Err: err}
		}
		_, err = e.store.WorkflowCompleted(ctx, wf.ID, wf.TypeName, output)
		if errors.Is(err, api.ErrConflict) {
			return api.Outcome{State: api.OutcomeAborted, Reason: "completed by a concurrent attempt"}
		}
		if err != nil {
			return api.Outcome{State: api.OutcomeFailed, Err: infra(err)}
		}
		return api.Outcome{State: api.OutcomeCompleted, Output: out}
	}

	if isInfra(execErr) {
		return api.Outcome{State: api.OutcomeFailed, Err: execErr}
	}
	if reason, ok := api.IsParked(execErr); ok {
		return api.Outcome{State: api.OutcomeParked, Reason: reason}
	}
	if api.IsAbort(execErr) {
		return api.Outcome{State: api.OutcomeAborted, Reason: execErr.Error()}
	}
	return api.Outcome{State: api.OutcomeFailed, Err: fmt.Errorf("workflow %s: %w", wf.ID, execErr)}
}

// sweepLoop re-triggers replay for activities whose STARTED event has an
// expired timeout and no COMPLETED event. The replay re-invokes the activity
// with its recorded argument.
func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		events, err := e.store.ListTimedOutActivities(ctx, time.Now())
		if err != nil {
			if ctx.Err() == nil {
				e.logger.ErrorContext(ctx, "timeout_sweep_failed", slog.Any("error", err))
			}
			continue
		}

		for _, ev := range events {
			e.logger.WarnContext(ctx, "activity_timed_out",
				slog.String("workflow_id", ev.WorkflowID),
				slog.String("activity", ev.SubjectName),
			)
			err := e.sched.Schedule(ctx, scheduler.Task{
				Key:        timeoutTaskKey(ev.WorkflowID, ev.SubjectName),
				Kind:       KindRunWorkflow,
				WorkflowID: ev.WorkflowID,
				Subject:    ev.SubjectName,
				DueAt:      time.Now(),
			})
			if err != nil {
				e.logger.ErrorContext(ctx, "timeout_retrigger_failed",
					slog.String("workflow_id", ev.WorkflowID),
					slog.Any("error", err),
				)
			}
		}
	}
}
