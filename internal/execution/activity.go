package execution

import (
	"errors"
	"time"

	"github.com/petrijr/sisu/internal/eventlog"
	"github.com/petrijr/sisu/pkg/api"
)

// Activity runs fn at most once per name for the lifetime of the workflow.
//
// The STARTED event is the claim: exactly one attempt records it, and its
// payload is the durable argument. A later attempt that finds STARTED without
// COMPLETED re-invokes fn with the recorded argument, which covers both the
// crashed-owner case and the concurrent-attempt case; the COMPLETED write then
// decides the winner, and the loser aborts.
func (c *workflowContext) Activity(name string, arg any, fn api.ActivityFunc, opts ...api.ActivityOption) (any, error) {
	correlation := c.next()

	var options api.ActivityOptions
	for _, opt := range opts {
		opt(&options)
	}

	rec, err := c.eng.store.GetActivity(c.ctx, c.workflowID, name)
	if err != nil && !errors.Is(err, eventlog.ErrNotFound) {
		return nil, infra(err)
	}

	if rec != nil && rec.Completed() {
		if err := c.applySignals(rec.CompletedSeq); err != nil {
			return nil, err
		}
		return eventlog.Decode(rec.Output)
	}

	var input []byte
	if rec != nil {
		// Started but not completed: re-invoke with the recorded argument.
		input = rec.Input
	} else {
		input, err = eventlog.Encode(arg)
		if err != nil {
			return nil, err
		}

		var timeoutAt *time.Time
		if options.Timeout > 0 {
			t := time.Now().Add(options.Timeout)
			timeoutAt = &t
		}

		_, err = c.eng.store.ActivityStarted(c.ctx, c.workflowID, name, correlation, input, timeoutAt)
		if errors.Is(err, api.ErrConflict) {
			// Another attempt claimed the start; use its recorded argument,
			// or its result if it already finished.
			rec, err = c.eng.store.GetActivity(c.ctx, c.workflowID, name)
			if err != nil {
				return nil, infra(err)
			}
			if rec.Completed() {
				if err := c.applySignals(rec.CompletedSeq); err != nil {
					return nil, err
				}
				return eventlog.Decode(rec.Output)
			}
			input = rec.Input
		} else if err != nil {
			return nil, infra(err)
		}
	}

	argValue, err := eventlog.Decode(input)
	if err != nil {
		return nil, err
	}

	c.eng.observer.OnOperationStarted(c.ctx, c.workflowID, api.CategoryActivity, name)
	startedAt := time.Now()
	out, fnErr := fn(c.ctx, argValue)
	c.eng.observer.OnOperationCompleted(c.ctx, c.workflowID, api.CategoryActivity, name, fnErr, time.Since(startedAt))
	if fnErr != nil {
		return nil, fnErr
	}

	output, err := eventlog.Encode(out)
	if err != nil {
		return nil, err
	}

	seq, err := c.eng.store.ActivityCompleted(c.ctx, c.workflowID, name, correlation, output)
	if errors.Is(err, api.ErrConflict) {
		return nil, &api.AbortError{Reason: "activity " + name + " completed by a concurrent attempt"}
	}
	if err != nil {
		return nil, infra(err)
	}

	if err := c.applySignals(seq); err != nil {
		return nil, err
	}
	return out, nil
}
