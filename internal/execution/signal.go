package execution

import (
	"errors"

	"github.com/petrijr/sisu/internal/eventlog"
	"github.com/petrijr/sisu/pkg/api"
)

// AwaitSignal parks the workflow until the named signal has been received and
// returns the carried value.
//
// SIGNAL/WAITING is recorded on the first encounter for visibility in the
// event history; it is not a precondition for delivery. A signal that arrives
// before the workflow ever reaches this point is buffered in the log and
// consumed immediately.
func (c *workflowContext) AwaitSignal(name string) (any, error) {
	correlation := c.next()

	rec, err := c.eng.store.GetSignal(c.ctx, c.workflowID, name)
	if err != nil && !errors.Is(err, eventlog.ErrNotFound) {
		return nil, infra(err)
	}

	if rec != nil && rec.Received() {
		if err := c.applySignals(rec.ReceivedSeq); err != nil {
			return nil, err
		}
		return eventlog.Decode(rec.Value)
	}

	c.eng.observer.OnOperationStarted(c.ctx, c.workflowID, api.CategorySignal, name)
	_, err = c.eng.store.SignalWaiting(c.ctx, c.workflowID, name, correlation)
	if err != nil && !errors.Is(err, api.ErrConflict) {
		return nil, infra(err)
	}

	// The signal may have raced in between the lookup and the WAITING write.
	rec, err = c.eng.store.GetSignal(c.ctx, c.workflowID, name)
	if err != nil && !errors.Is(err, eventlog.ErrNotFound) {
		return nil, infra(err)
	}
	if rec != nil && rec.Received() {
		if err := c.applySignals(rec.ReceivedSeq); err != nil {
			return nil, err
		}
		return eventlog.Decode(rec.Value)
	}

	return nil, &api.AwaitingSignalError{Name: name}
}
