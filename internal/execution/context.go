package execution

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/petrijr/sisu/internal/eventlog"
	"github.com/petrijr/sisu/pkg/api"
)

// workflowContext is the per-attempt api.WorkflowContext. One is created for
// each replay attempt and discarded when the attempt ends.
//
// The correlation counter is the attempt's deterministic position tracker:
// every wrapper call consumes the next number, so a step's correlation number
// is stable across replays as long as the workflow function is deterministic.
type workflowContext struct {
	ctx        context.Context
	eng        *Engine
	workflowID string
	typeName   string

	correlation atomic.Int64

	// handlers come from the workflow value's SignalHandling capability;
	// nil when the type does not implement it.
	handlers map[string]api.SignalHandlerFunc

	// sigMu serializes signal application so async branches never interleave
	// handler calls. lastAppliedSeq is the high-water mark of applied
	// SIGNAL/RECEIVED events.
	sigMu          sync.Mutex
	lastAppliedSeq int64
}

var _ api.WorkflowContext = (*workflowContext)(nil)

func newWorkflowContext(ctx context.Context, eng *Engine, workflowID, typeName string, w api.Workflow) *workflowContext {
	c := &workflowContext{
		ctx:        ctx,
		eng:        eng,
		workflowID: workflowID,
		typeName:   typeName,
	}
	if sh, ok := w.(api.SignalHandling); ok {
		c.handlers = sh.SignalHandlers()
	}
	return c
}

func (c *workflowContext) Context() context.Context { return c.ctx }

func (c *workflowContext) WorkflowID() string { return c.workflowID }

// next consumes the attempt's next correlation number, starting at 1.
func (c *workflowContext) next() int64 {
	return c.correlation.Add(1)
}

// allSignals applies every buffered signal regardless of sequence number.
const allSignals int64 = -1

// applySignals delivers buffered SIGNAL/RECEIVED events to the workflow's
// signal handlers in log order, up to and including upToSeq. Checkpoints that
// replay a cached result pass the closing event's sequence number so handler
// state is identical on every replay; park points pass allSignals.
func (c *workflowContext) applySignals(upToSeq int64) error {
	if c.handlers == nil {
		return nil
	}

	c.sigMu.Lock()
	defer c.sigMu.Unlock()

	events, err := c.eng.store.ListSignalsSince(c.ctx, c.workflowID, c.lastAppliedSeq)
	if err != nil {
		return infra(err)
	}

	for _, ev := range events {
		if upToSeq != allSignals && ev.SequenceNumber > upToSeq {
			break
		}
		handler, ok := c.handlers[ev.SubjectName]
		if ok {
			value, err := eventlog.Decode(ev.Payload)
			if err != nil {
				return err
			}
			handler(value)
		}
		c.lastAppliedSeq = ev.SequenceNumber
	}
	return nil
}
