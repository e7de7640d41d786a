package api

import (
	"context"
	"time"
)

// Workflow is the capability interface a workflow type implements. Execute is
// re-run from the top on every replay attempt; all non-deterministic work
// must go through the WorkflowContext wrappers, and unwind errors returned by
// those wrappers must be propagated unchanged.
//
// Execute must call the wrappers in the same relative order on every replay
// for a fixed path of inputs and results. That determinism is the correctness
// precondition of the whole engine.
type Workflow interface {
	Execute(wctx WorkflowContext, input any) (any, error)
}

// WorkflowFactory builds a fresh workflow value for one replay attempt.
// Dependencies are captured by the closure; the engine never inspects the
// concrete type beyond the capability interfaces.
type WorkflowFactory func() Workflow

// SignalHandlerFunc is invoked with the decoded signal value when a buffered
// signal is applied at a replay checkpoint. Handlers typically mutate fields
// on the workflow value that Execute reads later.
type SignalHandlerFunc func(value any)

// SignalHandling is an optional capability: workflow types that implement it
// get signals applied through the returned handlers, in log order, at every
// wrapper checkpoint, whether or not the signal is explicitly awaited.
type SignalHandling interface {
	SignalHandlers() map[string]SignalHandlerFunc
}

// ActivityFunc is the side-effecting target of an activity call. arg is the
// argument recorded in the ACTIVITY/STARTED event, so retries and replays see
// the originally recorded input rather than a fresh closure capture.
type ActivityFunc func(ctx context.Context, arg any) (any, error)

// ActivityOptions carries per-call activity settings.
type ActivityOptions struct {
	// Timeout, when positive, marks the activity for the timed-out sweep:
	// if no COMPLETED event appears within the window, the workflow is
	// re-triggered for replay.
	Timeout time.Duration
}

// ActivityOption mutates ActivityOptions.
type ActivityOption func(*ActivityOptions)

// WithActivityTimeout marks the activity for the timed-out sweep.
func WithActivityTimeout(d time.Duration) ActivityOption {
	return func(o *ActivityOptions) { o.Timeout = d }
}

// Future is the join handle of an Async call.
type Future interface {
	// Get blocks until the function finishes and returns its result. Unwind
	// errors from wrappers called inside the async function surface here and
	// must be propagated by the workflow body like any other wrapper error.
	Get() (any, error)
}

// WorkflowContext is the per-attempt handle passed to Execute. It carries the
// workflow identity and the four replay-safe operation wrappers. It replaces
// any notion of ambient or thread-local workflow state: everything a workflow
// may do flows through this value.
//
// Each wrapper call consumes the next correlation number; results of steps
// that already completed are returned from the log without re-executing the
// side effect.
type WorkflowContext interface {
	// Context is the attempt's context; it is passed to activity functions
	// and should bound any blocking work they do.
	Context() context.Context

	// WorkflowID identifies the workflow instance being executed.
	WorkflowID() string

	// Activity performs fn at most once per name across all replays and
	// returns its (possibly cached) output. arg is serialized into the
	// STARTED event and recovered from there on re-execution.
	Activity(name string, arg any, fn ActivityFunc, opts ...ActivityOption) (any, error)

	// Sleep durably pauses the workflow for d. On the first encounter it
	// schedules a wake-up timer and returns a SleepingError; once the timer
	// has fired and marked the sleep complete, replays pass through.
	Sleep(identifier string, d time.Duration) error

	// AwaitSignal parks the workflow until a signal with the given name has
	// been received, then returns the carried value.
	AwaitSignal(name string) (any, error)

	// AwaitCondition parks the workflow until pred evaluates true.
	// With pollInterval > 0 the predicate is re-evaluated on a durable timer;
	// with pollInterval == 0 it is re-evaluated at the next trigger (signal
	// arrival), after pending signals have been applied.
	AwaitCondition(identifier string, pred func() (bool, error), pollInterval time.Duration) error

	// Async runs fn on the worker pool with this workflow context propagated,
	// for bounded in-attempt fan-out. The main attempt blocks on Future.Get.
	Async(fn func() (any, error)) Future
}

// OutcomeState classifies how a replay attempt ended.
type OutcomeState string

const (
	// OutcomeCompleted: the function returned normally; WORKFLOW/COMPLETED is
	// recorded and no further replay will ever be triggered.
	OutcomeCompleted OutcomeState = "COMPLETED"
	// OutcomeParked: the attempt cannot progress now (signal/sleep/condition);
	// a durable timer or signal arrival triggers the next attempt.
	OutcomeParked OutcomeState = "PARKED"
	// OutcomeAborted: the attempt lost a race to a concurrent attempt and was
	// discarded without further writes.
	OutcomeAborted OutcomeState = "ABORTED"
	// OutcomeFailed: user code returned an unexpected error; the workflow
	// stays parked at its last durable checkpoint pending operator action.
	OutcomeFailed OutcomeState = "FAILED"
)

// Outcome is the result of one replay attempt. It makes the engine's control
// flow visible in signatures instead of hiding it in panics.
type Outcome struct {
	State  OutcomeState
	Output any    // decoded workflow output, for OutcomeCompleted
	Reason string // park/abort detail
	Err    error  // cause, for OutcomeFailed
}
