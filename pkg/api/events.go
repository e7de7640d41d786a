package api

import "time"

// Category identifies what kind of fact an event records.
type Category string

const (
	CategoryWorkflow  Category = "WORKFLOW"
	CategoryActivity  Category = "ACTIVITY"
	CategorySleep     Category = "SLEEP"
	CategorySignal    Category = "SIGNAL"
	CategoryCondition Category = "CONDITION"
	CategoryAwait     Category = "AWAIT"
)

// Status is the category-specific state an event records.
//
// WORKFLOW uses SCHEDULED/STARTED/COMPLETED, ACTIVITY and SLEEP use
// STARTED/COMPLETED, SIGNAL uses WAITING/RECEIVED, CONDITION uses
// WAITING/SATISFIED and AWAIT uses STARTED/COMPLETED/UNSATISFIED.
type Status string

const (
	StatusScheduled   Status = "SCHEDULED"
	StatusStarted     Status = "STARTED"
	StatusCompleted   Status = "COMPLETED"
	StatusWaiting     Status = "WAITING"
	StatusReceived    Status = "RECEIVED"
	StatusSatisfied   Status = "SATISFIED"
	StatusUnsatisfied Status = "UNSATISFIED"
)

// NoCorrelation is the CorrelationNumber of events that are not tied to a
// position in the workflow function: the workflow's own lifecycle records and
// externally delivered signals.
const NoCorrelation int64 = -1

// Event is one immutable, append-only fact about a workflow's progress.
//
// SequenceNumber is assigned at write time and is the durable total order of
// the log per workflow. CorrelationNumber is assigned at read time by the
// replay attempt's correlation tracker: it is the position of the operation in
// the deterministic execution order of the workflow function, recorded for
// replay diagnostics. The identity used by the idempotency guard is
// (WorkflowID, Category, SubjectName, Status).
type Event struct {
	ID                string
	WorkflowID        string
	CorrelationNumber int64
	SequenceNumber    int64
	Category          Category

	// SubjectName is the stable caller-supplied name of the operation
	// (activity name, sleep identifier, signal name, condition identifier).
	// For WORKFLOW events it is the registered workflow type name.
	SubjectName string

	// FunctionName is a human-oriented label for what ran ("execute" for
	// workflow events, the activity name for activity events).
	FunctionName string

	Payload   []byte
	Status    Status
	Timestamp time.Time

	// TimeoutAt is set on ACTIVITY/STARTED events that carry an activity
	// timeout; the timed-out sweep scans it.
	TimeoutAt *time.Time
}

// EventView is the merged, read-side shape of the log: one entry per logical
// operation, pairing its opening event (STARTED/WAITING/SCHEDULED) with its
// closing event (COMPLETED/RECEIVED/SATISFIED) when one exists.
type EventView struct {
	WorkflowID        string
	Category          Category
	CorrelationNumber int64
	SubjectName       string
	FunctionName      string

	// Input is the payload of the opening event, Output the payload of the
	// closing event, when present.
	Input  []byte
	Output []byte

	// Status is the latest status recorded for this operation.
	Status Status

	StartTimestamp time.Time
	EndTimestamp   *time.Time
}

// Done reports whether the operation has reached its closing event.
func (v EventView) Done() bool {
	return v.EndTimestamp != nil
}

// WorkflowInstance is the logical aggregate for one workflow execution,
// keyed by WorkflowID. It is created when a workflow is requested and only
// ever mutated by recording lifecycle events; it is never deleted by the
// engine.
type WorkflowInstance struct {
	ID       string
	TypeName string

	// Input and Output are codec-encoded payloads; Output is only set once a
	// WORKFLOW/COMPLETED event exists.
	Input  []byte
	Output []byte

	CreatedAt time.Time

	ScheduledEventID string
	StartedEventID   string
	CompletedEventID string
}

// Completed reports whether the workflow reached its terminal state.
func (w *WorkflowInstance) Completed() bool {
	return w.CompletedEventID != ""
}
