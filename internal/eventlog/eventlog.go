package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/sisu/pkg/api"
)

// ErrNotFound is returned when a workflow, event or auxiliary record does not
// exist. Conflicts are reported as api.ErrConflict; those two are the only
// expected errors, everything else is infrastructure.
var ErrNotFound = errors.New("record not found")

// Store is the append-only event log plus the auxiliary lookup tables that
// make "has this step already happened" an O(1) lookup.
//
// Every mutating method appends exactly one event and updates its auxiliary
// row inside one transaction: both writes succeed or both fail. A uniqueness
// violation on (workflow, category, subject name, status) is reported as
// api.ErrConflict, the expected signal that a concurrent attempt already
// committed this step. Mutators return the sequence number assigned to the
// appended event.
type Store interface {
	// CreateWorkflow inserts the workflow aggregate together with its
	// WORKFLOW/SCHEDULED event. Returns api.ErrWorkflowExists when the ID is
	// already scheduled.
	CreateWorkflow(ctx context.Context, workflowID, typeName string, input []byte) error
	GetWorkflow(ctx context.Context, workflowID string) (*api.WorkflowInstance, error)
	HasWorkflowStarted(ctx context.Context, workflowID string) (bool, error)
	WorkflowStarted(ctx context.Context, workflowID, typeName string, input []byte) (int64, error)
	WorkflowCompleted(ctx context.Context, workflowID, typeName string, output []byte) (int64, error)

	ActivityStarted(ctx context.Context, workflowID, name string, correlation int64, input []byte, timeoutAt *time.Time) (int64, error)
	ActivityCompleted(ctx context.Context, workflowID, name string, correlation int64, output []byte) (int64, error)
	GetActivity(ctx context.Context, workflowID, name string) (*ActivityRecord, error)

	SleepStarted(ctx context.Context, workflowID, identifier string, correlation int64, d time.Duration) (int64, error)
	// SleepCompleted is fired from the durable timer callback, outside any
	// replay attempt, so it carries no correlation number.
	SleepCompleted(ctx context.Context, workflowID, identifier string) (int64, error)
	GetSleep(ctx context.Context, workflowID, identifier string) (*SleepRecord, error)

	SignalWaiting(ctx context.Context, workflowID, name string, correlation int64) (int64, error)
	SignalReceived(ctx context.Context, workflowID, name string, value []byte) (int64, error)
	GetSignal(ctx context.Context, workflowID, name string) (*SignalRecord, error)

	ConditionWaiting(ctx context.Context, workflowID, identifier string, correlation int64) (int64, error)
	ConditionSatisfied(ctx context.Context, workflowID, identifier string, correlation int64) (int64, error)
	GetCondition(ctx context.Context, workflowID, identifier string) (*ConditionRecord, error)

	// AwaitStarted / AwaitResolved back the checkpoint-style await, which has
	// no auxiliary table: its state lives entirely in the event log.
	AwaitStarted(ctx context.Context, workflowID, identifier string, correlation int64) (int64, error)
	AwaitResolved(ctx context.Context, workflowID, identifier string, correlation int64, status api.Status) (int64, error)

	// GetEventByName is the name-keyed point lookup of the log.
	GetEventByName(ctx context.Context, workflowID string, category api.Category, name string, status api.Status) (*api.Event, error)

	// ListEvents returns the full log for one workflow, ordered by sequence
	// number.
	ListEvents(ctx context.Context, workflowID string) ([]api.Event, error)

	// ListSignalsSince returns SIGNAL/RECEIVED events with sequence numbers
	// strictly greater than afterSeq, in sequence order.
	ListSignalsSince(ctx context.Context, workflowID string, afterSeq int64) ([]api.Event, error)

	// ListTimedOutActivities returns ACTIVITY/STARTED events whose timeout
	// expired before now and that have no matching COMPLETED event.
	ListTimedOutActivities(ctx context.Context, now time.Time) ([]api.Event, error)
}

// ActivityRecord is the auxiliary row for one named activity.
type ActivityRecord struct {
	WorkflowID string
	Name       string

	// Input is the payload recorded on the STARTED event; re-executions use
	// it instead of the caller's fresh argument.
	Input  []byte
	Output []byte

	StartedEventID   string
	CompletedEventID string
	StartedAt        time.Time

	// CompletedSeq is the sequence number of the COMPLETED event, 0 if open.
	CompletedSeq int64
}

func (r *ActivityRecord) Completed() bool { return r.CompletedEventID != "" }

// SleepRecord is the auxiliary row for one named sleep.
type SleepRecord struct {
	WorkflowID string
	Identifier string
	Duration   time.Duration

	StartedEventID   string
	CompletedEventID string
	StartedAt        time.Time
	CompletedSeq     int64
}

func (r *SleepRecord) Completed() bool { return r.CompletedEventID != "" }

// Elapsed reports how long the sleep has been running at now.
func (r *SleepRecord) Elapsed(now time.Time) time.Duration {
	return now.Sub(r.StartedAt)
}

// SignalRecord is the auxiliary row for one named signal.
type SignalRecord struct {
	WorkflowID string
	Name       string
	Value      []byte

	WaitingEventID  string
	ReceivedEventID string
	ReceivedSeq     int64
}

func (r *SignalRecord) Received() bool { return r.ReceivedEventID != "" }

// ConditionRecord is the auxiliary row for one named condition.
type ConditionRecord struct {
	WorkflowID string
	Identifier string

	WaitingEventID   string
	SatisfiedEventID string
	SatisfiedSeq     int64
}

func (r *ConditionRecord) Satisfied() bool { return r.SatisfiedEventID != "" }
