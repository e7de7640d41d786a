package api

import "context"

// Engine is the high-level durable workflow engine API.
//
// All operations are idempotent against redelivery: timers fire at least
// once, signals may be re-sent, and concurrent triggers for the same workflow
// resolve through the event log's conflict guard.
type Engine interface {
	// RegisterWorkflow registers a workflow type by name.
	RegisterWorkflow(typeName string, factory WorkflowFactory) error

	// Start launches the durable scheduler poller, the worker pool and the
	// timed-out activity sweep. It must be called before workflows make
	// progress; triggers accepted earlier are durably queued.
	Start(ctx context.Context) error

	// Stop drains the worker pool and stops the pollers.
	Stop()

	// StartWorkflow durably schedules a new workflow execution and returns the
	// definitive workflow ID. workflowID is the idempotency key; if empty, a
	// random one is generated. The returned error is ErrWorkflowExists when
	// the ID has already been scheduled.
	StartWorkflow(ctx context.Context, typeName, workflowID string, input any) (string, error)

	// SignalWorkflow records a named signal for the workflow and immediately
	// triggers a replay attempt. Delivering the same signal name twice is a
	// no-op.
	SignalWorkflow(ctx context.Context, workflowID, signalName string, value any) error

	// GetWorkflowOutput returns the decoded workflow output and whether the
	// workflow has completed.
	GetWorkflowOutput(ctx context.Context, workflowID string) (output any, completed bool, err error)

	// GetInstance returns the workflow aggregate.
	GetInstance(ctx context.Context, workflowID string) (*WorkflowInstance, error)

	// GetEvents returns the merged event history for a workflow, ordered by
	// the sequence number of each operation's opening event.
	GetEvents(ctx context.Context, workflowID string) ([]EventView, error)
}
