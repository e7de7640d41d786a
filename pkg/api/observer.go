package api

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay replay attempts.
type Observer interface {
	// OnWorkflowScheduled is called once when a new workflow is durably
	// requested.
	OnWorkflowScheduled(ctx context.Context, workflowID, typeName string)

	// OnAttemptStarted is called at the beginning of every replay attempt.
	OnAttemptStarted(ctx context.Context, workflowID string)

	// OnAttemptFinished is called with the attempt's outcome: completed,
	// parked, aborted or failed.
	OnAttemptFinished(ctx context.Context, workflowID string, outcome Outcome)

	// OnOperationStarted is called when a wrapper performs its real action
	// (not on cached replay returns).
	OnOperationStarted(ctx context.Context, workflowID string, category Category, name string)

	// OnOperationCompleted is called after the wrapper's action finished,
	// for both successes and failures (err != nil).
	OnOperationCompleted(ctx context.Context, workflowID string, category Category, name string, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowScheduled(ctx context.Context, workflowID, typeName string)    {}
func (NoopObserver) OnAttemptStarted(ctx context.Context, workflowID string)                 {}
func (NoopObserver) OnAttemptFinished(ctx context.Context, workflowID string, o Outcome)     {}
func (NoopObserver) OnOperationStarted(ctx context.Context, wf string, c Category, n string) {}
func (NoopObserver) OnOperationCompleted(ctx context.Context, wf string, c Category, n string, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowScheduled(ctx context.Context, workflowID, typeName string) {
	for _, o := range c.observers {
		o.OnWorkflowScheduled(ctx, workflowID, typeName)
	}
}

func (c *CompositeObserver) OnAttemptStarted(ctx context.Context, workflowID string) {
	for _, o := range c.observers {
		o.OnAttemptStarted(ctx, workflowID)
	}
}

func (c *CompositeObserver) OnAttemptFinished(ctx context.Context, workflowID string, outcome Outcome) {
	for _, o := range c.observers {
		o.OnAttemptFinished(ctx, workflowID, outcome)
	}
}

func (c *CompositeObserver) OnOperationStarted(ctx context.Context, workflowID string, category Category, name string) {
	for _, o := range c.observers {
		o.OnOperationStarted(ctx, workflowID, category, name)
	}
}

func (c *CompositeObserver) OnOperationCompleted(ctx context.Context, workflowID string, category Category, name string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnOperationCompleted(ctx, workflowID, category, name, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs attempt / operation
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowScheduled(ctx context.Context, workflowID, typeName string) {
	o.Logger.InfoContext(ctx, "workflow_scheduled",
		slog.String("workflow_id", workflowID),
		slog.String("type", typeName),
	)
}

func (o *LoggingObserver) OnAttemptStarted(ctx context.Context, workflowID string) {
	o.Logger.DebugContext(ctx, "attempt_started",
		slog.String("workflow_id", workflowID),
	)
}

func (o *LoggingObserver) OnAttemptFinished(ctx context.Context, workflowID string, outcome Outcome) {
	switch outcome.State {
	case OutcomeFailed:
		o.Logger.ErrorContext(ctx, "attempt_failed",
			slog.String("workflow_id", workflowID),
			slog.Any("error", outcome.Err),
		)
	case OutcomeCompleted:
		o.Logger.InfoContext(ctx, "workflow_completed",
			slog.String("workflow_id", workflowID),
		)
	default:
		o.Logger.InfoContext(ctx, "attempt_finished",
			slog.String("workflow_id", workflowID),
			slog.String("state", string(outcome.State)),
			slog.String("reason", outcome.Reason),
		)
	}
}

func (o *LoggingObserver) OnOperationStarted(ctx context.Context, workflowID string, category Category, name string) {
	o.Logger.DebugContext(ctx, "operation_started",
		slog.String("workflow_id", workflowID),
		slog.String("category", string(category)),
		slog.String("name", name),
	)
}

func (o *LoggingObserver) OnOperationCompleted(ctx context.Context, workflowID string, category Category, name string, err error, d time.Duration) {
	if err != nil {
		o.Logger.ErrorContext(ctx, "operation_failed",
			slog.String("workflow_id", workflowID),
			slog.String("category", string(category)),
			slog.String("name", name),
			slog.Any("error", err),
			slog.Duration("duration", d),
		)
		return
	}
	o.Logger.DebugContext(ctx, "operation_completed",
		slog.String("workflow_id", workflowID),
		slog.String("category", string(category)),
		slog.String("name", name),
		slog.Duration("duration", d),
	)
}
