// Package execution contains the replay engine: the controller that re-runs
// workflow functions against the event log, the per-attempt workflow context
// with its operation wrappers, and the workflow type registry.
package execution

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/sisu/internal/eventlog"
	"github.com/petrijr/sisu/internal/scheduler"
	"github.com/petrijr/sisu/pkg/api"
	"github.com/petrijr/sisu/pkg/worker"
)

// Task kinds dispatched through the durable scheduler.
const (
	// KindRunWorkflow triggers one replay attempt.
	KindRunWorkflow scheduler.Kind = "run-workflow"
	// KindCompleteSleep marks a sleep as elapsed, then triggers a replay.
	KindCompleteSleep scheduler.Kind = "complete-sleep"
	// KindRepollCondition triggers a replay to re-evaluate a polled condition.
	KindRepollCondition scheduler.Kind = "repoll-condition"
)

func workflowTaskKey(workflowID string) string {
	return "workflow\x00" + workflowID
}

func signalTaskKey(workflowID, name string) string {
	return "signal\x00" + workflowID + "\x00" + name
}

func sleepTaskKey(workflowID, identifier string) string {
	return "sleep\x00" + workflowID + "\x00" + identifier
}

func conditionTaskKey(workflowID, identifier string, due time.Time) string {
	return "condition\x00" + workflowID + "\x00" + identifier + "\x00" + strconv.FormatInt(due.UnixNano(), 10)
}

func timeoutTaskKey(workflowID, name string) string {
	return "timeout\x00" + workflowID + "\x00" + name
}

const defaultSweepInterval = 1 * time.Second

// Config carries the engine's collaborators and tuning knobs.
type Config struct {
	Store eventlog.Store
	Tasks scheduler.Store

	// Logger defaults to slog.Default(), Observer to NoopObserver.
	Logger   *slog.Logger
	Observer api.Observer

	// PollInterval is the scheduler polling interval; zero uses the
	// scheduler default of one second.
	PollInterval time.Duration

	// Lease is the claim lease of the scheduler; zero uses its default.
	Lease time.Duration

	// Workers sizes the attempt/fan-out pool; zero picks a small default.
	Workers int

	// SweepInterval is how often timed-out activities are scanned for; zero
	// uses one second.
	SweepInterval time.Duration
}

// Engine is the durable workflow engine. It implements api.Engine.
type Engine struct {
	store    eventlog.Store
	sched    *scheduler.Scheduler
	registry *workflowRegistry
	pool     *worker.Pool
	observer api.Observer
	logger   *slog.Logger

	sweepInterval time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ api.Engine = (*Engine)(nil)

// New creates an Engine from cfg. Start must be called before workflows make
// progress.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}

	var schedOpts []scheduler.Option
	schedOpts = append(schedOpts, scheduler.WithLogger(logger))
	if cfg.PollInterval > 0 {
		schedOpts = append(schedOpts, scheduler.WithInterval(cfg.PollInterval))
	}
	if cfg.Lease > 0 {
		schedOpts = append(schedOpts, scheduler.WithLease(cfg.Lease))
	}

	e := &Engine{
		store:         cfg.Store,
		sched:         scheduler.New(cfg.Tasks, schedOpts...),
		registry:      newWorkflowRegistry(),
		pool:          worker.NewPool(workers),
		observer:      obs,
		logger:        logger,
		sweepInterval: sweep,
	}

	e.sched.RegisterHandler(KindRunWorkflow, e.handleRunWorkflow)
	e.sched.RegisterHandler(KindCompleteSleep, e.handleCompleteSleep)
	e.sched.RegisterHandler(KindRepollCondition, e.handleRunWorkflow)
	return e
}

func (e *Engine) RegisterWorkflow(typeName string, factory api.WorkflowFactory) error {
	return e.registry.Register(typeName, factory)
}

// Start launches the scheduler poller and the timed-out activity sweep. An
// engine is single-use: once stopped it cannot be started again.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return errors.New("engine stopped; create a new engine")
	}
	if e.started {
		return errors.New("engine already started")
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	e.sched.Start(ctx)

	e.wg.Add(1)
	go e.sweepLoop(ctx)
	return nil
}

// Stop terminates the pollers, drains in-flight attempts and closes the
// worker pool. The engine cannot be restarted afterwards.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.stopped = true
		e.mu.Unlock()
		return
	}
	e.started = false
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.sched.Stop()
	e.wg.Wait()
	e.pool.Close()
}

func (e *Engine) StartWorkflow(ctx context.Context, typeName, workflowID string, input any) (string, error) {
	if _, err := e.registry.Get(typeName); err != nil {
		return "", err
	}
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	encoded, err := eventlog.Encode(input)
	if err != nil {
		return "", err
	}

	if err := e.store.CreateWorkflow(ctx, workflowID, typeName, encoded); err != nil {
		return "", err
	}
	e.observer.OnWorkflowScheduled(ctx, workflowID, typeName)

	err = e.sched.Schedule(ctx, scheduler.Task{
		Key:        workflowTaskKey(workflowID),
		Kind:       KindRunWorkflow,
		WorkflowID: workflowID,
		DueAt:      time.Now(),
	})
	if err != nil {
		return "", err
	}
	return workflowID, nil
}

func (e *Engine) SignalWorkflow(ctx context.Context, workflowID, signalName string, value any) error {
	if _, err := e.store.GetWorkflow(ctx, workflowID); err != nil {
		if errors.Is(err, eventlog.ErrNotFound) {
			return api.ErrWorkflowNotFound
		}
		return err
	}

	encoded, err := eventlog.Encode(value)
	if err != nil {
		return err
	}

	_, err = e.store.SignalReceived(ctx, workflowID, signalName, encoded)
	if errors.Is(err, api.ErrConflict) {
		// The signal was already delivered; delivery is once per name.
		return nil
	}
	if err != nil {
		return err
	}

	return e.sched.Schedule(ctx, scheduler.Task{
		Key:        signalTaskKey(workflowID, signalName),
		Kind:       KindRunWorkflow,
		WorkflowID: workflowID,
		Subject:    signalName,
		DueAt:      time.Now(),
	})
}

func (e *Engine) GetWorkflowOutput(ctx context.Context, workflowID string) (any, bool, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, eventlog.ErrNotFound) {
			return nil, false, api.ErrWorkflowNotFound
		}
		return nil, false, err
	}
	if !wf.Completed() {
		return nil, false, nil
	}
	out, err := eventlog.Decode(wf.Output)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (e *Engine) GetInstance(ctx context.Context, workflowID string) (*api.WorkflowInstance, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, eventlog.ErrNotFound) {
			return nil, api.ErrWorkflowNotFound
		}
		return nil, err
	}
	return wf, nil
}

// GetEvents merges the raw log into one view per logical operation, ordered
// by the sequence number of each operation's opening event.
func (e *Engine) GetEvents(ctx context.Context, workflowID string) ([]api.EventView, error) {
	events, err := e.store.ListEvents(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		if _, err := e.store.GetWorkflow(ctx, workflowID); errors.Is(err, eventlog.ErrNotFound) {
			return nil, api.ErrWorkflowNotFound
		}
		return nil, nil
	}

	var views []api.EventView
	index := make(map[string]int)

	for _, ev := range events {
		key := string(ev.Category) + "\x00" + ev.SubjectName
		i, seen := index[key]
		if !seen {
			views = append(views, api.EventView{
				WorkflowID:        ev.WorkflowID,
				Category:          ev.Category,
				CorrelationNumber: ev.CorrelationNumber,
				SubjectName:       ev.SubjectName,
				FunctionName:      ev.FunctionName,
				Input:             ev.Payload,
				Status:            ev.Status,
				StartTimestamp:    ev.Timestamp,
			})
			index[key] = len(views) - 1
			continue
		}

		v := &views[i]
		v.Status = ev.Status
		if isClosingStatus(ev.Status) {
			v.Output = ev.Payload
			t := ev.Timestamp
			v.EndTimestamp = &t
		} else {
			// WORKFLOW records SCHEDULED before STARTED; the view's start is
			// the actual start.
			v.StartTimestamp = ev.Timestamp
			if ev.Payload != nil {
				v.Input = ev.Payload
			}
		}
		if ev.CorrelationNumber != api.NoCorrelation {
			v.CorrelationNumber = ev.CorrelationNumber
		}
	}
	return views, nil
}

func isClosingStatus(s api.Status) bool {
	switch s {
	case api.StatusCompleted, api.StatusReceived, api.StatusSatisfied, api.StatusUnsatisfied:
		return true
	}
	return false
}
