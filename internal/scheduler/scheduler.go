// Package scheduler provides the durable timer that drives workflow progress:
// replay triggers, sleep expirations and condition re-polls are stored as
// keyed tasks and delivered at least once after their due time.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies what the handler should do with a task.
type Kind string

// Task is one durable, keyed timer entry.
//
// Key is the idempotency key: scheduling the same key twice is a no-op while
// the first entry is still pending. Tasks survive process restarts on the
// durable backends.
type Task struct {
	Key        string
	Kind       Kind
	WorkflowID string

	// Subject carries the operation name the task is about (sleep identifier,
	// condition identifier, signal name). Empty for plain replay triggers.
	Subject string

	Payload []byte
	DueAt   time.Time
}

// Store persists scheduled tasks.
//
// Delivery is at least once: ClaimDue leases due tasks by pushing their due
// time forward instead of deleting them, and only Complete removes an entry.
// A worker that crashes mid-task loses its lease and the task is redelivered.
type Store interface {
	// ScheduleOnce inserts the task unless its key is already pending.
	// Scheduling a duplicate key is a no-op, not an error.
	ScheduleOnce(ctx context.Context, t Task) error

	// Cancel removes a pending task. Cancelling an absent key is a no-op.
	Cancel(ctx context.Context, key string) error

	// ClaimDue returns up to limit tasks whose due time has passed, pushing
	// each claimed task's due time forward by lease.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Task, error)

	// Complete removes a claimed task after its handler succeeded.
	Complete(ctx context.Context, key string) error
}

// Handler processes one claimed task. Returning an error leaves the task
// scheduled; it is redelivered when its lease expires.
type Handler func(ctx context.Context, t Task) error

const (
	defaultInterval = 1 * time.Second
	defaultLease    = 30 * time.Second
	defaultBatch    = 64
)

// Scheduler polls a Store and dispatches due tasks to registered handlers.
type Scheduler struct {
	store    Store
	logger   *slog.Logger
	interval time.Duration
	lease    time.Duration

	mu       sync.Mutex
	handlers map[Kind]Handler

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the polling interval. Default is one second.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLease sets the claim lease duration. Default is 30 seconds.
func WithLease(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lease = d
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Scheduler over store.
func New(store Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		logger:   slog.Default(),
		interval: defaultInterval,
		lease:    defaultLease,
		handlers: make(map[Kind]Handler),
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandler installs the handler for one task kind. Must be called
// before Start.
func (s *Scheduler) RegisterHandler(kind Kind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// Schedule stores the task and wakes the poll loop so that already-due tasks
// are picked up without waiting for the next tick.
func (s *Scheduler) Schedule(ctx context.Context, t Task) error {
	if err := s.store.ScheduleOnce(ctx, t); err != nil {
		return err
	}
	s.Kick()
	return nil
}

// Kick wakes the poll loop early. It never blocks.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start launches the poll loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop terminates the poll loop and waits for in-flight handlers.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.dispatchDue(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
	}
}

func (s *Scheduler) dispatchDue(ctx context.Context) {
	tasks, err := s.store.ClaimDue(ctx, time.Now(), s.lease, defaultBatch)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "claim_due_failed", slog.Any("error", err))
		}
		return
	}

	for _, t := range tasks {
		s.mu.Lock()
		h, ok := s.handlers[t.Kind]
		s.mu.Unlock()
		if !ok {
			s.logger.WarnContext(ctx, "no_handler_for_task",
				slog.String("kind", string(t.Kind)),
				slog.String("key", t.Key),
			)
			continue
		}

		s.wg.Add(1)
		go func(t Task) {
			defer s.wg.Done()
			if err := h(ctx, t); err != nil {
				// Leave the task scheduled; the lease expiry redelivers it.
				s.logger.ErrorContext(ctx, "task_handler_failed",
					slog.String("kind", string(t.Kind)),
					slog.String("key", t.Key),
					slog.Any("error", err),
				)
				return
			}
			if err := s.store.Complete(ctx, t.Key); err != nil {
				s.logger.ErrorContext(ctx, "task_complete_failed",
					slog.String("key", t.Key),
					slog.Any("error", err),
				)
			}
		}(t)
	}
}
