package sisu

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/sisu/internal/eventlog"
	"github.com/petrijr/sisu/internal/execution"
	"github.com/petrijr/sisu/internal/scheduler"
	"github.com/petrijr/sisu/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine            = api.Engine
	Workflow          = api.Workflow
	WorkflowFactory   = api.WorkflowFactory
	WorkflowContext   = api.WorkflowContext
	WorkflowInstance  = api.WorkflowInstance
	ActivityFunc      = api.ActivityFunc
	ActivityOption    = api.ActivityOption
	Future            = api.Future
	SignalHandlerFunc = api.SignalHandlerFunc
	SignalHandling    = api.SignalHandling
	Event             = api.Event
	EventView         = api.EventView
	Category          = api.Category
	Status            = api.Status
	Outcome           = api.Outcome
	OutcomeState      = api.OutcomeState
	Observer          = api.Observer
	LoggingObserver   = api.LoggingObserver
	CompositeObserver = api.CompositeObserver
	NoopObserver      = api.NoopObserver
)

// Re-export common helpers and sentinels.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	WithActivityTimeout  = api.WithActivityTimeout

	ErrConflict         = api.ErrConflict
	ErrWorkflowNotFound = api.ErrWorkflowNotFound
	ErrWorkflowExists   = api.ErrWorkflowExists
)

// Re-export outcome states, categories and statuses for convenience.

const (
	OutcomeCompleted = api.OutcomeCompleted
	OutcomeParked    = api.OutcomeParked
	OutcomeAborted   = api.OutcomeAborted
	OutcomeFailed    = api.OutcomeFailed

	CategoryWorkflow  = api.CategoryWorkflow
	CategoryActivity  = api.CategoryActivity
	CategorySleep     = api.CategorySleep
	CategorySignal    = api.CategorySignal
	CategoryCondition = api.CategoryCondition
	CategoryAwait     = api.CategoryAwait

	StatusScheduled   = api.StatusScheduled
	StatusStarted     = api.StatusStarted
	StatusCompleted   = api.StatusCompleted
	StatusWaiting     = api.StatusWaiting
	StatusReceived    = api.StatusReceived
	StatusSatisfied   = api.StatusSatisfied
	StatusUnsatisfied = api.StatusUnsatisfied
)

// Option configures an engine built by the constructors below.
type Option func(*execution.Config)

// WithLogger sets the structured logger used by the engine and scheduler.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *execution.Config) { cfg.Logger = logger }
}

// WithObserver installs an Observer for attempt and operation lifecycle
// callbacks.
func WithObserver(obs Observer) Option {
	return func(cfg *execution.Config) { cfg.Observer = obs }
}

// WithPollingInterval sets how often the durable scheduler polls for due
// tasks. Shorter intervals make sleeps and condition re-polls fire closer to
// their due time at the cost of more store traffic.
func WithPollingInterval(d time.Duration) Option {
	return func(cfg *execution.Config) { cfg.PollInterval = d }
}

// WithWorkers sizes the pool replay attempts run on.
func WithWorkers(n int) Option {
	return func(cfg *execution.Config) { cfg.Workers = n }
}

func build(store eventlog.Store, tasks scheduler.Store, opts ...Option) Engine {
	cfg := execution.Config{Store: store, Tasks: tasks}
	for _, opt := range opts {
		opt(&cfg)
	}
	return execution.New(cfg)
}

// Engine constructors. These wrap the internal packages so external callers
// never need to import them.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
// Nothing survives a restart; intended for tests and examples.
func NewInMemoryEngine(opts ...Option) Engine {
	return build(eventlog.NewMemoryStore(), scheduler.NewMemoryStore(), opts...)
}

// NewSQLiteEngine returns an Engine that persists the event log and the timer
// table in a SQLite database. The caller imports the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
func NewSQLiteEngine(db *sql.DB, opts ...Option) (Engine, error) {
	store, err := eventlog.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	tasks, err := scheduler.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return build(store, tasks, opts...), nil
}

// NewPostgresEngine returns an Engine that persists the event log and the
// timer table in PostgreSQL. Driver-agnostic over database/sql.
func NewPostgresEngine(db *sql.DB, opts ...Option) (Engine, error) {
	store, err := eventlog.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	tasks, err := scheduler.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return build(store, tasks, opts...), nil
}

// NewRedisEngine returns an Engine that persists the event log and the timer
// index in Redis under the given key prefix ("sisu:" when empty).
func NewRedisEngine(client *redis.Client, prefix string, opts ...Option) Engine {
	return build(
		eventlog.NewRedisStore(client, prefix),
		scheduler.NewRedisStore(client, prefix),
		opts...,
	)
}
