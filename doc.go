// Package sisu provides an embeddable durable workflow engine for Go.
//
// Sisu executes long-lived workflow functions with event-sourced deterministic
// replay: every significant step is recorded as an immutable event, and the
// workflow function is re-run from the top whenever something happens, with
// already-completed steps answered from the log instead of being re-executed.
// A workflow survives process restarts because all of its state lives in the
// event log, not in goroutines.
//
// # Core Concepts
//
// The programming model is small:
//
//  1. Engine
//  2. Workflow
//  3. WorkflowContext
//  4. Signals
//
// # Engine
//
// The Engine owns the event log, the durable timer scheduler and the worker
// pool. It provides APIs to:
//   - register workflow types
//   - start workflows (idempotently, keyed by workflow ID)
//   - deliver signals
//   - read workflow output and merged event history
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//
// Each backend persists both the event log and the timer table, so sleeps and
// condition re-polls fire even after a restart.
//
// # Workflow
//
// A workflow is any type implementing the Workflow interface:
//
//	type Workflow interface {
//	    Execute(wctx WorkflowContext, input any) (any, error)
//	}
//
// Execute is re-run on every replay attempt and must be deterministic: all
// side effects, waits and clock reads go through the WorkflowContext
// wrappers, and every wrapper call carries a stable caller-chosen name.
//
// # WorkflowContext
//
// WorkflowContext carries the four replay-safe operation wrappers:
//
//   - Activity: run a side-effecting function at most once per name
//   - Sleep: durably pause for a duration
//   - AwaitSignal: park until a named signal arrives
//   - AwaitCondition: park until a predicate evaluates true
//
// Wrappers park the workflow by returning unwind errors; the workflow body
// propagates them unchanged. Async runs a function on its own goroutine for
// bounded in-attempt fan-out; the body joins every future it creates.
//
// # Signals
//
// Signals are named, once-per-name messages delivered through the event log.
// A workflow can consume a signal explicitly with AwaitSignal, or implement
// the SignalHandling capability to have buffered signals applied to handler
// functions, in log order, at every replay checkpoint.
package sisu
