package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/petrijr/sisu/pkg/api"
)

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "log.db"))
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

// storeFactories covers every backend the tests can run without external
// services.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": newTestSQLiteStore,
	}
}

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return data
}

func TestStore_WorkflowLifecycle(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			input := mustEncode(t, "in")
			if err := store.CreateWorkflow(ctx, "wf-1", "order", input); err != nil {
				t.Fatalf("CreateWorkflow failed: %v", err)
			}

			err := store.CreateWorkflow(ctx, "wf-1", "order", input)
			if !errors.Is(err, api.ErrWorkflowExists) {
				t.Fatalf("expected ErrWorkflowExists, got %v", err)
			}

			wf, err := store.GetWorkflow(ctx, "wf-1")
			if err != nil {
				t.Fatalf("GetWorkflow failed: %v", err)
			}
			if wf.TypeName != "order" {
				t.Fatalf("expected type %q, got %q", "order", wf.TypeName)
			}
			if wf.ScheduledEventID == "" {
				t.Fatalf("expected scheduled event id to be set")
			}
			if wf.Completed() {
				t.Fatalf("new workflow must not be completed")
			}

			started, err := store.HasWorkflowStarted(ctx, "wf-1")
			if err != nil {
				t.Fatalf("HasWorkflowStarted failed: %v", err)
			}
			if started {
				t.Fatalf("workflow must not be started yet")
			}

			if _, err := store.WorkflowStarted(ctx, "wf-1", "order", input); err != nil {
				t.Fatalf("WorkflowStarted failed: %v", err)
			}
			started, err = store.HasWorkflowStarted(ctx, "wf-1")
			if err != nil {
				t.Fatalf("HasWorkflowStarted failed: %v", err)
			}
			if !started {
				t.Fatalf("workflow must be started")
			}

			output := mustEncode(t, "out")
			if _, err := store.WorkflowCompleted(ctx, "wf-1", "order", output); err != nil {
				t.Fatalf("WorkflowCompleted failed: %v", err)
			}

			wf, err = store.GetWorkflow(ctx, "wf-1")
			if err != nil {
				t.Fatalf("GetWorkflow failed: %v", err)
			}
			if !wf.Completed() {
				t.Fatalf("workflow must be completed")
			}
			out, err := Decode(wf.Output)
			if err != nil {
				t.Fatalf("Decode output failed: %v", err)
			}
			if out != "out" {
				t.Fatalf("expected output %q, got %v", "out", out)
			}
		})
	}
}

func TestStore_WorkflowNotFound(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			if _, err := store.GetWorkflow(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, err := store.HasWorkflowStarted(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_GuardConflict(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			if err := store.CreateWorkflow(ctx, "wf-1", "order", nil); err != nil {
				t.Fatalf("CreateWorkflow failed: %v", err)
			}
			if _, err := store.WorkflowStarted(ctx, "wf-1", "order", nil); err != nil {
				t.Fatalf("first WorkflowStarted failed: %v", err)
			}

			_, err := store.WorkflowStarted(ctx, "wf-1", "order", nil)
			if !errors.Is(err, api.ErrConflict) {
				t.Fatalf("expected ErrConflict on duplicate start, got %v", err)
			}
		})
	}
}

func TestStore_SequenceOrder(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			if err := store.CreateWorkflow(ctx, "wf-1", "order", nil); err != nil {
				t.Fatalf("CreateWorkflow failed: %v", err)
			}
			if _, err := store.WorkflowStarted(ctx, "wf-1", "order", nil); err != nil {
				t.Fatalf("WorkflowStarted failed: %v", err)
			}
			if _, err := store.ActivityStarted(ctx, "wf-1", "charge", 1, nil, nil); err != nil {
				t.Fatalf("ActivityStarted failed: %v", err)
			}
			if _, err := store.ActivityCompleted(ctx, "wf-1", "charge", 1, nil); err != nil {
				t.Fatalf("ActivityCompleted failed: %v", err)
			}

			events, err := store.ListEvents(ctx, "wf-1")
			if err != nil {
				t.Fatalf("ListEvents failed: %v", err)
			}
			if len(events) != 4 {
				t.Fatalf("expected 4 events, got %d", len(events))
			}
			for i, ev := range events {
				if ev.SequenceNumber != int64(i+1) {
					t.Fatalf("event %d has sequence %d, want %d", i, ev.SequenceNumber, i+1)
				}
			}
		})
	}
}

func TestStore_ActivityLifecycle(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			if err := store.CreateWorkflow(ctx, "wf-1", "order", nil); err != nil {
				t.Fatalf("CreateWorkflow failed: %v", err)
			}

			input := mustEncode(t, 100)
			if _, err := store.ActivityStarted(ctx, "wf-1", "charge", 1, input, nil); err != nil {
				t.Fatalf("ActivityStarted failed: %v", err)
			}

			_, err := store.ActivityStarted(ctx, "wf-1", "charge", 1, input, nil)
			if !errors.Is(err, api.ErrConflict) {
				t.Fatalf("expected ErrConflict on duplicate start, got %v", err)
			}

			rec, err := store.GetActivity(ctx, "wf-1", "charge")
			if err != nil {
				t.Fatalf("GetActivity failed: %v", err)
			}
			if rec.Completed() {
				t.Fatalf("activity must not be completed yet")
			}
			in, err := Decode(rec.Input)
			if err != nil {
				t.Fatalf("Decode input failed: %v", err)
			}
			if in != 100 {
				t.Fatalf("expected recorded input 100, got %v", in)
			}

			output := mustEncode(t, 200)
			seq, err := store.ActivityCompleted(ctx, "wf-1", "charge", 1, output)
			if err != nil {
				t.Fatalf("ActivityCompleted failed: %v", err)
			}

			rec, err = store.GetActivity(ctx, "wf-1", "charge")
			if err != nil {
				t.Fatalf("GetActivity failed: %v", err)
			}
			if !rec.Completed() {
				t.Fatalf("activity must be completed")
			}
			if rec.CompletedSeq != seq {
				t.Fatalf("expected CompletedSeq %d, got %d", seq, rec.CompletedSeq)
			}
			out, err := Decode(rec.Output)
			if err != nil {
				t.Fatalf("Decode output failed: %v", err)
			}
			if out != 200 {
				t.Fatalf("expected output 200, got %v", out)
			}
		})
	}
}

func TestStore_SleepLifecycle(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			if err := store.CreateWorkflow(ctx, "wf-1", "order", nil); err != nil {
				t.Fatalf("CreateWorkflow failed: %v", err)
			}
			if _, err := store.SleepStarted(ctx, "wf-1", "cooldown", 1, 250*time.Millisecond); err != nil {
				t.Fatalf("SleepStarted failed: %v", err)
			}

			rec, err := store.GetSleep(ctx, "wf-1", "cooldown")
			if err != nil {
				t.Fatalf("GetSleep failed: %v", err)
			}
			if rec.Duration != 250*time.Millisecond {
				t.Fatalf("expected duration 250ms, got %s", rec.Duration)
			}
			if rec.Completed() {
				t.Fatalf("sleep must not be completed yet")
			}

			if _, err := store.SleepCompleted(ctx, "wf-1", "cooldown"); err != nil {
				t.Fatalf("SleepCompleted failed: %v", err)
			}
			rec, err = store.GetSleep(ctx, "wf-1", "cooldown")
			if err != nil {
				t.Fatalf("GetSleep failed: %v", err)
			}
			if !rec.Completed() {
				t.Fatalf("sleep must be completed")
			}
		})
	}
}

func TestStore_SignalLifecycle(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			if err := store.CreateWorkflow(ctx, "wf-1", "order", nil); err != nil {
				t.Fatalf("CreateWorkflow failed: %v", err)
			}

			if _, err := store.SignalWaiting(ctx, "wf-1", "approve", 1); err != nil {
				t.Fatalf("SignalWaiting failed: %v", err)
			}
			rec, err := store.GetSignal(ctx, "wf-1", "approve")
			if err != nil {
				t.Fatalf("GetSignal failed: %v", err)
			}
			if rec.Received() {
				t.Fatalf("signal must not be received yet")
			}

			value := mustEncode(t, "yes")
			seq, err := store.SignalReceived(ctx, "wf-1", "approve", value)
			if err != nil {
				t.Fatalf("SignalReceived failed: %v", err)
			}

			_, err = store.SignalReceived(ctx, "wf-1", "approve", value)
			if !errors.Is(err, api.ErrConflict) {
				t.Fatalf("expected ErrConflict on duplicate signal, got %v", err)
			}

			rec, err = store.GetSignal(ctx, "wf-1", "approve")
			if err != nil {
				t.Fatalf("GetSignal failed: %v", err)
			}
			if !rec.Received() {
				t.Fatalf("signal must be received")
			}
			if rec.ReceivedSeq != seq {
				t.Fatalf("expected ReceivedSeq %d, got %d", seq, rec.ReceivedSeq)
			}
			v, err := Decode(rec.Value)
			if err != nil {
				t.Fatalf("Decode value failed: %v", err)
			}
			if v != "yes" {
				t.Fatalf("expected value %q, got %v", "yes", v)
			}
		})
	}
}

func TestStore_ListSignalsSince(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			if err := store.CreateWorkflow(ctx, "wf-1", "order", nil); err != nil {
				t.Fatalf("CreateWorkflow failed: %v", err)
			}
			first, err := store.SignalReceived(ctx, "wf-1", "a", nil)
			if err != nil {
				t.Fatalf("SignalReceived failed: %v", err)
			}
			second, err := store.SignalReceived(ctx, "wf-1", "b", nil)
			if err != nil {
				t.Fatalf("SignalReceived failed: %v", err)
			}

			events, err := store.ListSignalsSince(ctx, "wf-1", 0)
			if err != nil {
				t.Fatalf("ListSignalsSince failed: %v", err)
			}
			if len(events) != 2 {
				t.Fatalf("expected 2 signals, got %d", len(events))
			}
			if events[0].SequenceNumber != first || events[1].SequenceNumber != second {
				t.Fatalf("signals out of order: %d, %d", events[0].SequenceNumber, events[1].SequenceNumber)
			}

			events, err = store.ListSignalsSince(ctx, "wf-1", first)
			if err != nil {
				t.Fatalf("ListSignalsSince failed: %v", err)
			}
			if len(events) != 1 || events[0].SubjectName != "b" {
				t.Fatalf("expected only signal b after seq %d, got %+v", first, events)
			}
		})
	}
}

func TestStore_ConditionLifecycle(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			if err := store.CreateWorkflow(ctx, "wf-1", "order", nil); err != nil {
				t.Fatalf("CreateWorkflow failed: %v", err)
			}
			if _, err := store.ConditionWaiting(ctx, "wf-1", "paid", 1); err != nil {
				t.Fatalf("ConditionWaiting failed: %v", err)
			}

			rec, err := store.GetCondition(ctx, "wf-1", "paid")
			if err != nil {
				t.Fatalf("GetCondition failed: %v", err)
			}
			if rec.Satisfied() {
				t.Fatalf("condition must not be satisfied yet")
			}

			seq, err := store.ConditionSatisfied(ctx, "wf-1", "paid", 2)
			if err != nil {
				t.Fatalf("ConditionSatisfied failed: %v", err)
			}
			rec, err = store.GetCondition(ctx, "wf-1", "paid")
			if err != nil {
				t.Fatalf("GetCondition failed: %v", err)
			}
			if !rec.Satisfied() || rec.SatisfiedSeq != seq {
				t.Fatalf("unexpected condition record: %+v", rec)
			}
		})
	}
}

func TestStore_AwaitEvents(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			if err := store.CreateWorkflow(ctx, "wf-1", "order", nil); err != nil {
				t.Fatalf("CreateWorkflow failed: %v", err)
			}
			if _, err := store.AwaitStarted(ctx, "wf-1", "ready", 1); err != nil {
				t.Fatalf("AwaitStarted failed: %v", err)
			}
			if _, err := store.AwaitResolved(ctx, "wf-1", "ready", 1, api.StatusUnsatisfied); err != nil {
				t.Fatalf("AwaitResolved(unsatisfied) failed: %v", err)
			}
			if _, err := store.AwaitResolved(ctx, "wf-1", "ready", 2, api.StatusCompleted); err != nil {
				t.Fatalf("AwaitResolved(completed) failed: %v", err)
			}

			ev, err := store.GetEventByName(ctx, "wf-1", api.CategoryAwait, "ready", api.StatusCompleted)
			if err != nil {
				t.Fatalf("GetEventByName failed: %v", err)
			}
			if ev.Status != api.StatusCompleted {
				t.Fatalf("expected COMPLETED, got %s", ev.Status)
			}

			if _, err := store.GetEventByName(ctx, "wf-1", api.CategoryAwait, "other", api.StatusCompleted); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_TimedOutActivities(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			if err := store.CreateWorkflow(ctx, "wf-1", "order", nil); err != nil {
				t.Fatalf("CreateWorkflow failed: %v", err)
			}

			past := time.Now().Add(-time.Minute)
			if _, err := store.ActivityStarted(ctx, "wf-1", "slow", 1, nil, &past); err != nil {
				t.Fatalf("ActivityStarted failed: %v", err)
			}
			future := time.Now().Add(time.Hour)
			if _, err := store.ActivityStarted(ctx, "wf-1", "fast", 2, nil, &future); err != nil {
				t.Fatalf("ActivityStarted failed: %v", err)
			}

			events, err := store.ListTimedOutActivities(ctx, time.Now())
			if err != nil {
				t.Fatalf("ListTimedOutActivities failed: %v", err)
			}
			if len(events) != 1 || events[0].SubjectName != "slow" {
				t.Fatalf("expected only activity slow to be timed out, got %+v", events)
			}

			if _, err := store.ActivityCompleted(ctx, "wf-1", "slow", 1, nil); err != nil {
				t.Fatalf("ActivityCompleted failed: %v", err)
			}
			events, err = store.ListTimedOutActivities(ctx, time.Now())
			if err != nil {
				t.Fatalf("ListTimedOutActivities failed: %v", err)
			}
			if len(events) != 0 {
				t.Fatalf("expected no timed out activities, got %+v", events)
			}
		})
	}
}

func TestMemoryStore_ConcurrentStartExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.CreateWorkflow(ctx, "wf-1", "order", nil); err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.ActivityStarted(ctx, "wf-1", "charge", 1, nil, nil)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, api.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if conflicts != attempts-1 {
		t.Fatalf("expected %d conflicts, got %d", attempts-1, conflicts)
	}
}
