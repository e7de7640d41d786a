package scheduler

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "tasks.db"))
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

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": newTestSQLiteStore,
	}
}

func TestStore_ScheduleOnceDeduplicates(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			first := Task{Key: "k1", Kind: "run", WorkflowID: "wf-1", DueAt: time.Now()}
			if err := store.ScheduleOnce(ctx, first); err != nil {
				t.Fatalf("ScheduleOnce failed: %v", err)
			}

			// Same key, different due time: must be a silent no-op.
			dup := first
			dup.DueAt = time.Now().Add(time.Hour)
			if err := store.ScheduleOnce(ctx, dup); err != nil {
				t.Fatalf("duplicate ScheduleOnce failed: %v", err)
			}

			tasks, err := store.ClaimDue(ctx, time.Now(), time.Minute, 10)
			if err != nil {
				t.Fatalf("ClaimDue failed: %v", err)
			}
			if len(tasks) != 1 {
				t.Fatalf("expected 1 task, got %d", len(tasks))
			}
			if tasks[0].Key != "k1" || tasks[0].WorkflowID != "wf-1" {
				t.Fatalf("unexpected task: %+v", tasks[0])
			}
		})
	}
}

func TestStore_ClaimLeasesAndCompleteRemoves(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			if err := store.ScheduleOnce(ctx, Task{Key: "k1", Kind: "run", WorkflowID: "wf-1", DueAt: time.Now()}); err != nil {
				t.Fatalf("ScheduleOnce failed: %v", err)
			}

			now := time.Now()
			tasks, err := store.ClaimDue(ctx, now, time.Minute, 10)
			if err != nil {
				t.Fatalf("ClaimDue failed: %v", err)
			}
			if len(tasks) != 1 {
				t.Fatalf("expected 1 task, got %d", len(tasks))
			}

			// Within the lease the task must not be redelivered.
			tasks, err = store.ClaimDue(ctx, now.Add(time.Second), time.Minute, 10)
			if err != nil {
				t.Fatalf("ClaimDue failed: %v", err)
			}
			if len(tasks) != 0 {
				t.Fatalf("expected no redelivery within lease, got %d", len(tasks))
			}

			// After the lease expires the task comes back.
			tasks, err = store.ClaimDue(ctx, now.Add(2*time.Minute), time.Minute, 10)
			if err != nil {
				t.Fatalf("ClaimDue failed: %v", err)
			}
			if len(tasks) != 1 {
				t.Fatalf("expected redelivery after lease, got %d", len(tasks))
			}

			if err := store.Complete(ctx, "k1"); err != nil {
				t.Fatalf("Complete failed: %v", err)
			}
			tasks, err = store.ClaimDue(ctx, now.Add(time.Hour), time.Minute, 10)
			if err != nil {
				t.Fatalf("ClaimDue failed: %v", err)
			}
			if len(tasks) != 0 {
				t.Fatalf("expected no tasks after Complete, got %d", len(tasks))
			}

			// The key is free again after completion.
			if err := store.ScheduleOnce(ctx, Task{Key: "k1", Kind: "run", WorkflowID: "wf-1", DueAt: time.Now()}); err != nil {
				t.Fatalf("re-schedule after Complete failed: %v", err)
			}
		})
	}
}

func TestStore_NotDueNotClaimed(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			if err := store.ScheduleOnce(ctx, Task{Key: "later", Kind: "run", WorkflowID: "wf-1", DueAt: time.Now().Add(time.Hour)}); err != nil {
				t.Fatalf("ScheduleOnce failed: %v", err)
			}

			tasks, err := store.ClaimDue(ctx, time.Now(), time.Minute, 10)
			if err != nil {
				t.Fatalf("ClaimDue failed: %v", err)
			}
			if len(tasks) != 0 {
				t.Fatalf("expected no due tasks, got %d", len(tasks))
			}
		})
	}
}

func TestStore_Cancel(t *testing.T) {
	for name, mk := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := mk(t)

			if err := store.ScheduleOnce(ctx, Task{Key: "k1", Kind: "run", WorkflowID: "wf-1", DueAt: time.Now()}); err != nil {
				t.Fatalf("ScheduleOnce failed: %v", err)
			}
			if err := store.Cancel(ctx, "k1"); err != nil {
				t.Fatalf("Cancel failed: %v", err)
			}
			if err := store.Cancel(ctx, "missing"); err != nil {
				t.Fatalf("Cancel of absent key failed: %v", err)
			}

			tasks, err := store.ClaimDue(ctx, time.Now(), time.Minute, 10)
			if err != nil {
				t.Fatalf("ClaimDue failed: %v", err)
			}
			if len(tasks) != 0 {
				t.Fatalf("expected no tasks after Cancel, got %d", len(tasks))
			}
		})
	}
}

func TestScheduler_DispatchesDueTask(t *testing.T) {
	store := NewMemoryStore()
	sched := New(store, WithInterval(10*time.Millisecond))

	var handled atomic.Int32
	sched.RegisterHandler("run", func(ctx context.Context, task Task) error {
		if task.WorkflowID != "wf-1" {
			t.Errorf("unexpected workflow id %q", task.WorkflowID)
		}
		handled.Add(1)
		return nil
	})

	sched.Start(context.Background())
	defer sched.Stop()

	err := sched.Schedule(context.Background(), Task{Key: "k1", Kind: "run", WorkflowID: "wf-1", DueAt: time.Now()})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for handled.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("task was not dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Successful handling completes the task; no more deliveries.
	time.Sleep(50 * time.Millisecond)
	if got := handled.Load(); got != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", got)
	}
}

func TestScheduler_RedeliversAfterHandlerError(t *testing.T) {
	store := NewMemoryStore()
	sched := New(store,
		WithInterval(10*time.Millisecond),
		WithLease(30*time.Millisecond),
	)

	var calls atomic.Int32
	sched.RegisterHandler("run", func(ctx context.Context, task Task) error {
		if calls.Add(1) == 1 {
			return context.DeadlineExceeded
		}
		return nil
	})

	sched.Start(context.Background())
	defer sched.Stop()

	err := sched.Schedule(context.Background(), Task{Key: "k1", Kind: "run", WorkflowID: "wf-1", DueAt: time.Now()})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("task was not redelivered after handler error, calls=%d", calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
