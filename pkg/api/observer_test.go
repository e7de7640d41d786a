package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// testObserver records calls to verify fan-out behavior.
type testObserver struct {
	mu sync.Mutex

	scheduled  int
	started    int
	finished   int
	opStarts   int
	opFinishes int

	lastOutcome Outcome
	lastOpErr   error
}

func (o *testObserver) OnWorkflowScheduled(ctx context.Context, workflowID, typeName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scheduled++
}

func (o *testObserver) OnAttemptStarted(ctx context.Context, workflowID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *testObserver) OnAttemptFinished(ctx context.Context, workflowID string, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
	o.lastOutcome = outcome
}

func (o *testObserver) OnOperationStarted(ctx context.Context, workflowID string, category Category, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opStarts++
}

func (o *testObserver) OnOperationCompleted(ctx context.Context, workflowID string, category Category, name string, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opFinishes++
	o.lastOpErr = err
}

func TestCompositeObserver_FansOut(t *testing.T) {
	ctx := context.Background()
	a := &testObserver{}
	b := &testObserver{}

	obs := NewCompositeObserver(a, nil, b)

	obs.OnWorkflowScheduled(ctx, "wf-1", "order")
	obs.OnAttemptStarted(ctx, "wf-1")
	obs.OnAttemptFinished(ctx, "wf-1", Outcome{State: OutcomeParked, Reason: "sleeping"})
	obs.OnOperationStarted(ctx, "wf-1", CategoryActivity, "charge")
	obs.OnOperationCompleted(ctx, "wf-1", CategoryActivity, "charge", errors.New("boom"), time.Millisecond)

	for _, o := range []*testObserver{a, b} {
		if o.scheduled != 1 || o.started != 1 || o.finished != 1 {
			t.Fatalf("lifecycle calls not fanned out: %+v", o)
		}
		if o.opStarts != 1 || o.opFinishes != 1 {
			t.Fatalf("operation calls not fanned out: %+v", o)
		}
		if o.lastOutcome.State != OutcomeParked {
			t.Fatalf("outcome not delivered: %+v", o.lastOutcome)
		}
		if o.lastOpErr == nil {
			t.Fatalf("operation error not delivered")
		}
	}
}

func TestNewCompositeObserver_Degenerate(t *testing.T) {
	if _, ok := NewCompositeObserver().(NoopObserver); !ok {
		t.Fatalf("empty composite must collapse to NoopObserver")
	}
	if _, ok := NewCompositeObserver(nil, nil).(NoopObserver); !ok {
		t.Fatalf("all-nil composite must collapse to NoopObserver")
	}

	single := &testObserver{}
	if got := NewCompositeObserver(single, nil); got != Observer(single) {
		t.Fatalf("single observer must be returned unwrapped")
	}
}
