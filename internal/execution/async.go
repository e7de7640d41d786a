package execution

import "github.com/petrijr/sisu/pkg/api"

// future is the join handle returned by Async.
type future struct {
	done chan struct{}
	val  any
	err  error
}

var _ api.Future = (*future)(nil)

func (f *future) Get() (any, error) {
	<-f.done
	return f.val, f.err
}

// Async runs fn on its own goroutine for in-attempt fan-out. The workflow
// context is shared, so wrapper calls inside fn consume correlation numbers
// from the same tracker; the workflow body must join every future before
// returning to keep that order deterministic.
//
// Fan-out must not go through the worker pool: the replay attempt itself
// occupies a pool worker while it blocks in Get, so queueing the async job
// behind it would deadlock. The goroutine count is bounded by the attempt
// joining every future it creates.
func (c *workflowContext) Async(fn func() (any, error)) api.Future {
	f := &future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = fn()
	}()
	return f
}
