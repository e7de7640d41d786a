package worker

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestPool_RunsSubmittedJobs(t *testing.T) {
	p := NewPool(4)

	var done atomic.Int32
	var wg sync.WaitGroup
	submitted := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		ok := p.Submit(func() {
			defer wg.Done()
			done.Add(1)
		})
		if !ok {
			wg.Done()
			continue
		}
		submitted++
	}
	wg.Wait()
	p.Close()

	if int(done.Load()) != submitted {
		t.Fatalf("ran %d jobs, submitted %d", done.Load(), submitted)
	}
	if submitted == 0 {
		t.Fatalf("no jobs were accepted")
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool(1)
	p.Close()

	if p.Submit(func() {}) {
		t.Fatalf("Submit must report false after Close")
	}
}

func TestPool_CloseWaitsForQueuedJobs(t *testing.T) {
	p := NewPool(2)

	var done atomic.Int32
	for i := 0; i < 8; i++ {
		p.Submit(func() { done.Add(1) })
	}
	p.Close()

	if got := done.Load(); got != 8 {
		t.Fatalf("Close returned before all jobs finished: %d of 8", got)
	}
}

func TestPool_SizeFloor(t *testing.T) {
	p := NewPool(0)
	defer p.Close()

	ran := make(chan struct{})
	if !p.Submit(func() { close(ran) }) {
		t.Fatalf("Submit failed on fresh pool")
	}
	<-ran
}
