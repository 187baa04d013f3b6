package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBasicTaskExecution(t *testing.T) {
	p := New(nil, 4, NodeSelector{All: true})
	defer p.Shutdown()

	var n int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Enqueue(Task{
			Run: func() { atomic.AddInt64(&n, 1) },
			OnFinish: func() {
				wg.Done()
			},
		})
	}
	wg.Wait()
	if got := atomic.LoadInt64(&n); got != 100 {
		t.Fatalf("executed %d tasks, want 100", got)
	}
}

func TestResizeDown(t *testing.T) {
	p := New(nil, 4, NodeSelector{All: true})
	defer p.Shutdown()
	p.SetWorkers(1)
	// give the sentinel time to be consumed.
	deadline := time.Now().Add(2 * time.Second)
	for p.ActiveWorkers() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.ActiveWorkers() != 1 {
		t.Fatalf("ActiveWorkers = %d, want 1", p.ActiveWorkers())
	}
}

func TestResizeToZeroForwardsQueuedWork(t *testing.T) {
	p := New(nil, 1, NodeSelector{All: true})
	defer p.Shutdown()

	var forwarded int64
	p.OnForward = func(Task) { atomic.AddInt64(&forwarded, 1) }

	// occupy the single worker with a blocking task so the next 5
	// enqueued tasks are guaranteed to still be sitting in the queue
	// (not yet dequeued) when we call SetWorkers(0).
	release := make(chan struct{})
	started := make(chan struct{})
	p.Enqueue(Task{Run: func() {
		close(started)
		<-release
	}})
	<-started

	for i := 0; i < 5; i++ {
		p.Enqueue(Task{Run: func() {}})
	}
	if p.QueueLen() != 5 {
		t.Fatalf("QueueLen = %d, want 5 (blocking task already dequeued)", p.QueueLen())
	}

	p.SetWorkers(0)
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&forwarded) < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt64(&forwarded); got != 5 {
		t.Fatalf("forwarded = %d, want 5", got)
	}
}

func TestQueueLenNeverErrorsOnSaturation(t *testing.T) {
	p := New(nil, 0, NodeSelector{All: true})
	defer p.Shutdown()
	for i := 0; i < 10_000; i++ {
		p.Enqueue(Task{Run: func() {}})
	}
	if p.QueueLen() != 10_000 {
		t.Fatalf("QueueLen = %d, want 10000", p.QueueLen())
	}
}
