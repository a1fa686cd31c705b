package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func drain(p *Pool) {
	p.StopAccepting()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Drain(ctx)
}

func TestSubmitAndDrain(t *testing.T) {
	p := New(2, 10)
	var count atomic.Int32

	for i := 0; i < 5; i++ {
		ok := p.Submit(func() {
			count.Add(1)
		})
		if !ok {
			t.Fatalf("Submit %d failed", i)
		}
	}

	drain(p)

	if got := count.Load(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}
}

func TestSubmitAfterStopAcceptingReturnsFalse(t *testing.T) {
	p := New(1, 1)
	drain(p)

	if p.Submit(func() {}) {
		t.Fatal("Submit after StopAccepting/Drain should return false")
	}
}

func TestQueueFullReturnsFalse(t *testing.T) {
	p := New(1, 1)
	// Block the worker
	blocker := make(chan struct{})
	p.Submit(func() { <-blocker })

	// Fill the queue
	time.Sleep(10 * time.Millisecond) // let worker pick up first task
	p.Submit(func() {})               // fills the queue (size 1)

	// This should fail — queue full
	if p.Submit(func() {}) {
		t.Fatal("Submit should return false when queue is full")
	}

	close(blocker)
	drain(p)
}

func TestDrainWithoutStopAcceptingStillCompletes(t *testing.T) {
	p := New(1, 10)
	var ran atomic.Bool
	p.Submit(func() { ran.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Call Drain directly without StopAccepting first.
	p.Drain(ctx)

	if !ran.Load() {
		t.Fatal("task submitted before Drain should have run")
	}
}

func TestDrainRespectsContextDeadline(t *testing.T) {
	p := New(1, 10)
	blocker := make(chan struct{})
	p.Submit(func() { <-blocker })

	p.StopAccepting()
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	p.Drain(ctx)
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Fatalf("Drain should have timed out in ~100ms, took %v", elapsed)
	}

	close(blocker) // cleanup
}

func TestSingleWorkerDrainDoesNotDeadlock(t *testing.T) {
	p := New(1, 10)
	var count atomic.Int32

	for i := 0; i < 5; i++ {
		p.Submit(func() {
			time.Sleep(1 * time.Millisecond)
			count.Add(1)
		})
	}

	drain(p)

	if got := count.Load(); got != 5 {
		t.Fatalf("single-worker drain: count = %d, want 5", got)
	}
}

func TestPanicRecovery(t *testing.T) {
	p := New(1, 10)
	var count atomic.Int32

	// Submit a panicking task
	p.Submit(func() {
		panic("test panic")
	})
	// Submit a normal task after
	p.Submit(func() {
		count.Add(1)
	})

	drain(p)

	if got := count.Load(); got != 1 {
		t.Fatalf("task after panic: count = %d, want 1", got)
	}
}

func TestSubmitSyncRunsOnPoolAndReturnsResult(t *testing.T) {
	p := New(2, 10)
	defer drain(p)

	val, err := SubmitSync(p, func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Fatalf("val = %d, want 42", val)
	}
}

func TestSubmitSyncPropagatesError(t *testing.T) {
	p := New(1, 10)
	defer drain(p)

	wantErr := errors.New("boom")
	_, err := SubmitSync(p, func() (int, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestSubmitSyncWithNilPoolRunsInline(t *testing.T) {
	val, err := SubmitSync[int](nil, func() (int, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 7 {
		t.Fatalf("val = %d, want 7", val)
	}
}

func TestSubmitSyncFallsBackInlineWhenQueueFull(t *testing.T) {
	p := New(1, 1)
	blocker := make(chan struct{})
	p.Submit(func() { <-blocker })
	time.Sleep(10 * time.Millisecond)
	p.Submit(func() {}) // fills the queue (size 1)

	var ranInline atomic.Bool
	val, err := SubmitSync(p, func() (int, error) {
		ranInline.Store(true)
		return 1, nil
	})
	close(blocker)
	drain(p)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 1 || !ranInline.Load() {
		t.Fatal("SubmitSync should have run inline when the pool queue was full")
	}
}
