package persist

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"location-hub/internal/general/logger"
)

func TestDispatcherRunsQueuedJobs(t *testing.T) {
	d := NewDispatcher(2, 16, logger.New("test"))

	var ran atomic.Int64
	for range 10 {
		d.Enqueue("count", func(context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	// Close drains the queue before returning
	d.Close()

	if got := ran.Load(); got != 10 {
		t.Errorf("ran = %d, want 10", got)
	}
}

func TestDispatcherNeverBlocksCaller(t *testing.T) {
	d := NewDispatcher(1, 1, logger.New("test"))

	release := make(chan struct{})
	var ran atomic.Int64

	// occupy the single worker
	d.Enqueue("blocker", func(context.Context) error {
		<-release
		ran.Add(1)
		return nil
	})
	// give the worker time to pick the blocker up, emptying the queue slot
	time.Sleep(50 * time.Millisecond)

	// fills the one queue slot
	d.Enqueue("queued", func(context.Context) error {
		ran.Add(1)
		return nil
	})

	// queue full: must drop without blocking
	done := make(chan struct{})
	go func() {
		d.Enqueue("dropped", func(context.Context) error {
			ran.Add(1)
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	close(release)
	d.Close()

	if got := ran.Load(); got != 2 {
		t.Errorf("ran = %d, want 2 (third job dropped)", got)
	}
}

func TestDispatcherJobFailureIsContained(t *testing.T) {
	d := NewDispatcher(1, 4, logger.New("test"))

	var after atomic.Bool
	d.Enqueue("failing", func(context.Context) error {
		return context.DeadlineExceeded
	})
	d.Enqueue("next", func(context.Context) error {
		after.Store(true)
		return nil
	})
	d.Close()

	if !after.Load() {
		t.Error("job after a failing one never ran")
	}
}

func TestDispatcherCloseIdempotent(t *testing.T) {
	d := NewDispatcher(1, 4, logger.New("test"))
	d.Close()
	d.Close() // must not panic on the already-closed channel
}

func TestDispatcherEnqueueAfterClose(t *testing.T) {
	d := NewDispatcher(1, 1, logger.New("test"))
	d.Close()

	// a read loop can outlive the deferred Close during shutdown; the late
	// write must become a drop, not a panic
	var ran atomic.Bool
	d.Enqueue("late", func(context.Context) error {
		ran.Store(true)
		return nil
	})

	if ran.Load() {
		t.Error("job ran after the dispatcher was closed")
	}
}

func TestDispatcherJobContextHasDeadline(t *testing.T) {
	d := NewDispatcher(1, 4, logger.New("test"))

	got := make(chan bool, 1)
	d.Enqueue("deadline", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		got <- ok
		return nil
	})
	d.Close()

	if !<-got {
		t.Error("job context carries no deadline")
	}
}
