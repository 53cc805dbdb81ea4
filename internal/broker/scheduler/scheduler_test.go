package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSchedulerRunsTaskRepeatedlyUntilStopped(t *testing.T) {
	var count int64
	task := Task{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		},
	}

	s, err := New(zap.NewNop(), []Task{task}, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&count) < 3 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for at least 3 ticks")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	s.Stop()
	seen := atomic.LoadInt64(&count)
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt64(&count) != seen {
		t.Fatal("task kept running after Stop")
	}
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	var count int64
	task := Task{
		Name:     "tick",
		Interval: time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		},
	}
	s, err := New(zap.NewNop(), []Task{task}, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())
	s.Start(context.Background()) // must not double-launch the task goroutine
	time.Sleep(20 * time.Millisecond)
	s.Stop()
}

func TestSchedulerTaskErrorDoesNotStopOtherTasks(t *testing.T) {
	var failingRuns, okRuns int64
	failing := Task{
		Name:     "failing",
		Interval: 2 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt64(&failingRuns, 1)
			return context.DeadlineExceeded
		},
	}
	ok := Task{
		Name:     "ok",
		Interval: 2 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt64(&okRuns, 1)
			return nil
		},
	}

	s, err := New(zap.NewNop(), []Task{failing, ok}, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&okRuns) < 3 || atomic.LoadInt64(&failingRuns) < 3 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for both tasks to tick")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	s.Stop()
}
