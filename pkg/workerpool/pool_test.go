package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPoolProcessesTasks(t *testing.T) {
	var processed int64

	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.QueueSize = 100

	pool, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		atomic.AddInt64(&processed, 1)
		return &Result{TaskID: task.ID, Success: true}
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	pool.Start()

	for i := 0; i < 20; i++ {
		if err := pool.Submit(&Task{ID: fmt.Sprintf("task-%d", i)}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&processed) < 20 {
		select {
		case <-deadline:
			t.Fatalf("processed %d of 20 tasks", atomic.LoadInt64(&processed))
		case <-time.After(5 * time.Millisecond):
		}
	}

	pool.Stop()

	stats := pool.Stats()
	if stats.TasksCompleted != 20 {
		t.Errorf("completed = %d, want 20", stats.TasksCompleted)
	}
}

func TestPoolRetriesThenFails(t *testing.T) {
	var attempts int64

	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond

	pool, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		atomic.AddInt64(&attempts, 1)
		return &Result{TaskID: task.ID, Success: false, Error: errors.New("delivery refused")}
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	pool.Start()
	if err := pool.Submit(&Task{ID: "doomed"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case result := <-pool.Results():
		if result.Success {
			t.Error("expected failure result")
		}
		if result.Error == nil {
			t.Error("expected wrapped error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
	}

	// 1 initial attempt + 2 retries
	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}

	pool.Stop()
}

func TestSubmitAfterStop(t *testing.T) {
	pool, err := New(DefaultConfig(), func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Success: true}
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	pool.Start()
	pool.Stop()

	if err := pool.Submit(&Task{ID: "late"}); err == nil {
		t.Error("submit after stop should fail")
	}
}

func TestNilWorkerFunc(t *testing.T) {
	if _, err := New(DefaultConfig(), nil, zap.NewNop()); err == nil {
		t.Error("nil worker func should be rejected")
	}
}
