package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"frameworks/internal/queue"
	"frameworks/pkg/logging"
	"frameworks/pkg/models"
)

type fakeRunner struct {
	mu  sync.Mutex
	ran []string
	gate chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, jobID string) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.ran = append(f.ran, jobID)
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ran)
}

func newTestDeps(t *testing.T) (*queue.Queue, goredis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.New(client), client
}

func TestScheduler_RunsQueuedJobs(t *testing.T) {
	q, client := newTestDeps(t)
	runner := &fakeRunner{}
	logger := logging.NewLoggerWithService("scheduler-test")

	s := New(q, runner, client, ClassCaps{models.ClassPriority: 2, models.ClassPaid: 2, models.ClassFree: 2}, 2, logger)
	s.pollPeriod = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(context.Background(), queue.Descriptor{JobID: "job-1", Plan: models.PlanFree}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runner.count() < 1 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for job to run")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestScheduler_RequeuesWhenClassSaturated(t *testing.T) {
	q, client := newTestDeps(t)
	gate := make(chan struct{})
	runner := &fakeRunner{gate: gate}
	logger := logging.NewLoggerWithService("scheduler-test")

	// Single free-class permit, two free jobs: the second must be
	// requeued until the first finishes.
	s := New(q, runner, client, ClassCaps{models.ClassPriority: 1, models.ClassPaid: 1, models.ClassFree: 1}, 2, logger)
	s.pollPeriod = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(context.Background(), queue.Descriptor{JobID: "a", Plan: models.PlanFree}); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if err := q.Enqueue(context.Background(), queue.Descriptor{JobID: "b", Plan: models.PlanFree}); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Let both workers spin for a bit: at most one should be running,
	// the other repeatedly requeued.
	time.Sleep(100 * time.Millisecond)
	if runner.count() != 0 {
		t.Fatalf("expected no completions yet (runner gated), got %d", runner.count())
	}

	close(gate)

	deadline := time.After(2 * time.Second)
	for runner.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for both jobs to complete, got %d", runner.count())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestScheduler_Cancel(t *testing.T) {
	q, client := newTestDeps(t)
	var cancelled int32
	runner := runnerFunc(func(ctx context.Context, jobID string) error {
		<-ctx.Done()
		atomic.AddInt32(&cancelled, 1)
		return ctx.Err()
	})
	logger := logging.NewLoggerWithService("scheduler-test")

	s := New(q, runner, client, DefaultClassCaps(), 1, logger)
	s.pollPeriod = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(context.Background(), queue.Descriptor{JobID: "job-x", Plan: models.PlanFree}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := s.Cancel(context.Background(), "job-x"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&cancelled) == 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for cancellation to propagate")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

type runnerFunc func(ctx context.Context, jobID string) error

func (f runnerFunc) Run(ctx context.Context, jobID string) error { return f(ctx, jobID) }
