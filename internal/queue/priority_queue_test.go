package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"frameworks/pkg/models"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func TestDequeue_StrictPriorityOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, Descriptor{JobID: "free-1", Plan: models.PlanFree}); err != nil {
		t.Fatalf("enqueue free: %v", err)
	}
	if err := q.Enqueue(ctx, Descriptor{JobID: "paid-1", Plan: models.PlanPro}); err != nil {
		t.Fatalf("enqueue paid: %v", err)
	}
	if err := q.Enqueue(ctx, Descriptor{JobID: "priority-1", Plan: models.PlanEnterprise}); err != nil {
		t.Fatalf("enqueue priority: %v", err)
	}

	want := []string{"priority-1", "paid-1", "free-1"}
	for _, jobID := range want {
		desc, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if desc == nil || desc.JobID != jobID {
			t.Fatalf("expected %s, got %+v", jobID, desc)
		}
	}

	desc, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue empty: %v", err)
	}
	if desc != nil {
		t.Fatalf("expected nil on empty queues, got %+v", desc)
	}
}

func TestDequeue_FIFOWithinClass(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, Descriptor{JobID: "a", Plan: models.PlanFree}); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if err := q.Enqueue(ctx, Descriptor{JobID: "b", Plan: models.PlanFree}); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}

	first, err := q.Dequeue(ctx)
	if err != nil || first == nil || first.JobID != "a" {
		t.Fatalf("expected a first, got %+v err=%v", first, err)
	}
	second, err := q.Dequeue(ctx)
	if err != nil || second == nil || second.JobID != "b" {
		t.Fatalf("expected b second, got %+v err=%v", second, err)
	}
}

func TestPositionOf(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_ = q.Enqueue(ctx, Descriptor{JobID: "priority-1", Plan: models.PlanEnterprise})
	_ = q.Enqueue(ctx, Descriptor{JobID: "paid-1", Plan: models.PlanPro})
	_ = q.Enqueue(ctx, Descriptor{JobID: "paid-2", Plan: models.PlanPro})

	pos, err := q.PositionOf(ctx, "paid-2")
	if err != nil {
		t.Fatalf("PositionOf: %v", err)
	}
	if pos != 3 {
		t.Fatalf("expected position 3, got %d", pos)
	}

	missing, err := q.PositionOf(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("PositionOf missing: %v", err)
	}
	if missing != 0 {
		t.Fatalf("expected position 0 for missing job, got %d", missing)
	}
}

func TestCancel(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_ = q.Enqueue(ctx, Descriptor{JobID: "free-1", Plan: models.PlanFree})
	_ = q.Enqueue(ctx, Descriptor{JobID: "free-2", Plan: models.PlanFree})

	removed, err := q.Cancel(ctx, "free-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !removed {
		t.Fatalf("expected cancel to report removal")
	}

	removedAgain, err := q.Cancel(ctx, "free-1")
	if err != nil {
		t.Fatalf("Cancel second call: %v", err)
	}
	if removedAgain {
		t.Fatalf("expected second cancel of same job to be a no-op")
	}

	desc, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if desc == nil || desc.JobID != "free-2" {
		t.Fatalf("expected free-2 to remain, got %+v", desc)
	}
}

func TestLengths(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_ = q.Enqueue(ctx, Descriptor{JobID: "p1", Plan: models.PlanEnterprise})
	_ = q.Enqueue(ctx, Descriptor{JobID: "f1", Plan: models.PlanFree})
	_ = q.Enqueue(ctx, Descriptor{JobID: "f2", Plan: models.PlanFree})

	lengths, err := q.Lengths(ctx)
	if err != nil {
		t.Fatalf("Lengths: %v", err)
	}
	if lengths[models.ClassPriority] != 1 {
		t.Fatalf("expected 1 priority entry, got %d", lengths[models.ClassPriority])
	}
	if lengths[models.ClassFree] != 2 {
		t.Fatalf("expected 2 free entries, got %d", lengths[models.ClassFree])
	}
}
