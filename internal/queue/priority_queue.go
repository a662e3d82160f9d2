// Package queue implements the three-class strict-priority job queue:
// a Redis list FIFO per class, with plan-routing logic deciding which
// class a job's descriptor lands in.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"frameworks/pkg/models"
)

// Descriptor is the enqueued unit of work. The pipeline driver looks
// the full Job up from the Job Repository by ID; the descriptor only
// carries what the queue and scheduler need to route and account for it.
type Descriptor struct {
	JobID    string    `json:"job_id"`
	TenantID string    `json:"tenant_id"`
	Plan     models.Plan `json:"plan"`
	QueuedAt time.Time `json:"queued_at"`
}

func keyFor(class models.Class) string {
	return "queue:" + string(class)
}

// Queue is the Redis-backed priority queue. Each class is a separate
// Redis list; dequeue tries priority, then paid, then free, each via a
// single atomic RPOP so no two competing workers can ever receive the
// same descriptor.
type Queue struct {
	client goredis.UniversalClient
}

// New creates a Queue.
func New(client goredis.UniversalClient) *Queue {
	return &Queue{client: client}
}

// Enqueue routes a descriptor to its class's queue based on plan:
// {enterprise, premium} -> priority, {pro, starter} -> paid, else free.
func (q *Queue) Enqueue(ctx context.Context, desc Descriptor) error {
	if desc.QueuedAt.IsZero() {
		desc.QueuedAt = time.Now().UTC()
	}
	class := models.ClassOf(desc.Plan)
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("queue: marshal descriptor: %w", err)
	}
	if err := q.client.LPush(ctx, keyFor(class), payload).Err(); err != nil {
		return fmt.Errorf("queue: lpush: %w", err)
	}
	return nil
}

// Dequeue returns the oldest entry in the highest-priority non-empty
// queue, or (nil, nil) if every queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Descriptor, error) {
	for _, class := range models.Classes {
		payload, err := q.client.RPop(ctx, keyFor(class)).Bytes()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("queue: rpop %s: %w", class, err)
		}
		var desc Descriptor
		if err := json.Unmarshal(payload, &desc); err != nil {
			return nil, fmt.Errorf("queue: unmarshal descriptor: %w", err)
		}
		return &desc, nil
	}
	return nil, nil
}

// RequeueFront returns a descriptor to the head of its class queue,
// used by the Scheduler when no concurrency permit is free for the
// dequeued job's class.
func (q *Queue) RequeueFront(ctx context.Context, desc Descriptor) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("queue: marshal descriptor: %w", err)
	}
	class := models.ClassOf(desc.Plan)
	if err := q.client.RPush(ctx, keyFor(class), payload).Err(); err != nil {
		return fmt.Errorf("queue: rpush requeue: %w", err)
	}
	return nil
}

// Lengths returns the current size of every class queue.
func (q *Queue) Lengths(ctx context.Context) (map[models.Class]int64, error) {
	out := make(map[models.Class]int64, len(models.Classes))
	for _, class := range models.Classes {
		n, err := q.client.LLen(ctx, keyFor(class)).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: llen %s: %w", class, err)
		}
		out[class] = n
	}
	return out, nil
}

// PositionOf walks the queues in priority order and returns a 1-based
// position across all queues at or above the job's own class, or 0 if
// the job is not found queued.
func (q *Queue) PositionOf(ctx context.Context, jobID string) (int, error) {
	position := 0
	for _, class := range models.Classes {
		entries, err := q.client.LRange(ctx, keyFor(class), 0, -1).Result()
		if err != nil {
			return 0, fmt.Errorf("queue: lrange %s: %w", class, err)
		}
		// Redis LPUSH+RPOP means index 0 is the newest and the last
		// index is the next to be popped; walk from the tail.
		for i := len(entries) - 1; i >= 0; i-- {
			position++
			var desc Descriptor
			if err := json.Unmarshal([]byte(entries[i]), &desc); err != nil {
				continue
			}
			if desc.JobID == jobID {
				return position, nil
			}
		}
	}
	return 0, nil
}

// Cancel removes a job's descriptor from whichever class queue holds
// it. Returns whether a removal occurred.
func (q *Queue) Cancel(ctx context.Context, jobID string) (bool, error) {
	for _, class := range models.Classes {
		key := keyFor(class)
		entries, err := q.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return false, fmt.Errorf("queue: lrange %s: %w", class, err)
		}
		for _, raw := range entries {
			var desc Descriptor
			if err := json.Unmarshal([]byte(raw), &desc); err != nil {
				continue
			}
			if desc.JobID == jobID {
				if err := q.client.LRem(ctx, key, 1, raw).Err(); err != nil {
					return false, fmt.Errorf("queue: lrem: %w", err)
				}
				return true, nil
			}
		}
	}
	return false, nil
}
