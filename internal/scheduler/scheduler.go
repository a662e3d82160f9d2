// Package scheduler implements the worker pool: N workers pull from
// the Priority Queue, enforce per-class concurrency caps with
// buffered-channel semaphores, and fan out cancellation over a typed
// Redis pub/sub channel so any process holding a job's slot observes it.
package scheduler

import (
	"context"
	"sync"
	"time"

	"frameworks/pkg/logging"
	"frameworks/pkg/models"
	subredis "frameworks/pkg/redis"

	goredis "github.com/redis/go-redis/v9"

	"frameworks/internal/queue"
)

// CancelSignal is broadcast over the cancel pub/sub channel.
type CancelSignal struct {
	JobID string `json:"job_id"`
}

const cancelChannel = "subcaption:job-cancel"

// Runner executes one job end to end. Implemented by the Pipeline
// Driver; kept as a narrow interface here so the scheduler can be
// tested without a real pipeline.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// ClassCaps bounds how many workers may simultaneously hold a job of
// each class.
type ClassCaps map[models.Class]int

// DefaultClassCaps is a reasonable starting point; operators size this
// to their transcription/translation provider throughput.
func DefaultClassCaps() ClassCaps {
	return ClassCaps{
		models.ClassPriority: 8,
		models.ClassPaid:     4,
		models.ClassFree:     2,
	}
}

// Scheduler is the worker pool.
type Scheduler struct {
	queue   *queue.Queue
	runner  Runner
	caps    ClassCaps
	workers int
	logger  logging.Logger

	sem        map[models.Class]chan struct{}
	pubsub     *subredis.TypedPubSub[CancelSignal]
	cancelFns  map[string]context.CancelFunc
	cancelMu   sync.Mutex
	pollPeriod time.Duration
}

// New creates a Scheduler with workers goroutines and the given
// per-class concurrency caps.
func New(q *queue.Queue, runner Runner, client goredis.UniversalClient, caps ClassCaps, workers int, logger logging.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	sem := make(map[models.Class]chan struct{}, len(models.Classes))
	for _, class := range models.Classes {
		n := caps[class]
		if n <= 0 {
			n = 1
		}
		sem[class] = make(chan struct{}, n)
	}
	return &Scheduler{
		queue:      q,
		runner:     runner,
		caps:       caps,
		workers:    workers,
		logger:     logger,
		sem:        sem,
		pubsub:     subredis.NewTypedPubSub[CancelSignal](client),
		cancelFns:  make(map[string]context.CancelFunc),
		pollPeriod: 500 * time.Millisecond,
	}
}

// Run starts the worker pool and the cancellation subscriber, blocking
// until ctx is cancelled. Each inflight job's context is derived from
// ctx, so cancelling ctx also cancels the jobs still running; Run then
// waits for every worker to return.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.pubsub.Subscribe(ctx, cancelChannel, s.handleCancel); err != nil {
			s.logger.WithError(err).Error("cancel subscriber exited")
		}
	}()

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.workerLoop(ctx, id)
		}(i)
	}

	wg.Wait()
}

func (s *Scheduler) handleCancel(signal CancelSignal) {
	s.cancelMu.Lock()
	cancel, ok := s.cancelFns[signal.JobID]
	s.cancelMu.Unlock()
	if ok {
		cancel()
	}
}

// Cancel broadcasts a cancellation request for a job. Any worker
// process currently holding that job's slot will cancel its context.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	return s.pubsub.Publish(ctx, cancelChannel, CancelSignal{JobID: jobID})
}

func (s *Scheduler) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		desc, err := s.queue.Dequeue(ctx)
		if err != nil {
			s.logger.WithError(err).Error("dequeue failed")
			s.sleep(ctx)
			continue
		}
		if desc == nil {
			s.sleep(ctx)
			continue
		}

		class := models.ClassOf(desc.Plan)
		select {
		case s.sem[class] <- struct{}{}:
			s.runJob(ctx, *desc)
			<-s.sem[class]
		default:
			// No permit free for this class right now; return the
			// descriptor to the head of its queue rather than block
			// and starve other classes on this worker.
			if err := s.queue.RequeueFront(ctx, *desc); err != nil {
				s.logger.WithError(err).Error("requeue front failed")
			}
			s.sleep(ctx)
		}
	}
}

func (s *Scheduler) runJob(parent context.Context, desc queue.Descriptor) {
	jobCtx, cancel := context.WithCancel(parent)
	s.cancelMu.Lock()
	s.cancelFns[desc.JobID] = cancel
	s.cancelMu.Unlock()
	defer func() {
		s.cancelMu.Lock()
		delete(s.cancelFns, desc.JobID)
		s.cancelMu.Unlock()
		cancel()
	}()

	if err := s.runner.Run(jobCtx, desc.JobID); err != nil {
		s.logger.WithFields(logging.Fields{"job_id": desc.JobID}).WithError(err).Error("job run failed")
	}
}

func (s *Scheduler) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.pollPeriod):
	}
}
