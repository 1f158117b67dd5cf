// Package inprocess schedules enrichment jobs on a bounded pool of goroutines
// inside the current process. It is used when no broker is configured.
package inprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

var errQueueFull = errors.New("in-process job queue is full")

type Queue struct {
	workers int
	jobs    chan string
	logger  *slog.Logger

	mu         sync.Mutex
	subscribed bool
	// buffered holds ids sitting in jobs, so a republish is a no-op.
	buffered   map[string]struct{}
}

// New creates a queue served by workers goroutines once SubscribeJobQueued is
// called. Published ids are buffered up to buffer entries.
func New(workers, buffer int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = workers * 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		workers:  workers,
		jobs:     make(chan string, buffer),
		logger:   logger,
		buffered: make(map[string]struct{}),
	}
}

// PublishJobQueued never blocks. An id that is already buffered is not added
// twice. A full buffer is reported as temporary; the job stays Queued in the
// store and is picked up by ResumePending.
func (q *Queue) PublishJobQueued(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.buffered[jobID]; ok {
		return nil
	}
	select {
	case q.jobs <- jobID:
		q.buffered[jobID] = struct{}{}
		return nil
	default:
		return domain.WrapError(domain.ErrTemporary, "publish job", fmt.Errorf("%w: job_id=%s", errQueueFull, jobID))
	}
}

// SubscribeJobQueued starts the workers and blocks until ctx is done and
// every in-flight handler has returned.
func (q *Queue) SubscribeJobQueued(ctx context.Context, handler func(context.Context, string) error) error {
	q.mu.Lock()
	if q.subscribed {
		q.mu.Unlock()
		return fmt.Errorf("in-process queue already has a subscriber")
	}
	q.subscribed = true
	q.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.worker(ctx, id, handler)
		}(i)
	}
	wg.Wait()
	return nil
}

// Pending is the number of published ids not yet taken by a worker.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

func (q *Queue) worker(ctx context.Context, id int, handler func(context.Context, string) error) {
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("worker_stopped", slog.Int("worker_id", id))
			return
		case jobID := <-q.jobs:
			q.mu.Lock()
			delete(q.buffered, jobID)
			q.mu.Unlock()
			q.handle(ctx, id, jobID, handler)
		}
	}
}

func (q *Queue) handle(ctx context.Context, workerID int, jobID string, handler func(context.Context, string) error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job_handler_panic",
				slog.Int("worker_id", workerID),
				slog.String("job_id", jobID),
				slog.Any("panic", r),
			)
		}
	}()

	if err := handler(ctx, jobID); err != nil {
		q.logger.Error("job_handler_failed",
			slog.Int("worker_id", workerID),
			slog.String("job_id", jobID),
			slog.Duration("latency", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}
	q.logger.Debug("job_handled",
		slog.Int("worker_id", workerID),
		slog.String("job_id", jobID),
		slog.Duration("latency", time.Since(start)),
	)
}
