package bootstrap

import (
	"context"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

// JobObserver is told about every job run; *metrics.WorkerMetrics implements it.
type JobObserver interface {
	StartJob()
	FinishJob(duration time.Duration, err error)
	ObserveQueueLag(lag time.Duration)
	AddResumed(n int)
}

type noopJobObserver struct{}

func (noopJobObserver) StartJob() {}
func (noopJobObserver) FinishJob(time.Duration, error) {}
func (noopJobObserver) ObserveQueueLag(time.Duration) {}
func (noopJobObserver) AddResumed(int) {}

const firstResumeDelay = time.Second

// ServeJobs consumes queued job ids until ctx is done. Jobs left Queued or
// Retrying, e.g. after a failed publish or a crash, are re-published shortly
// after start and then every WorkerResumeInterval.
func (a *App) ServeJobs(ctx context.Context, observer JobObserver) error {
	if observer == nil {
		observer = noopJobObserver{}
	}

	subscribeErr := make(chan error, 1)
	go func() {
		subscribeErr <- a.Queue.SubscribeJobQueued(ctx, a.jobHandler(observer))
	}()

	interval := a.Config.WorkerResumeInterval
	if interval <= 0 {
		interval = time.Minute
	}
	first := time.NewTimer(firstResumeDelay)
	defer first.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-subscribeErr:
			return err
		case <-first.C:
			a.resume(ctx, observer)
		case <-ticker.C:
			a.resume(ctx, observer)
		}
	}
}

func (a *App) resume(ctx context.Context, observer JobObserver) {
	n, err := a.Orchestrator.ResumePending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.Logger.Error("resume_pending_failed", "error", err)
		}
		return
	}
	observer.AddResumed(n)
}

func (a *App) jobHandler(observer JobObserver) func(context.Context, string) error {
	return func(ctx context.Context, jobID string) error {
		if job, err := a.Orchestrator.GetJob(ctx, jobID); err == nil && job.Status == domain.JobStatusQueued {
			observer.ObserveQueueLag(time.Since(job.CreatedAt))
		}

		observer.StartJob()
		start := time.Now()
		err := a.Orchestrator.Run(ctx, jobID)
		observer.FinishJob(time.Since(start), err)
		return err
	}
}
