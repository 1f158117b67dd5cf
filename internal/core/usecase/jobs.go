package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

func (o *JobOrchestrator) GetJob(ctx context.Context, jobID string) (*domain.ProcessingJob, error) {
	if err := requireID("get job", "job id", jobID); err != nil {
		return nil, err
	}
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetLatestJobForAsset returns domain.ErrJobNotFound when the asset has no
// jobs at all.
func (o *JobOrchestrator) GetLatestJobForAsset(ctx context.Context, assetID string) (*domain.ProcessingJob, error) {
	if err := requireID("get latest job", "asset id", assetID); err != nil {
		return nil, err
	}
	job, err := o.jobs.GetLatestForAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("get latest job: %w", err)
	}
	return job, nil
}

// RetryJob moves a Failed job to Retrying and reschedules it. A zero cfg keeps
// the job's previous policy.
func (o *JobOrchestrator) RetryJob(ctx context.Context, jobID string, cfg domain.RetryConfig) (*domain.RetryResult, error) {
	job, err := o.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusFailed {
		return nil, domain.WrapError(
			domain.ErrInvalidTransition,
			"retry job",
			fmt.Errorf("job %s is %s, only failed jobs can be retried", job.ID, job.Status),
		)
	}

	if cfg == (domain.RetryConfig{}) {
		cfg = o.retryConfigFor(job)
	} else {
		cfg = cfg.Normalize(o.opts.DefaultRetry)
	}
	if cfg.MaxAttempts > 0 && job.RetryCount >= cfg.MaxAttempts {
		return nil, domain.WrapError(
			domain.ErrRetryExhausted,
			"retry job",
			fmt.Errorf("job %s already retried %d of %d times", job.ID, job.RetryCount, cfg.MaxAttempts),
		)
	}

	retryCount := job.RetryCount + 1
	now := o.now()
	retried, err := o.jobs.Transition(ctx, domain.JobTransition{
		JobID:       job.ID,
		From:        []domain.JobStatus{domain.JobStatusFailed},
		To:          domain.JobStatusRetrying,
		RetryCount:  &retryCount,
		RetryConfig: &cfg,
		At:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("set job status=retrying: %w", err)
	}
	o.logTransition(retried, domain.JobStatusRetrying)

	if err := o.assets.UpdateStatus(ctx, retried.AssetID, domain.AssetStatusQueued, nil); err != nil {
		o.logger.Warn("asset_status_update_failed", "asset_id", retried.AssetID, "error", err)
	}
	o.audit.Record(ctx, domain.AuditEntry{
		AssetID: retried.AssetID,
		Action:  domain.ActionJobRetry,
		Status:  domain.AuditInitiated,
		Details: domain.Metadata{
			"job_id":      retried.ID,
			"retry_count": float64(retried.RetryCount),
			"backoff":     cfg.Backoff(retried.RetryCount).String(),
		},
	})

	o.publish(ctx, retried.ID)
	return &domain.RetryResult{JobID: retried.ID, RetryCount: retried.RetryCount, Status: retried.Status}, nil
}

// CancelJob stops a Queued or Processing job. Output of a pipeline that is
// still running for the job is discarded.
func (o *JobOrchestrator) CancelJob(ctx context.Context, jobID string) (*domain.ProcessingJob, error) {
	if err := requireID("cancel job", "job id", jobID); err != nil {
		return nil, err
	}
	now := o.now()
	cancelled, err := o.jobs.Transition(ctx, domain.JobTransition{
		JobID:       jobID,
		From:        domain.SourcesFor(domain.JobStatusCancelled),
		To:          domain.JobStatusCancelled,
		CompletedAt: &now,
		At:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	o.logTransition(cancelled, domain.JobStatusCancelled)

	if asset, err := o.assets.GetByID(ctx, cancelled.AssetID); err == nil {
		status := domain.AssetStatusFailed
		if asset.ProcessingCompletedAt != nil {
			status = domain.AssetStatusProcessed
		}
		if err := o.assets.UpdateStatus(ctx, asset.ID, status, asset.ProcessingCompletedAt); err != nil {
			o.logger.Warn("asset_status_update_failed", "asset_id", asset.ID, "error", err)
		}
	}
	o.audit.Record(ctx, domain.AuditEntry{
		AssetID: cancelled.AssetID,
		Action:  domain.ActionJobCancelled,
		Details: domain.Metadata{"job_id": cancelled.ID},
	})
	return cancelled, nil
}

// Reprocess queues a fresh job for an asset whose latest job is terminal.
// Earlier jobs are kept.
func (o *JobOrchestrator) Reprocess(ctx context.Context, assetID string) (*domain.ProcessingJob, error) {
	if err := requireID("reprocess asset", "asset id", assetID); err != nil {
		return nil, err
	}
	asset, err := o.assets.GetByID(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("reprocess asset: %w", err)
	}

	latest, err := o.jobs.GetLatestForAsset(ctx, assetID)
	switch {
	case err == nil && !latest.Status.Terminal():
		return nil, domain.WrapError(
			domain.ErrInvalidTransition,
			"reprocess asset",
			fmt.Errorf("job %s is still %s", latest.ID, latest.Status),
		)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("reprocess asset: %w", err)
	}

	job := newQueuedJob(asset.ID, o.pipeline.SelectWorkflow(*asset), o.now(), o.opts.EstimatePerCapability)
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := o.assets.UpdateStatus(ctx, asset.ID, domain.AssetStatusQueued, asset.ProcessingCompletedAt); err != nil {
		o.logger.Warn("asset_status_update_failed", "asset_id", asset.ID, "error", err)
	}
	o.audit.Record(ctx, domain.AuditEntry{
		AssetID: asset.ID,
		Action:  domain.ActionJobReprocess,
		Status:  domain.AuditInitiated,
		Details: domain.Metadata{"job_id": job.ID, "workflow": job.WorkflowName},
	})

	o.publish(ctx, job.ID)
	return job, nil
}

func (o *JobOrchestrator) recentlyScheduled(job *domain.ProcessingJob, cutoff time.Time) bool {
	if o.opts.ResumeAfter <= 0 {
		return false
	}
	scheduled := job.UpdatedAt
	if job.Status == domain.JobStatusRetrying {
		scheduled = scheduled.Add(o.retryConfigFor(job).Backoff(job.RetryCount))
	}
	return scheduled.After(cutoff)
}

// publish schedules a stored job. Failures are left to ResumePending.
func (o *JobOrchestrator) publish(ctx context.Context, jobID string) {
	if err := o.queue.PublishJobQueued(ctx, jobID); err != nil {
		o.logger.Warn("job_publish_deferred", "job_id", jobID, "error", err)
	}
}

// ResumePending republishes Queued or Retrying jobs whose schedule request
// was lost before a worker received it. Jobs touched within ResumeAfter, plus
// their retry backoff, are assumed to be scheduled still and are skipped.
func (o *JobOrchestrator) ResumePending(ctx context.Context) (int, error) {
	pending, err := o.jobs.ListByStatus(ctx, []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRetrying}, resumeBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}
	cutoff := o.now().Add(-o.opts.ResumeAfter)
	resumed := 0
	for _, job := range pending {
		if o.recentlyScheduled(&job, cutoff) {
			continue
		}
		if err := o.queue.PublishJobQueued(ctx, job.ID); err != nil {
			return resumed, domain.WrapError(domain.ErrTemporary, "publish job event", err)
		}
		resumed++
	}
	if resumed > 0 {
		o.logger.Info("jobs_resumed", "count", resumed)
	}
	return resumed, nil
}
