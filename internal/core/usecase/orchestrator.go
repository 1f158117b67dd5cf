package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/core/ports"
)

type MergeMode string

const (
	// MergeLastWriterWins merges enrichment output without a version token.
	// A user edit landing between job start and merge can be overwritten on
	// the keys the pipeline produces.
	MergeLastWriterWins MergeMode = "last_writer_wins"
	// MergeVersioned submits the token captured at job start; a concurrent
	// edit fails the job with a conflict.
	MergeVersioned MergeMode = "versioned"

	enrichmentActorPrefix = "enrichment:"
	resumeBatchLimit      = 1000
)

func ParseMergeMode(raw string) (MergeMode, error) {
	switch MergeMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MergeLastWriterWins:
		return MergeLastWriterWins, nil
	case MergeVersioned:
		return MergeVersioned, nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "parse merge mode", fmt.Errorf("unknown merge mode %q", raw))
	}
}

type OrchestratorOptions struct {
	MergeMode             MergeMode
	DefaultRetry          domain.RetryConfig
	EstimatePerCapability time.Duration
	Timeout               time.Duration
	// ResumeAfter is how long a pending job may sit untouched before
	// ResumePending publishes it again. Zero resumes every pending job.
	ResumeAfter           time.Duration
}

// JobOrchestrator owns the processing job state machine. All state changes go
// through JobRepository.Transition so a raced transition fails instead of
// overwriting.
type JobOrchestrator struct {
	jobs     ports.JobRepository
	assets   ports.AssetRepository
	storage  ports.ObjectStorage
	queue    ports.MessageQueue
	pipeline ports.EnrichmentPipeline
	metadata ports.MetadataService
	graph    ports.GraphIndexer
	audit    *AuditLog
	logger   *slog.Logger
	opts     OrchestratorOptions

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewJobOrchestrator(
	jobs ports.JobRepository,
	assets ports.AssetRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	pipeline ports.EnrichmentPipeline,
	metadata ports.MetadataService,
	graph ports.GraphIndexer,
	audit *AuditLog,
	logger *slog.Logger,
	opts OrchestratorOptions,
) *JobOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MergeMode == "" {
		opts.MergeMode = MergeLastWriterWins
	}
	opts.DefaultRetry = opts.DefaultRetry.Normalize(domain.DefaultRetryConfig())
	return &JobOrchestrator{
		jobs:     jobs,
		assets:   assets,
		storage:  storage,
		queue:    queue,
		pipeline: pipeline,
		metadata: metadata,
		graph:    graph,
		audit:    audit,
		logger:   logger,
		opts:     opts,
		sleep:    sleepContext,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run drives one job from Queued or Retrying to a terminal state. It returns
// nil when the job is no longer runnable, e.g. it was cancelled or another
// worker already picked it up.
func (o *JobOrchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != domain.JobStatusQueued && job.Status != domain.JobStatusRetrying {
		o.logger.Info("job_skipped", "job_id", jobID, "status", job.Status)
		return nil
	}

	if job.Status == domain.JobStatusRetrying {
		cfg := o.retryConfigFor(job)
		delay := cfg.Backoff(job.RetryCount)
		o.logger.Info("job_backoff", "job_id", jobID, "retry_count", job.RetryCount, "delay", delay.String())
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
	}

	startedAt := o.now()
	clearErr := ""
	zero := 0
	job, err = o.jobs.Transition(ctx, domain.JobTransition{
		JobID:             jobID,
		From:              domain.SourcesFor(domain.JobStatusProcessing),
		To:                domain.JobStatusProcessing,
		Progress:          &zero,
		ErrorMessage:      &clearErr,
		StartedAt:         &startedAt,
		ResetCapabilities: true,
		At:                startedAt,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			o.logger.Info("job_skipped", "job_id", jobID, "reason", "lost transition race")
			return nil
		}
		return fmt.Errorf("set job status=processing: %w", err)
	}
	o.logTransition(job, domain.JobStatusProcessing)
	o.audit.Record(ctx, domain.AuditEntry{
		AssetID: job.AssetID,
		Action:  domain.ActionJobStarted,
		Status:  domain.AuditInProgress,
		Details: domain.Metadata{"job_id": job.ID, "retry_count": float64(job.RetryCount)},
	})

	return o.process(ctx, job)
}

// workflowFor returns the workflow recorded on the job at creation. Routing
// runs again only when that name is no longer configured.
func (o *JobOrchestrator) workflowFor(job *domain.ProcessingJob, asset *domain.Asset) domain.Workflow {
	if wf, ok := o.pipeline.Workflow(job.WorkflowName); ok {
		return wf
	}
	wf := o.pipeline.SelectWorkflow(*asset)
	o.logger.Warn("job_workflow_unknown", "job_id", job.ID, "recorded", job.WorkflowName, "selected", wf.Name)
	return wf
}

func (o *JobOrchestrator) process(ctx context.Context, job *domain.ProcessingJob) error {
	asset, err := o.assets.GetByID(ctx, job.AssetID)
	if err != nil {
		return o.fail(ctx, job, fmt.Errorf("load asset: %w", err))
	}
	if err := o.assets.UpdateStatus(ctx, asset.ID, domain.AssetStatusProcessing, nil); err != nil {
		return o.fail(ctx, job, fmt.Errorf("set asset status=processing: %w", err))
	}
	startToken := asset.CurrentVersionID

	content, err := o.readContent(ctx, asset.StorageKey)
	if err != nil {
		return o.fail(ctx, job, err)
	}

	runCtx := ctx
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	workflow := o.workflowFor(job, asset)
	result, err := o.pipeline.Run(runCtx, workflow, domain.EnrichmentInput{
		Asset:    *asset,
		Content:  content,
		Fragment: domain.Metadata{},
	}, func(p domain.CapabilityProgress) {
		o.reportProgress(ctx, job, p)
	})
	if err != nil {
		return o.fail(ctx, job, err)
	}

	// A cancel that arrived while the pipeline ran discards its output.
	current, err := o.jobs.GetByID(ctx, job.ID)
	if err != nil {
		return o.fail(ctx, job, fmt.Errorf("reload job: %w", err))
	}
	if current.Status != domain.JobStatusProcessing {
		o.logger.Info("job_result_discarded", "job_id", job.ID, "status", current.Status)
		return nil
	}

	mergeToken := ""
	if o.opts.MergeMode == MergeVersioned {
		mergeToken = startToken
	}
	mergeCtx := domain.WithActor(ctx, enrichmentActorPrefix+result.Workflow)
	ref, err := o.metadata.UpdateMetadata(mergeCtx, asset.ID, mergeToken, result.Fragment)
	if err != nil {
		return o.fail(ctx, job, fmt.Errorf("merge enrichment metadata: %w", err))
	}

	completedAt := o.now()
	full := 100
	completed, err := o.jobs.Transition(ctx, domain.JobTransition{
		JobID:       job.ID,
		From:        []domain.JobStatus{domain.JobStatusProcessing},
		To:          domain.JobStatusCompleted,
		Progress:    &full,
		CompletedAt: &completedAt,
		At:          completedAt,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			o.logger.Warn("job_completion_raced", "job_id", job.ID, "version", ref.Version)
			return nil
		}
		return fmt.Errorf("set job status=completed: %w", err)
	}
	o.logTransition(completed, domain.JobStatusCompleted)

	if err := o.assets.UpdateStatus(ctx, asset.ID, domain.AssetStatusProcessed, &completedAt); err != nil {
		return fmt.Errorf("set asset status=processed: %w", err)
	}

	o.audit.Record(ctx, domain.AuditEntry{
		AssetID: asset.ID,
		Action:  domain.ActionJobCompleted,
		Details: domain.Metadata{
			"job_id":                 job.ID,
			"workflow":               result.Workflow,
			"version":                float64(ref.Version),
			"capabilities_completed": stringsToAny(result.CapabilitiesCompleted),
			"capabilities_failed":    stringsToAny(result.CapabilitiesFailed),
		},
	})

	o.indexGraph(ctx, asset, result.Fragment)
	return nil
}

func (o *JobOrchestrator) readContent(ctx context.Context, key string) ([]byte, error) {
	rc, err := o.storage.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open asset content: %w", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read asset content: %w", err)
	}
	return content, nil
}

func (o *JobOrchestrator) reportProgress(ctx context.Context, job *domain.ProcessingJob, p domain.CapabilityProgress) {
	if p.Succeeded {
		job.CapabilitiesCompleted = append(job.CapabilitiesCompleted, p.Capability)
	} else {
		job.CapabilitiesFailed = append(job.CapabilitiesFailed, p.Capability)
	}
	job.ProgressPercentage = p.Percentage()

	err := o.jobs.UpdateProgress(ctx, domain.JobProgress{
		JobID:                 job.ID,
		ProgressPercentage:    job.ProgressPercentage,
		CapabilitiesCompleted: job.CapabilitiesCompleted,
		CapabilitiesFailed:    job.CapabilitiesFailed,
		At:                    o.now(),
	})
	if err != nil {
		o.logger.Warn("job_progress_update_failed", "job_id", job.ID, "capability", p.Capability, "error", err)
		return
	}

	status := domain.AuditSuccess
	details := domain.Metadata{
		"job_id":     job.ID,
		"capability": p.Capability,
		"progress":   float64(job.ProgressPercentage),
	}
	if !p.Succeeded {
		status = domain.AuditFailed
		if p.Err != nil {
			details["error"] = p.Err.Error()
		}
	}
	o.audit.Record(ctx, domain.AuditEntry{
		AssetID: job.AssetID,
		Action:  domain.ActionJobProgress,
		Status:  status,
		Details: details,
	})
}

func (o *JobOrchestrator) fail(ctx context.Context, job *domain.ProcessingJob, cause error) error {
	msg := strings.TrimSpace(cause.Error())
	if msg == "" {
		msg = "enrichment failed"
	}
	failedAt := o.now()
	failed, err := o.jobs.Transition(context.WithoutCancel(ctx), domain.JobTransition{
		JobID:        job.ID,
		From:         []domain.JobStatus{domain.JobStatusProcessing},
		To:           domain.JobStatusFailed,
		ErrorMessage: &msg,
		At:           failedAt,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			o.logger.Info("job_failure_discarded", "job_id", job.ID, "error", cause)
			return nil
		}
		return fmt.Errorf("%w; mark job failed: %v", cause, err)
	}
	o.logTransition(failed, domain.JobStatusFailed)

	if err := o.assets.UpdateStatus(context.WithoutCancel(ctx), job.AssetID, domain.AssetStatusFailed, nil); err != nil {
		o.logger.Warn("asset_status_update_failed", "asset_id", job.AssetID, "error", err)
	}
	o.audit.Record(ctx, domain.AuditEntry{
		AssetID: job.AssetID,
		Action:  domain.ActionJobFailed,
		Status:  domain.AuditFailed,
		Details: domain.Metadata{"job_id": job.ID, "error": msg},
	})
	return cause
}

func (o *JobOrchestrator) indexGraph(ctx context.Context, asset *domain.Asset, fragment domain.Metadata) {
	if o.graph == nil {
		return
	}
	doc := domain.GraphDocument{
		AssetID:   asset.ID,
		Filename:  asset.Filename,
		AssetType: asset.AssetType,
		Keywords:  uniqueStrings(append(fragment.StringList("auto_keywords"), fragment.StringList("ai_keywords")...)),
		Topics:    uniqueStrings(fragment.StringList("ai_topics")),
	}
	if len(doc.Keywords) == 0 && len(doc.Topics) == 0 {
		return
	}
	if err := o.graph.IndexAsset(ctx, doc); err != nil {
		o.logger.Warn("graph_index_failed", "asset_id", asset.ID, "error", err)
		o.audit.Record(ctx, domain.AuditEntry{
			AssetID:           asset.ID,
			Action:            domain.ActionGraphIndexed,
			Direction:         domain.DirectionOutbound,
			DestinationSystem: "neo4j",
			Status:            domain.AuditFailed,
			Details:           domain.Metadata{"error": err.Error()},
		})
		return
	}
	o.audit.Record(ctx, domain.AuditEntry{
		AssetID:           asset.ID,
		Action:            domain.ActionGraphIndexed,
		Direction:         domain.DirectionOutbound,
		DestinationSystem: "neo4j",
		Details: domain.Metadata{
			"keywords": float64(len(doc.Keywords)),
			"topics":   float64(len(doc.Topics)),
		},
	})
}

func (o *JobOrchestrator) retryConfigFor(job *domain.ProcessingJob) domain.RetryConfig {
	if job.RetryConfig == nil {
		return o.opts.DefaultRetry
	}
	return job.RetryConfig.Normalize(o.opts.DefaultRetry)
}

func (o *JobOrchestrator) logTransition(job *domain.ProcessingJob, to domain.JobStatus) {
	o.logger.Info("job_transition",
		"job_id", job.ID,
		"asset_id", job.AssetID,
		"status", to,
		"retry_count", job.RetryCount,
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
