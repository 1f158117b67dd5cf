package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

func TestRunCompletesJobAndMergesEnrichment(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", domain.Metadata{"title": "User title"})
	ctx := context.Background()

	if err := h.jobs.Run(ctx, res.JobID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	job, _ := h.jobs.GetJob(ctx, res.JobID)
	if job.Status != domain.JobStatusCompleted || job.ProgressPercentage != 100 || job.CompletedAt == nil {
		t.Fatalf("unexpected job state: %#v", job)
	}
	if len(job.CapabilitiesCompleted) != 2 {
		t.Fatalf("expected both capabilities recorded, got %v", job.CapabilitiesCompleted)
	}

	asset, _ := h.metadata.GetAsset(ctx, res.AssetID)
	if asset.Status != domain.AssetStatusProcessed || asset.ProcessingCompletedAt == nil {
		t.Fatalf("unexpected asset state: %s %v", asset.Status, asset.ProcessingCompletedAt)
	}
	if asset.Metadata.String("title") != "User title" || asset.Metadata.String("ai_summary") != "a short clip" {
		t.Fatalf("expected user keys kept and enrichment merged, got %v", asset.Metadata)
	}
	if asset.CurrentVersion != 2 {
		t.Fatalf("expected enrichment merge to produce version 2, got %d", asset.CurrentVersion)
	}

	snap, _ := h.rollback.GetVersion(ctx, res.AssetID, 1)
	if snap.CreatedBy != "enrichment:STANDARD_WORKFLOW" {
		t.Fatalf("expected enrichment actor on archived snapshot, got %s", snap.CreatedBy)
	}

	if len(h.graph.docs) != 1 || len(h.graph.docs[0].Keywords) != 2 || h.graph.docs[0].Keywords[0] != "harbor" {
		t.Fatalf("expected keyword graph indexed, got %#v", h.graph.docs)
	}

	actions := h.auditActions(t, res.AssetID)
	for _, want := range []domain.AuditAction{
		domain.ActionJobStarted, domain.ActionJobProgress, domain.ActionJobCompleted, domain.ActionGraphIndexed,
	} {
		if !hasAction(actions, want) {
			t.Fatalf("expected %s in audit trail, got %v", want, actions)
		}
	}
}

func TestRunPipelineFailureLeavesMetadataUntouched(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	h.pipeline.err = domain.WrapError(domain.ErrPipelineFailure, "run capability media_probe", errors.New("probe crashed"))
	res := h.ingestText(t, "content", domain.Metadata{"title": "Keep"})
	ctx := context.Background()
	before, _ := h.metadata.GetMetadata(ctx, res.AssetID)

	err := h.jobs.Run(ctx, res.JobID)
	if !errors.Is(err, domain.ErrPipelineFailure) {
		t.Fatalf("expected pipeline failure, got %v", err)
	}

	job, _ := h.jobs.GetJob(ctx, res.JobID)
	if job.Status != domain.JobStatusFailed || !strings.Contains(job.ErrorMessage, "probe crashed") {
		t.Fatalf("expected failed job with message, got %#v", job)
	}
	after, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	if after.Version != before.Version || after.VersionID != before.VersionID {
		t.Fatalf("expected metadata untouched, got %#v", after)
	}
	asset, _ := h.metadata.GetAsset(ctx, res.AssetID)
	if asset.Status != domain.AssetStatusFailed {
		t.Fatalf("expected asset failed, got %s", asset.Status)
	}
}

func TestIllegalTransitionsAreRejected(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", nil)
	ctx := context.Background()

	if _, err := h.jobs.RetryJob(ctx, res.JobID, domain.RetryConfig{}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected retry of queued job rejected, got %v", err)
	}
	if err := h.jobs.Run(ctx, res.JobID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := h.jobs.CancelJob(ctx, res.JobID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected cancel of completed job rejected, got %v", err)
	}

	runs := h.pipeline.runs
	if err := h.jobs.Run(ctx, res.JobID); err != nil {
		t.Fatalf("expected re-delivery of a completed job to be a no-op, got %v", err)
	}
	if h.pipeline.runs != runs {
		t.Fatalf("expected pipeline not rerun for completed job")
	}
	job, _ := h.jobs.GetJob(ctx, res.JobID)
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected job still completed, got %s", job.Status)
	}
}

func TestRetryFailedJobHonoursBackoffAndLimit(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	h.pipeline.err = errors.New("model offline")
	res := h.ingestText(t, "content", nil)
	ctx := context.Background()

	_ = h.jobs.Run(ctx, res.JobID)
	cfg := domain.RetryConfig{MaxAttempts: 2, InitialInterval: time.Second, MaxInterval: time.Minute, BackoffMultiplier: 3}

	out, err := h.jobs.RetryJob(ctx, res.JobID, cfg)
	if err != nil {
		t.Fatalf("RetryJob() error = %v", err)
	}
	if out.RetryCount != 1 || out.Status != domain.JobStatusRetrying {
		t.Fatalf("unexpected retry result: %#v", out)
	}
	_ = h.jobs.Run(ctx, res.JobID)

	if _, err := h.jobs.RetryJob(ctx, res.JobID, cfg); err != nil {
		t.Fatalf("second RetryJob() error = %v", err)
	}
	h.pipeline.err = nil
	if err := h.jobs.Run(ctx, res.JobID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(h.sleeps) != 2 || h.sleeps[0] != time.Second || h.sleeps[1] != 3*time.Second {
		t.Fatalf("expected backoff delays [1s 3s], got %v", h.sleeps)
	}
	job, _ := h.jobs.GetJob(ctx, res.JobID)
	if job.Status != domain.JobStatusCompleted || job.RetryCount != 2 || job.ErrorMessage != "" {
		t.Fatalf("expected completed job after retries, got %#v", job)
	}

	h.pipeline.err = errors.New("again")
	h.store.Jobs().Transition(ctx, domain.JobTransition{
		JobID: res.JobID, From: []domain.JobStatus{domain.JobStatusCompleted}, To: domain.JobStatusFailed,
	})
	if _, err := h.jobs.RetryJob(ctx, res.JobID, cfg); !errors.Is(err, domain.ErrRetryExhausted) {
		t.Fatalf("expected retry exhausted, got %v", err)
	}
}

func TestCancelDuringProcessingDiscardsResult(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", domain.Metadata{"title": "Keep"})
	ctx := context.Background()

	h.pipeline.during = func() {
		if _, err := h.jobs.CancelJob(ctx, res.JobID); err != nil {
			t.Errorf("CancelJob() error = %v", err)
		}
	}
	if err := h.jobs.Run(ctx, res.JobID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	job, _ := h.jobs.GetJob(ctx, res.JobID)
	if job.Status != domain.JobStatusCancelled {
		t.Fatalf("expected cancelled job, got %s", job.Status)
	}
	view, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	if view.Version != 1 || view.Metadata["ai_summary"] != nil {
		t.Fatalf("expected enrichment discarded, got %#v", view)
	}
}

func TestLastWriterWinsMergeCanOverwriteConcurrentEdit(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	h.pipeline.fragment = domain.Metadata{"ai_summary": "machine summary"}
	res := h.ingestText(t, "content", domain.Metadata{"title": "t"})
	ctx := context.Background()

	h.pipeline.during = func() {
		view, _ := h.metadata.GetMetadata(ctx, res.AssetID)
		_, err := h.metadata.UpdateMetadata(ctx, res.AssetID, view.VersionID, domain.Metadata{
			"ai_summary": "human summary",
			"rating":     float64(5),
		})
		if err != nil {
			t.Errorf("UpdateMetadata() error = %v", err)
		}
	}
	if err := h.jobs.Run(ctx, res.JobID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	view, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	if view.Metadata.String("ai_summary") != "machine summary" {
		t.Fatalf("expected background merge to win on shared key, got %v", view.Metadata)
	}
	if n, _ := view.Metadata.Number("rating"); n != 5 {
		t.Fatalf("expected user edit on disjoint key preserved, got %v", view.Metadata)
	}
	// The overwritten user value stays recoverable from the archive.
	snap, err := h.rollback.GetVersion(ctx, res.AssetID, 2)
	if err != nil || snap.Metadata.String("ai_summary") != "human summary" {
		t.Fatalf("expected user edit archived, got %#v %v", snap, err)
	}
}

func TestVersionedMergeFailsJobOnConcurrentEdit(t *testing.T) {
	h := newHarness(t, MergeVersioned)
	res := h.ingestText(t, "content", domain.Metadata{"title": "t"})
	ctx := context.Background()

	h.pipeline.during = func() {
		view, _ := h.metadata.GetMetadata(ctx, res.AssetID)
		if _, err := h.metadata.UpdateMetadata(ctx, res.AssetID, view.VersionID, domain.Metadata{"title": "edited"}); err != nil {
			t.Errorf("UpdateMetadata() error = %v", err)
		}
	}
	err := h.jobs.Run(ctx, res.JobID)
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	job, _ := h.jobs.GetJob(ctx, res.JobID)
	if job.Status != domain.JobStatusFailed || !strings.Contains(job.ErrorMessage, "version conflict") {
		t.Fatalf("expected job failed on conflict, got %#v", job)
	}
	view, _ := h.metadata.GetMetadata(ctx, res.AssetID)
	if view.Metadata.String("title") != "edited" || view.Metadata["ai_summary"] != nil {
		t.Fatalf("expected user edit kept and enrichment not applied, got %v", view.Metadata)
	}

	h.pipeline.during = nil
	if _, err := h.jobs.RetryJob(ctx, res.JobID, domain.RetryConfig{}); err != nil {
		t.Fatalf("RetryJob() error = %v", err)
	}
	if err := h.jobs.Run(ctx, res.JobID); err != nil {
		t.Fatalf("Run() after retry error = %v", err)
	}
	view, _ = h.metadata.GetMetadata(ctx, res.AssetID)
	if view.Metadata.String("ai_summary") == "" || view.Metadata.String("title") != "edited" {
		t.Fatalf("expected retry to merge on top of user edit, got %v", view.Metadata)
	}
}

func TestReprocessCreatesNewJobOnlyWhenLatestIsTerminal(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", nil)
	ctx := context.Background()

	if _, err := h.jobs.Reprocess(ctx, res.AssetID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected reprocess rejected while job queued, got %v", err)
	}
	if err := h.jobs.Run(ctx, res.JobID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	job, err := h.jobs.Reprocess(ctx, res.AssetID)
	if err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}
	if job.ID == res.JobID || job.Status != domain.JobStatusQueued {
		t.Fatalf("expected a new queued job, got %#v", job)
	}
	latest, _ := h.jobs.GetLatestJobForAsset(ctx, res.AssetID)
	if latest.ID != job.ID {
		t.Fatalf("expected latest job %s, got %s", job.ID, latest.ID)
	}
	if old, _ := h.jobs.GetJob(ctx, res.JobID); old.Status != domain.JobStatusCompleted {
		t.Fatalf("expected previous job retained, got %#v", old)
	}
}

func TestGetLatestJobForAssetWithoutJobs(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	_, err := h.jobs.GetLatestJobForAsset(context.Background(), "no-such-asset")
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected job not found, got %v", err)
	}
}

func TestParseMergeMode(t *testing.T) {
	if mode, err := ParseMergeMode(""); err != nil || mode != MergeLastWriterWins {
		t.Fatalf("expected default last_writer_wins, got %s %v", mode, err)
	}
	if mode, err := ParseMergeMode("VERSIONED"); err != nil || mode != MergeVersioned {
		t.Fatalf("expected versioned, got %s %v", mode, err)
	}
	if _, err := ParseMergeMode("optimistic"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRunUsesWorkflowRecordedAtIngest(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	standard := h.pipeline.workflow
	res := h.ingestText(t, "content", domain.Metadata{"title": "holiday"})
	ctx := context.Background()

	// Routing would now pick another workflow, e.g. after a title edit.
	h.pipeline.named = map[string]domain.Workflow{standard.Name: standard}
	h.pipeline.workflow = domain.Workflow{
		Name:         "INTERVIEW_WORKFLOW",
		Capabilities: []domain.CapabilityStep{{Name: domain.CapabilityAIAnalysis, Required: true}},
	}
	if _, err := h.metadata.UpdateMetadata(ctx, res.AssetID, "", domain.Metadata{"title": "CEO interview"}); err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}

	if err := h.jobs.Run(ctx, res.JobID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(h.pipeline.ran) != 1 || h.pipeline.ran[0] != standard.Name {
		t.Fatalf("expected %s to run, got %v", standard.Name, h.pipeline.ran)
	}
	job, _ := h.jobs.GetJob(ctx, res.JobID)
	if job.WorkflowName != standard.Name || len(job.CapabilitiesCompleted) != len(standard.Capabilities) {
		t.Fatalf("job record does not match the workflow that ran: %#v", job)
	}
}

func TestRunFallsBackToRoutingForUnknownWorkflow(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	res := h.ingestText(t, "content", nil)
	ctx := context.Background()

	h.pipeline.workflow = domain.Workflow{
		Name:         "NEWS_WORKFLOW",
		Capabilities: []domain.CapabilityStep{{Name: domain.CapabilityMediaProbe, Required: true}},
	}
	if err := h.jobs.Run(ctx, res.JobID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(h.pipeline.ran) != 1 || h.pipeline.ran[0] != "NEWS_WORKFLOW" {
		t.Fatalf("expected routing fallback, got %v", h.pipeline.ran)
	}
}

func TestResumePendingSkipsRecentlyScheduledJobs(t *testing.T) {
	h := newHarness(t, MergeLastWriterWins)
	h.jobs.opts.ResumeAfter = time.Minute
	res := h.ingestText(t, "content", nil)
	ctx := context.Background()
	published := h.queue.count()

	for i := 0; i < 2; i++ {
		n, err := h.jobs.ResumePending(ctx)
		if err != nil {
			t.Fatalf("ResumePending() error = %v", err)
		}
		if n != 0 {
			t.Fatalf("expected fresh job to be left alone, resumed %d", n)
		}
	}
	if h.queue.count() != published {
		t.Fatalf("expected no republish, got %d events", h.queue.count())
	}

	h.jobs.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	n, err := h.jobs.ResumePending(ctx)
	if err != nil {
		t.Fatalf("ResumePending() error = %v", err)
	}
	if n != 1 || h.queue.published[len(h.queue.published)-1] != res.JobID {
		t.Fatalf("expected stale job resumed, got %d", n)
	}
}
