package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

const jobColumns = `id, asset_id, workflow_name, status, progress_percentage, capabilities_completed, capabilities_failed,
	error_message, retry_count, retry_config, created_at, started_at, completed_at, estimated_completion, updated_at`

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertJob(ctx context.Context, db execer, job *domain.ProcessingJob) error {
	completedJSON, err := encodeStrings(job.CapabilitiesCompleted)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	failedJSON, err := encodeStrings(job.CapabilitiesFailed)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	retryJSON, err := encodeRetryConfig(job.RetryConfig)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
INSERT INTO processing_jobs (
	id, asset_id, workflow_name, status, progress_percentage, capabilities_completed, capabilities_failed,
	error_message, retry_count, retry_config, created_at, estimated_completion, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
		job.ID, job.AssetID, job.WorkflowName, string(job.Status), job.ProgressPercentage, completedJSON, failedJSON,
		job.ErrorMessage, job.RetryCount, retryJSON, job.CreatedAt, nullableTime(job.EstimatedCompletion), job.UpdatedAt,
	)
	if err != nil {
		return persistenceError("insert job", err)
	}
	return nil
}

func (r *JobRepository) Create(ctx context.Context, job *domain.ProcessingJob) error {
	return insertJob(ctx, r.db, job)
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM processing_jobs
WHERE id = $1
`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, persistenceError("get job", err)
	}
	return job, nil
}

func (r *JobRepository) GetLatestForAsset(ctx context.Context, assetID string) (*domain.ProcessingJob, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM processing_jobs
WHERE asset_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1
`, assetID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, persistenceError("get latest job", err)
	}
	return job, nil
}

func (r *JobRepository) ListByStatus(ctx context.Context, statuses []domain.JobStatus, limit int) ([]domain.ProcessingJob, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+jobColumns+`
FROM processing_jobs
WHERE status = ANY(string_to_array($1, ','))
ORDER BY created_at ASC
LIMIT $2
`, joinStatuses(statuses), limit)
	if err != nil {
		return nil, persistenceError("list jobs by status", err)
	}
	defer rows.Close()

	out := make([]domain.ProcessingJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, persistenceError("scan job", err)
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate jobs", err)
	}
	return out, nil
}

// Transition is a compare-and-set on status: the UPDATE only matches while
// the job is in one of t.From.
func (r *JobRepository) Transition(ctx context.Context, t domain.JobTransition) (*domain.ProcessingJob, error) {
	retryJSON, err := encodeRetryConfig(t.RetryConfig)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
UPDATE processing_jobs
SET status = $2,
	progress_percentage = COALESCE($3, progress_percentage),
	error_message = COALESCE($4, error_message),
	retry_count = COALESCE($5, retry_count),
	retry_config = COALESCE($6, retry_config),
	started_at = COALESCE($7, started_at),
	completed_at = CASE WHEN $8 THEN NULL ELSE COALESCE($9, completed_at) END,
	capabilities_completed = CASE WHEN $8 THEN '[]'::jsonb ELSE capabilities_completed END,
	capabilities_failed = CASE WHEN $8 THEN '[]'::jsonb ELSE capabilities_failed END,
	updated_at = $10
WHERE id = $1 AND status = ANY(string_to_array($11, ','))
RETURNING `+jobColumns,
		t.JobID, string(t.To), t.Progress, t.ErrorMessage, t.RetryCount, retryJSON,
		nullableTime(t.StartedAt), t.ResetCapabilities, nullableTime(t.CompletedAt), t.At, joinStatuses(t.From),
	)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, persistenceError("transition job", err)
	}
	return nil, r.explainNoMatch(ctx, t.JobID, t.To)
}

func (r *JobRepository) UpdateProgress(ctx context.Context, p domain.JobProgress) error {
	completedJSON, err := encodeStrings(p.CapabilitiesCompleted)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	failedJSON, err := encodeStrings(p.CapabilitiesFailed)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE processing_jobs
SET progress_percentage = $2, capabilities_completed = $3, capabilities_failed = $4, updated_at = $5
WHERE id = $1 AND status = $6
`, p.JobID, p.ProgressPercentage, completedJSON, failedJSON, p.At, string(domain.JobStatusProcessing))
	if err != nil {
		return persistenceError("update job progress", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return persistenceError("update job progress rows affected", err)
	}
	if rows == 0 {
		return r.explainNoMatch(ctx, p.JobID, domain.JobStatusProcessing)
	}
	return nil
}

// explainNoMatch tells a missing job apart from a job in the wrong state.
func (r *JobRepository) explainNoMatch(ctx context.Context, jobID string, to domain.JobStatus) error {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM processing_jobs WHERE id = $1`, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		return persistenceError("read job status", err)
	}
	return domain.WrapError(
		domain.ErrInvalidTransition,
		"transition job",
		fmt.Errorf("job is %s, cannot move to %s", status, to),
	)
}

func scanJob(row rowScanner) (*domain.ProcessingJob, error) {
	var (
		job           domain.ProcessingJob
		status        string
		completedRaw  []byte
		failedRaw     []byte
		retryRaw      []byte
		startedAt     sql.NullTime
		completedAt   sql.NullTime
		estimatedDone sql.NullTime
	)
	err := row.Scan(
		&job.ID, &job.AssetID, &job.WorkflowName, &status, &job.ProgressPercentage, &completedRaw, &failedRaw,
		&job.ErrorMessage, &job.RetryCount, &retryRaw, &job.CreatedAt, &startedAt, &completedAt, &estimatedDone, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if err := decodeStrings(completedRaw, &job.CapabilitiesCompleted); err != nil {
		return nil, err
	}
	if err := decodeStrings(failedRaw, &job.CapabilitiesFailed); err != nil {
		return nil, err
	}
	if len(retryRaw) > 0 {
		var cfg domain.RetryConfig
		if err := json.Unmarshal(retryRaw, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal retry config: %w", err)
		}
		job.RetryConfig = &cfg
	}
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	job.EstimatedCompletion = timePtr(estimatedDone)
	return &job, nil
}

func decodeStrings(raw []byte, dst *[]string) error {
	*dst = []string{}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal capabilities: %w", err)
	}
	if *dst == nil {
		*dst = []string{}
	}
	return nil
}

func encodeRetryConfig(cfg *domain.RetryConfig) (any, error) {
	if cfg == nil {
		return nil, nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal retry config: %w", err)
	}
	return raw, nil
}

func joinStatuses(statuses []domain.JobStatus) string {
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, ",")
}
