package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

var jobRowColumns = []string{
	"id", "asset_id", "workflow_name", "status", "progress_percentage", "capabilities_completed", "capabilities_failed",
	"error_message", "retry_count", "retry_config", "created_at", "started_at", "completed_at", "estimated_completion", "updated_at",
}

func TestJobTransitionReturnsUpdatedRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(jobRowColumns).
		AddRow("j-1", "a-1", "STANDARD_WORKFLOW", "processing", 0, []byte(`[]`), []byte(`[]`),
			"", 0, []byte(`{"max_attempts":3,"initial_interval":5000000000,"max_interval":300000000000,"backoff_multiplier":2}`),
			now, now, nil, nil, now)

	mock.ExpectQuery("UPDATE processing_jobs").
		WithArgs("j-1", "processing", sqlmock.AnyArg(), sqlmock.AnyArg(), nil, nil, now, true, nil, now, "queued,retrying").
		WillReturnRows(rows)

	progress := 0
	empty := ""
	job, err := repo.Transition(context.Background(), domain.JobTransition{
		JobID:             "j-1",
		From:              []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRetrying},
		To:                domain.JobStatusProcessing,
		Progress:          &progress,
		ErrorMessage:      &empty,
		StartedAt:         &now,
		ResetCapabilities: true,
		At:                now,
	})
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if job.Status != domain.JobStatusProcessing || job.StartedAt == nil {
		t.Fatalf("unexpected job: %#v", job)
	}
	if job.RetryConfig == nil || job.RetryConfig.MaxAttempts != 3 {
		t.Fatalf("expected retry config to be decoded, got %#v", job.RetryConfig)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobTransitionFromWrongStateIsInvalidTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db)
	mock.ExpectQuery("UPDATE processing_jobs").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM processing_jobs").
		WithArgs("j-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	_, err = repo.Transition(context.Background(), domain.JobTransition{
		JobID: "j-1",
		From:  domain.SourcesFor(domain.JobStatusCancelled),
		To:    domain.JobStatusCancelled,
		At:    time.Now().UTC(),
	})
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobTransitionUnknownJobIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db)
	mock.ExpectQuery("UPDATE processing_jobs").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT status FROM processing_jobs").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.Transition(context.Background(), domain.JobTransition{
		JobID: "missing",
		From:  []domain.JobStatus{domain.JobStatusFailed},
		To:    domain.JobStatusRetrying,
		At:    time.Now().UTC(),
	})
	if !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("expected job not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListByStatusPassesJoinedStatuses(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(jobRowColumns).
		AddRow("j-1", "a-1", "STANDARD_WORKFLOW", "queued", 0, []byte(`[]`), []byte(`[]`), "", 0, nil, now, nil, nil, now, now).
		AddRow("j-2", "a-2", "NEWS_WORKFLOW", "retrying", 40, []byte(`["media_probe"]`), []byte(`[]`), "boom", 1, nil, now, now, nil, nil, now)

	mock.ExpectQuery("FROM processing_jobs").
		WithArgs("queued,retrying", 1000).
		WillReturnRows(rows)

	jobs, err := repo.ListByStatus(context.Background(), []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRetrying}, 0)
	if err != nil {
		t.Fatalf("ListByStatus() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[1].RetryCount != 1 || len(jobs[1].CapabilitiesCompleted) != 1 {
		t.Fatalf("unexpected second job: %#v", jobs[1])
	}
	if jobs[0].EstimatedCompletion == nil {
		t.Fatalf("expected estimated completion on first job")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateProgressOutsideProcessingIsInvalidTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewJobRepository(db)
	mock.ExpectExec("UPDATE processing_jobs").
		WithArgs("j-1", 50, []byte(`["media_probe"]`), []byte(`[]`), sqlmock.AnyArg(), "processing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM processing_jobs").
		WithArgs("j-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("cancelled"))

	err = repo.UpdateProgress(context.Background(), domain.JobProgress{
		JobID:                 "j-1",
		ProgressPercentage:    50,
		CapabilitiesCompleted: []string{"media_probe"},
		At:                    time.Now().UTC(),
	})
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAuditAppendStoresNullAssetForSystemEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewAuditRepository(db)
	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs("e-1", nil, "ingress", "inbound", "localdir", "1.0.0", "local_ingress", "", "success", "system",
			[]byte(`{"scanned":3}`), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Append(context.Background(), &domain.AuditEntry{
		ID:                "e-1",
		Action:            domain.ActionIngress,
		Direction:         domain.DirectionInbound,
		Controller:        "localdir",
		ControllerVersion: "1.0.0",
		SourceSystem:      "local_ingress",
		Status:            domain.AuditSuccess,
		Actor:             "system",
		Details:           domain.Metadata{"scanned": 3},
		Timestamp:         now,
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAuditListByAssetDecodesDetails(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewAuditRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "asset_id", "action", "direction", "controller", "controller_version", "source_system",
		"destination_system", "status", "actor", "details", "recorded_at",
	}).AddRow("e-2", "a-1", "metadata_update", "internal", "media-asset-hub", "1.0.0", "", "", "success", "editor",
		[]byte(`{"version":2}`), now)

	mock.ExpectQuery("FROM audit_entries").
		WithArgs("a-1", 50).
		WillReturnRows(rows)

	entries, err := repo.ListByAsset(context.Background(), "a-1", 50)
	if err != nil {
		t.Fatalf("ListByAsset() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Action != domain.ActionMetadataUpdate {
		t.Fatalf("unexpected entries: %#v", entries)
	}
	if v, ok := entries[0].Details.Number("version"); !ok || v != 2 {
		t.Fatalf("expected version detail 2, got %v", entries[0].Details)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
