package ports

import (
	"context"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

// AssetIngestor is the inbound contract for the deduplication gate.
type AssetIngestor interface {
	Ingest(ctx context.Context, req domain.IngestRequest) (*domain.IngestResult, error)
}

// AssetReader is the inbound read model for asset state.
type AssetReader interface {
	GetAsset(ctx context.Context, assetID string) (*domain.Asset, error)
}

// MetadataService reads and writes versioned metadata.
type MetadataService interface {
	GetMetadata(ctx context.Context, assetID string) (*domain.MetadataView, error)
	UpdateMetadata(ctx context.Context, assetID, versionID string, patch domain.Metadata) (domain.VersionRef, error)
	ResolveConflict(ctx context.Context, assetID string, resolved domain.Metadata) (domain.VersionRef, error)
}

// RollbackService restores archived metadata versions.
type RollbackService interface {
	Rollback(ctx context.Context, assetID string, targetVersion int) (domain.VersionRef, error)
	ListVersions(ctx context.Context, assetID string) ([]domain.VersionSnapshot, error)
	GetVersion(ctx context.Context, assetID string, version int) (*domain.VersionSnapshot, error)
}

// JobService is the inbound job status boundary.
type JobService interface {
	GetJob(ctx context.Context, jobID string) (*domain.ProcessingJob, error)
	GetLatestJobForAsset(ctx context.Context, assetID string) (*domain.ProcessingJob, error)
	RetryJob(ctx context.Context, jobID string, cfg domain.RetryConfig) (*domain.RetryResult, error)
	CancelJob(ctx context.Context, jobID string) (*domain.ProcessingJob, error)
	Reprocess(ctx context.Context, assetID string) (*domain.ProcessingJob, error)
}

// JobProcessor is the inbound contract for asynchronous enrichment.
type JobProcessor interface {
	Run(ctx context.Context, jobID string) error
	ResumePending(ctx context.Context) (int, error)
}

// AuditReader exposes the audit trail.
type AuditReader interface {
	ListActionsForAsset(ctx context.Context, assetID string, limit int) ([]domain.AuditEntry, error)
	ListRecentActions(ctx context.Context, limit int) ([]domain.AuditEntry, error)
	ListActionsByController(ctx context.Context, controller string, limit int) ([]domain.AuditEntry, error)
}
