package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

// AssetRepository persists assets and their version archive.
type AssetRepository interface {
	// FindByHash returns domain.ErrAssetNotFound when no asset has the digest.
	FindByHash(ctx context.Context, contentHash string) (*domain.Asset, error)
	// CreateWithJob stores the asset and its first job atomically and fails
	// with domain.ErrDuplicateContent when the digest is already taken.
	CreateWithJob(ctx context.Context, asset *domain.Asset, job *domain.ProcessingJob) error
	GetByID(ctx context.Context, id string) (*domain.Asset, error)
	// ApplyMetadataChange archives the current version and advances the asset
	// in one transaction. A stale ExpectedVersionID yields *domain.ConflictError.
	ApplyMetadataChange(ctx context.Context, change domain.MetadataChange) (domain.VersionRef, error)
	UpdateStatus(ctx context.Context, id string, status domain.AssetStatus, completedAt *time.Time) error
	ListVersions(ctx context.Context, assetID string) ([]domain.VersionSnapshot, error)
	GetVersion(ctx context.Context, assetID string, version int) (*domain.VersionSnapshot, error)
}

// JobRepository persists processing jobs. State changes are compare-and-set.
type JobRepository interface {
	Create(ctx context.Context, job *domain.ProcessingJob) error
	GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error)
	GetLatestForAsset(ctx context.Context, assetID string) (*domain.ProcessingJob, error)
	ListByStatus(ctx context.Context, statuses []domain.JobStatus, limit int) ([]domain.ProcessingJob, error)
	// Transition fails with domain.ErrInvalidTransition when the job is not in
	// one of t.From.
	Transition(ctx context.Context, t domain.JobTransition) (*domain.ProcessingJob, error)
	UpdateProgress(ctx context.Context, p domain.JobProgress) error
}

// AuditRepository appends and lists audit entries.
type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	ListByAsset(ctx context.Context, assetID string, limit int) ([]domain.AuditEntry, error)
	ListRecent(ctx context.Context, limit int) ([]domain.AuditEntry, error)
	ListByController(ctx context.Context, controller string, limit int) ([]domain.AuditEntry, error)
}

// ObjectStorage stores raw asset content.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes job scheduling events.
type MessageQueue interface {
	PublishJobQueued(ctx context.Context, jobID string) error
	SubscribeJobQueued(ctx context.Context, handler func(context.Context, string) error) error
}

// ContentHasher computes the deduplication digest over the full content.
type ContentHasher interface {
	Algorithm() string
	Sum(data []byte) string
}

// Capability is one enrichment step. It returns the metadata fragment it
// contributes.
type Capability interface {
	Name() string
	Apply(ctx context.Context, in domain.EnrichmentInput) (domain.Metadata, error)
}

// EnrichmentPipeline selects a workflow for an asset and runs it.
type EnrichmentPipeline interface {
	SelectWorkflow(asset domain.Asset) domain.Workflow
	Workflow(name string) (domain.Workflow, bool)
	Run(ctx context.Context, workflow domain.Workflow, in domain.EnrichmentInput, report func(domain.CapabilityProgress)) (domain.EnrichmentResult, error)
}

// TextGenerator produces JSON completions for enrichment prompts.
type TextGenerator interface {
	GenerateJSONFromPrompt(ctx context.Context, prompt string) (string, error)
}

// GraphIndexer projects enrichment output into a keyword graph.
type GraphIndexer interface {
	IndexAsset(ctx context.Context, doc domain.GraphDocument) error
}

// Controller is an integration that moves assets in or out of the hub.
type Controller interface {
	Name() string
	Version() string
	Sync(ctx context.Context) (domain.SyncResult, error)
	CheckDuplicate(ctx context.Context, data []byte) (string, bool, error)
	LogAction(ctx context.Context, entry domain.AuditEntry) error
	Rollback(ctx context.Context, assetID string, targetVersion int) (domain.VersionRef, error)
}
