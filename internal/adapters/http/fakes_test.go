package httpadapter

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/config"
	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

type ingestFake struct {
	result *domain.IngestResult
	err    error
	got    domain.IngestRequest
	body   []byte
}

func (f *ingestFake) Ingest(_ context.Context, req domain.IngestRequest) (*domain.IngestResult, error) {
	f.got = req
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	f.body = raw
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type metadataFake struct {
	view      *domain.MetadataView
	ref       domain.VersionRef
	err       error
	gotToken  string
	gotPatch  domain.Metadata
	gotActor  string
	resolved  domain.Metadata
	assetResp *domain.Asset
}

func (f *metadataFake) GetAsset(_ context.Context, id string) (*domain.Asset, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.assetResp != nil {
		return f.assetResp, nil
	}
	return &domain.Asset{ID: id, CurrentVersion: 1, CurrentVersionID: "v1"}, nil
}

func (f *metadataFake) GetMetadata(_ context.Context, id string) (*domain.MetadataView, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.view != nil {
		return f.view, nil
	}
	return &domain.MetadataView{AssetID: id, Metadata: domain.Metadata{"title": "clip"}, Version: 1, VersionID: "v1"}, nil
}

func (f *metadataFake) UpdateMetadata(ctx context.Context, assetID, versionID string, patch domain.Metadata) (domain.VersionRef, error) {
	f.gotToken = versionID
	f.gotPatch = patch
	f.gotActor = domain.ActorFromContext(ctx)
	if f.err != nil {
		return domain.VersionRef{}, f.err
	}
	return domain.VersionRef{AssetID: assetID, Version: 2, VersionID: "v2"}, nil
}

func (f *metadataFake) ResolveConflict(_ context.Context, assetID string, resolved domain.Metadata) (domain.VersionRef, error) {
	f.resolved = resolved
	if f.err != nil {
		return domain.VersionRef{}, f.err
	}
	return domain.VersionRef{AssetID: assetID, Version: 3, VersionID: "v3"}, nil
}

type rollbackFake struct {
	err       error
	gotTarget int
}

func (f *rollbackFake) Rollback(_ context.Context, assetID string, target int) (domain.VersionRef, error) {
	f.gotTarget = target
	if f.err != nil {
		return domain.VersionRef{}, f.err
	}
	return domain.VersionRef{AssetID: assetID, Version: 4, VersionID: "v4"}, nil
}

func (f *rollbackFake) ListVersions(_ context.Context, assetID string) ([]domain.VersionSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.VersionSnapshot{{AssetID: assetID, Version: 1, VersionID: "v1"}}, nil
}

func (f *rollbackFake) GetVersion(_ context.Context, assetID string, version int) (*domain.VersionSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.VersionSnapshot{AssetID: assetID, Version: version, VersionID: "v1"}, nil
}

type jobsFake struct {
	err      error
	gotRetry domain.RetryConfig
}

func (f *jobsFake) job(id string, status domain.JobStatus) *domain.ProcessingJob {
	return &domain.ProcessingJob{ID: id, AssetID: "a-1", Status: status, CreatedAt: time.Unix(0, 0).UTC()}
}

func (f *jobsFake) GetJob(_ context.Context, jobID string) (*domain.ProcessingJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.job(jobID, domain.JobStatusProcessing), nil
}

func (f *jobsFake) GetLatestJobForAsset(_ context.Context, _ string) (*domain.ProcessingJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.job("j-latest", domain.JobStatusCompleted), nil
}

func (f *jobsFake) RetryJob(_ context.Context, jobID string, cfg domain.RetryConfig) (*domain.RetryResult, error) {
	f.gotRetry = cfg
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RetryResult{JobID: jobID, RetryCount: 1, Status: domain.JobStatusRetrying}, nil
}

func (f *jobsFake) CancelJob(_ context.Context, jobID string) (*domain.ProcessingJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.job(jobID, domain.JobStatusCancelled), nil
}

func (f *jobsFake) Reprocess(_ context.Context, _ string) (*domain.ProcessingJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.job("j-new", domain.JobStatusQueued), nil
}

type auditFake struct {
	gotLimit      int
	gotController string
}

func (f *auditFake) ListActionsForAsset(_ context.Context, assetID string, limit int) ([]domain.AuditEntry, error) {
	f.gotLimit = limit
	return []domain.AuditEntry{{ID: "e-1", AssetID: assetID, Action: domain.ActionUserUpload}}, nil
}

func (f *auditFake) ListRecentActions(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	f.gotLimit = limit
	return []domain.AuditEntry{}, nil
}

func (f *auditFake) ListActionsByController(_ context.Context, controller string, limit int) ([]domain.AuditEntry, error) {
	f.gotController = controller
	f.gotLimit = limit
	return []domain.AuditEntry{{ID: "e-2", Controller: controller, Action: domain.ActionIngress}}, nil
}

type testServices struct {
	ingest   *ingestFake
	metadata *metadataFake
	rollback *rollbackFake
	jobs     *jobsFake
	audit    *auditFake
}

func newTestServices() *testServices {
	return &testServices{
		ingest:   &ingestFake{result: &domain.IngestResult{AssetID: "a-1", JobID: "j-1"}},
		metadata: &metadataFake{},
		rollback: &rollbackFake{},
		jobs:     &jobsFake{},
		audit:    &auditFake{},
	}
}

func (s *testServices) handler(cfg config.Config, opts ...Option) http.Handler {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewRouter(cfg, Services{
		Ingest:   s.ingest,
		Assets:   s.metadata,
		Metadata: s.metadata,
		Rollback: s.rollback,
		Jobs:     s.jobs,
		Audit:    s.audit,
	}, opts...).Handler()
}

func newTestHandler(cfg config.Config) http.Handler {
	return newTestServices().handler(cfg)
}
