package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/core/ports"
)

type IngestOptions struct {
	MaxUploadBytes        int64
	EstimatePerCapability time.Duration
}

type IngestAssetUseCase struct {
	repo     ports.AssetRepository
	storage  ports.ObjectStorage
	queue    ports.MessageQueue
	hasher   ports.ContentHasher
	pipeline ports.EnrichmentPipeline
	audit    *AuditLog
	logger   *slog.Logger
	opts     IngestOptions
}

func NewIngestAssetUseCase(
	repo ports.AssetRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	hasher ports.ContentHasher,
	pipeline ports.EnrichmentPipeline,
	audit *AuditLog,
	logger *slog.Logger,
	opts IngestOptions,
) *IngestAssetUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 512 << 20
	}
	return &IngestAssetUseCase{
		repo:     repo,
		storage:  storage,
		queue:    queue,
		hasher:   hasher,
		pipeline: pipeline,
		audit:    audit,
		logger:   logger,
		opts:     opts,
	}
}

func (uc *IngestAssetUseCase) Ingest(ctx context.Context, req domain.IngestRequest) (*domain.IngestResult, error) {
	data, err := uc.readBody(req.Body)
	if err != nil {
		return nil, err
	}
	if req.Metadata, err = domain.NormalizeMetadata(req.Metadata); err != nil {
		return nil, err
	}
	if req.OperationalTags, err = domain.NormalizeMetadata(req.OperationalTags); err != nil {
		return nil, err
	}
	contentHash := uc.hasher.Sum(data)

	existing, err := uc.repo.FindByHash(ctx, contentHash)
	switch {
	case err == nil:
		return uc.duplicate(ctx, existing, req), nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("lookup content hash: %w", err)
	}

	asset, job := uc.buildAsset(ctx, req, data, contentHash)

	if err := uc.storage.Save(ctx, asset.StorageKey, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	if err := uc.repo.CreateWithJob(ctx, asset, job); err != nil {
		if !errors.Is(err, domain.ErrDuplicateContent) {
			return nil, fmt.Errorf("create asset: %w", err)
		}
		// Lost the race against a concurrent ingest of the same bytes.
		winner, findErr := uc.repo.FindByHash(ctx, contentHash)
		if findErr != nil {
			return nil, fmt.Errorf("resolve duplicate content: %w", findErr)
		}
		return uc.duplicate(ctx, winner, req), nil
	}

	uc.audit.Record(ctx, domain.AuditEntry{
		AssetID:      asset.ID,
		Action:       ingestAction(asset.SourceSystem),
		Direction:    domain.DirectionInbound,
		SourceSystem: string(asset.SourceSystem),
		Details: domain.Metadata{
			"filename":     asset.Filename,
			"content_hash": asset.ContentHash,
			"size_bytes":   float64(asset.SizeBytes),
			"asset_type":   string(asset.AssetType),
		},
	})
	uc.audit.Record(ctx, domain.AuditEntry{
		AssetID: asset.ID,
		Action:  domain.ActionJobCreated,
		Details: domain.Metadata{"job_id": job.ID, "workflow": job.WorkflowName},
	})

	// The job is durable once CreateWithJob commits. A lost publish is
	// recovered by ResumePending, so the caller still gets the job id.
	if err := uc.queue.PublishJobQueued(ctx, job.ID); err != nil {
		uc.logger.Warn("job_publish_deferred", "asset_id", asset.ID, "job_id", job.ID, "error", err)
	}

	uc.logger.Info("asset_ingested",
		"asset_id", asset.ID,
		"job_id", job.ID,
		"content_hash", contentHash,
		"workflow", job.WorkflowName,
	)
	return &domain.IngestResult{AssetID: asset.ID, JobID: job.ID}, nil
}

func (uc *IngestAssetUseCase) readBody(body io.Reader) ([]byte, error) {
	if body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read content", errors.New("content is required"))
	}
	data, err := io.ReadAll(io.LimitReader(body, uc.opts.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read content", errors.New("content is empty"))
	}
	if int64(len(data)) > uc.opts.MaxUploadBytes {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"read content",
			fmt.Errorf("content exceeds %d bytes", uc.opts.MaxUploadBytes),
		)
	}
	return data, nil
}

func (uc *IngestAssetUseCase) buildAsset(
	ctx context.Context,
	req domain.IngestRequest,
	data []byte,
	contentHash string,
) (*domain.Asset, *domain.ProcessingJob) {
	filename := sanitizeFilename(req.Filename)
	mimeType := detectMimeType(filename, data)
	source := req.SourceSystem
	if source == "" {
		source = domain.SourceUserUpload
	}
	now := time.Now().UTC()

	asset := &domain.Asset{
		ID:               uuid.NewString(),
		ContentHash:      contentHash,
		Filename:         filename,
		AssetType:        domain.InferAssetType(filename, mimeType),
		MimeType:         mimeType,
		SizeBytes:        int64(len(data)),
		StorageKey:       contentKey(contentHash, filename),
		SourceSystem:     source,
		Status:           domain.AssetStatusQueued,
		CurrentVersion:   1,
		CurrentVersionID: uuid.NewString(),
		Metadata:         req.Metadata.Clone(),
		OperationalTags:  req.OperationalTags.Clone(),
		UploadedBy:       domain.ActorFromContext(ctx),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	workflow := uc.pipeline.SelectWorkflow(*asset)
	job := newQueuedJob(asset.ID, workflow, now, uc.opts.EstimatePerCapability)
	return asset, job
}

func (uc *IngestAssetUseCase) duplicate(ctx context.Context, existing *domain.Asset, req domain.IngestRequest) *domain.IngestResult {
	uc.audit.Record(ctx, domain.AuditEntry{
		AssetID:      existing.ID,
		Action:       domain.ActionDuplicateDetected,
		Direction:    domain.DirectionInbound,
		SourceSystem: string(req.SourceSystem),
		Details: domain.Metadata{
			"filename":     req.Filename,
			"content_hash": existing.ContentHash,
		},
	})
	uc.logger.Info("duplicate_detected", "asset_id", existing.ID, "content_hash", existing.ContentHash)
	return &domain.IngestResult{AssetID: existing.ID, Duplicate: true}
}

func newQueuedJob(assetID string, workflow domain.Workflow, now time.Time, perCapability time.Duration) *domain.ProcessingJob {
	job := &domain.ProcessingJob{
		ID:                    uuid.NewString(),
		AssetID:               assetID,
		WorkflowName:          workflow.Name,
		Status:                domain.JobStatusQueued,
		CapabilitiesCompleted: []string{},
		CapabilitiesFailed:    []string{},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if perCapability > 0 && len(workflow.Capabilities) > 0 {
		eta := now.Add(time.Duration(len(workflow.Capabilities)) * perCapability)
		job.EstimatedCompletion = &eta
	}
	return job
}

func ingestAction(source domain.SourceSystem) domain.AuditAction {
	switch source {
	case domain.SourceAPISubmission:
		return domain.ActionAPISubmission
	case domain.SourceLocalIngress:
		return domain.ActionIngress
	default:
		return domain.ActionUserUpload
	}
}

func detectMimeType(filename string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		if parsed, _, err := mime.ParseMediaType(byExt); err == nil {
			return parsed
		}
	}
	sniffed := http.DetectContentType(data)
	if parsed, _, err := mime.ParseMediaType(sniffed); err == nil {
		return parsed
	}
	return "application/octet-stream"
}

// contentKey derives a content-addressed storage key so identical bytes
// always land on the same object.
func contentKey(contentHash, filename string) string {
	prefix := contentHash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return fmt.Sprintf("%s/%s/%s", prefix, contentHash, filename)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" {
		base = ""
	}
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "asset.bin"
	}
	return base
}
