package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/core/ports"
)

// MetadataUseCase implements the optimistic-concurrency metadata protocol.
// Conflicts are detected by version token alone, so two edits touching
// different keys still conflict when the second carries a stale token.
// Accepted patches merge at top-level key granularity.
type MetadataUseCase struct {
	repo   ports.AssetRepository
	audit  *AuditLog
	logger *slog.Logger
}

func NewMetadataUseCase(repo ports.AssetRepository, audit *AuditLog, logger *slog.Logger) *MetadataUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetadataUseCase{repo: repo, audit: audit, logger: logger}
}

func (uc *MetadataUseCase) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	if err := requireID("get asset", "asset id", assetID); err != nil {
		return nil, err
	}
	asset, err := uc.repo.GetByID(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	asset.Metadata = asset.Metadata.Clone()
	asset.OperationalTags = asset.OperationalTags.Clone()
	return asset, nil
}

func (uc *MetadataUseCase) GetMetadata(ctx context.Context, assetID string) (*domain.MetadataView, error) {
	asset, err := uc.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return &domain.MetadataView{
		AssetID:   asset.ID,
		Metadata:  asset.Metadata,
		Version:   asset.CurrentVersion,
		VersionID: asset.CurrentVersionID,
		UpdatedAt: asset.UpdatedAt,
	}, nil
}

// UpdateMetadata merges patch into the current metadata when versionID still
// names the current version. An empty versionID skips the check and the
// write wins unconditionally.
func (uc *MetadataUseCase) UpdateMetadata(
	ctx context.Context,
	assetID, versionID string,
	patch domain.Metadata,
) (domain.VersionRef, error) {
	if err := requireID("update metadata", "asset id", assetID); err != nil {
		return domain.VersionRef{}, err
	}
	normalized, err := domain.NormalizeMetadata(patch)
	if err != nil {
		return domain.VersionRef{}, err
	}
	versionID = strings.TrimSpace(versionID)

	ref, err := uc.repo.ApplyMetadataChange(ctx, domain.MetadataChange{
		AssetID:           assetID,
		ExpectedVersionID: versionID,
		Patch:             normalized,
		NewVersionID:      uuid.NewString(),
		Actor:             domain.ActorFromContext(ctx),
		At:                time.Now().UTC(),
	})
	if err != nil {
		if conflict, ok := domain.AsConflict(err); ok {
			uc.recordConflict(ctx, conflict, normalized)
			return domain.VersionRef{}, err
		}
		return domain.VersionRef{}, fmt.Errorf("update metadata: %w", err)
	}

	details := domain.Metadata{
		"keys":        stringsToAny(normalized.Keys()),
		"new_version": float64(ref.Version),
	}
	if versionID == "" {
		details["token"] = "omitted"
		uc.logger.Warn("metadata_update_without_token", "asset_id", assetID, "version", ref.Version)
	}
	uc.audit.Record(ctx, domain.AuditEntry{
		AssetID: assetID,
		Action:  domain.ActionMetadataUpdate,
		Details: details,
	})
	return ref, nil
}

// ResolveConflict replaces the whole metadata document with resolved. The
// pre-resolution state is archived first.
func (uc *MetadataUseCase) ResolveConflict(ctx context.Context, assetID string, resolved domain.Metadata) (domain.VersionRef, error) {
	if err := requireID("resolve conflict", "asset id", assetID); err != nil {
		return domain.VersionRef{}, err
	}
	if resolved == nil {
		return domain.VersionRef{}, domain.WrapError(domain.ErrInvalidInput, "resolve conflict", errors.New("resolved metadata is required"))
	}
	normalized, err := domain.NormalizeMetadata(resolved)
	if err != nil {
		return domain.VersionRef{}, err
	}

	ref, err := uc.repo.ApplyMetadataChange(ctx, domain.MetadataChange{
		AssetID:          assetID,
		Patch:            normalized,
		Replace:          true,
		NewVersionID:     uuid.NewString(),
		Actor:            domain.ActorFromContext(ctx),
		ConflictResolved: true,
		At:               time.Now().UTC(),
	})
	if err != nil {
		return domain.VersionRef{}, fmt.Errorf("resolve conflict: %w", err)
	}

	uc.audit.Record(ctx, domain.AuditEntry{
		AssetID: assetID,
		Action:  domain.ActionConflictResolved,
		Details: domain.Metadata{
			"new_version": float64(ref.Version),
			"keys":        stringsToAny(normalized.Keys()),
		},
	})
	return ref, nil
}

func (uc *MetadataUseCase) recordConflict(ctx context.Context, conflict *domain.ConflictError, patch domain.Metadata) {
	uc.logger.Info("metadata_conflict",
		"asset_id", conflict.AssetID,
		"your_version", conflict.YourVersionID,
		"current_version", conflict.CurrentVersionID,
	)
	uc.audit.Record(ctx, domain.AuditEntry{
		AssetID: conflict.AssetID,
		Action:  domain.ActionConflictDetected,
		Status:  domain.AuditFailed,
		Details: domain.Metadata{
			"your_version":           conflict.YourVersionID,
			"current_version":        conflict.CurrentVersionID,
			"current_version_number": float64(conflict.CurrentVersion),
			"keys":                   stringsToAny(patch.Keys()),
		},
	})
}

func requireID(op, name, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("%s is required", name))
	}
	return nil
}

func stringsToAny(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
