package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/core/ports"
)

// RollbackUseCase restores archived snapshots. A rollback is itself a new
// version: the current state is archived and the version number advances.
type RollbackUseCase struct {
	repo  ports.AssetRepository
	audit *AuditLog
}

func NewRollbackUseCase(repo ports.AssetRepository, audit *AuditLog) *RollbackUseCase {
	return &RollbackUseCase{repo: repo, audit: audit}
}

func (uc *RollbackUseCase) Rollback(ctx context.Context, assetID string, targetVersion int) (domain.VersionRef, error) {
	if err := requireID("rollback", "asset id", assetID); err != nil {
		return domain.VersionRef{}, err
	}
	if targetVersion < 1 {
		return domain.VersionRef{}, domain.WrapError(domain.ErrInvalidInput, "rollback", errors.New("target version must be >= 1"))
	}
	if _, err := uc.repo.GetByID(ctx, assetID); err != nil {
		return domain.VersionRef{}, fmt.Errorf("rollback: %w", err)
	}

	// Snapshots never change once written.
	target, err := uc.repo.GetVersion(ctx, assetID, targetVersion)
	if err != nil {
		return domain.VersionRef{}, fmt.Errorf("rollback to version %d: %w", targetVersion, err)
	}

	ref, err := uc.repo.ApplyMetadataChange(ctx, domain.MetadataChange{
		AssetID:      assetID,
		Patch:        target.Metadata.Clone(),
		Replace:      true,
		NewVersionID: uuid.NewString(),
		Actor:        domain.ActorFromContext(ctx),
		At:           time.Now().UTC(),
	})
	if err != nil {
		return domain.VersionRef{}, fmt.Errorf("rollback to version %d: %w", targetVersion, err)
	}

	uc.audit.Record(ctx, domain.AuditEntry{
		AssetID: assetID,
		Action:  domain.ActionRollback,
		Details: domain.Metadata{
			"target_version":    float64(targetVersion),
			"target_version_id": target.VersionID,
			"new_version":       float64(ref.Version),
		},
	})
	return ref, nil
}

func (uc *RollbackUseCase) ListVersions(ctx context.Context, assetID string) ([]domain.VersionSnapshot, error) {
	if err := requireID("list versions", "asset id", assetID); err != nil {
		return nil, err
	}
	if _, err := uc.repo.GetByID(ctx, assetID); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	versions, err := uc.repo.ListVersions(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

func (uc *RollbackUseCase) GetVersion(ctx context.Context, assetID string, version int) (*domain.VersionSnapshot, error) {
	if err := requireID("get version", "asset id", assetID); err != nil {
		return nil, err
	}
	snapshot, err := uc.repo.GetVersion(ctx, assetID, version)
	if err != nil {
		return nil, fmt.Errorf("get version %d: %w", version, err)
	}
	return snapshot, nil
}
