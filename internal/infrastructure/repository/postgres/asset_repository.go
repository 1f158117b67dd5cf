package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

const assetColumns = `id, content_hash, filename, asset_type, mime_type, size_bytes, storage_key, source_system, status,
	current_version, current_version_id, metadata, operational_tags, uploaded_by, created_at, updated_at, processing_completed_at`

type AssetRepository struct {
	db *sql.DB
}

func NewAssetRepository(db *sql.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

func (r *AssetRepository) FindByHash(ctx context.Context, contentHash string) (*domain.Asset, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+assetColumns+`
FROM assets
WHERE content_hash = $1
`, contentHash)
	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAssetNotFound
		}
		return nil, persistenceError("find asset by hash", err)
	}
	return asset, nil
}

func (r *AssetRepository) CreateWithJob(ctx context.Context, asset *domain.Asset, job *domain.ProcessingJob) error {
	metadataJSON, err := asset.Metadata.Encode()
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tagsJSON, err := asset.OperationalTags.Encode()
	if err != nil {
		return fmt.Errorf("marshal operational tags: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError("begin create asset tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO assets (
	id, content_hash, filename, asset_type, mime_type, size_bytes, storage_key, source_system, status,
	current_version, current_version_id, metadata, operational_tags, uploaded_by, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`,
		asset.ID, asset.ContentHash, asset.Filename, string(asset.AssetType), asset.MimeType, asset.SizeBytes,
		asset.StorageKey, string(asset.SourceSystem), string(asset.Status), asset.CurrentVersion, asset.CurrentVersionID,
		metadataJSON, tagsJSON, asset.UploadedBy, asset.CreatedAt, asset.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, contentHashIndex) {
			return domain.WrapError(domain.ErrDuplicateContent, "insert asset", err)
		}
		return persistenceError("insert asset", err)
	}

	if err := insertJob(ctx, tx, job); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return persistenceError("commit create asset tx", err)
	}
	return nil
}

func (r *AssetRepository) GetByID(ctx context.Context, id string) (*domain.Asset, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+assetColumns+`
FROM assets
WHERE id = $1
`, id)
	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAssetNotFound
		}
		return nil, persistenceError("get asset", err)
	}
	return asset, nil
}

// ApplyMetadataChange runs read-check-archive-advance under a row lock. Any
// error rolls the whole change back.
func (r *AssetRepository) ApplyMetadataChange(ctx context.Context, change domain.MetadataChange) (domain.VersionRef, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.VersionRef{}, persistenceError("begin metadata tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var (
		currentVersion   int
		currentVersionID string
		metadataRaw      []byte
	)
	err = tx.QueryRowContext(ctx, `
SELECT current_version, current_version_id, metadata
FROM assets
WHERE id = $1
FOR UPDATE
`, change.AssetID).Scan(&currentVersion, &currentVersionID, &metadataRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.VersionRef{}, domain.ErrAssetNotFound
		}
		return domain.VersionRef{}, persistenceError("lock asset", err)
	}

	if change.ExpectedVersionID != "" && change.ExpectedVersionID != currentVersionID {
		return domain.VersionRef{}, &domain.ConflictError{
			AssetID:          change.AssetID,
			YourVersionID:    change.ExpectedVersionID,
			CurrentVersionID: currentVersionID,
			CurrentVersion:   currentVersion,
		}
	}

	current, err := domain.ParseMetadata(metadataRaw)
	if err != nil {
		return domain.VersionRef{}, persistenceError("decode stored metadata", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO version_snapshots (asset_id, version, version_id, metadata, created_at, created_by, conflict_resolved)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, change.AssetID, currentVersion, currentVersionID, metadataRaw, change.At, change.Actor, change.ConflictResolved)
	if err != nil {
		return domain.VersionRef{}, persistenceError("insert version snapshot", err)
	}

	next := current.Merge(change.Patch)
	if change.Replace {
		next = change.Patch.Clone()
	}
	nextJSON, err := next.Encode()
	if err != nil {
		return domain.VersionRef{}, fmt.Errorf("marshal metadata: %w", err)
	}

	ref := domain.VersionRef{AssetID: change.AssetID, Version: currentVersion + 1, VersionID: change.NewVersionID}
	_, err = tx.ExecContext(ctx, `
UPDATE assets
SET metadata = $2, current_version = $3, current_version_id = $4, updated_at = $5
WHERE id = $1
`, change.AssetID, nextJSON, ref.Version, ref.VersionID, change.At)
	if err != nil {
		return domain.VersionRef{}, persistenceError("advance asset version", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.VersionRef{}, persistenceError("commit metadata tx", err)
	}
	return ref, nil
}

// UpdateStatus keeps processing_completed_at when completedAt is nil.
func (r *AssetRepository) UpdateStatus(ctx context.Context, id string, status domain.AssetStatus, completedAt *time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE assets
SET status = $2, processing_completed_at = COALESCE($3, processing_completed_at), updated_at = $4
WHERE id = $1
`, id, string(status), nullableTime(completedAt), time.Now().UTC())
	if err != nil {
		return persistenceError("update asset status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return persistenceError("update asset status rows affected", err)
	}
	if rows == 0 {
		return domain.ErrAssetNotFound
	}
	return nil
}

func (r *AssetRepository) ListVersions(ctx context.Context, assetID string) ([]domain.VersionSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT asset_id, version, version_id, metadata, created_at, created_by, conflict_resolved
FROM version_snapshots
WHERE asset_id = $1
ORDER BY version ASC
`, assetID)
	if err != nil {
		return nil, persistenceError("list versions", err)
	}
	defer rows.Close()

	out := make([]domain.VersionSnapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, persistenceError("scan version", err)
		}
		out = append(out, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate versions", err)
	}
	return out, nil
}

func (r *AssetRepository) GetVersion(ctx context.Context, assetID string, version int) (*domain.VersionSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT asset_id, version, version_id, metadata, created_at, created_by, conflict_resolved
FROM version_snapshots
WHERE asset_id = $1 AND version = $2
`, assetID, version)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrVersionNotFound
		}
		return nil, persistenceError("get version", err)
	}
	return snap, nil
}

func scanAsset(row rowScanner) (*domain.Asset, error) {
	var (
		asset        domain.Asset
		assetType    string
		source       string
		status       string
		metadataRaw  []byte
		tagsRaw      []byte
		completedRaw sql.NullTime
	)
	err := row.Scan(
		&asset.ID, &asset.ContentHash, &asset.Filename, &assetType, &asset.MimeType, &asset.SizeBytes,
		&asset.StorageKey, &source, &status, &asset.CurrentVersion, &asset.CurrentVersionID,
		&metadataRaw, &tagsRaw, &asset.UploadedBy, &asset.CreatedAt, &asset.UpdatedAt, &completedRaw,
	)
	if err != nil {
		return nil, err
	}
	if asset.Metadata, err = domain.ParseMetadata(metadataRaw); err != nil {
		return nil, err
	}
	if asset.OperationalTags, err = domain.ParseMetadata(tagsRaw); err != nil {
		return nil, err
	}
	asset.AssetType = domain.AssetType(assetType)
	asset.SourceSystem = domain.SourceSystem(source)
	asset.Status = domain.AssetStatus(status)
	asset.ProcessingCompletedAt = timePtr(completedRaw)
	return &asset, nil
}

func scanSnapshot(row rowScanner) (*domain.VersionSnapshot, error) {
	var (
		snap        domain.VersionSnapshot
		metadataRaw []byte
	)
	if err := row.Scan(
		&snap.AssetID, &snap.Version, &snap.VersionID, &metadataRaw, &snap.CreatedAt, &snap.CreatedBy, &snap.ConflictResolved,
	); err != nil {
		return nil, err
	}
	md, err := domain.ParseMetadata(metadataRaw)
	if err != nil {
		return nil, err
	}
	snap.Metadata = md
	return &snap, nil
}

func encodeStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}
