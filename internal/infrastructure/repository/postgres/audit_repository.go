package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

const auditColumns = `id, asset_id, action, direction, controller, controller_version, source_system,
	destination_system, status, actor, details, recorded_at`

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	detailsJSON, err := entry.Details.Encode()
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO audit_entries (`+auditColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		entry.ID, nullableString(entry.AssetID), string(entry.Action), string(entry.Direction), entry.Controller,
		entry.ControllerVersion, entry.SourceSystem, entry.DestinationSystem, string(entry.Status), entry.Actor,
		detailsJSON, entry.Timestamp,
	)
	if err != nil {
		return persistenceError("insert audit entry", err)
	}
	return nil
}

func (r *AuditRepository) ListByAsset(ctx context.Context, assetID string, limit int) ([]domain.AuditEntry, error) {
	return r.list(ctx, "list asset audit entries", `
SELECT `+auditColumns+`
FROM audit_entries
WHERE asset_id = $1
ORDER BY recorded_at DESC
LIMIT $2
`, assetID, limit)
}

func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	return r.list(ctx, "list recent audit entries", `
SELECT `+auditColumns+`
FROM audit_entries
ORDER BY recorded_at DESC
LIMIT $1
`, limit)
}

func (r *AuditRepository) ListByController(ctx context.Context, controller string, limit int) ([]domain.AuditEntry, error) {
	return r.list(ctx, "list controller audit entries", `
SELECT `+auditColumns+`
FROM audit_entries
WHERE controller = $1
ORDER BY recorded_at DESC
LIMIT $2
`, controller, limit)
}

func (r *AuditRepository) list(ctx context.Context, op, query string, args ...any) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	defer rows.Close()

	out := make([]domain.AuditEntry, 0)
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, persistenceError(op, err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError(op, err)
	}
	return out, nil
}

func scanAuditEntry(row rowScanner) (domain.AuditEntry, error) {
	var (
		entry      domain.AuditEntry
		assetID    sql.NullString
		action     string
		direction  string
		status     string
		detailsRaw []byte
	)
	err := row.Scan(
		&entry.ID, &assetID, &action, &direction, &entry.Controller, &entry.ControllerVersion, &entry.SourceSystem,
		&entry.DestinationSystem, &status, &entry.Actor, &detailsRaw, &entry.Timestamp,
	)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	details, err := domain.ParseMetadata(detailsRaw)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	entry.AssetID = assetID.String
	entry.Action = domain.AuditAction(action)
	entry.Direction = domain.AuditDirection(direction)
	entry.Status = domain.AuditStatus(status)
	entry.Details = details
	return entry, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
