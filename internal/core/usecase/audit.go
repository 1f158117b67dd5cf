package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/core/ports"
)

const (
	CoreController        = "media-asset-hub"
	CoreControllerVersion = "1.0.0"

	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditLog records and lists audit entries. Recording is best-effort: the
// action being audited has already committed when Record runs.
type AuditLog struct {
	repo   ports.AuditRepository
	logger *slog.Logger
}

func NewAuditLog(repo ports.AuditRepository, logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog{repo: repo, logger: logger}
}

func (a *AuditLog) Record(ctx context.Context, entry domain.AuditEntry) {
	if a == nil || a.repo == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Actor == "" {
		entry.Actor = domain.ActorFromContext(ctx)
	}
	if entry.Controller == "" {
		entry.Controller = CoreController
		entry.ControllerVersion = CoreControllerVersion
	}
	if entry.Direction == "" {
		entry.Direction = domain.DirectionInternal
	}
	if entry.Status == "" {
		entry.Status = domain.AuditSuccess
	}
	entry.Details = entry.Details.Clone()

	if err := a.repo.Append(context.WithoutCancel(ctx), &entry); err != nil {
		a.logger.Warn("audit_append_failed",
			"action", entry.Action,
			"asset_id", entry.AssetID,
			"error", err,
		)
	}
}

func (a *AuditLog) ListActionsForAsset(ctx context.Context, assetID string, limit int) ([]domain.AuditEntry, error) {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list asset actions", fmt.Errorf("asset id is required"))
	}
	entries, err := a.repo.ListByAsset(ctx, assetID, normalizeAuditLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list asset actions: %w", err)
	}
	return entries, nil
}

func (a *AuditLog) ListRecentActions(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	entries, err := a.repo.ListRecent(ctx, normalizeAuditLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list recent actions: %w", err)
	}
	return entries, nil
}

func (a *AuditLog) ListActionsByController(ctx context.Context, controller string, limit int) ([]domain.AuditEntry, error) {
	controller = strings.TrimSpace(controller)
	if controller == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list controller actions", fmt.Errorf("controller is required"))
	}
	entries, err := a.repo.ListByController(ctx, controller, normalizeAuditLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list controller actions: %w", err)
	}
	return entries, nil
}

func normalizeAuditLimit(limit int) int {
	if limit <= 0 {
		return defaultAuditLimit
	}
	if limit > maxAuditLimit {
		return maxAuditLimit
	}
	return limit
}
