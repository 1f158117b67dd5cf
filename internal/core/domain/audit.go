package domain

import (
	"context"
	"strings"
	"time"
)

type AuditAction string

const (
	ActionIngress           AuditAction = "ingress"
	ActionEgress            AuditAction = "egress"
	ActionUserUpload        AuditAction = "user_upload"
	ActionAPISubmission     AuditAction = "api_submission"
	ActionDuplicateDetected AuditAction = "duplicate_detected"
	ActionMetadataUpdate    AuditAction = "metadata_update"
	ActionConflictDetected  AuditAction = "conflict_detected"
	ActionConflictResolved  AuditAction = "conflict_resolved"
	ActionRollback          AuditAction = "rollback"
	ActionJobCreated        AuditAction = "job_created"
	ActionJobStarted        AuditAction = "job_started"
	ActionJobProgress       AuditAction = "job_progress"
	ActionJobCompleted      AuditAction = "job_completed"
	ActionJobFailed         AuditAction = "job_failed"
	ActionJobRetry          AuditAction = "job_retry"
	ActionJobCancelled      AuditAction = "job_cancelled"
	ActionJobReprocess      AuditAction = "job_reprocess"
	ActionGraphIndexed      AuditAction = "graph_indexed"
)

type AuditDirection string

const (
	DirectionInbound  AuditDirection = "inbound"
	DirectionOutbound AuditDirection = "outbound"
	DirectionInternal AuditDirection = "internal"
)

type AuditStatus string

const (
	AuditSuccess    AuditStatus = "success"
	AuditFailed     AuditStatus = "failed"
	AuditInProgress AuditStatus = "in_progress"
	AuditInitiated  AuditStatus = "initiated"
)

// AuditEntry is one append-only record of an action taken on or around an
// asset. AssetID is empty for actions that are not tied to one asset.
type AuditEntry struct {
	ID                string         `json:"id"`
	AssetID           string         `json:"asset_id,omitempty"`
	Action            AuditAction    `json:"action"`
	Direction         AuditDirection `json:"direction"`
	Controller        string         `json:"controller"`
	ControllerVersion string         `json:"controller_version"`
	SourceSystem      string         `json:"source_system,omitempty"`
	DestinationSystem string         `json:"destination_system,omitempty"`
	Status            AuditStatus    `json:"status"`
	Actor             string         `json:"actor"`
	Details           Metadata       `json:"details,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// DefaultActor is recorded when no caller identity is attached to the context.
const DefaultActor = "system"

type actorKey struct{}

// WithActor attaches the acting identity to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return DefaultActor
	}
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return DefaultActor
}
