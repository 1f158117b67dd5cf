package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

type metadataFake struct{ err error }

func (f metadataFake) GetMetadata(_ context.Context, id string) (*domain.MetadataView, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.MetadataView{AssetID: id, Metadata: domain.Metadata{"title": "clip"}, Version: 3, VersionID: "v3"}, nil
}

func (metadataFake) UpdateMetadata(context.Context, string, string, domain.Metadata) (domain.VersionRef, error) {
	return domain.VersionRef{}, nil
}

func (metadataFake) ResolveConflict(context.Context, string, domain.Metadata) (domain.VersionRef, error) {
	return domain.VersionRef{}, nil
}

type rollbackFake struct {
	gotTarget int
	gotActor  string
}

func (f *rollbackFake) Rollback(ctx context.Context, assetID string, target int) (domain.VersionRef, error) {
	f.gotTarget = target
	f.gotActor = domain.ActorFromContext(ctx)
	return domain.VersionRef{AssetID: assetID, Version: 5, VersionID: "v5"}, nil
}

func (f *rollbackFake) ListVersions(context.Context, string) ([]domain.VersionSnapshot, error) {
	return nil, nil
}

func (f *rollbackFake) GetVersion(context.Context, string, int) (*domain.VersionSnapshot, error) {
	return nil, nil
}

type jobsFake struct{}

func (jobsFake) GetJob(_ context.Context, id string) (*domain.ProcessingJob, error) {
	return &domain.ProcessingJob{ID: id, Status: domain.JobStatusProcessing, ProgressPercentage: 50}, nil
}

func (jobsFake) GetLatestJobForAsset(_ context.Context, assetID string) (*domain.ProcessingJob, error) {
	return &domain.ProcessingJob{ID: "j-latest", AssetID: assetID, Status: domain.JobStatusCompleted}, nil
}

func (jobsFake) RetryJob(context.Context, string, domain.RetryConfig) (*domain.RetryResult, error) {
	return nil, nil
}

func (jobsFake) CancelJob(context.Context, string) (*domain.ProcessingJob, error) { return nil, nil }
func (jobsFake) Reprocess(context.Context, string) (*domain.ProcessingJob, error) { return nil, nil }

type auditFake struct{ gotLimit int }

func (f *auditFake) ListActionsForAsset(_ context.Context, assetID string, limit int) ([]domain.AuditEntry, error) {
	f.gotLimit = limit
	return []domain.AuditEntry{{ID: "e-1", AssetID: assetID, Action: domain.ActionRollback}}, nil
}

func (f *auditFake) ListRecentActions(context.Context, int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *auditFake) ListActionsByController(context.Context, string, int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func newTestServer(md metadataFake, rb *rollbackFake, audit *auditFake) *Server {
	return NewServer("media-asset-hub", "test", Services{
		Metadata: md,
		Rollback: rb,
		Jobs:     jobsFake{},
		Audit:    audit,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return text.Text
}

func TestGetAssetMetadataReturnsVersionToken(t *testing.T) {
	s := newTestServer(metadataFake{}, &rollbackFake{}, &auditFake{})
	res, err := s.getAssetMetadata(context.Background(), callRequest("get_asset_metadata", map[string]any{"asset_id": "a-1"}))
	if err != nil {
		t.Fatalf("tool error = %v", err)
	}
	var view domain.MetadataView
	if err := json.Unmarshal([]byte(resultText(t, res)), &view); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if view.VersionID != "v3" || view.Metadata.String("title") != "clip" {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestGetAssetMetadataReportsDomainErrorsInResult(t *testing.T) {
	s := newTestServer(metadataFake{err: domain.WrapError(domain.ErrAssetNotFound, "get", errors.New("id=x"))}, &rollbackFake{}, &auditFake{})
	res, err := s.getAssetMetadata(context.Background(), callRequest("get_asset_metadata", map[string]any{"asset_id": "x"}))
	if err != nil {
		t.Fatalf("protocol error = %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "not found") {
		t.Fatalf("expected error result, got %+v", res)
	}

	res, _ = s.getAssetMetadata(context.Background(), callRequest("get_asset_metadata", map[string]any{}))
	if !res.IsError {
		t.Fatalf("missing asset_id should be a tool error")
	}
}

func TestGetJobStatusByJobOrAsset(t *testing.T) {
	s := newTestServer(metadataFake{}, &rollbackFake{}, &auditFake{})

	res, _ := s.getJobStatus(context.Background(), callRequest("get_job_status", map[string]any{"job_id": "j-1"}))
	if !strings.Contains(resultText(t, res), `"status":"processing"`) {
		t.Fatalf("unexpected job result %s", resultText(t, res))
	}
	res, _ = s.getJobStatus(context.Background(), callRequest("get_job_status", map[string]any{"asset_id": "a-1"}))
	if !strings.Contains(resultText(t, res), `"job_id":"j-latest"`) {
		t.Fatalf("unexpected latest job result %s", resultText(t, res))
	}
	res, _ = s.getJobStatus(context.Background(), callRequest("get_job_status", map[string]any{}))
	if !res.IsError {
		t.Fatalf("expected error without identifiers")
	}
}

func TestRollbackAssetAttributesActor(t *testing.T) {
	rb := &rollbackFake{}
	s := newTestServer(metadataFake{}, rb, &auditFake{})

	res, err := s.rollbackAsset(context.Background(), callRequest("rollback_asset", map[string]any{"asset_id": "a-1", "target_version": float64(2)}))
	if err != nil || res.IsError {
		t.Fatalf("rollback failed: %v %+v", err, res)
	}
	if rb.gotTarget != 2 || rb.gotActor != mcpActor {
		t.Fatalf("unexpected rollback call: target=%d actor=%q", rb.gotTarget, rb.gotActor)
	}
}

func TestListAssetActionsPassesLimit(t *testing.T) {
	audit := &auditFake{}
	s := newTestServer(metadataFake{}, &rollbackFake{}, audit)

	res, err := s.listAssetActions(context.Background(), callRequest("list_asset_actions", map[string]any{"asset_id": "a-1", "limit": float64(5)}))
	if err != nil || res.IsError {
		t.Fatalf("list failed: %v %+v", err, res)
	}
	if audit.gotLimit != 5 {
		t.Fatalf("expected limit 5, got %d", audit.gotLimit)
	}
	if !strings.Contains(resultText(t, res), `"action":"rollback"`) {
		t.Fatalf("unexpected actions %s", resultText(t, res))
	}
}
