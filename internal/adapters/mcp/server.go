// Package mcpadapter exposes asset metadata, job status and rollback as MCP
// tools for assistants.
package mcpadapter

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/core/ports"
)

const mcpActor = "mcp"

type Services struct {
	Metadata ports.MetadataService
	Rollback ports.RollbackService
	Jobs     ports.JobService
	Audit    ports.AuditReader
}

type Server struct {
	svc    Services
	logger *slog.Logger
	mcp    *server.MCPServer
}

func NewServer(name, version string, svc Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		logger: logger,
		mcp:    server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("get_asset_metadata",
		mcp.WithDescription("Return the current metadata of an asset together with its version number and version token."),
		mcp.WithString("asset_id", mcp.Required(), mcp.Description("Asset identifier")),
	), s.getAssetMetadata)

	s.mcp.AddTool(mcp.NewTool("get_job_status",
		mcp.WithDescription("Return an enrichment job by job_id, or the newest job of asset_id."),
		mcp.WithString("job_id", mcp.Description("Job identifier")),
		mcp.WithString("asset_id", mcp.Description("Asset identifier, used when job_id is empty")),
	), s.getJobStatus)

	s.mcp.AddTool(mcp.NewTool("list_asset_actions",
		mcp.WithDescription("List audit entries for an asset, newest first."),
		mcp.WithString("asset_id", mcp.Required(), mcp.Description("Asset identifier")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default 50)")),
	), s.listAssetActions)

	s.mcp.AddTool(mcp.NewTool("rollback_asset",
		mcp.WithDescription("Restore an archived metadata version as a new version of the asset."),
		mcp.WithString("asset_id", mcp.Required(), mcp.Description("Asset identifier")),
		mcp.WithNumber("target_version", mcp.Required(), mcp.Description("Archived version number to restore")),
	), s.rollbackAsset)
}

func (s *Server) getAssetMetadata(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	assetID, err := request.RequireString("asset_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	view, err := s.svc.Metadata.GetMetadata(ctx, assetID)
	if err != nil {
		return s.toolError("get_asset_metadata", err), nil
	}
	return jsonResult(view)
}

func (s *Server) getJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	assetID := request.GetString("asset_id", "")

	var (
		job *domain.ProcessingJob
		err error
	)
	switch {
	case jobID != "":
		job, err = s.svc.Jobs.GetJob(ctx, jobID)
	case assetID != "":
		job, err = s.svc.Jobs.GetLatestJobForAsset(ctx, assetID)
	default:
		return mcp.NewToolResultError("job_id or asset_id is required"), nil
	}
	if err != nil {
		return s.toolError("get_job_status", err), nil
	}
	return jsonResult(job)
}

func (s *Server) listAssetActions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	assetID, err := request.RequireString("asset_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := s.svc.Audit.ListActionsForAsset(ctx, assetID, request.GetInt("limit", 0))
	if err != nil {
		return s.toolError("list_asset_actions", err), nil
	}
	return jsonResult(map[string]any{"asset_id": assetID, "actions": entries})
}

func (s *Server) rollbackAsset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	assetID, err := request.RequireString("asset_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := request.RequireInt("target_version")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ref, err := s.svc.Rollback.Rollback(domain.WithActor(ctx, mcpActor), assetID, target)
	if err != nil {
		return s.toolError("rollback_asset", err), nil
	}
	return jsonResult(ref)
}

// toolError reports failures inside the tool result so the model can read
// them; protocol errors are reserved for transport problems.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	s.logger.Warn("mcp_tool_failed", "tool", tool, "error", err)
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}
