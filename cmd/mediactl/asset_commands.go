package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var metadataFlag string
	var tagsFlag string
	var apiSubmission bool

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Upload a file through the deduplication gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			source := ""
			if apiSubmission {
				source = string(domain.SourceAPISubmission)
			}
			body, contentType, err := multipartUpload(args[0], file, map[string]string{
				"metadata":         metadataFlag,
				"operational_tags": tagsFlag,
				"source":           source,
			})
			if err != nil {
				return err
			}

			var result domain.IngestResult
			err = ctx.client().do(cmd.Context(), request{
				method:      http.MethodPost,
				path:        "/v1/assets",
				body:        body,
				contentType: contentType,
			}, &result)
			if err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, result)
			}
			if result.Duplicate {
				fmt.Fprintf(cmd.OutOrStdout(), "Duplicate of asset %s\n", result.AssetID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created asset %s (job %s)\n", result.AssetID, result.JobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&metadataFlag, "metadata", "", "Initial metadata as a JSON object")
	cmd.Flags().StringVar(&tagsFlag, "tags", "", "Operational tags as a JSON object")
	cmd.Flags().BoolVar(&apiSubmission, "api-submission", false, "Record the source as an API submission instead of a user upload")
	return cmd
}

func newMetadataCommand(ctx *commandContext) *cobra.Command {
	metadataCmd := &cobra.Command{
		Use:   "metadata",
		Short: "Read and edit versioned asset metadata",
	}
	metadataCmd.AddCommand(newMetadataGetCommand(ctx))
	metadataCmd.AddCommand(newMetadataSetCommand(ctx))
	metadataCmd.AddCommand(newMetadataResolveCommand(ctx))
	return metadataCmd
}

func newMetadataGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get <asset-id>",
		Short: "Show the current metadata and version token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view domain.MetadataView
			err := ctx.client().do(cmd.Context(), request{
				method: http.MethodGet,
				path:   "/v1/assets/" + url.PathEscape(args[0]) + "/metadata",
			}, &view)
			if err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, view)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Asset %s  version %d  token %s\n", view.AssetID, view.Version, view.VersionID)
			fmt.Fprint(cmd.OutOrStdout(), renderMetadata(view.Metadata))
			return nil
		},
	}
}

func newMetadataSetCommand(ctx *commandContext) *cobra.Command {
	var versionID string
	var patchFlag string
	var fields []string

	cmd := &cobra.Command{
		Use:   "set <asset-id>",
		Short: "Merge changes into the metadata, guarded by a version token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := buildPatch(patchFlag, fields)
			if err != nil {
				return err
			}
			body, err := jsonBody(map[string]any{"metadata": patch})
			if err != nil {
				return err
			}
			var ref domain.VersionRef
			err = ctx.client().do(cmd.Context(), request{
				method:      http.MethodPatch,
				path:        "/v1/assets/" + url.PathEscape(args[0]) + "/metadata",
				body:        body,
				contentType: "application/json",
				ifMatch:     versionID,
			}, &ref)
			if err != nil {
				return err
			}
			return printVersionRef(cmd, ctx, ref)
		},
	}
	cmd.Flags().StringVar(&versionID, "version-id", "", "Version token the change is based on (empty skips the check)")
	cmd.Flags().StringVar(&patchFlag, "patch", "", "Changes as a JSON object")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Single change as key=value; repeatable")
	return cmd
}

func newMetadataResolveCommand(ctx *commandContext) *cobra.Command {
	var patchFlag string
	var fields []string

	cmd := &cobra.Command{
		Use:   "resolve <asset-id>",
		Short: "Write a manually merged metadata state after a conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := buildPatch(patchFlag, fields)
			if err != nil {
				return err
			}
			body, err := jsonBody(map[string]any{"metadata": resolved})
			if err != nil {
				return err
			}
			var ref domain.VersionRef
			err = ctx.client().do(cmd.Context(), request{
				method:      http.MethodPost,
				path:        "/v1/assets/" + url.PathEscape(args[0]) + "/metadata/resolve",
				body:        body,
				contentType: "application/json",
			}, &ref)
			if err != nil {
				return err
			}
			return printVersionRef(cmd, ctx, ref)
		},
	}
	cmd.Flags().StringVar(&patchFlag, "patch", "", "Resolved metadata as a JSON object")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Single value as key=value; repeatable")
	return cmd
}

func newVersionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <asset-id>",
		Short: "List the metadata version history of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				AssetID  string                   `json:"asset_id"`
				Versions []domain.VersionSnapshot `json:"versions"`
			}
			err := ctx.client().do(cmd.Context(), request{
				method: http.MethodGet,
				path:   "/v1/assets/" + url.PathEscape(args[0]) + "/versions",
			}, &resp)
			if err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp)
			}
			if len(resp.Versions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No archived versions")
				return nil
			}
			rows := make([][]string, 0, len(resp.Versions))
			for _, v := range resp.Versions {
				resolved := ""
				if v.ConflictResolved {
					resolved = "yes"
				}
				rows = append(rows, []string{
					strconv.Itoa(v.Version),
					v.VersionID,
					v.CreatedBy,
					v.CreatedAt.Format("2006-01-02 15:04:05"),
					resolved,
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Version", "Token", "Author", "Created", "Resolved"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newRollbackCommand(ctx *commandContext) *cobra.Command {
	var target int

	cmd := &cobra.Command{
		Use:   "rollback <asset-id>",
		Short: "Restore an archived version as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if target <= 0 {
				return fmt.Errorf("--to must be a positive version number")
			}
			body, err := jsonBody(map[string]int{"target_version": target})
			if err != nil {
				return err
			}
			var ref domain.VersionRef
			err = ctx.client().do(cmd.Context(), request{
				method:      http.MethodPost,
				path:        "/v1/assets/" + url.PathEscape(args[0]) + "/rollback",
				body:        body,
				contentType: "application/json",
			}, &ref)
			if err != nil {
				return err
			}
			return printVersionRef(cmd, ctx, ref)
		},
	}
	cmd.Flags().IntVar(&target, "to", 0, "Version number to restore")
	return cmd
}

func printVersionRef(cmd *cobra.Command, ctx *commandContext, ref domain.VersionRef) error {
	if ctx.json {
		return writeJSON(cmd, ref)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Asset %s is now at version %d (token %s)\n", ref.AssetID, ref.Version, ref.VersionID)
	return nil
}

// buildPatch merges a JSON object flag with key=value pairs; pairs win.
func buildPatch(raw string, fields []string) (domain.Metadata, error) {
	patch := domain.Metadata{}
	if strings.TrimSpace(raw) != "" {
		parsed, err := domain.ParseMetadata([]byte(raw))
		if err != nil {
			return nil, err
		}
		patch = parsed
	}
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --field %q, expected key=value", field)
		}
		patch[key] = value
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("no changes given; use --patch or --field")
	}
	return patch, nil
}

func renderMetadata(m domain.Metadata) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, formatValue(m[k])})
	}
	return renderTable([]string{"Key", "Value"}, rows, nil)
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
