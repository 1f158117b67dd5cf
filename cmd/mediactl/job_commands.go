package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and control enrichment jobs",
	}
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobRetryCommand(ctx))
	jobCmd.AddCommand(newJobCancelCommand(ctx))
	jobCmd.AddCommand(newJobReprocessCommand(ctx))
	return jobCmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	var assetID string

	cmd := &cobra.Command{
		Use:   "show [job-id]",
		Short: "Show a job, or the newest job of --asset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			switch {
			case len(args) == 1:
				path = "/v1/jobs/" + url.PathEscape(args[0])
			case assetID != "":
				path = "/v1/assets/" + url.PathEscape(assetID) + "/job"
			default:
				return fmt.Errorf("job id or --asset is required")
			}
			var job domain.ProcessingJob
			if err := ctx.client().do(cmd.Context(), request{method: http.MethodGet, path: path}, &job); err != nil {
				return err
			}
			return printJob(cmd, ctx, job)
		},
	}
	cmd.Flags().StringVar(&assetID, "asset", "", "Asset id whose newest job to show")
	return cmd
}

func newJobRetryCommand(ctx *commandContext) *cobra.Command {
	var maxAttempts int
	var initial time.Duration
	var maxInterval time.Duration
	var multiplier float64

	cmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Retry a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{}
			if maxAttempts > 0 {
				payload["max_attempts"] = maxAttempts
			}
			if initial > 0 {
				payload["initial_interval"] = initial.String()
			}
			if maxInterval > 0 {
				payload["max_interval"] = maxInterval.String()
			}
			if multiplier > 0 {
				payload["backoff_multiplier"] = multiplier
			}
			body, err := jsonBody(payload)
			if err != nil {
				return err
			}
			var result domain.RetryResult
			err = ctx.client().do(cmd.Context(), request{
				method:      http.MethodPost,
				path:        "/v1/jobs/" + url.PathEscape(args[0]) + "/retry",
				body:        body,
				contentType: "application/json",
			}, &result)
			if err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s is %s (retry %d)\n", result.JobID, result.Status, result.RetryCount)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Override the maximum number of attempts")
	cmd.Flags().DurationVar(&initial, "initial-interval", 0, "Override the first backoff delay")
	cmd.Flags().DurationVar(&maxInterval, "max-interval", 0, "Override the backoff ceiling")
	cmd.Flags().Float64Var(&multiplier, "multiplier", 0, "Override the backoff multiplier")
	return cmd
}

func newJobCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued, processing or retrying job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job domain.ProcessingJob
			err := ctx.client().do(cmd.Context(), request{
				method: http.MethodPost,
				path:   "/v1/jobs/" + url.PathEscape(args[0]) + "/cancel",
			}, &job)
			if err != nil {
				return err
			}
			return printJob(cmd, ctx, job)
		},
	}
}

func newJobReprocessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <asset-id>",
		Short: "Queue a fresh enrichment job for an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job domain.ProcessingJob
			err := ctx.client().do(cmd.Context(), request{
				method: http.MethodPost,
				path:   "/v1/assets/" + url.PathEscape(args[0]) + "/reprocess",
			}, &job)
			if err != nil {
				return err
			}
			return printJob(cmd, ctx, job)
		},
	}
}

func printJob(cmd *cobra.Command, ctx *commandContext, job domain.ProcessingJob) error {
	if ctx.json {
		return writeJSON(cmd, job)
	}
	rows := [][]string{
		{"Job", job.ID},
		{"Asset", job.AssetID},
		{"Workflow", job.WorkflowName},
		{"Status", string(job.Status)},
		{"Progress", strconv.Itoa(job.ProgressPercentage) + "%"},
		{"Completed", strings.Join(job.CapabilitiesCompleted, ", ")},
		{"Failed", strings.Join(job.CapabilitiesFailed, ", ")},
		{"Retries", strconv.Itoa(job.RetryCount)},
	}
	if job.ErrorMessage != "" {
		rows = append(rows, []string{"Error", job.ErrorMessage})
	}
	if job.EstimatedCompletion != nil && !job.Status.Terminal() {
		rows = append(rows, []string{"ETA", job.EstimatedCompletion.Format(time.RFC3339)})
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
	return nil
}

func newActionsCommand(ctx *commandContext) *cobra.Command {
	var assetID string
	var controller string
	var limit int

	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			path := "/v1/actions"
			if assetID != "" {
				path = "/v1/assets/" + url.PathEscape(assetID) + "/actions"
			} else if controller != "" {
				query.Set("controller", controller)
			}

			var resp struct {
				Actions []domain.AuditEntry `json:"actions"`
			}
			if err := ctx.client().do(cmd.Context(), request{method: http.MethodGet, path: path, query: query}, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp)
			}
			if len(resp.Actions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No actions recorded")
				return nil
			}
			rows := make([][]string, 0, len(resp.Actions))
			for _, e := range resp.Actions {
				rows = append(rows, []string{
					e.Timestamp.Format("2006-01-02 15:04:05"),
					string(e.Action),
					e.AssetID,
					e.Actor,
					e.Controller,
					string(e.Status),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Time", "Action", "Asset", "Actor", "Controller", "Status"},
				rows,
				nil,
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&assetID, "asset", "", "Only entries for this asset")
	cmd.Flags().StringVar(&controller, "controller", "", "Only entries written by this controller")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries (server default when 0)")
	return cmd
}
