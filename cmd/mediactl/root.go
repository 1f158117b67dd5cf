package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

type commandContext struct {
	server  string
	apiKey  string
	userID  string
	timeout time.Duration
	json    bool
}

func (c *commandContext) client() *apiClient {
	return newAPIClient(c.server, c.apiKey, c.userID, c.timeout)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "mediactl",
		Short:         "Manage assets, metadata versions and enrichment jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.server, "server", envOr("MEDIA_HUB_URL", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&ctx.apiKey, "api-key", os.Getenv("MEDIA_HUB_API_KEY"), "Bearer API key")
	rootCmd.PersistentFlags().StringVar(&ctx.userID, "user", envOr("MEDIA_HUB_USER", ""), "User id recorded as the actor of changes")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", 2*time.Minute, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&ctx.json, "json", false, "Print raw JSON")

	rootCmd.AddCommand(newIngestCommand(ctx))
	rootCmd.AddCommand(newMetadataCommand(ctx))
	rootCmd.AddCommand(newVersionsCommand(ctx))
	rootCmd.AddCommand(newRollbackCommand(ctx))
	rootCmd.AddCommand(newJobCommand(ctx))
	rootCmd.AddCommand(newActionsCommand(ctx))

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
