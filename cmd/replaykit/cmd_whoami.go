package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/replaykit/internal/cache"
	"github.com/user/replaykit/pkg/graphql"
)

func init() {
	rootCmd.AddCommand(whoamiCmd)
	whoamiCmd.Flags().Bool("refresh", false, "ignore the cached identity")
}

const identityTTL = 24 * time.Hour

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the user or workspace the configured API key belongs to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		if cfg.APIKey == "" {
			return errNoAPIKey
		}

		var opts []graphql.Option
		if refresh, _ := cmd.Flags().GetBool("refresh"); !refresh {
			opts = append(opts, graphql.WithCache(cache.New(filepath.Join(cfg.DataDir, cache.File)), identityTTL))
		}
		client := graphql.New(cfg.GraphQLURL, opts...)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		id, err := client.ResolveIdentity(ctx, cfg.APIKey)
		if err != nil {
			return err
		}

		switch id.Kind() {
		case "workspace":
			fmt.Fprintf(os.Stdout, "Workspace: %s (%s)\n", id.WorkspaceName, id.WorkspaceID)
		case "user":
			fmt.Fprintf(os.Stdout, "User: %s (%s)\n", id.UserName, id.UserID)
		}
		return nil
	},
}
