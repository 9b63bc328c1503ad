// Package cmd provides the command-line interface for feedbacksync.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/feedbacksync/internal/config"
	"github.com/danielolaszy/feedbacksync/internal/logging"
	"github.com/danielolaszy/feedbacksync/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "feedbacksync",
	Short: "feedbacksync keeps feedback records in sync with GitHub issues",
	Long: `feedbacksync keeps user feedback and its GitHub issue consistent.

It receives signed GitHub webhook deliveries, closes issues on behalf of
dashboard users, records every transition in an activity ledger and
notifies project owners.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a config file (yaml, json or toml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(healthCmd)
}

// loadConfig reads the configuration named by the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	logging.Debug("configuration loaded",
		"config_file", path,
		"database_driver", cfg.Database.Driver,
		"github_domain", cfg.GitHub.Domain)
	return cfg, nil
}

// openStore connects to the configured database and applies migrations.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	s, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return s, nil
}
