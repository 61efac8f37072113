package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/database"
	"github.com/qnwis/qnwis/pkg/materialize"
)

func newRefreshViewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-views",
		Short: "Refresh all configured materialized views once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Initialize(ctx, configDir)
			if err != nil {
				return err
			}
			if len(cfg.Views) == 0 {
				slog.Info("No materialized views configured, nothing to do")
				return nil
			}

			registry, err := catalog.Load(ctx, cfg.CatalogDir)
			if err != nil {
				return err
			}

			dbConfig, err := database.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			dbClient, err := database.NewClient(ctx, dbConfig)
			if err != nil {
				return err
			}
			defer dbClient.Close()

			refresher := materialize.NewRefresher(dbClient.Pool(), registry, cfg.Views)
			if err := refresher.RefreshAll(ctx); err != nil {
				return err
			}
			slog.Info("All materialized views refreshed", "views", len(cfg.Views))
			return nil
		},
	}
}
