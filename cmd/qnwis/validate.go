package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/config"
)

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Validate configuration and query catalog without starting the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Initialize(ctx, configDir)
			if err != nil {
				return err
			}
			registry, err := catalog.Load(ctx, cfg.CatalogDir)
			if err != nil {
				return err
			}

			// Cross-check: every query an intent, agent, or view references
			// must exist in the catalog.
			for name, intent := range cfg.Intents {
				for _, queryID := range intent.QueryIDs {
					if !registry.Has(queryID) {
						return fmt.Errorf("intent %s references unknown query %s", name, queryID)
					}
				}
			}
			for name, agent := range cfg.Agents {
				for _, queryID := range agent.SelectableQueryIDs {
					if !registry.Has(queryID) {
						return fmt.Errorf("agent %s references unknown query %s", name, queryID)
					}
				}
			}
			for _, view := range cfg.Views {
				if !registry.Has(view.QueryID) {
					return fmt.Errorf("materialized view %s references unknown query %s", view.Name, view.QueryID)
				}
			}

			stats := cfg.Stats()
			slog.Info("Configuration valid",
				"intents", stats.Intents,
				"agents", stats.Agents,
				"materialized_views", stats.Views,
				"queries", registry.Len())
			return nil
		},
	}
}
