package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/qnwis/qnwis/pkg/api"
	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/database"
	"github.com/qnwis/qnwis/pkg/dataaccess"
	"github.com/qnwis/qnwis/pkg/llm"
	"github.com/qnwis/qnwis/pkg/materialize"
	"github.com/qnwis/qnwis/pkg/pipeline"
	"github.com/qnwis/qnwis/pkg/rag"
)

const httpShutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var httpPort string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), httpPort)
		},
	}
	cmd.Flags().StringVar(&httpPort, "http-port", getEnv("HTTP_PORT", "8080"), "HTTP listen port")
	return cmd
}

func runServe(ctx context.Context, httpPort string) error {
	slog.Info("Starting QNWIS", "http_port", httpPort, "config_dir", configDir)

	// 1. Configuration and query catalog
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return err
	}
	registry, err := catalog.Load(ctx, cfg.CatalogDir)
	if err != nil {
		return err
	}
	slog.Info("Query catalog loaded", "queries", registry.Len())

	// 2. Database (applies pending migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return err
	}
	defer dbClient.Close()

	// 3. Deterministic data layer: engine, cache, audit
	audit := dataaccess.NewAuditLogger(dbClient.Pool())
	engine := dataaccess.NewEngineClient(dbClient, registry, audit,
		dataaccess.WithQueryTimeout(cfg.Timeouts.Query()),
		dataaccess.WithViews(viewBindings(cfg.Views)),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Cache.RedisAddr,
		DB:   cfg.Cache.RedisDB,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The cache layer degrades to direct reads when Redis is away.
		slog.Warn("Redis unreachable at startup, cache reads will fall through",
			"addr", cfg.Cache.RedisAddr, "error", err)
	}
	cached := dataaccess.NewCachedClient(engine, registry, audit, rdb,
		cfg.Cache.Namespace, cfg.SchemaVersion, cfg.Cache.DefaultTTL())

	// 4. LLM provider and pipeline
	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	slog.Info("LLM provider initialized", "provider", provider.Name())

	orchestrator := pipeline.New(cfg, registry, cached, provider, rag.NewNullRetriever())

	// 5. Scheduled materialized view refreshes
	refresher := materialize.NewRefresher(dbClient.Pool(), registry, cfg.Views)
	if err := refresher.Start(ctx); err != nil {
		return err
	}
	defer refresher.Stop()

	// 6. HTTP server
	server := api.NewServer(cfg, registry, orchestrator,
		api.WithCache(cached),
		api.WithPool(dbClient.Pool()),
	)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

// viewBindings indexes the configured materialized views by query for
// transparent engine reads.
func viewBindings(views []config.ViewSpec) map[string][]dataaccess.ViewBinding {
	out := make(map[string][]dataaccess.ViewBinding, len(views))
	for _, v := range views {
		out[v.QueryID] = append(out[v.QueryID], dataaccess.ViewBinding{
			ViewName:    v.Name,
			FixedParams: v.FixedParams,
		})
	}
	return out
}
