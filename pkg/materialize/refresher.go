// Package materialize maintains the scheduled materialized views declared
// in configuration: create if absent, refresh concurrently, ensure indexes.
package materialize

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/metrics"
)

// Refresher schedules and executes materialized view maintenance.
// Refresh failures are logged and retried at the next tick; they never
// propagate to user requests.
type Refresher struct {
	pool     *pgxpool.Pool
	registry *catalog.Registry
	views    []config.ViewSpec
	cron     *cron.Cron
}

// NewRefresher creates a refresher for the configured views.
func NewRefresher(pool *pgxpool.Pool, registry *catalog.Registry, views []config.ViewSpec) *Refresher {
	return &Refresher{
		pool:     pool,
		registry: registry,
		views:    views,
		cron:     cron.New(),
	}
}

// Start registers every view's schedule and starts the scheduler.
// Each view is also refreshed once immediately so readers never wait for
// the first tick.
func (r *Refresher) Start(ctx context.Context) error {
	for _, spec := range r.views {
		spec := spec
		if _, err := r.cron.AddFunc(spec.RefreshSchedule, func() {
			if err := r.RefreshView(ctx, spec); err != nil {
				slog.Error("Scheduled view refresh failed",
					"view", spec.Name, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule view %s: %w", spec.Name, err)
		}
	}

	r.cron.Start()
	slog.Info("Materialization refresher started", "views", len(r.views))

	go r.refreshAll(ctx)
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (r *Refresher) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	slog.Info("Materialization refresher stopped")
}

// RefreshAll refreshes every configured view once, sequentially. Used by
// Start and by the refresh-views command. The first error per view is
// reported; remaining views still run.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	var firstErr error
	for _, spec := range r.views {
		if err := r.RefreshView(ctx, spec); err != nil {
			slog.Error("View refresh failed", "view", spec.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Refresher) refreshAll(ctx context.Context) {
	_ = r.RefreshAll(ctx)
}

// RefreshView performs one idempotent maintenance pass for a view:
// create if absent from the registered query with fixed parameters
// rendered as literals, refresh concurrently so readers keep the previous
// snapshot, then ensure the declared indexes.
func (r *Refresher) RefreshView(ctx context.Context, spec config.ViewSpec) error {
	start := time.Now()
	err := r.refreshOnce(ctx, spec)
	elapsed := time.Since(start)

	outcome := "ok"
	detail := ""
	if err != nil {
		outcome = "error"
		detail = err.Error()
	}
	metrics.ViewRefreshes.WithLabelValues(spec.Name, outcome).Inc()
	r.logRefresh(ctx, spec.Name, outcome, elapsed, detail)

	if err != nil {
		return err
	}
	slog.Info("Materialized view refreshed", "view", spec.Name, "duration", elapsed)
	return nil
}

func (r *Refresher) refreshOnce(ctx context.Context, spec config.ViewSpec) error {
	def, err := r.registry.Get(spec.QueryID)
	if err != nil {
		return err
	}

	bound, err := catalog.BindParams(def, spec.FixedParams)
	if err != nil {
		return err
	}

	viewSQL, err := RenderViewSQL(def.SQL, bound)
	if err != nil {
		return err
	}

	createStmt := fmt.Sprintf("CREATE MATERIALIZED VIEW IF NOT EXISTS %s AS %s", spec.Name, viewSQL)
	if _, err := r.pool.Exec(ctx, createStmt); err != nil {
		return fmt.Errorf("failed to create view %s: %w", spec.Name, err)
	}

	// Concurrent refresh requires a unique index; the declared index defs
	// are applied both before the first concurrent refresh and after, so
	// a freshly created view picks them up in the same pass.
	if err := r.ensureIndexes(ctx, spec); err != nil {
		return err
	}

	refreshStmt := fmt.Sprintf("REFRESH MATERIALIZED VIEW CONCURRENTLY %s", spec.Name)
	if _, err := r.pool.Exec(ctx, refreshStmt); err != nil {
		return fmt.Errorf("failed to refresh view %s: %w", spec.Name, err)
	}

	return nil
}

func (r *Refresher) ensureIndexes(ctx context.Context, spec config.ViewSpec) error {
	for _, def := range spec.IndexDefs {
		if _, err := r.pool.Exec(ctx, def); err != nil {
			return fmt.Errorf("failed to ensure index on %s: %w", spec.Name, err)
		}
	}
	return nil
}

func (r *Refresher) logRefresh(ctx context.Context, view, outcome string, elapsed time.Duration, detail string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	_, err := r.pool.Exec(writeCtx,
		`INSERT INTO matview_refresh_log (view_name, outcome, duration_ms, detail)
		 VALUES ($1, $2, $3, $4)`,
		view, outcome, elapsed.Milliseconds(), detail)
	if err != nil {
		slog.Warn("Refresh log write failed", "view", view, "error", err)
	}
}

// RenderViewSQL substitutes bound parameter values as SQL literals into a
// :name template. View definitions cannot carry bind placeholders, and the
// values here come from operator configuration, never from agents or
// callers. Strings are single-quote escaped; only catalog-coerced types
// are accepted.
func RenderViewSQL(sql string, bound map[string]any) (string, error) {
	// Longest names first so :period_start is never clobbered by :period.
	names := make([]string, 0, len(bound))
	for name := range bound {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	out := sql
	for _, name := range names {
		lit, err := literal(bound[name])
		if err != nil {
			return "", fmt.Errorf("fixed param %s: %w", name, err)
		}
		out = strings.ReplaceAll(out, ":"+name, lit)
	}
	return out, nil
}

func literal(v any) (string, error) {
	switch val := v.(type) {
	case int64:
		return fmt.Sprintf("%d", val), nil
	case float64:
		return fmt.Sprintf("%g", val), nil
	case bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'", nil
	default:
		return "", fmt.Errorf("unsupported literal type %T", v)
	}
}
