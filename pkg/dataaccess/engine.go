package dataaccess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/database"
	"github.com/qnwis/qnwis/pkg/metrics"
)

// DefaultRowCap bounds the in-memory result buffer per query.
const DefaultRowCap = 50_000

// EngineClient executes registered queries against PostgreSQL.
// Parameters reach the engine only through pgx bind arguments; the SQL text
// is fixed at catalog load and never concatenated with caller input.
type EngineClient struct {
	db       *database.Client
	registry *catalog.Registry
	audit    *AuditLogger

	queryTimeout time.Duration
	rowCap       int

	// views maps query_id to its materialized view bindings. When a call's
	// bound parameters match a view's fixed parameters, the read is served
	// from the view transparently.
	views map[string][]ViewBinding
}

// ViewBinding ties one materialized view to the query and fixed parameters
// it materializes.
type ViewBinding struct {
	ViewName    string
	FixedParams map[string]any
}

// EngineOption configures an EngineClient.
type EngineOption func(*EngineClient)

// WithRowCap overrides the per-query row cap.
func WithRowCap(n int) EngineOption {
	return func(e *EngineClient) { e.rowCap = n }
}

// WithQueryTimeout sets the per-query statement budget.
func WithQueryTimeout(d time.Duration) EngineOption {
	return func(e *EngineClient) { e.queryTimeout = d }
}

// WithViews registers materialized view bindings for transparent reads.
func WithViews(views map[string][]ViewBinding) EngineOption {
	return func(e *EngineClient) { e.views = views }
}

// NewEngineClient creates the engine-level query client.
func NewEngineClient(db *database.Client, registry *catalog.Registry, audit *AuditLogger, opts ...EngineOption) *EngineClient {
	e := &EngineClient{
		db:           db,
		registry:     registry,
		audit:        audit,
		queryTimeout: 5 * time.Second,
		rowCap:       DefaultRowCap,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a registered query. Parameters are validated and coerced
// against the catalog entry, the query runs under the statement budget, and
// the outcome is recorded to the audit log. On a transient engine failure
// the call is retried once with a fresh connection; a second failure
// surfaces as ErrBackendFailure.
func (e *EngineClient) Execute(ctx context.Context, runID, queryID string, params map[string]any) (*QueryResult, error) {
	def, err := e.registry.Get(queryID)
	if err != nil {
		return nil, err
	}

	bound, err := catalog.BindParams(def, params)
	if err != nil {
		e.audit.Record(ctx, AuditEntry{
			RunID: runID, QueryID: queryID, ParamsHash: ParamsHash(params),
			Outcome: "param_validation", Detail: err.Error(),
		})
		return nil, err
	}

	sql, source := e.resolveSource(def, bound)

	start := time.Now()
	result, err := e.runOnce(ctx, def, sql, source, bound)
	if err != nil && retryable(ctx, err) {
		slog.Warn("Query failed, retrying with fresh connection",
			"query_id", queryID, "error", err)
		result, err = e.runOnce(ctx, def, sql, source, bound)
	}
	elapsed := time.Since(start)

	if err != nil {
		outcome := "backend_failure"
		if errors.Is(err, ErrResultTooLarge) {
			outcome = "result_too_large"
		} else {
			err = fmt.Errorf("%w: query %s: %v", ErrBackendFailure, queryID, err)
		}
		metrics.QueryLatency.WithLabelValues(queryID, outcome).Observe(elapsed.Seconds())
		e.audit.Record(ctx, AuditEntry{
			RunID: runID, QueryID: queryID, ParamsHash: ParamsHash(bound),
			LatencyMS: elapsed.Milliseconds(), Outcome: outcome, Detail: err.Error(),
		})
		return nil, err
	}

	result.ParamsUsed = bound
	result.ElapsedMS = elapsed.Milliseconds()
	metrics.QueryLatency.WithLabelValues(queryID, "ok").Observe(elapsed.Seconds())
	e.audit.Record(ctx, AuditEntry{
		RunID: runID, QueryID: queryID, ParamsHash: ParamsHash(bound),
		RowCount: result.RowCount, LatencyMS: elapsed.Milliseconds(), Outcome: "ok",
	})
	return result, nil
}

// resolveSource decides whether the call reads from the base query or from
// a materialized view whose fixed parameters match the bound parameters.
func (e *EngineClient) resolveSource(def *catalog.QueryDefinition, bound map[string]any) (sql, source string) {
	for _, binding := range e.views[def.QueryID] {
		if CanonicalJSON(binding.FixedParams) == CanonicalJSON(bound) {
			// The view already embeds the parameters, so the read is a
			// plain select.
			return "SELECT * FROM " + binding.ViewName, binding.ViewName
		}
	}
	return def.BoundSQL(), def.Dataset
}

func (e *EngineClient) runOnce(ctx context.Context, def *catalog.QueryDefinition, sql, source string, bound map[string]any) (*QueryResult, error) {
	acquireCtx, cancelAcquire := e.db.AcquireContext(ctx)
	defer cancelAcquire()

	conn, err := e.db.Pool().Acquire(acquireCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	var rows pgx.Rows
	if len(bound) > 0 {
		rows, err = conn.Query(queryCtx, sql, pgx.NamedArgs(bound))
	} else {
		rows, err = conn.Query(queryCtx, sql)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, fd := range fields {
		cols[i] = fd.Name
	}

	var out []Row
	for rows.Next() {
		if len(out) >= e.rowCap {
			return nil, fmt.Errorf("%w: query %s exceeded %d rows", ErrResultTooLarge, def.QueryID, e.rowCap)
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &QueryResult{
		QueryID: def.QueryID,
		Rows:    out,
		Provenance: Provenance{
			Dataset:       def.Dataset,
			SourceLocator: source,
		},
		Freshness: Freshness{AsOf: now, AgeSeconds: 0},
		RowCount:  len(out),
	}, nil
}

// retryable reports whether a failure warrants the single fresh-connection
// retry. Caller cancellation, the row cap, and parameter errors never do.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrResultTooLarge) || errors.Is(err, catalog.ErrParamValidation) {
		return false
	}
	return true
}
