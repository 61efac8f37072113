package dataaccess

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry is one append-only record of a query execution.
type AuditEntry struct {
	RunID      string
	QueryID    string
	ParamsHash string
	RowCount   int
	LatencyMS  int64
	CacheHit   bool
	Outcome    string // "ok", "result_too_large", "backend_failure", "param_validation"
	Detail     string
}

// AuditLogger appends execution records to the audit log. Writes are
// best-effort: a failed write is logged and never fails the request.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger creates an audit logger over the shared pool.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

const auditWriteTimeout = 2 * time.Second

// Record appends one entry. The write survives cancellation of the caller's
// context so runs that time out still leave an audit trail.
func (a *AuditLogger) Record(ctx context.Context, entry AuditEntry) {
	if a == nil || a.pool == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	_, err := a.pool.Exec(writeCtx,
		`INSERT INTO audit_log (run_id, query_id, params_hash, row_count, latency_ms, cache_hit, outcome, detail)
		 VALUES (@run_id, @query_id, @params_hash, @row_count, @latency_ms, @cache_hit, @outcome, @detail)`,
		pgx.NamedArgs{
			"run_id":      entry.RunID,
			"query_id":    entry.QueryID,
			"params_hash": entry.ParamsHash,
			"row_count":   entry.RowCount,
			"latency_ms":  entry.LatencyMS,
			"cache_hit":   entry.CacheHit,
			"outcome":     entry.Outcome,
			"detail":      entry.Detail,
		})
	if err != nil {
		slog.Warn("Audit log write failed",
			"query_id", entry.QueryID,
			"outcome", entry.Outcome,
			"error", err)
	}
}
