// Package dataaccess is the deterministic data layer: it turns
// (query_id, params) into a QueryResult in bounded time, with caching and
// audit logging, and without letting any agent influence the rendered query
// beyond declared parameter bindings.
package dataaccess

import (
	"context"
	"time"
)

// Row is one typed record of a query result. Keys match the registered
// output schema column names.
type Row map[string]any

// Provenance records where a result's data came from.
type Provenance struct {
	Dataset       string `json:"dataset"`
	SourceLocator string `json:"source_locator"` // table or view the rows were read from
}

// Freshness records when the underlying data was current.
type Freshness struct {
	AsOf       time.Time `json:"asof"`
	AgeSeconds int64     `json:"age_seconds"`
}

// QueryResult is the output of one registered query execution.
// Rows are aggregated by registry contract and never carry identifiers of
// individual persons or employers.
type QueryResult struct {
	QueryID    string         `json:"query_id"`
	ParamsUsed map[string]any `json:"params_used"`
	Rows       []Row          `json:"rows"`
	Provenance Provenance     `json:"provenance"`
	Freshness  Freshness      `json:"freshness"`
	RowCount   int            `json:"row_count"`
	CacheHit   bool           `json:"cache_hit"`
	ElapsedMS  int64          `json:"elapsed_ms"`
}

// Clone returns a deep copy. Cached results are cloned on read so callers
// can never mutate the shared cached value.
func (r *QueryResult) Clone() *QueryResult {
	cp := *r
	cp.ParamsUsed = make(map[string]any, len(r.ParamsUsed))
	for k, v := range r.ParamsUsed {
		cp.ParamsUsed[k] = v
	}
	cp.Rows = make([]Row, len(r.Rows))
	for i, row := range r.Rows {
		newRow := make(Row, len(row))
		for k, v := range row {
			newRow[k] = v
		}
		cp.Rows[i] = newRow
	}
	return &cp
}

// Client executes registered queries. The engine client and the cache
// middleware both satisfy it, so callers compose them freely.
type Client interface {
	Execute(ctx context.Context, runID, queryID string, params map[string]any) (*QueryResult, error)
}
