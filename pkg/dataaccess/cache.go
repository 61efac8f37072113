package dataaccess

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/metrics"
)

// cacheOp is the operation segment of cache keys for registered query
// results.
const cacheOp = "exec"

// CachedClient is the read-through cache middleware over a Client.
// Hits return a defensive copy; misses call the inner client and write the
// result with the catalog TTL. Cache failures are logged, never surfaced.
type CachedClient struct {
	inner      Client
	registry   *catalog.Registry
	audit      *AuditLogger
	rdb        *redis.Client
	namespace  string
	schemaVer  string
	defaultTTL time.Duration
}

// NewCachedClient wraps inner with the Redis cache layer.
func NewCachedClient(inner Client, registry *catalog.Registry, audit *AuditLogger, rdb *redis.Client, namespace, schemaVersion string, defaultTTL time.Duration) *CachedClient {
	return &CachedClient{
		inner:      inner,
		registry:   registry,
		audit:      audit,
		rdb:        rdb,
		namespace:  namespace,
		schemaVer:  schemaVersion,
		defaultTTL: defaultTTL,
	}
}

// Execute looks up the deterministic cache key first. The key is computed
// over the bound parameters (defaults applied), so a call that omits an
// optional parameter and a call that passes its default share one entry.
func (c *CachedClient) Execute(ctx context.Context, runID, queryID string, params map[string]any) (*QueryResult, error) {
	def, err := c.registry.Get(queryID)
	if err != nil {
		return nil, err
	}
	bound, err := catalog.BindParams(def, params)
	if err != nil {
		return nil, err
	}

	key := CacheKey(c.namespace, cacheOp, queryID, bound, c.schemaVer)

	if cached := c.read(ctx, key); cached != nil {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		cached.CacheHit = true
		cached.Freshness.AgeSeconds = int64(time.Since(cached.Freshness.AsOf).Seconds())
		c.audit.Record(ctx, AuditEntry{
			RunID: runID, QueryID: queryID, ParamsHash: ParamsHash(bound),
			RowCount: cached.RowCount, CacheHit: true, Outcome: "ok",
		})
		return cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	result, err := c.inner.Execute(ctx, runID, queryID, bound)
	if err != nil {
		return nil, err
	}

	ttl := c.defaultTTL
	if def.CacheTTLSeconds > 0 {
		ttl = time.Duration(def.CacheTTLSeconds) * time.Second
	}
	c.write(ctx, key, result, ttl)

	return result, nil
}

// read returns a cloned cached result, or nil on miss or cache error.
func (c *CachedClient) read(ctx context.Context, key string) *QueryResult {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			metrics.CacheRequests.WithLabelValues("error").Inc()
			slog.Warn("Cache read failed", "key", key, "error", err)
		}
		return nil
	}
	var result QueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		slog.Warn("Cache entry corrupt, treating as miss", "key", key, "error", err)
		return nil
	}
	return result.Clone()
}

// write stores a result best-effort.
func (c *CachedClient) write(ctx context.Context, key string, result *QueryResult, ttl time.Duration) {
	data, err := json.Marshal(result)
	if err != nil {
		slog.Warn("Cache serialization failed", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		slog.Warn("Cache write failed", "key", key, "error", err)
	}
}

// Invalidate removes every cached entry of one query_id, used when an
// external data load supersedes cached results before their TTL.
func (c *CachedClient) Invalidate(ctx context.Context, queryID string) (int, error) {
	prefix := CacheKeyPrefix(c.namespace, cacheOp, queryID)
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	slog.Info("Cache invalidated", "query_id", queryID, "removed", removed)
	return removed, nil
}
