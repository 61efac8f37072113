// Package metrics exposes the Prometheus collectors for the pipeline and
// the deterministic data layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueryLatency observes registered query execution time, labelled by
	// query_id and outcome.
	QueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qnwis",
		Subsystem: "dataaccess",
		Name:      "query_duration_seconds",
		Help:      "Registered query execution latency.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"query_id", "outcome"})

	// CacheRequests counts cache lookups by result.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qnwis",
		Subsystem: "dataaccess",
		Name:      "cache_requests_total",
		Help:      "Query-result cache lookups.",
	}, []string{"result"}) // hit, miss, error

	// StageLatency observes pipeline stage duration by stage and status.
	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qnwis",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage latency.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"stage", "status"})

	// RunsTotal counts completed runs by terminal status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qnwis",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Completed pipeline runs by terminal status.",
	}, []string{"status"})

	// ScenarioOutcomes counts scenario executions by outcome.
	ScenarioOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qnwis",
		Subsystem: "scenarios",
		Name:      "outcomes_total",
		Help:      "Scenario executions by outcome.",
	}, []string{"outcome"}) // ok, failed, cancelled

	// ClaimsVerified counts verifier claim outcomes.
	ClaimsVerified = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qnwis",
		Subsystem: "verify",
		Name:      "claims_total",
		Help:      "Verified numeric claims by outcome.",
	}, []string{"outcome"}) // matched, uncited, not_found, unit_mismatch

	// ViewRefreshes counts materialized view refresh outcomes.
	ViewRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qnwis",
		Subsystem: "materialize",
		Name:      "refreshes_total",
		Help:      "Materialized view refreshes by outcome.",
	}, []string{"view", "outcome"})
)
