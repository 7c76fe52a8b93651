// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics declares the Prometheus collectors recorded by the
// pipeline stages.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "visual_search"

var (
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Candidate-pool cache lookups by result",
		},
		[]string{"tier", "result"}, // tier: memory/redis; result: hit/miss/expired/error
	)

	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "In-memory cache entries evicted by capacity",
		},
	)

	SourceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Source adapter search calls by outcome",
		},
		[]string{"source", "outcome"}, // ok/empty/unavailable/error
	)

	SourceRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Source adapter search duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"source"},
	)

	ValidationChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_checks_total",
			Help:      "Reachability checks by result",
		},
		[]string{"result"}, // reachable/unreachable/timeout
	)

	ScoringTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_tasks_total",
			Help:      "Similarity scoring tasks by outcome",
		},
		[]string{"outcome"}, // scored/failed/cancelled/discarded
	)

	EarlyStopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_early_stops_total",
			Help:      "Ranking runs terminated by reaching the threshold",
		},
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding service calls",
		},
		[]string{"model", "kind", "status"}, // kind: global/patches
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model", "kind"},
	)

	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by outcome reason (ok or a no-results reason)",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// Register registers every collector with the default registry. Safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheLookupsTotal,
			CacheEvictionsTotal,
			SourceRequestsTotal,
			SourceRequestDuration,
			ValidationChecksTotal,
			ScoringTasksTotal,
			EarlyStopsTotal,
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			PipelineRunsTotal,
		)
	})
}

// WriteTextfile writes the default registry in the Prometheus text format,
// for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
