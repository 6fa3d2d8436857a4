// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueriesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_queries_processed_total",
			Help: "Total number of queries processed by the pipeline",
		},
		[]string{"route", "method"},
	)

	QueriesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_queries_failed_total",
			Help: "Total number of queries that failed a pipeline stage",
		},
		[]string{"stage", "error_code"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_stage_duration_seconds",
			Help: "Duration of each pipeline stage in seconds",
		},
		[]string{"stage"},
	)

	RetrievalCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_retrieval_candidates",
			Help:    "Number of candidates surviving each retrieval phase",
			Buckets: prometheus.LinearBuckets(0, 5, 13),
		},
		[]string{"phase"},
	)

	ProviderFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_provider_fallbacks_total",
			Help: "Total number of completion provider fallbacks",
		},
		[]string{"from", "to"},
	)

	FaithfulnessQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_faithfulness_queue_depth",
			Help: "Pending deferred faithfulness evaluations",
		},
	)
)
