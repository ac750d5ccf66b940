// Package observability carries the correlation-id context propagation,
// structured logging enrichment, and Prometheus metrics shared by every
// pipeline component (C14).
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReviewsTotal counts completed review pipeline runs, labeled by
	// terminal state (completed, failed).
	ReviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_pipeline_reviews_total",
		Help: "Total number of reviews reaching a terminal state",
	}, []string{"state"})

	// PipelineStageDuration measures time spent in each named pipeline
	// stage (fetch, parse, enrich, prompt, llm, aggregate, persist, publish).
	PipelineStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "review_pipeline_stage_duration_seconds",
		Help:    "Time spent in each pipeline stage",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// StrategyDuration measures how long each context strategy took.
	StrategyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "review_pipeline_strategy_duration_seconds",
		Help:    "Time taken by each context strategy",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy", "status"})

	// QueueDepth reports the current pending-message count on the review
	// request stream.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "review_pipeline_queue_depth",
		Help: "Pending entries on the review request stream",
	})

	// PublishFailures counts per-issue publish failures, labeled by reason.
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_pipeline_publish_failures_total",
		Help: "Total number of issues that failed to publish",
	}, []string{"reason"})

	// AggregatorFindings tracks before/after/filtered counts across reviews.
	AggregatorFindings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_pipeline_aggregator_findings_total",
		Help: "Findings counted at each aggregation stage",
	}, []string{"stage"}) // stage: before_dedup, after_dedup, filtered

	// DegradationEvents counts best-effort components degrading to empty.
	DegradationEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_pipeline_degradation_events_total",
		Help: "Total number of best-effort components that degraded to empty",
	}, []string{"component"})

	// SSEConnectionsActive tracks concurrently open SSE subscriptions.
	SSEConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "review_pipeline_sse_connections_active",
		Help: "Number of currently open SSE review streams",
	})
)
