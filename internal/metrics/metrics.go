// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package metrics registers the Prometheus collectors for the recommendation
// pipeline and exposes small Record* helpers so callers never touch label
// vectors directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recommendation cache
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recommendation_cache_hits_total",
		Help: "Recommendation cache reads that found an entry",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recommendation_cache_misses_total",
		Help: "Recommendation cache reads that found nothing",
	})

	CacheSets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recommendation_cache_sets_total",
		Help: "Recommendation cache entries written",
	})

	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recommendation_cache_invalidations_total",
		Help: "Recommendation cache entries removed by invalidation",
	})

	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recommendation_cache_entries",
		Help: "Current number of cached users",
	})

	// Serving layer
	ServingResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serving_responses_total",
			Help: "Recommendation responses by source (batch, realtime, merged)",
		},
		[]string{"source"},
	)

	ServingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serving_duration_seconds",
			Help:    "Time to answer a recommendation request",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"source"},
	)

	ModelFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serving_model_fallbacks_total",
			Help: "Requests answered without the candidate model after it failed",
		},
		[]string{"fallback"}, // "cache", "empty"
	)

	// Batch layer
	BatchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_runs_total",
			Help: "Batch layer runs by outcome",
		},
		[]string{"outcome"}, // "success", "failure", "skipped"
	)

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_duration_seconds",
		Help:    "Wall-clock duration of batch layer runs",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
	})

	BatchPrecomputedUsers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batch_precomputed_users_total",
		Help: "Users whose recommendations were precomputed",
	})

	BatchFailedUsers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batch_failed_users_total",
		Help: "Users whose precomputation failed or timed out",
	})

	BatchLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batch_last_success_timestamp_seconds",
		Help: "Unix time of the last successful batch run",
	})

	ModelTrainings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_trainings_total",
			Help: "Candidate model training attempts by outcome",
		},
		[]string{"outcome"}, // "trained", "skipped", "failed"
	)

	// Speed layer
	SpeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speed_layer_events_total",
			Help: "Speed layer events handled by kind",
		},
		[]string{"kind"},
	)

	SpeedFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speed_layer_failures_total",
			Help: "Speed layer events whose handling failed (swallowed)",
		},
		[]string{"kind"},
	)

	// Bandit
	BanditSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandit_selections_total",
			Help: "Arms chosen by Thompson sampling",
		},
		[]string{"arm", "mode"}, // mode: "plain", "contextual"
	)

	BanditRewards = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bandit_reward",
			Help:    "Rewards recorded against experiments",
			Buckets: []float64{-0.2, -0.1, 0, 0.1, 0.3, 0.4, 0.5, 0.6, 0.8, 1},
		},
		[]string{"arm"},
	)

	// HTTP surface. path is the chi route pattern, not the raw URL.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	APIActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_in_flight",
		Help: "HTTP requests currently being served",
	})
)

// RecordServing records one served response.
func RecordServing(source string, duration time.Duration) {
	ServingResponses.WithLabelValues(source).Inc()
	ServingDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordBatchRun records the outcome of one batch run.
func RecordBatchRun(duration time.Duration, precomputed, failed int, err error) {
	BatchDuration.Observe(duration.Seconds())
	if err != nil {
		BatchRuns.WithLabelValues("failure").Inc()
		return
	}
	BatchRuns.WithLabelValues("success").Inc()
	BatchPrecomputedUsers.Add(float64(precomputed))
	BatchFailedUsers.Add(float64(failed))
	BatchLastSuccess.SetToCurrentTime()
}

// RecordSpeedEvent records a speed layer event; failed events are counted
// separately because their errors never reach the caller.
func RecordSpeedEvent(kind string, err error) {
	SpeedEvents.WithLabelValues(kind).Inc()
	if err != nil {
		SpeedFailures.WithLabelValues(kind).Inc()
	}
}

// RecordAPIRequest records one completed HTTP request.
func RecordAPIRequest(method, path, status string, duration time.Duration) {
	APIRequests.WithLabelValues(method, path, status).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
