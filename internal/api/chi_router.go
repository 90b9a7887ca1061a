// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the chi route tree for h.
func NewRouter(h *Handler, cfg MiddlewareConfig) http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(cfg)) // global so OPTIONS preflight is answered

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("No route for " + r.Method + " " + r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	// Health sits outside the rate limiter so probes are never throttled.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Get("/live", h.HealthLive)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(cfg))
		r.Use(APISecurityHeaders())
		r.Use(PrometheusMetrics)
		r.Use(RequestLogger)

		r.Get("/recommendations/{userID}", h.Recommendations)

		r.Route("/events", func(r chi.Router) {
			r.Post("/ratings", h.RecordRating)
			r.Post("/watchlist", h.RecordWatchlist)
			r.Post("/preferences", h.RecordPreference)
		})

		r.Route("/bandit", func(r chi.Router) {
			r.Post("/select", h.BanditSelect)
			r.Post("/feedback", h.BanditFeedback)
			r.Get("/users/{userID}/arms", h.BanditArms)
			r.Get("/users/{userID}/stats", h.BanditStats)
		})

		r.Route("/lambda", func(r chi.Router) {
			r.Post("/batch", h.TriggerBatch)
			r.Post("/scheduler/start", h.StartScheduler)
			r.Post("/scheduler/stop", h.StopScheduler)
			r.Get("/status", h.LambdaStatus)
			r.Get("/statistics", h.LambdaStatistics)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
