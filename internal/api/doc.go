// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

/*
Package api is the HTTP surface of Marquee.

Routes:

	GET  /api/v1/health/live
	GET  /api/v1/recommendations/{userID}?limit=&force_realtime=
	POST /api/v1/events/ratings
	POST /api/v1/events/watchlist
	POST /api/v1/events/preferences
	POST /api/v1/bandit/select
	POST /api/v1/bandit/feedback
	GET  /api/v1/bandit/users/{userID}/arms
	GET  /api/v1/bandit/users/{userID}/stats
	POST /api/v1/lambda/batch
	POST /api/v1/lambda/scheduler/start
	POST /api/v1/lambda/scheduler/stop
	GET  /api/v1/lambda/status
	GET  /api/v1/lambda/statistics
	GET  /metrics

Every JSON response uses the same envelope:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "...", "duration_ms": 1}}
	{"success": false, "error": {"code": "VALIDATION_FAILED", "message": "...", "details": {...}}, "meta": {...}}

# Event Endpoints

The event endpoints append to the event store first. That append is the
primary action and the only thing that can fail the request. The speed
layer is then notified through the event bus without waiting; if the bus
rejects the update it is applied inline instead.

# Middleware

Global: request id (X-Request-ID, echoed back and used as the bus
correlation id), RealIP, Recoverer, CORS. Under /api/v1: httprate limiting
by IP, security headers, Prometheus request metrics labelled by route
pattern, and a per-request log line. Health probes skip the rate limiter.
*/
package api
