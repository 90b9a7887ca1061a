// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import "net/http"

// LiveStatus is the liveness payload.
type LiveStatus struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HealthLive serves GET /api/v1/health/live. It only proves the process
// answers HTTP; it touches no dependency.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(LiveStatus{
		Status:        "alive",
		UptimeSeconds: h.now().Sub(h.startTime).Seconds(),
	})
}
