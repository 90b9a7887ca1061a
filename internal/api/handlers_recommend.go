// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"net/http"

	"github.com/tomtom215/marquee/internal/lambda"
)

// Recommendations serves GET /api/v1/recommendations/{userID}.
//
// Query parameters:
//   - limit: number of items, clamped by the serving layer (0 = default)
//   - force_realtime: bypass the batch cache and score fresh
//
// The serving layer never fails, so any well-formed request gets a 200
// with a source of batch, realtime or merged.
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID, err := pathUserID(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	force, err := queryBool(r, "force_realtime")
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	rec := h.orch.GetRecommendations(r.Context(), lambda.Request{
		UserID:        userID,
		Limit:         limit,
		ForceRealtime: force,
	})
	rw.Success(rec)
}
