// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"context"
	"net/http"

	"github.com/tomtom215/marquee/internal/lambda"
	"github.com/tomtom215/marquee/internal/store"
)

// RecordRating serves POST /api/v1/events/ratings.
func (h *Handler) RecordRating(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req RatingRequest
	if !decodeBody(rw, r, &req, false) {
		return
	}
	h.recordEvent(rw, r, &store.Event{
		Kind:   store.KindRating,
		UserID: req.UserID,
		ItemID: req.ItemID,
		Rating: req.Rating,
		Genres: req.Genres,
		Device: req.Device,
	}, lambda.Update{Kind: lambda.UpdateRating, UserID: req.UserID, ItemID: req.ItemID, Rating: req.Rating})
}

// RecordWatchlist serves POST /api/v1/events/watchlist.
func (h *Handler) RecordWatchlist(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req WatchlistRequest
	if !decodeBody(rw, r, &req, false) {
		return
	}
	h.recordEvent(rw, r, &store.Event{
		Kind:   store.KindWatchlist,
		UserID: req.UserID,
		ItemID: req.ItemID,
		Genres: req.Genres,
		Device: req.Device,
	}, lambda.Update{Kind: lambda.UpdateWatchlist, UserID: req.UserID, ItemID: req.ItemID})
}

// RecordPreference serves POST /api/v1/events/preferences.
func (h *Handler) RecordPreference(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req PreferenceRequest
	if !decodeBody(rw, r, &req, false) {
		return
	}
	h.recordEvent(rw, r, &store.Event{
		Kind:   store.KindPreference,
		UserID: req.UserID,
		Genres: req.Genres,
		Device: req.Device,
	}, lambda.Update{Kind: lambda.UpdatePreference, UserID: req.UserID})
}

// recordEvent appends the event, then notifies the speed layer. Only the
// append can fail the request: the speed layer side is fire-and-forget.
func (h *Handler) recordEvent(rw *ResponseWriter, r *http.Request, e *store.Event, u lambda.Update) {
	e.CreatedAt = h.now()
	if err := h.events.AppendEvent(r.Context(), e); err != nil {
		rw.StoreError(err)
		return
	}
	h.notifySpeedLayer(r.Context(), u)
	rw.Created(EventResponse{EventID: e.ID, Kind: string(e.Kind), UserID: e.UserID})
}

func (h *Handler) notifySpeedLayer(ctx context.Context, u lambda.Update) {
	if h.publisher != nil {
		err := h.publisher.Publish(ctx, u)
		if err == nil {
			return
		}
		if h.direct == nil {
			h.logger.Warn().Err(err).Str("kind", string(u.Kind)).Int("user_id", u.UserID).Msg("speed layer update dropped")
			return
		}
		h.logger.Warn().Err(err).Str("kind", string(u.Kind)).Int("user_id", u.UserID).Msg("event bus unavailable, applying speed layer update inline")
	}
	h.direct.Handle(ctx, u)
}
