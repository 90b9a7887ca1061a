// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import "github.com/tomtom215/marquee/internal/lambda"

// RatingRequest records a rating on the 0-10 scale.
type RatingRequest struct {
	UserID int      `json:"user_id" validate:"gt=0"`
	ItemID int      `json:"item_id" validate:"gt=0"`
	Rating float64  `json:"rating" validate:"gte=0,lte=10"`
	Genres []string `json:"genres,omitempty" validate:"omitempty,max=20,dive,min=1,max=64"`
	Device string   `json:"device,omitempty" validate:"omitempty,max=32"`
}

// WatchlistRequest records a watchlist add.
type WatchlistRequest struct {
	UserID int      `json:"user_id" validate:"gt=0"`
	ItemID int      `json:"item_id" validate:"gt=0"`
	Genres []string `json:"genres,omitempty" validate:"omitempty,max=20,dive,min=1,max=64"`
	Device string   `json:"device,omitempty" validate:"omitempty,max=32"`
}

// PreferenceRequest records a preference change. Genres are the user's
// updated favourites.
type PreferenceRequest struct {
	UserID int      `json:"user_id" validate:"gt=0"`
	Genres []string `json:"genres,omitempty" validate:"omitempty,max=20,dive,min=1,max=64"`
	Device string   `json:"device,omitempty" validate:"omitempty,max=32"`
}

// SchedulerStartRequest optionally changes the batch interval. Zero keeps
// the current interval.
type SchedulerStartRequest struct {
	IntervalHours float64 `json:"interval_hours" validate:"gte=0,lte=720"`
}

// EventResponse acknowledges a recorded user event.
type EventResponse struct {
	EventID string `json:"event_id"`
	Kind    string `json:"kind"`
	UserID  int    `json:"user_id"`
}

// SchedulerStopResponse reports whether a running scheduler was stopped.
type SchedulerStopResponse struct {
	Stopped bool          `json:"stopped"`
	Status  lambda.Status `json:"status"`
}
