// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package lambda

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/marquee/internal/bandit"
	"github.com/tomtom215/marquee/internal/metrics"
	"github.com/tomtom215/marquee/internal/store"
)

// HighRatingThreshold is the rating at or above which a rating signal is
// rated_high; anything lower is ignored.
const HighRatingThreshold = 7.0

// UpdateKind names a speed-layer trigger.
type UpdateKind string

const (
	UpdateRating     UpdateKind = "rating"
	UpdateWatchlist  UpdateKind = "watchlist"
	UpdatePreference UpdateKind = "preference"
)

// Update is one user action fed to ProcessBatch.
type Update struct {
	Kind   UpdateKind `json:"kind"`
	UserID int        `json:"user_id"`
	ItemID int        `json:"item_id,omitempty"`
	Rating float64    `json:"rating,omitempty"`
}

// SpeedLayer reacts to user actions: it appends a reward signal and drops
// the user's cache entry. None of its methods return errors; failures are
// logged and counted so the action that triggered them is never affected.
type SpeedLayer struct {
	cache   *Cache
	signals store.SignalStore
	now     func() time.Time
	logger  zerolog.Logger
}

// NewSpeedLayer creates a speed layer. now defaults to time.Now.
func NewSpeedLayer(cache *Cache, signals store.SignalStore, now func() time.Time, logger zerolog.Logger) *SpeedLayer {
	if now == nil {
		now = time.Now
	}
	return &SpeedLayer{
		cache:   cache,
		signals: signals,
		now:     now,
		logger:  logger.With().Str("component", "speed_layer").Logger(),
	}
}

// OnRatingAdded records rated_high for ratings >= 7 and ignored otherwise,
// then invalidates the user's cache entry.
func (s *SpeedLayer) OnRatingAdded(ctx context.Context, userID, itemID int, rating float64) {
	outcome := bandit.OutcomeIgnored
	if rating >= HighRatingThreshold {
		outcome = bandit.OutcomeRatedHigh
	}
	s.guard(UpdateRating, userID, func() error {
		s.cache.Invalidate(userID)
		return s.appendSignal(ctx, userID, itemID, outcome)
	})
}

// OnWatchlistAdded records a watchlisted signal (reward 0.6) and
// invalidates the user's cache entry.
func (s *SpeedLayer) OnWatchlistAdded(ctx context.Context, userID, itemID int) {
	s.guard(UpdateWatchlist, userID, func() error {
		s.cache.Invalidate(userID)
		return s.appendSignal(ctx, userID, itemID, bandit.OutcomeWatchlisted)
	})
}

// OnPreferenceUpdated only invalidates the user's cache entry.
func (s *SpeedLayer) OnPreferenceUpdated(_ context.Context, userID int) {
	s.guard(UpdatePreference, userID, func() error {
		s.cache.Invalidate(userID)
		return nil
	})
}

// Handle dispatches one update to its entry point.
func (s *SpeedLayer) Handle(ctx context.Context, u Update) {
	switch u.Kind {
	case UpdateRating:
		s.OnRatingAdded(ctx, u.UserID, u.ItemID, u.Rating)
	case UpdateWatchlist:
		s.OnWatchlistAdded(ctx, u.UserID, u.ItemID)
	case UpdatePreference:
		s.OnPreferenceUpdated(ctx, u.UserID)
	default:
		s.logger.Warn().Str("kind", string(u.Kind)).Int("user_id", u.UserID).Msg("unknown speed layer update")
	}
}

// ProcessBatch invalidates each distinct user once, in first-seen order,
// and returns how many users were invalidated. It appends no signals.
func (s *SpeedLayer) ProcessBatch(_ context.Context, updates []Update) int {
	seen := make(map[int]struct{}, len(updates))
	for _, u := range updates {
		if _, ok := seen[u.UserID]; ok {
			continue
		}
		seen[u.UserID] = struct{}{}
		s.guard("batch", u.UserID, func() error {
			s.cache.Invalidate(u.UserID)
			return nil
		})
	}
	return len(seen)
}

func (s *SpeedLayer) appendSignal(ctx context.Context, userID, itemID int, outcome bandit.Outcome) error {
	sig := &store.Signal{
		UserID:    userID,
		ItemID:    itemID,
		Outcome:   string(outcome),
		Reward:    bandit.CalculateReward(outcome),
		CreatedAt: s.now(),
	}
	if err := s.signals.AppendSignal(ctx, sig); err != nil {
		return fmt.Errorf("append %s signal: %w", outcome, err)
	}
	return nil
}

// guard runs fn, absorbing both errors and panics.
func (s *SpeedLayer) guard(kind UpdateKind, userID int, fn func() error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		metrics.RecordSpeedEvent(string(kind), err)
		if err != nil {
			s.logger.Warn().Err(err).Str("kind", string(kind)).Int("user_id", userID).Msg("speed layer update failed")
		}
	}()
	err = fn()
}
