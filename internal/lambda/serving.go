// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package lambda

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/metrics"
	"github.com/tomtom215/marquee/internal/recommend"
	"github.com/tomtom215/marquee/internal/store"
)

// Source tags which path produced a response.
type Source string

const (
	SourceBatch    Source = "batch"
	SourceRealtime Source = "realtime"
	SourceMerged   Source = "merged"
)

// CachedRecommendation is the serving response.
type CachedRecommendation struct {
	UserID          int       `json:"user_id"`
	Recommendations []int     `json:"recommendations"`
	Scores          []float64 `json:"scores"`
	ComputedAt      time.Time `json:"computed_at"`
	Source          Source    `json:"source"`
}

// ServingConfig holds the serving policy.
type ServingConfig struct {
	// BatchFreshness is the age below which a cache entry is served as is.
	BatchFreshness time.Duration

	// RecentActivityWindow is how far back a rating forces a fresh compute.
	RecentActivityWindow time.Duration

	// MergeHistory is how many recent ratings the merge excludes.
	MergeHistory int

	// FreshnessBoost multiplies surviving scores in a merge.
	FreshnessBoost float64

	DefaultLimit int
	MaxLimit     int

	// RepopulateOnRealtime writes fresh computations back to the cache.
	RepopulateOnRealtime bool

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultServingConfig returns the production defaults.
func DefaultServingConfig() ServingConfig {
	return ServingConfig{
		BatchFreshness:       6 * time.Hour,
		RecentActivityWindow: time.Hour,
		MergeHistory:         50,
		FreshnessBoost:       1.10,
		DefaultLimit:         10,
		MaxLimit:             100,
		BreakerFailures:      5,
		BreakerTimeout:       30 * time.Second,
	}
}

// Request asks for one user's recommendations.
type Request struct {
	UserID        int
	Limit         int
	ForceRealtime bool
}

// ServingLayer answers recommendation requests from the cache, the model,
// or a merge of a stale cache entry with recent ratings. It never returns
// an error.
type ServingLayer struct {
	cfg     ServingConfig
	cache   *Cache
	events  store.EventStore
	model   Model
	breaker *gobreaker.CircuitBreaker[[]recommend.ScoredItem]
	now     func() time.Time
	logger  zerolog.Logger
}

// NewServingLayer creates a serving layer.
func NewServingLayer(cfg ServingConfig, cache *Cache, events store.EventStore, model Model, now func() time.Time, logger zerolog.Logger) (*ServingLayer, error) {
	if cache == nil || events == nil || model == nil {
		return nil, fmt.Errorf("serving layer: cache, events and model are required")
	}
	if cfg.BatchFreshness <= 0 || cfg.RecentActivityWindow <= 0 {
		return nil, fmt.Errorf("serving layer: freshness and activity windows must be positive")
	}
	if cfg.FreshnessBoost < 1 {
		return nil, fmt.Errorf("serving layer: freshness boost must be >= 1, got %v", cfg.FreshnessBoost)
	}
	if cfg.DefaultLimit < 1 || cfg.MaxLimit < cfg.DefaultLimit {
		return nil, fmt.Errorf("serving layer: need 1 <= default limit <= max limit")
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if now == nil {
		now = time.Now
	}

	s := &ServingLayer{
		cfg:    cfg,
		cache:  cache,
		events: events,
		model:  model,
		now:    now,
		logger: logger.With().Str("component", "serving_layer").Logger(),
	}
	s.breaker = gobreaker.NewCircuitBreaker[[]recommend.ScoredItem](gobreaker.Settings{
		Name:    "candidate-model",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return s, nil
}

// BreakerState reports the model circuit breaker state.
func (s *ServingLayer) BreakerState() string {
	return s.breaker.State().String()
}

// GetRecommendations applies the decision policy in order:
//  1. fresh cache entry and not forced: serve it (batch)
//  2. rating within the activity window, or forced: compute (realtime)
//  3. stale cache entry: merge with recent ratings (merged)
//  4. no entry: compute (realtime)
func (s *ServingLayer) GetRecommendations(ctx context.Context, req Request) *CachedRecommendation {
	start := time.Now()
	limit := s.clampLimit(req.Limit)

	resp := s.decide(ctx, req, limit)
	metrics.RecordServing(string(resp.Source), time.Since(start))
	return resp
}

func (s *ServingLayer) decide(ctx context.Context, req Request, limit int) *CachedRecommendation {
	entry, cached := s.cache.Get(req.UserID)
	fresh := cached && s.now().Sub(entry.ComputedAt) < s.cfg.BatchFreshness

	if fresh && !req.ForceRealtime {
		return s.fromCache(req.UserID, entry, limit, SourceBatch)
	}

	if req.ForceRealtime || s.hasRecentActivity(ctx, req.UserID) {
		return s.computeFresh(ctx, req.UserID, limit, entry, cached, fresh)
	}

	if cached {
		return s.merge(ctx, req.UserID, entry, limit)
	}

	return s.computeFresh(ctx, req.UserID, limit, entry, false, false)
}

func (s *ServingLayer) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultLimit
	}
	return min(limit, s.cfg.MaxLimit)
}

// hasRecentActivity reports a rating within the activity window. A store
// error counts as no activity.
func (s *ServingLayer) hasRecentActivity(ctx context.Context, userID int) bool {
	recent, err := s.events.UserRatingsSince(ctx, userID, s.now().Add(-s.cfg.RecentActivityWindow))
	if err != nil {
		logging.Ctx(ctx, s.logger).Warn().Err(err).Int("user_id", userID).Msg("recent activity lookup failed")
		return false
	}
	return len(recent) > 0
}

func (s *ServingLayer) fromCache(userID int, entry CachedRecommendationData, limit int, source Source) *CachedRecommendation {
	n := min(limit, len(entry.Recommendations))
	return &CachedRecommendation{
		UserID:          userID,
		Recommendations: entry.Recommendations[:n],
		Scores:          entry.Scores[:n],
		ComputedAt:      entry.ComputedAt,
		Source:          source,
	}
}

// computeFresh asks the model through the circuit breaker. On failure it
// falls back to the cache entry, or to an empty realtime response.
func (s *ServingLayer) computeFresh(ctx context.Context, userID, limit int, entry CachedRecommendationData, cached, fresh bool) *CachedRecommendation {
	items, err := s.breaker.Execute(func() ([]recommend.ScoredItem, error) {
		return s.model.Recommend(ctx, userID, limit)
	})
	if err != nil {
		return s.fallback(ctx, userID, limit, entry, cached, fresh, err)
	}

	now := s.now()
	data := newCachedData(items, now)
	if s.cfg.RepopulateOnRealtime {
		if err := s.cache.Set(userID, data); err != nil {
			logging.Ctx(ctx, s.logger).Warn().Err(err).Int("user_id", userID).Msg("cache repopulate failed")
		}
	}
	return &CachedRecommendation{
		UserID:          userID,
		Recommendations: data.Recommendations,
		Scores:          data.Scores,
		ComputedAt:      now,
		Source:          SourceRealtime,
	}
}

func (s *ServingLayer) fallback(ctx context.Context, userID, limit int, entry CachedRecommendationData, cached, fresh bool, cause error) *CachedRecommendation {
	var resp *CachedRecommendation
	var label string
	switch {
	case cached && fresh:
		resp, label = s.fromCache(userID, entry, limit, SourceBatch), "cache_fresh"
	case cached:
		resp, label = s.merge(ctx, userID, entry, limit), "cache_merged"
	default:
		resp = &CachedRecommendation{
			UserID:          userID,
			Recommendations: []int{},
			Scores:          []float64{},
			ComputedAt:      s.now(),
			Source:          SourceRealtime,
		}
		label = "empty"
	}

	metrics.ModelFallbacks.WithLabelValues(label).Inc()
	logging.Ctx(ctx, s.logger).Warn().
		Err(cause).
		Int("user_id", userID).
		Str("fallback", label).
		Msg("candidate model failed, serving fallback")
	return resp
}

// merge drops items among the user's last MergeHistory ratings, boosts the
// rest by FreshnessBoost and re-sorts by score descending.
func (s *ServingLayer) merge(ctx context.Context, userID int, entry CachedRecommendationData, limit int) *CachedRecommendation {
	seen := make(map[int]struct{})
	ratings, err := s.events.LatestUserRatings(ctx, userID, s.cfg.MergeHistory)
	if err != nil {
		logging.Ctx(ctx, s.logger).Warn().Err(err).Int("user_id", userID).Msg("merge history lookup failed, merging without exclusions")
	}
	for i := range ratings {
		seen[ratings[i].ItemID] = struct{}{}
	}

	type scored struct {
		id    int
		score float64
	}
	kept := make([]scored, 0, len(entry.Recommendations))
	for i, id := range entry.Recommendations {
		if _, ok := seen[id]; ok {
			continue
		}
		kept = append(kept, scored{id: id, score: entry.Scores[i] * s.cfg.FreshnessBoost})
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	if len(kept) > limit {
		kept = kept[:limit]
	}

	resp := &CachedRecommendation{
		UserID:          userID,
		Recommendations: make([]int, len(kept)),
		Scores:          make([]float64, len(kept)),
		ComputedAt:      entry.ComputedAt,
		Source:          SourceMerged,
	}
	for i, k := range kept {
		resp.Recommendations[i] = k.id
		resp.Scores[i] = k.score
	}
	return resp
}
