// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package lambda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tomtom215/marquee/internal/metrics"
	"github.com/tomtom215/marquee/internal/recommend"
	"github.com/tomtom215/marquee/internal/store"
)

// ErrBatchInProgress is returned when a batch run is requested while
// another is still running.
var ErrBatchInProgress = errors.New("batch update already in progress")

// BatchConfig tunes the batch layer.
type BatchConfig struct {
	Interval            time.Duration
	Timeout             time.Duration
	PerUserTimeout      time.Duration
	TrainingCorpusLimit int
	MinTrainingSize     int
	ActiveWindow        time.Duration
	MaxActiveUsers      int
	TopN                int

	// Workers bounds concurrent per-user precomputation. 1 is sequential.
	Workers int

	// Rate caps per-user precomputations per second. Zero is unlimited.
	Rate float64
}

// DefaultBatchConfig returns the production defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Interval:            12 * time.Hour,
		Timeout:             30 * time.Minute,
		PerUserTimeout:      10 * time.Second,
		TrainingCorpusLimit: 100000,
		MinTrainingSize:     1000,
		ActiveWindow:        30 * 24 * time.Hour,
		MaxActiveUsers:      1000,
		TopN:                50,
		Workers:             1,
	}
}

// TrainingMetrics reports the retrain step. Skipped runs carry zero loss
// and error. Initial marks the first train of an untrained model, which
// ignores MinTrainingSize.
type TrainingMetrics struct {
	Loss    float64 `json:"loss"`
	Error   float64 `json:"error"`
	Skipped bool    `json:"skipped"`
	Initial bool    `json:"initial,omitempty"`
	Version int     `json:"version,omitempty"`
}

// BatchResult summarizes one successful batch run.
type BatchResult struct {
	Timestamp                  time.Time          `json:"timestamp"`
	CorpusSize                 int                `json:"corpus_size"`
	UsersUpdated               int                `json:"users_updated"`
	ItemsUpdated               int                `json:"items_updated"`
	PrecomputedRecommendations int                `json:"precomputed_recommendations"`
	FailedUsers                []int              `json:"failed_users"`
	Training                   *TrainingMetrics   `json:"training,omitempty"`
	Weights                    map[string]float64 `json:"weights,omitempty"`
	Duration                   time.Duration      `json:"duration"`
}

// BatchLayer retrains the model and precomputes recommendations for
// recently active users.
type BatchLayer struct {
	cfg     BatchConfig
	events  store.EventStore
	trainer Trainer
	model   Model
	arms    ArmStats
	cache   *Cache
	now     func() time.Time
	logger  zerolog.Logger

	running atomic.Bool

	mu         sync.RWMutex
	interval   time.Duration
	lastBatch  time.Time
	lastResult *BatchResult
}

// BatchDeps are the batch layer's collaborators. Arms may be nil, which
// skips weight recalibration.
type BatchDeps struct {
	Events  store.EventStore
	Trainer Trainer
	Model   Model
	Arms    ArmStats
	Cache   *Cache
	Now     func() time.Time
}

// NewBatchLayer creates a batch layer.
func NewBatchLayer(cfg BatchConfig, deps BatchDeps, logger zerolog.Logger) (*BatchLayer, error) {
	if deps.Events == nil || deps.Trainer == nil || deps.Model == nil || deps.Cache == nil {
		return nil, fmt.Errorf("batch layer: events, trainer, model and cache are required")
	}
	if cfg.Interval <= 0 || cfg.Timeout <= 0 || cfg.PerUserTimeout <= 0 {
		return nil, fmt.Errorf("batch layer: interval and timeouts must be positive")
	}
	if cfg.TopN < 1 || cfg.Workers < 1 {
		return nil, fmt.Errorf("batch layer: top-n and workers must be at least 1")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &BatchLayer{
		cfg:      cfg,
		events:   deps.Events,
		trainer:  deps.Trainer,
		model:    deps.Model,
		arms:     deps.Arms,
		cache:    deps.Cache,
		now:      deps.Now,
		logger:   logger.With().Str("component", "batch_layer").Logger(),
		interval: cfg.Interval,
	}, nil
}

// Interval returns the configured batch interval.
func (b *BatchLayer) Interval() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.interval
}

// SetInterval changes the batch interval used by IsBatchDue.
func (b *BatchLayer) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("batch interval must be positive, got %s", d)
	}
	b.mu.Lock()
	b.interval = d
	b.mu.Unlock()
	return nil
}

// LastBatchTime returns when the last successful run finished; zero if
// none has.
func (b *BatchLayer) LastBatchTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastBatch
}

// LastResult returns the last successful run's result, or nil.
func (b *BatchLayer) LastResult() *BatchResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastResult
}

// IsRunning reports whether a run is in progress.
func (b *BatchLayer) IsRunning() bool {
	return b.running.Load()
}

// IsBatchDue is true when no run has succeeded yet or the interval has
// elapsed since the last one.
func (b *BatchLayer) IsBatchDue() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastBatch.IsZero() {
		return true
	}
	return b.now().Sub(b.lastBatch) >= b.interval
}

// RunBatchUpdate runs the full pipeline. Per-user failures are collected in
// FailedUsers and do not fail the run. A failing corpus query, active-user
// query or retrain aborts the run and leaves LastBatchTime unchanged.
func (b *BatchLayer) RunBatchUpdate(ctx context.Context) (*BatchResult, error) {
	if !b.running.CompareAndSwap(false, true) {
		return nil, ErrBatchInProgress
	}
	defer b.running.Store(false)

	start := time.Now()
	result, err := b.run(ctx)
	duration := time.Since(start)

	if err != nil {
		metrics.RecordBatchRun(duration, 0, 0, err)
		b.logger.Error().Err(err).Dur("duration", duration).Msg("batch update failed")
		return nil, err
	}

	result.Duration = duration
	metrics.RecordBatchRun(duration, result.PrecomputedRecommendations, len(result.FailedUsers), nil)

	b.mu.Lock()
	b.lastBatch = result.Timestamp
	b.lastResult = result
	b.mu.Unlock()

	b.logger.Info().
		Int("corpus", result.CorpusSize).
		Int("precomputed", result.PrecomputedRecommendations).
		Int("failed", len(result.FailedUsers)).
		Bool("retrained", result.Training != nil && !result.Training.Skipped).
		Dur("duration", duration).
		Msg("batch update complete")

	return result, nil
}

func (b *BatchLayer) run(ctx context.Context) (*BatchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	// 1. Training corpus
	corpus, err := b.events.RecentRatings(ctx, b.cfg.TrainingCorpusLimit)
	if err != nil {
		return nil, fmt.Errorf("load training corpus: %w", err)
	}
	interactions, items := corpusFromEvents(corpus)
	result := &BatchResult{CorpusSize: len(interactions), FailedUsers: []int{}}

	// 2. Conditional retrain
	training, err := b.retrain(ctx, interactions, items)
	if err != nil {
		return nil, err
	}
	result.Training = training

	// 3. Users and items refreshed by the retrain
	if !training.Skipped {
		result.UsersUpdated, result.ItemsUpdated = countUsersAndItems(interactions)
	}

	// 4. Precompute for active users
	users, err := b.events.ActiveUsersSince(ctx, b.now().Add(-b.cfg.ActiveWindow), b.cfg.MaxActiveUsers)
	if err != nil {
		return nil, fmt.Errorf("load active users: %w", err)
	}
	result.PrecomputedRecommendations, result.FailedUsers = b.precompute(ctx, users)

	// 5. Weight recalibration
	result.Weights = b.recalibrate(ctx)

	// 6. Stamp
	result.Timestamp = b.now()
	return result, nil
}

// retrain trains when the corpus reaches MinTrainingSize. An untrained
// model is trained on any non-empty corpus so precompute and realtime
// serving have something to ask.
func (b *BatchLayer) retrain(ctx context.Context, interactions []recommend.Interaction, items []recommend.Item) (*TrainingMetrics, error) {
	initial := !b.trainer.IsTrained() && len(interactions) > 0
	if !initial && len(interactions) < b.cfg.MinTrainingSize {
		b.logger.Info().
			Int("corpus", len(interactions)).
			Int("min", b.cfg.MinTrainingSize).
			Msg("training corpus too small, skipping retrain")
		metrics.ModelTrainings.WithLabelValues("skipped").Inc()
		return &TrainingMetrics{Skipped: true}, nil
	}
	if initial && len(interactions) < b.cfg.MinTrainingSize {
		b.logger.Info().
			Int("corpus", len(interactions)).
			Int("min", b.cfg.MinTrainingSize).
			Msg("model untrained, running initial train below minimum corpus size")
	}

	report, err := b.trainer.Train(ctx, interactions, items)
	if err != nil {
		metrics.ModelTrainings.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("retrain model: %w", err)
	}
	metrics.ModelTrainings.WithLabelValues("success").Inc()
	return &TrainingMetrics{Loss: report.Loss, Error: report.Error, Initial: initial, Version: report.Version}, nil
}

// precompute fills the cache for each user through a bounded, rate-limited
// worker pool. Returns the success count and the sorted failed user ids.
func (b *BatchLayer) precompute(ctx context.Context, users []int) (int, []int) {
	limit := rate.Inf
	if b.cfg.Rate > 0 {
		limit = rate.Limit(b.cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	var (
		mu        sync.Mutex
		succeeded int
		failed    = []int{}
	)

	g := new(errgroup.Group)
	g.SetLimit(b.cfg.Workers)
	for _, userID := range users {
		g.Go(func() error {
			err := b.precomputeUser(ctx, limiter, userID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, userID)
				b.logger.Warn().Err(err).Int("user_id", userID).Msg("precompute failed, skipping user")
				return nil
			}
			succeeded++
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	sort.Ints(failed)
	return succeeded, failed
}

func (b *BatchLayer) precomputeUser(ctx context.Context, limiter *rate.Limiter, userID int) error {
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	userCtx, cancel := context.WithTimeout(ctx, b.cfg.PerUserTimeout)
	defer cancel()

	items, err := b.model.Recommend(userCtx, userID, b.cfg.TopN)
	if err != nil {
		return err
	}
	if err := userCtx.Err(); err != nil {
		return err
	}
	return b.cache.Set(userID, newCachedData(items, b.now()))
}

// recalibrate retunes engine weights from population-wide arm success
// rates. Failures are logged and leave the weights alone.
func (b *BatchLayer) recalibrate(ctx context.Context) map[string]float64 {
	if b.arms == nil {
		return nil
	}
	states, err := b.arms.GlobalArmStates(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("weight recalibration skipped")
		return nil
	}
	rates := algorithmSuccessRates(states)
	if len(rates) == 0 {
		return nil
	}
	return b.trainer.RecalibrateWeights(rates).ToMap()
}

func countUsersAndItems(interactions []recommend.Interaction) (users, items int) {
	u := make(map[int]struct{})
	it := make(map[int]struct{})
	for i := range interactions {
		u[interactions[i].UserID] = struct{}{}
		it[interactions[i].ItemID] = struct{}{}
	}
	return len(u), len(it)
}
