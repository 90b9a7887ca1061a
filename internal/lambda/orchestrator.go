// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package lambda

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrSchedulerRunning is returned by StartScheduler when the scheduler is
// already running.
var ErrSchedulerRunning = errors.New("batch scheduler already running")

// OrchestratorConfig tunes the scheduler loop.
type OrchestratorConfig struct {
	// CheckInterval is how often the scheduler asks IsBatchDue.
	CheckInterval time.Duration

	// JitterFraction spreads each check by up to this fraction of
	// CheckInterval, so several nodes started together drift apart.
	JitterFraction float64
}

// DefaultOrchestratorConfig returns the production defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		CheckInterval:  5 * time.Minute,
		JitterFraction: 0.1,
	}
}

// Status is the orchestrator's diagnostic view.
type Status struct {
	SchedulerRunning bool         `json:"scheduler_running"`
	BatchRunning     bool         `json:"batch_running"`
	LastBatchUpdate  *time.Time   `json:"last_batch_update"`
	LastResult       *BatchResult `json:"last_result,omitempty"`
	BatchInterval    string       `json:"batch_interval"`
	BreakerState     string       `json:"breaker_state"`
}

// Statistics is the read-only operational summary.
type Statistics struct {
	LastBatchUpdate    *time.Time `json:"last_batch_update"`
	Cache              CacheStats `json:"cache"`
	BatchIntervalHours float64    `json:"batch_interval_hours"`
	IsBatchDue         bool       `json:"is_batch_due"`
}

// Orchestrator owns the batch scheduler and is the single entry point for
// serving.
type Orchestrator struct {
	cfg     OrchestratorConfig
	batch   *BatchLayer
	speed   *SpeedLayer
	serving *ServingLayer
	cache   *Cache
	logger  zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrchestrator wires the three layers together.
func NewOrchestrator(cfg OrchestratorConfig, cache *Cache, batch *BatchLayer, speed *SpeedLayer, serving *ServingLayer, logger zerolog.Logger) (*Orchestrator, error) {
	if cache == nil || batch == nil || speed == nil || serving == nil {
		return nil, fmt.Errorf("orchestrator: cache and all three layers are required")
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("orchestrator: check interval must be positive, got %s", cfg.CheckInterval)
	}
	if cfg.JitterFraction < 0 || cfg.JitterFraction > 1 {
		return nil, fmt.Errorf("orchestrator: jitter fraction must be within [0,1], got %v", cfg.JitterFraction)
	}
	return &Orchestrator{
		cfg:     cfg,
		batch:   batch,
		speed:   speed,
		serving: serving,
		cache:   cache,
		logger:  logger.With().Str("component", "lambda_orchestrator").Logger(),
	}, nil
}

// Speed returns the speed layer for event handlers.
func (o *Orchestrator) Speed() *SpeedLayer {
	return o.speed
}

// GetRecommendations serves one request. It never fails.
func (o *Orchestrator) GetRecommendations(ctx context.Context, req Request) *CachedRecommendation {
	return o.serving.GetRecommendations(ctx, req)
}

// TriggerBatchUpdate runs the batch pipeline now.
func (o *Orchestrator) TriggerBatchUpdate(ctx context.Context) (*BatchResult, error) {
	return o.batch.RunBatchUpdate(ctx)
}

// StartScheduler starts the background scheduler. A positive interval
// replaces the batch interval first; zero keeps the current one.
func (o *Orchestrator) StartScheduler(interval time.Duration) error {
	if interval < 0 {
		return fmt.Errorf("batch interval must not be negative, got %s", interval)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return ErrSchedulerRunning
	}
	if interval > 0 {
		if err := o.batch.SetInterval(interval); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.cancel = cancel
	o.done = done

	go func() {
		defer close(done)
		o.loop(ctx)
	}()

	o.logger.Info().
		Str("batch_interval", o.batch.Interval().String()).
		Str("check_interval", o.cfg.CheckInterval.String()).
		Msg("batch scheduler started")
	return nil
}

// StopScheduler stops the scheduler and waits for its loop to exit,
// cancelling a batch it started. It reports whether one was running.
func (o *Orchestrator) StopScheduler() bool {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	o.logger.Info().Msg("batch scheduler stopped")
	return true
}

// SchedulerRunning reports whether the scheduler loop is active.
func (o *Orchestrator) SchedulerRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancel != nil
}

func (o *Orchestrator) loop(ctx context.Context) {
	timer := time.NewTimer(o.nextCheck())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			o.tick(ctx)
			timer.Reset(o.nextCheck())
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	if !o.batch.IsBatchDue() || o.batch.IsRunning() {
		return
	}
	o.logger.Debug().Msg("scheduled batch update triggered")
	if _, err := o.batch.RunBatchUpdate(ctx); err != nil && !errors.Is(err, ErrBatchInProgress) {
		o.logger.Warn().Err(err).Msg("scheduled batch update failed, retrying next check")
	}
}

// nextCheck is CheckInterval plus or minus up to JitterFraction of it.
func (o *Orchestrator) nextCheck() time.Duration {
	base := o.cfg.CheckInterval
	spread := int64(float64(base) * o.cfg.JitterFraction)
	if spread <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(2*spread+1)-spread)
}

// GetStatus reports scheduler and batch state.
func (o *Orchestrator) GetStatus() Status {
	return Status{
		SchedulerRunning: o.SchedulerRunning(),
		BatchRunning:     o.batch.IsRunning(),
		LastBatchUpdate:  timePtr(o.batch.LastBatchTime()),
		LastResult:       o.batch.LastResult(),
		BatchInterval:    o.batch.Interval().String(),
		BreakerState:     o.serving.BreakerState(),
	}
}

// GetStatistics returns last batch time, cache stats, the configured
// interval and whether a batch is due. It mutates nothing.
func (o *Orchestrator) GetStatistics() Statistics {
	return Statistics{
		LastBatchUpdate:    timePtr(o.batch.LastBatchTime()),
		Cache:              o.cache.Stats(),
		BatchIntervalHours: o.batch.Interval().Hours(),
		IsBatchDue:         o.batch.IsBatchDue(),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
