// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/marquee/internal/lambda"
)

// BatchScheduler is the scheduler surface of *lambda.Orchestrator.
type BatchScheduler interface {
	StartScheduler(interval time.Duration) error
	StopScheduler() bool
	TriggerBatchUpdate(ctx context.Context) (*lambda.BatchResult, error)
}

// SchedulerServiceConfig holds configuration for the scheduler service.
type SchedulerServiceConfig struct {
	// RunOnStartup runs one batch before the scheduler starts.
	RunOnStartup bool

	// Interval is the batch interval. Zero keeps the orchestrator's.
	Interval time.Duration

	// StartupTimeout bounds the startup batch.
	StartupTimeout time.Duration
}

// SchedulerService ties the orchestrator's batch scheduler to the
// supervisor lifecycle: it starts the scheduler on Serve and stops it on
// shutdown.
type SchedulerService struct {
	scheduler BatchScheduler
	config    SchedulerServiceConfig
	logger    zerolog.Logger
	name      string
}

// NewSchedulerService creates the service.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewSchedulerService(scheduler BatchScheduler, cfg SchedulerServiceConfig, logger zerolog.Logger) *SchedulerService {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Minute
	}
	return &SchedulerService{
		scheduler: scheduler,
		config:    cfg,
		logger:    logger.With().Str("service", "batch-scheduler").Logger(),
		name:      "batch-scheduler",
	}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	s.logger.Info().
		Bool("run_on_startup", s.config.RunOnStartup).
		Dur("interval", s.config.Interval).
		Msg("batch scheduler service starting")

	if s.config.RunOnStartup {
		s.runStartupBatch(ctx)
	}

	err := s.scheduler.StartScheduler(s.config.Interval)
	switch {
	case errors.Is(err, lambda.ErrSchedulerRunning):
		// Started through the API before the supervisor got here.
		s.logger.Debug().Msg("scheduler already running")
	case err != nil:
		return fmt.Errorf("start batch scheduler: %w", err)
	}

	<-ctx.Done()
	s.scheduler.StopScheduler()
	s.logger.Info().Msg("batch scheduler service stopped")
	return ctx.Err()
}

func (s *SchedulerService) runStartupBatch(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.StartupTimeout)
	defer cancel()

	result, err := s.scheduler.TriggerBatchUpdate(runCtx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("startup batch failed (will retry on schedule)")
		return
	}
	s.logger.Info().
		Int("precomputed", result.PrecomputedRecommendations).
		Int("failed", len(result.FailedUsers)).
		Msg("startup batch complete")
}

// String returns the service name for logging.
func (s *SchedulerService) String() string {
	return s.name
}
