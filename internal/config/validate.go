// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks that the configuration can boot a node.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateLambda(); err != nil {
		return err
	}
	if err := c.validateBandit(); err != nil {
		return err
	}
	if err := c.validateModel(); err != nil {
		return err
	}
	return c.validateSecurity()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageMemory:
		return nil
	case StorageBadger:
		if c.Storage.Path == "" && !c.Storage.InMemory {
			return fmt.Errorf("storage.path is required for the badger backend unless storage.in_memory is set")
		}
		return nil
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", StorageMemory, StorageBadger, c.Storage.Backend)
	}
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateLambda() error {
	l := &c.Lambda

	durations := []struct {
		name string
		v    time.Duration
	}{
		{"lambda.batch_interval", l.BatchInterval},
		{"lambda.check_interval", l.CheckInterval},
		{"lambda.batch_timeout", l.BatchTimeout},
		{"lambda.per_user_timeout", l.PerUserTimeout},
		{"lambda.active_window", l.ActiveWindow},
		{"lambda.batch_freshness", l.BatchFreshness},
		{"lambda.recent_activity_window", l.RecentActivityWindow},
	}
	for _, d := range durations {
		if d.v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.v)
		}
	}

	counts := []struct {
		name string
		v    int
	}{
		{"lambda.training_corpus_limit", l.TrainingCorpusLimit},
		{"lambda.max_active_users", l.MaxActiveUsers},
		{"lambda.precompute_top_n", l.PrecomputeTopN},
		{"lambda.precompute_workers", l.PrecomputeWorkers},
		{"lambda.merge_history", l.MergeHistory},
		{"lambda.default_limit", l.DefaultLimit},
		{"lambda.max_limit", l.MaxLimit},
	}
	for _, n := range counts {
		if n.v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", n.name, n.v)
		}
	}

	if l.MinTrainingSize < 0 {
		return fmt.Errorf("lambda.min_training_size must be non-negative, got %d", l.MinTrainingSize)
	}
	if l.DefaultLimit > l.MaxLimit {
		return fmt.Errorf("lambda.default_limit (%d) exceeds lambda.max_limit (%d)", l.DefaultLimit, l.MaxLimit)
	}
	if l.FreshnessBoost < 1 {
		return fmt.Errorf("lambda.freshness_boost must be >= 1, got %v", l.FreshnessBoost)
	}
	if l.JitterFraction < 0 || l.JitterFraction >= 1 {
		return fmt.Errorf("lambda.jitter_fraction must be in [0,1), got %v", l.JitterFraction)
	}
	if l.PrecomputeRate < 0 {
		return fmt.Errorf("lambda.precompute_rate must be non-negative, got %v", l.PrecomputeRate)
	}
	if l.SpeedBufferSize < 0 {
		return fmt.Errorf("lambda.speed_buffer_size must be non-negative, got %d", l.SpeedBufferSize)
	}
	return nil
}

func (c *Config) validateBandit() error {
	if c.Bandit.ContextLookback <= 0 {
		return fmt.Errorf("bandit.context_lookback must be positive, got %v", c.Bandit.ContextLookback)
	}
	return nil
}

func (c *Config) validateModel() error {
	m := &c.Model
	if m.WeightPopularity < 0 || m.WeightCoVisitation < 0 || m.WeightContent < 0 {
		return fmt.Errorf("model weights must be non-negative")
	}
	if m.WeightPopularity+m.WeightCoVisitation+m.WeightContent == 0 {
		return fmt.Errorf("at least one model weight must be positive")
	}
	if m.MaxCandidates < 1 {
		return fmt.Errorf("model.max_candidates must be at least 1, got %d", m.MaxCandidates)
	}
	if m.PredictionTimeout <= 0 {
		return fmt.Errorf("model.prediction_timeout must be positive, got %v", m.PredictionTimeout)
	}
	if m.CoVisitWindow < 1 {
		return fmt.Errorf("model.covisit_window must be at least 1, got %d", m.CoVisitWindow)
	}
	if m.BreakerFailures == 0 {
		return fmt.Errorf("model.breaker_failures must be at least 1")
	}
	if m.BreakerTimeout <= 0 {
		return fmt.Errorf("model.breaker_timeout must be positive, got %v", m.BreakerTimeout)
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitRequests < 1 {
		return fmt.Errorf("security.rate_limit_requests must be at least 1, got %d", c.Security.RateLimitRequests)
	}
	if c.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("security.rate_limit_window must be positive, got %v", c.Security.RateLimitWindow)
	}
	return nil
}
