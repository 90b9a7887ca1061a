// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package config loads Marquee configuration from built-in defaults, an
// optional YAML file and environment variables, in that order of precedence
// (ENV > file > defaults).
//
// A node boots with no configuration at all: the defaults select the
// in-memory store, a 12 hour batch interval and the serving windows the
// recommendation pipeline was tuned with.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Logging  LoggingConfig  `koanf:"logging"`
	Lambda   LambdaConfig   `koanf:"lambda"`
	Bandit   BanditConfig   `koanf:"bandit"`
	Model    ModelConfig    `koanf:"model"`
	Security SecurityConfig `koanf:"security"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Storage backends.
const (
	StorageMemory = "memory"
	StorageBadger = "badger"
)

// StorageConfig selects the event store and experiment log backend.
type StorageConfig struct {
	// Backend is "memory" or "badger".
	Backend string `koanf:"backend"`

	// Path is the BadgerDB directory.
	Path string `koanf:"path"`

	// InMemory runs BadgerDB without touching disk.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites fsyncs every badger transaction.
	SyncWrites bool `koanf:"sync_writes"`
}

// LoggingConfig mirrors logging.Config without the writer.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// LambdaConfig tunes the batch, speed and serving layers.
//
// The serving windows (BatchFreshness, RecentActivityWindow, MergeHistory,
// FreshnessBoost) are policy, not derived values.
type LambdaConfig struct {
	// Scheduler
	SchedulerEnabled bool          `koanf:"scheduler_enabled"`
	BatchInterval    time.Duration `koanf:"batch_interval"`
	CheckInterval    time.Duration `koanf:"check_interval"`
	JitterFraction   float64       `koanf:"jitter_fraction"`
	RunOnStartup     bool          `koanf:"run_on_startup"`

	// Batch layer
	BatchTimeout        time.Duration `koanf:"batch_timeout"`
	PerUserTimeout      time.Duration `koanf:"per_user_timeout"`
	TrainingCorpusLimit int           `koanf:"training_corpus_limit"`
	MinTrainingSize     int           `koanf:"min_training_size"`
	ActiveWindow        time.Duration `koanf:"active_window"`
	MaxActiveUsers      int           `koanf:"max_active_users"`
	PrecomputeTopN      int           `koanf:"precompute_top_n"`
	PrecomputeWorkers   int           `koanf:"precompute_workers"`
	PrecomputeRate      float64       `koanf:"precompute_rate"`

	// Serving layer
	BatchFreshness       time.Duration `koanf:"batch_freshness"`
	RecentActivityWindow time.Duration `koanf:"recent_activity_window"`
	MergeHistory         int           `koanf:"merge_history"`
	FreshnessBoost       float64       `koanf:"freshness_boost"`
	DefaultLimit         int           `koanf:"default_limit"`
	MaxLimit             int           `koanf:"max_limit"`
	RepopulateOnRealtime bool          `koanf:"repopulate_on_realtime"`

	// Speed layer bus
	SpeedBufferSize int `koanf:"speed_buffer_size"`
}

// BanditConfig tunes arm selection.
type BanditConfig struct {
	// ContextLookback is how far back BuildContext reads user events.
	ContextLookback time.Duration `koanf:"context_lookback"`

	// Seed fixes the sampler RNG. Zero seeds from the clock.
	Seed int64 `koanf:"seed"`
}

// ModelConfig configures the candidate model.
type ModelConfig struct {
	WeightPopularity   float64       `koanf:"weight_popularity"`
	WeightCoVisitation float64       `koanf:"weight_covisitation"`
	WeightContent      float64       `koanf:"weight_content"`
	MaxCandidates      int           `koanf:"max_candidates"`
	PredictionTimeout  time.Duration `koanf:"prediction_timeout"`

	// CoVisitWindow is how many consecutive ratings by one user count as
	// watched together.
	CoVisitWindow int `koanf:"covisit_window"`

	// BreakerFailures consecutive model failures open the breaker.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// SecurityConfig holds CORS and rate-limit settings for the HTTP surface.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
