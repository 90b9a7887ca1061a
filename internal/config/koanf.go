// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/marquee/config.yaml",
}

// defaultConfig returns the built-in defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: StorageMemory,
			Path:    "./data/marquee",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Lambda: LambdaConfig{
			SchedulerEnabled: true,
			BatchInterval:    12 * time.Hour,
			CheckInterval:    5 * time.Minute,
			JitterFraction:   0.1,

			BatchTimeout:        30 * time.Minute,
			PerUserTimeout:      10 * time.Second,
			TrainingCorpusLimit: 100000,
			MinTrainingSize:     1000,
			ActiveWindow:        30 * 24 * time.Hour,
			MaxActiveUsers:      1000,
			PrecomputeTopN:      50,
			PrecomputeWorkers:   1,

			BatchFreshness:       6 * time.Hour,
			RecentActivityWindow: time.Hour,
			MergeHistory:         50,
			FreshnessBoost:       1.10,
			DefaultLimit:         10,
			MaxLimit:             100,

			SpeedBufferSize: 256,
		},
		Bandit: BanditConfig{
			ContextLookback: 24 * time.Hour,
		},
		Model: ModelConfig{
			WeightPopularity:   0.3,
			WeightCoVisitation: 0.4,
			WeightContent:      0.3,
			MaxCandidates:      1000,
			PredictionTimeout:  5 * time.Second,
			CoVisitWindow:      10,
			BreakerFailures:    5,
			BreakerTimeout:     30 * time.Second,
		},
		Security: SecurityConfig{
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
	}
}

// Default returns the built-in configuration. It always validates.
func Default() *Config {
	return defaultConfig()
}

// Load builds the configuration from defaults, the optional config file and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when they arrive as env strings.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unmapped variables are ignored so the process environment cannot leak
// into configuration.
var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_idle_timeout":     "server.idle_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	"storage_backend":     "storage.backend",
	"badger_path":         "storage.path",
	"badger_in_memory":    "storage.in_memory",
	"badger_sync_writes":  "storage.sync_writes",
	"log_level":           "logging.level",
	"log_format":          "logging.format",
	"log_caller":          "logging.caller",

	"batch_scheduler_enabled": "lambda.scheduler_enabled",
	"batch_interval":          "lambda.batch_interval",
	"batch_check_interval":    "lambda.check_interval",
	"batch_jitter_fraction":   "lambda.jitter_fraction",
	"batch_run_on_startup":    "lambda.run_on_startup",
	"batch_timeout":           "lambda.batch_timeout",
	"batch_per_user_timeout":  "lambda.per_user_timeout",
	"batch_corpus_limit":      "lambda.training_corpus_limit",
	"batch_min_training_size": "lambda.min_training_size",
	"batch_active_window":     "lambda.active_window",
	"batch_max_active_users":  "lambda.max_active_users",
	"batch_top_n":             "lambda.precompute_top_n",
	"batch_workers":           "lambda.precompute_workers",
	"batch_rate":              "lambda.precompute_rate",

	"serving_batch_freshness":         "lambda.batch_freshness",
	"serving_recent_activity_window":  "lambda.recent_activity_window",
	"serving_merge_history":           "lambda.merge_history",
	"serving_freshness_boost":         "lambda.freshness_boost",
	"serving_default_limit":           "lambda.default_limit",
	"serving_max_limit":               "lambda.max_limit",
	"serving_repopulate_on_realtime":  "lambda.repopulate_on_realtime",
	"speed_buffer_size":               "lambda.speed_buffer_size",

	"bandit_context_lookback": "bandit.context_lookback",
	"bandit_seed":             "bandit.seed",

	"model_weight_popularity":   "model.weight_popularity",
	"model_weight_covisitation": "model.weight_covisitation",
	"model_weight_content":      "model.weight_content",
	"model_max_candidates":      "model.max_candidates",
	"model_prediction_timeout":  "model.prediction_timeout",
	"model_covisit_window":      "model.covisit_window",
	"model_breaker_failures":    "model.breaker_failures",
	"model_breaker_timeout":     "model.breaker_timeout",

	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_requests",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
}

// envTransformFunc returns the koanf path for an env var, or "" to skip it.
//
//   - HTTP_PORT -> server.port
//   - BATCH_INTERVAL -> lambda.batch_interval
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
