// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package recommend

import (
	"fmt"
	"time"
)

// Algorithm names used as weight keys.
const (
	AlgorithmPopularity = "popularity"
	AlgorithmCoVisit    = "covisit"
	AlgorithmContent    = "content"
)

// Config contains all configuration for the recommendation engine.
type Config struct {
	// Weights defines the relative contribution of each algorithm.
	// Weights are normalized at runtime, so they don't need to sum to 1.0.
	Weights AlgorithmWeights `json:"weights"`

	// Limits contains operational limits.
	Limits LimitsConfig `json:"limits"`

	// HistoryWindow is how many recent ratings feed a prediction.
	HistoryWindow int `json:"history_window"`

	// EvalUsers caps how many users TrainingReport metrics are computed over.
	EvalUsers int `json:"eval_users"`
}

// AlgorithmWeights defines the relative contribution of each algorithm.
type AlgorithmWeights struct {
	Popularity float64 `json:"popularity"`
	CoVisit    float64 `json:"covisit"`
	Content    float64 `json:"content"`
}

// Normalize returns a copy with weights normalized to sum to 1.0.
// All-zero weights become equal weights.
func (w AlgorithmWeights) Normalize() AlgorithmWeights {
	sum := w.Popularity + w.CoVisit + w.Content
	if sum == 0 {
		const equalWeight = 1.0 / 3.0
		return AlgorithmWeights{Popularity: equalWeight, CoVisit: equalWeight, Content: equalWeight}
	}
	return AlgorithmWeights{
		Popularity: w.Popularity / sum,
		CoVisit:    w.CoVisit / sum,
		Content:    w.Content / sum,
	}
}

// ToMap returns the weights keyed by algorithm name.
func (w AlgorithmWeights) ToMap() map[string]float64 {
	return map[string]float64{
		AlgorithmPopularity: w.Popularity,
		AlgorithmCoVisit:    w.CoVisit,
		AlgorithmContent:    w.Content,
	}
}

// weightsFromMap is the inverse of ToMap. Unknown keys are ignored.
func weightsFromMap(m map[string]float64) AlgorithmWeights {
	return AlgorithmWeights{
		Popularity: m[AlgorithmPopularity],
		CoVisit:    m[AlgorithmCoVisit],
		Content:    m[AlgorithmContent],
	}
}

// LimitsConfig contains operational limits.
type LimitsConfig struct {
	// MaxCandidates bounds how many catalogue items are scored per request.
	MaxCandidates int `json:"max_candidates"`

	// PredictionTimeout bounds each algorithm's Predict call.
	PredictionTimeout time.Duration `json:"prediction_timeout"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		Weights: AlgorithmWeights{
			Popularity: 0.3,
			CoVisit:    0.4,
			Content:    0.3,
		},
		Limits: LimitsConfig{
			MaxCandidates:     1000,
			PredictionTimeout: 5 * time.Second,
		},
		HistoryWindow: 50,
		EvalUsers:     1000,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	w := c.Weights
	if w.Popularity < 0 || w.CoVisit < 0 || w.Content < 0 {
		return fmt.Errorf("weights must be non-negative")
	}
	if c.Limits.MaxCandidates < 1 {
		return fmt.Errorf("max_candidates must be at least 1, got %d", c.Limits.MaxCandidates)
	}
	if c.Limits.PredictionTimeout <= 0 {
		return fmt.Errorf("prediction_timeout must be positive")
	}
	if c.HistoryWindow < 1 {
		return fmt.Errorf("history_window must be at least 1, got %d", c.HistoryWindow)
	}
	if c.EvalUsers < 0 {
		return fmt.Errorf("eval_users must be non-negative")
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
