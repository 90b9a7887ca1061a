// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package algorithms

import (
	"context"
	"strings"

	"github.com/tomtom215/marquee/internal/recommend"
)

// ContentBased recommends items whose genres match what the user rated
// well. The genre profile is built per request from the history passed to
// Predict, so it needs no per-user training state and works for users who
// first rated after the last Train.
//
//	profile(genre) = sum(confidence) over history items tagged genre, normalized
//	score(item)    = sum(profile(genre)) over item genres
type ContentBased struct {
	BaseAlgorithm

	minConfidence float64

	// Trained model: item_id -> lowercased genres
	itemGenres map[int][]string
}

// ContentBasedConfig contains configuration for content-based filtering.
type ContentBasedConfig struct {
	// MinConfidence ignores history ratings below this confidence.
	MinConfidence float64
}

// NewContentBased creates a new content-based algorithm.
func NewContentBased(cfg ContentBasedConfig) *ContentBased {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.5
	}
	return &ContentBased{
		BaseAlgorithm: NewBaseAlgorithm(recommend.AlgorithmContent),
		minConfidence: cfg.MinConfidence,
		itemGenres:    make(map[int][]string),
	}
}

// Train indexes item genres.
func (c *ContentBased) Train(ctx context.Context, _ []recommend.Interaction, items []recommend.Item) error {
	c.acquireTrainLock()
	defer c.releaseTrainLock()

	genres := make(map[int][]string, len(items))
	for i := range items {
		if ContextCancelled(ctx) {
			return ctx.Err()
		}
		if len(items[i].Genres) == 0 {
			continue
		}
		g := make([]string, 0, len(items[i].Genres))
		for _, name := range items[i].Genres {
			g = append(g, strings.ToLower(name))
		}
		genres[items[i].ID] = g
	}

	c.itemGenres = genres
	c.markTrained()
	return nil
}

// Predict returns scores for candidate items based on the history's genre profile.
func (c *ContentBased) Predict(ctx context.Context, history []recommend.Interaction, candidates []int) (map[int]float64, error) {
	c.acquirePredictLock()
	defer c.releasePredictLock()

	if !c.trained {
		return nil, nil
	}

	prof := c.buildProfile(history)
	if len(prof) == 0 {
		// Cold start: let the other algorithms answer
		return nil, nil
	}

	scores := make(map[int]float64, len(candidates))
	for _, candidateID := range candidates {
		if ContextCancelled(ctx) {
			return nil, ctx.Err()
		}
		if score := computeProfileMatch(prof, c.itemGenres[candidateID]); score > 0 {
			scores[candidateID] = score
		}
	}

	return normalizeScores(scores), nil
}

// buildProfile weights genres by rating confidence and normalizes to sum 1.
func (c *ContentBased) buildProfile(history []recommend.Interaction) map[string]float64 {
	prof := make(map[string]float64)
	for i := range history {
		if history[i].Confidence < c.minConfidence {
			continue
		}
		for _, genre := range c.itemGenres[history[i].ItemID] {
			prof[genre] += history[i].Confidence
		}
	}
	normalizeMap(prof)
	return prof
}

// ItemSimilarity returns the genre Jaccard similarity of two trained items.
func (c *ContentBased) ItemSimilarity(a, b int) float64 {
	c.acquirePredictLock()
	defer c.releasePredictLock()
	return jaccardSimilarity(c.itemGenres[a], c.itemGenres[b])
}

// normalizeMap normalizes map values to sum to 1.
func normalizeMap(m map[string]float64) {
	var sum float64
	for _, v := range m {
		sum += v
	}
	if sum > 0 {
		for k := range m {
			m[k] /= sum
		}
	}
}

// computeProfileMatch computes how well item features match user preferences.
func computeProfileMatch(preferences map[string]float64, itemFeatures []string) float64 {
	if len(preferences) == 0 || len(itemFeatures) == 0 {
		return 0
	}

	var total float64
	for _, feat := range itemFeatures {
		total += preferences[feat]
	}
	return total
}
