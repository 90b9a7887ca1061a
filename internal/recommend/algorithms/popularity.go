// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package algorithms

import (
	"context"
	"sort"

	"github.com/tomtom215/marquee/internal/recommend"
)

// Popularity ranks items by their summed rating confidence. It ignores
// the user's history and serves as the cold-start baseline:
//
//	score(item) = sum(confidence) over all ratings of item
//
// Low ratings count for little; an item rated 2/10 by many users can
// still lose to one rated 9/10 by a handful.
type Popularity struct {
	BaseAlgorithm

	maxItems int

	itemScores map[int]float64
	sortedIDs  []int // item IDs sorted by popularity descending
}

// PopularityConfig contains configuration for the popularity algorithm.
type PopularityConfig struct {
	// MaxItems limits the number of items to track.
	MaxItems int
}

// NewPopularity creates a new popularity algorithm.
func NewPopularity(cfg PopularityConfig) *Popularity {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 10000
	}

	return &Popularity{
		BaseAlgorithm: NewBaseAlgorithm(recommend.AlgorithmPopularity),
		maxItems:      cfg.MaxItems,
		itemScores:    make(map[int]float64),
	}
}

// Train computes popularity scores from ratings.
func (p *Popularity) Train(ctx context.Context, interactions []recommend.Interaction, _ []recommend.Item) error {
	p.acquireTrainLock()
	defer p.releaseTrainLock()

	scores := make(map[int]float64)
	for i := range interactions {
		if ContextCancelled(ctx) {
			return ctx.Err()
		}
		scores[interactions[i].ItemID] += interactions[i].Confidence
	}

	sorted := make([]int, 0, len(scores))
	for id := range scores {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if scores[sorted[i]] != scores[sorted[j]] {
			return scores[sorted[i]] > scores[sorted[j]]
		}
		return sorted[i] < sorted[j]
	})

	if len(sorted) > p.maxItems {
		for _, id := range sorted[p.maxItems:] {
			delete(scores, id)
		}
		sorted = sorted[:p.maxItems]
	}

	p.itemScores = scores
	p.sortedIDs = sorted
	p.markTrained()
	return nil
}

// Predict returns popularity scores for candidate items.
func (p *Popularity) Predict(_ context.Context, _ []recommend.Interaction, candidates []int) (map[int]float64, error) {
	p.acquirePredictLock()
	defer p.releasePredictLock()

	if !p.trained || len(p.itemScores) == 0 {
		return nil, nil
	}

	scores := make(map[int]float64, len(candidates))
	for _, candidateID := range candidates {
		if score, ok := p.itemScores[candidateID]; ok {
			scores[candidateID] = score
		}
	}

	return normalizeScores(scores), nil
}

// GetTopK returns the top K most popular item IDs.
func (p *Popularity) GetTopK(k int) []int {
	p.acquirePredictLock()
	defer p.releasePredictLock()

	if k <= 0 || len(p.sortedIDs) == 0 {
		return nil
	}
	if k > len(p.sortedIDs) {
		k = len(p.sortedIDs)
	}

	result := make([]int, k)
	copy(result, p.sortedIDs[:k])
	return result
}
