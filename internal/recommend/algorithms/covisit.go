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

// CoVisitation recommends items that users tend to rate close together.
//
// Each user's ratings are ordered by time and every pair of items within
// windowSize consecutive ratings counts as one co-visit. Only ratings at
// or above minConfidence take part, so a pan does not pull its neighbours
// up. The pair counts become a Jaccard-like similarity:
//
//	sim(a, b) = covisits(a, b) / (count(a) + count(b) - covisits(a, b))
//
// A candidate's score is its summed similarity to the user's history,
// each history item weighted by its rating confidence.
type CoVisitation struct {
	BaseAlgorithm

	windowSize      int
	minCoOccurrence int
	minConfidence   float64
	maxPairs        int

	// Trained model: item_a -> item_b -> similarity
	cooccurrence map[int]map[int]float64
	itemCounts   map[int]int
}

// CoVisitConfig contains configuration for the co-visitation algorithm.
type CoVisitConfig struct {
	// WindowSize is how many consecutive ratings count as co-visited.
	WindowSize int

	// MinCoOccurrence is the minimum number of co-visits to keep a pair.
	MinCoOccurrence int

	// MinConfidence drops ratings below this confidence before pairing.
	MinConfidence float64

	// MaxPairs is the maximum number of pairs to store.
	MaxPairs int
}

// NewCoVisitation creates a new co-visitation algorithm.
func NewCoVisitation(cfg CoVisitConfig) *CoVisitation {
	if cfg.WindowSize < 1 {
		cfg.WindowSize = 10
	}
	if cfg.MinCoOccurrence < 1 {
		cfg.MinCoOccurrence = 1
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.5
	}
	if cfg.MaxPairs < 1 {
		cfg.MaxPairs = 100000
	}

	return &CoVisitation{
		BaseAlgorithm:   NewBaseAlgorithm(recommend.AlgorithmCoVisit),
		windowSize:      cfg.WindowSize,
		minCoOccurrence: cfg.MinCoOccurrence,
		minConfidence:   cfg.MinConfidence,
		maxPairs:        cfg.MaxPairs,
		cooccurrence:    make(map[int]map[int]float64),
		itemCounts:      make(map[int]int),
	}
}

// Train builds the co-visitation matrix from ratings.
func (c *CoVisitation) Train(ctx context.Context, interactions []recommend.Interaction, _ []recommend.Item) error {
	c.acquireTrainLock()
	defer c.releaseTrainLock()

	userItems := make(map[int][]recommend.Interaction)
	for i := range interactions {
		if interactions[i].Confidence < c.minConfidence {
			continue
		}
		userItems[interactions[i].UserID] = append(userItems[interactions[i].UserID], interactions[i])
	}

	itemCounts := make(map[int]int)
	counts := make(map[int]map[int]int)

	for _, items := range userItems {
		if ContextCancelled(ctx) {
			return ctx.Err()
		}

		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Timestamp.Before(items[j].Timestamp)
		})

		for i := range items {
			itemCounts[items[i].ItemID]++
			end := min(i+c.windowSize, len(items))
			for j := i + 1; j < end; j++ {
				a, b := items[i].ItemID, items[j].ItemID
				if a == b {
					continue
				}
				// Ensure consistent ordering for symmetric pairs
				if a > b {
					a, b = b, a
				}
				if counts[a] == nil {
					counts[a] = make(map[int]int)
				}
				counts[a][b]++
			}
		}
	}

	c.itemCounts = itemCounts
	c.cooccurrence = c.buildSimilarityMatrix(counts)
	c.markTrained()
	return nil
}

// buildSimilarityMatrix converts co-occurrence counts to similarity scores.
func (c *CoVisitation) buildSimilarityMatrix(counts map[int]map[int]int) map[int]map[int]float64 {
	type pair struct {
		a, b  int
		count int
	}
	var pairs []pair
	for a, bCounts := range counts {
		for b, count := range bCounts {
			if count >= c.minCoOccurrence {
				pairs = append(pairs, pair{a, b, count})
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		if pairs[i].a != pairs[j].a {
			return pairs[i].a < pairs[j].a
		}
		return pairs[i].b < pairs[j].b
	})
	if len(pairs) > c.maxPairs {
		pairs = pairs[:c.maxPairs]
	}

	similarity := make(map[int]map[int]float64)
	for _, p := range pairs {
		union := c.itemCounts[p.a] + c.itemCounts[p.b] - p.count

		var sim float64
		if union > 0 {
			sim = float64(p.count) / float64(union)
		}

		if similarity[p.a] == nil {
			similarity[p.a] = make(map[int]float64)
		}
		if similarity[p.b] == nil {
			similarity[p.b] = make(map[int]float64)
		}
		similarity[p.a][p.b] = sim
		similarity[p.b][p.a] = sim
	}

	return similarity
}

// Predict scores candidates by co-visitation with the user's history.
func (c *CoVisitation) Predict(ctx context.Context, history []recommend.Interaction, candidates []int) (map[int]float64, error) {
	c.acquirePredictLock()
	defer c.releasePredictLock()

	if !c.trained || len(c.cooccurrence) == 0 || len(history) == 0 {
		return nil, nil
	}

	scores := make(map[int]float64)
	for _, candidateID := range candidates {
		if ContextCancelled(ctx) {
			return nil, ctx.Err()
		}

		var total float64
		for i := range history {
			if sim, ok := c.cooccurrence[history[i].ItemID][candidateID]; ok {
				total += sim * history[i].Confidence
			}
		}
		if total > 0 {
			scores[candidateID] = total
		}
	}

	return normalizeScores(scores), nil
}

// Similarity returns the trained similarity between two items.
func (c *CoVisitation) Similarity(a, b int) float64 {
	c.acquirePredictLock()
	defer c.releasePredictLock()
	return c.cooccurrence[a][b]
}
