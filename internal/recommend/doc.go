// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package recommend implements the hybrid candidate model behind the
// serving layer.
//
// # Architecture
//
// The Engine blends several Algorithm implementations (see the algorithms
// subpackage) with normalized weights:
//
//   - Popularity: summed rating confidence, the cold-start baseline
//   - Co-visitation: items rated close together by the same users
//   - Content: genre overlap with the user's rated items
//
// Train rebuilds every algorithm from a rating corpus and reports the
// training-set loss. Recommend reads the user's live history through a
// HistoryProvider, so ratings made after the last Train still shape the
// answer and are excluded from it.
//
// # Weight Recalibration
//
// After each batch run the lambda layer feeds per-algorithm success rates
// from the bandit into RecalibrateWeights. Each weight is scaled by
// 0.5 + rate and the set is renormalized.
//
// # Usage
//
//	engine, err := recommend.NewEngine(recommend.DefaultConfig(), history, logger)
//	engine.RegisterAlgorithm(algorithms.NewPopularity(algorithms.PopularityConfig{}))
//	engine.RegisterAlgorithm(algorithms.NewCoVisitation(algorithms.CoVisitConfig{}))
//
//	report, err := engine.Train(ctx, interactions, items)
//	items, err := engine.Recommend(ctx, userID, 20)
//
// # Thread Safety
//
// The engine is safe for concurrent use. Only one Train runs at a time;
// predictions proceed concurrently with training and see either the old
// or the new model of each algorithm.
package recommend
