// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Note: This package has no dependencies on other internal packages. The
// HistoryProvider interface lets the lambda layer plug in the event store.

// Engine coordinates multiple recommendation algorithms and produces final recommendations.
// It is safe for concurrent use.
type Engine struct {
	config  *Config
	logger  zerolog.Logger
	history HistoryProvider

	// Registered algorithms and the live blend weights
	algorithms []Algorithm
	weights    AlgorithmWeights
	algMu      sync.RWMutex

	// Candidate universe, most popular first
	catalog   []int
	catalogMu sync.RWMutex

	// Training state
	trainMu  sync.Mutex
	status   TrainingStatus
	statusMu sync.RWMutex
}

// NewEngine creates an engine. Algorithms are added with RegisterAlgorithm.
func NewEngine(cfg *Config, history HistoryProvider, logger zerolog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if history == nil {
		return nil, fmt.Errorf("history provider is required")
	}

	return &Engine{
		config:  cfg.Clone(),
		logger:  logger.With().Str("component", "recommend").Logger(),
		history: history,
		weights: cfg.Weights.Normalize(),
	}, nil
}

// RegisterAlgorithm adds an algorithm to the blend.
func (e *Engine) RegisterAlgorithm(alg Algorithm) {
	e.algMu.Lock()
	defer e.algMu.Unlock()

	e.algorithms = append(e.algorithms, alg)
	e.logger.Info().Str("algorithm", alg.Name()).Msg("registered algorithm")
}

// getAlgorithms returns a snapshot of the registered algorithms.
func (e *Engine) getAlgorithms() []Algorithm {
	e.algMu.RLock()
	defer e.algMu.RUnlock()

	algs := make([]Algorithm, len(e.algorithms))
	copy(algs, e.algorithms)
	return algs
}

// Weights returns the normalized blend weights currently in use.
func (e *Engine) Weights() AlgorithmWeights {
	e.algMu.RLock()
	defer e.algMu.RUnlock()
	return e.weights
}

// RecalibrateWeights scales each named algorithm's weight by
// 0.5 + successRate and renormalizes. Algorithms absent from
// successRates keep their weight. Returns the new normalized weights.
func (e *Engine) RecalibrateWeights(successRates map[string]float64) AlgorithmWeights {
	e.algMu.Lock()
	defer e.algMu.Unlock()

	current := e.weights.ToMap()
	for name, rate := range successRates {
		if _, ok := current[name]; !ok {
			continue
		}
		if math.IsNaN(rate) {
			continue
		}
		current[name] *= 0.5 + clamp01(rate)
	}
	e.weights = weightsFromMap(current).Normalize()

	e.logger.Info().
		Float64("popularity", e.weights.Popularity).
		Float64("covisit", e.weights.CoVisit).
		Float64("content", e.weights.Content).
		Msg("recalibrated algorithm weights")

	return e.weights
}

// Recommend returns up to limit items for the user, excluding anything the
// user already rated. Returns ErrNotTrained before the first Train.
func (e *Engine) Recommend(ctx context.Context, userID, limit int) ([]ScoredItem, error) {
	if !e.IsTrained() {
		return nil, ErrNotTrained
	}
	if limit <= 0 {
		return []ScoredItem{}, nil
	}

	history, err := e.history.UserHistory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user history: %w", err)
	}
	if len(history) > e.config.HistoryWindow {
		history = history[:e.config.HistoryWindow]
	}

	candidates := e.candidatesFor(history)
	if len(candidates) == 0 {
		return []ScoredItem{}, nil
	}

	items, err := e.score(ctx, history, candidates)
	if err != nil {
		return nil, err
	}

	sortScoredItems(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// candidatesFor returns catalogue items the user has not rated, most
// popular first, capped at MaxCandidates.
func (e *Engine) candidatesFor(history []Interaction) []int {
	seen := make(map[int]struct{}, len(history))
	for i := range history {
		seen[history[i].ItemID] = struct{}{}
	}

	e.catalogMu.RLock()
	defer e.catalogMu.RUnlock()

	candidates := make([]int, 0, min(len(e.catalog), e.config.Limits.MaxCandidates))
	for _, id := range e.catalog {
		if len(candidates) >= e.config.Limits.MaxCandidates {
			break
		}
		if _, ok := seen[id]; ok {
			continue
		}
		candidates = append(candidates, id)
	}
	return candidates
}

// algResult holds one algorithm's predictions.
type algResult struct {
	name   string
	scores map[int]float64
	err    error
}

// score runs every trained algorithm in parallel and blends the results.
// It fails only when every algorithm that ran returned an error.
func (e *Engine) score(ctx context.Context, history []Interaction, candidates []int) ([]ScoredItem, error) {
	results := e.runAlgorithmPredictions(ctx, history, candidates)

	var errs []error
	ran := 0
	for _, r := range results {
		if r.name == "" {
			continue
		}
		ran++
		if r.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.name, r.err))
		}
	}
	if ran > 0 && len(errs) == ran {
		return nil, fmt.Errorf("all algorithms failed: %w", errors.Join(errs...))
	}

	return e.combineAlgorithmScores(results, e.Weights().ToMap()), nil
}

// runAlgorithmPredictions runs all algorithms in parallel.
func (e *Engine) runAlgorithmPredictions(ctx context.Context, history []Interaction, candidates []int) []algResult {
	algorithms := e.getAlgorithms()
	results := make([]algResult, len(algorithms))

	var wg sync.WaitGroup
	for i, alg := range algorithms {
		wg.Add(1)
		go func(idx int, a Algorithm) {
			defer wg.Done()
			results[idx] = e.runSingleAlgorithm(ctx, a, history, candidates)
		}(i, alg)
	}
	wg.Wait()

	return results
}

// runSingleAlgorithm runs a single algorithm under the prediction timeout.
// An untrained algorithm yields a zero result.
func (e *Engine) runSingleAlgorithm(ctx context.Context, alg Algorithm, history []Interaction, candidates []int) algResult {
	if !alg.IsTrained() {
		return algResult{}
	}

	algCtx, cancel := context.WithTimeout(ctx, e.config.Limits.PredictionTimeout)
	defer cancel()

	scores, err := alg.Predict(algCtx, history, candidates)
	return algResult{name: alg.Name(), scores: scores, err: err}
}

// combineAlgorithmScores combines scores from multiple algorithms.
func (e *Engine) combineAlgorithmScores(results []algResult, weights map[string]float64) []ScoredItem {
	combined := make(map[int]float64)
	breakdown := make(map[int]map[string]float64)

	for _, result := range results {
		if !e.shouldUseResult(result, weights) {
			continue
		}

		weight := weights[result.name]
		for itemID, score := range result.scores {
			combined[itemID] += weight * score
			if breakdown[itemID] == nil {
				breakdown[itemID] = make(map[string]float64)
			}
			breakdown[itemID][result.name] = score
		}
	}

	items := make([]ScoredItem, 0, len(combined))
	for itemID, score := range combined {
		items = append(items, ScoredItem{
			ItemID: itemID,
			Score:  score,
			Scores: breakdown[itemID],
		})
	}
	return items
}

// shouldUseResult checks if an algorithm result should be used.
func (e *Engine) shouldUseResult(result algResult, weights map[string]float64) bool {
	if result.name == "" {
		return false
	}
	if result.err != nil {
		e.logger.Warn().
			Str("algorithm", result.name).
			Err(result.err).
			Msg("algorithm prediction failed")
		return false
	}
	if len(result.scores) == 0 {
		return false
	}
	return weights[result.name] > 0
}

// sortScoredItems orders by score descending, then item id ascending.
func sortScoredItems(items []ScoredItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ItemID < items[j].ItemID
	})
}

// Train trains all registered algorithms on the corpus and rebuilds the
// candidate catalogue. Individual algorithm failures are logged and do not
// stop the others; Train fails only if none of them trained.
// Returns ErrTrainingInProgress if another Train is running.
func (e *Engine) Train(ctx context.Context, interactions []Interaction, items []Item) (*TrainingReport, error) {
	if !e.trainMu.TryLock() {
		return nil, ErrTrainingInProgress
	}
	defer e.trainMu.Unlock()

	if len(interactions) == 0 {
		return nil, fmt.Errorf("no interactions to train on")
	}

	start := time.Now()
	e.setTraining(true)
	defer e.setTraining(false)

	e.logger.Info().
		Int("interactions", len(interactions)).
		Int("items", len(items)).
		Msg("starting model training")

	if err := e.trainAllAlgorithms(ctx, interactions, items); err != nil {
		e.recordFailure(err)
		return nil, err
	}
	e.rebuildCatalog(interactions, items)

	report := &TrainingReport{
		Interactions: len(interactions),
		Users:        countUniqueUsers(interactions),
		Items:        e.catalogSize(),
	}
	report.Loss, report.Error = e.evaluate(ctx, interactions)
	report.Duration = time.Since(start)
	report.Version = e.completeTraining(report)

	e.logger.Info().
		Int("version", report.Version).
		Float64("loss", report.Loss).
		Float64("error", report.Error).
		Dur("duration", report.Duration).
		Msg("model training complete")

	return report, nil
}

// trainAllAlgorithms trains each registered algorithm.
func (e *Engine) trainAllAlgorithms(ctx context.Context, interactions []Interaction, items []Item) error {
	algorithms := e.getAlgorithms()
	if len(algorithms) == 0 {
		return fmt.Errorf("no algorithms registered")
	}

	trained := 0
	var lastErr error
	for _, alg := range algorithms {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := alg.Train(ctx, interactions, items); err != nil {
			e.logger.Error().
				Str("algorithm", alg.Name()).
				Err(err).
				Msg("algorithm training failed")
			lastErr = err
			continue
		}
		trained++
		e.logger.Debug().Str("algorithm", alg.Name()).Msg("algorithm training complete")
	}

	if trained == 0 {
		return fmt.Errorf("every algorithm failed to train: %w", lastErr)
	}
	return nil
}

// rebuildCatalog orders every known item by summed rating confidence.
// Items with metadata but no ratings trail the list.
func (e *Engine) rebuildCatalog(interactions []Interaction, items []Item) {
	popularity := make(map[int]float64)
	for i := range interactions {
		popularity[interactions[i].ItemID] += interactions[i].Confidence
	}
	for i := range items {
		if _, ok := popularity[items[i].ID]; !ok {
			popularity[items[i].ID] = 0
		}
	}

	catalog := make([]int, 0, len(popularity))
	for id := range popularity {
		catalog = append(catalog, id)
	}
	sort.Slice(catalog, func(i, j int) bool {
		pi, pj := popularity[catalog[i]], popularity[catalog[j]]
		if pi != pj {
			return pi > pj
		}
		return catalog[i] < catalog[j]
	})

	e.catalogMu.Lock()
	e.catalog = catalog
	e.catalogMu.Unlock()
}

func (e *Engine) catalogSize() int {
	e.catalogMu.RLock()
	defer e.catalogMu.RUnlock()
	return len(e.catalog)
}

// evaluate scores each evaluated user's own rated items with that user's
// full history and compares the blend to the rating confidence. Returns
// (mean squared error, mean absolute error).
func (e *Engine) evaluate(ctx context.Context, interactions []Interaction) (loss, mae float64) {
	byUser := make(map[int][]Interaction)
	for i := range interactions {
		byUser[interactions[i].UserID] = append(byUser[interactions[i].UserID], interactions[i])
	}

	users := make([]int, 0, len(byUser))
	for id := range byUser {
		users = append(users, id)
	}
	sort.Ints(users)
	if e.config.EvalUsers > 0 && len(users) > e.config.EvalUsers {
		users = users[:e.config.EvalUsers]
	}

	var sq, abs float64
	n := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		history := byUser[userID]
		candidates := make([]int, 0, len(history))
		for i := range history {
			candidates = append(candidates, history[i].ItemID)
		}

		scored, err := e.score(ctx, history, candidates)
		if err != nil {
			continue
		}
		blended := make(map[int]float64, len(scored))
		for _, s := range scored {
			blended[s.ItemID] = s.Score
		}
		for i := range history {
			diff := history[i].Confidence - blended[history[i].ItemID]
			sq += diff * diff
			abs += math.Abs(diff)
			n++
		}
	}

	if n == 0 {
		return 0, 0
	}
	return sq / float64(n), abs / float64(n)
}

func (e *Engine) setTraining(on bool) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status.IsTraining = on
}

func (e *Engine) recordFailure(err error) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status.LastError = err.Error()
}

// completeTraining bumps the model version and returns it.
func (e *Engine) completeTraining(report *TrainingReport) int {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	e.status.ModelVersion++
	e.status.LastTrainedAt = time.Now()
	e.status.LastError = ""
	cp := *report
	cp.Version = e.status.ModelVersion
	e.status.LastReport = &cp
	return e.status.ModelVersion
}

// IsTrained reports whether Train has succeeded at least once.
func (e *Engine) IsTrained() bool {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status.ModelVersion > 0
}

// Status returns the current training status.
func (e *Engine) Status() TrainingStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

// countUniqueUsers counts unique users in interactions.
func countUniqueUsers(interactions []Interaction) int {
	users := make(map[int]struct{}, len(interactions))
	for i := range interactions {
		users[interactions[i].UserID] = struct{}{}
	}
	return len(users)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
