// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package bandit picks a recommendation strategy per user with Thompson
// sampling over a fixed arm set.
//
// Arm beliefs are never stored. Every read folds the user's rows of the
// experiment log into Beta posteriors, so the log is the only state and a
// restart loses nothing.
package bandit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/marquee/internal/metrics"
	"github.com/tomtom215/marquee/internal/store"
	"github.com/tomtom215/marquee/internal/validation"
)

// ErrInvalidContext is returned when a UserContext or feedback fails
// validation at the log-append boundary.
var ErrInvalidContext = errors.New("invalid bandit context")

// contextBoostScale converts a rule-table boost into a sample multiplier.
const contextBoostScale = 0.2

// Config wires a Selector.
type Config struct {
	Experiments store.ExperimentStore
	Events      store.EventStore

	// Signals holds the speed layer's implicit rewards. Optional; when set,
	// Statistics summarizes the user's signals over Lookback.
	Signals store.SignalStore

	// Lookback is the event window BuildContext reads. Default 24h.
	Lookback time.Duration

	// Seed fixes the sampler. Zero seeds from the clock.
	Seed int64

	// Now defaults to time.Now.
	Now func() time.Time
}

// Selector is the Thompson-sampling arm selector. It is safe for
// concurrent use.
type Selector struct {
	exps     store.ExperimentStore
	events   store.EventStore
	signals  store.SignalStore
	lookback time.Duration
	sampler  *sampler
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a Selector.
func New(cfg Config, logger zerolog.Logger) (*Selector, error) {
	if cfg.Experiments == nil || cfg.Events == nil {
		return nil, fmt.Errorf("bandit: experiment and event stores are required")
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = cfg.Now().UnixNano()
	}

	return &Selector{
		exps:     cfg.Experiments,
		events:   cfg.Events,
		signals:  cfg.Signals,
		lookback: cfg.Lookback,
		sampler:  newSampler(seed),
		now:      cfg.Now,
		logger:   logger.With().Str("component", "bandit").Logger(),
	}, nil
}

// ArmStates returns the user's posterior for every arm in selection order.
// A user without history gets Beta(1,1) everywhere.
func (s *Selector) ArmStates(ctx context.Context, userID int) ([]ArmState, error) {
	exps, err := s.exps.ListUserExperiments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list experiments for user %d: %w", userID, err)
	}
	return foldArmStates(exps), nil
}

// GlobalArmStates folds the whole log, across users.
func (s *Selector) GlobalArmStates(ctx context.Context) ([]ArmState, error) {
	exps, err := s.exps.ListExperiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return foldArmStates(exps), nil
}

// Selection is the outcome of one arm draw.
type Selection struct {
	Arm             Arm             `json:"arm"`
	Sample          float64         `json:"sample"`
	ExplorationRate float64         `json:"exploration_rate"`
	Samples         map[Arm]float64 `json:"samples"`
	Contextual      bool            `json:"contextual"`

	// ExperimentID is set once the selection is logged.
	ExperimentID string `json:"experiment_id,omitempty"`
}

// SelectArm draws one Beta sample per arm and picks the maximum.
func (s *Selector) SelectArm(ctx context.Context, uc *UserContext) (*Selection, error) {
	return s.selectArm(ctx, uc, false)
}

// SelectContextualArm samples like SelectArm, then scales each sample by
// 1 + boost*0.2 using the context rule table.
func (s *Selector) SelectContextualArm(ctx context.Context, uc *UserContext) (*Selection, error) {
	return s.selectArm(ctx, uc, true)
}

func (s *Selector) selectArm(ctx context.Context, uc *UserContext, contextual bool) (*Selection, error) {
	if uc == nil {
		return nil, fmt.Errorf("%w: nil context", ErrInvalidContext)
	}
	states, err := s.ArmStates(ctx, uc.UserID)
	if err != nil {
		return nil, err
	}

	sel := &Selection{
		Samples:    make(map[Arm]float64, len(states)),
		Contextual: contextual,
		Sample:     math.Inf(-1),
	}
	for i := range states {
		st := &states[i]
		sample := s.sampler.beta(st.Alpha, st.Beta)
		if contextual {
			sample *= 1 + contextualBoost(st.Arm, uc)*contextBoostScale
		}
		sel.Samples[st.Arm] = sample
		if sample > sel.Sample {
			sel.Arm = st.Arm
			sel.Sample = sample
			sel.ExplorationRate = st.ExplorationRate
		}
	}

	mode := "plain"
	if contextual {
		mode = "contextual"
	}
	metrics.BanditSelections.WithLabelValues(string(sel.Arm), mode).Inc()

	s.logger.Debug().
		Int("user_id", uc.UserID).
		Str("arm", string(sel.Arm)).
		Float64("sample", sel.Sample).
		Bool("contextual", contextual).
		Msg("selected arm")

	return sel, nil
}

// LogExperiment appends a reward-less row for the selection. The context is
// validated first; failures wrap ErrInvalidContext.
func (s *Selector) LogExperiment(ctx context.Context, uc *UserContext, sel *Selection) (*store.Experiment, error) {
	if uc == nil || sel == nil {
		return nil, fmt.Errorf("%w: context and selection are required", ErrInvalidContext)
	}
	if verr := validation.ValidateStruct(uc); verr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContext, verr)
	}
	if !sel.Arm.Valid() {
		return nil, fmt.Errorf("%w: unknown arm %q", ErrInvalidContext, sel.Arm)
	}

	exp := &store.Experiment{
		UserID:          uc.UserID,
		Arm:             string(sel.Arm),
		Context:         uc.Snapshot(),
		ExplorationRate: sel.ExplorationRate,
		CreatedAt:       s.now(),
	}
	if err := s.exps.AppendExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("append experiment: %w", err)
	}
	sel.ExperimentID = exp.ID
	return exp, nil
}

// SelectForUser builds the user's context, draws a contextual arm and logs
// the experiment. The returned selection carries the experiment id to
// credit with feedback later.
func (s *Selector) SelectForUser(ctx context.Context, req ContextRequest) (*Selection, *UserContext, error) {
	if verr := validation.ValidateStruct(&req); verr != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidContext, verr)
	}
	uc, err := s.BuildContext(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	sel, err := s.SelectContextualArm(ctx, uc)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.LogExperiment(ctx, uc, sel); err != nil {
		return nil, nil, err
	}
	return sel, uc, nil
}

// Feedback credits an outcome to a logged experiment.
type Feedback struct {
	ExperimentID string  `json:"experiment_id" validate:"required,uuid"`
	Outcome      Outcome `json:"outcome" validate:"required"`
}

// UpdateReward sets the experiment's reward from the outcome and folds the
// outcome into its stored context. Each experiment is rewarded once; a
// repeat returns store.ErrRewardAlreadySet.
func (s *Selector) UpdateReward(ctx context.Context, fb Feedback) (*store.Experiment, error) {
	if verr := validation.ValidateStruct(&fb); verr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContext, verr)
	}

	reward := CalculateReward(fb.Outcome)
	if !fb.Outcome.Known() {
		s.logger.Warn().
			Str("experiment_id", fb.ExperimentID).
			Str("outcome", string(fb.Outcome)).
			Msg("unknown outcome, crediting zero reward")
	}

	exp, err := s.exps.SetReward(ctx, fb.ExperimentID, reward, string(fb.Outcome), s.now())
	if err != nil {
		return nil, fmt.Errorf("set reward on %s: %w", fb.ExperimentID, err)
	}
	metrics.BanditRewards.WithLabelValues(exp.Arm).Observe(reward)
	return exp, nil
}

// Statistics summarizes a user's bandit history.
type Statistics struct {
	UserID        int        `json:"user_id"`
	TotalPulls    int        `json:"total_pulls"`
	AverageReward float64    `json:"average_reward"`
	BestArm       Arm        `json:"best_arm,omitempty"`
	Arms          []ArmState `json:"arms"`

	// ExplorationRate is 1/sqrt(total experiments in the log), or 1 for an
	// empty log.
	ExplorationRate float64 `json:"exploration_rate"`

	// Signals is nil when the selector has no signal store or the read
	// failed.
	Signals *SignalSummary `json:"signals,omitempty"`
}

// SignalSummary aggregates the implicit rewards the speed layer recorded
// for a user since a point in time.
type SignalSummary struct {
	Since         time.Time      `json:"since"`
	Count         int            `json:"count"`
	AverageReward float64        `json:"average_reward"`
	Outcomes      map[string]int `json:"outcomes"`
}

// Statistics returns the user's totals, best arm by success rate and the
// population-level exploration rate. BestArm is empty until the user has
// a rewarded experiment.
func (s *Selector) Statistics(ctx context.Context, userID int) (*Statistics, error) {
	states, err := s.ArmStates(ctx, userID)
	if err != nil {
		return nil, err
	}
	total, err := s.exps.CountExperiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("count experiments: %w", err)
	}

	stats := &Statistics{UserID: userID, Arms: states, ExplorationRate: 1}
	if total > 0 {
		stats.ExplorationRate = 1 / math.Sqrt(float64(total))
	}

	var rewardSum float64
	bestRate := -1.0
	for i := range states {
		st := &states[i]
		stats.TotalPulls += st.Pulls
		rewardSum += st.Rewards
		if st.Pulls > 0 && st.SuccessRate > bestRate {
			bestRate = st.SuccessRate
			stats.BestArm = st.Arm
		}
	}
	if stats.TotalPulls > 0 {
		stats.AverageReward = rewardSum / float64(stats.TotalPulls)
	}
	stats.Signals = s.signalSummary(ctx, userID)
	return stats, nil
}

// signalSummary reads the user's speed-layer signals over the lookback.
// A read failure is logged and yields nil.
func (s *Selector) signalSummary(ctx context.Context, userID int) *SignalSummary {
	if s.signals == nil {
		return nil
	}
	since := s.now().Add(-s.lookback)
	sigs, err := s.signals.UserSignals(ctx, userID, since)
	if err != nil {
		s.logger.Warn().Err(err).Int("user_id", userID).Msg("signal summary unavailable")
		return nil
	}

	summary := &SignalSummary{Since: since, Count: len(sigs), Outcomes: make(map[string]int)}
	var sum float64
	for i := range sigs {
		sum += sigs[i].Reward
		summary.Outcomes[sigs[i].Outcome]++
	}
	if summary.Count > 0 {
		summary.AverageReward = sum / float64(summary.Count)
	}
	return summary
}
