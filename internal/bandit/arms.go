// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package bandit

import (
	"github.com/tomtom215/marquee/internal/store"
)

// Arm names one recommendation strategy competing for selection.
type Arm string

const (
	ArmNeural           Arm = "neural"
	ArmCollaborative    Arm = "collaborative"
	ArmContentBased     Arm = "content_based"
	ArmTrending         Arm = "trending"
	ArmHybrid           Arm = "hybrid"
	ArmExploration      Arm = "exploration"
	ArmDynamicWeighting Arm = "dynamic_weighting"
)

// allArms is the fixed arm set in selection order. Ties between samples
// go to the earlier arm.
var allArms = []Arm{
	ArmNeural,
	ArmCollaborative,
	ArmContentBased,
	ArmTrending,
	ArmHybrid,
	ArmExploration,
	ArmDynamicWeighting,
}

// Arms returns the arm set in selection order.
func Arms() []Arm {
	out := make([]Arm, len(allArms))
	copy(out, allArms)
	return out
}

// Valid reports whether a is one of the fixed arms.
func (a Arm) Valid() bool {
	for _, known := range allArms {
		if a == known {
			return true
		}
	}
	return false
}

// SuccessThreshold is the reward at or above which an experiment counts as
// a success.
const SuccessThreshold = 0.5

// ArmState is the Beta posterior of one arm, derived from the experiment
// log. Alpha = successes + 1 and Beta = failures + 1.
type ArmState struct {
	Arm             Arm     `json:"arm"`
	Alpha           float64 `json:"alpha"`
	Beta            float64 `json:"beta"`
	Pulls           int     `json:"pulls"`
	Successes       int     `json:"successes"`
	Rewards         float64 `json:"rewards"`
	SuccessRate     float64 `json:"success_rate"`
	ExplorationRate float64 `json:"exploration_rate"`
}

// newArmState returns the uniform Beta(1,1) prior.
func newArmState(arm Arm) ArmState {
	return ArmState{Arm: arm, Alpha: 1, Beta: 1, ExplorationRate: 1}
}

// observe folds one rewarded experiment into the state.
func (s *ArmState) observe(reward float64) {
	s.Pulls++
	s.Rewards += reward
	if reward >= SuccessThreshold {
		s.Successes++
	}
	s.Alpha = float64(s.Successes) + 1
	s.Beta = float64(s.Pulls-s.Successes) + 1
	s.SuccessRate = float64(s.Successes) / float64(s.Pulls)
	s.ExplorationRate = 1 / (1 + float64(s.Pulls))
}

// foldArmStates aggregates rewarded experiments into one state per arm,
// in selection order. Unrewarded rows and unknown arms are skipped.
func foldArmStates(experiments []store.Experiment) []ArmState {
	index := make(map[Arm]int, len(allArms))
	states := make([]ArmState, len(allArms))
	for i, arm := range allArms {
		states[i] = newArmState(arm)
		index[arm] = i
	}

	for i := range experiments {
		exp := &experiments[i]
		if exp.Reward == nil {
			continue
		}
		idx, ok := index[Arm(exp.Arm)]
		if !ok {
			continue
		}
		states[idx].observe(*exp.Reward)
	}
	return states
}
