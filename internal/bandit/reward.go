// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package bandit

// Outcome is an observed user reaction credited to an experiment.
type Outcome string

const (
	OutcomeClicked            Outcome = "clicked"
	OutcomeWatchlisted        Outcome = "watchlisted"
	OutcomeRatedHigh          Outcome = "rated_high"
	OutcomeRatedMedium        Outcome = "rated_medium"
	OutcomeRatedLow           Outcome = "rated_low"
	OutcomeIgnored            Outcome = "ignored"
	OutcomeDismissed          Outcome = "dismissed"
	OutcomePreferencePositive Outcome = "preference_positive"
	OutcomePreferenceNegative Outcome = "preference_negative"
)

var rewards = map[Outcome]float64{
	OutcomeClicked:            0.3,
	OutcomeWatchlisted:        0.6,
	OutcomeRatedHigh:          1.0,
	OutcomeRatedMedium:        0.4,
	OutcomeRatedLow:           0.1,
	OutcomeIgnored:            0.0,
	OutcomeDismissed:          -0.2,
	OutcomePreferencePositive: 0.8,
	OutcomePreferenceNegative: -0.1,
}

// CalculateReward maps an outcome to its reward. Unknown outcomes are 0.
func CalculateReward(outcome Outcome) float64 {
	return rewards[outcome]
}

// Known reports whether o is in the reward table.
func (o Outcome) Known() bool {
	_, ok := rewards[o]
	return ok
}
