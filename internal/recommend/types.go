// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package recommend

import (
	"context"
	"errors"
	"time"
)

// MaxRating is the top of the rating scale.
const MaxRating = 10.0

// ErrNotTrained is returned by Recommend before the first successful Train.
var ErrNotTrained = errors.New("recommend: model not trained")

// ErrTrainingInProgress is returned when Train is called concurrently.
var ErrTrainingInProgress = errors.New("recommend: training already in progress")

// Interaction is one explicit rating of an item by a user.
type Interaction struct {
	// UserID is the rating author.
	UserID int `json:"user_id"`

	// ItemID is the rated item.
	ItemID int `json:"item_id"`

	// Rating is the raw score on the 0..10 scale.
	Rating float64 `json:"rating"`

	// Confidence is Rating mapped to [0, 1]. Algorithms weight by it.
	Confidence float64 `json:"confidence"`

	// Timestamp is when the rating was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// NewInteraction builds an Interaction and derives its confidence.
func NewInteraction(userID, itemID int, rating float64, at time.Time) Interaction {
	return Interaction{
		UserID:     userID,
		ItemID:     itemID,
		Rating:     rating,
		Confidence: ConfidenceFromRating(rating),
		Timestamp:  at,
	}
}

// ConfidenceFromRating maps a 0..10 rating onto [0, 1].
func ConfidenceFromRating(rating float64) float64 {
	c := rating / MaxRating
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// Item is the metadata the content scorer needs about a catalogue entry.
type Item struct {
	ID     int      `json:"id"`
	Genres []string `json:"genres,omitempty"`
}

// ScoredItem is one ranked candidate.
type ScoredItem struct {
	ItemID int     `json:"item_id"`
	Score  float64 `json:"score"`

	// Scores breaks Score down by algorithm before weighting.
	Scores map[string]float64 `json:"scores,omitempty"`
}

// Algorithm is a trainable scorer blended by the Engine.
//
// Predict receives the user's current rating history rather than looking
// the user up in the training snapshot, so ratings added after the last
// Train still shape the result.
type Algorithm interface {
	// Name returns the algorithm identifier used in weights and breakdowns.
	Name() string

	// Train rebuilds the model from the corpus. It replaces all prior state.
	Train(ctx context.Context, interactions []Interaction, items []Item) error

	// Predict scores candidates for a user with the given history.
	// Scores are normalized to [0, 1]. A nil map means no opinion.
	Predict(ctx context.Context, history []Interaction, candidates []int) (map[int]float64, error)

	IsTrained() bool
	Version() int
	LastTrainedAt() time.Time
}

// HistoryProvider returns a user's most recent ratings, newest first.
type HistoryProvider interface {
	UserHistory(ctx context.Context, userID int) ([]Interaction, error)
}

// TrainingReport summarizes one Train call.
type TrainingReport struct {
	Interactions int `json:"interactions"`
	Users        int `json:"users"`
	Items        int `json:"items"`

	// Loss is the mean squared error between confidence and blended score
	// over the evaluated training interactions.
	Loss float64 `json:"loss"`

	// Error is the mean absolute error over the same set.
	Error float64 `json:"error"`

	Version  int           `json:"version"`
	Duration time.Duration `json:"duration"`
}

// TrainingStatus is the engine's training state for diagnostics.
type TrainingStatus struct {
	IsTraining    bool            `json:"is_training"`
	ModelVersion  int             `json:"model_version"`
	LastTrainedAt time.Time       `json:"last_trained_at"`
	LastReport    *TrainingReport `json:"last_report,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}
