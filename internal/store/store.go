// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package store defines the append-only records the recommendation pipeline
// reads and writes: user events (ratings, watchlist adds, preference
// changes), lightweight reward signals emitted by the speed layer, and the
// bandit experiment log.
//
// Implementations live in subpackages (memory, badger) and must pass Suite.
// Every listing that the pipeline windows by recency returns newest first.
package store

import (
	"context"
	"time"
)

// EventKind identifies a user action.
type EventKind string

const (
	KindRating     EventKind = "rating"
	KindWatchlist  EventKind = "watchlist"
	KindPreference EventKind = "preference"
)

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	switch k {
	case KindRating, KindWatchlist, KindPreference:
		return true
	}
	return false
}

// Event is one user action. Rating is on a 0-10 scale and only meaningful
// for KindRating. Genres describe the item and feed the content scorer and
// the bandit context.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	UserID    int       `json:"user_id"`
	ItemID    int       `json:"item_id,omitempty"`
	Rating    float64   `json:"rating,omitempty"`
	Genres    []string  `json:"genres,omitempty"`
	Device    string    `json:"device,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Signal is a reward observation appended by the speed layer.
type Signal struct {
	ID        string    `json:"id"`
	UserID    int       `json:"user_id"`
	ItemID    int       `json:"item_id,omitempty"`
	Outcome   string    `json:"outcome"`
	Reward    float64   `json:"reward"`
	CreatedAt time.Time `json:"created_at"`
}

// ExperimentContext is the snapshot of the user's situation taken when an
// arm was selected. Outcome is empty until the reward arrives.
type ExperimentContext struct {
	TimeOfDay              string   `json:"time_of_day" validate:"oneof=morning afternoon evening night"`
	DayOfWeek              string   `json:"day_of_week" validate:"oneof=weekday weekend"`
	SessionDuration        float64  `json:"session_duration" validate:"gte=0"`
	RecentGenres           []string `json:"recent_genres,omitempty"`
	RecentInteractionCount int      `json:"recent_interaction_count" validate:"gte=0"`
	DeviceType             string   `json:"device_type,omitempty"`
	Mood                   string   `json:"mood,omitempty"`
	Outcome                string   `json:"outcome,omitempty"`
}

// Experiment is one row of the bandit log. Rows are never deleted and are
// mutated exactly once, when Reward is set.
type Experiment struct {
	ID              string            `json:"id"`
	UserID          int               `json:"user_id"`
	Arm             string            `json:"arm"`
	Context         ExperimentContext `json:"context"`
	ExplorationRate float64           `json:"exploration_rate"`
	Reward          *float64          `json:"reward"`
	CreatedAt       time.Time         `json:"created_at"`
	RewardedAt      *time.Time        `json:"rewarded_at,omitempty"`
}

// EventStore is the append-only user event log.
type EventStore interface {
	// AppendEvent stores e, assigning e.ID when empty.
	AppendEvent(ctx context.Context, e *Event) error

	// RecentRatings returns up to limit rating events across all users.
	RecentRatings(ctx context.Context, limit int) ([]Event, error)

	// UserRatingsSince returns the user's rating events at or after since.
	UserRatingsSince(ctx context.Context, userID int, since time.Time) ([]Event, error)

	// LatestUserRatings returns the user's n most recent rating events.
	LatestUserRatings(ctx context.Context, userID, n int) ([]Event, error)

	// UserEventsSince returns every event of the user at or after since.
	UserEventsSince(ctx context.Context, userID int, since time.Time) ([]Event, error)

	// ActiveUsersSince returns up to limit users with any event at or after
	// since, most recently active first.
	ActiveUsersSince(ctx context.Context, since time.Time, limit int) ([]int, error)
}

// SignalStore holds speed-layer reward signals.
type SignalStore interface {
	AppendSignal(ctx context.Context, s *Signal) error
	UserSignals(ctx context.Context, userID int, since time.Time) ([]Signal, error)
}

// ExperimentStore is the bandit experiment log.
type ExperimentStore interface {
	// AppendExperiment stores a new row. Reward must be nil.
	AppendExperiment(ctx context.Context, exp *Experiment) error

	GetExperiment(ctx context.Context, id string) (*Experiment, error)

	// SetReward patches the reward and folds outcome into the stored
	// context. A second call for the same id returns ErrRewardAlreadySet.
	SetReward(ctx context.Context, id string, reward float64, outcome string, at time.Time) (*Experiment, error)

	// ListUserExperiments returns the user's rows, oldest first.
	ListUserExperiments(ctx context.Context, userID int) ([]Experiment, error)

	// ListExperiments returns every row, oldest first.
	ListExperiments(ctx context.Context) ([]Experiment, error)

	CountExperiments(ctx context.Context) (int, error)
}

// Store bundles every record family behind one backend.
type Store interface {
	EventStore
	SignalStore
	ExperimentStore
	Close() error
}
