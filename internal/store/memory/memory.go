// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package memory is an in-process store.Store for tests and single-node
// development. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/marquee/internal/store"
)

// Store keeps every record in slices guarded by one RWMutex.
type Store struct {
	mu          sync.RWMutex
	events      []store.Event
	signals     []store.Signal
	experiments map[string]*store.Experiment
	order       []string
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{experiments: make(map[string]*store.Experiment)}
}

// AppendEvent implements store.EventStore.
func (s *Store) AppendEvent(_ context.Context, e *store.Event) error {
	if err := store.ValidateEvent(e); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	cp := *e
	cp.Genres = append([]string(nil), e.Genres...)

	s.mu.Lock()
	s.events = append(s.events, cp)
	s.mu.Unlock()
	return nil
}

// newestFirst returns the events matching keep, sorted newest first. Ties
// keep reverse insertion order.
func (s *Store) newestFirst(keep func(*store.Event) bool) []store.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Event, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if keep(&s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func truncate(events []store.Event, n int) []store.Event {
	if n >= 0 && len(events) > n {
		return events[:n]
	}
	return events
}

// RecentRatings implements store.EventStore.
func (s *Store) RecentRatings(_ context.Context, limit int) ([]store.Event, error) {
	out := s.newestFirst(func(e *store.Event) bool { return e.Kind == store.KindRating })
	return truncate(out, limit), nil
}

// UserRatingsSince implements store.EventStore.
func (s *Store) UserRatingsSince(_ context.Context, userID int, since time.Time) ([]store.Event, error) {
	return s.newestFirst(func(e *store.Event) bool {
		return e.UserID == userID && e.Kind == store.KindRating && !e.CreatedAt.Before(since)
	}), nil
}

// LatestUserRatings implements store.EventStore.
func (s *Store) LatestUserRatings(_ context.Context, userID, n int) ([]store.Event, error) {
	out := s.newestFirst(func(e *store.Event) bool {
		return e.UserID == userID && e.Kind == store.KindRating
	})
	return truncate(out, n), nil
}

// UserEventsSince implements store.EventStore.
func (s *Store) UserEventsSince(_ context.Context, userID int, since time.Time) ([]store.Event, error) {
	return s.newestFirst(func(e *store.Event) bool {
		return e.UserID == userID && !e.CreatedAt.Before(since)
	}), nil
}

// ActiveUsersSince implements store.EventStore.
func (s *Store) ActiveUsersSince(_ context.Context, since time.Time, limit int) ([]int, error) {
	recent := s.newestFirst(func(e *store.Event) bool { return !e.CreatedAt.Before(since) })

	seen := make(map[int]struct{})
	users := make([]int, 0)
	for i := range recent {
		if limit >= 0 && len(users) >= limit {
			break
		}
		if _, ok := seen[recent[i].UserID]; ok {
			continue
		}
		seen[recent[i].UserID] = struct{}{}
		users = append(users, recent[i].UserID)
	}
	return users, nil
}

// AppendSignal implements store.SignalStore.
func (s *Store) AppendSignal(_ context.Context, sig *store.Signal) error {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.signals = append(s.signals, *sig)
	s.mu.Unlock()
	return nil
}

// UserSignals implements store.SignalStore.
func (s *Store) UserSignals(_ context.Context, userID int, since time.Time) ([]store.Signal, error) {
	s.mu.RLock()
	out := make([]store.Signal, 0)
	for i := len(s.signals) - 1; i >= 0; i-- {
		sig := s.signals[i]
		if sig.UserID == userID && !sig.CreatedAt.Before(since) {
			out = append(out, sig)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func cloneExperiment(exp *store.Experiment) store.Experiment {
	cp := *exp
	cp.Context.RecentGenres = append([]string(nil), exp.Context.RecentGenres...)
	if exp.Reward != nil {
		r := *exp.Reward
		cp.Reward = &r
	}
	if exp.RewardedAt != nil {
		at := *exp.RewardedAt
		cp.RewardedAt = &at
	}
	return cp
}

// AppendExperiment implements store.ExperimentStore.
func (s *Store) AppendExperiment(_ context.Context, exp *store.Experiment) error {
	if err := store.ValidateExperiment(exp); err != nil {
		return err
	}
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	cp := cloneExperiment(exp)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.experiments[exp.ID]; exists {
		return fmt.Errorf("%w: duplicate experiment id %s", store.ErrInvalidRecord, exp.ID)
	}
	s.experiments[exp.ID] = &cp
	s.order = append(s.order, exp.ID)
	return nil
}

// GetExperiment implements store.ExperimentStore.
func (s *Store) GetExperiment(_ context.Context, id string) (*store.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[id]
	if !ok {
		return nil, &store.NotFoundError{Entity: "experiment", ID: id}
	}
	cp := cloneExperiment(exp)
	return &cp, nil
}

// SetReward implements store.ExperimentStore.
func (s *Store) SetReward(_ context.Context, id string, reward float64, outcome string, at time.Time) (*store.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.experiments[id]
	if !ok {
		return nil, &store.NotFoundError{Entity: "experiment", ID: id}
	}
	if exp.Reward != nil {
		return nil, store.ErrRewardAlreadySet
	}
	exp.Reward = &reward
	exp.RewardedAt = &at
	exp.Context.Outcome = outcome

	cp := cloneExperiment(exp)
	return &cp, nil
}

func (s *Store) listExperiments(keep func(*store.Experiment) bool) []store.Experiment {
	s.mu.RLock()
	out := make([]store.Experiment, 0)
	for _, id := range s.order {
		if exp := s.experiments[id]; keep(exp) {
			out = append(out, cloneExperiment(exp))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListUserExperiments implements store.ExperimentStore.
func (s *Store) ListUserExperiments(_ context.Context, userID int) ([]store.Experiment, error) {
	return s.listExperiments(func(e *store.Experiment) bool { return e.UserID == userID }), nil
}

// ListExperiments implements store.ExperimentStore.
func (s *Store) ListExperiments(_ context.Context) ([]store.Experiment, error) {
	return s.listExperiments(func(*store.Experiment) bool { return true }), nil
}

// CountExperiments implements store.ExperimentStore.
func (s *Store) CountExperiments(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.experiments), nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
