// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package lambda

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/marquee/internal/bandit"
	"github.com/tomtom215/marquee/internal/recommend"
	"github.com/tomtom215/marquee/internal/store"
	"github.com/tomtom215/marquee/internal/store/memory"
)

var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

var errModel = errors.New("model unavailable")

// fakeClock is a settable clock shared by every layer under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeModel returns a fixed ranking per user, or the default ranking.
type fakeModel struct {
	mu       sync.Mutex
	byUser   map[int][]recommend.ScoredItem
	fallback []recommend.ScoredItem
	err      error
	failFor  map[int]bool
	blockFor map[int]bool
	calls    int
}

func newFakeModel(items ...recommend.ScoredItem) *fakeModel {
	return &fakeModel{
		byUser:   make(map[int][]recommend.ScoredItem),
		fallback: items,
		failFor:  make(map[int]bool),
		blockFor: make(map[int]bool),
	}
}

func (m *fakeModel) Recommend(ctx context.Context, userID, limit int) ([]recommend.ScoredItem, error) {
	m.mu.Lock()
	m.calls++
	err, fail, block := m.err, m.failFor[userID], m.blockFor[userID]
	items, ok := m.byUser[userID]
	if !ok {
		items = m.fallback
	}
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if fail {
		return nil, errModel
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return append([]recommend.ScoredItem(nil), items...), nil
}

func (m *fakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fakeTrainer records training and recalibration calls.
type fakeTrainer struct {
	mu         sync.Mutex
	trained    int
	lastCorpus int
	err        error
	gate       chan struct{}
	rates      map[string]float64

	// ready reports the model as trained before any Train call.
	ready bool
}

func (f *fakeTrainer) IsTrained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready || f.trained > 0
}

func (f *fakeTrainer) Train(ctx context.Context, interactions []recommend.Interaction, _ []recommend.Item) (*recommend.TrainingReport, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.trained++
	f.lastCorpus = len(interactions)
	return &recommend.TrainingReport{Interactions: len(interactions), Loss: 0.25, Error: 0.4, Version: f.trained}, nil
}

func (f *fakeTrainer) RecalibrateWeights(rates map[string]float64) recommend.AlgorithmWeights {
	f.mu.Lock()
	f.rates = rates
	f.mu.Unlock()
	return recommend.AlgorithmWeights{Popularity: 0.2, CoVisit: 0.5, Content: 0.3}
}

type fakeArms struct {
	states []bandit.ArmState
	err    error
}

func (f *fakeArms) GlobalArmStates(context.Context) ([]bandit.ArmState, error) {
	return f.states, f.err
}

// brokenEvents fails the listed queries and delegates the rest.
type brokenEvents struct {
	store.EventStore
	recent, active, latest, since bool
}

func (b *brokenEvents) RecentRatings(ctx context.Context, limit int) ([]store.Event, error) {
	if b.recent {
		return nil, errors.New("corpus query failed")
	}
	return b.EventStore.RecentRatings(ctx, limit)
}

func (b *brokenEvents) ActiveUsersSince(ctx context.Context, since time.Time, limit int) ([]int, error) {
	if b.active {
		return nil, errors.New("active users query failed")
	}
	return b.EventStore.ActiveUsersSince(ctx, since, limit)
}

func (b *brokenEvents) LatestUserRatings(ctx context.Context, userID, n int) ([]store.Event, error) {
	if b.latest {
		return nil, errors.New("latest ratings query failed")
	}
	return b.EventStore.LatestUserRatings(ctx, userID, n)
}

func (b *brokenEvents) UserRatingsSince(ctx context.Context, userID int, since time.Time) ([]store.Event, error) {
	if b.since {
		return nil, errors.New("ratings since query failed")
	}
	return b.EventStore.UserRatingsSince(ctx, userID, since)
}

type brokenSignals struct{}

func (brokenSignals) AppendSignal(context.Context, *store.Signal) error {
	return errors.New("signal store down")
}

func (brokenSignals) UserSignals(context.Context, int, time.Time) ([]store.Signal, error) {
	return nil, errors.New("signal store down")
}

func addRating(t *testing.T, st store.EventStore, userID, itemID int, rating float64, at time.Time) {
	t.Helper()
	err := st.AppendEvent(context.Background(), &store.Event{
		Kind:      store.KindRating,
		UserID:    userID,
		ItemID:    itemID,
		Rating:    rating,
		Genres:    []string{"drama"},
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
}

func ranking(pairs ...float64) []recommend.ScoredItem {
	out := make([]recommend.ScoredItem, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, recommend.ScoredItem{ItemID: int(pairs[i]), Score: pairs[i+1]})
	}
	return out
}

func newTestServing(t *testing.T, cfg ServingConfig, cache *Cache, events store.EventStore, model Model, clock *fakeClock) *ServingLayer {
	t.Helper()
	s, err := NewServingLayer(cfg, cache, events, model, clock.Now, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewServingLayer: %v", err)
	}
	return s
}

func testBatchConfig() BatchConfig {
	cfg := DefaultBatchConfig()
	cfg.MinTrainingSize = 2
	cfg.PerUserTimeout = time.Second
	cfg.Timeout = 5 * time.Second
	return cfg
}

func newTestBatch(t *testing.T, cfg BatchConfig, deps BatchDeps) *BatchLayer {
	t.Helper()
	b, err := NewBatchLayer(cfg, deps, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBatchLayer: %v", err)
	}
	return b
}

var _ store.EventStore = (*memory.Store)(nil)

func testLogger() zerolog.Logger { return zerolog.Nop() }
