// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package lambda

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/marquee/internal/bandit"
	"github.com/tomtom215/marquee/internal/store/memory"
)

func TestSpeedLayerSignals(t *testing.T) {
	tests := []struct {
		name        string
		apply       func(*SpeedLayer)
		wantOutcome bandit.Outcome
		wantReward  float64
		wantSignal  bool
	}{
		{
			name:        "high rating",
			apply:       func(s *SpeedLayer) { s.OnRatingAdded(context.Background(), 1, 10, 8) },
			wantOutcome: bandit.OutcomeRatedHigh,
			wantReward:  1.0,
			wantSignal:  true,
		},
		{
			name:        "threshold rating",
			apply:       func(s *SpeedLayer) { s.OnRatingAdded(context.Background(), 1, 10, 7) },
			wantOutcome: bandit.OutcomeRatedHigh,
			wantReward:  1.0,
			wantSignal:  true,
		},
		{
			name:        "low rating",
			apply:       func(s *SpeedLayer) { s.OnRatingAdded(context.Background(), 1, 10, 6.5) },
			wantOutcome: bandit.OutcomeIgnored,
			wantReward:  0,
			wantSignal:  true,
		},
		{
			name:        "watchlist",
			apply:       func(s *SpeedLayer) { s.OnWatchlistAdded(context.Background(), 1, 10) },
			wantOutcome: bandit.OutcomeWatchlisted,
			wantReward:  0.6,
			wantSignal:  true,
		},
		{
			name:  "preference",
			apply: func(s *SpeedLayer) { s.OnPreferenceUpdated(context.Background(), 1) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			st := memory.New()
			cache := NewCache()
			seedCache(t, cache, 1, clock.Now(), []int{1}, []float64{1})
			s := NewSpeedLayer(cache, st, clock.Now, testLogger())

			tt.apply(s)

			if _, ok := cache.Get(1); ok {
				t.Error("cache entry survived the update")
			}

			signals, err := st.UserSignals(context.Background(), 1, time.Time{})
			if err != nil {
				t.Fatalf("UserSignals: %v", err)
			}
			if !tt.wantSignal {
				if len(signals) != 0 {
					t.Errorf("signals = %+v, want none", signals)
				}
				return
			}
			if len(signals) != 1 {
				t.Fatalf("signals = %d, want 1", len(signals))
			}
			sig := signals[0]
			if sig.Outcome != string(tt.wantOutcome) || sig.Reward != tt.wantReward {
				t.Errorf("signal = %s/%v, want %s/%v", sig.Outcome, sig.Reward, tt.wantOutcome, tt.wantReward)
			}
			if sig.ItemID != 10 || !sig.CreatedAt.Equal(clock.Now()) {
				t.Errorf("signal = %+v", sig)
			}
		})
	}
}

func TestSpeedLayerSwallowsFailures(t *testing.T) {
	clock := newFakeClock()
	cache := NewCache()
	seedCache(t, cache, 1, clock.Now(), []int{1}, []float64{1})
	s := NewSpeedLayer(cache, brokenSignals{}, clock.Now, testLogger())

	s.OnRatingAdded(context.Background(), 1, 10, 9)

	if _, ok := cache.Get(1); ok {
		t.Error("invalidation skipped because the signal store failed")
	}
}

func TestSpeedLayerRecoversPanics(t *testing.T) {
	s := NewSpeedLayer(NewCache(), nil, nil, testLogger())

	// A nil signal store panics inside the handler; the caller must not see it.
	s.OnWatchlistAdded(context.Background(), 1, 2)
}

func TestSpeedLayerHandleDispatch(t *testing.T) {
	clock := newFakeClock()
	st := memory.New()
	s := NewSpeedLayer(NewCache(), st, clock.Now, testLogger())

	s.Handle(context.Background(), Update{Kind: UpdateRating, UserID: 3, ItemID: 9, Rating: 9})
	s.Handle(context.Background(), Update{Kind: UpdateWatchlist, UserID: 3, ItemID: 8})
	s.Handle(context.Background(), Update{Kind: UpdatePreference, UserID: 3})
	s.Handle(context.Background(), Update{Kind: "bogus", UserID: 3})

	signals, err := st.UserSignals(context.Background(), 3, time.Time{})
	if err != nil {
		t.Fatalf("UserSignals: %v", err)
	}
	if len(signals) != 2 {
		t.Errorf("signals = %d, want 2", len(signals))
	}
}

func TestSpeedLayerProcessBatchDedupes(t *testing.T) {
	clock := newFakeClock()
	st := memory.New()
	cache := NewCache()
	for _, u := range []int{1, 2, 3} {
		seedCache(t, cache, u, clock.Now(), []int{u}, []float64{1})
	}
	s := NewSpeedLayer(cache, st, clock.Now, testLogger())

	n := s.ProcessBatch(context.Background(), []Update{
		{Kind: UpdateRating, UserID: 1, ItemID: 5, Rating: 9},
		{Kind: UpdateWatchlist, UserID: 2, ItemID: 6},
		{Kind: UpdateRating, UserID: 1, ItemID: 7, Rating: 2},
		{Kind: UpdatePreference, UserID: 2},
	})

	if n != 2 {
		t.Errorf("ProcessBatch = %d, want 2", n)
	}
	if got := cache.Stats().Invalidations; got != 2 {
		t.Errorf("Invalidations = %d, want 2", got)
	}
	if _, ok := cache.Get(3); !ok {
		t.Error("untouched user was invalidated")
	}

	signals, _ := st.UserSignals(context.Background(), 1, time.Time{})
	if len(signals) != 0 {
		t.Errorf("ProcessBatch appended %d signals", len(signals))
	}
}
