// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// Suite is the conformance suite every Store implementation runs from its
// own package tests:
//
//	func TestConformance(t *testing.T) {
//	    (&store.Suite{NewStore: func(t *testing.T) store.Store { ... }}).Run(t)
//	}
type Suite struct {
	NewStore func(t *testing.T) Store
}

// Run executes every case against a fresh store.
func (s *Suite) Run(t *testing.T) {
	t.Run("AppendEventAssignsID", s.testAppendEventAssignsID)
	t.Run("AppendEventRejectsInvalid", s.testAppendEventRejectsInvalid)
	t.Run("RecentRatings", s.testRecentRatings)
	t.Run("UserRatingWindows", s.testUserRatingWindows)
	t.Run("UserEventsSince", s.testUserEventsSince)
	t.Run("ActiveUsersSince", s.testActiveUsersSince)
	t.Run("Signals", s.testSignals)
	t.Run("ExperimentLifecycle", s.testExperimentLifecycle)
	t.Run("ExperimentNotFound", s.testExperimentNotFound)
	t.Run("ExperimentRejectsPresetReward", s.testExperimentRejectsPresetReward)
	t.Run("ExperimentListings", s.testExperimentListings)
	t.Run("ConcurrentAppends", s.testConcurrentAppends)
}

var suiteBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func (s *Suite) open(t *testing.T) Store {
	t.Helper()
	st := s.NewStore(t)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustAppend(t *testing.T, st Store, e Event) Event {
	t.Helper()
	if err := st.AppendEvent(context.Background(), &e); err != nil {
		t.Fatalf("AppendEvent(%+v): %v", e, err)
	}
	return e
}

func rating(user, item int, score float64, at time.Time) Event {
	return Event{Kind: KindRating, UserID: user, ItemID: item, Rating: score, CreatedAt: at}
}

func itemIDs(events []Event) []int {
	ids := make([]int, len(events))
	for i := range events {
		ids[i] = events[i].ItemID
	}
	return ids
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Suite) testAppendEventAssignsID(t *testing.T) {
	st := s.open(t)
	e := mustAppend(t, st, Event{
		Kind: KindRating, UserID: 1, ItemID: 10, Rating: 8,
		Genres: []string{"drama", "crime"}, Device: "mobile", CreatedAt: suiteBase,
	})
	if e.ID == "" {
		t.Fatal("AppendEvent should assign an ID")
	}

	got, err := st.LatestUserRatings(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("LatestUserRatings: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].ID != e.ID || got[0].Rating != 8 || len(got[0].Genres) != 2 || got[0].Device != "mobile" {
		t.Errorf("round trip mismatch: %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(suiteBase) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, suiteBase)
	}
}

func (s *Suite) testAppendEventRejectsInvalid(t *testing.T) {
	st := s.open(t)
	bad := []Event{
		{Kind: "click", UserID: 1, ItemID: 1, CreatedAt: suiteBase},
		{Kind: KindRating, UserID: 0, ItemID: 1, CreatedAt: suiteBase},
		{Kind: KindWatchlist, UserID: 1, CreatedAt: suiteBase},
		{Kind: KindRating, UserID: 1, ItemID: 1},
	}
	for _, e := range bad {
		e := e
		if err := st.AppendEvent(context.Background(), &e); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("AppendEvent(%+v) = %v, want ErrInvalidRecord", e, err)
		}
	}

	// Preference events carry no item.
	mustAppend(t, st, Event{Kind: KindPreference, UserID: 1, CreatedAt: suiteBase})
}

func (s *Suite) testRecentRatings(t *testing.T) {
	st := s.open(t)
	ctx := context.Background()

	mustAppend(t, st, rating(1, 101, 5, suiteBase.Add(1*time.Minute)))
	mustAppend(t, st, rating(2, 102, 6, suiteBase.Add(3*time.Minute)))
	mustAppend(t, st, Event{Kind: KindWatchlist, UserID: 1, ItemID: 103, CreatedAt: suiteBase.Add(4 * time.Minute)})
	mustAppend(t, st, rating(1, 104, 7, suiteBase.Add(2*time.Minute)))

	got, err := st.RecentRatings(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRatings: %v", err)
	}
	if want := []int{102, 104, 101}; !equalInts(itemIDs(got), want) {
		t.Errorf("RecentRatings items = %v, want %v", itemIDs(got), want)
	}

	got, err = st.RecentRatings(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRatings: %v", err)
	}
	if want := []int{102, 104}; !equalInts(itemIDs(got), want) {
		t.Errorf("RecentRatings(2) items = %v, want %v", itemIDs(got), want)
	}
}

func (s *Suite) testUserRatingWindows(t *testing.T) {
	st := s.open(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustAppend(t, st, rating(7, 200+i, float64(i), suiteBase.Add(time.Duration(i)*time.Hour)))
	}
	mustAppend(t, st, rating(8, 300, 9, suiteBase.Add(10*time.Hour)))
	mustAppend(t, st, Event{Kind: KindWatchlist, UserID: 7, ItemID: 299, CreatedAt: suiteBase.Add(9 * time.Hour)})

	since, err := st.UserRatingsSince(ctx, 7, suiteBase.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("UserRatingsSince: %v", err)
	}
	if want := []int{204, 203}; !equalInts(itemIDs(since), want) {
		t.Errorf("UserRatingsSince items = %v, want %v", itemIDs(since), want)
	}

	latest, err := st.LatestUserRatings(ctx, 7, 3)
	if err != nil {
		t.Fatalf("LatestUserRatings: %v", err)
	}
	if want := []int{204, 203, 202}; !equalInts(itemIDs(latest), want) {
		t.Errorf("LatestUserRatings items = %v, want %v", itemIDs(latest), want)
	}

	none, err := st.UserRatingsSince(ctx, 99, suiteBase)
	if err != nil {
		t.Fatalf("UserRatingsSince unknown user: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown user has %d ratings, want 0", len(none))
	}
}

func (s *Suite) testUserEventsSince(t *testing.T) {
	st := s.open(t)

	mustAppend(t, st, rating(3, 1, 8, suiteBase))
	mustAppend(t, st, Event{Kind: KindWatchlist, UserID: 3, ItemID: 2, CreatedAt: suiteBase.Add(time.Minute)})
	mustAppend(t, st, Event{Kind: KindPreference, UserID: 3, CreatedAt: suiteBase.Add(2 * time.Minute)})
	mustAppend(t, st, rating(3, 4, 8, suiteBase.Add(-48*time.Hour)))

	got, err := st.UserEventsSince(context.Background(), 3, suiteBase)
	if err != nil {
		t.Fatalf("UserEventsSince: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	kinds := []EventKind{got[0].Kind, got[1].Kind, got[2].Kind}
	want := []EventKind{KindPreference, KindWatchlist, KindRating}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds = %v, want %v", kinds, want)
			break
		}
	}
}

func (s *Suite) testActiveUsersSince(t *testing.T) {
	st := s.open(t)
	ctx := context.Background()

	mustAppend(t, st, rating(1, 1, 5, suiteBase.Add(-40*24*time.Hour)))
	mustAppend(t, st, rating(2, 1, 5, suiteBase.Add(1*time.Hour)))
	mustAppend(t, st, rating(3, 1, 5, suiteBase.Add(3*time.Hour)))
	mustAppend(t, st, Event{Kind: KindWatchlist, UserID: 4, ItemID: 1, CreatedAt: suiteBase.Add(2 * time.Hour)})
	mustAppend(t, st, rating(2, 2, 5, suiteBase.Add(4*time.Hour)))

	got, err := st.ActiveUsersSince(ctx, suiteBase, 10)
	if err != nil {
		t.Fatalf("ActiveUsersSince: %v", err)
	}
	if want := []int{2, 3, 4}; !equalInts(got, want) {
		t.Errorf("ActiveUsersSince = %v, want %v", got, want)
	}

	capped, err := st.ActiveUsersSince(ctx, suiteBase, 2)
	if err != nil {
		t.Fatalf("ActiveUsersSince: %v", err)
	}
	if want := []int{2, 3}; !equalInts(capped, want) {
		t.Errorf("ActiveUsersSince(limit 2) = %v, want %v", capped, want)
	}
}

func (s *Suite) testSignals(t *testing.T) {
	st := s.open(t)
	ctx := context.Background()

	sig := &Signal{UserID: 5, ItemID: 9, Outcome: "rated_high", Reward: 1, CreatedAt: suiteBase}
	if err := st.AppendSignal(ctx, sig); err != nil {
		t.Fatalf("AppendSignal: %v", err)
	}
	if sig.ID == "" {
		t.Error("AppendSignal should assign an ID")
	}
	if err := st.AppendSignal(ctx, &Signal{UserID: 5, ItemID: 10, Outcome: "watchlisted", Reward: 0.6, CreatedAt: suiteBase.Add(time.Minute)}); err != nil {
		t.Fatalf("AppendSignal: %v", err)
	}

	got, err := st.UserSignals(ctx, 5, suiteBase)
	if err != nil {
		t.Fatalf("UserSignals: %v", err)
	}
	if len(got) != 2 || got[0].Outcome != "watchlisted" || got[1].Reward != 1 {
		t.Errorf("UserSignals = %+v", got)
	}
}

func newExperiment(user int, arm string, at time.Time) *Experiment {
	return &Experiment{
		UserID: user,
		Arm:    arm,
		Context: ExperimentContext{
			TimeOfDay:              "evening",
			DayOfWeek:              "weekday",
			SessionDuration:        12,
			RecentGenres:           []string{"drama"},
			RecentInteractionCount: 3,
			DeviceType:             "tv",
		},
		ExplorationRate: 0.5,
		CreatedAt:       at,
	}
}

func (s *Suite) testExperimentLifecycle(t *testing.T) {
	st := s.open(t)
	ctx := context.Background()

	exp := newExperiment(1, "trending", suiteBase)
	exp.ID = "0b7d1c2e-4d0c-4a55-9d8e-000000000001"
	if err := st.AppendExperiment(ctx, exp); err != nil {
		t.Fatalf("AppendExperiment: %v", err)
	}

	got, err := st.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("GetExperiment: %v", err)
	}
	if got.Reward != nil {
		t.Fatalf("new experiment reward = %v, want nil", *got.Reward)
	}
	if got.Arm != "trending" || got.Context.TimeOfDay != "evening" || got.ExplorationRate != 0.5 {
		t.Errorf("round trip mismatch: %+v", got)
	}

	at := suiteBase.Add(time.Minute)
	patched, err := st.SetReward(ctx, exp.ID, 0, "ignored", at)
	if err != nil {
		t.Fatalf("SetReward: %v", err)
	}
	if patched.Reward == nil || *patched.Reward != 0 {
		t.Errorf("patched reward = %v, want 0", patched.Reward)
	}
	if patched.Context.Outcome != "ignored" {
		t.Errorf("outcome = %q, want ignored", patched.Context.Outcome)
	}
	if patched.RewardedAt == nil || !patched.RewardedAt.Equal(at) {
		t.Errorf("RewardedAt = %v, want %v", patched.RewardedAt, at)
	}

	if _, err := st.SetReward(ctx, exp.ID, 1, "rated_high", at); !errors.Is(err, ErrRewardAlreadySet) {
		t.Errorf("second SetReward = %v, want ErrRewardAlreadySet", err)
	}

	reread, err := st.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("GetExperiment: %v", err)
	}
	if reread.Reward == nil || *reread.Reward != 0 || reread.Context.Outcome != "ignored" {
		t.Errorf("reward was overwritten: %+v", reread)
	}
}

func (s *Suite) testExperimentNotFound(t *testing.T) {
	st := s.open(t)
	ctx := context.Background()

	if _, err := st.GetExperiment(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetExperiment(missing) = %v, want ErrNotFound", err)
	}
	if _, err := st.SetReward(ctx, "missing", 1, "clicked", suiteBase); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetReward(missing) = %v, want ErrNotFound", err)
	}
}

func (s *Suite) testExperimentRejectsPresetReward(t *testing.T) {
	st := s.open(t)
	r := 1.0
	exp := newExperiment(1, "neural", suiteBase)
	exp.Reward = &r
	if err := st.AppendExperiment(context.Background(), exp); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("AppendExperiment with reward = %v, want ErrInvalidRecord", err)
	}
}

func (s *Suite) testExperimentListings(t *testing.T) {
	st := s.open(t)
	ctx := context.Background()

	arms := []string{"neural", "trending", "hybrid"}
	for i, arm := range arms {
		if err := st.AppendExperiment(ctx, newExperiment(1, arm, suiteBase.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("AppendExperiment: %v", err)
		}
	}
	if err := st.AppendExperiment(ctx, newExperiment(2, "exploration", suiteBase)); err != nil {
		t.Fatalf("AppendExperiment: %v", err)
	}

	user, err := st.ListUserExperiments(ctx, 1)
	if err != nil {
		t.Fatalf("ListUserExperiments: %v", err)
	}
	if len(user) != 3 {
		t.Fatalf("user 1 has %d experiments, want 3", len(user))
	}
	for i, arm := range arms {
		if user[i].Arm != arm {
			t.Errorf("user[%d].Arm = %q, want %q", i, user[i].Arm, arm)
		}
		if user[i].ID == "" {
			t.Errorf("user[%d] has no ID", i)
		}
	}

	all, err := st.ListExperiments(ctx)
	if err != nil {
		t.Fatalf("ListExperiments: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("ListExperiments = %d rows, want 4", len(all))
	}

	n, err := st.CountExperiments(ctx)
	if err != nil {
		t.Fatalf("CountExperiments: %v", err)
	}
	if n != 4 {
		t.Errorf("CountExperiments = %d, want 4", n)
	}
}

func (s *Suite) testConcurrentAppends(t *testing.T) {
	st := s.open(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := suiteBase.Add(time.Duration(i) * time.Second)
			if err := st.AppendExperiment(ctx, newExperiment(i+1, "collaborative", at)); err != nil {
				errs <- fmt.Errorf("experiment %d: %w", i, err)
			}
			e := rating(i+1, 1, 5, at)
			if err := st.AppendEvent(ctx, &e); err != nil {
				errs <- fmt.Errorf("event %d: %w", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	n, err := st.CountExperiments(ctx)
	if err != nil {
		t.Fatalf("CountExperiments: %v", err)
	}
	if n != workers {
		t.Errorf("CountExperiments = %d, want %d", n, workers)
	}
	ratings, err := st.RecentRatings(ctx, 100)
	if err != nil {
		t.Fatalf("RecentRatings: %v", err)
	}
	if len(ratings) != workers {
		t.Errorf("RecentRatings = %d, want %d", len(ratings), workers)
	}
}
