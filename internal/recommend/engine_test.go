// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package recommend

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockHistory implements HistoryProvider for testing.
type mockHistory struct {
	mu      sync.Mutex
	history map[int][]Interaction
	err     error
}

func (m *mockHistory) UserHistory(_ context.Context, userID int) ([]Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.history[userID], nil
}

// mockAlgorithm scores every candidate with a fixed value.
type mockAlgorithm struct {
	name       string
	score      float64
	trainErr   error
	predictErr error
	slow       bool
	trainGate  chan struct{}

	mu      sync.Mutex
	trained bool
	version int
}

func (m *mockAlgorithm) Name() string { return m.name }

func (m *mockAlgorithm) Train(_ context.Context, _ []Interaction, _ []Item) error {
	if m.trainGate != nil {
		<-m.trainGate
	}
	if m.trainErr != nil {
		return m.trainErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trained = true
	m.version++
	return nil
}

func (m *mockAlgorithm) Predict(ctx context.Context, _ []Interaction, candidates []int) (map[int]float64, error) {
	if m.slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.predictErr != nil {
		return nil, m.predictErr
	}
	out := make(map[int]float64, len(candidates))
	for _, id := range candidates {
		out[id] = m.score
	}
	return out, nil
}

func (m *mockAlgorithm) IsTrained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trained
}

func (m *mockAlgorithm) Version() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

func (m *mockAlgorithm) LastTrainedAt() time.Time { return time.Time{} }

// rankAlgorithm scores candidates by their id so ordering is checkable.
type rankAlgorithm struct{ mockAlgorithm }

func (r *rankAlgorithm) Predict(_ context.Context, _ []Interaction, candidates []int) (map[int]float64, error) {
	out := make(map[int]float64, len(candidates))
	for _, id := range candidates {
		out[id] = float64(id) / 100
	}
	return out, nil
}

var trainedAt = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func corpus() ([]Interaction, []Item) {
	interactions := []Interaction{
		NewInteraction(1, 10, 10, trainedAt),
		NewInteraction(1, 20, 0, trainedAt),
		NewInteraction(2, 30, 8, trainedAt),
		NewInteraction(2, 40, 6, trainedAt),
	}
	items := []Item{{ID: 10}, {ID: 20}, {ID: 30}, {ID: 40}, {ID: 50}}
	return interactions, items
}

func newTestEngine(t *testing.T, cfg *Config, history *mockHistory, algs ...Algorithm) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, history, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	for _, a := range algs {
		e.RegisterAlgorithm(a)
	}
	return e
}

func popularityOnly() *Config {
	cfg := DefaultConfig()
	cfg.Weights = AlgorithmWeights{Popularity: 1}
	return cfg
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine(DefaultConfig(), nil, zerolog.Nop()); err == nil {
		t.Error("nil history provider accepted")
	}
	cfg := DefaultConfig()
	cfg.Limits.MaxCandidates = 0
	if _, err := NewEngine(cfg, &mockHistory{}, zerolog.Nop()); err == nil {
		t.Error("invalid config accepted")
	}
}

func TestConfidenceFromRating(t *testing.T) {
	tests := []struct {
		rating float64
		want   float64
	}{
		{-1, 0}, {0, 0}, {7, 0.7}, {10, 1}, {12, 1},
	}
	for _, tt := range tests {
		if got := ConfidenceFromRating(tt.rating); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ConfidenceFromRating(%v) = %v, want %v", tt.rating, got, tt.want)
		}
	}
}

func TestRecommendBeforeTrain(t *testing.T) {
	e := newTestEngine(t, nil, &mockHistory{}, &mockAlgorithm{name: AlgorithmPopularity, score: 1})
	if _, err := e.Recommend(context.Background(), 1, 10); !errors.Is(err, ErrNotTrained) {
		t.Errorf("Recommend before Train = %v, want ErrNotTrained", err)
	}
}

func TestTrainReport(t *testing.T) {
	alg := &mockAlgorithm{name: AlgorithmPopularity, score: 0.5}
	e := newTestEngine(t, popularityOnly(), &mockHistory{}, alg)

	interactions, items := corpus()
	report, err := e.Train(context.Background(), interactions, items)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	if report.Interactions != 4 || report.Users != 2 || report.Items != 5 {
		t.Errorf("report counts = %+v", report)
	}
	// Confidences 1, 0, 0.8, 0.6 against a flat 0.5.
	wantLoss := (0.25 + 0.25 + 0.09 + 0.01) / 4
	wantErr := (0.5 + 0.5 + 0.3 + 0.1) / 4
	if math.Abs(report.Loss-wantLoss) > 1e-9 {
		t.Errorf("Loss = %v, want %v", report.Loss, wantLoss)
	}
	if math.Abs(report.Error-wantErr) > 1e-9 {
		t.Errorf("Error = %v, want %v", report.Error, wantErr)
	}
	if report.Version != 1 || !e.IsTrained() {
		t.Errorf("Version = %d, IsTrained = %v", report.Version, e.IsTrained())
	}
	if st := e.Status(); st.ModelVersion != 1 || st.LastReport == nil || st.IsTraining {
		t.Errorf("Status = %+v", st)
	}
}

func TestTrainErrors(t *testing.T) {
	e := newTestEngine(t, nil, &mockHistory{}, &mockAlgorithm{name: AlgorithmPopularity, trainErr: errors.New("boom")})

	if _, err := e.Train(context.Background(), nil, nil); err == nil {
		t.Error("Train with no interactions succeeded")
	}

	interactions, items := corpus()
	if _, err := e.Train(context.Background(), interactions, items); err == nil {
		t.Error("Train with every algorithm failing succeeded")
	}
	if e.IsTrained() {
		t.Error("engine marked trained after failure")
	}
	if e.Status().LastError == "" {
		t.Error("LastError not recorded")
	}

	empty := newTestEngine(t, nil, &mockHistory{})
	if _, err := empty.Train(context.Background(), interactions, items); err == nil {
		t.Error("Train with no algorithms succeeded")
	}
}

func TestTrainInProgress(t *testing.T) {
	gate := make(chan struct{})
	alg := &mockAlgorithm{name: AlgorithmPopularity, score: 1, trainGate: gate}
	e := newTestEngine(t, nil, &mockHistory{}, alg)
	interactions, items := corpus()

	done := make(chan error, 1)
	go func() {
		_, err := e.Train(context.Background(), interactions, items)
		done <- err
	}()

	// Wait until the first Train holds the lock.
	deadline := time.Now().Add(2 * time.Second)
	for !e.Status().IsTraining && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := e.Train(context.Background(), interactions, items); !errors.Is(err, ErrTrainingInProgress) {
		t.Errorf("concurrent Train = %v, want ErrTrainingInProgress", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Errorf("first Train: %v", err)
	}
}

func TestRecommendExcludesRatedAndOrders(t *testing.T) {
	history := &mockHistory{history: map[int][]Interaction{
		7: {NewInteraction(7, 40, 9, trainedAt)},
	}}
	alg := &rankAlgorithm{mockAlgorithm{name: AlgorithmPopularity}}
	e := newTestEngine(t, popularityOnly(), history, alg)

	interactions, items := corpus()
	if _, err := e.Train(context.Background(), interactions, items); err != nil {
		t.Fatalf("Train: %v", err)
	}

	got, err := e.Recommend(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	want := []int{50, 30, 20}
	if len(got) != len(want) {
		t.Fatalf("Recommend = %+v, want items %v", got, want)
	}
	for i, id := range want {
		if got[i].ItemID != id {
			t.Errorf("position %d = %d, want %d", i, got[i].ItemID, id)
		}
		if got[i].Scores[AlgorithmPopularity] == 0 {
			t.Errorf("item %d missing score breakdown", got[i].ItemID)
		}
	}

	if none, err := e.Recommend(context.Background(), 7, 0); err != nil || len(none) != 0 {
		t.Errorf("Recommend(limit 0) = %v, %v", none, err)
	}
}

func TestRecommendMaxCandidates(t *testing.T) {
	cfg := popularityOnly()
	cfg.Limits.MaxCandidates = 2
	e := newTestEngine(t, cfg, &mockHistory{}, &rankAlgorithm{mockAlgorithm{name: AlgorithmPopularity}})

	interactions, items := corpus()
	if _, err := e.Train(context.Background(), interactions, items); err != nil {
		t.Fatalf("Train: %v", err)
	}
	got, err := e.Recommend(context.Background(), 99, 10)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	// Catalogue order by confidence: 10 (1.0), 30 (0.8), 40, 20, 50.
	if len(got) != 2 || got[0].ItemID != 30 || got[1].ItemID != 10 {
		t.Errorf("Recommend = %+v, want items 30 and 10", got)
	}
}

func TestRecommendAlgorithmFailures(t *testing.T) {
	ok := &mockAlgorithm{name: AlgorithmPopularity, score: 0.7}
	bad := &mockAlgorithm{name: AlgorithmCoVisit, score: 1}
	e := newTestEngine(t, nil, &mockHistory{}, ok, bad)

	interactions, items := corpus()
	if _, err := e.Train(context.Background(), interactions, items); err != nil {
		t.Fatalf("Train: %v", err)
	}

	bad.predictErr = errors.New("covisit down")
	got, err := e.Recommend(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("one failing algorithm should not fail Recommend: %v", err)
	}
	for _, item := range got {
		if _, ok := item.Scores[AlgorithmCoVisit]; ok {
			t.Errorf("failed algorithm contributed to item %d", item.ItemID)
		}
	}

	ok.predictErr = errors.New("popularity down")
	if _, err := e.Recommend(context.Background(), 1, 10); err == nil {
		t.Error("Recommend succeeded with every algorithm failing")
	}
}

func TestRecommendPredictionTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.PredictionTimeout = 20 * time.Millisecond
	slow := &mockAlgorithm{name: AlgorithmContent}
	fast := &mockAlgorithm{name: AlgorithmPopularity, score: 1}
	e := newTestEngine(t, cfg, &mockHistory{}, slow, fast)

	interactions, items := corpus()
	if _, err := e.Train(context.Background(), interactions, items); err != nil {
		t.Fatalf("Train: %v", err)
	}
	slow.slow = true

	got, err := e.Recommend(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(got) == 0 {
		t.Error("fast algorithm results dropped")
	}
}

func TestRecommendHistoryError(t *testing.T) {
	history := &mockHistory{}
	e := newTestEngine(t, nil, history, &mockAlgorithm{name: AlgorithmPopularity, score: 1})
	interactions, items := corpus()
	if _, err := e.Train(context.Background(), interactions, items); err != nil {
		t.Fatalf("Train: %v", err)
	}

	history.mu.Lock()
	history.err = errors.New("store offline")
	history.mu.Unlock()
	if _, err := e.Recommend(context.Background(), 1, 10); err == nil {
		t.Error("history failure not surfaced")
	}
}

func TestRecalibrateWeights(t *testing.T) {
	e := newTestEngine(t, nil, &mockHistory{})

	got := e.RecalibrateWeights(map[string]float64{
		AlgorithmPopularity: 1.0,
		AlgorithmCoVisit:    0.0,
		"unbound":           0.9,
	})

	// 0.3*1.5, 0.4*0.5, 0.3 then normalized by 0.95.
	want := AlgorithmWeights{Popularity: 0.45 / 0.95, CoVisit: 0.2 / 0.95, Content: 0.3 / 0.95}
	if math.Abs(got.Popularity-want.Popularity) > 1e-9 ||
		math.Abs(got.CoVisit-want.CoVisit) > 1e-9 ||
		math.Abs(got.Content-want.Content) > 1e-9 {
		t.Errorf("RecalibrateWeights = %+v, want %+v", got, want)
	}
	if e.Weights() != got {
		t.Errorf("Weights() = %+v, want %+v", e.Weights(), got)
	}
}

func TestAlgorithmWeightsNormalize(t *testing.T) {
	w := AlgorithmWeights{}.Normalize()
	if math.Abs(w.Popularity+w.CoVisit+w.Content-1) > 1e-9 {
		t.Errorf("zero weights normalized to %+v", w)
	}
	w = AlgorithmWeights{Popularity: 2, CoVisit: 2}.Normalize()
	if w.Popularity != 0.5 || w.CoVisit != 0.5 || w.Content != 0 {
		t.Errorf("Normalize = %+v", w)
	}
}
