// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package lambda

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/marquee/internal/store/memory"
)

type orchestratorFixture struct {
	orch  *Orchestrator
	batch *BatchLayer
	cache *Cache
	store *memory.Store
	clock *fakeClock
	model *fakeModel
}

func newOrchestratorFixture(t *testing.T, cfg OrchestratorConfig) *orchestratorFixture {
	t.Helper()
	clock := newFakeClock()
	st := memory.New()
	cache := NewCache()
	model := newFakeModel(ranking(1, 0.9, 2, 0.8)...)

	batch := newTestBatch(t, testBatchConfig(), BatchDeps{
		Events: st, Trainer: &fakeTrainer{}, Model: model, Cache: cache, Now: clock.Now,
	})
	serving := newTestServing(t, DefaultServingConfig(), cache, st, model, clock)
	speed := NewSpeedLayer(cache, st, clock.Now, testLogger())

	orch, err := NewOrchestrator(cfg, cache, batch, speed, serving, testLogger())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	t.Cleanup(func() { orch.StopScheduler() })

	return &orchestratorFixture{orch: orch, batch: batch, cache: cache, store: st, clock: clock, model: model}
}

func TestNewOrchestratorValidation(t *testing.T) {
	f := newOrchestratorFixture(t, DefaultOrchestratorConfig())

	tests := []struct {
		name string
		cfg  OrchestratorConfig
	}{
		{"zero check interval", OrchestratorConfig{}},
		{"negative jitter", OrchestratorConfig{CheckInterval: time.Second, JitterFraction: -0.1}},
		{"jitter above one", OrchestratorConfig{CheckInterval: time.Second, JitterFraction: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewOrchestrator(tt.cfg, f.cache, f.batch, f.orch.speed, f.orch.serving, testLogger()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSchedulerStartStop(t *testing.T) {
	f := newOrchestratorFixture(t, OrchestratorConfig{CheckInterval: time.Hour})

	if err := f.orch.StartScheduler(6 * time.Hour); err != nil {
		t.Fatalf("StartScheduler: %v", err)
	}
	if !f.orch.SchedulerRunning() {
		t.Error("SchedulerRunning = false after start")
	}
	if f.batch.Interval() != 6*time.Hour {
		t.Errorf("Interval = %s, want 6h", f.batch.Interval())
	}
	if err := f.orch.StartScheduler(0); !errors.Is(err, ErrSchedulerRunning) {
		t.Errorf("second start err = %v, want ErrSchedulerRunning", err)
	}

	if !f.orch.StopScheduler() {
		t.Error("StopScheduler = false while running")
	}
	if f.orch.StopScheduler() {
		t.Error("StopScheduler = true when already stopped")
	}
	if err := f.orch.StartScheduler(0); err != nil {
		t.Errorf("restart: %v", err)
	}
	if err := f.orch.StartScheduler(-time.Hour); err == nil {
		t.Error("negative interval accepted")
	}
}

func TestSchedulerRunsDueBatch(t *testing.T) {
	f := newOrchestratorFixture(t, OrchestratorConfig{CheckInterval: 5 * time.Millisecond, JitterFraction: 0.2})
	addRating(t, f.store, 1, 10, 8, f.clock.Now())

	if err := f.orch.StartScheduler(0); err != nil {
		t.Fatalf("StartScheduler: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.batch.LastBatchTime().IsZero() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never ran the due batch")
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.orch.StopScheduler()

	if _, ok := f.cache.Get(1); !ok {
		t.Error("scheduled batch did not precompute the active user")
	}
	// Not due again until the interval passes, so no second run happened.
	if f.orch.GetStatistics().IsBatchDue {
		t.Error("batch due right after the scheduled run")
	}
}

func TestOrchestratorStatistics(t *testing.T) {
	f := newOrchestratorFixture(t, DefaultOrchestratorConfig())

	stats := f.orch.GetStatistics()
	if stats.LastBatchUpdate != nil || !stats.IsBatchDue {
		t.Errorf("initial stats = %+v", stats)
	}
	if stats.BatchIntervalHours != 12 {
		t.Errorf("BatchIntervalHours = %v, want 12", stats.BatchIntervalHours)
	}

	addRating(t, f.store, 1, 10, 8, f.clock.Now())
	if _, err := f.orch.TriggerBatchUpdate(context.Background()); err != nil {
		t.Fatalf("TriggerBatchUpdate: %v", err)
	}

	// Reading statistics twice must not change them.
	first := f.orch.GetStatistics()
	second := f.orch.GetStatistics()
	if first.LastBatchUpdate == nil || !first.LastBatchUpdate.Equal(f.clock.Now()) {
		t.Errorf("LastBatchUpdate = %v", first.LastBatchUpdate)
	}
	if first.IsBatchDue {
		t.Error("IsBatchDue after a run")
	}
	if first.Cache != second.Cache {
		t.Errorf("GetStatistics mutated cache stats: %+v then %+v", first.Cache, second.Cache)
	}
	if first.Cache.CacheSize != 1 {
		t.Errorf("CacheSize = %d, want 1", first.Cache.CacheSize)
	}

	status := f.orch.GetStatus()
	if status.SchedulerRunning || status.BatchRunning {
		t.Errorf("status = %+v", status)
	}
	if status.LastResult == nil || status.LastResult.PrecomputedRecommendations != 1 {
		t.Errorf("LastResult = %+v", status.LastResult)
	}
	if status.BreakerState != "closed" {
		t.Errorf("BreakerState = %s, want closed", status.BreakerState)
	}
}

func TestOrchestratorEndToEnd(t *testing.T) {
	f := newOrchestratorFixture(t, DefaultOrchestratorConfig())
	ctx := context.Background()

	addRating(t, f.store, 1, 10, 8, f.clock.Now().Add(-2*time.Hour))
	if _, err := f.orch.TriggerBatchUpdate(ctx); err != nil {
		t.Fatalf("TriggerBatchUpdate: %v", err)
	}

	if resp := f.orch.GetRecommendations(ctx, Request{UserID: 1}); resp.Source != SourceBatch {
		t.Fatalf("after batch Source = %s, want batch", resp.Source)
	}

	// A new rating drops the entry and counts as recent activity.
	addRating(t, f.store, 1, 2, 9, f.clock.Now())
	f.orch.Speed().OnRatingAdded(ctx, 1, 2, 9)

	if resp := f.orch.GetRecommendations(ctx, Request{UserID: 1}); resp.Source != SourceRealtime {
		t.Errorf("after rating Source = %s, want realtime", resp.Source)
	}

	// Two hours later the activity window has passed and there is no entry.
	f.clock.Advance(2 * time.Hour)
	if resp := f.orch.GetRecommendations(ctx, Request{UserID: 1}); resp.Source != SourceRealtime {
		t.Errorf("cold Source = %s, want realtime", resp.Source)
	}
}
