// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/marquee/internal/config"
	"github.com/tomtom215/marquee/internal/lambda"
	"github.com/tomtom215/marquee/internal/logging"
	"github.com/tomtom215/marquee/internal/store"
	"github.com/tomtom215/marquee/internal/supervisor"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Lambda.MinTrainingSize = 2
	cfg.Security.RateLimitDisabled = true
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return a
}

func call(t *testing.T, h http.Handler, method, path, body string) (int, map[string]json.RawMessage) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

func TestNewAppBackends(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"memory", func(*config.Config) {}, false},
		{"badger in memory", func(c *config.Config) {
			c.Storage.Backend = config.StorageBadger
			c.Storage.InMemory = true
		}, false},
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "postgres" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			a, err := newApp(cfg, zerolog.Nop())
			if tt.wantErr {
				if err == nil {
					_ = a.Close()
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newApp: %v", err)
			}
			if err := a.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
	}
}

func TestAppServesPipeline(t *testing.T) {
	a := newTestApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.bus.Serve(ctx) }()
	select {
	case <-a.bus.Running():
	case <-time.After(2 * time.Second):
		t.Fatal("event bus never started")
	}

	if err := a.cache.Set(1, lambda.CachedRecommendationData{
		Recommendations: []int{42},
		Scores:          []float64{1},
		ComputedAt:      time.Now(),
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	ratings := [][3]int{{1, 10, 9}, {1, 11, 8}, {2, 10, 9}, {2, 12, 7}}
	for _, r := range ratings {
		body := fmt.Sprintf(`{"user_id":%d,"item_id":%d,"rating":%d}`, r[0], r[1], r[2])
		if code, env := call(t, a.router, http.MethodPost, "/api/v1/events/ratings", body); code != http.StatusCreated {
			t.Fatalf("rating %v = %d %s", r, code, env["error"])
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := a.cache.Get(1); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("speed layer never invalidated user 1")
		}
		time.Sleep(5 * time.Millisecond)
	}

	code, env := call(t, a.router, http.MethodPost, "/api/v1/lambda/batch", "")
	if code != http.StatusOK {
		t.Fatalf("batch = %d %s", code, env["error"])
	}
	var result lambda.BatchResult
	if err := json.Unmarshal(env["data"], &result); err != nil {
		t.Fatalf("decode batch result: %v", err)
	}
	if result.CorpusSize != len(ratings) || result.Training == nil || result.Training.Skipped {
		t.Errorf("batch result = %+v, want a retrain over %d ratings", result, len(ratings))
	}

	tests := []struct {
		name string
		path string
		want lambda.Source
	}{
		{"precomputed", "/api/v1/recommendations/1?limit=5", lambda.SourceBatch},
		{"forced", "/api/v1/recommendations/1?limit=5&force_realtime=true", lambda.SourceRealtime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.want == lambda.SourceBatch {
				if _, ok := a.cache.Get(1); !ok {
					t.Skip("batch run did not precompute user 1")
				}
			}
			code, env := call(t, a.router, http.MethodGet, tt.path, "")
			if code != http.StatusOK {
				t.Fatalf("recommendations = %d", code)
			}
			var rec lambda.CachedRecommendation
			if err := json.Unmarshal(env["data"], &rec); err != nil {
				t.Fatalf("decode recommendations: %v", err)
			}
			if rec.Source != tt.want || rec.UserID != 1 {
				t.Errorf("recommendations = %+v, want source %s for user 1", rec, tt.want)
			}
		})
	}
}

func TestAppAppliesUpdatesBeforeBusServes(t *testing.T) {
	a := newTestApp(t, testConfig())
	if a.bus.Consuming() {
		t.Fatal("bus consuming before Serve")
	}

	if err := a.cache.Set(4, lambda.CachedRecommendationData{
		Recommendations: []int{42},
		Scores:          []float64{1},
		ComputedAt:      time.Now(),
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	code, env := call(t, a.router, http.MethodPost, "/api/v1/events/ratings", `{"user_id":4,"item_id":10,"rating":9}`)
	if code != http.StatusCreated {
		t.Fatalf("rating = %d %s", code, env["error"])
	}
	if _, ok := a.cache.Get(4); ok {
		t.Error("cache entry survived a rating recorded while the bus was idle")
	}
}

func TestDefaultConfigServesSmallCorpus(t *testing.T) {
	cfg := config.Default()
	if cfg.Lambda.MinTrainingSize <= 100 {
		t.Fatalf("default MinTrainingSize = %d, want the production minimum", cfg.Lambda.MinTrainingSize)
	}
	a := newTestApp(t, cfg)
	ctx := context.Background()

	genres := []string{"drama", "comedy", "horror"}
	now := time.Now()
	ratings := 0
	for user := 1; user <= 20; user++ {
		for k := 0; k < 3; k++ {
			item := (user+k*4)%15 + 1
			err := a.store.AppendEvent(ctx, &store.Event{
				Kind:      store.KindRating,
				UserID:    user,
				ItemID:    item,
				Rating:    float64(5 + (user+k)%5),
				Genres:    []string{genres[item%len(genres)]},
				CreatedAt: now.Add(-time.Duration(user*3+k) * time.Minute),
			})
			if err != nil {
				t.Fatalf("AppendEvent: %v", err)
			}
			ratings++
		}
	}

	result, err := a.orchestrator.TriggerBatchUpdate(ctx)
	if err != nil {
		t.Fatalf("TriggerBatchUpdate: %v", err)
	}
	if result.CorpusSize != ratings {
		t.Errorf("CorpusSize = %d, want %d", result.CorpusSize, ratings)
	}
	if result.Training == nil || result.Training.Skipped || !result.Training.Initial {
		t.Errorf("Training = %+v, want an initial train below the minimum", result.Training)
	}
	if result.PrecomputedRecommendations != 20 || len(result.FailedUsers) != 0 {
		t.Errorf("precomputed %d, failed %v", result.PrecomputedRecommendations, result.FailedUsers)
	}

	tests := []struct {
		name   string
		userID int
		want   lambda.Source
	}{
		{"active user", 1, lambda.SourceBatch},
		{"cold user", 999, lambda.SourceRealtime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := call(t, a.router, http.MethodGet, fmt.Sprintf("/api/v1/recommendations/%d?limit=5", tt.userID), "")
			if code != http.StatusOK {
				t.Fatalf("recommendations = %d", code)
			}
			var rec lambda.CachedRecommendation
			if err := json.Unmarshal(env["data"], &rec); err != nil {
				t.Fatalf("decode recommendations: %v", err)
			}
			if rec.Source != tt.want {
				t.Errorf("Source = %s, want %s", rec.Source, tt.want)
			}
			if len(rec.Recommendations) == 0 {
				t.Error("no recommendations from a trained model")
			}
		})
	}
}

func TestAppAddServices(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Lambda.SchedulerEnabled = true
	a := newTestApp(t, cfg)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("test"), supervisor.TreeConfig{ShutdownTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}
	a.addServices(tree, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !a.orchestrator.SchedulerRunning() {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("scheduler service never started the scheduler")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
	if a.orchestrator.SchedulerRunning() {
		t.Error("scheduler still running after shutdown")
	}
}
