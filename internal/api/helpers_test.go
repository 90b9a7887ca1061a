// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/marquee/internal/bandit"
	"github.com/tomtom215/marquee/internal/lambda"
	"github.com/tomtom215/marquee/internal/store"
	"github.com/tomtom215/marquee/internal/store/memory"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeOrchestrator struct {
	mu        sync.Mutex
	requests  []lambda.Request
	intervals []time.Duration
	batchErr  error
	startErr  error
	running   bool
}

func (f *fakeOrchestrator) GetRecommendations(_ context.Context, req lambda.Request) *lambda.CachedRecommendation {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return &lambda.CachedRecommendation{
		UserID:          req.UserID,
		Recommendations: []int{3, 1},
		Scores:          []float64{0.9, 0.4},
		ComputedAt:      testNow,
		Source:          lambda.SourceBatch,
	}
}

func (f *fakeOrchestrator) TriggerBatchUpdate(context.Context) (*lambda.BatchResult, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return &lambda.BatchResult{Timestamp: testNow, PrecomputedRecommendations: 4, FailedUsers: []int{}}, nil
}

func (f *fakeOrchestrator) StartScheduler(interval time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intervals = append(f.intervals, interval)
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeOrchestrator) StopScheduler() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.running
	f.running = false
	return was
}

func (f *fakeOrchestrator) GetStatus() lambda.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lambda.Status{SchedulerRunning: f.running, BatchInterval: "12h0m0s", BreakerState: "closed"}
}

func (f *fakeOrchestrator) GetStatistics() lambda.Statistics {
	return lambda.Statistics{BatchIntervalHours: 12, IsBatchDue: true}
}

type fakeBandit struct {
	selectErr error
	rewardErr error
	statsErr  error
}

func (f *fakeBandit) SelectForUser(_ context.Context, req bandit.ContextRequest) (*bandit.Selection, *bandit.UserContext, error) {
	if f.selectErr != nil {
		return nil, nil, f.selectErr
	}
	return &bandit.Selection{Arm: bandit.Arms()[0], ExperimentID: "exp-1", Contextual: true},
		&bandit.UserContext{UserID: req.UserID, TimeOfDay: "afternoon", DayOfWeek: "weekday"}, nil
}

func (f *fakeBandit) UpdateReward(_ context.Context, fb bandit.Feedback) (*store.Experiment, error) {
	if f.rewardErr != nil {
		return nil, f.rewardErr
	}
	reward := bandit.CalculateReward(fb.Outcome)
	return &store.Experiment{
		ID:      fb.ExperimentID,
		Arm:     string(bandit.Arms()[0]),
		Reward:  &reward,
		Context: store.ExperimentContext{Outcome: string(fb.Outcome)},
	}, nil
}

func (f *fakeBandit) ArmStates(context.Context, int) ([]bandit.ArmState, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return []bandit.ArmState{{Arm: bandit.Arms()[0], Alpha: 1, Beta: 1}}, nil
}

func (f *fakeBandit) Statistics(_ context.Context, userID int) (*bandit.Statistics, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &bandit.Statistics{UserID: userID, ExplorationRate: 1}, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	err     error
	updates []lambda.Update
}

func (p *recordingPublisher) Publish(_ context.Context, u lambda.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.updates = append(p.updates, u)
	return nil
}

func (p *recordingPublisher) Updates() []lambda.Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]lambda.Update(nil), p.updates...)
}

type recordingDirect struct {
	mu      sync.Mutex
	updates []lambda.Update
}

func (d *recordingDirect) Handle(_ context.Context, u lambda.Update) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, u)
}

// failingEvents rejects every append.
type failingEvents struct {
	store.EventStore
}

func (failingEvents) AppendEvent(context.Context, *store.Event) error {
	return errors.New("badger: disk full at /var/lib/marquee")
}

type fixture struct {
	orch      *fakeOrchestrator
	bandit    *fakeBandit
	events    *memory.Store
	publisher *recordingPublisher
	direct    *recordingDirect
	handler   *Handler
	router    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orch:      &fakeOrchestrator{},
		bandit:    &fakeBandit{},
		events:    memory.New(),
		publisher: &recordingPublisher{},
		direct:    &recordingDirect{},
	}
	cfg := DefaultMiddlewareConfig()
	cfg.RateLimitDisabled = true
	f.build(t, f.events, cfg)
	return f
}

func (f *fixture) build(t *testing.T, events store.EventStore, cfg MiddlewareConfig) {
	t.Helper()
	h, err := NewHandler(Deps{
		Orchestrator: f.orch,
		Bandit:       f.bandit,
		Events:       events,
		Publisher:    f.publisher,
		Direct:       f.direct,
		Now:          func() time.Time { return testNow },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	f.handler = h
	f.router = NewRouter(h, cfg)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func decodeData(t *testing.T, env envelope, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}
