// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/marquee/internal/bandit"
	"github.com/tomtom215/marquee/internal/lambda"
	"github.com/tomtom215/marquee/internal/store"
)

// Orchestrator is the lambda facade the handlers drive.
// *lambda.Orchestrator satisfies it.
type Orchestrator interface {
	GetRecommendations(ctx context.Context, req lambda.Request) *lambda.CachedRecommendation
	TriggerBatchUpdate(ctx context.Context) (*lambda.BatchResult, error)
	StartScheduler(interval time.Duration) error
	StopScheduler() bool
	GetStatus() lambda.Status
	GetStatistics() lambda.Statistics
}

// ArmSelector is the bandit surface. *bandit.Selector satisfies it.
type ArmSelector interface {
	SelectForUser(ctx context.Context, req bandit.ContextRequest) (*bandit.Selection, *bandit.UserContext, error)
	UpdateReward(ctx context.Context, fb bandit.Feedback) (*store.Experiment, error)
	ArmStates(ctx context.Context, userID int) ([]bandit.ArmState, error)
	Statistics(ctx context.Context, userID int) (*bandit.Statistics, error)
}

// UpdatePublisher hands speed-layer updates to the event bus.
// *events.Bus satisfies it.
type UpdatePublisher interface {
	Publish(ctx context.Context, u lambda.Update) error
}

// UpdateHandler applies an update synchronously. *lambda.SpeedLayer
// satisfies it.
type UpdateHandler interface {
	Handle(ctx context.Context, u lambda.Update)
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Orchestrator Orchestrator
	Bandit       ArmSelector
	Events       store.EventStore

	// Publisher carries user actions to the speed layer. When it is nil
	// or rejects an update, Direct handles the update inline.
	Publisher UpdatePublisher
	Direct    UpdateHandler

	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler holds the HTTP handlers.
type Handler struct {
	orch      Orchestrator
	bandit    ArmSelector
	events    store.EventStore
	publisher UpdatePublisher
	direct    UpdateHandler
	now       func() time.Time
	startTime time.Time
	logger    zerolog.Logger
}

// NewHandler validates deps and builds a Handler.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHandler(deps Deps, logger zerolog.Logger) (*Handler, error) {
	if deps.Orchestrator == nil || deps.Bandit == nil || deps.Events == nil {
		return nil, errors.New("api: orchestrator, bandit and event store are required")
	}
	if deps.Publisher == nil && deps.Direct == nil {
		return nil, errors.New("api: a publisher or a direct update handler is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handler{
		orch:      deps.Orchestrator,
		bandit:    deps.Bandit,
		events:    deps.Events,
		publisher: deps.Publisher,
		direct:    deps.Direct,
		now:       deps.Now,
		startTime: deps.Now(),
		logger:    logger.With().Str("component", "api").Logger(),
	}, nil
}
