// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tomtom215/marquee/internal/api"
	"github.com/tomtom215/marquee/internal/bandit"
	"github.com/tomtom215/marquee/internal/config"
	"github.com/tomtom215/marquee/internal/events"
	"github.com/tomtom215/marquee/internal/lambda"
	"github.com/tomtom215/marquee/internal/recommend"
	"github.com/tomtom215/marquee/internal/recommend/algorithms"
	"github.com/tomtom215/marquee/internal/store"
	badgerstore "github.com/tomtom215/marquee/internal/store/badger"
	"github.com/tomtom215/marquee/internal/store/memory"
	"github.com/tomtom215/marquee/internal/supervisor"
	"github.com/tomtom215/marquee/internal/supervisor/services"
)

// app holds every long-lived component. Build it with newApp, hand its
// services to a supervisor tree with addServices, and Close it on exit.
type app struct {
	cfg *config.Config

	store  store.Store
	badger *badgerstore.Store // nil for the memory backend

	engine       *recommend.Engine
	bandit       *bandit.Selector
	cache        *lambda.Cache
	orchestrator *lambda.Orchestrator
	bus          *events.Bus
	router       http.Handler
}

// newApp wires the store, the candidate model, the bandit, the lambda
// layers, the event bus and the HTTP router. Nothing is started.
//
//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	if err := a.initModel(logger); err != nil {
		return nil, a.abort(err)
	}

	selector, err := bandit.New(bandit.Config{
		Experiments: a.store,
		Events:      a.store,
		Signals:     a.store,
		Lookback:    cfg.Bandit.ContextLookback,
		Seed:        cfg.Bandit.Seed,
	}, logger)
	if err != nil {
		return nil, a.abort(fmt.Errorf("init bandit: %w", err))
	}
	a.bandit = selector

	speed, err := a.initLambda(logger)
	if err != nil {
		return nil, a.abort(err)
	}

	bus, err := events.NewBus(events.Config{BufferSize: int64(cfg.Lambda.SpeedBufferSize)}, speed, logger)
	if err != nil {
		return nil, a.abort(fmt.Errorf("init event bus: %w", err))
	}
	a.bus = bus

	handler, err := api.NewHandler(api.Deps{
		Orchestrator: a.orchestrator,
		Bandit:       a.bandit,
		Events:       a.store,
		Publisher:    a.bus,
		Direct:       speed,
	}, logger)
	if err != nil {
		return nil, a.abort(fmt.Errorf("init api: %w", err))
	}
	a.router = api.NewRouter(handler, api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.Security.CORSOrigins,
		CORSMaxAge:         86400,
		RateLimitRequests:  cfg.Security.RateLimitRequests,
		RateLimitWindow:    cfg.Security.RateLimitWindow,
		RateLimitDisabled:  cfg.Security.RateLimitDisabled,
	})

	return a, nil
}

func (a *app) openStore() error {
	switch a.cfg.Storage.Backend {
	case config.StorageBadger:
		db, err := badgerstore.Open(badgerstore.Config{
			Path:       a.cfg.Storage.Path,
			InMemory:   a.cfg.Storage.InMemory,
			SyncWrites: a.cfg.Storage.SyncWrites,
		})
		if err != nil {
			return err
		}
		a.store, a.badger = db, db
	case config.StorageMemory, "":
		a.store = memory.New()
	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	return nil
}

//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func (a *app) initModel(logger zerolog.Logger) error {
	engineCfg := recommend.DefaultConfig()
	engineCfg.Weights = recommend.AlgorithmWeights{
		Popularity: a.cfg.Model.WeightPopularity,
		CoVisit:    a.cfg.Model.WeightCoVisitation,
		Content:    a.cfg.Model.WeightContent,
	}
	engineCfg.Limits.MaxCandidates = a.cfg.Model.MaxCandidates
	engineCfg.Limits.PredictionTimeout = a.cfg.Model.PredictionTimeout

	history := &lambda.StoreHistory{Events: a.store, Window: engineCfg.HistoryWindow}
	engine, err := recommend.NewEngine(engineCfg, history, logger)
	if err != nil {
		return fmt.Errorf("init recommendation engine: %w", err)
	}
	engine.RegisterAlgorithm(algorithms.NewPopularity(algorithms.PopularityConfig{}))
	engine.RegisterAlgorithm(algorithms.NewCoVisitation(algorithms.CoVisitConfig{WindowSize: a.cfg.Model.CoVisitWindow}))
	engine.RegisterAlgorithm(algorithms.NewContentBased(algorithms.ContentBasedConfig{}))
	a.engine = engine
	return nil
}

//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func (a *app) initLambda(logger zerolog.Logger) (*lambda.SpeedLayer, error) {
	lc := a.cfg.Lambda
	a.cache = lambda.NewCache()

	batch, err := lambda.NewBatchLayer(lambda.BatchConfig{
		Interval:            lc.BatchInterval,
		Timeout:             lc.BatchTimeout,
		PerUserTimeout:      lc.PerUserTimeout,
		TrainingCorpusLimit: lc.TrainingCorpusLimit,
		MinTrainingSize:     lc.MinTrainingSize,
		ActiveWindow:        lc.ActiveWindow,
		MaxActiveUsers:      lc.MaxActiveUsers,
		TopN:                lc.PrecomputeTopN,
		Workers:             lc.PrecomputeWorkers,
		Rate:                lc.PrecomputeRate,
	}, lambda.BatchDeps{
		Events:  a.store,
		Trainer: a.engine,
		Model:   a.engine,
		Arms:    a.bandit,
		Cache:   a.cache,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init batch layer: %w", err)
	}

	speed := lambda.NewSpeedLayer(a.cache, a.store, nil, logger)

	serving, err := lambda.NewServingLayer(lambda.ServingConfig{
		BatchFreshness:       lc.BatchFreshness,
		RecentActivityWindow: lc.RecentActivityWindow,
		MergeHistory:         lc.MergeHistory,
		FreshnessBoost:       lc.FreshnessBoost,
		DefaultLimit:         lc.DefaultLimit,
		MaxLimit:             lc.MaxLimit,
		RepopulateOnRealtime: lc.RepopulateOnRealtime,
		BreakerFailures:      a.cfg.Model.BreakerFailures,
		BreakerTimeout:       a.cfg.Model.BreakerTimeout,
	}, a.cache, a.store, a.engine, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("init serving layer: %w", err)
	}

	orch, err := lambda.NewOrchestrator(lambda.OrchestratorConfig{
		CheckInterval:  lc.CheckInterval,
		JitterFraction: lc.JitterFraction,
	}, a.cache, batch, speed, serving, logger)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	a.orchestrator = orch
	return speed, nil
}

// addServices registers the long-running services with the tree.
//
//nolint:gocritic // hugeParam: logger passed by value for zerolog chaining
func (a *app) addServices(tree *supervisor.SupervisorTree, logger zerolog.Logger) {
	if a.badger != nil && !a.cfg.Storage.InMemory {
		tree.AddDataService(services.NewGCService(a.badger, 0, 0, logger))
	}

	tree.AddPipelineService(a.bus)
	if a.cfg.Lambda.SchedulerEnabled {
		tree.AddPipelineService(services.NewSchedulerService(a.orchestrator, services.SchedulerServiceConfig{
			RunOnStartup: a.cfg.Lambda.RunOnStartup,
			Interval:     a.cfg.Lambda.BatchInterval,
		}, logger))
	}

	server := &http.Server{
		Handler:           a.router,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, services.HTTPServerConfig{
		Addr:            a.cfg.Server.Addr(),
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	}, logger))
}

// Close stops the scheduler and releases the bus and the store.
func (a *app) Close() error {
	var errs []error
	if a.orchestrator != nil {
		a.orchestrator.StopScheduler()
	}
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// abort closes whatever was opened before err and returns err.
func (a *app) abort(err error) error {
	if closeErr := a.Close(); closeErr != nil {
		return errors.Join(err, closeErr)
	}
	return err
}
