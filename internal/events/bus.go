// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package events carries user actions from the HTTP handlers to the speed
// layer over an in-process watermill bus, so the request that recorded the
// action never waits on cache invalidation or signal writes.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/marquee/internal/lambda"
	"github.com/tomtom215/marquee/internal/logging"
)

// TopicSpeedUpdates carries lambda.Update payloads.
const TopicSpeedUpdates = "speed.updates"

var (
	// ErrClosed is returned by Publish and Serve after Close.
	ErrClosed = errors.New("event bus closed")

	// ErrNotRunning is returned by Publish while no router is consuming.
	ErrNotRunning = errors.New("event bus not consuming")
)

// Handler consumes speed-layer updates. *lambda.SpeedLayer satisfies it.
type Handler interface {
	Handle(ctx context.Context, u lambda.Update)
}

// Config tunes the bus.
type Config struct {
	// BufferSize is the per-subscriber channel buffer.
	BufferSize int64

	// CloseTimeout bounds how long Close waits for in-flight handlers.
	CloseTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:   1024,
		CloseTimeout: 10 * time.Second,
	}
}

// Bus is the publisher side and the consuming router in one value. Serve
// runs a router and is meant to sit under a supervisor. A watermill router
// cannot run twice, so every Serve builds a fresh one on the shared
// channel.
type Bus struct {
	cfg      Config
	pubsub   *gochannel.GoChannel
	wmLogger watermill.LoggerAdapter
	handler  Handler
	logger   zerolog.Logger

	mu       sync.Mutex
	router   *message.Router // nil while no Serve is active
	routeCtx context.Context
	closed   atomic.Bool

	started     chan struct{}
	startedOnce sync.Once
}

// NewBus creates the pub/sub channel. The speed-layer consumer on
// TopicSpeedUpdates is registered each time Serve starts a router.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewBus(cfg Config, handler Handler, logger zerolog.Logger) (*Bus, error) {
	if handler == nil {
		return nil, fmt.Errorf("event bus: handler is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultConfig().CloseTimeout
	}

	wmLogger := watermill.NewSlogLogger(logging.NewSlogLogger("event_bus"))

	return &Bus{
		cfg: cfg,
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.BufferSize,
		}, wmLogger),
		wmLogger: wmLogger,
		handler:  handler,
		logger:   logger.With().Str("component", "event_bus").Logger(),
		started:  make(chan struct{}),
	}, nil
}

func (b *Bus) newRouter() (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: b.cfg.CloseTimeout}, b.wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer, middleware.CorrelationID)
	router.AddConsumerHandler("speed-layer", TopicSpeedUpdates, b.pubsub, b.consume)
	return router, nil
}

// Publish enqueues u for the speed layer. It does not wait for handling.
// The request or correlation id on ctx travels with the message.
// Without a consuming router the message would be dropped, so Publish
// returns ErrNotRunning and the caller decides what to do with u.
func (b *Bus) Publish(ctx context.Context, u lambda.Update) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if !b.Consuming() {
		return ErrNotRunning
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal %s update: %w", u.Kind, err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("kind", string(u.Kind))
	if id := correlationID(ctx); id != "" {
		middleware.SetCorrelationID(id, msg)
	}

	if err := b.pubsub.Publish(TopicSpeedUpdates, msg); err != nil {
		return fmt.Errorf("publish %s update: %w", u.Kind, err)
	}
	return nil
}

// Consuming reports whether a router is subscribed and not shutting down.
// Router.IsClosed is avoided because it blocks while Close drains handlers.
func (b *Bus) Consuming() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.router == nil || b.closed.Load() {
		return false
	}
	return b.router.IsRunning() && b.routeCtx.Err() == nil
}

// consume decodes one update and hands it to the speed layer. Undecodable
// payloads are logged and acked so they are not redelivered.
func (b *Bus) consume(msg *message.Message) error {
	var u lambda.Update
	if err := json.Unmarshal(msg.Payload, &u); err != nil {
		b.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable speed update")
		return nil
	}

	ctx := msg.Context()
	if id := middleware.MessageCorrelationID(msg); id != "" {
		ctx = logging.ContextWithCorrelationID(ctx, id)
	}
	b.handler.Handle(ctx, u)
	return nil
}

func correlationID(ctx context.Context) string {
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		return id
	}
	return logging.RequestIDFromContext(ctx)
}

// Running is closed once the first router is consuming.
func (b *Bus) Running() <-chan struct{} {
	return b.started
}

// Serve implements suture.Service. It blocks until ctx is cancelled.
func (b *Bus) Serve(ctx context.Context) error {
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return ErrClosed
	}
	router, err := b.newRouter()
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.router = router
	b.routeCtx = ctx
	b.mu.Unlock()

	runDone := make(chan struct{})
	go func() {
		select {
		case <-router.Running():
			b.startedOnce.Do(func() { close(b.started) })
		case <-runDone:
		}
	}()

	b.logger.Info().Str("topic", TopicSpeedUpdates).Msg("event bus starting")
	runErr := router.Run(ctx)
	close(runDone)

	b.mu.Lock()
	if b.router == router {
		b.router = nil
		b.routeCtx = nil
	}
	b.mu.Unlock()

	if runErr != nil {
		return fmt.Errorf("event router: %w", runErr)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Close stops the active router, if any, and the channel. Further
// publishes fail with ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	if !b.closed.CompareAndSwap(false, true) {
		b.mu.Unlock()
		return nil
	}
	router := b.router
	b.mu.Unlock()

	var errs []error
	if router != nil {
		errs = append(errs, router.Close())
	}
	errs = append(errs, b.pubsub.Close())
	return errors.Join(errs...)
}

// String implements fmt.Stringer for supervisor logs.
func (b *Bus) String() string {
	return "event-bus"
}
