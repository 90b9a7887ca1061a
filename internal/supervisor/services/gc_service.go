// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ValueLogCollector is satisfied by *badger.Store from internal/store/badger.
type ValueLogCollector interface {
	RunValueLogGC(discardRatio float64) error
}

// GCService periodically reclaims BadgerDB value-log space. GC errors are
// logged and retried on the next tick; they never restart the service.
type GCService struct {
	collector    ValueLogCollector
	interval     time.Duration
	discardRatio float64
	logger       zerolog.Logger
	name         string
}

// NewGCService creates the service. Non-positive arguments take defaults
// (5 minutes, 0.5).
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewGCService(collector ValueLogCollector, interval time.Duration, discardRatio float64, logger zerolog.Logger) *GCService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if discardRatio <= 0 || discardRatio >= 1 {
		discardRatio = 0.5
	}
	return &GCService{
		collector:    collector,
		interval:     interval,
		discardRatio: discardRatio,
		logger:       logger.With().Str("service", "badger-gc").Logger(),
		name:         "badger-gc",
	}
}

// Serve implements suture.Service.
func (s *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.collector.RunValueLogGC(s.discardRatio); err != nil {
				s.logger.Warn().Err(err).Msg("value log GC failed")
				continue
			}
			s.logger.Debug().Dur("duration", time.Since(start)).Msg("value log GC pass complete")
		}
	}
}

// String returns the service name for logging.
func (s *GCService) String() string {
	return s.name
}
