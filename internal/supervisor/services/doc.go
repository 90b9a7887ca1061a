// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package services adapts Marquee components to suture's Serve(ctx) error
// lifecycle: the HTTP server, the batch scheduler and BadgerDB value-log
// GC. Each wrapper returns ctx.Err() on a clean shutdown and a wrapped
// error when the component fails, which suture answers with a restart.
package services
