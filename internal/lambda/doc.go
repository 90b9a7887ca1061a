// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

/*
Package lambda serves recommendations through a batch/speed/serving split.

# Layers

  - Cache: per-user ranked lists with hit/miss/set/invalidation counters.
  - BatchLayer: retrains the candidate model when the corpus is large
    enough, then precomputes top-N lists for recently active users.
  - SpeedLayer: reacts to ratings, watchlist adds and preference changes by
    appending a reward signal and dropping the user's cache entry.
  - ServingLayer: picks between a fresh cache entry, a fresh model call and
    a merge of a stale entry with recent ratings.
  - Orchestrator: owns the jittered batch scheduler and fronts serving.

# Serving Policy

Evaluated per request, first match wins:

 1. Fresh entry (age below BatchFreshness) and not forced: batch.
 2. Rating within RecentActivityWindow, or forced: realtime.
 3. Stale entry: merged. Items among the last MergeHistory ratings are
    dropped, survivors are multiplied by FreshnessBoost and re-sorted.
 4. No entry: realtime.

Model calls go through a circuit breaker. When a call fails the serving
layer answers from the cache entry if there is one, otherwise with an empty
realtime list. GetRecommendations never returns an error.

# Concurrency

Cache writes are last-write-wins. Only one batch run may be in flight;
overlapping requests get ErrBatchInProgress. Speed-layer handlers never
return errors and recover from panics so the triggering request is never
affected.
*/
package lambda
