// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package lambda

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/marquee/internal/metrics"
	"github.com/tomtom215/marquee/internal/recommend"
)

// CachedRecommendationData is one user's cached ranking. Recommendations
// and Scores are parallel and always the same length.
type CachedRecommendationData struct {
	Recommendations []int     `json:"recommendations"`
	Scores          []float64 `json:"scores"`
	ComputedAt      time.Time `json:"computed_at"`
}

// newCachedData converts model output into a cache entry.
func newCachedData(items []recommend.ScoredItem, at time.Time) CachedRecommendationData {
	data := CachedRecommendationData{
		Recommendations: make([]int, len(items)),
		Scores:          make([]float64, len(items)),
		ComputedAt:      at,
	}
	for i := range items {
		data.Recommendations[i] = items[i].ItemID
		data.Scores[i] = items[i].Score
	}
	return data
}

func (d *CachedRecommendationData) clone() CachedRecommendationData {
	return CachedRecommendationData{
		Recommendations: append([]int(nil), d.Recommendations...),
		Scores:          append([]float64(nil), d.Scores...),
		ComputedAt:      d.ComputedAt,
	}
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Sets          int64   `json:"sets"`
	Invalidations int64   `json:"invalidations"`
	CacheSize     int     `json:"cache_size"`
	HitRate       float64 `json:"hit_rate"`
}

// Cache is the process-lifetime recommendation cache keyed by user id.
// Entries are only ever replaced whole. There is no eviction beyond
// Invalidate and Clear.
type Cache struct {
	mu      sync.RWMutex
	entries map[int]CachedRecommendationData

	hits          atomic.Int64
	misses        atomic.Int64
	sets          atomic.Int64
	invalidations atomic.Int64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[int]CachedRecommendationData)}
}

// Get returns a copy of the user's entry and counts a hit or a miss.
func (c *Cache) Get(userID int) (CachedRecommendationData, bool) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		metrics.CacheMisses.Inc()
		return CachedRecommendationData{}, false
	}
	c.hits.Add(1)
	metrics.CacheHits.Inc()
	return entry.clone(), true
}

// Set replaces the user's entry. Mismatched slice lengths are rejected.
func (c *Cache) Set(userID int, data CachedRecommendationData) error {
	if len(data.Recommendations) != len(data.Scores) {
		return fmt.Errorf("cache entry for user %d: %d recommendations but %d scores",
			userID, len(data.Recommendations), len(data.Scores))
	}
	entry := data.clone()

	c.mu.Lock()
	c.entries[userID] = entry
	size := len(c.entries)
	c.mu.Unlock()

	c.sets.Add(1)
	metrics.CacheSets.Inc()
	metrics.CacheSize.Set(float64(size))
	return nil
}

// Invalidate drops the user's entry. It reports whether one existed.
// Every call counts as an invalidation.
func (c *Cache) Invalidate(userID int) bool {
	c.mu.Lock()
	_, existed := c.entries[userID]
	delete(c.entries, userID)
	size := len(c.entries)
	c.mu.Unlock()

	c.invalidations.Add(1)
	metrics.CacheInvalidations.Inc()
	metrics.CacheSize.Set(float64(size))
	return existed
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[int]CachedRecommendationData)
	c.mu.Unlock()
	metrics.CacheSize.Set(0)
}

// Stats returns the counters, size and hit rate.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	stats := CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Sets:          c.sets.Load(),
		Invalidations: c.invalidations.Load(),
		CacheSize:     size,
	}
	if reads := stats.Hits + stats.Misses; reads > 0 {
		stats.HitRate = float64(stats.Hits) / float64(reads)
	}
	return stats
}
