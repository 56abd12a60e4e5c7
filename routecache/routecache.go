// Package routecache wraps cachecore.Cache with route-resolution-specific
// bookkeeping: per-path access counts that promote hot routes to
// sweep-exempt status, and per-pattern hit/latency statistics. Grounded
// on original_source/router/cache.py's RouteCache(LRUCache).
package routecache

import (
	"sort"
	"sync"
	"time"

	"github.com/onclave/fantail/cachecore"
)

type patternStats struct {
	hits      uint64
	latencies []time.Duration
}

// Cache is the route-resolution cache: key -> cached resolved route.
type Cache struct {
	store     *cachecore.Cache
	threshold uint64

	mu           sync.Mutex
	accessCount  map[string]uint64
	hotRoutes    map[string]struct{}
	patternStats map[string]*patternStats
}

func New(capacity int, ttl time.Duration, hotThreshold uint64) *Cache {
	if hotThreshold == 0 {
		hotThreshold = 1000
	}
	return &Cache{
		store:        cachecore.New(cachecore.Options{Capacity: capacity, TTL: ttl}),
		threshold:    hotThreshold,
		accessCount:  make(map[string]uint64),
		hotRoutes:    make(map[string]struct{}),
		patternStats: make(map[string]*patternStats),
	}
}

func (c *Cache) Start() { c.store.Start() }
func (c *Cache) Stop()  { c.store.Stop() }

// OnAccess forwards to the underlying cachecore.Cache so a collaborator
// (telemetry.Metrics) can fold route-resolution hits/misses into the same
// cache hit/miss counters as the handler-facing cache.
func (c *Cache) OnAccess(fn func(hit bool)) { c.store.OnAccess(fn) }

// Get increments the path's access counter and promotes it to the
// hot-route set once the counter exceeds threshold, per
// router/cache.py's get().
func (c *Cache) Get(path string) (any, bool) {
	key := "route:" + path
	c.mu.Lock()
	c.accessCount[key]++
	promoted := c.accessCount[key] > c.threshold
	if promoted {
		c.hotRoutes[key] = struct{}{}
	}
	c.mu.Unlock()

	if promoted {
		// Re-mark the entry protected so the background sweeper skips
		// it even past TTL, matching the hot-route exemption.
		if v, ok := c.store.Get(key); ok {
			c.store.SetProtected(key, v, -1, true)
			return v, true
		}
		return nil, false
	}
	return c.store.Get(key)
}

// Set stores the resolved route and, when pattern is non-empty, records a
// hit against that pattern for Stats().
func (c *Cache) Set(path string, value any, pattern string) {
	key := "route:" + path
	c.store.Set(key, value, 0)
	if pattern == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.patternStats[pattern]
	if !ok {
		ps = &patternStats{}
		c.patternStats[pattern] = ps
	}
	ps.hits++
}

// RecordLatency records an observed resolution latency for pattern, used
// by Stats()'s pattern_latencies rollup.
func (c *Cache) RecordLatency(pattern string, d time.Duration) {
	if pattern == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.patternStats[pattern]
	if !ok {
		ps = &patternStats{}
		c.patternStats[pattern] = ps
	}
	ps.latencies = append(ps.latencies, d)
}

// PatternHit is a (pattern, hits) pair for the top-N popular patterns.
type PatternHit struct {
	Pattern string
	Hits    uint64
}

// Stats mirrors router/cache.py's get_pattern_stats: the ten
// most-frequently-hit patterns and the average latency observed per
// pattern.
type Stats struct {
	PopularPatterns  []PatternHit
	PatternLatencies map[string]time.Duration
	CacheStats       cachecore.Stats
	HotRouteCount    int
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits := make([]PatternHit, 0, len(c.patternStats))
	latencies := make(map[string]time.Duration, len(c.patternStats))
	for p, ps := range c.patternStats {
		hits = append(hits, PatternHit{Pattern: p, Hits: ps.hits})
		if len(ps.latencies) > 0 {
			var total time.Duration
			for _, d := range ps.latencies {
				total += d
			}
			latencies[p] = total / time.Duration(len(ps.latencies))
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Hits > hits[j].Hits })
	if len(hits) > 10 {
		hits = hits[:10]
	}
	return Stats{
		PopularPatterns:  hits,
		PatternLatencies: latencies,
		CacheStats:       c.store.Stats(),
		HotRouteCount:    len(c.hotRoutes),
	}
}
