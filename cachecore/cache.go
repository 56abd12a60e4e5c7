// Package cachecore implements the LRU+TTL cache container with an
// optional memory ceiling, a background sweeper, and pattern-based bulk
// invalidation. Grounded on cache-manager/cache.go's L1Cache
// (container/list + map, lazy-expiry Get, evictLRUUnsafe) and
// original_source/cache/lru_cache.py's capacity/memory-ceiling eviction
// and 60s cleanup loop.
package cachecore

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is a single cache record.
type Entry struct {
	Value       any
	CreatedAt   time.Time
	ExpiresAt   time.Time
	AccessCount uint64
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

type item struct {
	key       string
	entry     Entry
	protected bool // exempt from TTL sweep, e.g. a hot route
	size      int
	elem      *list.Element
}

// Sizer estimates the in-memory footprint of a stored value, used to
// enforce the optional MaxBytes ceiling.
type Sizer func(value any) int

func defaultSizer(v any) int {
	if s, ok := v.(string); ok {
		return len(s)
	}
	if b, ok := v.([]byte); ok {
		return len(b)
	}
	return 64
}

// Options configures a Cache.
type Options struct {
	Capacity        int
	TTL             time.Duration
	MaxBytes        int64
	CleanupInterval time.Duration
	Sizer           Sizer
}

// Stats mirrors original_source/cache/lru_cache.py's get_stats, extended
// with hit/miss/eviction counters spec.md requires.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
	Capacity  int
	HitRate   float64
}

// Cache is a thread-safe, capacity- and TTL-bounded LRU cache.
type Cache struct {
	mu       sync.RWMutex
	items    map[string]*item
	order    *list.List
	capacity int
	ttl      time.Duration
	maxBytes int64
	curBytes int64
	sizer    Sizer

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	cleanupInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
	startOnce       sync.Once
	stopOnce        sync.Once

	onAccess func(hit bool)
}

// OnAccess registers a callback invoked after every Get with whether it
// was a hit or miss, letting a collaborator (telemetry.Metrics) observe
// cache traffic without this package depending on it.
func (c *Cache) OnAccess(fn func(hit bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAccess = fn
}

func New(opts Options) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = 1000
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 60 * time.Second
	}
	if opts.Sizer == nil {
		opts.Sizer = defaultSizer
	}
	return &Cache{
		items:           make(map[string]*item),
		order:           list.New(),
		capacity:        opts.Capacity,
		ttl:             opts.TTL,
		maxBytes:        opts.MaxBytes,
		sizer:           opts.Sizer,
		cleanupInterval: opts.CleanupInterval,
		stopCh:          make(chan struct{}),
	}
}

// Get returns the cached value, and removes it on lookup if expired
// (lazy-expiry, matching L1Cache.Get and lru_cache.py's get()).
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	it, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		hook := c.onAccess
		c.mu.Unlock()
		if hook != nil {
			hook(false)
		}
		return nil, false
	}
	if it.entry.expired(time.Now()) {
		c.removeUnlocked(it)
		c.misses.Add(1)
		hook := c.onAccess
		c.mu.Unlock()
		if hook != nil {
			hook(false)
		}
		return nil, false
	}
	it.entry.AccessCount++
	c.order.MoveToFront(it.elem)
	c.hits.Add(1)
	value, hook := it.entry.Value, c.onAccess
	c.mu.Unlock()
	if hook != nil {
		hook(true)
	}
	return value, true
}

// Set stores a value that expires after ttl. Pass ttl=0 to use the
// cache's configured default, or a negative duration for no expiry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expiresAt time.Time
	switch {
	case ttl > 0:
		expiresAt = now.Add(ttl)
	case ttl == 0:
		expiresAt = now.Add(c.ttl)
	} // ttl < 0 means no expiry (zero value)

	size := c.sizer(value)

	if existing, ok := c.items[key]; ok {
		c.curBytes += int64(size - existing.size)
		existing.size = size
		existing.entry = Entry{Value: value, CreatedAt: now, ExpiresAt: expiresAt}
		c.order.MoveToFront(existing.elem)
	} else {
		it := &item{key: key, entry: Entry{Value: value, CreatedAt: now, ExpiresAt: expiresAt}, size: size}
		it.elem = c.order.PushFront(it)
		c.items[key] = it
		c.curBytes += int64(size)
	}

	c.enforceMemoryCeilingUnlocked()
	c.enforceCapacityUnlocked()
}

// SetProtected behaves like Set but marks the entry exempt from TTL sweep
// until explicitly deleted or evicted under capacity pressure (used by
// routecache for hot-route protection). Capacity eviction takes the
// least-recently-used unprotected entry first and a protected one only
// when every entry is protected.
func (c *Cache) SetProtected(key string, value any, ttl time.Duration, protected bool) {
	c.Set(key, value, ttl)
	c.mu.Lock()
	if it, ok := c.items[key]; ok {
		it.protected = protected
	}
	c.mu.Unlock()
}

func (c *Cache) enforceMemoryCeilingUnlocked() {
	if c.maxBytes <= 0 {
		return
	}
	for c.curBytes > c.maxBytes && c.order.Len() > 0 {
		c.evictOldestUnlocked()
	}
}

func (c *Cache) enforceCapacityUnlocked() {
	for c.order.Len() > c.capacity {
		c.evictOldestUnlocked()
	}
}

func (c *Cache) evictOldestUnlocked() {
	back := c.order.Back()
	for e := back; e != nil; e = e.Prev() {
		it := e.Value.(*item)
		if !it.protected {
			c.removeUnlocked(it)
			c.evictions.Add(1)
			return
		}
	}
	// Every entry is protected: the least-recently-used one goes.
	if back != nil {
		c.removeUnlocked(back.Value.(*item))
		c.evictions.Add(1)
	}
}

func (c *Cache) removeUnlocked(it *item) {
	c.order.Remove(it.elem)
	delete(c.items, it.key)
	c.curBytes -= int64(it.size)
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok {
		c.removeUnlocked(it)
	}
}

// DeletePattern removes every key matching pattern, using the glob/prefix
// matcher grounded on pkg/utils/pattern.go, and returns the count removed.
func (c *Cache) DeletePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var toRemove []*item
	for _, it := range c.items {
		if matchPattern(pattern, it.key) {
			toRemove = append(toRemove, it)
		}
	}
	for _, it := range toRemove {
		c.removeUnlocked(it)
	}
	return len(toRemove)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*item)
	c.order = list.New()
	c.curBytes = 0
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	size := len(c.items)
	c.mu.RUnlock()
	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return Stats{
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		Size:      size,
		Capacity:  c.capacity,
		HitRate:   rate,
	}
}

// cleanupExpired removes expired, non-protected entries, matching
// lru_cache.py's _cleanup_loop / router/cache.py's hot-route exemption.
func (c *Cache) cleanupExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var expired []*item
	for _, it := range c.items {
		if it.protected {
			continue
		}
		if it.entry.expired(now) {
			expired = append(expired, it)
		}
	}
	for _, it := range expired {
		c.removeUnlocked(it)
	}
}

// Start launches the background sweeper goroutine. Idempotent.
func (c *Cache) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			ticker := time.NewTicker(c.cleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.cleanupExpired()
				case <-c.stopCh:
					return
				}
			}
		}()
	})
}

// Stop signals the sweeper to exit and waits for it to finish.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}
