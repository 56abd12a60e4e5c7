// Package ratelimit implements a lock-free atomic token bucket per key,
// plus a global admission gate. Grounded on
// O-tero-Distributed-Caching-System/pkg/middleware/ratelimit.go's
// sync.Map-backed per-key buckets with atomic CAS refill/consume, and
// supplemented with golang.org/x/time/rate for a coarser global limiter
// (the teacher's go.mod already requires x/time without exercising it).
package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	tokens     atomic.Int64 // fixed-point, x1000
	lastRefill atomic.Int64 // unix nanos
	capacity   int64
	fillRate   float64 // tokens per second
}

func newBucket(capacity int64, fillRate float64) *bucket {
	b := &bucket{capacity: capacity, fillRate: fillRate}
	b.tokens.Store(capacity * 1000)
	b.lastRefill.Store(time.Now().UnixNano())
	return b
}

func (b *bucket) tryConsume(n int64) bool {
	for {
		now := time.Now().UnixNano()
		last := b.lastRefill.Load()
		elapsedSec := float64(now-last) / 1e9
		if elapsedSec < 0 {
			elapsedSec = 0
		}
		cur := b.tokens.Load()
		refill := int64(elapsedSec * b.fillRate * 1000)
		next := cur + refill
		max := b.capacity * 1000
		if next > max {
			next = max
		}
		need := n * 1000
		if next < need {
			// Publish the refill even on failure so elapsed time isn't
			// lost to the next attempt.
			if b.lastRefill.CompareAndSwap(last, now) {
				b.tokens.Store(next)
			}
			return false
		}
		if b.lastRefill.CompareAndSwap(last, now) {
			if b.tokens.CompareAndSwap(cur, next-need) {
				return true
			}
		}
	}
}

func (b *bucket) current() float64 {
	return float64(b.tokens.Load()) / 1000
}

// Limiter is a per-key token bucket rate limiter with an optional coarser
// global admission gate.
type Limiter struct {
	buckets    sync.Map // key -> *bucket
	fillRate   float64
	bucketSize int64

	global       *rate.Limiter
	globalEnable bool

	lastSeen sync.Map // key -> time.Time, for EvictStaleKeys
}

func NewLimiter(requestsPerSecond float64, bucketSize int64, enableGlobal bool) *Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1000
	}
	if bucketSize <= 0 {
		bucketSize = int64(requestsPerSecond)
	}
	l := &Limiter{fillRate: requestsPerSecond, bucketSize: bucketSize, globalEnable: enableGlobal}
	if enableGlobal {
		l.global = rate.NewLimiter(rate.Limit(requestsPerSecond), int(bucketSize))
	}
	return l
}

func (l *Limiter) getOrCreate(key string) *bucket {
	if b, ok := l.buckets.Load(key); ok {
		return b.(*bucket)
	}
	b, _ := l.buckets.LoadOrStore(key, newBucket(l.bucketSize, l.fillRate))
	return b.(*bucket)
}

// Allow reports whether a single request for key may proceed.
func (l *Limiter) Allow(key string) bool {
	l.lastSeen.Store(key, time.Now())
	if l.globalEnable && !l.global.Allow() {
		return false
	}
	return l.getOrCreate(key).tryConsume(1)
}

// AllowN reports whether n tokens may be consumed for key.
func (l *Limiter) AllowN(key string, n int64) bool {
	l.lastSeen.Store(key, time.Now())
	return l.getOrCreate(key).tryConsume(n)
}

// Reset clears all per-key bucket state.
func (l *Limiter) Reset() {
	l.buckets.Range(func(k, _ any) bool {
		l.buckets.Delete(k)
		return true
	})
}

// KeyStats reports a snapshot of one key's current bucket.
type KeyStats struct {
	Key            string
	CurrentTokens  float64
	BucketCapacity int64
}

// Stats returns a snapshot across all tracked keys.
func (l *Limiter) Stats() []KeyStats {
	var out []KeyStats
	l.buckets.Range(func(k, v any) bool {
		b := v.(*bucket)
		out = append(out, KeyStats{Key: k.(string), CurrentTokens: b.current(), BucketCapacity: b.capacity})
		return true
	})
	return out
}

// EvictStaleKeys drops bucket state for keys not seen within staleAfter,
// grounded on pkg/middleware/ratelimit.go's EvictStaleKeys.
func (l *Limiter) EvictStaleKeys(staleAfter time.Duration) int {
	cutoff := time.Now().Add(-staleAfter)
	var removed int
	l.lastSeen.Range(func(k, v any) bool {
		if v.(time.Time).Before(cutoff) {
			l.buckets.Delete(k)
			l.lastSeen.Delete(k)
			removed++
		}
		return true
	})
	return removed
}

// KeyByIP derives a limiter key from the request's client IP, checking
// X-Forwarded-For and X-Real-IP before falling back to RemoteAddr,
// grounded on pkg/middleware/ratelimit.go's KeyByIP.
func KeyByIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	return r.RemoteAddr
}

// KeyByHeader returns a key function that keys on an arbitrary request
// header.
func KeyByHeader(header string) func(*http.Request) string {
	return func(r *http.Request) string { return r.Header.Get(header) }
}
