package cachecore

import (
	"context"
	"time"
)

// RemoteCache is the optional, external, persistent key/value store the
// framework may consult as an L2 behind the in-process Cache. It is a
// plain KV collaborator — no pub/sub invalidation subscription semantics
// are part of this interface, matching spec.md's explicit stance that
// remote-cache pub/sub invalidation is not used.
type RemoteCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// OriginFetcher produces a fresh value when both cache tiers miss.
type OriginFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// TieredCache layers the in-process Cache over an optional RemoteCache
// and OriginFetcher, coalescing concurrent misses. Grounded on
// cache-manager/service.go's fetchWithFallback (L2 then origin); here an
// origin value is written to L2 synchronously, inside the coalesced call.
type TieredCache struct {
	L1         *Cache
	L2         RemoteCache
	Origin     OriginFetcher
	coalescer  *Coalescer
	defaultTTL time.Duration
}

func NewTieredCache(l1 *Cache, l2 RemoteCache, origin OriginFetcher, defaultTTL time.Duration) *TieredCache {
	return &TieredCache{L1: l1, L2: l2, Origin: origin, coalescer: NewCoalescer(), defaultTTL: defaultTTL}
}

// Get tries L1, then L2 (populating L1 on hit), then Origin (populating
// both tiers on success), coalescing concurrent callers for the same key.
func (t *TieredCache) Get(ctx context.Context, key string) (any, error) {
	if v, ok := t.L1.Get(key); ok {
		return v, nil
	}

	v, err, _ := t.coalescer.Do(key, func() (any, error) {
		if t.L2 != nil {
			if raw, ok, err := t.L2.Get(ctx, key); err == nil && ok {
				t.L1.Set(key, raw, t.defaultTTL)
				return raw, nil
			}
		}
		if t.Origin == nil {
			return nil, nil
		}
		raw, err := t.Origin.Fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		t.L1.Set(key, raw, t.defaultTTL)
		if t.L2 != nil {
			_ = t.L2.Set(ctx, key, raw, t.defaultTTL)
		}
		return raw, nil
	})
	return v, err
}

// Invalidate removes key from both tiers.
func (t *TieredCache) Invalidate(ctx context.Context, key string) error {
	t.L1.Delete(key)
	if t.L2 != nil {
		return t.L2.Delete(ctx, key)
	}
	return nil
}
