package cachecore

import (
	"testing"
	"time"
)

func TestSetGetRoundTrip(t *testing.T) {
	c := New(Options{Capacity: 10, TTL: time.Minute})
	c.Set("a", "1", 0)
	v, ok := c.Get("a")
	if !ok || v != "1" {
		t.Fatalf("expected a=1, got %v ok=%v", v, ok)
	}
}

func TestExpiryOnAccess(t *testing.T) {
	c := New(Options{Capacity: 10, TTL: time.Minute})
	c.Set("a", "1", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected expired entry to be gone")
	}
	if c.Len() != 0 {
		t.Fatalf("expected lazy removal, got len=%d", c.Len())
	}
}

func TestCapacityEviction(t *testing.T) {
	c := New(Options{Capacity: 2, TTL: time.Minute})
	c.Set("a", "1", 0)
	c.Set("b", "2", 0)
	c.Set("c", "3", 0)
	if c.Len() != 2 {
		t.Fatalf("expected capacity-bounded len=2, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest entry evicted")
	}
}

func TestProtectedSurvivesSweep(t *testing.T) {
	c := New(Options{Capacity: 10, TTL: time.Millisecond, CleanupInterval: 5 * time.Millisecond})
	c.SetProtected("hot", "v", time.Millisecond, true)
	time.Sleep(2 * time.Millisecond)
	c.cleanupExpired()
	if _, ok := c.items["hot"]; !ok {
		t.Fatal("expected protected entry to survive sweep")
	}
}

func TestDeletePattern(t *testing.T) {
	c := New(Options{Capacity: 10, TTL: time.Minute})
	c.Set("users:1", "a", 0)
	c.Set("users:2", "b", 0)
	c.Set("orders:1", "c", 0)
	n := c.DeletePattern("users:*")
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", c.Len())
	}
}

func TestStatsHitRate(t *testing.T) {
	c := New(Options{Capacity: 10, TTL: time.Minute})
	c.Set("a", "1", 0)
	c.Get("a")
	c.Get("missing")
	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if s.HitRate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %f", s.HitRate)
	}
}
