package routecache

import (
	"testing"
	"time"
)

func TestHotRoutePromotion(t *testing.T) {
	c := New(100, time.Minute, 3)
	c.Set("/x", "handler", "/x")
	for i := 0; i < 5; i++ {
		c.Get("/x")
	}
	if _, ok := c.hotRoutes["route:/x"]; !ok {
		t.Fatal("expected /x to be promoted to hot route after threshold")
	}
}

func TestPatternStatsTopTen(t *testing.T) {
	c := New(100, time.Minute, 1000)
	c.Set("/a", "h", "/a")
	c.Set("/a", "h", "/a")
	c.Set("/b", "h", "/b")
	stats := c.Stats()
	if len(stats.PopularPatterns) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(stats.PopularPatterns))
	}
	if stats.PopularPatterns[0].Pattern != "/a" || stats.PopularPatterns[0].Hits != 2 {
		t.Fatalf("expected /a to lead with 2 hits, got %+v", stats.PopularPatterns[0])
	}
}
