package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinCapacity(t *testing.T) {
	l := NewLimiter(10, 5, false)
	for i := 0; i < 5; i++ {
		if !l.Allow("k") {
			t.Fatalf("expected request %d to be allowed", i)
		}
	}
	if l.Allow("k") {
		t.Fatal("expected bucket to be exhausted")
	}
}

func TestRefillOverTime(t *testing.T) {
	l := NewLimiter(1000, 1, false)
	l.Allow("k")
	if l.Allow("k") {
		t.Fatal("expected second immediate request to be denied")
	}
	time.Sleep(5 * time.Millisecond)
	if !l.Allow("k") {
		t.Fatal("expected refill to allow a subsequent request")
	}
}

func TestPerKeyIsolation(t *testing.T) {
	l := NewLimiter(10, 1, false)
	l.Allow("a")
	if !l.Allow("b") {
		t.Fatal("expected independent bucket for key b")
	}
}

func TestEvictStaleKeys(t *testing.T) {
	l := NewLimiter(10, 5, false)
	l.Allow("k")
	removed := l.EvictStaleKeys(-time.Second)
	if removed != 1 {
		t.Fatalf("expected 1 evicted, got %d", removed)
	}
}
