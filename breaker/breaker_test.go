package breaker

import (
	"testing"
	"time"
)

func TestOpensAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		ok, _ := b.Allow()
		if !ok {
			t.Fatalf("expected admission %d while closed", i)
		}
		b.RecordResult(false)
	}
	if b.State() != Open {
		t.Fatalf("expected OPEN after threshold failures, got %s", b.State())
	}
	ok, err := b.Allow()
	if ok || err == nil {
		t.Fatal("expected rejection while open")
	}
}

func TestHalfOpenSingleProbe(t *testing.T) {
	b := New(1, time.Millisecond)
	b.Allow()
	b.RecordResult(false) // -> OPEN
	time.Sleep(5 * time.Millisecond)

	ok1, _ := b.Allow()
	if !ok1 {
		t.Fatal("expected first probe admitted in HALF_OPEN")
	}
	ok2, err2 := b.Allow()
	if ok2 || err2 == nil {
		t.Fatal("expected concurrent second probe rejected")
	}
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	b := New(1, time.Millisecond)
	b.Allow()
	b.RecordResult(false)
	time.Sleep(5 * time.Millisecond)
	b.Allow()
	b.RecordResult(true)
	if b.State() != Closed {
		t.Fatalf("expected CLOSED after successful probe, got %s", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(1, time.Millisecond)
	b.Allow()
	b.RecordResult(false)
	time.Sleep(5 * time.Millisecond)
	b.Allow()
	b.RecordResult(false)
	if b.State() != Open {
		t.Fatalf("expected OPEN after failed probe, got %s", b.State())
	}
}

func TestFailuresOnlyResetInClosedOrHalfOpen(t *testing.T) {
	b := New(2, time.Hour)
	b.Allow()
	b.RecordResult(false)
	if b.failures != 1 {
		t.Fatalf("expected 1 failure recorded, got %d", b.failures)
	}
	b.Allow()
	b.RecordResult(true)
	if b.failures != 0 {
		t.Fatalf("expected reset to 0 on CLOSED success, got %d", b.failures)
	}
}
