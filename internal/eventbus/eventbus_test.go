package eventbus

import "testing"

func TestInvalidationFanOut(t *testing.T) {
	b := New()
	var got InvalidationEvent
	called := 0
	b.OnInvalidation(func(e InvalidationEvent) {
		got = e
		called++
	})

	b.PublishInvalidation(InvalidationEvent{Pattern: "users:*", Reason: "manual"})

	if called != 1 {
		t.Fatalf("expected handler to run once, ran %d times", called)
	}
	if got.Pattern != "users:*" || got.Reason != "manual" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestBreakerStateFanOutToMultipleSubscribers(t *testing.T) {
	b := New()
	var a, c int
	b.OnBreakerState(func(e BreakerStateEvent) { a++ })
	b.OnBreakerState(func(e BreakerStateEvent) { c++ })

	b.PublishBreakerState(BreakerStateEvent{From: "CLOSED", To: "OPEN"})

	if a != 1 || c != 1 {
		t.Fatalf("expected both subscribers to be notified once, got a=%d c=%d", a, c)
	}
}
