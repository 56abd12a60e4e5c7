// Package eventbus is a small in-process pub/sub fan-out, adapted from
// pkg/pubsub/events.go and topics.go. It exists purely to decouple cache
// invalidation and breaker state changes from the components that react
// to them; it is NOT a distributed or cross-instance message bus — the
// original's Encore pubsub topics assumed multiple service instances,
// which this framework's single-process model has no use for (see
// DESIGN.md's pub/sub non-goal).
package eventbus

import "sync"

// InvalidationEvent mirrors pkg/pubsub/events.go's InvalidationEvent,
// trimmed of the Encore/distributed-tracing fields that had no local
// subscriber to serve.
type InvalidationEvent struct {
	Keys    []string
	Pattern string
	Reason  string
}

// BreakerStateEvent fires whenever the circuit breaker changes state.
type BreakerStateEvent struct {
	From string
	To   string
}

// Bus is a minimal synchronous topic registry. Handlers run on the
// publishing goroutine, matching topics.go's at-most-once, no-retry
// local delivery semantics rather than attempting Encore's durable
// pubsub guarantees.
type Bus struct {
	mu                   sync.RWMutex
	invalidationHandlers []func(InvalidationEvent)
	breakerHandlers      []func(BreakerStateEvent)
}

func New() *Bus {
	return &Bus{}
}

func (b *Bus) OnInvalidation(fn func(InvalidationEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invalidationHandlers = append(b.invalidationHandlers, fn)
}

func (b *Bus) OnBreakerState(fn func(BreakerStateEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.breakerHandlers = append(b.breakerHandlers, fn)
}

func (b *Bus) PublishInvalidation(e InvalidationEvent) {
	b.mu.RLock()
	handlers := append([]func(InvalidationEvent){}, b.invalidationHandlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (b *Bus) PublishBreakerState(e BreakerStateEvent) {
	b.mu.RLock()
	handlers := append([]func(BreakerStateEvent){}, b.breakerHandlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}
