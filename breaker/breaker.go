// Package breaker implements the three-state circuit breaker (CLOSED,
// OPEN, HALF_OPEN). Grounded on original_source/circuit_breaker.py's
// __call__(scope, timing) state machine, with two corrections spec.md
// calls for: failures reset only on a success observed in CLOSED or
// HALF_OPEN (not on any non-5xx seen while OPEN, which the original does
// incorrectly), and only a single probe is admitted in HALF_OPEN at a
// time.
package breaker

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/onclave/fantail/middleware"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker is a single circuit breaker instance, owned by one Framework.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	lastFailureAt    time.Time
	failureThreshold int
	resetTimeout     time.Duration

	probeInFlight atomic.Bool

	onStateChange func(from, to State)
}

func New(failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	return &Breaker{failureThreshold: failureThreshold, resetTimeout: resetTimeout, state: Closed}
}

// OnStateChange registers a callback invoked whenever the breaker
// transitions between states. Used to fan state changes out onto the
// framework's event bus without the breaker package depending on it.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

func (b *Breaker) transitionTo(s State) {
	if s == b.state {
		return
	}
	from := b.state
	b.state = s
	if b.onStateChange != nil {
		fn, f := b.onStateChange, from
		go fn(f, s)
	}
}

// ErrOpen is returned by Allow when the breaker rejects admission.
type ErrOpen struct{}

func (ErrOpen) Error() string { return "circuit breaker is open" }

// Allow decides whether a request may proceed. It is the "before" phase of
// the original's two-phase (scope, timing) callable.
func (b *Breaker) Allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if time.Since(b.lastFailureAt) > b.resetTimeout {
			b.transitionTo(HalfOpen)
			if b.probeInFlight.CompareAndSwap(false, true) {
				return true, nil
			}
			return false, ErrOpen{}
		}
		return false, ErrOpen{}
	case HalfOpen:
		if b.probeInFlight.CompareAndSwap(false, true) {
			return true, nil
		}
		return false, ErrOpen{}
	default: // Closed
		return true, nil
	}
}

// RecordResult is the "after" phase: success reports a non-5xx response,
// failure a 5xx one. Only CLOSED and HALF_OPEN states reset the failure
// counter on success. A result reported while OPEN (from a request that
// was admitted before the breaker opened) leaves the state unchanged: a
// success resets nothing, a failure still counts and refreshes
// lastFailureAt.
func (b *Breaker) RecordResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbe := b.state == HalfOpen
	if wasProbe {
		b.probeInFlight.Store(false)
	}

	if success {
		switch b.state {
		case Closed, HalfOpen:
			b.failures = 0
			b.transitionTo(Closed)
		}
		return
	}

	b.failures++
	b.lastFailureAt = time.Now()
	if b.state == HalfOpen {
		b.transitionTo(Open)
		return
	}
	if b.failures >= b.failureThreshold {
		b.transitionTo(Open)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Before implements middleware.Middleware: it is the first critical
// middleware in the default chain, matching
// _init_default_middlewares' ordering (circuit_breaker, rate_limiter, ...).
func (b *Breaker) Before(ctx *middleware.Context) error {
	ok, err := b.Allow()
	if !ok {
		return err
	}
	return nil
}

// After inspects the response status this request produced and records a
// success/failure against the breaker. Only 5xx responses count as
// failures, matching the original's status_code >= 500 check.
func (b *Breaker) After(ctx *middleware.Context) {
	status := ctx.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	b.RecordResult(status < 500)
}
