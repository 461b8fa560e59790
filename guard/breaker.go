package guard

import (
	"context"
	"log/slog"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject requests
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	breakerThreshold  = 5
	breakerTimeout    = 600 * time.Second
	breakerFailureTTL = 300 * time.Second
)

// CircuitBreaker tracks the health of one outbound channel through the
// shared store, so every worker sees the same circuit. All transitions
// are lazy: there is no background timer, the open→half-open move happens
// on the first read after the timeout elapses.
//
// When the store itself is unreachable the breaker degrades to closed:
// message flow is never blocked by an outage of the resilience layer.
type CircuitBreaker struct {
	store   Store
	channel string

	threshold  int
	timeout    time.Duration
	failureTTL time.Duration
	now        func() time.Time
}

func NewCircuitBreaker(store Store, channel string) *CircuitBreaker {
	return &CircuitBreaker{
		store:      store,
		channel:    channel,
		threshold:  breakerThreshold,
		timeout:    breakerTimeout,
		failureTTL: breakerFailureTTL,
		now:        time.Now,
	}
}

func (cb *CircuitBreaker) stateKey() string    { return "courier:circuit:" + cb.channel + ":state" }
func (cb *CircuitBreaker) failuresKey() string { return "courier:circuit:" + cb.channel + ":failures" }
func (cb *CircuitBreaker) openedAtKey() string { return "courier:circuit:" + cb.channel + ":opened_at" }

// State returns the current circuit state, performing the lazy
// open→half-open transition when the open timeout has elapsed.
func (cb *CircuitBreaker) State(ctx context.Context) CircuitState {
	v, ok, err := cb.store.Get(ctx, cb.stateKey())
	if err != nil {
		slog.Warn("circuit store unavailable, assuming closed", "channel", cb.channel, "err", err)
		return CircuitClosed
	}
	if !ok {
		return CircuitClosed
	}

	switch v {
	case CircuitOpen.String():
		if cb.openElapsed(ctx) {
			if err := cb.store.Set(ctx, cb.stateKey(), CircuitHalfOpen.String(), 0); err != nil {
				slog.Warn("circuit half-open transition failed", "channel", cb.channel, "err", err)
			}
			return CircuitHalfOpen
		}
		return CircuitOpen
	case CircuitHalfOpen.String():
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// openElapsed reports whether the circuit has been open long enough to
// probe again. A missing or unreadable opened_at stamp counts as elapsed.
func (cb *CircuitBreaker) openElapsed(ctx context.Context) bool {
	v, ok, err := cb.store.Get(ctx, cb.openedAtKey())
	if err != nil || !ok {
		return true
	}
	openedAt, perr := time.Parse(time.RFC3339, v)
	if perr != nil {
		return true
	}
	return cb.now().Sub(openedAt) >= cb.timeout
}

// RecordFailure counts one failed call. In half-open a single failure
// trips the circuit straight back open: the failure counter has long
// decayed by then (its TTL is shorter than the open timeout), so the
// probe result decides alone. Otherwise the counter carries a short TTL
// so sparse failures decay; once it reaches the threshold the circuit
// opens.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context) {
	v, ok, err := cb.store.Get(ctx, cb.stateKey())
	if err == nil && ok && v == CircuitHalfOpen.String() {
		cb.trip(ctx, 1)
		return
	}

	n, ierr := cb.store.Incr(ctx, cb.failuresKey(), cb.failureTTL)
	if ierr != nil {
		slog.Warn("circuit failure count not recorded", "channel", cb.channel, "err", ierr)
		return
	}
	if n >= int64(cb.threshold) {
		cb.trip(ctx, n)
	}
}

// trip opens the circuit: state, opened_at stamp, counter cleared so the
// next closed period starts from zero.
func (cb *CircuitBreaker) trip(ctx context.Context, failures int64) {
	if err := cb.store.Set(ctx, cb.stateKey(), CircuitOpen.String(), 0); err != nil {
		slog.Warn("circuit open transition failed", "channel", cb.channel, "err", err)
		return
	}
	cb.store.Set(ctx, cb.openedAtKey(), cb.now().UTC().Format(time.RFC3339), 0)
	cb.store.Del(ctx, cb.failuresKey())
	slog.Error("circuit opened", "channel", cb.channel, "failures", failures)
}

// RecordSuccess closes the circuit unconditionally and clears the
// failure counter. A single success in half-open fully closes it.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context) {
	if err := cb.store.Set(ctx, cb.stateKey(), CircuitClosed.String(), 0); err != nil {
		slog.Warn("circuit close transition failed", "channel", cb.channel, "err", err)
		return
	}
	cb.store.Del(ctx, cb.failuresKey(), cb.openedAtKey())
}

// ShouldAttempt reports whether a send may go to the primary channel.
func (cb *CircuitBreaker) ShouldAttempt(ctx context.Context) bool {
	return cb.State(ctx) != CircuitOpen
}
