// Package resilience guards calls to the transcription engine with a
// circuit breaker and exponential-backoff retries.
package resilience

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// State represents circuit breaker state
type State uint32

const (
	Closed   State = iota // calls pass through
	Open                  // calls fail fast
	HalfOpen              // probing recovery
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// Breaker trips after Threshold consecutive failures and stays open for
// ResetTimeout before letting probe calls through.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	state       atomic.Uint32
	failures    atomic.Int32
	successes   atomic.Int32
	rejected    atomic.Uint64
	lastFailure atomic.Int64 // unix nano

	onStateChange func(from, to State)
	now           func() time.Time
}

// BreakerStats is a point-in-time view of a breaker.
type BreakerStats struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int32  `json:"consecutive_failures"`
	Rejected uint64 `json:"rejected_calls"`
}

// NewBreaker creates a breaker. A nil logger falls back to slog.Default.
func NewBreaker(name string, cfg Config, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("breaker", name)),
		now:    time.Now,
	}
	b.state.Store(uint32(Closed))
	return b
}

// OnStateChange registers a transition callback, used for metrics.
func (b *Breaker) OnStateChange(fn func(from, to State)) *Breaker {
	b.onStateChange = fn
	return b
}

// Allow returns nil when a call may proceed.
func (b *Breaker) Allow() error {
	if State(b.state.Load()) != Open {
		return nil
	}
	if b.resetDue() {
		b.transition(HalfOpen)
		return nil
	}
	b.rejected.Add(1)
	return ErrOpen
}

// Success records a successful call.
func (b *Breaker) Success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.lastFailure.Store(b.now().UnixNano())
	count := b.failures.Add(1)

	switch State(b.state.Load()) {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if count >= int32(b.cfg.Threshold) {
			b.transition(Open)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.transition(Closed)
}

// Stats returns breaker statistics.
func (b *Breaker) Stats() BreakerStats {
	return BreakerStats{
		Name:     b.name,
		State:    b.State().String(),
		Failures: b.failures.Load(),
		Rejected: b.rejected.Load(),
	}
}

func (b *Breaker) transition(to State) {
	from := State(b.state.Swap(uint32(to)))
	if from == to {
		return
	}

	switch to {
	case Closed:
		b.failures.Store(0)
		b.successes.Store(0)
		b.logger.Info("Circuit breaker closed")
	case Open:
		b.successes.Store(0)
		b.logger.Warn("Circuit breaker opened", slog.Int("failures", int(b.failures.Load())))
	case HalfOpen:
		b.successes.Store(0)
		b.logger.Info("Circuit breaker half-open")
	}

	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

func (b *Breaker) resetDue() bool {
	last := b.lastFailure.Load()
	if last == 0 {
		return true
	}
	return b.now().Sub(time.Unix(0, last)) > b.cfg.ResetTimeout
}

// Execute runs fn under breaker protection.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := fn()
	if err != nil {
		b.Failure()
		return zero, err
	}
	b.Success()
	return result, nil
}
