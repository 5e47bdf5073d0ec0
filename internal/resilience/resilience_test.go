package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/skypro1111/overlay-transcriber/internal/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("engine", cfg, nil)
	b.now = clock.Now
	return b, clock
}

func TestBreakerTransitions(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 2, ResetTimeout: time.Minute, HalfOpenSuccesses: 1})

	var transitions []State
	b.OnStateChange(func(from, to State) { transitions = append(transitions, to) })

	if b.State() != Closed {
		t.Fatalf("initial state = %v, want closed", b.State())
	}

	b.Failure()
	if b.State() != Closed {
		t.Errorf("state after one failure = %v, want closed", b.State())
	}
	b.Failure()
	if b.State() != Open {
		t.Fatalf("state after threshold = %v, want open", b.State())
	}

	if err := b.Allow(); err != ErrOpen {
		t.Errorf("Allow() = %v, want ErrOpen", err)
	}

	clock.Advance(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() after timeout = %v, want nil", err)
	}
	if b.State() != HalfOpen {
		t.Errorf("state = %v, want half-open", b.State())
	}

	b.Success()
	if b.State() != Closed {
		t.Errorf("state after probe success = %v, want closed", b.State())
	}

	want := []State{Open, HalfOpen, Closed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}

	if stats := b.Stats(); stats.Rejected != 1 || stats.State != "closed" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 1, ResetTimeout: time.Second, HalfOpenSuccesses: 2})
	b.Failure()
	clock.Advance(2 * time.Second)
	_ = b.Allow()

	b.Failure()
	if b.State() != Open {
		t.Errorf("state = %v, want open", b.State())
	}
}

func TestSuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 3, ResetTimeout: time.Hour})

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()

	if b.State() != Closed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestExecute(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 1, ResetTimeout: time.Hour})

	got, err := Execute(b, func() (string, error) { return "hello", nil })
	if err != nil || got != "hello" {
		t.Errorf("Execute() = (%q, %v)", got, err)
	}

	boom := errors.New("boom")
	if _, err := Execute(b, func() (string, error) { return "", boom }); err != boom {
		t.Errorf("Execute() error = %v, want boom", err)
	}

	called := false
	_, err = Execute(b, func() (string, error) { called = true; return "", nil })
	if err != ErrOpen || called {
		t.Errorf("open breaker should reject without calling fn, err=%v called=%v", err, called)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(9), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestRetry(t *testing.T) {
	transient := apperrors.New(apperrors.KindInvocation, "engine timed out")
	permanent := apperrors.New(apperrors.KindValidation, "bad request")

	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"first attempt succeeds", 0, nil, 1, false},
		{"succeeds after transient failures", 2, transient, 3, false},
		{"exhausts retries", 10, transient, 3, true},
		{"permanent error not retried", 10, permanent, 1, true},
		{"open breaker not retried", 10, ErrOpen, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
			calls := 0
			err := Retry(context.Background(), cfg, func(attempt int) error {
				if attempt != calls {
					t.Errorf("attempt = %d, want %d", attempt, calls)
				}
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}

	err := Retry(ctx, cfg, func(int) error {
		cancel()
		return apperrors.New(apperrors.KindInvocation, "fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() = %v, want context.Canceled", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 300 * time.Millisecond},
		{9, 300 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := backoffDelay(cfg, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
