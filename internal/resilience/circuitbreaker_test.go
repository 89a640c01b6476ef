package resilience

import (
	"errors"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for deterministic breaker tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var errBoom = errors.New("boom")

func failingCall() error { return errBoom }
func okCall() error      { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", MaxFailures: 3}, WithBreakerClock(clock.Now))

	for i := 0; i < 3; i++ {
		if err := cb.Execute(failingCall); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: err = %v, want errBoom", i, err)
		}
	}
	if got := cb.State(); got != BreakerOpen {
		t.Fatalf("State() = %v after max failures, want open", got)
	}
	if err := cb.Execute(okCall); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute in open state returned %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", MaxFailures: 3}, WithBreakerClock(clock.Now))

	cb.Execute(failingCall)
	cb.Execute(failingCall)
	cb.Execute(okCall)
	cb.Execute(failingCall)
	cb.Execute(failingCall)

	if got := cb.State(); got != BreakerClosed {
		t.Fatalf("State() = %v, want closed (success should reset the count)", got)
	}
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := NewCircuitBreaker(
		BreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: 10 * time.Second},
		WithBreakerClock(clock.Now))

	cb.Execute(failingCall)
	if got := cb.State(); got != BreakerOpen {
		t.Fatalf("State() = %v, want open", got)
	}

	clock.Advance(10 * time.Second)
	if got := cb.State(); got != BreakerHalfOpen {
		t.Fatalf("State() = %v after reset timeout, want half-open", got)
	}

	// A probe call must be let through now.
	called := false
	if err := cb.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("half-open probe returned %v", err)
	}
	if !called {
		t.Fatal("half-open probe was not executed")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := NewCircuitBreaker(
		BreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: time.Second},
		WithBreakerClock(clock.Now))

	cb.Execute(failingCall)
	clock.Advance(time.Second)

	if err := cb.Execute(failingCall); !errors.Is(err, errBoom) {
		t.Fatalf("probe err = %v, want errBoom", err)
	}
	if got := cb.State(); got != BreakerOpen {
		t.Fatalf("State() = %v after failed probe, want open", got)
	}
}

func TestCircuitBreaker_HalfOpenSuccessesClose(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := NewCircuitBreaker(
		BreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 2},
		WithBreakerClock(clock.Now))

	cb.Execute(failingCall)
	clock.Advance(time.Second)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(okCall); err != nil {
			t.Fatalf("probe %d returned %v", i, err)
		}
	}
	if got := cb.State(); got != BreakerClosed {
		t.Fatalf("State() = %v after successful probes, want closed", got)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := NewCircuitBreaker(BreakerConfig{Name: "test", MaxFailures: 1}, WithBreakerClock(clock.Now))

	cb.Execute(failingCall)
	cb.Reset()

	if got := cb.State(); got != BreakerClosed {
		t.Fatalf("State() = %v after Reset, want closed", got)
	}
	if err := cb.Execute(okCall); err != nil {
		t.Fatalf("Execute after Reset returned %v", err)
	}
}

func TestBreakerState_String(t *testing.T) {
	t.Parallel()

	cases := []struct {
		state BreakerState
		want  string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{BreakerState(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
