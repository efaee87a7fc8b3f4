package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

var errBoom = errors.New("boom")

func newTestBreaker(clk *clock.Mock) *CircuitBreaker {
	return NewCircuitBreaker(Config{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             10 * time.Second,
		HalfOpenMaxRequests: 1,
		Clock:               clk,
	})
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(clock.NewMock())

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected errBoom, got %v", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("expected ErrCircuitBreakerOpen, got %v", err)
	}
	if called {
		t.Fatal("fn must not run while the breaker is open")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(clock.NewMock())

	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBoom })

	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	clk := clock.NewMock()
	var transitions []State
	cb := NewCircuitBreaker(Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          5 * time.Second,
		Clock:            clk,
		OnStateChange:    func(_, to State) { transitions = append(transitions, to) },
	})

	_ = cb.Execute(func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	clk.Add(5 * time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected half-open probe to run, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.GetState())
	}

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clk := clock.NewMock()
	cb := newTestBreaker(clk)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errBoom })
	}

	clk.Add(10 * time.Second)
	_ = cb.Execute(func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", cb.GetState())
	}
}

func TestIgnoredErrorsDoNotTrip(t *testing.T) {
	errIgnored := errors.New("bad request")
	cb := NewCircuitBreaker(Config{
		FailureThreshold: 1,
		Timeout:          time.Second,
		Clock:            clock.NewMock(),
		IsFailure:        func(err error) bool { return !errors.Is(err, errIgnored) },
	})

	_ = cb.Execute(func() error { return errIgnored })
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
}
