package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	errTestError = errors.New("test error")
	errDenied    = errors.New("denied")
)

func openBreaker(t *testing.T, cb *CircuitBreaker, failures int) {
	t.Helper()
	for i := 0; i < failures; i++ {
		_ = cb.Execute(context.Background(), func() error { return errTestError })
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state Open, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_ClosedState_Success(t *testing.T) {
	cb := New(DefaultConfig())

	err := cb.Execute(context.Background(), func() error { return nil })
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_ClosedState_Failure(t *testing.T) {
	cb := New(DefaultConfig())

	err := cb.Execute(context.Background(), func() error { return errTestError })
	if !errors.Is(err, errTestError) {
		t.Errorf("Expected errTestError, got: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
	if stats := cb.GetStats(); stats.FailureCount != 1 {
		t.Errorf("Expected failure count 1, got: %d", stats.FailureCount)
	}
}

func TestCircuitBreaker_OpenState_RejectsRequests(t *testing.T) {
	cb := New(Config{FailureThreshold: 2, SuccessThreshold: 2, Timeout: time.Second, MaxRequestsHalfOpen: 3})
	openBreaker(t, cb, 2)

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got: %v", err)
	}
	if called {
		t.Error("protected function must not run while open")
	}
}

func TestCircuitBreaker_HalfOpenState_TransitionToClosed(t *testing.T) {
	cb := New(Config{FailureThreshold: 2, SuccessThreshold: 2, Timeout: 50 * time.Millisecond, MaxRequestsHalfOpen: 3})
	openBreaker(t, cb, 2)

	time.Sleep(60 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenState_FailureReopens(t *testing.T) {
	cb := New(Config{FailureThreshold: 2, SuccessThreshold: 2, Timeout: 50 * time.Millisecond, MaxRequestsHalfOpen: 3})
	openBreaker(t, cb, 2)

	time.Sleep(60 * time.Millisecond)

	_ = cb.Execute(context.Background(), func() error { return errTestError })
	if cb.GetState() != StateOpen {
		t.Errorf("Expected state Open, got: %v", cb.GetState())
	}
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	cb := New(Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		IsFailure:        func(err error) bool { return !errors.Is(err, errDenied) },
	})

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func() error { return errDenied })
		if !errors.Is(err, errDenied) {
			t.Fatalf("Expected errDenied, got: %v", err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("answers that are not failures must not open the breaker, got: %v", cb.GetState())
	}
}

func TestDo_ReturnsResult(t *testing.T) {
	cb := New(DefaultConfig())

	got, err := Do(context.Background(), cb, func() (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Errorf("Do() = %d, %v; want 7, nil", got, err)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})

	var mu sync.Mutex
	var transitions []State
	done := make(chan struct{}, 1)
	cb.OnStateChange(func(from, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
		done <- struct{}{}
	})

	_ = cb.Execute(context.Background(), func() error { return errTestError })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("state change callback not invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("Expected [open], got: %v", transitions)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	openBreaker(t, cb, 1)

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state Closed after reset, got: %v", cb.GetState())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
