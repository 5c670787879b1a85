package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.threshold != 3 {
		t.Errorf("threshold = %d, want 3", cb.threshold)
	}
	if cb.cooldown != 60*time.Second {
		t.Errorf("cooldown = %v, want 60s", cb.cooldown)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if !cb.ShouldTry() {
		t.Error("new breaker should allow calls")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		Cooldown:         time.Hour, // long cooldown so it stays open
	})

	cb.RecordFailure()
	cb.RecordFailure()
	if !cb.ShouldTry() {
		t.Fatal("should still allow calls below the threshold")
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.State())
	}
	if cb.ShouldTry() {
		t.Fatal("open breaker should reject calls before cooldown")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
	})

	// 2 failures, then a success — should not open.
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed (success should reset counter)", cb.State())
	}

	// Need 3 more consecutive failures to open now.
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatal("should still be closed after 2 failures post-reset")
	}
}

func TestCircuitBreaker_CooldownAllowsProbe(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		Cooldown:         10 * time.Millisecond,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.ShouldTry() {
		t.Fatal("expected open")
	}

	time.Sleep(15 * time.Millisecond)

	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", cb.State())
	}
	if !cb.ShouldTry() {
		t.Fatal("elapsed cooldown should allow a probe")
	}
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		Cooldown:         10 * time.Millisecond,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if !cb.ShouldTry() {
		t.Fatal("expected probe to be allowed")
	}
	cb.RecordSuccess()

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", cb.State())
	}
	if cb.consecutiveFail != 0 {
		t.Errorf("consecutiveFail = %d, want 0", cb.consecutiveFail)
	}
}

func TestCircuitBreaker_ProbeFailureRestartsCooldown(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		Cooldown:         20 * time.Millisecond,
	})

	cb.RecordFailure()
	if cb.ShouldTry() {
		t.Fatal("expected open")
	}

	time.Sleep(25 * time.Millisecond)
	if !cb.ShouldTry() {
		t.Fatal("expected probe after cooldown")
	}

	// Probe fails: the cooldown clock restarts, so the very next call must
	// be rejected even though the original open instant has long elapsed.
	cb.RecordFailure()
	if cb.ShouldTry() {
		t.Fatal("failed probe should re-open with a fresh cooldown")
	}

	time.Sleep(25 * time.Millisecond)
	if !cb.ShouldTry() {
		t.Fatal("expected another probe after the fresh cooldown")
	}
}

func TestCircuitBreaker_ExecuteRejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	})

	_ = cb.Execute(func() error { return errTest })

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn must not run while the breaker is open")
	}
}

func TestCircuitBreaker_ExecutePassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cb.Execute(func() error { return errTest }); !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want errTest", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	})

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if !cb.ShouldTry() {
		t.Fatal("reset breaker should allow calls")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
