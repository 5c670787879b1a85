package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestFallbackGroup_PrimarySucceeds(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("backup", "backup")

	var used string
	err := fg.Execute(func(v string) error {
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != "primary" {
		t.Errorf("used = %q, want %q", used, "primary")
	}
}

func TestFallbackGroup_FailsOverToFallback(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("backup", "backup")

	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		if v == "primary" {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tried) != 2 || tried[0] != "primary" || tried[1] != "backup" {
		t.Errorf("tried = %v, want [primary backup]", tried)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("backup", "backup")

	err := fg.Execute(func(v string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 1,
			Cooldown:         time.Hour,
		},
	})
	fg.AddFallback("backup", "backup")

	// Trip the primary's breaker.
	_ = fg.Execute(func(v string) error {
		if v == "primary" {
			return errTest
		}
		return nil
	})

	// Subsequent calls must not touch the primary at all.
	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tried) != 1 || tried[0] != "backup" {
		t.Errorf("tried = %v, want [backup]", tried)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := NewFallbackGroup(1, "one", FallbackConfig{})
	fg.AddFallback("two", 2)

	got, err := ExecuteWithResult(fg, func(v int) (string, error) {
		if v == 1 {
			return "", errTest
		}
		return "from-two", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-two" {
		t.Errorf("result = %q, want %q", got, "from-two")
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	fg := NewFallbackGroup(1, "one", FallbackConfig{})

	_, err := ExecuteWithResult(fg, func(v int) (string, error) {
		return "", errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
