package tracksync

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_ShouldStartClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	if cb.State() != CircuitClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() in closed state returned error: %v", err)
	}
}

func TestCircuitBreaker_ShouldOpenAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	})
	testErr := errors.New("write failed")

	cb.RecordFailure(testErr)
	cb.RecordFailure(testErr)
	if cb.State() != CircuitClosed {
		t.Error("circuit should still be closed after 2 failures")
	}

	cb.RecordFailure(testErr)
	if cb.State() != CircuitOpen {
		t.Error("circuit should be open after 3 failures")
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() on open circuit = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ShouldResetFailureCountOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	})
	testErr := errors.New("write failed")

	cb.RecordFailure(testErr)
	cb.RecordSuccess()
	cb.RecordFailure(testErr)

	if cb.State() != CircuitClosed {
		t.Error("circuit should stay closed when failures are not consecutive")
	}
}

func TestCircuitBreaker_ShouldProbeAfterRecoveryTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
	})
	cb.RecordFailure(errors.New("write failed"))

	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() before recovery timeout = %v, want ErrCircuitOpen", err)
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() after recovery timeout returned error: %v", err)
	}
	// Only one probe is admitted while half-open.
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second Allow() in half-open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ShouldCloseOnProbeSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Millisecond,
	})
	cb.RecordFailure(errors.New("write failed"))
	time.Sleep(5 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("probe Allow() returned error: %v", err)
	}
	cb.RecordSuccess()

	if cb.State() != CircuitClosed {
		t.Error("circuit should close after a successful probe")
	}
}

func TestCircuitBreaker_ShouldReopenOnProbeFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Millisecond,
	})
	cb.RecordFailure(errors.New("write failed"))
	time.Sleep(5 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("probe Allow() returned error: %v", err)
	}
	cb.RecordFailure(errors.New("still failing"))

	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() after failed probe = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ShouldIgnorePermanentErrors(t *testing.T) {
	permanent := errors.New("spreadsheet not found")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
		IsTransient: func(err error) bool {
			return !errors.Is(err, permanent)
		},
	})

	cb.RecordFailure(permanent)

	if cb.State() != CircuitClosed {
		t.Error("permanent errors should not trip the circuit")
	}
}
