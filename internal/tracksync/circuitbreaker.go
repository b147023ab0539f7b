package tracksync

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is the state of the sheet circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state where writes are allowed.
	CircuitClosed CircuitState = iota
	// CircuitOpen is the state where writes fail fast.
	CircuitOpen
	// CircuitHalfOpen is the probing state where one write is allowed.
	CircuitHalfOpen
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

// ErrCircuitOpen is returned when the sheet circuit is open and writes are
// being rejected without touching the remote service.
var ErrCircuitOpen = errors.New("sheet circuit breaker is open")

type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a probe.
	RecoveryTimeout time.Duration
	// IsTransient reports whether an error counts against the threshold.
	// Permanent errors (bad spreadsheet id, revoked access) do not trip the
	// circuit. Nil treats every error as transient.
	IsTransient func(error) bool
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// CircuitBreaker guards the single tracking-sheet target. After too many
// consecutive failures it fails fast until a probe write succeeds.
type CircuitBreaker struct {
	mu sync.Mutex

	config            CircuitBreakerConfig
	state             CircuitState
	consecutiveErrors int
	lastStateChange   time.Time
	probing           bool
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		config:          cfg,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a write may proceed, returning ErrCircuitOpen when
// the circuit rejects it. An open circuit past its recovery timeout admits
// exactly one probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if time.Since(cb.lastStateChange) >= cb.config.RecoveryTimeout {
			cb.state = CircuitHalfOpen
			cb.lastStateChange = time.Now()
			cb.probing = true
			return nil
		}
		return ErrCircuitOpen

	case CircuitHalfOpen:
		if !cb.probing {
			cb.probing = true
			return nil
		}
		return ErrCircuitOpen

	default:
		return nil
	}
}

// RecordSuccess closes the circuit after a successful probe and resets the
// failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitClosed
		cb.lastStateChange = time.Now()
		cb.consecutiveErrors = 0
		cb.probing = false
	case CircuitClosed:
		cb.consecutiveErrors = 0
	}
}

// RecordFailure counts a transient failure. At the threshold the circuit
// opens; a failed probe reopens it immediately.
func (cb *CircuitBreaker) RecordFailure(err error) {
	if cb.config.IsTransient != nil && !cb.config.IsTransient(err) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveErrors++
		if cb.consecutiveErrors >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
			cb.lastStateChange = time.Now()
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.lastStateChange = time.Now()
		cb.consecutiveErrors++
		cb.probing = false
	}
}

// State returns the current circuit state, accounting for an elapsed
// recovery timeout.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.lastStateChange) >= cb.config.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.lastStateChange = time.Now()
	cb.consecutiveErrors = 0
	cb.probing = false
}
