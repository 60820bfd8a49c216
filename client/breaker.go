package client

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/types"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
	BreakerStopped
	BreakerDisabled
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerStopped:
		return "stopped"
	case BreakerDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one backend. After FailureThreshold consecutive
// failures it rejects calls for RecoveryTimeout, then lets HalfOpenRequests
// probes through; that many successes close it again, any failure reopens it.
type CircuitBreaker struct {
	name    string
	enabled bool
	config  types.CircuitBreakerConfig
	logger  types.Logger
	now     func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
}

func NewCircuitBreaker(config *types.CircuitBreakerConfig, logger types.Logger, name string) *CircuitBreaker {
	cb := &CircuitBreaker{name: name, logger: logger, now: time.Now}

	if config != nil && config.Enabled {
		cb.enabled = true
		cb.config = *config
	}

	return cb
}

// Allow reports whether a call may go out now. A true result in the half-open
// state consumes one probe.
func (cb *CircuitBreaker) Allow() bool {
	if cb == nil || !cb.enabled {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailure) < cb.config.RecoveryTimeout {
			return false
		}
		cb.enter(BreakerHalfOpen)
		cb.probes = 1
		return true
	case BreakerHalfOpen:
		if cb.probes >= cb.probeLimit() {
			return false
		}
		cb.probes++
		return true
	case BreakerStopped:
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil || !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.probeLimit() {
			cb.enter(BreakerClosed)
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil || !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.config.FailureThreshold > 0 && cb.failures >= cb.config.FailureThreshold {
			cb.enter(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.enter(BreakerOpen)
	}
}

// Release returns a half-open slot taken by Allow when the call ended
// without an outcome, e.g. the caller cancelled it.
func (cb *CircuitBreaker) Release() {
	if cb == nil || !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	if cb == nil || !cb.enabled {
		return BreakerDisabled
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// Reset closes the breaker unless it was stopped.
func (cb *CircuitBreaker) Reset() {
	if cb == nil || !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerStopped && cb.state != BreakerClosed {
		cb.enter(BreakerClosed)
	}
	cb.failures = 0
}

// Stop rejects every later call.
func (cb *CircuitBreaker) Stop() {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = BreakerStopped
}

func (cb *CircuitBreaker) probeLimit() int {
	if cb.config.HalfOpenRequests <= 0 {
		return 1
	}
	return cb.config.HalfOpenRequests
}

// enter switches state and clears the counters the new state starts from.
// Callers hold mu.
func (cb *CircuitBreaker) enter(next BreakerState) {
	prev := cb.state
	cb.state = next
	cb.successes = 0
	cb.probes = 0

	fields := []zap.Field{
		zap.String("service", cb.name),
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
	}

	switch next {
	case BreakerOpen:
		cb.logger.Warn("Circuit breaker opened", append(fields,
			zap.Int("failures", cb.failures),
			zap.Int("threshold", cb.config.FailureThreshold))...)
	case BreakerClosed:
		cb.failures = 0
		cb.lastFailure = time.Time{}
		cb.logger.Info("Circuit breaker closed", fields...)
	default:
		cb.logger.Info("Circuit breaker probing", fields...)
	}
}
