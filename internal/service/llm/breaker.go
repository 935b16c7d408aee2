package llm

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateHalfOpen = "half_open"
	StateOpen     = "open"
)

// CircuitBreaker guards one provider. Consecutive failures trip it open;
// after the recovery timeout it admits a single probe (half-open), and one
// probe outcome decides the next state. The open-to-half-open transition is
// purely time-based, so both the admission path and the record path compute
// elapsed time instead of trusting the stored state.
type CircuitBreaker struct {
	provider  string
	threshold int
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu            sync.Mutex
	state         string
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// NewCircuitBreaker creates a closed breaker for the provider.
func NewCircuitBreaker(provider string, cfg config.Breaker, m *metrics.Metrics, logger *zap.Logger) *CircuitBreaker {
	b := &CircuitBreaker{
		provider:  provider,
		threshold: cfg.FailureThreshold,
		timeout:   cfg.RecoveryTimeout,
		metrics:   m,
		logger:    logger.Named("breaker"),
		now:       time.Now,
		state:     StateClosed,
	}
	b.publish()
	return b
}

// WithClock overrides the breaker's clock. Test hook.
func (b *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	b.now = now
	return b
}

// State returns the effective state, accounting for recovery elapsed time.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.effectiveState()
}

// Allow reports whether a request may proceed. In half-open, only one probe
// is admitted at a time.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.effectiveState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		b.publish()
		return true
	default:
		return false
	}
}

// RecordSuccess notes a successful call.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.effectiveState() {
	case StateHalfOpen:
		// One good probe closes the circuit.
		b.transition(StateClosed)
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure notes a failed call.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.effectiveState() {
	case StateHalfOpen:
		// The probe failed; reopen and restart the recovery clock.
		b.transition(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.transition(StateOpen)
		}
	}
}

// effectiveState folds the recovery timeout into the stored state. Callers
// hold b.mu.
func (b *CircuitBreaker) effectiveState() string {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return StateHalfOpen
	}
	return b.state
}

// transition moves to a new stored state. Callers hold b.mu.
func (b *CircuitBreaker) transition(state string) {
	prev := b.state
	b.state = state
	b.probeInFlight = false
	switch state {
	case StateOpen:
		b.openedAt = b.now()
		b.failures = 0
	case StateClosed:
		b.failures = 0
	}
	b.publish()
	if prev != state {
		b.logger.Warn("circuit breaker transition",
			zap.String("provider", b.provider),
			zap.String("from", prev),
			zap.String("to", state))
	}
}

func (b *CircuitBreaker) publish() {
	if b.metrics == nil {
		return
	}
	var v float64
	switch b.state {
	case StateHalfOpen:
		v = 1
	case StateOpen:
		v = 2
	}
	b.metrics.BreakerState.WithLabelValues(b.provider).Set(v)
}
