package llm

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(t *testing.T) (*CircuitBreaker, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
	b := NewCircuitBreaker("anthropic", config.Defaults().Breaker,
		metrics.New(prometheus.NewRegistry()), zap.NewNop()).WithClock(clock.Now)
	return b, clock
}

func TestBreakerTripAndRecovery(t *testing.T) {
	b, clock := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		assert.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.False(t, b.Allow())
	assert.Equal(t, StateOpen, b.State())

	clock.advance(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.True(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())

	// A single failure after recovery does not reopen the circuit.
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())

	// Success resets the consecutive count.
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.advance(31 * time.Second)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	// The recovery clock restarted at the probe failure.
	clock.advance(29 * time.Second)
	assert.False(t, b.Allow())
	clock.advance(2 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreakerSuccessClosesWithoutObservedHalfOpen(t *testing.T) {
	b, clock := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.advance(31 * time.Second)

	// No Allow() observed the half-open transition; the record path must
	// still compute elapsed time and close.
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.advance(31 * time.Second)

	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "second probe must wait for the first outcome")

	b.RecordSuccess()
	assert.True(t, b.Allow())
}

func TestBreakerOpenBeforeTimeout(t *testing.T) {
	b, clock := newTestBreaker(t)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.advance(29 * time.Second)
	assert.False(t, b.Allow())
	assert.Equal(t, StateOpen, b.State())
}
