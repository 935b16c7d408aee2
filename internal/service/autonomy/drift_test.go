package autonomy

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

func TestJSDivergenceIdenticalDistributions(t *testing.T) {
	p := map[string]int{"edr": 50, "firewall": 30, "email": 20}
	assert.InDelta(t, 0.0, JSDivergence(p, p), 1e-12)
}

func TestJSDivergenceDisjointDistributions(t *testing.T) {
	p := map[string]int{"edr": 100}
	q := map[string]int{"email": 100}
	// Disjoint support yields the base-2 maximum of 1.
	assert.InDelta(t, 1.0, JSDivergence(p, q), 1e-12)
}

func TestJSDivergenceSymmetry(t *testing.T) {
	p := map[string]int{"edr": 70, "firewall": 30}
	q := map[string]int{"edr": 40, "firewall": 50, "email": 10}
	assert.InDelta(t, JSDivergence(p, q), JSDivergence(q, p), 1e-12)
}

func TestJSDivergenceBounded(t *testing.T) {
	p := map[string]int{"a": 1, "b": 99}
	q := map[string]int{"a": 99, "b": 1}
	d := JSDivergence(p, q)
	assert.Greater(t, d, 0.0)
	assert.LessOrEqual(t, d, 1.0)
}

func TestJSDivergenceEmptyInputs(t *testing.T) {
	assert.Equal(t, 0.0, JSDivergence(nil, nil))
	// One window going empty is maximal drift, in either direction.
	assert.InDelta(t, 1.0, JSDivergence(map[string]int{"edr": 10}, map[string]int{}), 1e-12)
	assert.InDelta(t, 1.0, JSDivergence(map[string]int{}, map[string]int{"edr": 10}), 1e-12)
}

func newDriftFixture() (*DriftDetector, *Sampler, *capturingEmitter) {
	cfg := config.Defaults()
	sampler := NewSampler(cfg.Autonomy)
	emitter := &capturingEmitter{}
	d := NewDriftDetector(cfg.Drift, sampler, emitter,
		metrics.New(prometheus.NewRegistry()), zap.NewNop())
	return d, sampler, emitter
}

func stable() *AlertDistributions {
	return &AlertDistributions{
		Sources:    map[string]int{"edr": 50, "firewall": 50},
		Techniques: map[string]int{"T1078": 60, "T1110": 40},
		Entities:   map[string]int{"host": 70, "user": 30},
	}
}

func shifted() *AlertDistributions {
	return &AlertDistributions{
		Sources:    map[string]int{"email": 90, "edr": 10},
		Techniques: map[string]int{"T1566": 95, "T1078": 5},
		Entities:   map[string]int{"mailbox": 90, "host": 10},
	}
}

func TestDriftDetectionTransitions(t *testing.T) {
	d, _, emitter := newDriftFixture()
	ctx := context.Background()
	families := []string{"credential_access"}

	// Stable window: no drift, no events.
	state := d.Compute(ctx, "t1", stable(), stable(), families)
	assert.False(t, state.ThresholdExceeded)
	assert.InDelta(t, 0.0, state.OverallDrift, 1e-9)
	assert.Empty(t, emitter.events)

	// Shifted window: threshold exceeded, detection event emitted.
	state = d.Compute(ctx, "t1", stable(), shifted(), families)
	assert.True(t, state.ThresholdExceeded)
	assert.Greater(t, state.OverallDrift, 0.30)
	if assert.Len(t, emitter.events, 1) {
		assert.Equal(t, audit.EventDriftDetected, emitter.events[0].EventType)
	}

	// Still drifted: no duplicate event.
	d.Compute(ctx, "t1", stable(), shifted(), families)
	assert.Len(t, emitter.events, 1)

	// Back to stable: restoration event.
	state = d.Compute(ctx, "t1", stable(), stable(), families)
	assert.False(t, state.ThresholdExceeded)
	if assert.Len(t, emitter.events, 2) {
		assert.Equal(t, audit.EventDriftRestored, emitter.events[1].EventType)
	}
}

func TestDriftAdjustsSamplingMultiplier(t *testing.T) {
	d, sampler, _ := newDriftFixture()
	ctx := context.Background()
	families := []string{"credential_access"}

	d.Compute(ctx, "t1", stable(), shifted(), families)
	assert.Equal(t, 2.0, sampler.multiplier("credential_access"))
	assert.Equal(t, 1.0, sampler.multiplier("lateral_movement"))

	d.Compute(ctx, "t1", stable(), stable(), families)
	assert.Equal(t, 1.0, sampler.multiplier("credential_access"))
}

func TestDriftWeightsCombine(t *testing.T) {
	d, _, _ := newDriftFixture()

	// Only the source dimension shifts; the weighted overall must equal
	// 0.40 times the source divergence.
	baseline := stable()
	current := stable()
	current.Sources = map[string]int{"email": 100}

	state := d.Compute(context.Background(), "t1", baseline, current, nil)
	assert.InDelta(t, 0.40*state.SourceDrift, state.OverallDrift, 1e-9)
	assert.InDelta(t, 0.0, state.TechniqueDrift, 1e-12)
	assert.InDelta(t, 0.0, state.EntityDrift, 1e-12)
}

func TestThresholdAdjusterFloors(t *testing.T) {
	cfg := config.Defaults()
	d, _, _ := newDriftFixture()
	adjuster := NewThresholdAdjuster(cfg.Drift, d)

	// No drift state yet: normal floor.
	assert.Equal(t, 0.90, adjuster.ConfidenceFloor())

	d.Compute(context.Background(), "t1", stable(), shifted(), nil)
	assert.Equal(t, 0.95, adjuster.ConfidenceFloor())

	d.Compute(context.Background(), "t1", stable(), stable(), nil)
	assert.Equal(t, 0.90, adjuster.ConfidenceFloor())
}

func TestEffectiveFloorTakesStricter(t *testing.T) {
	cfg := config.Defaults()
	d, _, _ := newDriftFixture()
	adjuster := NewThresholdAdjuster(cfg.Drift, d)

	// Degradation override above the drift floor wins.
	assert.Equal(t, 0.97, adjuster.EffectiveFloor(0.97))
	// A weaker override defers to the drift floor.
	assert.Equal(t, 0.90, adjuster.EffectiveFloor(0.85))
}
