package autonomy

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/domain/safety"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

type capturingEmitter struct {
	events []*audit.Event
}

func (c *capturingEmitter) Emit(_ context.Context, event *audit.Event) error {
	c.events = append(c.events, event)
	return nil
}

func evalResult(tp, fp, fn int) *safety.FPEvaluationResult {
	return &safety.FPEvaluationResult{
		RuleFamily:     "credential_access",
		TotalClosures:  tp + fp + fn,
		TruePositives:  tp,
		FalsePositives: fp,
		FalseNegatives: fn,
		EvaluatedAt:    time.Now().UTC(),
	}
}

func newTestGuard() (*Guard, *capturingEmitter) {
	emitter := &capturingEmitter{}
	g := NewGuard(config.Defaults().Autonomy, emitter,
		metrics.New(prometheus.NewRegistry()), zap.NewNop())
	return g, emitter
}

func TestShouldReduceAutonomy(t *testing.T) {
	g, _ := newTestGuard()

	cases := []struct {
		name   string
		eval   *safety.FPEvaluationResult
		reduce bool
	}{
		{"targets met", evalResult(1000, 10, 0), false}, // precision 0.990, fnr 0
		{"precision miss", evalResult(90, 10, 0), true}, // precision 0.900
		{"fnr miss", evalResult(990, 0, 10), true},      // fnr 0.010
		{"both miss", evalResult(90, 10, 10), true},
		{"empty eval", evalResult(0, 0, 0), false},                   // degenerate: 1.0 / 0.0
		{"precision exactly at target", evalResult(98, 2, 0), false}, // 0.98 not < 0.98
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.reduce, g.ShouldReduceAutonomy(tc.eval))
		})
	}
}

func TestAdjustedThreshold(t *testing.T) {
	g, _ := newTestGuard()

	// Targets met: unchanged.
	assert.Equal(t, 0.90, g.AdjustedThreshold(0.90, evalResult(1000, 10, 0)))

	// One miss: one step.
	assert.InDelta(t, 0.92, g.AdjustedThreshold(0.90, evalResult(90, 10, 0)), 1e-9)

	// Both miss: two steps.
	assert.InDelta(t, 0.94, g.AdjustedThreshold(0.90, evalResult(90, 10, 10)), 1e-9)

	// Cap binds.
	assert.Equal(t, 0.99, g.AdjustedThreshold(0.98, evalResult(90, 10, 10)))
}

func TestGuardApplyEmitsReduction(t *testing.T) {
	g, emitter := newTestGuard()

	threshold, reduced := g.Apply(context.Background(), "tenant-a", 0.90, evalResult(90, 10, 0))
	assert.True(t, reduced)
	assert.InDelta(t, 0.92, threshold, 1e-9)

	if assert.Len(t, emitter.events, 1) {
		assert.Equal(t, audit.EventAutonomyReduced, emitter.events[0].EventType)
		assert.Equal(t, "tenant-a", emitter.events[0].TenantID)
	}
}

func TestGuardApplyNoopWhenHealthy(t *testing.T) {
	g, emitter := newTestGuard()

	threshold, reduced := g.Apply(context.Background(), "tenant-a", 0.90, evalResult(1000, 10, 0))
	assert.False(t, reduced)
	assert.Equal(t, 0.90, threshold)
	assert.Empty(t, emitter.events)
}

func TestEvaluateCountsReviewOutcomes(t *testing.T) {
	now := time.Now().UTC()
	closures := []*safety.Closure{
		{RuleFamily: "credential_access", ReviewOutcome: OutcomeFalsePositive},
		{RuleFamily: "credential_access", ReviewOutcome: OutcomeFalsePositive},
		{RuleFamily: "credential_access", ReviewOutcome: OutcomeTruePositive},
		{RuleFamily: "credential_access", ReviewOutcome: OutcomeFalseNegative},
		{RuleFamily: "lateral_movement", ReviewOutcome: OutcomeTruePositive},
		{RuleFamily: "lateral_movement"}, // unreviewed: excluded
	}

	results := Evaluate(closures, now)
	assert.Len(t, results, 2)

	ca := results["credential_access"]
	assert.Equal(t, 4, ca.TotalClosures)
	assert.Equal(t, 1, ca.TruePositives)
	assert.Equal(t, 2, ca.FalsePositives)
	assert.Equal(t, 1, ca.FalseNegatives)

	lm := results["lateral_movement"]
	assert.Equal(t, 1, lm.TotalClosures)
}

func TestFNDetectorFlagsEscalatedClosures(t *testing.T) {
	d := NewFNDetector(metrics.New(prometheus.NewRegistry()), zap.NewNop())

	closures := []*safety.Closure{
		{AlertID: "a-1", TenantID: "t1"},
		{AlertID: "a-2", TenantID: "t1"},
		{AlertID: "a-3", TenantID: "t1", FNFlagged: true}, // already flagged
	}
	escalated := map[string]struct{}{"a-2": {}, "a-3": {}}

	flagged := d.Flag(closures, escalated)
	assert.Len(t, flagged, 1)
	assert.Equal(t, "a-2", flagged[0].AlertID)
	assert.True(t, closures[1].FNFlagged)
	assert.NotNil(t, closures[1].FNFlaggedAt)
	assert.Equal(t, ReviewPending, closures[1].ReviewStatus)

	assert.False(t, closures[0].FNFlagged)
}
