package autonomy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/safety"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/cache"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

type fakeClosureSource struct {
	closures  []*safety.Closure
	escalated map[string]struct{}

	fnFlagged []*safety.Closure
	queued    []string
}

func (f *fakeClosureSource) ListClosedSince(_ context.Context, _ time.Time) ([]*safety.Closure, error) {
	return f.closures, nil
}

func (f *fakeClosureSource) ListEscalatedAlertIDs(_ context.Context, _ time.Time) (map[string]struct{}, error) {
	return f.escalated, nil
}

func (f *fakeClosureSource) MarkFNFlagged(_ context.Context, closures []*safety.Closure) error {
	f.fnFlagged = append(f.fnFlagged, closures...)
	return nil
}

func (f *fakeClosureSource) MarkPendingReview(_ context.Context, alertIDs []string) error {
	f.queued = append(f.queued, alertIDs...)
	return nil
}

type fakeDistributionSource struct {
	tenants  []string
	baseline *AlertDistributions
	current  *AlertDistributions
	families []string
}

func (f *fakeDistributionSource) Tenants(_ context.Context, _ time.Time) ([]string, error) {
	return f.tenants, nil
}

func (f *fakeDistributionSource) Distributions(_ context.Context, _ string, from, to time.Time) (*AlertDistributions, []string, error) {
	// The current window ends at "to" == now; the baseline ends a day early.
	if to.Sub(from) <= 24*time.Hour {
		return f.current, f.families, nil
	}
	return f.baseline, f.families, nil
}

type fakeConfidenceCache struct {
	patterns map[string]*cache.FPPattern
}

func (f *fakeConfidenceCache) Set(_ context.Context, p *cache.FPPattern) {
	if f.patterns == nil {
		f.patterns = make(map[string]*cache.FPPattern)
	}
	f.patterns[p.TenantID+"/"+p.PatternID] = p
}

func newTestScheduler(closures *fakeClosureSource, dists *fakeDistributionSource) (*Scheduler, *fakeConfidenceCache, *capturingEmitter) {
	cfg := config.Defaults()
	m := metrics.New(prometheus.NewRegistry())
	logger := zap.NewNop()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	emitter := &capturingEmitter{}
	sampler := NewSampler(cfg.Autonomy).WithClock(clock)
	detector := NewFNDetector(m, logger)
	guard := NewGuard(cfg.Autonomy, emitter, m, logger)
	drift := NewDriftDetector(cfg.Drift, sampler, emitter, m, logger)
	canary := NewCanaryManager(&memoryCanaryRepo{}, &fakeSliceStats{}, &capturingKillSwitch{}, emitter, m, cfg.Canary, logger).WithClock(clock)
	fpCache := &fakeConfidenceCache{}

	adjuster := NewThresholdAdjuster(cfg.Drift, drift)
	s := NewScheduler(closures, dists, sampler, detector, guard, drift, canary,
		fpCache, adjuster, logger).WithClock(clock)
	return s, fpCache, emitter
}

func reviewedClosure(id, family, outcome string, closedAt time.Time) *safety.Closure {
	return &safety.Closure{
		AlertID:          id,
		TenantID:         "t1",
		RuleFamily:       family,
		Severity:         "high",
		AssetCriticality: "standard",
		PatternID:        "pat-" + family,
		PatternCreatedAt: closedAt.Add(-90 * 24 * time.Hour),
		ClosedAt:         closedAt,
		Confidence:       0.95,
		ReviewOutcome:    outcome,
	}
}

func TestRunDailyFlagsAndQueues(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-6 * time.Hour)

	closures := &fakeClosureSource{
		escalated: map[string]struct{}{"c-1": {}},
	}
	for i := 0; i < 40; i++ {
		closures.closures = append(closures.closures,
			reviewedClosure(fmt.Sprintf("c-%d", i), "credential_access", "", yesterday))
	}

	s, _, _ := newTestScheduler(closures, &fakeDistributionSource{})
	s.RunDaily(context.Background())

	// The escalated closure was flagged as a suspected false negative.
	require.Len(t, closures.fnFlagged, 1)
	assert.Equal(t, "c-1", closures.fnFlagged[0].AlertID)

	// A 30-per-stratum sample of yesterday's closures was queued.
	assert.Len(t, closures.queued, 30)
}

func TestRunDailyGuardTightensThreshold(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)

	closures := &fakeClosureSource{escalated: map[string]struct{}{}}
	// 90% precision: well under the 98% target.
	for i := 0; i < 90; i++ {
		closures.closures = append(closures.closures,
			reviewedClosure(fmt.Sprintf("tp-%d", i), "credential_access", OutcomeTruePositive, old))
	}
	for i := 0; i < 10; i++ {
		closures.closures = append(closures.closures,
			reviewedClosure(fmt.Sprintf("fp-%d", i), "credential_access", OutcomeFalsePositive, old))
	}

	s, _, emitter := newTestScheduler(closures, &fakeDistributionSource{})
	assert.Equal(t, 0.90, s.Threshold("credential_access"))

	s.RunDaily(context.Background())

	assert.InDelta(t, 0.92, s.Threshold("credential_access"), 1e-9)
	assert.Equal(t, 0.90, s.Threshold("lateral_movement"), "other families untouched")
	assert.NotEmpty(t, emitter.events)
}

func TestRunDailyRefreshesPatternConfidence(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)

	closures := &fakeClosureSource{escalated: map[string]struct{}{}}
	for i := 0; i < 8; i++ {
		closures.closures = append(closures.closures,
			reviewedClosure(fmt.Sprintf("fp-%d", i), "noise_family", OutcomeFalsePositive, old))
	}
	for i := 0; i < 2; i++ {
		closures.closures = append(closures.closures,
			reviewedClosure(fmt.Sprintf("tp-%d", i), "noise_family", OutcomeTruePositive, old))
	}

	s, fpCache, _ := newTestScheduler(closures, &fakeDistributionSource{})
	s.RunDaily(context.Background())

	pattern := fpCache.patterns["t1/pat-noise_family"]
	require.NotNil(t, pattern)
	assert.InDelta(t, 0.8, pattern.Confidence, 1e-9)
	assert.Equal(t, int64(10), pattern.Hits)
}

func TestRunHourlyComputesDrift(t *testing.T) {
	dists := &fakeDistributionSource{
		tenants:  []string{"t1"},
		baseline: stable(),
		current:  shifted(),
		families: []string{"credential_access"},
	}

	s, _, emitter := newTestScheduler(&fakeClosureSource{}, dists)
	s.RunHourly(context.Background())

	var sawDrift bool
	for _, e := range emitter.events {
		if e.EventType == "drift.detected" {
			sawDrift = true
		}
	}
	assert.True(t, sawDrift, "shifted distribution must trigger drift detection")

	// While drift is exceeded the effective threshold rises to the elevated
	// floor for every family.
	assert.Equal(t, 0.95, s.Threshold("credential_access"))
}
