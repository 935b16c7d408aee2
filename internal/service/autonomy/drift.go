package autonomy

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/domain/safety"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

// SamplingAdjuster receives drift transitions; the sampler implements it.
type SamplingAdjuster interface {
	OnDriftDetected(families []string)
	OnDriftRestored(families []string)
}

// normalize converts a count distribution over keys into probabilities.
// A zero-sum input gets a one-added denominator rather than dividing by
// zero, yielding the all-zero distribution.
func normalize(counts map[string]int, keys []string) []float64 {
	sum := 0
	for _, k := range keys {
		sum += counts[k]
	}
	if sum == 0 {
		sum = 1
	}
	out := make([]float64, len(keys))
	for i, k := range keys {
		out[i] = float64(counts[k]) / float64(sum)
	}
	return out
}

func sumCounts(counts map[string]int) int {
	sum := 0
	for _, n := range counts {
		sum += n
	}
	return sum
}

// unionKeys returns the sorted-stable union of both distributions' keys.
func unionKeys(a, b map[string]int) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var keys []string
	for k := range a {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for k := range b {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// JSDivergence computes the Jensen-Shannon divergence between two count
// distributions with base-2 logarithms, bounded [0,1]. Zero terms are
// skipped, matching the convention 0·log(0) = 0. A window that went empty
// while the other did not reads as maximal divergence, the same as
// disjoint support.
func JSDivergence(baseline, current map[string]int) float64 {
	keys := unionKeys(baseline, current)
	if len(keys) == 0 {
		return 0
	}
	baseSum, curSum := sumCounts(baseline), sumCounts(current)
	if baseSum == 0 && curSum == 0 {
		return 0
	}
	if baseSum == 0 || curSum == 0 {
		return 1
	}
	p := normalize(baseline, keys)
	q := normalize(current, keys)

	kl := func(a, b []float64) float64 {
		var d float64
		for i := range a {
			if a[i] == 0 || b[i] == 0 {
				continue
			}
			d += a[i] * math.Log2(a[i]/b[i])
		}
		return d
	}

	m := make([]float64, len(keys))
	for i := range keys {
		m[i] = (p[i] + q[i]) / 2
	}
	return kl(p, m)/2 + kl(q, m)/2
}

// AlertDistributions are the three monitored count distributions for one
// observation window.
type AlertDistributions struct {
	Sources    map[string]int
	Techniques map[string]int
	Entities   map[string]int
}

// DriftDetector compares a current alert window against a baseline and
// drives the threshold adjuster and sampling multipliers on transitions.
type DriftDetector struct {
	cfg     config.Drift
	sampler SamplingAdjuster
	emitter AuditEmitter
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	last *safety.DriftState
}

// NewDriftDetector creates the detector.
func NewDriftDetector(cfg config.Drift, sampler SamplingAdjuster, emitter AuditEmitter, m *metrics.Metrics, logger *zap.Logger) *DriftDetector {
	return &DriftDetector{
		cfg:     cfg,
		sampler: sampler,
		emitter: emitter,
		metrics: m,
		logger:  logger.Named("drift"),
		now:     time.Now,
	}
}

// Compute measures drift between the windows and handles state
// transitions. driftedFamilies names the rule families whose sampling is
// doubled while the threshold stays exceeded.
func (d *DriftDetector) Compute(ctx context.Context, tenantID string, baseline, current *AlertDistributions, driftedFamilies []string) *safety.DriftState {
	state := &safety.DriftState{
		SourceDrift:    JSDivergence(baseline.Sources, current.Sources),
		TechniqueDrift: JSDivergence(baseline.Techniques, current.Techniques),
		EntityDrift:    JSDivergence(baseline.Entities, current.Entities),
		ComputedAt:     d.now().UTC(),
	}
	state.OverallDrift = d.cfg.SourceWeight*state.SourceDrift +
		d.cfg.TechniqueWeight*state.TechniqueDrift +
		d.cfg.EntityWeight*state.EntityDrift
	state.ThresholdExceeded = state.OverallDrift > d.cfg.Threshold

	if d.metrics != nil {
		d.metrics.DriftOverall.Set(state.OverallDrift)
	}

	wasExceeded := d.last != nil && d.last.ThresholdExceeded
	switch {
	case state.ThresholdExceeded && !wasExceeded:
		d.onDetected(ctx, tenantID, state, driftedFamilies)
	case !state.ThresholdExceeded && wasExceeded:
		d.onRestored(ctx, tenantID, driftedFamilies)
	}

	d.last = state
	return state
}

// Last returns the most recent drift state, or nil before the first run.
func (d *DriftDetector) Last() *safety.DriftState {
	return d.last
}

func (d *DriftDetector) onDetected(ctx context.Context, tenantID string, state *safety.DriftState, families []string) {
	d.logger.Warn("alert distribution drift detected",
		zap.String("tenant_id", tenantID),
		zap.Float64("overall", state.OverallDrift))
	if d.sampler != nil {
		d.sampler.OnDriftDetected(families)
	}
	d.emit(ctx, tenantID, audit.EventDriftDetected, map[string]interface{}{
		"overall_drift":   state.OverallDrift,
		"source_drift":    state.SourceDrift,
		"technique_drift": state.TechniqueDrift,
		"entity_drift":    state.EntityDrift,
	})
}

func (d *DriftDetector) onRestored(ctx context.Context, tenantID string, families []string) {
	d.logger.Info("alert distribution drift restored",
		zap.String("tenant_id", tenantID))
	if d.sampler != nil {
		d.sampler.OnDriftRestored(families)
	}
	d.emit(ctx, tenantID, audit.EventDriftRestored, nil)
}

func (d *DriftDetector) emit(ctx context.Context, tenantID string, eventType audit.EventType, eventCtx map[string]interface{}) {
	if d.emitter == nil {
		return
	}
	err := d.emitter.Emit(ctx, &audit.Event{
		TenantID:  tenantID,
		EventType: eventType,
		Severity:  audit.SeverityWarning,
		ActorType: audit.ActorSystem,
		ActorID:   "drift-detector",
		Context:   eventCtx,
	})
	if err != nil {
		d.logger.Warn("failed to emit drift event", zap.Error(err))
	}
}
