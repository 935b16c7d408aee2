package autonomy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/safety"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/cache"
)

// ClosureSource is the persistence surface the review pipeline reads and
// stamps.
type ClosureSource interface {
	ListClosedSince(ctx context.Context, since time.Time) ([]*safety.Closure, error)
	ListEscalatedAlertIDs(ctx context.Context, since time.Time) (map[string]struct{}, error)
	MarkFNFlagged(ctx context.Context, closures []*safety.Closure) error
	MarkPendingReview(ctx context.Context, alertIDs []string) error
}

// DistributionSource supplies per-tenant alert histograms for drift.
type DistributionSource interface {
	Tenants(ctx context.Context, since time.Time) ([]string, error)
	Distributions(ctx context.Context, tenantID string, from, to time.Time) (*AlertDistributions, []string, error)
}

// ConfidenceCache receives refreshed pattern confidence after each
// evaluation pass.
type ConfidenceCache interface {
	Set(ctx context.Context, pattern *cache.FPPattern)
}

// reviewWindow is how far back closure review outcomes count toward the
// precision and FNR rollups.
const reviewWindow = 30 * 24 * time.Hour

// Scheduler drives the autonomy safety loop: the daily sampling, FN
// flagging, and guard pass, and the hourly canary and drift evaluation.
type Scheduler struct {
	closures ClosureSource
	dists    DistributionSource
	sampler  *Sampler
	detector *FNDetector
	guard    *Guard
	drift    *DriftDetector
	canary   *CanaryManager
	fpCache  ConfidenceCache
	adjuster *ThresholdAdjuster
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	thresholds map[string]float64 // rule family -> guard-adjusted auto-close threshold

	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewScheduler creates the loop. The adjuster supplies the drift-driven
// confidence floor every effective threshold composes with.
func NewScheduler(
	closures ClosureSource,
	dists DistributionSource,
	sampler *Sampler,
	detector *FNDetector,
	guard *Guard,
	drift *DriftDetector,
	canary *CanaryManager,
	fpCache ConfidenceCache,
	adjuster *ThresholdAdjuster,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		closures:   closures,
		dists:      dists,
		sampler:    sampler,
		detector:   detector,
		guard:      guard,
		drift:      drift,
		canary:     canary,
		fpCache:    fpCache,
		adjuster:   adjuster,
		logger:     logger.Named("autonomy"),
		now:        time.Now,
		thresholds: make(map[string]float64),
	}
}

// WithClock overrides the scheduler's clock. Test hook.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Threshold returns the effective auto-close threshold for a rule family:
// the guard-adjusted value with the drift-driven floor composed on top,
// whichever is stricter.
func (s *Scheduler) Threshold(family string) float64 {
	return s.adjuster.EffectiveFloor(s.familyThreshold(family))
}

// familyThreshold is the guard-adjusted threshold before the drift floor is
// applied. Guard input comes from here so a transient drift elevation does
// not ratchet into the persisted per-family state.
func (s *Scheduler) familyThreshold(family string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.thresholds[family]; ok {
		return t
	}
	return s.adjuster.cfg.NormalConfidenceFloor
}

// Start launches the hourly and daily loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(2)
	go s.loop(runCtx, time.Hour, func(c context.Context) { s.RunHourly(c) })
	go s.loop(runCtx, 24*time.Hour, func(c context.Context) { s.RunDaily(c) })

	s.logger.Info("autonomy scheduler started")
}

// Stop cancels the loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, run func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// RunDaily executes one pass of the review pipeline: flag suspected false
// negatives, queue the stratified sample for human review, roll up reviewed
// outcomes, and let the guard tighten thresholds where targets were missed.
func (s *Scheduler) RunDaily(ctx context.Context) {
	now := s.now().UTC()

	closures, err := s.closures.ListClosedSince(ctx, now.Add(-reviewWindow))
	if err != nil {
		s.logger.Error("failed to list closures", zap.Error(err))
		return
	}
	escalated, err := s.closures.ListEscalatedAlertIDs(ctx, now.Add(-reviewWindow))
	if err != nil {
		s.logger.Error("failed to list escalations", zap.Error(err))
		return
	}

	if flagged := s.detector.Flag(closures, escalated); len(flagged) > 0 {
		if err := s.closures.MarkFNFlagged(ctx, flagged); err != nil {
			s.logger.Error("failed to persist fn flags", zap.Error(err))
		}
	}

	// Only yesterday's closures enter today's sample; older ones already had
	// their chance.
	var fresh []*safety.Closure
	for _, c := range closures {
		if !c.ClosedAt.Before(now.Add(-24 * time.Hour)) {
			fresh = append(fresh, c)
		}
	}
	sampled := s.sampler.Sample(fresh)
	ids := make([]string, 0, len(sampled))
	for _, c := range sampled {
		ids = append(ids, c.AlertID)
	}
	if err := s.closures.MarkPendingReview(ctx, ids); err != nil {
		s.logger.Error("failed to queue review sample", zap.Error(err))
	}

	for family, eval := range Evaluate(closures, now) {
		current := s.familyThreshold(family)
		adjusted, reduced := s.guard.Apply(ctx, "platform", current, eval)
		if reduced {
			s.mu.Lock()
			s.thresholds[family] = adjusted
			s.mu.Unlock()
		}
	}

	s.refreshPatternConfidence(ctx, closures, now)

	s.logger.Info("daily autonomy pass complete",
		zap.Int("closures", len(closures)),
		zap.Int("fn_flagged", len(escalated)),
		zap.Int("sampled", len(ids)))
}

// refreshPatternConfidence pushes reviewed per-pattern FP rates into the
// cache the triage path consults for auto-close decisions.
func (s *Scheduler) refreshPatternConfidence(ctx context.Context, closures []*safety.Closure, now time.Time) {
	if s.fpCache == nil {
		return
	}

	type patternKey struct{ tenantID, patternID string }
	type patternStats struct{ total, fp int64 }

	stats := make(map[patternKey]*patternStats)
	for _, c := range closures {
		if c.ReviewOutcome == "" || c.PatternID == "" {
			continue
		}
		key := patternKey{c.TenantID, c.PatternID}
		st := stats[key]
		if st == nil {
			st = &patternStats{}
			stats[key] = st
		}
		st.total++
		if c.ReviewOutcome == OutcomeFalsePositive {
			st.fp++
		}
	}

	for key, st := range stats {
		s.fpCache.Set(ctx, &cache.FPPattern{
			PatternID:  key.patternID,
			TenantID:   key.tenantID,
			Confidence: float64(st.fp) / float64(st.total),
			Hits:       st.total,
			UpdatedAt:  now,
		})
	}
}

// RunHourly evaluates canary slices and recomputes drift per tenant. The
// baseline is the week before yesterday's window; the current window is the
// last 24 hours.
func (s *Scheduler) RunHourly(ctx context.Context) {
	now := s.now().UTC()

	if err := s.canary.Evaluate(ctx); err != nil {
		s.logger.Error("canary evaluation failed", zap.Error(err))
	}

	tenants, err := s.dists.Tenants(ctx, now.Add(-8*24*time.Hour))
	if err != nil {
		s.logger.Error("failed to list tenants for drift", zap.Error(err))
		return
	}

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return
		}
		baseline, _, err := s.dists.Distributions(ctx, tenantID,
			now.Add(-8*24*time.Hour), now.Add(-24*time.Hour))
		if err != nil {
			s.logger.Error("failed to load baseline distribution",
				zap.String("tenant_id", tenantID), zap.Error(err))
			continue
		}
		current, families, err := s.dists.Distributions(ctx, tenantID,
			now.Add(-24*time.Hour), now)
		if err != nil {
			s.logger.Error("failed to load current distribution",
				zap.String("tenant_id", tenantID), zap.Error(err))
			continue
		}
		s.drift.Compute(ctx, tenantID, baseline, current, families)
	}
}
