package autonomy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/domain/safety"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/cache"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

// Canary decisions.
const (
	DecisionPromote  = "promote"
	DecisionRollback = "rollback"
	DecisionContinue = "continue"
)

// CanaryRepository persists rollout slices.
type CanaryRepository interface {
	ListActive(ctx context.Context) ([]*safety.CanarySlice, error)
	Update(ctx context.Context, slice *safety.CanarySlice) error
}

// SliceStats supplies review metrics for a slice; the FP evaluation
// framework backs it.
type SliceStats interface {
	// StatsFor returns the slice's precision and missed true-positive count
	// over the observation window.
	StatsFor(ctx context.Context, dimension safety.CanaryDimension, value string) (precision float64, missedTPs int, err error)
}

// KillSwitchActivator is what rollback uses to stop the blast radius; the
// Redis kill-switch store implements it.
type KillSwitchActivator interface {
	Activate(ctx context.Context, dimension, value, reason, actor string) error
}

// CanaryManager advances expanded-autonomy rollout slices. Rollback is
// always checked before promotion: any missed true positive kills the
// slice no matter how old or precise it is.
type CanaryManager struct {
	repo       CanaryRepository
	stats      SliceStats
	killswitch KillSwitchActivator
	emitter    AuditEmitter
	metrics    *metrics.Metrics
	cfg        config.Canary
	logger     *zap.Logger
	now        func() time.Time
}

// NewCanaryManager creates the manager.
func NewCanaryManager(
	repo CanaryRepository,
	stats SliceStats,
	killswitch KillSwitchActivator,
	emitter AuditEmitter,
	m *metrics.Metrics,
	cfg config.Canary,
	logger *zap.Logger,
) *CanaryManager {
	return &CanaryManager{
		repo:       repo,
		stats:      stats,
		killswitch: killswitch,
		emitter:    emitter,
		metrics:    m,
		cfg:        cfg,
		logger:     logger.Named("canary"),
		now:        time.Now,
	}
}

// WithClock overrides the manager's clock. Test hook.
func (m *CanaryManager) WithClock(now func() time.Time) *CanaryManager {
	m.now = now
	return m
}

// CheckPromotion decides one slice's fate. Order matters: rollback
// conditions are evaluated before the promotion gate.
func (m *CanaryManager) CheckPromotion(slice *safety.CanarySlice, precision float64, missedTPs int) string {
	if missedTPs > 0 {
		return DecisionRollback
	}
	if precision < m.cfg.RollbackPrecision {
		return DecisionRollback
	}
	if slice.AgeDays(m.now()) >= float64(m.cfg.PromotionDays) &&
		precision >= m.cfg.MinPrecision && missedTPs == 0 {
		return DecisionPromote
	}
	return DecisionContinue
}

// Evaluate runs one pass over all active slices.
func (m *CanaryManager) Evaluate(ctx context.Context) error {
	slices, err := m.repo.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, slice := range slices {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		precision, missedTPs, err := m.stats.StatsFor(ctx, slice.Dimension, slice.Value)
		if err != nil {
			m.logger.Error("failed to fetch slice stats",
				zap.String("dimension", string(slice.Dimension)),
				zap.String("value", slice.Value),
				zap.Error(err))
			continue
		}

		decision := m.CheckPromotion(slice, precision, missedTPs)
		if m.metrics != nil {
			m.metrics.CanaryDecisions.WithLabelValues(string(slice.Dimension), decision).Inc()
		}

		switch decision {
		case DecisionPromote:
			err = m.Promote(ctx, slice)
		case DecisionRollback:
			err = m.Rollback(ctx, slice, precision, missedTPs)
		default:
			continue
		}
		if err != nil {
			m.logger.Error("canary decision failed",
				zap.String("value", slice.Value),
				zap.String("decision", decision),
				zap.Error(err))
		}
	}
	return nil
}

// Promote marks the slice promoted and emits canary.promoted.
func (m *CanaryManager) Promote(ctx context.Context, slice *safety.CanarySlice) error {
	now := m.now().UTC()
	slice.Status = safety.CanaryPromoted
	slice.PromotedAt = &now
	if err := m.repo.Update(ctx, slice); err != nil {
		return err
	}

	m.logger.Info("canary slice promoted",
		zap.String("dimension", string(slice.Dimension)),
		zap.String("value", slice.Value))
	m.emit(ctx, slice, audit.EventCanaryPromoted, nil)
	return nil
}

// Rollback marks the slice rolled back, emits canary.rolled_back, and
// activates the mapped kill-switch so autonomous action stops immediately.
func (m *CanaryManager) Rollback(ctx context.Context, slice *safety.CanarySlice, precision float64, missedTPs int) error {
	now := m.now().UTC()
	slice.Status = safety.CanaryRolledBack
	slice.RolledBackAt = &now
	if err := m.repo.Update(ctx, slice); err != nil {
		return err
	}

	reason := fmt.Sprintf("canary rollback: precision=%.4f missed_tps=%d", precision, missedTPs)
	if err := m.killswitch.Activate(ctx, killSwitchDimension(slice.Dimension), slice.Value, reason, "canary-manager"); err != nil {
		// Failing to raise the switch after a rollback is an operator page,
		// not a silent log line.
		m.logger.Error("kill switch activation failed after rollback",
			zap.String("value", slice.Value), zap.Error(err))
	}

	m.logger.Warn("canary slice rolled back",
		zap.String("dimension", string(slice.Dimension)),
		zap.String("value", slice.Value),
		zap.Float64("precision", precision),
		zap.Int("missed_tps", missedTPs))
	m.emit(ctx, slice, audit.EventCanaryRolledBack, map[string]interface{}{
		"precision":  precision,
		"missed_tps": missedTPs,
	})
	return nil
}

// killSwitchDimension maps a canary dimension onto the kill-switch keyspace.
func killSwitchDimension(d safety.CanaryDimension) string {
	switch d {
	case safety.DimensionTenant, safety.DimensionSeverity:
		return cache.KillSwitchTenant
	case safety.DimensionRuleFamily:
		return cache.KillSwitchPattern
	case safety.DimensionDatasource:
		return cache.KillSwitchDatasource
	default:
		return cache.KillSwitchGlobal
	}
}

func (m *CanaryManager) emit(ctx context.Context, slice *safety.CanarySlice, eventType audit.EventType, extra map[string]interface{}) {
	if m.emitter == nil {
		return
	}

	eventCtx := map[string]interface{}{
		"dimension": string(slice.Dimension),
		"value":     slice.Value,
	}
	for k, v := range extra {
		eventCtx[k] = v
	}

	tenantID := "platform"
	if slice.Dimension == safety.DimensionTenant {
		tenantID = slice.Value
	}

	err := m.emitter.Emit(ctx, &audit.Event{
		TenantID:  tenantID,
		EventType: eventType,
		Severity:  audit.SeverityWarning,
		ActorType: audit.ActorSystem,
		ActorID:   "canary-manager",
		Context:   eventCtx,
	})
	if err != nil {
		m.logger.Warn("failed to emit canary event", zap.Error(err))
	}
}
