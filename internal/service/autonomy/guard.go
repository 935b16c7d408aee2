package autonomy

import (
	"context"

	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/domain/safety"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

// AuditEmitter publishes audit events. The Kafka audit publisher implements
// it; tests capture events in memory.
type AuditEmitter interface {
	Emit(ctx context.Context, event *audit.Event) error
}

// Guard is the autonomy guard: when a rule family's review metrics miss the
// precision or FNR target, it raises that family's auto-close confidence
// threshold and emits an autonomy.reduced audit event.
type Guard struct {
	cfg     config.Autonomy
	emitter AuditEmitter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewGuard creates the guard.
func NewGuard(cfg config.Autonomy, emitter AuditEmitter, m *metrics.Metrics, logger *zap.Logger) *Guard {
	return &Guard{
		cfg:     cfg,
		emitter: emitter,
		metrics: m,
		logger:  logger.Named("autonomy_guard"),
	}
}

// ShouldReduceAutonomy reports whether the family missed either target.
func (g *Guard) ShouldReduceAutonomy(eval *safety.FPEvaluationResult) bool {
	return eval.Precision() < g.cfg.PrecisionTarget || eval.FNRate() > g.cfg.FNRTarget
}

// AdjustedThreshold raises the auto-close threshold one step per missed
// target, capped. Returns current unchanged when both targets are met.
func (g *Guard) AdjustedThreshold(current float64, eval *safety.FPEvaluationResult) float64 {
	adjusted := current
	if eval.Precision() < g.cfg.PrecisionTarget {
		adjusted += g.cfg.ThresholdStep
	}
	if eval.FNRate() > g.cfg.FNRTarget {
		adjusted += g.cfg.ThresholdStep
	}
	if adjusted > g.cfg.ThresholdCap {
		adjusted = g.cfg.ThresholdCap
	}
	return adjusted
}

// Apply evaluates one family and, when it trips, emits the reduction event
// and returns the raised threshold. The returned bool reports whether
// autonomy was reduced.
func (g *Guard) Apply(ctx context.Context, tenantID string, current float64, eval *safety.FPEvaluationResult) (float64, bool) {
	if !g.ShouldReduceAutonomy(eval) {
		return current, false
	}

	adjusted := g.AdjustedThreshold(current, eval)
	if g.metrics != nil {
		g.metrics.AutonomyReductions.WithLabelValues(eval.RuleFamily).Inc()
	}
	g.logger.Warn("autonomy reduced",
		zap.String("tenant_id", tenantID),
		zap.String("rule_family", eval.RuleFamily),
		zap.Float64("precision", eval.Precision()),
		zap.Float64("fnr", eval.FNRate()),
		zap.Float64("threshold", adjusted))

	if g.emitter != nil {
		event := &audit.Event{
			TenantID:  tenantID,
			EventType: audit.EventAutonomyReduced,
			Severity:  audit.SeverityWarning,
			ActorType: audit.ActorSystem,
			ActorID:   "autonomy-guard",
			Context: map[string]interface{}{
				"rule_family":        eval.RuleFamily,
				"precision":          eval.Precision(),
				"fnr":                eval.FNRate(),
				"adjusted_threshold": adjusted,
			},
		}
		if err := g.emitter.Emit(ctx, event); err != nil {
			g.logger.Warn("failed to emit autonomy reduction event", zap.Error(err))
		}
	}
	return adjusted, true
}
