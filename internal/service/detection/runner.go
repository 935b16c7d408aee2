package detection

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/cache"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/events"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

// Alert is the canonical shape published to alerts.raw. The normalizer
// downstream keys off rule_id and the technique fields; raw confidence and
// evidence ride along untouched.
type Alert struct {
	AlertID         string                 `json:"alert_id"`
	TenantID        string                 `json:"tenant_id"`
	RuleID          string                 `json:"rule_id"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description,omitempty"`
	Severity        string                 `json:"severity"`
	Confidence      float64                `json:"confidence"`
	RawConfidence   float64                `json:"raw_confidence"`
	AtlasTechnique  string                 `json:"atlas_technique,omitempty"`
	AttackTechnique string                 `json:"attack_technique,omitempty"`
	EntityIDs       []string               `json:"entity_ids,omitempty"`
	Evidence        map[string]interface{} `json:"evidence,omitempty"`
	SafetyRelevant  bool                   `json:"safety_relevant"`
	DetectedAt      time.Time              `json:"detected_at"`
}

// SwitchChecker gates rule execution; the redis kill-switch store
// implements it.
type SwitchChecker interface {
	AnyActive(ctx context.Context, pairs ...[2]string) (bool, string)
}

// AuditEmitter is the fire-and-forget audit side channel.
type AuditEmitter interface {
	EmitAsync(event *audit.Event)
}

// Runner schedules registered rules and publishes triggered results. Rule
// failures never stop the loop; a broken rule logs and the rest keep
// running.
type Runner struct {
	registry  *Registry
	db        DB
	publisher events.Publisher
	switches  SwitchChecker
	emitter   AuditEmitter
	cfg       config.Detection
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	safetyRules map[string]struct{}

	mu      sync.Mutex
	lastRun map[string]time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRunner creates the runner. The safety-relevant rule set comes from
// configuration and is authoritative: downstream consumers must not clear
// the flag it stamps.
func NewRunner(
	registry *Registry,
	db DB,
	publisher events.Publisher,
	switches SwitchChecker,
	emitter AuditEmitter,
	cfg config.Detection,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Runner {
	safety := make(map[string]struct{}, len(cfg.SafetyRelevantRules))
	for _, id := range cfg.SafetyRelevantRules {
		safety[id] = struct{}{}
	}
	return &Runner{
		registry:    registry,
		db:          db,
		publisher:   publisher,
		switches:    switches,
		emitter:     emitter,
		cfg:         cfg,
		metrics:     m,
		logger:      logger.Named("detection"),
		now:         time.Now,
		safetyRules: safety,
		lastRun:     make(map[string]time.Time),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// WithClock overrides the runner's clock. Test hook.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Start launches the scheduling loop.
func (r *Runner) Start(ctx context.Context) {
	go func() {
		defer close(r.done)

		interval := r.cfg.TickInterval
		if interval <= 0 {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.RunDue(ctx)
			}
		}
	}()
}

// Stop shuts the loop down and waits for the in-flight pass to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// RunDue executes every rule whose schedule has elapsed. One pass; errors
// are logged per rule and never propagate.
func (r *Runner) RunDue(ctx context.Context) {
	now := r.now().UTC()

	for _, rule := range r.registry.Rules() {
		if ctx.Err() != nil {
			return
		}
		if !r.due(rule, now) {
			continue
		}
		r.markRun(rule.RuleID(), now)
		r.runRule(ctx, rule, now)
	}
}

func (r *Runner) due(rule Rule, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.lastRun[rule.RuleID()]
	return !ok || now.Sub(last) >= rule.Frequency()
}

func (r *Runner) markRun(ruleID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRun[ruleID] = now
}

func (r *Runner) runRule(ctx context.Context, rule Rule, now time.Time) {
	ruleID := rule.RuleID()

	if r.switches != nil {
		if active, dimension := r.switches.AnyActive(ctx,
			[2]string{cache.KillSwitchDetectionRule, ruleID}); active {
			r.logger.Warn("detection rule suppressed by kill switch",
				zap.String("rule_id", ruleID),
				zap.String("dimension", dimension))
			return
		}
	}

	results, err := rule.Evaluate(ctx, r.db, now)
	if err != nil {
		if r.metrics != nil {
			r.metrics.DetectionErrors.WithLabelValues(ruleID).Inc()
		}
		r.logger.Error("detection rule evaluation failed",
			zap.String("rule_id", ruleID),
			zap.Error(err))
		return
	}

	for _, result := range results {
		result.RuleID = ruleID
		r.fire(ctx, result)
	}
}

// fire stamps the safety flag, enforces the confidence floor, and publishes
// the alert. The floor is re-applied here so no upstream adjustment, trust
// downgrade included, can push a safety-relevant detection under the
// threshold.
func (r *Runner) fire(ctx context.Context, result *Result) {
	if _, ok := r.safetyRules[result.RuleID]; ok {
		result.SafetyRelevant = true
	}

	alert := &Alert{
		AlertID:         uuid.New().String(),
		TenantID:        result.TenantID,
		RuleID:          result.RuleID,
		Title:           result.Title,
		Description:     result.Description,
		Severity:        result.Severity,
		Confidence:      result.Confidence,
		RawConfidence:   result.Confidence,
		AtlasTechnique:  result.AtlasTechnique,
		AttackTechnique: result.AttackTechnique,
		EntityIDs:       result.EntityIDs,
		Evidence:        result.Evidence,
		SafetyRelevant:  result.SafetyRelevant,
		DetectedAt:      result.DetectedAt,
	}
	if alert.DetectedAt.IsZero() {
		alert.DetectedAt = r.now().UTC()
	}
	if alert.SafetyRelevant && alert.Confidence < r.cfg.SafetyFloor {
		alert.Confidence = r.cfg.SafetyFloor
	}

	value, err := json.Marshal(alert)
	if err != nil {
		r.logger.Error("failed to serialize alert",
			zap.String("rule_id", alert.RuleID),
			zap.Error(err))
		return
	}

	if err := r.publisher.Publish(ctx, events.AlertsRaw.Name, []byte(alert.TenantID), value); err != nil {
		// Publish failure must not fail the detection pass.
		r.logger.Error("failed to publish alert",
			zap.String("rule_id", alert.RuleID),
			zap.String("tenant_id", alert.TenantID),
			zap.Error(err))
		return
	}

	if r.metrics != nil {
		r.metrics.DetectionsFired.WithLabelValues(alert.RuleID).Inc()
	}

	if r.emitter != nil {
		r.emitter.EmitAsync(&audit.Event{
			TenantID:  alert.TenantID,
			EventType: audit.EventDetectionFired,
			Severity:  audit.SeverityInfo,
			ActorType: audit.ActorSystem,
			ActorID:   "detection-runner",
			AlertID:   alert.AlertID,
			EntityIDs: alert.EntityIDs,
			Context: map[string]interface{}{
				"rule_id":          alert.RuleID,
				"confidence":       alert.Confidence,
				"safety_relevant":  alert.SafetyRelevant,
				"atlas_technique":  alert.AtlasTechnique,
				"attack_technique": alert.AttackTechnique,
			},
		})
	}
}
