package llm

import (
	"strings"

	"go.uber.org/zap"

	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
	"github.com/aegisops/aegis-soc-backend/internal/domain/routing"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

// Routing thresholds.
const (
	// Time budgets under this force the fastest tier.
	tightTimeBudgetSeconds = 3.0
	// Prompts above this are upgraded off the cheapest tier.
	largeContextTokens = 100_000
)

// Router places reasoning tasks on model tiers. Selection starts from the
// static task table and applies the override chain in a fixed order; each
// step that fires appends to the decision's reason trail so any placement
// can be reconstructed from the audit record.
type Router struct {
	cfg        config.Routing
	tiers      map[routing.Tier]routing.ModelConfig
	health     *HealthMonitor
	escalation *EscalationController
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewRouter creates the router from the tier and task tables.
func NewRouter(cfg config.Routing, health *HealthMonitor, escalation *EscalationController, m *metrics.Metrics, logger *zap.Logger) *Router {
	tiers := make(map[routing.Tier]routing.ModelConfig, len(cfg.Tiers))
	for name, tm := range cfg.Tiers {
		tiers[routing.Tier(name)] = toModelConfig(tm)
	}
	return &Router{
		cfg:        cfg,
		tiers:      tiers,
		health:     health,
		escalation: escalation,
		metrics:    m,
		logger:     logger.Named("router"),
	}
}

// Route selects tier and model for one task.
func (r *Router) Route(task *routing.TaskContext, caps routing.TaskCapabilities) (*routing.RoutingDecision, error) {
	tierName, ok := r.cfg.TaskTiers[task.Task]
	if !ok {
		return nil, domainerrors.NewValidationError("UNKNOWN_TASK", "unknown task type: "+task.Task)
	}
	tier := routing.Tier(tierName)
	reasons := []string{"task_table"}

	tier, reasons, escalated := r.applyOverrides(task, tier, reasons)

	if escalated {
		// The reserve tier's capability set is a superset of everything
		// below it; the guard still runs to catch misconfiguration.
		caps.RequiresExtendedReasoning = true
	}

	tier, model, err := r.selectCapableModel(tier, task, caps)
	if err != nil {
		return nil, err
	}

	decision := &routing.RoutingDecision{
		Tier:                tier,
		Model:               model,
		MaxOutputTokens:     model.MaxOutputTokens,
		UseExtendedThinking: escalated || (caps.RequiresExtendedReasoning && model.SupportsExtendedReasoning),
		UsePromptCaching:    model.SupportsPromptCaching,
	}
	if !caps.RequiresReliableJSON {
		decision.Temperature = 0.2
	}

	if err := r.applyFailover(decision, &reasons); err != nil {
		return nil, err
	}

	decision.Reason = strings.Join(reasons, ",")
	if r.metrics != nil {
		r.metrics.RoutingDecisions.WithLabelValues(task.Task, string(decision.Tier)).Inc()
	}
	r.logger.Debug("routing decision",
		zap.String("task", task.Task),
		zap.String("tier", string(decision.Tier)),
		zap.String("model", decision.Model.ModelID),
		zap.String("reason", decision.Reason))
	return decision, nil
}

// applyOverrides runs the fixed override chain and returns the adjusted
// tier, the reason trail, and whether the escalation override fired.
func (r *Router) applyOverrides(task *routing.TaskContext, tier routing.Tier, reasons []string) (routing.Tier, []string, bool) {
	timeBudgetFired := false
	if task.TimeBudgetSeconds > 0 && task.TimeBudgetSeconds < tightTimeBudgetSeconds {
		tier = routing.Tier0
		reasons = append(reasons, "time_budget")
		timeBudgetFired = true
	}

	// Severity raise defers to a tight time budget: answering late on a
	// critical alert is worse than answering with the fast tier.
	if !timeBudgetFired && task.Severity == "critical" && task.RequiresReasoning {
		if raised := routing.MaxTier(tier, routing.Tier1); raised != tier {
			tier = raised
			reasons = append(reasons, "critical_reasoning")
		}
	}

	if tier == routing.Tier0 && task.ContextTokens > largeContextTokens {
		tier = routing.Tier1
		reasons = append(reasons, "large_context")
	}

	if r.escalation != nil && r.escalation.ShouldEscalate(task) {
		if r.escalation.Consume() {
			tier = r.escalation.EscalationTier()
			reasons = append(reasons, "low_confidence_escalation")
			return tier, reasons, true
		}
		reasons = append(reasons, "escalation_budget_exhausted")
	}
	return tier, reasons, false
}

// selectCapableModel resolves the tier's model and walks up the ladder when
// the model cannot satisfy the task's capability requirement or context
// size. Off-ladder tiers have nowhere to walk.
func (r *Router) selectCapableModel(tier routing.Tier, task *routing.TaskContext, caps routing.TaskCapabilities) (routing.Tier, routing.ModelConfig, error) {
	candidate := tier
	for {
		model, ok := r.tiers[candidate]
		if ok && caps.Satisfies(model) && model.MaxContextTokens >= task.ContextTokens {
			return candidate, model, nil
		}

		if !candidate.OnLadder() || candidate == routing.Tier1Plus {
			return "", routing.ModelConfig{}, domainerrors.NewBusinessError("NO_CAPABLE_MODEL",
				"no model satisfies the task requirements for task "+task.Task)
		}
		switch candidate {
		case routing.Tier0:
			candidate = routing.Tier1
		case routing.Tier1:
			candidate = routing.Tier1Plus
		}
	}
}

// applyFailover swaps in the fallback provider when the selected model's
// primary is refusing traffic.
func (r *Router) applyFailover(decision *routing.RoutingDecision, reasons *[]string) error {
	if r.health == nil || r.health.Available(decision.Model.Provider) {
		return nil
	}

	model := decision.Model
	if model.FallbackProvider == "" || !r.health.Available(model.FallbackProvider) {
		return domainerrors.NewExternalError(string(model.Provider),
			"provider unavailable and no healthy fallback")
	}

	decision.FailedOver = true
	decision.FailoverProvider = model.FallbackProvider
	decision.Model.Provider = model.FallbackProvider
	decision.Model.ModelID = model.FallbackModelID
	*reasons = append(*reasons, "provider_failover")

	if r.metrics != nil {
		r.metrics.RoutingFailovers.WithLabelValues(string(model.FallbackProvider)).Inc()
	}
	return nil
}

func toModelConfig(tm config.TierModel) routing.ModelConfig {
	return routing.ModelConfig{
		Provider:                  routing.Provider(tm.Provider),
		ModelID:                   tm.ModelID,
		MaxContextTokens:          tm.MaxContextTokens,
		MaxOutputTokens:           tm.MaxOutputTokens,
		InputCostPerMTok:          tm.InputCostPerMTok,
		OutputCostPerMTok:         tm.OutputCostPerMTok,
		SupportsToolUse:           tm.ToolUse,
		SupportsExtendedReasoning: tm.ExtendedReasoning,
		SupportsPromptCaching:     tm.PromptCaching,
		BatchEligible:             tm.BatchEligible,
		ReliableJSON:              tm.ReliableJSON,
		FallbackProvider:          routing.Provider(tm.FallbackProvider),
		FallbackModelID:           tm.FallbackModelID,
	}
}
