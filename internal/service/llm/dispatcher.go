package llm

import (
	"context"

	"go.uber.org/zap"

	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
	"github.com/aegisops/aegis-soc-backend/internal/domain/routing"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/llm"
)

// CompletionRequest is one end-to-end LLM task submission.
type CompletionRequest struct {
	Task       *routing.TaskContext
	Caps       routing.TaskCapabilities
	Priority   string
	TenantTier string
	System     string
	Prompt     string
}

// CompletionResult pairs the provider response with the routing decision
// that produced it, for audit emission.
type CompletionResult struct {
	Decision *routing.RoutingDecision
	Response *llm.Response
}

// Dispatcher runs the full admission and execution pipeline for one LLM
// call: tenant quota, priority limits, routing, breaker admission, provider
// invocation, breaker outcome recording. Admission failures are typed so
// callers can distinguish backpressure from hard failures.
type Dispatcher struct {
	router      *Router
	health      *HealthMonitor
	concurrency *ConcurrencyController
	quota       *TenantQuota
	providers   *llm.Registry
	logger      *zap.Logger
}

// NewDispatcher wires the pipeline.
func NewDispatcher(
	router *Router,
	health *HealthMonitor,
	concurrency *ConcurrencyController,
	quota *TenantQuota,
	providers *llm.Registry,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		router:      router,
		health:      health,
		concurrency: concurrency,
		quota:       quota,
		providers:   providers,
		logger:      logger.Named("dispatcher"),
	}
}

// Complete executes one task. Quota is charged before the limiter so a
// rejected tenant cannot occupy a concurrency slot.
func (d *Dispatcher) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	if err := d.quota.Consume(req.Task.TenantID, req.TenantTier); err != nil {
		return nil, err
	}

	release, err := d.concurrency.Acquire(req.Priority)
	if err != nil {
		return nil, err
	}
	defer release()

	decision, err := d.router.Route(req.Task, req.Caps)
	if err != nil {
		return nil, err
	}

	breaker := d.health.Breaker(decision.Model.Provider)
	if breaker == nil {
		return nil, domainerrors.NewInternalError("no breaker for provider " + string(decision.Model.Provider))
	}
	if !breaker.Allow() {
		return nil, domainerrors.NewExternalError(string(decision.Model.Provider),
			"provider circuit open")
	}

	provider, err := d.providers.Get(string(decision.Model.Provider))
	if err != nil {
		breaker.RecordFailure()
		return nil, err
	}

	response, err := provider.Complete(ctx, decision.Model.ModelID, &llm.Request{
		System:           req.System,
		Prompt:           req.Prompt,
		MaxTokens:        decision.MaxOutputTokens,
		Temperature:      decision.Temperature,
		ExtendedThinking: decision.UseExtendedThinking,
	})
	if err != nil {
		breaker.RecordFailure()
		d.logger.Warn("provider call failed",
			zap.String("provider", string(decision.Model.Provider)),
			zap.String("model", decision.Model.ModelID),
			zap.Error(err))
		return nil, err
	}
	breaker.RecordSuccess()

	return &CompletionResult{Decision: decision, Response: response}, nil
}

// Level exposes the current degradation level for callers that gate
// LLM-dependent work.
func (d *Dispatcher) Level() DegradationLevel {
	return d.health.Level()
}
