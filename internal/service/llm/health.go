package llm

import (
	"sync"

	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/routing"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

// Degradation levels, in order of decreasing capability.
type DegradationLevel int

const (
	// FullCapability: the primary provider is serving.
	FullCapability DegradationLevel = iota
	// SecondaryActive: the primary is down, fallback provider serving.
	SecondaryActive
	// DeterministicOnly: no provider available. LLM-dependent work queues
	// or falls back to rule-based handling; nothing is silently dropped.
	DeterministicOnly
)

func (l DegradationLevel) String() string {
	switch l {
	case FullCapability:
		return "full_capability"
	case SecondaryActive:
		return "secondary_active"
	default:
		return "deterministic_only"
	}
}

// HealthMonitor tracks per-provider circuit breakers and derives the
// platform degradation level. The primary provider defines levels 0 and 1;
// level 2 means every registered provider is refusing traffic.
type HealthMonitor struct {
	primary string
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewHealthMonitor creates the monitor with one breaker per provider name.
func NewHealthMonitor(primary string, providers []string, cfg config.Breaker, m *metrics.Metrics, logger *zap.Logger) *HealthMonitor {
	h := &HealthMonitor{
		primary:  primary,
		metrics:  m,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker, len(providers)),
	}
	for _, p := range providers {
		h.breakers[p] = NewCircuitBreaker(p, cfg, m, logger)
	}
	return h
}

// Breaker returns the provider's breaker, creating none; unknown providers
// are always unavailable.
func (h *HealthMonitor) Breaker(provider routing.Provider) *CircuitBreaker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.breakers[string(provider)]
}

// Available reports whether the provider admits traffic right now.
func (h *HealthMonitor) Available(provider routing.Provider) bool {
	b := h.Breaker(provider)
	if b == nil {
		return false
	}
	return b.State() != StateOpen
}

// Level derives the current degradation level and publishes the gauge.
func (h *HealthMonitor) Level() DegradationLevel {
	h.mu.RLock()
	defer h.mu.RUnlock()

	anyAvailable := false
	for _, b := range h.breakers {
		if b.State() != StateOpen {
			anyAvailable = true
			break
		}
	}

	level := FullCapability
	switch {
	case !anyAvailable:
		level = DeterministicOnly
	case h.breakers[h.primary] != nil && h.breakers[h.primary].State() == StateOpen:
		level = SecondaryActive
	}

	if h.metrics != nil {
		h.metrics.DegradationLevel.Set(float64(level))
	}
	return level
}
