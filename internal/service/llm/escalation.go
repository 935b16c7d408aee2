package llm

import (
	"sync"
	"time"

	"github.com/aegisops/aegis-soc-backend/internal/domain/routing"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

// Escalation to the reserve tier fires when a prior pass came back below
// this confidence on a severe alert.
const escalationConfidenceFloor = 0.6

// EscalationController gates access to the reserve tier. The budget is
// platform-wide, not per tenant: escalations compete for the same scarce
// reserve capacity regardless of who requests them. The window rolls over
// grant timestamps; an exhausted budget keeps the task on its
// already-selected tier rather than failing it.
type EscalationController struct {
	perHour int
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.Mutex
	window []time.Time // escalation grants in the last hour
}

// NewEscalationController creates the controller.
func NewEscalationController(cfg config.Limits, m *metrics.Metrics) *EscalationController {
	return &EscalationController{
		perHour: cfg.EscalationPerHour,
		metrics: m,
		now:     time.Now,
	}
}

// WithClock overrides the controller's clock. Test hook.
func (e *EscalationController) WithClock(now func() time.Time) *EscalationController {
	e.now = now
	return e
}

// ShouldEscalate reports whether the task qualifies for the reserve tier:
// a previous pass under the confidence floor on a critical or high alert.
func (e *EscalationController) ShouldEscalate(task *routing.TaskContext) bool {
	if task.PreviousConfidence == nil {
		return false
	}
	if *task.PreviousConfidence >= escalationConfidenceFloor {
		return false
	}
	return task.Severity == "critical" || task.Severity == "high"
}

// Consume charges one escalation against the rolling hourly budget and
// reports whether it was granted.
func (e *EscalationController) Consume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.window = pruneWindow(e.window, now)

	if len(e.window) >= e.perHour {
		return false
	}
	e.window = append(e.window, now)
	if e.metrics != nil {
		e.metrics.Escalations.Inc()
	}
	return true
}

// EscalationTier is where qualifying tasks land.
func (e *EscalationController) EscalationTier() routing.Tier {
	return routing.Tier1Plus
}
