package llm

import (
	"sync"
	"time"

	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

// Denial reasons for the acquire-denied counter.
const (
	denyConcurrency = "concurrency"
	denyRPM         = "rpm"
	denyPriority    = "unknown_priority"
)

// prioritySlot tracks one priority band's in-flight count and its sliding
// one-minute request window.
type prioritySlot struct {
	limit  config.PriorityLimit
	active int
	starts []time.Time // request start times within the last minute
}

// ConcurrencyController enforces the per-priority concurrency and
// requests-per-minute table. Limits are per priority band, not global:
// saturating low must never starve critical. RPM uses a true sliding
// window over request start times.
type ConcurrencyController struct {
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	slots map[string]*prioritySlot
}

// NewConcurrencyController creates the controller from the limits table.
func NewConcurrencyController(cfg config.Limits, m *metrics.Metrics) *ConcurrencyController {
	slots := make(map[string]*prioritySlot, len(cfg.Priorities))
	for priority, limit := range cfg.Priorities {
		slots[priority] = &prioritySlot{limit: limit}
	}
	return &ConcurrencyController{
		metrics: m,
		now:     time.Now,
		slots:   slots,
	}
}

// WithClock overrides the controller's clock. Test hook.
func (c *ConcurrencyController) WithClock(now func() time.Time) *ConcurrencyController {
	c.now = now
	return c
}

// Acquire admits one request in the priority band or returns a typed
// business error. On success the returned release func MUST be called when
// the request finishes; it is safe to call more than once.
func (c *ConcurrencyController) Acquire(priority string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.slots[priority]
	if !ok {
		c.deny(priority, denyPriority)
		return nil, domainerrors.NewValidationError("UNKNOWN_PRIORITY", "unknown priority: "+priority)
	}

	now := c.now()
	slot.prune(now)

	if slot.active >= slot.limit.MaxConcurrent {
		c.deny(priority, denyConcurrency)
		return nil, domainerrors.NewBusinessError("CONCURRENCY_LIMIT",
			"concurrency limit reached for priority "+priority)
	}
	if len(slot.starts) >= slot.limit.MaxRPM {
		c.deny(priority, denyRPM)
		return nil, domainerrors.NewBusinessError("RPM_LIMIT",
			"request rate limit reached for priority "+priority)
	}

	slot.active++
	slot.starts = append(slot.starts, now)

	var once sync.Once
	release := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			slot.active--
		})
	}
	return release, nil
}

// Active returns the in-flight count for a priority band.
func (c *ConcurrencyController) Active(priority string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot, ok := c.slots[priority]; ok {
		return slot.active
	}
	return 0
}

func (c *ConcurrencyController) deny(priority, reason string) {
	if c.metrics != nil {
		c.metrics.AcquireDenied.WithLabelValues(priority, reason).Inc()
	}
}

// prune drops window entries older than one minute.
func (s *prioritySlot) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	keep := 0
	for _, t := range s.starts {
		if t.After(cutoff) {
			s.starts[keep] = t
			keep++
		}
	}
	s.starts = s.starts[:keep]
}
