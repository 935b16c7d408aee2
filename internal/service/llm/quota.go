package llm

import (
	"sync"
	"time"

	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

// TenantQuota enforces per-tenant hourly LLM request caps by tenant tier.
// The window slides over request timestamps; crossing a clock-hour boundary
// never refills the budget.
type TenantQuota struct {
	caps    map[string]int // tenant tier -> hourly cap
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time // tenant id -> request times in the last hour
}

// NewTenantQuota creates the quota tracker from the tier cap table.
func NewTenantQuota(cfg config.Limits, m *metrics.Metrics) *TenantQuota {
	return &TenantQuota{
		caps:    cfg.TenantQuotas,
		metrics: m,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
}

// WithClock overrides the quota clock. Test hook.
func (q *TenantQuota) WithClock(now func() time.Time) *TenantQuota {
	q.now = now
	return q
}

// Consume charges one request against the tenant's hourly budget, or
// returns a QuotaExceededError carrying the usage snapshot. Unknown tenant
// tiers are rejected rather than given unlimited budget.
func (q *TenantQuota) Consume(tenantID, tenantTier string) error {
	limit, ok := q.caps[tenantTier]
	if !ok {
		return domainerrors.NewValidationError("UNKNOWN_TENANT_TIER",
			"unknown tenant tier: "+tenantTier)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	window := pruneWindow(q.windows[tenantID], now)

	if len(window) >= limit {
		q.windows[tenantID] = window
		if q.metrics != nil {
			q.metrics.QuotaExceeded.WithLabelValues(tenantTier).Inc()
		}
		return domainerrors.NewQuotaExceededError(tenantID, tenantTier, len(window), limit)
	}

	q.windows[tenantID] = append(window, now)
	return nil
}

// Used returns the tenant's consumption in the trailing hour.
func (q *TenantQuota) Used(tenantID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	window := pruneWindow(q.windows[tenantID], q.now())
	q.windows[tenantID] = window
	return len(window)
}

// pruneWindow drops entries older than one hour.
func pruneWindow(window []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-time.Hour)
	keep := 0
	for _, t := range window {
		if t.After(cutoff) {
			window[keep] = t
			keep++
		}
	}
	return window[:keep]
}
