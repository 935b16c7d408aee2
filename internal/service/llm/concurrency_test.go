package llm

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

func newTestController(t *testing.T) (*ConcurrencyController, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
	c := NewConcurrencyController(config.Defaults().Limits,
		metrics.New(prometheus.NewRegistry())).WithClock(clock.Now)
	return c, clock
}

func TestConcurrencyDenialAtLimit(t *testing.T) {
	c, _ := newTestController(t)

	releases := make([]func(), 0, 8)
	for i := 0; i < 8; i++ {
		release, err := c.Acquire("critical")
		require.NoError(t, err, "acquire %d", i+1)
		releases = append(releases, release)
	}

	_, err := c.Acquire("critical")
	require.Error(t, err)

	releases[0]()
	release, err := c.Acquire("critical")
	require.NoError(t, err)
	release()
}

func TestConcurrencyBandsAreIndependent(t *testing.T) {
	c, _ := newTestController(t)

	// Saturate low; critical is unaffected.
	for i := 0; i < 2; i++ {
		_, err := c.Acquire("low")
		require.NoError(t, err)
	}
	_, err := c.Acquire("low")
	require.Error(t, err)

	release, err := c.Acquire("critical")
	require.NoError(t, err)
	release()
}

func TestConcurrencyRPMWindow(t *testing.T) {
	c, clock := newTestController(t)

	// low allows 20 requests per minute; release immediately so only the
	// rate window constrains.
	for i := 0; i < 20; i++ {
		release, err := c.Acquire("low")
		require.NoError(t, err, "acquire %d", i+1)
		release()
	}

	_, err := c.Acquire("low")
	require.Error(t, err)

	// The window slides: a minute later the budget is back.
	clock.advance(61 * time.Second)
	release, err := c.Acquire("low")
	require.NoError(t, err)
	release()
}

func TestConcurrencyReleaseIsIdempotent(t *testing.T) {
	c, _ := newTestController(t)

	release, err := c.Acquire("normal")
	require.NoError(t, err)
	release()
	release()
	release()

	assert.Equal(t, 0, c.Active("normal"))
}

func TestConcurrencyUnknownPriority(t *testing.T) {
	c, _ := newTestController(t)
	_, err := c.Acquire("urgent")
	require.Error(t, err)
}

func TestTenantQuotaSlidingWindow(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 4, 1, 12, 30, 0, 0, time.UTC)}
	q := NewTenantQuota(config.Defaults().Limits,
		metrics.New(prometheus.NewRegistry())).WithClock(clock.Now)

	for i := 0; i < 20; i++ {
		require.NoError(t, q.Consume("tenant-a", "trial"))
	}

	err := q.Consume("tenant-a", "trial")
	require.Error(t, err)
	assert.True(t, domainerrors.IsQuotaExceeded(err))

	var quotaErr *domainerrors.QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, "tenant-a", quotaErr.TenantID)
	assert.Equal(t, 20, quotaErr.Used)
	assert.Equal(t, 20, quotaErr.Cap)

	// Crossing the clock-hour boundary does not refill the budget.
	clock.advance(31 * time.Minute)
	require.Error(t, q.Consume("tenant-a", "trial"))
	assert.Equal(t, 20, q.Used("tenant-a"))

	// An hour after the requests, the window has slid past them.
	clock.advance(30 * time.Minute)
	require.NoError(t, q.Consume("tenant-a", "trial"))
	assert.Equal(t, 1, q.Used("tenant-a"))
}

func TestTenantQuotaPerTenant(t *testing.T) {
	q := NewTenantQuota(config.Defaults().Limits, metrics.New(prometheus.NewRegistry()))

	for i := 0; i < 20; i++ {
		require.NoError(t, q.Consume("tenant-a", "trial"))
	}
	require.Error(t, q.Consume("tenant-a", "trial"))
	require.NoError(t, q.Consume("tenant-b", "trial"))
}

func TestTenantQuotaUnknownTier(t *testing.T) {
	q := NewTenantQuota(config.Defaults().Limits, metrics.New(prometheus.NewRegistry()))
	require.Error(t, q.Consume("tenant-a", "platinum"))
}

func TestHealthMonitorLevels(t *testing.T) {
	cfg := config.Defaults()
	h := NewHealthMonitor("anthropic", []string{"anthropic", "openai"}, cfg.Breaker,
		metrics.New(prometheus.NewRegistry()), zap.NewNop())

	assert.Equal(t, FullCapability, h.Level())

	for i := 0; i < 5; i++ {
		h.Breaker("anthropic").RecordFailure()
	}
	assert.Equal(t, SecondaryActive, h.Level())

	for i := 0; i < 5; i++ {
		h.Breaker("openai").RecordFailure()
	}
	assert.Equal(t, DeterministicOnly, h.Level())
}
