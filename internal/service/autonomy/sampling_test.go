package autonomy

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aegisops/aegis-soc-backend/internal/domain/safety"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
)

func closureFixture(id, family string, patternAge time.Duration, now time.Time) *safety.Closure {
	return &safety.Closure{
		AlertID:          id,
		TenantID:         "t1",
		RuleFamily:       family,
		Severity:         "high",
		AssetCriticality: "standard",
		PatternID:        "pat-" + id,
		PatternCreatedAt: now.Add(-patternAge),
		ClosedAt:         now,
		Confidence:       0.95,
	}
}

func TestSampleIncludesAllNovelPatternClosures(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	s := NewSampler(config.Defaults().Autonomy).WithClock(func() time.Time { return now })

	var closures []*safety.Closure
	novelIDs := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		age := 90 * 24 * time.Hour
		id := fmt.Sprintf("old-%d", i)
		if i < 50 {
			age = 5 * 24 * time.Hour // novel
			id = fmt.Sprintf("novel-%d", i)
			novelIDs[id] = struct{}{}
		}
		closures = append(closures, closureFixture(id, "credential_access", age, now))
	}

	sampled := s.Sample(closures)

	found := 0
	for _, c := range sampled {
		if _, ok := novelIDs[c.AlertID]; ok {
			found++
		}
	}
	assert.Equal(t, 50, found, "every novel-pattern closure must be sampled")
	// 50 novel already exceed the per-stratum minimum of 30; no extras.
	assert.Len(t, sampled, 50)
}

func TestSampleTopsUpToMinimum(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	s := NewSampler(config.Defaults().Autonomy).WithClock(func() time.Time { return now })

	var closures []*safety.Closure
	for i := 0; i < 100; i++ {
		closures = append(closures,
			closureFixture(fmt.Sprintf("old-%d", i), "credential_access", 90*24*time.Hour, now))
	}

	sampled := s.Sample(closures)
	assert.Len(t, sampled, 30)
}

func TestSampleCappedAtStratumSize(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	s := NewSampler(config.Defaults().Autonomy).WithClock(func() time.Time { return now })

	var closures []*safety.Closure
	for i := 0; i < 10; i++ {
		closures = append(closures,
			closureFixture(fmt.Sprintf("old-%d", i), "credential_access", 90*24*time.Hour, now))
	}

	sampled := s.Sample(closures)
	assert.Len(t, sampled, 10)
}

func TestSampleDriftMultiplierDoublesStratum(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	s := NewSampler(config.Defaults().Autonomy).WithClock(func() time.Time { return now })

	var closures []*safety.Closure
	for i := 0; i < 100; i++ {
		closures = append(closures,
			closureFixture(fmt.Sprintf("old-%d", i), "credential_access", 90*24*time.Hour, now))
	}

	s.OnDriftDetected([]string{"credential_access"})
	assert.Len(t, s.Sample(closures), 60)

	s.OnDriftRestored([]string{"credential_access"})
	assert.Len(t, s.Sample(closures), 30)
}

func TestSampleStratifiesIndependently(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	s := NewSampler(config.Defaults().Autonomy).WithClock(func() time.Time { return now })

	var closures []*safety.Closure
	for i := 0; i < 100; i++ {
		closures = append(closures,
			closureFixture(fmt.Sprintf("ca-%d", i), "credential_access", 90*24*time.Hour, now))
		closures = append(closures,
			closureFixture(fmt.Sprintf("lm-%d", i), "lateral_movement", 90*24*time.Hour, now))
	}

	sampled := s.Sample(closures)
	assert.Len(t, sampled, 60) // 30 per stratum
}
