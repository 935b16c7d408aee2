package autonomy

import (
	"math/rand"
	"sync"
	"time"

	"github.com/aegisops/aegis-soc-backend/internal/domain/safety"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
)

// Sampler draws the daily review sample from auto-closures. Closures that
// reference a novel pattern (younger than the configured window) are always
// included; the rest are random-sampled per stratum up to the minimum,
// scaled by any drift-driven multiplier on the closure's rule family.
type Sampler struct {
	cfg config.Autonomy
	rng *rand.Rand
	now func() time.Time

	mu          sync.RWMutex
	multipliers map[string]float64 // rule family -> sampling multiplier
}

// NewSampler creates the sampler.
func NewSampler(cfg config.Autonomy) *Sampler {
	return &Sampler{
		cfg:         cfg,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
		multipliers: make(map[string]float64),
	}
}

// WithClock overrides the sampler's clock. Test hook.
func (s *Sampler) WithClock(now func() time.Time) *Sampler {
	s.now = now
	return s
}

// OnDriftDetected doubles the sampling rate for the drifting rule families.
func (s *Sampler) OnDriftDetected(families []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range families {
		s.multipliers[f] = 2.0
	}
}

// OnDriftRestored returns the families to the baseline rate.
func (s *Sampler) OnDriftRestored(families []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range families {
		delete(s.multipliers, f)
	}
}

func (s *Sampler) multiplier(family string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.multipliers[family]; ok {
		return m
	}
	return 1.0
}

// Sample selects closures for human review, stratified by
// (rule_family, severity, asset_criticality).
func (s *Sampler) Sample(closures []*safety.Closure) []*safety.Closure {
	now := s.now()
	novelCutoff := now.AddDate(0, 0, -s.cfg.NovelPatternDays)

	strata := make(map[safety.Stratum][]*safety.Closure)
	for _, c := range closures {
		key := safety.StratumOf(c)
		strata[key] = append(strata[key], c)
	}

	var sampled []*safety.Closure
	for key, members := range strata {
		var novel, rest []*safety.Closure
		for _, c := range members {
			if c.PatternCreatedAt.After(novelCutoff) {
				novel = append(novel, c)
			} else {
				rest = append(rest, c)
			}
		}

		// Novel patterns are reviewed at 100%, no exceptions.
		sampled = append(sampled, novel...)

		target := int(float64(s.cfg.MinPerStratum) * s.multiplier(key.RuleFamily))
		need := target - len(novel)
		if need <= 0 {
			continue
		}
		if need >= len(rest) {
			sampled = append(sampled, rest...)
			continue
		}
		s.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
		sampled = append(sampled, rest[:need]...)
	}
	return sampled
}
