package autonomy

import (
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
)

// ThresholdAdjuster derives the auto-close confidence floor from the most
// recent drift state. The FP short-circuit consults it before closing on a
// cached pattern confidence.
type ThresholdAdjuster struct {
	cfg   config.Drift
	drift *DriftDetector
}

// NewThresholdAdjuster creates the adjuster.
func NewThresholdAdjuster(cfg config.Drift, drift *DriftDetector) *ThresholdAdjuster {
	return &ThresholdAdjuster{cfg: cfg, drift: drift}
}

// ConfidenceFloor is the elevated floor while drift is exceeded, the normal
// floor otherwise.
func (a *ThresholdAdjuster) ConfidenceFloor() float64 {
	last := a.drift.Last()
	if last != nil && last.ThresholdExceeded {
		return a.cfg.ElevatedConfidenceFloor
	}
	return a.cfg.NormalConfidenceFloor
}

// EffectiveFloor composes the drift-driven floor with a degradation-level
// override; the stricter of the two wins.
func (a *ThresholdAdjuster) EffectiveFloor(degradationOverride float64) float64 {
	floor := a.ConfidenceFloor()
	if degradationOverride > floor {
		return degradationOverride
	}
	return floor
}
