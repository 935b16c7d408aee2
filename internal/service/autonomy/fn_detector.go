package autonomy

import (
	"time"

	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/safety"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

// ReviewPending marks a flagged closure awaiting human review.
const ReviewPending = "pending_review"

// FNDetector cross-references recent auto-closures against alerts that were
// later escalated by any source. A closure whose alert re-surfaced in the
// escalation set was a false negative: the platform closed something real.
type FNDetector struct {
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewFNDetector creates the detector.
func NewFNDetector(m *metrics.Metrics, logger *zap.Logger) *FNDetector {
	return &FNDetector{
		metrics: m,
		logger:  logger.Named("fn_detector"),
		now:     time.Now,
	}
}

// Flag stamps every closure whose alert appears in the escalated set and
// returns the newly flagged closures. Already-flagged closures are not
// re-stamped.
func (d *FNDetector) Flag(closures []*safety.Closure, escalatedAlertIDs map[string]struct{}) []*safety.Closure {
	now := d.now().UTC()
	var flagged []*safety.Closure
	for _, c := range closures {
		if c.FNFlagged {
			continue
		}
		if _, ok := escalatedAlertIDs[c.AlertID]; !ok {
			continue
		}

		c.FNFlagged = true
		ts := now
		c.FNFlaggedAt = &ts
		c.ReviewStatus = ReviewPending
		flagged = append(flagged, c)

		if d.metrics != nil {
			d.metrics.FNFlagged.Inc()
		}
		d.logger.Warn("auto-closure flagged as false negative",
			zap.String("alert_id", c.AlertID),
			zap.String("tenant_id", c.TenantID),
			zap.String("rule_family", c.RuleFamily))
	}
	return flagged
}
