package autonomy

import (
	"time"

	"github.com/aegisops/aegis-soc-backend/internal/domain/safety"
)

// Review outcomes stamped by human reviewers.
const (
	OutcomeTruePositive  = "true_positive"
	OutcomeFalsePositive = "false_positive"
	OutcomeFalseNegative = "false_negative"
)

// Evaluate rolls reviewed closures up into per rule-family TP/FP/FN counts.
// Unreviewed closures are excluded; the guard only acts on settled ground
// truth.
func Evaluate(closures []*safety.Closure, now time.Time) map[string]*safety.FPEvaluationResult {
	results := make(map[string]*safety.FPEvaluationResult)
	for _, c := range closures {
		if c.ReviewOutcome == "" {
			continue
		}
		r, ok := results[c.RuleFamily]
		if !ok {
			r = &safety.FPEvaluationResult{RuleFamily: c.RuleFamily, EvaluatedAt: now}
			results[c.RuleFamily] = r
		}
		r.TotalClosures++
		switch c.ReviewOutcome {
		case OutcomeTruePositive:
			r.TruePositives++
		case OutcomeFalsePositive:
			r.FalsePositives++
		case OutcomeFalseNegative:
			r.FalseNegatives++
		}
	}
	return results
}
