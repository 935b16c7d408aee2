package safety

import "time"

// Closure is one autonomous false-positive closure under review.
type Closure struct {
	AlertID          string    `json:"alert_id"`
	TenantID         string    `json:"tenant_id"`
	RuleFamily       string    `json:"rule_family"`
	Severity         string    `json:"severity"`
	AssetCriticality string    `json:"asset_criticality"`
	PatternID        string    `json:"pattern_id"`
	PatternCreatedAt time.Time `json:"pattern_created_at"`
	ClosedAt         time.Time `json:"closed_at"`
	Confidence       float64   `json:"confidence"`

	// Review state, stamped by the FN detector and human reviewers.
	FNFlagged     bool       `json:"fn_flagged"`
	FNFlaggedAt   *time.Time `json:"fn_flagged_at,omitempty"`
	ReviewStatus  string     `json:"review_status,omitempty"`
	ReviewOutcome string     `json:"review_outcome,omitempty"` // true_positive, false_positive, false_negative
}

// Stratum is the sampling bucket (rule_family, severity, asset_criticality).
type Stratum struct {
	RuleFamily       string `json:"rule_family"`
	Severity         string `json:"severity"`
	AssetCriticality string `json:"asset_criticality"`
}

// StratumOf returns the closure's sampling bucket.
func StratumOf(c *Closure) Stratum {
	return Stratum{
		RuleFamily:       c.RuleFamily,
		Severity:         c.Severity,
		AssetCriticality: c.AssetCriticality,
	}
}

// FPEvaluationResult is the per rule-family rollup of closure review counts.
type FPEvaluationResult struct {
	RuleFamily     string    `json:"rule_family"`
	TotalClosures  int       `json:"total_closures"`
	TruePositives  int       `json:"true_positives"`
	FalsePositives int       `json:"false_positives"`
	FalseNegatives int       `json:"false_negatives"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// Precision returns TP/(TP+FP), or 1.0 when the denominator is zero.
func (r *FPEvaluationResult) Precision() float64 {
	denom := r.TruePositives + r.FalsePositives
	if denom == 0 {
		return 1.0
	}
	return float64(r.TruePositives) / float64(denom)
}

// Recall returns TP/(TP+FN), or 1.0 when the denominator is zero.
func (r *FPEvaluationResult) Recall() float64 {
	denom := r.TruePositives + r.FalseNegatives
	if denom == 0 {
		return 1.0
	}
	return float64(r.TruePositives) / float64(denom)
}

// FNRate returns FN/(FN+TP), or 0.0 when the denominator is zero.
func (r *FPEvaluationResult) FNRate() float64 {
	denom := r.FalseNegatives + r.TruePositives
	if denom == 0 {
		return 0.0
	}
	return float64(r.FalseNegatives) / float64(denom)
}

// CanaryDimension is the slice axis a canary rollout is keyed by.
type CanaryDimension string

const (
	DimensionTenant     CanaryDimension = "tenant"
	DimensionSeverity   CanaryDimension = "severity"
	DimensionRuleFamily CanaryDimension = "rule_family"
	DimensionDatasource CanaryDimension = "datasource"
)

// CanaryStatus is the lifecycle state of a slice.
type CanaryStatus string

const (
	CanaryActive     CanaryStatus = "active"
	CanaryPromoted   CanaryStatus = "promoted"
	CanaryRolledBack CanaryStatus = "rolled_back"
)

// CanarySlice is one rollout slice under observation.
type CanarySlice struct {
	Dimension    CanaryDimension `json:"dimension"`
	Value        string          `json:"value"`
	CreatedAt    time.Time       `json:"created_at"`
	Status       CanaryStatus    `json:"status"`
	PromotedAt   *time.Time      `json:"promoted_at,omitempty"`
	RolledBackAt *time.Time      `json:"rolled_back_at,omitempty"`
}

// AgeDays is derived, never stored.
func (s *CanarySlice) AgeDays(now time.Time) float64 {
	return now.Sub(s.CreatedAt).Hours() / 24
}

// DriftState is one drift measurement across the three monitored dimensions.
type DriftState struct {
	SourceDrift       float64   `json:"source_drift"`
	TechniqueDrift    float64   `json:"technique_drift"`
	EntityDrift       float64   `json:"entity_drift"`
	OverallDrift      float64   `json:"overall_drift"`
	ThresholdExceeded bool      `json:"threshold_exceeded"`
	ComputedAt        time.Time `json:"computed_at"`
}
