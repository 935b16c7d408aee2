package detection

import (
	"context"
	"fmt"
	"time"
)

// PromptInjectionSpikeRule fires when a tenant accumulates suspected
// prompt-injection attempts against the reasoning pipeline faster than the
// threshold allows. ATLAS AML.T0051 (LLM prompt injection).
type PromptInjectionSpikeRule struct {
	Threshold int
}

func (r *PromptInjectionSpikeRule) RuleID() string           { return "atlas_prompt_injection_spike" }
func (r *PromptInjectionSpikeRule) Frequency() time.Duration { return 5 * time.Minute }
func (r *PromptInjectionSpikeRule) Lookback() time.Duration  { return 15 * time.Minute }

func (r *PromptInjectionSpikeRule) Evaluate(ctx context.Context, db DB, now time.Time) ([]*Result, error) {
	threshold := r.Threshold
	if threshold <= 0 {
		threshold = 5
	}

	rows, err := db.Query(ctx, `
		SELECT tenant_id, COUNT(*) AS attempts
		FROM llm_interactions
		WHERE injection_suspected
		  AND created_at >= $1
		GROUP BY tenant_id
		HAVING COUNT(*) >= $2`,
		now.Add(-r.Lookback()), threshold)
	if err != nil {
		return nil, fmt.Errorf("querying injection attempts: %w", err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var tenantID string
		var attempts int
		if err := rows.Scan(&tenantID, &attempts); err != nil {
			return nil, fmt.Errorf("scanning injection row: %w", err)
		}
		results = append(results, &Result{
			TenantID:       tenantID,
			Title:          "Prompt injection attempt spike",
			Description:    fmt.Sprintf("%d suspected prompt-injection attempts in the last %s", attempts, r.Lookback()),
			Severity:       "high",
			Confidence:     0.85,
			AtlasTechnique: "AML.T0051",
			DetectedAt:     now,
			Evidence: map[string]interface{}{
				"attempts": attempts,
				"window":   r.Lookback().String(),
			},
		})
	}
	return results, rows.Err()
}

// CredentialStuffingRule flags accounts with a burst of failed
// authentications followed by a success. ATT&CK T1110 (brute force).
type CredentialStuffingRule struct {
	FailureThreshold int
}

func (r *CredentialStuffingRule) RuleID() string           { return "auth_credential_stuffing" }
func (r *CredentialStuffingRule) Frequency() time.Duration { return 10 * time.Minute }
func (r *CredentialStuffingRule) Lookback() time.Duration  { return 30 * time.Minute }

func (r *CredentialStuffingRule) Evaluate(ctx context.Context, db DB, now time.Time) ([]*Result, error) {
	threshold := r.FailureThreshold
	if threshold <= 0 {
		threshold = 20
	}

	rows, err := db.Query(ctx, `
		SELECT tenant_id, account_id, failures, succeeded
		FROM (
			SELECT tenant_id, account_id,
			       COUNT(*) FILTER (WHERE NOT success) AS failures,
			       BOOL_OR(success) AS succeeded
			FROM auth_events
			WHERE created_at >= $1
			GROUP BY tenant_id, account_id
		) windowed
		WHERE failures >= $2`,
		now.Add(-r.Lookback()), threshold)
	if err != nil {
		return nil, fmt.Errorf("querying auth failures: %w", err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var tenantID, accountID string
		var failures int
		var succeeded bool
		if err := rows.Scan(&tenantID, &accountID, &failures, &succeeded); err != nil {
			return nil, fmt.Errorf("scanning auth row: %w", err)
		}

		severity := "medium"
		confidence := 0.75
		if succeeded {
			// A success after the burst means the stuffing likely landed.
			severity = "critical"
			confidence = 0.92
		}
		results = append(results, &Result{
			TenantID:        tenantID,
			Title:           "Credential stuffing burst",
			Description:     fmt.Sprintf("account %s saw %d failed authentications in %s", accountID, failures, r.Lookback()),
			Severity:        severity,
			Confidence:      confidence,
			AttackTechnique: "T1110",
			EntityIDs:       []string{accountID},
			DetectedAt:      now,
			Evidence: map[string]interface{}{
				"failures":  failures,
				"succeeded": succeeded,
				"window":    r.Lookback().String(),
			},
		})
	}
	return results, rows.Err()
}

// ModelExtractionRule flags tenants issuing an abnormal volume of
// high-token completions, the signature of an extraction attempt against
// the hosted models. ATLAS AML.T0044.
type ModelExtractionRule struct {
	RequestThreshold int
}

func (r *ModelExtractionRule) RuleID() string           { return "atlas_model_extraction_volume" }
func (r *ModelExtractionRule) Frequency() time.Duration { return 30 * time.Minute }
func (r *ModelExtractionRule) Lookback() time.Duration  { return 1 * time.Hour }

func (r *ModelExtractionRule) Evaluate(ctx context.Context, db DB, now time.Time) ([]*Result, error) {
	threshold := r.RequestThreshold
	if threshold <= 0 {
		threshold = 500
	}

	rows, err := db.Query(ctx, `
		SELECT tenant_id, COUNT(*) AS requests, SUM(output_tokens) AS tokens
		FROM llm_interactions
		WHERE created_at >= $1
		GROUP BY tenant_id
		HAVING COUNT(*) >= $2`,
		now.Add(-r.Lookback()), threshold)
	if err != nil {
		return nil, fmt.Errorf("querying completion volume: %w", err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var tenantID string
		var requests int
		var tokens int64
		if err := rows.Scan(&tenantID, &requests, &tokens); err != nil {
			return nil, fmt.Errorf("scanning volume row: %w", err)
		}
		results = append(results, &Result{
			TenantID:       tenantID,
			Title:          "Abnormal model query volume",
			Description:    fmt.Sprintf("%d completions totalling %d output tokens in %s", requests, tokens, r.Lookback()),
			Severity:       "high",
			Confidence:     0.7,
			AtlasTechnique: "AML.T0044",
			DetectedAt:     now,
			Evidence: map[string]interface{}{
				"requests":      requests,
				"output_tokens": tokens,
				"window":        r.Lookback().String(),
			},
		})
	}
	return results, rows.Err()
}
