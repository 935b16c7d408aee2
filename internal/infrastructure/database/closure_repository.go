package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisops/aegis-soc-backend/internal/domain/safety"
)

// ClosureRepository reads and updates autonomous closures in alert_closures.
// It also backs the canary evaluator's per-slice precision stats.
type ClosureRepository struct {
	pool *pgxpool.Pool
}

// NewClosureRepository creates the repository.
func NewClosureRepository(pool *pgxpool.Pool) *ClosureRepository {
	return &ClosureRepository{pool: pool}
}

const closureColumns = `
	alert_id, tenant_id, rule_family, severity, asset_criticality,
	pattern_id, pattern_created_at, closed_at, confidence,
	fn_flagged, fn_flagged_at, COALESCE(review_status, ''), COALESCE(review_outcome, '')`

// ListClosedSince returns closures whose close time falls inside the window.
func (r *ClosureRepository) ListClosedSince(ctx context.Context, since time.Time) ([]*safety.Closure, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM alert_closures
		WHERE closed_at >= $1
		ORDER BY closed_at`, closureColumns), since)
	if err != nil {
		return nil, fmt.Errorf("listing closures since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var closures []*safety.Closure
	for rows.Next() {
		c := &safety.Closure{}
		err := rows.Scan(
			&c.AlertID, &c.TenantID, &c.RuleFamily, &c.Severity, &c.AssetCriticality,
			&c.PatternID, &c.PatternCreatedAt, &c.ClosedAt, &c.Confidence,
			&c.FNFlagged, &c.FNFlaggedAt, &c.ReviewStatus, &c.ReviewOutcome)
		if err != nil {
			return nil, fmt.Errorf("scanning closure: %w", err)
		}
		closures = append(closures, c)
	}
	return closures, rows.Err()
}

// ListEscalatedAlertIDs returns the IDs of alerts a human or a downstream
// detection escalated inside the window. The FN detector joins these against
// auto-closures.
func (r *ClosureRepository) ListEscalatedAlertIDs(ctx context.Context, since time.Time) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT alert_id FROM alert_escalations
		WHERE escalated_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("listing escalated alerts: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning alert id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// MarkFNFlagged persists the FN detector's stamps.
func (r *ClosureRepository) MarkFNFlagged(ctx context.Context, closures []*safety.Closure) error {
	for _, c := range closures {
		_, err := r.pool.Exec(ctx, `
			UPDATE alert_closures
			SET fn_flagged = true, fn_flagged_at = $2, review_status = $3
			WHERE alert_id = $1`,
			c.AlertID, c.FNFlaggedAt, c.ReviewStatus)
		if err != nil {
			return fmt.Errorf("flagging closure %s: %w", c.AlertID, err)
		}
	}
	return nil
}

// MarkPendingReview queues sampled closures for human review.
func (r *ClosureRepository) MarkPendingReview(ctx context.Context, alertIDs []string) error {
	if len(alertIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE alert_closures
		SET review_status = 'pending_review'
		WHERE alert_id = ANY($1) AND review_status IS NULL`, alertIDs)
	if err != nil {
		return fmt.Errorf("queueing %d closures for review: %w", len(alertIDs), err)
	}
	return nil
}

// sliceColumn maps a canary dimension onto its closure column. The switch
// is the injection guard; dimension values never reach the SQL text.
func sliceColumn(dimension safety.CanaryDimension) (string, error) {
	switch dimension {
	case safety.DimensionTenant:
		return "tenant_id", nil
	case safety.DimensionSeverity:
		return "severity", nil
	case safety.DimensionRuleFamily:
		return "rule_family", nil
	case safety.DimensionDatasource:
		return "datasource", nil
	default:
		return "", fmt.Errorf("unknown canary dimension %q", dimension)
	}
}

// StatsFor returns the reviewed precision and missed true-positive count for
// one canary slice over its observation window.
func (r *ClosureRepository) StatsFor(ctx context.Context, dimension safety.CanaryDimension, value string) (float64, int, error) {
	column, err := sliceColumn(dimension)
	if err != nil {
		return 0, 0, err
	}

	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE review_outcome = 'true_positive') AS tp,
			COUNT(*) FILTER (WHERE review_outcome = 'false_positive') AS fp,
			COUNT(*) FILTER (WHERE fn_flagged OR review_outcome = 'false_negative') AS missed
		FROM alert_closures
		WHERE %s = $1`, column)

	var tp, fp, missed int
	if err := r.pool.QueryRow(ctx, query, value).Scan(&tp, &fp, &missed); err != nil {
		return 0, 0, fmt.Errorf("slice stats for %s=%s: %w", dimension, value, err)
	}

	precision := 1.0
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	return precision, missed, nil
}
