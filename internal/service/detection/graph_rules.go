package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/graph"
)

// LateralMovementFanoutRule checks hosts that appeared in recent alerts
// against the entity graph: a host suddenly connected to many distinct
// peers is the fan-out signature of lateral movement. ATT&CK T1021.
type LateralMovementFanoutRule struct {
	Graph           graph.Store
	DegreeThreshold int64
}

func (r *LateralMovementFanoutRule) RuleID() string           { return "graph_lateral_movement_fanout" }
func (r *LateralMovementFanoutRule) Frequency() time.Duration { return 15 * time.Minute }
func (r *LateralMovementFanoutRule) Lookback() time.Duration  { return 1 * time.Hour }

func (r *LateralMovementFanoutRule) Evaluate(ctx context.Context, db DB, now time.Time) ([]*Result, error) {
	threshold := r.DegreeThreshold
	if threshold <= 0 {
		threshold = 25
	}

	rows, err := db.Query(ctx, `
		SELECT DISTINCT tenant_id, entity_id
		FROM alert_entities
		WHERE entity_type = 'host'
		  AND created_at >= $1`,
		now.Add(-r.Lookback()))
	if err != nil {
		return nil, fmt.Errorf("querying alerted hosts: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		tenantID string
		entityID string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.tenantID, &c.entityID); err != nil {
			return nil, fmt.Errorf("scanning host row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []*Result
	for _, c := range candidates {
		degree, err := r.Graph.EntityDegree(ctx, c.tenantID, c.entityID)
		if err != nil {
			return nil, fmt.Errorf("graph degree for %s: %w", c.entityID, err)
		}
		if degree < threshold {
			continue
		}
		results = append(results, &Result{
			TenantID:        c.tenantID,
			Title:           "Lateral movement fan-out",
			Description:     fmt.Sprintf("host %s connected to %d distinct peers", c.entityID, degree),
			Severity:        "high",
			Confidence:      0.8,
			AttackTechnique: "T1021",
			EntityIDs:       []string{c.entityID},
			DetectedAt:      now,
			Evidence: map[string]interface{}{
				"peer_degree": degree,
				"threshold":   threshold,
			},
		})
	}
	return results, nil
}
