package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisops/aegis-soc-backend/internal/service/autonomy"
)

// AlertStatsRepository aggregates alert metadata for the drift detector.
type AlertStatsRepository struct {
	pool *pgxpool.Pool
}

// NewAlertStatsRepository creates the repository.
func NewAlertStatsRepository(pool *pgxpool.Pool) *AlertStatsRepository {
	return &AlertStatsRepository{pool: pool}
}

// Tenants returns every tenant that produced alerts inside the window.
func (r *AlertStatsRepository) Tenants(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT tenant_id FROM alerts
		WHERE created_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("listing alerting tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning tenant id: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

// Distributions returns the tenant's alert histograms over the window,
// plus the rule families seen, for the sampler multiplier callback.
func (r *AlertStatsRepository) Distributions(ctx context.Context, tenantID string, from, to time.Time) (*autonomy.AlertDistributions, []string, error) {
	dist := &autonomy.AlertDistributions{
		Sources:    make(map[string]int),
		Techniques: make(map[string]int),
		Entities:   make(map[string]int),
	}

	rows, err := r.pool.Query(ctx, `
		SELECT datasource, COALESCE(attack_technique, atlas_technique, 'unknown'),
		       COALESCE(entity_type, 'unknown'), rule_family, COUNT(*)
		FROM alerts
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY 1, 2, 3, 4`,
		tenantID, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("aggregating alerts for %s: %w", tenantID, err)
	}
	defer rows.Close()

	families := make(map[string]struct{})
	for rows.Next() {
		var source, technique, entityType, family string
		var count int
		if err := rows.Scan(&source, &technique, &entityType, &family, &count); err != nil {
			return nil, nil, fmt.Errorf("scanning alert histogram: %w", err)
		}
		dist.Sources[source] += count
		dist.Techniques[technique] += count
		dist.Entities[entityType] += count
		families[family] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	familyList := make([]string, 0, len(families))
	for f := range families {
		familyList = append(familyList, f)
	}
	return dist, familyList, nil
}
