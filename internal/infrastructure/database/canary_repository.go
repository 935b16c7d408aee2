package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisops/aegis-soc-backend/internal/domain/safety"
)

// CanaryRepository persists rollout slices in canary_slices, keyed by
// (dimension, value).
type CanaryRepository struct {
	pool *pgxpool.Pool
}

// NewCanaryRepository creates the repository.
func NewCanaryRepository(pool *pgxpool.Pool) *CanaryRepository {
	return &CanaryRepository{pool: pool}
}

// ListActive returns every slice still under observation.
func (r *CanaryRepository) ListActive(ctx context.Context) ([]*safety.CanarySlice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT dimension, value, created_at, status, promoted_at, rolled_back_at
		FROM canary_slices
		WHERE status = 'active'
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing active canary slices: %w", err)
	}
	defer rows.Close()

	var slices []*safety.CanarySlice
	for rows.Next() {
		s := &safety.CanarySlice{}
		if err := rows.Scan(&s.Dimension, &s.Value, &s.CreatedAt, &s.Status, &s.PromotedAt, &s.RolledBackAt); err != nil {
			return nil, fmt.Errorf("scanning canary slice: %w", err)
		}
		slices = append(slices, s)
	}
	return slices, rows.Err()
}

// Update persists a slice's status transition.
func (r *CanaryRepository) Update(ctx context.Context, slice *safety.CanarySlice) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE canary_slices
		SET status = $3, promoted_at = $4, rolled_back_at = $5
		WHERE dimension = $1 AND value = $2`,
		slice.Dimension, slice.Value, slice.Status, slice.PromotedAt, slice.RolledBackAt)
	if err != nil {
		return fmt.Errorf("updating canary slice %s=%s: %w", slice.Dimension, slice.Value, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("canary slice %s=%s not found", slice.Dimension, slice.Value)
	}
	return nil
}
