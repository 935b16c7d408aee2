package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisops/aegis-soc-backend/internal/service/embedding"
)

// MigrationCheckpointRepository persists embedding migration progress in
// embedding_migration_checkpoints, one row per collection.
type MigrationCheckpointRepository struct {
	pool *pgxpool.Pool
}

// NewMigrationCheckpointRepository creates the repository.
func NewMigrationCheckpointRepository(pool *pgxpool.Pool) *MigrationCheckpointRepository {
	return &MigrationCheckpointRepository{pool: pool}
}

// Load returns the collection's checkpoint, or nil if the migration has
// never checkpointed.
func (r *MigrationCheckpointRepository) Load(ctx context.Context, collection string) (*embedding.Checkpoint, error) {
	query := `
		SELECT collection, scroll_offset, last_point_id, point_count, updated_at
		FROM embedding_migration_checkpoints
		WHERE collection = $1`

	cp := &embedding.Checkpoint{}
	err := r.pool.QueryRow(ctx, query, collection).Scan(
		&cp.Collection, &cp.Offset, &cp.LastPointID, &cp.Count, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint for %s: %w", collection, err)
	}
	return cp, nil
}

// Save upserts the checkpoint.
func (r *MigrationCheckpointRepository) Save(ctx context.Context, cp *embedding.Checkpoint) error {
	query := `
		INSERT INTO embedding_migration_checkpoints (
			collection, scroll_offset, last_point_id, point_count, updated_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection) DO UPDATE SET
			scroll_offset = EXCLUDED.scroll_offset,
			last_point_id = EXCLUDED.last_point_id,
			point_count = EXCLUDED.point_count,
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		cp.Collection, cp.Offset, cp.LastPointID, cp.Count, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving checkpoint for %s: %w", cp.Collection, err)
	}
	return nil
}
