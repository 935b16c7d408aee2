package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

// ChainStateRepository implements audit.ChainStateRepository on PostgreSQL.
type ChainStateRepository struct {
	db *pgxpool.Pool
}

// NewChainStateRepository creates the repository.
func NewChainStateRepository(db *pgxpool.Pool) *ChainStateRepository {
	return &ChainStateRepository{db: db}
}

// Get returns the tenant's chain cursor, or ErrRecordNotFound for an
// uninitialized chain.
func (r *ChainStateRepository) Get(ctx context.Context, tenantID string) (*audit.ChainState, error) {
	var state audit.ChainState
	err := r.db.QueryRow(ctx, `
		SELECT tenant_id, last_sequence, last_hash, last_timestamp, updated_at
		FROM audit_chain_state
		WHERE tenant_id = $1`,
		tenantID).Scan(
		&state.TenantID, &state.LastSequence, &state.LastHash,
		&state.LastTimestamp, &state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrRecordNotFound
		}
		return nil, domainerrors.NewInternalError("failed to load chain state").WithCause(err)
	}
	state.LastTimestamp = state.LastTimestamp.UTC()
	return &state, nil
}

// Upsert writes the chain cursor.
func (r *ChainStateRepository) Upsert(ctx context.Context, state *audit.ChainState) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_chain_state (tenant_id, last_sequence, last_hash, last_timestamp, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id) DO UPDATE SET
			last_sequence = EXCLUDED.last_sequence,
			last_hash = EXCLUDED.last_hash,
			last_timestamp = EXCLUDED.last_timestamp,
			updated_at = EXCLUDED.updated_at`,
		state.TenantID, state.LastSequence, state.LastHash,
		state.LastTimestamp, state.UpdatedAt,
	)
	if err != nil {
		return domainerrors.NewInternalError("failed to upsert chain state").WithCause(err)
	}
	return nil
}
