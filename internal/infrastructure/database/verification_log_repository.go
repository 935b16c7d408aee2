package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

// VerificationLogRepository persists scheduler verification results.
type VerificationLogRepository struct {
	db *pgxpool.Pool
}

// NewVerificationLogRepository creates the repository.
func NewVerificationLogRepository(db *pgxpool.Pool) *VerificationLogRepository {
	return &VerificationLogRepository{db: db}
}

// Insert appends one verification result row.
func (r *VerificationLogRepository) Insert(ctx context.Context, entry *audit.VerificationLogEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_verification_log (
			tenant_id, verification_type, records_checked, chain_valid,
			errors, duration_ms, verified_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.TenantID, entry.VerificationType, entry.RecordsChecked,
		entry.ChainValid, entry.Errors, entry.DurationMs, entry.VerifiedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to insert verification log entry").WithCause(err)
	}
	return nil
}
