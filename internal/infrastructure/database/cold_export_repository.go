package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/archive"
)

// ColdExportRepository tracks verified cold-storage exports per month in
// audit_cold_exports. The retention drop gate queries it.
type ColdExportRepository struct {
	pool *pgxpool.Pool
}

// NewColdExportRepository creates the repository.
func NewColdExportRepository(pool *pgxpool.Pool) *ColdExportRepository {
	return &ColdExportRepository{pool: pool}
}

// Record upserts one export outcome. Re-exporting a month overwrites the
// previous row; the latest attempt is authoritative.
func (r *ColdExportRepository) Record(ctx context.Context, result *archive.ExportResult, year int, month time.Month) error {
	query := `
		INSERT INTO audit_cold_exports (
			year, month, object_key, format, record_count,
			tenant_count, sha256, verified, exported_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (year, month) DO UPDATE SET
			object_key = EXCLUDED.object_key,
			format = EXCLUDED.format,
			record_count = EXCLUDED.record_count,
			tenant_count = EXCLUDED.tenant_count,
			sha256 = EXCLUDED.sha256,
			verified = EXCLUDED.verified,
			exported_at = EXCLUDED.exported_at`

	_, err := r.pool.Exec(ctx, query,
		year, int(month), result.Key, result.Format, result.Records,
		result.Tenants, result.SHA256, result.Verified, result.Exported)
	if err != nil {
		return fmt.Errorf("recording export for %04d-%02d: %w", year, int(month), err)
	}
	return nil
}

// Verified reports whether the month has a verified export row.
func (r *ColdExportRepository) Verified(ctx context.Context, year int, month time.Month) (bool, error) {
	var verified bool
	err := r.pool.QueryRow(ctx,
		`SELECT verified FROM audit_cold_exports WHERE year = $1 AND month = $2`,
		year, int(month)).Scan(&verified)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking export for %04d-%02d: %w", year, int(month), err)
	}
	return verified, nil
}
