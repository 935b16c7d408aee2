package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

// PartitionRepository manages monthly audit_records partitions. Partition DDL
// is idempotent; the create-ahead job runs well before inserts reach a new
// month.
type PartitionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPartitionRepository creates the repository.
func NewPartitionRepository(db *pgxpool.Pool, logger *zap.Logger) *PartitionRepository {
	return &PartitionRepository{db: db, logger: logger.Named("partitions")}
}

func partitionName(year int, month time.Month) string {
	return fmt.Sprintf("audit_records_%04d_%02d", year, int(month))
}

// CreateNextPartitions materializes the next k monthly partitions starting
// from the month containing `from`.
func (r *PartitionRepository) CreateNextPartitions(ctx context.Context, from time.Time, k int) error {
	start := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < k; i++ {
		monthStart := start.AddDate(0, i, 0)
		monthEnd := monthStart.AddDate(0, 1, 0)
		name := partitionName(monthStart.Year(), monthStart.Month())

		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s PARTITION OF audit_records
			FOR VALUES FROM ('%s') TO ('%s')`,
			name,
			monthStart.Format("2006-01-02"),
			monthEnd.Format("2006-01-02"))

		if _, err := r.db.Exec(ctx, ddl); err != nil {
			return errors.NewInternalError("failed to create partition").
				WithDetails(map[string]interface{}{"partition": name}).WithCause(err)
		}
		r.logger.Info("partition ready", zap.String("partition", name))
	}
	return nil
}

// ListMonthsThrough returns the months of audit_records partitions still
// attached, up to and including the cutoff month, ascending. The retention
// drop pass walks this so months skipped on earlier passes are re-examined.
func (r *PartitionRepository) ListMonthsThrough(ctx context.Context, year int, month time.Month) ([]time.Time, error) {
	rows, err := r.db.Query(ctx, `
		SELECT child.relname
		FROM pg_inherits
		JOIN pg_class child ON child.oid = pg_inherits.inhrelid
		JOIN pg_class parent ON parent.oid = pg_inherits.inhparent
		WHERE parent.relname = 'audit_records'`)
	if err != nil {
		return nil, errors.NewInternalError("failed to list partitions").WithCause(err)
	}
	defer rows.Close()

	cutoff := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	var months []time.Time
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.NewInternalError("failed to scan partition name").WithCause(err)
		}
		var y, m int
		if _, err := fmt.Sscanf(name, "audit_records_%d_%d", &y, &m); err != nil {
			continue
		}
		start := time.Date(y, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
		if !start.After(cutoff) {
			months = append(months, start)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to list partitions").WithCause(err)
	}

	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months, nil
}

// DropMonth detaches and drops one monthly partition. Retention gates
// (export verified, age, legal hold) are the caller's responsibility.
func (r *PartitionRepository) DropMonth(ctx context.Context, year int, month time.Month) error {
	name := partitionName(year, month)

	if _, err := r.db.Exec(ctx,
		fmt.Sprintf(`ALTER TABLE audit_records DETACH PARTITION %s`, name)); err != nil {
		return errors.NewInternalError("failed to detach partition").
			WithDetails(map[string]interface{}{"partition": name}).WithCause(err)
	}
	if _, err := r.db.Exec(ctx, fmt.Sprintf(`DROP TABLE %s`, name)); err != nil {
		return errors.NewInternalError("failed to drop partition").
			WithDetails(map[string]interface{}{"partition": name}).WithCause(err)
	}

	r.logger.Info("partition dropped", zap.String("partition", name))
	return nil
}
