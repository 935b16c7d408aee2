package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

// AuditRepository implements audit.RecordRepository on PostgreSQL. The
// audit_records table is partitioned monthly by timestamp and carries an
// immutability trigger; this repository deliberately exposes no UPDATE or
// DELETE path for records.
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates a PostgreSQL-backed record repository.
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

const recordColumns = `
	audit_id, tenant_id, sequence_number, previous_hash, record_hash,
	timestamp, ingested_at, event_type, event_category, severity,
	actor_type, actor_id, actor_permissions, investigation_id, alert_id,
	entity_ids, context, decision, outcome, record_version, source_service`

// InsertWithState inserts the record and advances chain state in one
// transaction. If the insert fails the state row is untouched, so the
// tenant's sequence never advances past a failed write.
func (r *AuditRepository) InsertWithState(ctx context.Context, record *audit.Record, state *audit.ChainState) error {
	if err := record.Validate(); err != nil {
		return err
	}

	contextJSON, decisionJSON, outcomeJSON, err := marshalBlobs(record)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.NewInternalError("failed to begin transaction").WithCause(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		record.AuditID, record.TenantID, record.SequenceNumber,
		record.PreviousHash, record.RecordHash,
		record.Timestamp, record.IngestedAt,
		string(record.EventType), string(record.EventCategory), string(record.Severity),
		string(record.ActorType), record.ActorID, record.ActorPermissions,
		nullable(record.InvestigationID), nullable(record.AlertID), record.EntityIDs,
		contextJSON, decisionJSON, outcomeJSON,
		record.RecordVersion, nullable(record.SourceService),
	)
	if err != nil {
		return errors.NewInternalError("failed to insert audit record").WithCause(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_chain_state (tenant_id, last_sequence, last_hash, last_timestamp, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id) DO UPDATE SET
			last_sequence = EXCLUDED.last_sequence,
			last_hash = EXCLUDED.last_hash,
			last_timestamp = EXCLUDED.last_timestamp,
			updated_at = EXCLUDED.updated_at`,
		state.TenantID, state.LastSequence, state.LastHash, state.LastTimestamp, state.UpdatedAt,
	)
	if err != nil {
		return errors.NewInternalError("failed to update chain state").WithCause(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.NewInternalError("failed to commit audit write").WithCause(err)
	}
	return nil
}

// GetRecent returns the last n records for a tenant in ascending order.
func (r *AuditRepository) GetRecent(ctx context.Context, tenantID string, n int) ([]*audit.Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT * FROM (
			SELECT `+recordColumns+`
			FROM audit_records
			WHERE tenant_id = $1
			ORDER BY sequence_number DESC
			LIMIT $2
		) recent ORDER BY sequence_number ASC`,
		tenantID, n)
	if err != nil {
		return nil, errors.NewInternalError("failed to query recent records").WithCause(err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetRange returns records with from <= sequence <= to.
func (r *AuditRepository) GetRange(ctx context.Context, tenantID string, from, to int64) ([]*audit.Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM audit_records
		WHERE tenant_id = $1 AND sequence_number BETWEEN $2 AND $3
		ORDER BY sequence_number ASC`,
		tenantID, from, to)
	if err != nil {
		return nil, errors.NewInternalError("failed to query record range").WithCause(err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetAll returns a tenant's full chain.
func (r *AuditRepository) GetAll(ctx context.Context, tenantID string) ([]*audit.Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM audit_records
		WHERE tenant_id = $1
		ORDER BY sequence_number ASC`,
		tenantID)
	if err != nil {
		return nil, errors.NewInternalError("failed to query tenant chain").WithCause(err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetByInvestigation returns the investigation's records, tenant scoped.
func (r *AuditRepository) GetByInvestigation(ctx context.Context, tenantID, investigationID string) ([]*audit.Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM audit_records
		WHERE tenant_id = $1 AND investigation_id = $2
		ORDER BY sequence_number ASC`,
		tenantID, investigationID)
	if err != nil {
		return nil, errors.NewInternalError("failed to query investigation records").WithCause(err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetRandomSample returns up to n random records for the weekly cold check.
func (r *AuditRepository) GetRandomSample(ctx context.Context, tenantID string, n int) ([]*audit.Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM audit_records
		WHERE tenant_id = $1
		ORDER BY random()
		LIMIT $2`,
		tenantID, n)
	if err != nil {
		return nil, errors.NewInternalError("failed to query record sample").WithCause(err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// MaxSequence returns the highest persisted sequence, or -1 for an empty
// tenant.
func (r *AuditRepository) MaxSequence(ctx context.Context, tenantID string) (int64, error) {
	var max *int64
	err := r.db.QueryRow(ctx, `
		SELECT MAX(sequence_number) FROM audit_records WHERE tenant_id = $1`,
		tenantID).Scan(&max)
	if err != nil {
		return -1, errors.NewInternalError("failed to query max sequence").WithCause(err)
	}
	if max == nil {
		return -1, nil
	}
	return *max, nil
}

// GetMonth returns every record in the month ordered by (tenant, sequence).
func (r *AuditRepository) GetMonth(ctx context.Context, year int, month time.Month) ([]*audit.Record, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	rows, err := r.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM audit_records
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY tenant_id ASC, sequence_number ASC`,
		start, end)
	if err != nil {
		return nil, errors.NewInternalError("failed to query month records").WithCause(err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// TenantsInMonth lists distinct tenants with records in the month.
func (r *AuditRepository) TenantsInMonth(ctx context.Context, year int, month time.Month) ([]string, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT tenant_id FROM audit_records
		WHERE timestamp >= $1 AND timestamp < $2`,
		start, end)
	if err != nil {
		return nil, errors.NewInternalError("failed to query month tenants").WithCause(err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, errors.NewInternalError("failed to scan tenant").WithCause(err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// ListTenants lists every tenant with chain state.
func (r *AuditRepository) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT tenant_id FROM audit_chain_state ORDER BY tenant_id`)
	if err != nil {
		return nil, errors.NewInternalError("failed to list tenants").WithCause(err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, errors.NewInternalError("failed to scan tenant").WithCause(err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func marshalBlobs(record *audit.Record) ([]byte, []byte, []byte, error) {
	// Canonical encoding here keeps the stored JSONB byte-stable with what
	// was hashed.
	contextJSON, err := audit.CanonicalJSON(record.Context)
	if err != nil {
		return nil, nil, nil, err
	}
	decisionJSON, err := audit.CanonicalJSON(record.Decision)
	if err != nil {
		return nil, nil, nil, err
	}
	outcomeJSON, err := audit.CanonicalJSON(record.Outcome)
	if err != nil {
		return nil, nil, nil, err
	}
	return contextJSON, decisionJSON, outcomeJSON, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanRecords(rows pgx.Rows) ([]*audit.Record, error) {
	var records []*audit.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("row iteration failed").WithCause(err)
	}
	return records, nil
}

func scanRecord(rows pgx.Rows) (*audit.Record, error) {
	var (
		record          audit.Record
		eventType       string
		eventCategory   string
		severity        string
		actorType       string
		investigationID *string
		alertID         *string
		sourceService   *string
		contextJSON     []byte
		decisionJSON    []byte
		outcomeJSON     []byte
	)

	err := rows.Scan(
		&record.AuditID, &record.TenantID, &record.SequenceNumber,
		&record.PreviousHash, &record.RecordHash,
		&record.Timestamp, &record.IngestedAt,
		&eventType, &eventCategory, &severity,
		&actorType, &record.ActorID, &record.ActorPermissions,
		&investigationID, &alertID, &record.EntityIDs,
		&contextJSON, &decisionJSON, &outcomeJSON,
		&record.RecordVersion, &sourceService,
	)
	if err != nil {
		return nil, errors.NewInternalError("failed to scan audit record").WithCause(err)
	}

	record.EventType = audit.EventType(eventType)
	record.EventCategory = audit.Category(eventCategory)
	record.Severity = audit.Severity(severity)
	record.ActorType = audit.ActorType(actorType)
	if investigationID != nil {
		record.InvestigationID = *investigationID
	}
	if alertID != nil {
		record.AlertID = *alertID
	}
	if sourceService != nil {
		record.SourceService = *sourceService
	}
	record.Timestamp = record.Timestamp.UTC()
	record.IngestedAt = record.IngestedAt.UTC()

	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &record.Context); err != nil {
			return nil, errors.NewInternalError("failed to unmarshal context blob").WithCause(err)
		}
	}
	if len(decisionJSON) > 0 {
		if err := json.Unmarshal(decisionJSON, &record.Decision); err != nil {
			return nil, errors.NewInternalError("failed to unmarshal decision blob").WithCause(err)
		}
	}
	if len(outcomeJSON) > 0 {
		if err := json.Unmarshal(outcomeJSON, &record.Outcome); err != nil {
			return nil, errors.NewInternalError("failed to unmarshal outcome blob").WithCause(err)
		}
	}

	return &record, nil
}
