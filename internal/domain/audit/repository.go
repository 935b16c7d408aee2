package audit

import (
	"context"
	"time"
)

// RecordRepository is the warm-store access contract for audit records.
// Implementations must never expose UPDATE or DELETE paths for records; the
// warm tier is append-only.
type RecordRepository interface {
	// InsertWithState atomically inserts a record and advances the tenant's
	// chain state in one transaction. The chain-state update is gated on
	// insert success; on failure the sequence must not advance.
	InsertWithState(ctx context.Context, record *Record, state *ChainState) error

	// GetRecent returns the most recent n records for a tenant in ascending
	// sequence order.
	GetRecent(ctx context.Context, tenantID string, n int) ([]*Record, error)

	// GetRange returns records with from <= sequence <= to, ascending.
	GetRange(ctx context.Context, tenantID string, from, to int64) ([]*Record, error)

	// GetAll returns a tenant's entire chain in ascending sequence order.
	GetAll(ctx context.Context, tenantID string) ([]*Record, error)

	// GetByInvestigation returns records for one investigation, scoped by
	// tenant, ascending by sequence. Tenant scoping is mandatory.
	GetByInvestigation(ctx context.Context, tenantID, investigationID string) ([]*Record, error)

	// GetRandomSample returns up to n random records for a tenant.
	GetRandomSample(ctx context.Context, tenantID string, n int) ([]*Record, error)

	// MaxSequence returns the highest persisted sequence for a tenant, or
	// -1 when the tenant has no records.
	MaxSequence(ctx context.Context, tenantID string) (int64, error)

	// GetMonth returns every record whose timestamp falls in the given
	// month, ordered by (tenant_id, sequence_number). Used by the cold
	// exporter.
	GetMonth(ctx context.Context, year int, month time.Month) ([]*Record, error)

	// TenantsInMonth lists distinct tenants with records in the month.
	TenantsInMonth(ctx context.Context, year int, month time.Month) ([]string, error)

	// ListTenants lists every tenant with chain state.
	ListTenants(ctx context.Context) ([]string, error)
}

// ChainStateRepository persists per-tenant chain cursors.
type ChainStateRepository interface {
	// Get returns the chain state for a tenant, or a not-found error when
	// the chain is uninitialized.
	Get(ctx context.Context, tenantID string) (*ChainState, error)

	// Upsert writes the chain state.
	Upsert(ctx context.Context, state *ChainState) error
}

// VerificationLogEntry is one persisted verification result row.
type VerificationLogEntry struct {
	TenantID         string    `json:"tenant_id"`
	VerificationType string    `json:"verification_type"`
	RecordsChecked   int       `json:"records_checked"`
	ChainValid       bool      `json:"chain_valid"`
	Errors           []string  `json:"errors,omitempty"`
	DurationMs       int64     `json:"duration_ms"`
	VerifiedAt       time.Time `json:"verified_at"`
}

// VerificationLogRepository persists verification results.
type VerificationLogRepository interface {
	Insert(ctx context.Context, entry *VerificationLogEntry) error
}

// PartitionRepository manages the monthly partitioning of the warm store.
type PartitionRepository interface {
	// CreateNextPartitions materializes the next k monthly partitions ahead
	// of insertion.
	CreateNextPartitions(ctx context.Context, from time.Time, k int) error

	// DropMonth drops the partition for the given month. Callers are
	// responsible for the export-verified / retention-age / legal-hold
	// gates; the repository only performs the drop.
	DropMonth(ctx context.Context, year int, month time.Month) error

	// ListMonthsThrough returns the first-of-month timestamps of partitions
	// still attached, up to and including the given month, ascending.
	ListMonthsThrough(ctx context.Context, year int, month time.Month) ([]time.Time, error)
}
