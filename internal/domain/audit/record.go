package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

// GenesisPreviousHash is the previous_hash of every tenant's sequence-0 record.
const GenesisPreviousHash = "0000000000000000000000000000000000000000000000000000000000000000"

// EventTypeGenesis marks the materialized first record of a tenant chain.
const EventTypeGenesis EventType = "system.genesis"

// RecordVersion is the current wire version of audit records.
const RecordVersion = 1

// Record is an immutable, hash-chained audit log entry. Once written to the
// warm store a record is never modified or deleted; integrity is enforced by
// the per-tenant hash chain and the store's immutability trigger.
type Record struct {
	AuditID        uuid.UUID `json:"audit_id"`
	TenantID       string    `json:"tenant_id"`
	SequenceNumber int64     `json:"sequence_number"`

	// PreviousHash links to the record at sequence-1; 64 zeros for genesis.
	PreviousHash string `json:"previous_hash"`
	// RecordHash is SHA-256 over the canonical JSON of the record with this
	// field excluded. Set exactly once by the writer.
	RecordHash string `json:"record_hash"`

	// Timestamp is the event time reported by the source; IngestedAt is
	// stamped by the writer.
	Timestamp  time.Time `json:"timestamp"`
	IngestedAt time.Time `json:"ingested_at"`

	EventType     EventType `json:"event_type"`
	EventCategory Category  `json:"event_category"`
	Severity      Severity  `json:"severity"`

	ActorType        ActorType `json:"actor_type"`
	ActorID          string    `json:"actor_id"`
	ActorPermissions []string  `json:"actor_permissions,omitempty"`

	InvestigationID string   `json:"investigation_id,omitempty"`
	AlertID         string   `json:"alert_id,omitempty"`
	EntityIDs       []string `json:"entity_ids,omitempty"`

	// Free-form semantic blobs. Serialized canonically before hashing.
	Context  map[string]interface{} `json:"context,omitempty"`
	Decision map[string]interface{} `json:"decision,omitempty"`
	Outcome  map[string]interface{} `json:"outcome,omitempty"`

	RecordVersion int    `json:"record_version"`
	SourceService string `json:"source_service,omitempty"`
}

// IsGenesis reports whether the record is the sequence-0 chain anchor.
func (r *Record) IsGenesis() bool {
	return r.SequenceNumber == 0 && r.EventType == EventTypeGenesis
}

// Validate checks structural requirements before a record enters the chain.
func (r *Record) Validate() error {
	if r.TenantID == "" {
		return errors.NewValidationError("MISSING_TENANT_ID", "tenant ID is required")
	}
	if r.SequenceNumber < 0 {
		return errors.NewValidationError("INVALID_SEQUENCE", "sequence number cannot be negative")
	}
	if err := validateEventType(r.EventType); err != nil {
		return errors.NewValidationError("INVALID_EVENT_TYPE", "event type validation failed").WithCause(err)
	}
	if err := validateCategory(r.EventCategory); err != nil {
		return errors.NewValidationError("INVALID_CATEGORY", "event category validation failed").WithCause(err)
	}
	if err := validateActorType(r.ActorType); err != nil {
		return errors.NewValidationError("INVALID_ACTOR_TYPE", "actor type validation failed").WithCause(err)
	}
	if len(r.PreviousHash) != 64 {
		return errors.NewValidationError("INVALID_PREVIOUS_HASH", "previous hash must be 64 hex characters")
	}
	if r.SequenceNumber == 0 && r.PreviousHash != GenesisPreviousHash {
		return errors.NewValidationError("INVALID_GENESIS", "sequence 0 must link to the zero hash")
	}
	return nil
}

// Clone returns a deep copy. The copy is safe to mutate in verification paths
// that recompute hashes.
func (r *Record) Clone() *Record {
	clone := *r
	if r.ActorPermissions != nil {
		clone.ActorPermissions = append([]string(nil), r.ActorPermissions...)
	}
	if r.EntityIDs != nil {
		clone.EntityIDs = append([]string(nil), r.EntityIDs...)
	}
	clone.Context = cloneBlob(r.Context)
	clone.Decision = cloneBlob(r.Decision)
	clone.Outcome = cloneBlob(r.Outcome)
	return &clone
}

func cloneBlob(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Event is an audit event as consumed from the audit.events topic, before the
// writer assigns its position in a tenant chain.
type Event struct {
	TenantID         string                 `json:"tenant_id"`
	Timestamp        time.Time              `json:"timestamp"`
	EventType        EventType              `json:"event_type"`
	EventCategory    Category               `json:"event_category"`
	Severity         Severity               `json:"severity"`
	ActorType        ActorType              `json:"actor_type"`
	ActorID          string                 `json:"actor_id"`
	ActorPermissions []string               `json:"actor_permissions,omitempty"`
	InvestigationID  string                 `json:"investigation_id,omitempty"`
	AlertID          string                 `json:"alert_id,omitempty"`
	EntityIDs        []string               `json:"entity_ids,omitempty"`
	Context          map[string]interface{} `json:"context,omitempty"`
	Decision         map[string]interface{} `json:"decision,omitempty"`
	Outcome          map[string]interface{} `json:"outcome,omitempty"`
	SourceService    string                 `json:"source_service,omitempty"`
}

// Validate checks the event before chain assignment.
func (e *Event) Validate() error {
	if e.TenantID == "" {
		return errors.NewValidationError("MISSING_TENANT_ID", "tenant ID is required")
	}
	if err := validateEventType(e.EventType); err != nil {
		return errors.NewValidationError("INVALID_EVENT_TYPE", "event type validation failed").WithCause(err)
	}
	if e.ActorID == "" {
		return errors.NewValidationError("MISSING_ACTOR_ID", "actor ID is required")
	}
	return nil
}

// ChainState is the per-tenant cursor the writer needs to link the next
// record. Persisted on every successful insert, cached in memory.
type ChainState struct {
	TenantID      string    `json:"tenant_id"`
	LastSequence  int64     `json:"last_sequence"`
	LastHash      string    `json:"last_hash"`
	LastTimestamp time.Time `json:"last_timestamp"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewGenesisRecord materializes the sequence-0 anchor for a tenant chain.
// Its hash is computed by the caller through ComputeRecordHash.
func NewGenesisRecord(tenantID string, now time.Time) *Record {
	return &Record{
		AuditID:        uuid.New(),
		TenantID:       tenantID,
		SequenceNumber: 0,
		PreviousHash:   GenesisPreviousHash,
		Timestamp:      now.UTC(),
		IngestedAt:     now.UTC(),
		EventType:      EventTypeGenesis,
		EventCategory:  CategorySystem,
		Severity:       SeverityInfo,
		ActorType:      ActorSystem,
		ActorID:        "system",
		RecordVersion:  RecordVersion,
		Context: map[string]interface{}{
			"genesis": true,
		},
	}
}

// IsZeroHash reports whether h is the 64-zero genesis anchor.
func IsZeroHash(h string) bool {
	return h == GenesisPreviousHash || strings.Trim(h, "0") == "" && len(h) == 64
}
