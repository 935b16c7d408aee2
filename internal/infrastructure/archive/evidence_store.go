package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
)

// EvidenceBlobStore persists oversized evidence payloads (full prompts,
// retrieval contexts, raw alerts) in object storage, keeping audit records
// lean. Storage failure degrades to a reference-less record rather than
// failing the audit write.
type EvidenceBlobStore struct {
	store  ObjectStore
	prefix string
	logger *zap.Logger
}

// NewEvidenceBlobStore creates the store. Blobs live under their own prefix,
// separate from monthly exports.
func NewEvidenceBlobStore(store ObjectStore, logger *zap.Logger) *EvidenceBlobStore {
	return &EvidenceBlobStore{
		store:  store,
		prefix: "evidence",
		logger: logger.Named("evidence_store"),
	}
}

func (s *EvidenceBlobStore) key(tenantID string, ts time.Time, auditID uuid.UUID, evidenceType audit.EvidenceType) string {
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%s/%s.json",
		s.prefix, tenantID, ts.Year(), int(ts.Month()), ts.Day(), auditID, string(evidenceType))
}

// Store uploads one evidence payload and returns its storage ref (uri and
// content hash). On failure it returns empty strings: the audit record is
// written without the reference and the loss is logged.
func (s *EvidenceBlobStore) Store(ctx context.Context, tenantID string, ts time.Time, auditID uuid.UUID, evidenceType audit.EvidenceType, payload []byte) (uri, hash string) {
	if !audit.ValidEvidenceType(evidenceType) {
		s.logger.Warn("unknown evidence type, not storing",
			zap.String("evidence_type", string(evidenceType)))
		return "", ""
	}

	key := s.key(tenantID, ts.UTC(), auditID, evidenceType)
	if err := s.store.Put(ctx, key, payload, "application/json"); err != nil {
		s.logger.Warn("evidence blob write failed, record will carry no reference",
			zap.String("tenant_id", tenantID),
			zap.String("audit_id", auditID.String()),
			zap.String("evidence_type", string(evidenceType)),
			zap.Error(err))
		return "", ""
	}
	return "s3://" + key, audit.HashBytes(payload)
}

// Fetch downloads a blob by its stored key and verifies it against the
// expected hash recorded in the audit trail.
func (s *EvidenceBlobStore) Fetch(ctx context.Context, key, expectedHash string) ([]byte, error) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if got := audit.HashBytes(data); got != expectedHash {
		return nil, fmt.Errorf("evidence blob %s hash mismatch: stored %s, recomputed %s", key, expectedHash, got)
	}
	return data, nil
}
