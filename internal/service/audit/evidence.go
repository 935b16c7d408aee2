package audit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

// BlobFetcher retrieves out-of-band evidence blobs by key with hash
// verification. The archive evidence store implements it.
type BlobFetcher interface {
	Fetch(ctx context.Context, key, expectedHash string) ([]byte, error)
}

// EvidenceBuilder assembles compliance dossiers for completed
// investigations. A package is only as trustworthy as its chain, so the
// builder verifies the investigation's records before sealing the hash.
type EvidenceBuilder struct {
	records  audit.RecordRepository
	verifier audit.ChainVerifier
	blobs    BlobFetcher
	logger   *zap.Logger
	now      func() time.Time
}

// NewEvidenceBuilder creates the builder. blobs may be nil when raw evidence
// inclusion is not wired.
func NewEvidenceBuilder(records audit.RecordRepository, blobs BlobFetcher, logger *zap.Logger) *EvidenceBuilder {
	return &EvidenceBuilder{
		records:  records,
		verifier: audit.NewHashChainVerifier(),
		blobs:    blobs,
		logger:   logger.Named("evidence"),
		now:      time.Now,
	}
}

// BuildPackage assembles the dossier for one investigation, scoped by
// tenant. includeRaw pulls referenced blobs (full prompts, raw alerts) into
// the package; a blob fetch failure degrades to refs-only rather than
// failing the package.
func (b *EvidenceBuilder) BuildPackage(ctx context.Context, tenantID, investigationID string, includeRaw bool) (*audit.EvidencePackage, error) {
	records, err := b.records.GetByInvestigation(ctx, tenantID, investigationID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domainerrors.NewNotFoundError("investigation " + investigationID)
	}

	pkg := &audit.EvidencePackage{
		PackageID:       uuid.NewString(),
		InvestigationID: investigationID,
		TenantID:        tenantID,
		GeneratedAt:     b.now().UTC(),
		Records:         records,
	}

	for _, r := range records {
		b.categorize(pkg, r)
	}
	b.extractFinalClassification(pkg)

	// Investigation records are a subset of the tenant chain, so linkage
	// across gaps is expected; verify each record's own hash instead.
	pkg.ChainVerification = b.verifySubset(records)

	if includeRaw && b.blobs != nil {
		pkg.RawEvidence = b.fetchRawEvidence(ctx, records)
	}

	hash, err := pkg.ComputePackageHash()
	if err != nil {
		return nil, err
	}
	pkg.PackageHash = hash

	b.logger.Info("evidence package built",
		zap.String("tenant_id", tenantID),
		zap.String("investigation_id", investigationID),
		zap.String("package_id", pkg.PackageID),
		zap.Int("records", len(records)),
		zap.Bool("chain_valid", pkg.ChainVerification.Valid))
	return pkg, nil
}

func (b *EvidenceBuilder) categorize(pkg *audit.EvidencePackage, r *audit.Record) {
	switch {
	case r.EventType == audit.EventInvestigationCreated,
		r.EventType == audit.EventInvestigationStateChanged,
		r.EventType == audit.EventInvestigationCompleted:
		pkg.StateTransitions = append(pkg.StateTransitions, r)
	case strings.HasPrefix(string(r.EventType), "llm."):
		pkg.LLMInteractions = append(pkg.LLMInteractions, r)
	case strings.HasPrefix(string(r.EventType), "approval."):
		pkg.Approvals = append(pkg.Approvals, r)
	case r.EventType == audit.EventActionExecuted:
		pkg.ActionsExecuted = append(pkg.ActionsExecuted, r)
	case r.EventType == audit.EventActionPending:
		pkg.ActionsPending = append(pkg.ActionsPending, r)
	case r.EventType == audit.EventRetrievalContext:
		pkg.RetrievalContexts = append(pkg.RetrievalContexts, r)
	}
}

// extractFinalClassification distills the verdict from the last
// alert.classified or alert.auto_closed record.
func (b *EvidenceBuilder) extractFinalClassification(pkg *audit.EvidencePackage) {
	for i := len(pkg.Records) - 1; i >= 0; i-- {
		r := pkg.Records[i]
		if r.EventType != audit.EventAlertClassified && r.EventType != audit.EventAlertAutoClosed {
			continue
		}
		if c, ok := r.Context["classification"].(string); ok {
			pkg.FinalClassification = c
		}
		if conf, ok := r.Context["confidence"].(float64); ok {
			pkg.FinalConfidence = conf
		}
		if sev, ok := r.Context["severity"].(string); ok {
			pkg.FinalSeverity = sev
		} else {
			pkg.FinalSeverity = string(r.Severity)
		}
		return
	}
}

func (b *EvidenceBuilder) verifySubset(records []*audit.Record) *audit.VerificationResult {
	start := b.now()
	result := &audit.VerificationResult{Valid: true, Errors: []string{}}
	for _, r := range records {
		result.RecordsChecked++
		ok, err := b.verifier.VerifyRecord(r)
		if err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if !ok {
			result.Valid = false
			result.Errors = append(result.Errors,
				"hash mismatch at sequence "+strconv.FormatInt(r.SequenceNumber, 10))
		}
	}
	result.Duration = b.now().Sub(start)
	return result
}

// fetchRawEvidence resolves evidence refs stored in record context. Refs are
// written under the "evidence_refs" context key by emitting components.
func (b *EvidenceBuilder) fetchRawEvidence(ctx context.Context, records []*audit.Record) []*audit.EvidenceBlob {
	var blobs []*audit.EvidenceBlob
	for _, r := range records {
		refs, ok := r.Context["evidence_refs"].([]interface{})
		if !ok {
			continue
		}
		for _, raw := range refs {
			ref, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			uri, _ := ref["uri"].(string)
			hash, _ := ref["content_hash"].(string)
			typ, _ := ref["type"].(string)
			if uri == "" || hash == "" {
				continue
			}

			key := strings.TrimPrefix(uri, "s3://")
			content, err := b.blobs.Fetch(ctx, key, hash)
			if err != nil {
				b.logger.Warn("raw evidence fetch failed, package keeps ref only",
					zap.String("uri", uri), zap.Error(err))
				continue
			}
			blobs = append(blobs, &audit.EvidenceBlob{
				URI:         uri,
				Type:        audit.EvidenceType(typ),
				ContentHash: hash,
				Content:     content,
			})
		}
	}
	return blobs
}
