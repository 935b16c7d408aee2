package audit

import (
	"encoding/json"
	"time"

	"github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

// EvidenceType enumerates the blob kinds the evidence store accepts.
type EvidenceType string

const (
	EvidenceLLMPrompt          EvidenceType = "llm_prompt"
	EvidenceLLMResponse        EvidenceType = "llm_response"
	EvidenceRetrievalContext   EvidenceType = "retrieval_context"
	EvidenceRawAlert           EvidenceType = "raw_alert"
	EvidenceInvestigationState EvidenceType = "investigation_state"
)

// ValidEvidenceType reports whether t is a known evidence blob kind.
func ValidEvidenceType(t EvidenceType) bool {
	switch t {
	case EvidenceLLMPrompt, EvidenceLLMResponse, EvidenceRetrievalContext,
		EvidenceRawAlert, EvidenceInvestigationState:
		return true
	default:
		return false
	}
}

// EvidenceRef points at an out-of-band blob from an audit record.
type EvidenceRef struct {
	URI         string       `json:"uri"`
	ContentHash string       `json:"content_hash"`
	Type        EvidenceType `json:"type"`
}

// EvidenceBlob is a fetched out-of-band artifact included in a package when
// raw prompts are requested.
type EvidenceBlob struct {
	URI         string       `json:"uri"`
	Type        EvidenceType `json:"type"`
	ContentHash string       `json:"content_hash"`
	Content     []byte       `json:"content"`
}

// EvidencePackage is a self-contained, immutable dossier for one
// investigation: every audit record in sequence order, categorized views of
// them, the distilled final classification, the chain verification result,
// and a package hash over everything except itself.
type EvidencePackage struct {
	PackageID       string    `json:"package_id"`
	InvestigationID string    `json:"investigation_id"`
	TenantID        string    `json:"tenant_id"`
	GeneratedAt     time.Time `json:"generated_at"`

	Records []*Record `json:"records"`

	StateTransitions  []*Record `json:"state_transitions"`
	LLMInteractions   []*Record `json:"llm_interactions"`
	Approvals         []*Record `json:"approvals"`
	ActionsExecuted   []*Record `json:"actions_executed"`
	ActionsPending    []*Record `json:"actions_pending"`
	RetrievalContexts []*Record `json:"retrieval_contexts"`

	FinalClassification string  `json:"final_classification,omitempty"`
	FinalConfidence     float64 `json:"final_confidence,omitempty"`
	FinalSeverity       string  `json:"final_severity,omitempty"`

	ChainVerification *VerificationResult `json:"chain_verification"`

	RawEvidence []*EvidenceBlob `json:"raw_evidence,omitempty"`

	PackageHash string `json:"package_hash"`
}

// ComputePackageHash returns SHA-256 over the package's canonical JSON with
// the package_hash field excluded from its own input.
func (p *EvidencePackage) ComputePackageHash() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", errors.NewInternalError("failed to marshal evidence package").WithCause(err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", errors.NewInternalError("failed to normalize evidence package").WithCause(err)
	}
	delete(fields, "package_hash")

	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", errors.NewInternalError("failed to canonicalize evidence package").WithCause(err)
	}
	return HashBytes(canonical), nil
}
