package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
)

type fakeBlobFetcher struct {
	blobs map[string][]byte
}

func (f *fakeBlobFetcher) Fetch(_ context.Context, key, _ string) ([]byte, error) {
	data, ok := f.blobs[key]
	if !ok {
		return nil, errors.New("blob not found: " + key)
	}
	return data, nil
}

func seedInvestigation(t *testing.T, store *memoryStore, tenantID, invID string) {
	t.Helper()
	writer := NewChainWriter(store, store, zap.NewNop())
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	emit := func(eventType audit.EventType, ctxMap map[string]interface{}) {
		_, err := writer.Process(ctx, &audit.Event{
			TenantID:        tenantID,
			Timestamp:       base,
			EventType:       eventType,
			Severity:        audit.SeverityInfo,
			ActorType:       audit.ActorAgent,
			ActorID:         "investigator-1",
			InvestigationID: invID,
			Context:         ctxMap,
		})
		require.NoError(t, err)
		base = base.Add(time.Minute)
	}

	emit(audit.EventInvestigationCreated, nil)
	emit(audit.EventInvestigationStateChanged, map[string]interface{}{
		"from": "queued",
		"to":   "in_progress",
	})
	emit(audit.EventLLMRequest, map[string]interface{}{
		"evidence_refs": []interface{}{
			map[string]interface{}{
				"uri":          "s3://evidence/t1/prompt.json",
				"content_hash": "abc123",
				"type":         "llm_prompt",
			},
		},
	})
	emit(audit.EventLLMResponse, nil)
	emit(audit.EventRetrievalContext, nil)
	emit(audit.EventApprovalRequested, nil)
	emit(audit.EventApprovalGranted, nil)
	emit(audit.EventActionExecuted, nil)
	emit(audit.EventAlertClassified, map[string]interface{}{
		"classification": "true_positive",
		"confidence":     0.93,
		"severity":       "high",
	})
	emit(audit.EventInvestigationCompleted, nil)
}

func TestBuildPackageCategorizesRecords(t *testing.T) {
	store := newMemoryStore()
	seedInvestigation(t, store, "t1", "inv-1")
	builder := NewEvidenceBuilder(store, nil, zap.NewNop())

	pkg, err := builder.BuildPackage(context.Background(), "t1", "inv-1", false)
	require.NoError(t, err)

	assert.Len(t, pkg.Records, 10)
	assert.Len(t, pkg.StateTransitions, 3)
	assert.Len(t, pkg.LLMInteractions, 2)
	assert.Len(t, pkg.Approvals, 2)
	assert.Len(t, pkg.ActionsExecuted, 1)
	assert.Len(t, pkg.RetrievalContexts, 1)
	assert.Empty(t, pkg.ActionsPending)

	assert.Equal(t, "true_positive", pkg.FinalClassification)
	assert.Equal(t, 0.93, pkg.FinalConfidence)
	assert.Equal(t, "high", pkg.FinalSeverity)

	assert.True(t, pkg.ChainVerification.Valid)
	assert.Equal(t, 10, pkg.ChainVerification.RecordsChecked)
	assert.NotEmpty(t, pkg.PackageHash)
}

func TestBuildPackageDetectsTamperedRecord(t *testing.T) {
	store := newMemoryStore()
	seedInvestigation(t, store, "t1", "inv-1")
	store.tamper("t1", 7, func(r *audit.Record) { r.ActorID = "rewritten" })

	builder := NewEvidenceBuilder(store, nil, zap.NewNop())
	pkg, err := builder.BuildPackage(context.Background(), "t1", "inv-1", false)
	require.NoError(t, err)

	assert.False(t, pkg.ChainVerification.Valid)
	assert.NotEmpty(t, pkg.ChainVerification.Errors)
}

func TestBuildPackageHashExcludesItself(t *testing.T) {
	store := newMemoryStore()
	seedInvestigation(t, store, "t1", "inv-1")
	builder := NewEvidenceBuilder(store, nil, zap.NewNop())

	pkg, err := builder.BuildPackage(context.Background(), "t1", "inv-1", false)
	require.NoError(t, err)

	recomputed, err := pkg.ComputePackageHash()
	require.NoError(t, err)
	assert.Equal(t, pkg.PackageHash, recomputed)
}

func TestBuildPackageIncludesRawEvidence(t *testing.T) {
	store := newMemoryStore()
	seedInvestigation(t, store, "t1", "inv-1")
	fetcher := &fakeBlobFetcher{blobs: map[string][]byte{
		"evidence/t1/prompt.json": []byte(`{"prompt":"triage"}`),
	}}
	builder := NewEvidenceBuilder(store, fetcher, zap.NewNop())

	pkg, err := builder.BuildPackage(context.Background(), "t1", "inv-1", true)
	require.NoError(t, err)

	require.Len(t, pkg.RawEvidence, 1)
	assert.Equal(t, audit.EvidenceLLMPrompt, pkg.RawEvidence[0].Type)
	assert.Equal(t, []byte(`{"prompt":"triage"}`), pkg.RawEvidence[0].Content)
}

func TestBuildPackageDegradesOnBlobFetchFailure(t *testing.T) {
	store := newMemoryStore()
	seedInvestigation(t, store, "t1", "inv-1")
	builder := NewEvidenceBuilder(store, &fakeBlobFetcher{blobs: map[string][]byte{}}, zap.NewNop())

	pkg, err := builder.BuildPackage(context.Background(), "t1", "inv-1", true)
	require.NoError(t, err)
	assert.Empty(t, pkg.RawEvidence)
}

func TestBuildPackageUnknownInvestigation(t *testing.T) {
	builder := NewEvidenceBuilder(newMemoryStore(), nil, zap.NewNop())
	_, err := builder.BuildPackage(context.Background(), "t1", "missing", false)
	require.Error(t, err)
}
