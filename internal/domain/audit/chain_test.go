package audit

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChain constructs a valid chain of n records (plus genesis) for tenant.
func buildChain(t *testing.T, tenantID string, n int) []*Record {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	genesis := NewGenesisRecord(tenantID, now)
	hash, err := ComputeRecordHash(genesis)
	require.NoError(t, err)
	genesis.RecordHash = hash

	records := []*Record{genesis}
	prev := genesis
	for i := 1; i <= n; i++ {
		r := &Record{
			AuditID:        uuid.New(),
			TenantID:       tenantID,
			SequenceNumber: int64(i),
			PreviousHash:   prev.RecordHash,
			Timestamp:      now.Add(time.Duration(i) * time.Second),
			IngestedAt:     now.Add(time.Duration(i) * time.Second),
			EventType:      EventAlertClassified,
			EventCategory:  CategoryDecision,
			Severity:       SeverityInfo,
			ActorType:      ActorAgent,
			ActorID:        "agent-1",
			AlertID:        fmt.Sprintf("alert-%d", i),
			Context:        map[string]interface{}{"classification": "benign", "confidence": 0.93},
			RecordVersion:  RecordVersion,
		}
		h, err := ComputeRecordHash(r)
		require.NoError(t, err)
		r.RecordHash = h
		records = append(records, r)
		prev = r
	}
	return records
}

func TestVerifyChain_ValidChain(t *testing.T) {
	records := buildChain(t, "t1", 10)

	result := NewHashChainVerifier().VerifyChain(records)

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 11, result.RecordsChecked) // genesis + 10
	assert.Equal(t, int64(0), result.StartSequence)
	assert.Equal(t, int64(10), result.EndSequence)
}

func TestVerifyChain_EmptyChain(t *testing.T) {
	result := NewHashChainVerifier().VerifyChain(nil)
	assert.True(t, result.Valid)
	assert.Zero(t, result.RecordsChecked)
}

func TestVerifyChain_UnorderedInput(t *testing.T) {
	records := buildChain(t, "t1", 5)
	// Reverse: verifier must sort by sequence before checking.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	result := NewHashChainVerifier().VerifyChain(records)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestVerifyChain_TamperedFieldDetected(t *testing.T) {
	records := buildChain(t, "t1", 10)
	records[5].Severity = SeverityCritical // was info

	result := NewHashChainVerifier().VerifyChain(records)

	assert.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	found := false
	for _, e := range result.Errors {
		if strings.Contains(e, "hash mismatch") {
			found = true
		}
	}
	assert.True(t, found, "expected a hash mismatch error, got %v", result.Errors)
}

func TestVerifyChain_EveryFieldMutationDetected(t *testing.T) {
	mutations := map[string]func(*Record){
		"tenant":   func(r *Record) { r.TenantID = "t2" },
		"actor":    func(r *Record) { r.ActorID = "intruder" },
		"context":  func(r *Record) { r.Context["classification"] = "malicious" },
		"alert_id": func(r *Record) { r.AlertID = "alert-999" },
		"time":     func(r *Record) { r.Timestamp = r.Timestamp.Add(time.Hour) },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			records := buildChain(t, "t1", 6)
			mutate(records[3])

			result := NewHashChainVerifier().VerifyChain(records)
			assert.False(t, result.Valid)
			assert.NotEmpty(t, result.Errors)
		})
	}
}

func TestVerifyChain_DeletedInteriorRecord(t *testing.T) {
	records := buildChain(t, "t1", 10)
	// Drop record at sequence 4.
	tampered := append(append([]*Record{}, records[:4]...), records[5:]...)

	result := NewHashChainVerifier().VerifyChain(tampered)

	assert.False(t, result.Valid)
	found := false
	for _, e := range result.Errors {
		if strings.Contains(e, "sequence gap") || strings.Contains(e, "previous_hash mismatch") {
			found = true
		}
	}
	assert.True(t, found, "expected sequence gap or previous_hash mismatch, got %v", result.Errors)
}

func TestVerifyChain_InterleavedTenants(t *testing.T) {
	a := buildChain(t, "tenant-a", 5)
	b := buildChain(t, "tenant-b", 5)

	verifier := NewHashChainVerifier()

	// Each tenant independently verifies.
	assert.True(t, verifier.VerifyChain(a).Valid)
	assert.True(t, verifier.VerifyChain(b).Valid)

	// Interleaved as one chain they do not.
	mixed := append(append([]*Record{}, a...), b...)
	result := verifier.VerifyChain(mixed)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestComputeRecordHash_ExcludesOwnHash(t *testing.T) {
	records := buildChain(t, "t1", 1)
	r := records[1]

	withHash, err := ComputeRecordHash(r)
	require.NoError(t, err)

	bare := r.Clone()
	bare.RecordHash = ""
	withoutHash, err := ComputeRecordHash(bare)
	require.NoError(t, err)

	assert.Equal(t, withoutHash, withHash)
	assert.Len(t, withHash, 64)
}

func TestComputeRecordHash_Deterministic(t *testing.T) {
	records := buildChain(t, "t1", 1)
	r := records[1]

	h1, err := ComputeRecordHash(r)
	require.NoError(t, err)
	h2, err := ComputeRecordHash(r.Clone())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCanonicalJSON_SortedKeysNoWhitespace(t *testing.T) {
	out, err := CanonicalJSON(map[string]interface{}{
		"zebra": 1,
		"alpha": map[string]interface{}{"b": 2, "a": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":1,"b":2},"zebra":1}`, string(out))
}

func TestGenesisRecord(t *testing.T) {
	g := NewGenesisRecord("t1", time.Now())
	assert.True(t, g.IsGenesis())
	assert.Equal(t, GenesisPreviousHash, g.PreviousHash)
	assert.Equal(t, int64(0), g.SequenceNumber)
	assert.NoError(t, g.Validate())
}

func TestRecordValidate(t *testing.T) {
	records := buildChain(t, "t1", 1)
	r := records[1]
	assert.NoError(t, r.Validate())

	bad := r.Clone()
	bad.TenantID = ""
	assert.Error(t, bad.Validate())

	bad = r.Clone()
	bad.EventType = "bogus.event"
	assert.Error(t, bad.Validate())

	bad = r.Clone()
	bad.PreviousHash = "short"
	assert.Error(t, bad.Validate())
}
