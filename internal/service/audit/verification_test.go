package audit

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

type fakeVerificationLog struct {
	entries []*audit.VerificationLogEntry
}

func (f *fakeVerificationLog) Insert(_ context.Context, entry *audit.VerificationLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeLagSource struct {
	watermark int64
}

func (f *fakeLagSource) HighWatermark(_ context.Context, _ string) (int64, error) {
	return f.watermark, nil
}

type fakeAlerter struct {
	alerts []string
}

func (f *fakeAlerter) Alert(_ context.Context, tenantID, checkType, _ string) {
	f.alerts = append(f.alerts, tenantID+"/"+checkType)
}

func newVerificationFixture(store *memoryStore, lag *fakeLagSource) (*VerificationService, *fakeVerificationLog, *fakeAlerter) {
	log := &fakeVerificationLog{}
	alerter := &fakeAlerter{}
	m := metrics.New(prometheus.NewRegistry())
	svc := NewVerificationService(store, log, lag, alerter, m, config.Defaults().Audit, zap.NewNop())
	return svc, log, alerter
}

func TestContinuousCheckPassesCleanChain(t *testing.T) {
	store := newMemoryStore()
	writer := NewChainWriter(store, store, zap.NewNop())
	for i := 1; i <= 5; i++ {
		_, err := writer.Process(context.Background(), testEvent("t1", i))
		require.NoError(t, err)
	}

	svc, log, alerter := newVerificationFixture(store, &fakeLagSource{})
	require.NoError(t, svc.RunContinuous(context.Background()))

	require.Len(t, log.entries, 1)
	assert.Equal(t, CheckContinuous, log.entries[0].VerificationType)
	assert.True(t, log.entries[0].ChainValid)
	assert.Equal(t, 6, log.entries[0].RecordsChecked) // genesis + 5
	assert.Empty(t, alerter.alerts)
}

func TestDailyFullCheckAlertsOnTamper(t *testing.T) {
	store := newMemoryStore()
	writer := NewChainWriter(store, store, zap.NewNop())
	for i := 1; i <= 5; i++ {
		_, err := writer.Process(context.Background(), testEvent("t1", i))
		require.NoError(t, err)
	}
	store.tamper("t1", 3, func(r *audit.Record) { r.ActorID = "someone-else" })

	svc, log, alerter := newVerificationFixture(store, &fakeLagSource{})
	require.NoError(t, svc.RunDailyFull(context.Background()))

	require.Len(t, log.entries, 1)
	assert.False(t, log.entries[0].ChainValid)
	assert.NotEmpty(t, log.entries[0].Errors)
	assert.Equal(t, []string{"t1/" + CheckDailyFull}, alerter.alerts)
}

func TestWeeklyColdCheckCatchesStorageCorruption(t *testing.T) {
	store := newMemoryStore()
	writer := NewChainWriter(store, store, zap.NewNop())
	for i := 1; i <= 20; i++ {
		_, err := writer.Process(context.Background(), testEvent("t1", i))
		require.NoError(t, err)
	}
	// Corrupt the stored bytes of every record so the random sample is
	// guaranteed to hit at least one.
	for seq := int64(1); seq <= 20; seq++ {
		store.tamper("t1", seq, func(r *audit.Record) { r.SourceService = "rewritten" })
	}

	svc, log, alerter := newVerificationFixture(store, &fakeLagSource{})
	require.NoError(t, svc.RunWeeklyCold(context.Background()))

	require.Len(t, log.entries, 1)
	assert.Equal(t, CheckWeeklyCold, log.entries[0].VerificationType)
	assert.False(t, log.entries[0].ChainValid)
	assert.NotEmpty(t, alerter.alerts)
}

func TestHourlyLagAlertsAboveThreshold(t *testing.T) {
	store := newMemoryStore()
	writer := NewChainWriter(store, store, zap.NewNop())
	for i := 1; i <= 3; i++ {
		_, err := writer.Process(context.Background(), testEvent("t1", i))
		require.NoError(t, err)
	}

	// 3 persisted (genesis excluded), watermark far ahead of them.
	lag := &fakeLagSource{watermark: 2000}
	svc, _, alerter := newVerificationFixture(store, lag)
	require.NoError(t, svc.RunHourlyLag(context.Background()))
	assert.Equal(t, []string{"_aggregate/" + CheckHourlyLag}, alerter.alerts)
}

func TestHourlyLagQuietWhenCaughtUp(t *testing.T) {
	store := newMemoryStore()
	writer := NewChainWriter(store, store, zap.NewNop())
	for i := 1; i <= 3; i++ {
		_, err := writer.Process(context.Background(), testEvent("t1", i))
		require.NoError(t, err)
	}

	lag := &fakeLagSource{watermark: 3}
	svc, _, alerter := newVerificationFixture(store, lag)
	require.NoError(t, svc.RunHourlyLag(context.Background()))
	assert.Empty(t, alerter.alerts)
}

func TestVerificationStopIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	svc, _, _ := newVerificationFixture(store, &fakeLagSource{})

	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()

	// Restart works after a stop.
	svc.Start(context.Background())
	svc.Stop()
}
