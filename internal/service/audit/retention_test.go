package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/domain/errors"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/archive"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

func monthKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

type fakePartitions struct {
	created []time.Time
	months  []time.Time // still-attached partition months
	dropped []string
}

func (f *fakePartitions) CreateNextPartitions(_ context.Context, from time.Time, k int) error {
	f.created = append(f.created, from)
	return nil
}

func (f *fakePartitions) DropMonth(_ context.Context, year int, month time.Month) error {
	f.dropped = append(f.dropped, monthKey(year, month))
	return nil
}

func (f *fakePartitions) ListMonthsThrough(_ context.Context, year int, month time.Month) ([]time.Time, error) {
	cutoff := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	var out []time.Time
	for _, m := range f.months {
		if !m.After(cutoff) {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeExporter struct {
	exported map[string]int // "yyyy-mm" -> record count
	tenants  map[string]int // "yyyy-mm" -> tenant count
	fail     map[string]bool
}

func (f *fakeExporter) ExportMonth(_ context.Context, year int, month time.Month, records []*audit.Record) (*archive.ExportResult, error) {
	key := monthKey(year, month)
	if f.fail[key] {
		return nil, errors.NewInternalError("simulated export failure")
	}
	distinct := make(map[string]struct{})
	for _, r := range records {
		distinct[r.TenantID] = struct{}{}
	}
	if f.exported == nil {
		f.exported = make(map[string]int)
		f.tenants = make(map[string]int)
	}
	f.exported[key] = len(records)
	f.tenants[key] = len(distinct)
	return &archive.ExportResult{
		Key:      "cold/" + key + "/audit_records.parquet",
		Format:   "parquet",
		Records:  len(records),
		Tenants:  len(distinct),
		SHA256:   "deadbeef",
		Verified: true,
		Exported: time.Now().UTC(),
	}, nil
}

type fakeExportLog struct {
	verified map[string]bool // "yyyy-mm" -> verified
}

func (f *fakeExportLog) Record(_ context.Context, result *archive.ExportResult, year int, month time.Month) error {
	if f.verified == nil {
		f.verified = make(map[string]bool)
	}
	f.verified[monthKey(year, month)] = result.Verified
	return nil
}

func (f *fakeExportLog) Verified(_ context.Context, year int, month time.Month) (bool, error) {
	return f.verified[monthKey(year, month)], nil
}

func newRetentionFixture(t *testing.T, cfg config.Audit) (*RetentionService, *memoryStore, *fakePartitions, *fakeExporter, *fakeExportLog) {
	t.Helper()
	store := newMemoryStore()
	parts := &fakePartitions{}
	exporter := &fakeExporter{fail: map[string]bool{}}
	log := &fakeExportLog{}
	m := metrics.New(prometheus.NewRegistry())
	svc := NewRetentionService(store, parts, exporter, log, m, cfg, zap.NewNop())
	return svc, store, parts, exporter, log
}

func seedMonth(t *testing.T, store *memoryStore, tenantID string, year int, month time.Month, n int) {
	t.Helper()
	ts := time.Date(year, month, 10, 8, 0, 0, 0, time.UTC)
	writer := NewChainWriter(store, store, zap.NewNop()).
		WithClock(func() time.Time { return ts })
	for i := 0; i < n; i++ {
		_, err := writer.Process(context.Background(), &audit.Event{
			TenantID:      tenantID,
			Timestamp:     ts.Add(time.Duration(i) * time.Minute),
			EventType:     audit.EventAlertClassified,
			Severity:      audit.SeverityInfo,
			ActorType:     audit.ActorSystem,
			ActorID:       "triage-agent",
			SourceService: "test",
		})
		require.NoError(t, err)
	}
}

func TestExportMonthSingleBlobAcrossTenants(t *testing.T) {
	svc, store, _, exporter, log := newRetentionFixture(t, config.Defaults().Audit)

	seedMonth(t, store, "tenant-a", 2026, time.June, 3)
	seedMonth(t, store, "tenant-b", 2026, time.June, 2)
	seedMonth(t, store, "tenant-a", 2026, time.July, 1)

	require.NoError(t, svc.ExportMonth(context.Background(), 2026, time.June))

	// One blob covers both tenants: 3+2 writes plus each tenant's genesis,
	// which carries the seed timestamp too. July stays untouched.
	assert.Equal(t, 7, exporter.exported["2026-06"])
	assert.Equal(t, 2, exporter.tenants["2026-06"])
	assert.NotContains(t, exporter.exported, "2026-07")

	assert.True(t, log.verified["2026-06"])
}

func TestExportMonthSurfacesFailure(t *testing.T) {
	svc, store, _, exporter, log := newRetentionFixture(t, config.Defaults().Audit)

	seedMonth(t, store, "tenant-a", 2026, time.June, 2)
	exporter.fail["2026-06"] = true

	require.Error(t, svc.ExportMonth(context.Background(), 2026, time.June))
	assert.False(t, log.verified["2026-06"])
}

func TestDropRequiresVerifiedExport(t *testing.T) {
	svc, store, parts, _, log := newRetentionFixture(t, config.Defaults().Audit)
	ctx := context.Background()

	seedMonth(t, store, "tenant-a", 2025, time.May, 2)

	// No export logged: the partition stays.
	require.NoError(t, svc.DropMonthIfEligible(ctx, 2025, time.May))
	assert.Empty(t, parts.dropped)

	// Verified export unlocks the drop.
	log.verified = map[string]bool{"2025-05": true}
	require.NoError(t, svc.DropMonthIfEligible(ctx, 2025, time.May))
	assert.Equal(t, []string{"2025-05"}, parts.dropped)
}

func TestDropBlockedByLegalHold(t *testing.T) {
	cfg := config.Defaults().Audit
	cfg.LegalHoldTenants = []string{"tenant-a"}
	svc, store, parts, _, log := newRetentionFixture(t, cfg)
	ctx := context.Background()

	seedMonth(t, store, "tenant-a", 2025, time.May, 2)
	log.verified = map[string]bool{"2025-05": true}

	require.NoError(t, svc.DropMonthIfEligible(ctx, 2025, time.May))
	assert.Empty(t, parts.dropped)
}

func TestDropEmptyMonth(t *testing.T) {
	svc, _, parts, _, _ := newRetentionFixture(t, config.Defaults().Audit)

	require.NoError(t, svc.DropMonthIfEligible(context.Background(), 2024, time.January))
	assert.Equal(t, []string{"2024-01"}, parts.dropped)
}

func TestRunMonthlyTargetsExpectedMonths(t *testing.T) {
	svc, store, parts, exporter, _ := newRetentionFixture(t, config.Defaults().Audit)
	svc.now = func() time.Time {
		return time.Date(2026, time.August, 24, 4, 0, 0, 0, time.UTC)
	}

	// Export target is N-2 (June); drop cutoff is N-13 (July 2025).
	seedMonth(t, store, "tenant-a", 2026, time.June, 1)
	parts.months = []time.Time{
		time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC), // inside warm window
	}

	require.NoError(t, svc.RunMonthly(context.Background()))

	assert.Len(t, parts.created, 1)
	assert.Contains(t, exporter.exported, "2026-06")
	// July 2025 has no records, so the empty partition is dropped; June 2026
	// is newer than the cutoff and never examined.
	assert.Equal(t, []string{"2025-07"}, parts.dropped)
}

func TestRunMonthlyRevisitsMonthsPastCutoff(t *testing.T) {
	svc, store, parts, _, log := newRetentionFixture(t, config.Defaults().Audit)
	svc.now = func() time.Time {
		return time.Date(2026, time.August, 24, 4, 0, 0, 0, time.UTC)
	}

	// Two months past the N-13 cutoff are still warm: May was skipped on an
	// earlier pass and has since gained a verified export, June has not.
	seedMonth(t, store, "tenant-a", 2025, time.May, 2)
	seedMonth(t, store, "tenant-b", 2025, time.June, 2)
	parts.months = []time.Time{
		time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
	log.verified = map[string]bool{"2025-05": true}

	require.NoError(t, svc.RunMonthly(context.Background()))

	assert.Contains(t, parts.dropped, "2025-05")
	assert.NotContains(t, parts.dropped, "2025-06")
}
