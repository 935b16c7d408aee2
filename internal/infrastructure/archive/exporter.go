package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
)

// ExportResult describes one verified monthly export.
type ExportResult struct {
	Key      string    `json:"key"`
	Format   string    `json:"format"`
	Records  int       `json:"records"`
	Tenants  int       `json:"tenants"`
	SHA256   string    `json:"sha256"`
	Verified bool      `json:"verified"`
	Exported time.Time `json:"exported_at"`
}

// ColdExporter writes one parquet archive per month to the cold tier,
// covering every tenant, with a .sha256 sidecar. The upload is verified by
// downloading and re-hashing; a month counts as exported only when
// verification passes.
type ColdExporter struct {
	store  ObjectStore
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewColdExporter creates the exporter.
func NewColdExporter(store ObjectStore, cfg *config.Cold, logger *zap.Logger) *ColdExporter {
	return &ColdExporter{
		store:  store,
		prefix: cfg.Prefix,
		logger: logger.Named("cold_exporter"),
		now:    time.Now,
	}
}

func (e *ColdExporter) objectKey(year int, month time.Month, ext string) string {
	return fmt.Sprintf("%s/%04d-%02d/audit_records.%s", e.prefix, year, int(month), ext)
}

// sortForExport orders records by (tenant, sequence) so each tenant's chain
// segment is contiguous and replayable from the archive.
func sortForExport(records []*audit.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].TenantID != records[j].TenantID {
			return records[i].TenantID < records[j].TenantID
		}
		return records[i].SequenceNumber < records[j].SequenceNumber
	})
}

// ExportMonth archives the month's records for all tenants into a single
// blob.
func (e *ColdExporter) ExportMonth(ctx context.Context, year int, month time.Month, records []*audit.Record) (*ExportResult, error) {
	if len(records) == 0 {
		return nil, domainerrors.NewValidationError("EMPTY_EXPORT",
			fmt.Sprintf("no records for %04d-%02d", year, int(month)))
	}

	sortForExport(records)
	tenants := make(map[string]struct{})
	for _, r := range records {
		tenants[r.TenantID] = struct{}{}
	}

	format := "parquet"
	contentType := "application/vnd.apache.parquet"
	data, err := EncodeParquet(records)
	if err != nil {
		// Parquet failures must not block retention. Fall back to NDJSON and
		// keep the month exportable.
		e.logger.Warn("parquet encoding failed, falling back to ndjson",
			zap.Int("year", year), zap.Int("month", int(month)), zap.Error(err))
		format = "ndjson"
		contentType = "application/x-ndjson"
		data, err = EncodeNDJSON(records)
		if err != nil {
			return nil, fmt.Errorf("encoding export for %04d-%02d: %w", year, int(month), err)
		}
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	key := e.objectKey(year, month, format)
	if err := e.store.Put(ctx, key, data, contentType); err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, key+".sha256", []byte(digest), "text/plain"); err != nil {
		return nil, err
	}

	verified, err := e.verify(ctx, key, digest)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{
		Key:      key,
		Format:   format,
		Records:  len(records),
		Tenants:  len(tenants),
		SHA256:   digest,
		Verified: verified,
		Exported: e.now().UTC(),
	}

	if !verified {
		e.logger.Error("export verification failed", zap.String("key", key))
		return result, domainerrors.NewIntegrityError("EXPORT_MISMATCH",
			"downloaded export hash does not match uploaded content")
	}

	e.logger.Info("month exported",
		zap.String("key", key),
		zap.String("format", format),
		zap.Int("records", len(records)),
		zap.Int("tenants", len(tenants)))
	return result, nil
}

// verify downloads the object and its sidecar and re-hashes.
func (e *ColdExporter) verify(ctx context.Context, key, expected string) (bool, error) {
	data, err := e.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != expected {
		return false, nil
	}

	sidecar, err := e.store.Get(ctx, key+".sha256")
	if err != nil {
		return false, err
	}
	return string(sidecar) == expected, nil
}
