package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aegisops/aegis-soc-backend/internal/domain/audit"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/archive"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
)

// MonthExporter archives one month to cold storage. The cold exporter
// implements it.
type MonthExporter interface {
	ExportMonth(ctx context.Context, year int, month time.Month, records []*audit.Record) (*archive.ExportResult, error)
}

// ExportLog persists export outcomes so the drop gate can prove a month was
// archived before its partition goes away.
type ExportLog interface {
	Record(ctx context.Context, result *archive.ExportResult, year int, month time.Month) error
	// Verified reports whether the month has a verified export.
	Verified(ctx context.Context, year int, month time.Month) (bool, error)
}

// RetentionService runs the warm-to-cold lifecycle: create partitions ahead
// of insertion, export closed months, and drop partitions that have aged out
// of the warm window. A partition is dropped only when all three gates hold:
// the month's export is verified, the month is past warm retention plus
// buffer, and no tenant in the month is under legal hold.
type RetentionService struct {
	records    audit.RecordRepository
	partitions audit.PartitionRepository
	exporter   MonthExporter
	exports    ExportLog
	metrics    *metrics.Metrics
	cfg        config.Audit
	logger     *zap.Logger
	now        func() time.Time
}

// NewRetentionService creates the service.
func NewRetentionService(
	records audit.RecordRepository,
	partitions audit.PartitionRepository,
	exporter MonthExporter,
	exports ExportLog,
	m *metrics.Metrics,
	cfg config.Audit,
	logger *zap.Logger,
) *RetentionService {
	return &RetentionService{
		records:    records,
		partitions: partitions,
		exporter:   exporter,
		exports:    exports,
		metrics:    m,
		cfg:        cfg,
		logger:     logger.Named("retention"),
		now:        time.Now,
	}
}

// RunMonthly performs one lifecycle pass. Steps are independent: a failed
// export never blocks partition creation. The drop pass revisits every
// still-present partition past the cutoff, so a month that was ineligible
// on one pass (export unverified, tenant under hold) is re-examined on the
// next.
func (s *RetentionService) RunMonthly(ctx context.Context) error {
	now := s.now().UTC()

	if err := s.partitions.CreateNextPartitions(ctx, now, s.cfg.PartitionsAhead); err != nil {
		s.logger.Error("partition creation failed", zap.Error(err))
	}

	// Month N-2 is closed and settled; N-1 may still receive late events.
	exportYear, exportMonth := addMonths(now, -2)
	if err := s.ExportMonth(ctx, exportYear, exportMonth); err != nil {
		s.logger.Error("month export failed",
			zap.Int("year", exportYear),
			zap.Int("month", int(exportMonth)),
			zap.Error(err))
	}

	cutoffYear, cutoffMonth := addMonths(now, -(s.cfg.WarmRetentionMonths + s.cfg.RetentionBufferMonths))
	months, err := s.partitions.ListMonthsThrough(ctx, cutoffYear, cutoffMonth)
	if err != nil {
		s.logger.Error("partition listing failed", zap.Error(err))
		return nil
	}
	for _, m := range months {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.DropMonthIfEligible(ctx, m.Year(), m.Month()); err != nil {
			s.logger.Error("partition drop failed",
				zap.Int("year", m.Year()),
				zap.Int("month", int(m.Month())),
				zap.Error(err))
		}
	}
	return nil
}

// ExportMonth archives the month's records across all tenants into one cold
// blob and logs the outcome.
func (s *RetentionService) ExportMonth(ctx context.Context, year int, month time.Month) error {
	all, err := s.records.GetMonth(ctx, year, month)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		s.logger.Info("no records to export",
			zap.Int("year", year), zap.Int("month", int(month)))
		return nil
	}

	result, err := s.exporter.ExportMonth(ctx, year, month, all)
	if err != nil {
		s.metrics.ExportsVerified.WithLabelValues("failed").Inc()
		return err
	}
	if err := s.exports.Record(ctx, result, year, month); err != nil {
		return err
	}
	s.metrics.ExportsVerified.WithLabelValues("verified").Inc()
	return nil
}

// DropMonthIfEligible drops the month's partition when all three retention
// gates pass. Ineligibility is not an error; the month stays warm until a
// later pass finds it eligible.
func (s *RetentionService) DropMonthIfEligible(ctx context.Context, year int, month time.Month) error {
	tenants, err := s.records.TenantsInMonth(ctx, year, month)
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		// Empty partitions carry nothing worth keeping.
		return s.drop(ctx, year, month)
	}

	for _, tenantID := range tenants {
		if s.underLegalHold(tenantID) {
			s.logger.Info("partition retained, tenant under legal hold",
				zap.String("tenant_id", tenantID),
				zap.Int("year", year),
				zap.Int("month", int(month)))
			return nil
		}
	}

	verified, err := s.exports.Verified(ctx, year, month)
	if err != nil {
		return err
	}
	if !verified {
		s.logger.Warn("partition retained, export not verified",
			zap.Int("year", year), zap.Int("month", int(month)))
		return nil
	}

	return s.drop(ctx, year, month)
}

func (s *RetentionService) drop(ctx context.Context, year int, month time.Month) error {
	if err := s.partitions.DropMonth(ctx, year, month); err != nil {
		return err
	}
	s.metrics.PartitionsDropped.Inc()
	s.logger.Info("partition dropped",
		zap.Int("year", year), zap.Int("month", int(month)))
	return nil
}

func (s *RetentionService) underLegalHold(tenantID string) bool {
	for _, held := range s.cfg.LegalHoldTenants {
		if held == tenantID {
			return true
		}
	}
	return false
}

// addMonths returns the (year, month) delta months away from t, normalized.
func addMonths(t time.Time, delta int) (int, time.Month) {
	shifted := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, delta, 0)
	return shifted.Year(), shifted.Month()
}
