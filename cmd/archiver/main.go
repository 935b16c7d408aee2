package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/archive"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/database"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
	auditsvc "github.com/aegisops/aegis-soc-backend/internal/service/audit"
)

// The archiver is a scheduled job, not a daemon: one retention pass per
// invocation, driven by cron or a Kubernetes CronJob.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("archiver failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := archive.NewS3ObjectStore(ctx, &cfg.Cold)
	if err != nil {
		return err
	}
	if err := archive.EnsureLifecycle(ctx, store.Client(), cfg.Cold.Bucket, cfg.Cold.Prefix); err != nil {
		return err
	}

	retention := auditsvc.NewRetentionService(
		database.NewAuditRepository(pool),
		database.NewPartitionRepository(pool, logger),
		archive.NewColdExporter(store, &cfg.Cold, logger),
		database.NewColdExportRepository(pool),
		m, cfg.Audit, logger)

	if err := retention.RunMonthly(ctx); err != nil {
		return err
	}

	logger.Info("retention pass complete")
	return nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
