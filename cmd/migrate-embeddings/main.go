package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/database"
	infrallm "github.com/aegisops/aegis-soc-backend/internal/infrastructure/llm"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/vector"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
	"github.com/aegisops/aegis-soc-backend/internal/service/embedding"
)

// Backfill phase of the embedding model migration. Safe to interrupt and
// re-run: progress checkpoints to Postgres and upserts are idempotent.
func main() {
	var (
		collection = flag.String("collection", "", "vector collection to migrate (defaults to configured collection)")
		resume     = flag.String("resume", "", "explicit scroll offset, overriding the persisted checkpoint")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	target := *collection
	if target == "" {
		target = cfg.Vector.Collection
	}

	if err := run(ctx, cfg, target, *resume, logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, collection, resume string, logger *zap.Logger) error {
	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator := embedding.NewMigrator(
		vector.NewQdrantStore(&cfg.Vector),
		infrallm.NewHTTPEmbedder(
			cfg.Migration.EmbeddingEndpoint,
			cfg.Migration.EmbeddingAPIKey,
			cfg.Migration.NewModelID),
		database.NewMigrationCheckpointRepository(pool),
		cfg.Migration,
		metrics.New(prometheus.DefaultRegisterer),
		logger)

	cp, err := migrator.Run(ctx, collection, resume)
	if err != nil {
		return err
	}

	logger.Info("migration finished",
		zap.String("collection", collection),
		zap.Int64("points", cp.Count))
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
