package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/cache"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/config"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/database"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/events"
	"github.com/aegisops/aegis-soc-backend/internal/infrastructure/graph"
	infrallm "github.com/aegisops/aegis-soc-backend/internal/infrastructure/llm"
	"github.com/aegisops/aegis-soc-backend/internal/metrics"
	auditsvc "github.com/aegisops/aegis-soc-backend/internal/service/audit"
	"github.com/aegisops/aegis-soc-backend/internal/service/autonomy"
	"github.com/aegisops/aegis-soc-backend/internal/service/detection"
	llmsvc "github.com/aegisops/aegis-soc-backend/internal/service/llm"
)

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
		logger.Fatal("backend exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	killSwitches := cache.NewKillSwitchStore(redisClient, logger)
	fpCache := cache.NewFPConfidenceCache(redisClient, 24*time.Hour, logger)

	publisher := events.NewKafkaPublisher(&cfg.Kafka, logger)
	defer publisher.Close()
	dlq := events.NewDeadLetterRouter(publisher, logger)
	auditPublisher := events.NewAuditPublisher(publisher, dlq, "api", logger)

	// Audit chain: consumer feeding the single writer, plus the verification
	// scheduler watching the chains it produces.
	auditRepo := database.NewAuditRepository(pool)
	chainStates := database.NewChainStateRepository(pool)
	writer := auditsvc.NewChainWriter(auditRepo, chainStates, logger)
	consumer := events.NewAuditConsumer(&cfg.Kafka, writer, dlq, logger)
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("audit consumer stopped", zap.Error(err))
		}
	}()

	verification := auditsvc.NewVerificationService(
		auditRepo,
		database.NewVerificationLogRepository(pool),
		events.NewLagProbe(&cfg.Kafka),
		&auditsvc.LogAlerter{Logger: logger},
		m, cfg.Audit, logger)
	verification.Start(ctx)
	defer verification.Stop()

	// LLM pipeline: providers behind breakers, router, admission controls,
	// and one worker per priority queue.
	providers := infrallm.NewRegistry()
	providers.Register(infrallm.NewAnthropicProvider(cfg.Routing.AnthropicAPIKey))
	providers.Register(infrallm.NewOpenAIProvider(cfg.Routing.OpenAIAPIKey))

	health := llmsvc.NewHealthMonitor("anthropic", []string{"anthropic", "openai"}, cfg.Breaker, m, logger)
	escalation := llmsvc.NewEscalationController(cfg.Limits, m)
	router := llmsvc.NewRouter(cfg.Routing, health, escalation, m, logger)
	concurrency := llmsvc.NewConcurrencyController(cfg.Limits, m)
	quota := llmsvc.NewTenantQuota(cfg.Limits, m)
	dispatcher := llmsvc.NewDispatcher(router, health, concurrency, quota, providers, logger)

	for _, priority := range []string{"critical", "high", "normal", "low"} {
		worker := llmsvc.NewWorker(dispatcher, auditPublisher, priority, logger)
		jobs := events.NewJobConsumer(&cfg.Kafka, priority, worker, dlq, logger)
		go func(priority string) {
			if err := jobs.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("job consumer stopped",
					zap.String("priority", priority), zap.Error(err))
			}
		}(priority)
	}

	// Autonomy safety loop.
	closures := database.NewClosureRepository(pool)
	sampler := autonomy.NewSampler(cfg.Autonomy)
	detector := autonomy.NewFNDetector(m, logger)
	guard := autonomy.NewGuard(cfg.Autonomy, auditPublisher, m, logger)
	drift := autonomy.NewDriftDetector(cfg.Drift, sampler, auditPublisher, m, logger)
	canary := autonomy.NewCanaryManager(
		database.NewCanaryRepository(pool), closures, killSwitches,
		auditPublisher, m, cfg.Canary, logger)
	adjuster := autonomy.NewThresholdAdjuster(cfg.Drift, drift)
	scheduler := autonomy.NewScheduler(
		closures, database.NewAlertStatsRepository(pool),
		sampler, detector, guard, drift, canary, fpCache,
		adjuster, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Detection rules.
	registry := detection.NewRegistry()
	rules := []detection.Rule{
		&detection.PromptInjectionSpikeRule{},
		&detection.CredentialStuffingRule{},
		&detection.ModelExtractionRule{},
		&detection.LateralMovementFanoutRule{Graph: graph.NewNeo4jStore(&cfg.Graph)},
	}
	for _, rule := range rules {
		if err := registry.Register(rule); err != nil {
			return err
		}
	}
	runner := detection.NewRunner(registry, pool, publisher, killSwitches,
		auditPublisher, cfg.Detection, m, logger)
	runner.Start(ctx)
	defer runner.Stop()

	// Metrics and liveness.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("backend started",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg *config.Config) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Environment == "development" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
