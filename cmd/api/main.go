package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-telehealth/cmd/mainconfig"
	"github.com/wolfman30/medspa-telehealth/internal/api/router"
	"github.com/wolfman30/medspa-telehealth/internal/app/bootstrap"
	"github.com/wolfman30/medspa-telehealth/internal/appointments"
	"github.com/wolfman30/medspa-telehealth/internal/artifacts"
	"github.com/wolfman30/medspa-telehealth/internal/compliance"
	appconfig "github.com/wolfman30/medspa-telehealth/internal/config"
	httpmiddleware "github.com/wolfman30/medspa-telehealth/internal/http/middleware"
	"github.com/wolfman30/medspa-telehealth/internal/observability/metrics"
	"github.com/wolfman30/medspa-telehealth/internal/patientlink"
	"github.com/wolfman30/medspa-telehealth/internal/summary"
	"github.com/wolfman30/medspa-telehealth/internal/telehealth"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting medspa-telehealth API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	var sqlDB *sql.DB
	if pool != nil {
		defer pool.Close()
		sqlDB = stdlib.OpenDBFromPool(pool)
		defer sqlDB.Close()
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var awsCfg *aws.Config
	if cfg.UsesAWS() {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	metricsHandler, telehealthMetrics := setupMetrics()

	wiring, err := bootstrap.BuildEventBus(cfg, pool, sqlDB, redisClient, logger)
	if err != nil {
		logger.Error("failed to configure event bus", "error", err)
		os.Exit(1)
	}

	var workers sync.WaitGroup
	if wiring.Listen != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := wiring.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event listener stopped", "error", err)
			}
		}()
	}
	if deliverer := wiring.Deliverer(cfg, logger); deliverer != nil && cfg.OutboxInline {
		workers.Add(1)
		go func() {
			defer workers.Done()
			deliverer.Start(ctx)
		}()
	}

	stores := buildStorage(pool)
	var auditor *compliance.AuditService
	if sqlDB != nil {
		auditor = compliance.NewAuditService(sqlDB)
	}

	// Initialize services
	manager := telehealth.NewManager(stores.sessions, stores.directory, logger).
		WithPublisher(wiring.Publisher).
		WithMetrics(telehealthMetrics)
	if auditor != nil {
		manager.WithAuditor(auditor)
	}

	aggregator := artifacts.NewAggregator(stores.sessions, stores.artifacts.Transcripts(), stores.artifacts.Notes(), stores.artifacts.Chat(), logger)

	llmClient, closeLLM, err := bootstrap.BuildSummaryClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to configure summary provider", "error", err)
		os.Exit(1)
	}
	defer closeLLM()

	infra := bootstrap.BuildSummaryInfra(cfg, awsCfg, logger)
	generator := summary.NewGenerator(manager, stores.sessions, aggregator, llmClient, summary.Options{
		Timeout:   cfg.SummaryTimeout,
		MaxTokens: int32(cfg.SummaryMaxTokens),
		Validate:  cfg.SummaryValidation,
	}, logger).
		WithJobStore(infra.Jobs).
		WithRetryQueue(summary.NewRetryQueue(infra.Queue)).
		WithPublisher(wiring.Publisher).
		WithMetrics(telehealthMetrics)
	if infra.Archiver != nil {
		generator.WithArchiver(infra.Archiver)
	}
	if auditor != nil {
		generator.WithAuditor(auditor)
	}

	var retryWorker *summary.RetryWorker
	if infra.InlineQueue {
		retryWorker = summary.NewRetryWorker(infra.Queue, stores.sessions, cfg.SummaryRetryMaxAttempts, logger).
			WithMetrics(telehealthMetrics)
		retryWorker.Start(ctx)
	}

	// Initialize handlers
	sessionHandler := telehealth.NewHandler(manager, logger).WithWatch(wiring.Bus, cfg.WatchPollInterval)
	artifactHandler := artifacts.NewHandler(manager, stores.artifacts.Transcripts(), stores.artifacts.Notes(), stores.artifacts.Chat(), logger)
	summaryHandler := summary.NewHandler(generator, logger)

	var patientLinkHandler *patientlink.Handler
	issuer, err := patientlink.NewIssuer(stores.directory, stores.credentials, cfg.PatientLinkSecret, cfg.PatientLinkTTL, cfg.PatientPortalBaseURL, logger)
	if err != nil {
		logger.Warn("patient links disabled", "error", err)
	} else {
		patientLinkHandler = patientlink.NewHandler(issuer, logger)
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.SummaryRatePerMinute/60, cfg.SummaryRateBurst)
	workers.Add(1)
	go func() {
		defer workers.Done()
		evictIdle(ctx, limiter, 10*time.Minute)
	}()

	// Setup router
	routerCfg := &router.Config{
		Logger:             logger,
		SessionHandler:     sessionHandler,
		ArtifactHandler:    artifactHandler,
		SummaryHandler:     summaryHandler,
		PatientLinkHandler: patientLinkHandler,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		AuthJWTSecret:      cfg.AuthJWTSecret,
		PatientLinkSecret:  cfg.PatientLinkSecret,
		SummaryLimiter:     limiter,
		HealthChecks:       healthChecks(pool, redisClient),
	}
	r := router.New(routerCfg)

	// Create HTTP server. WriteTimeout stays above the summary timeout so a
	// completed generation is not cut off mid-response.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SummaryTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	cancel()
	if retryWorker != nil {
		retryWorker.Wait()
	}
	waitWithTimeout(&workers, 10*time.Second, logger)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

type artifactStores interface {
	Transcripts() artifacts.TranscriptStore
	Notes() artifacts.NoteStore
	Chat() artifacts.ChatStore
}

type storage struct {
	sessions    telehealth.Store
	directory   appointments.Directory
	artifacts   artifactStores
	credentials patientlink.CredentialStore
}

// buildStorage picks Postgres stores when a pool is available. The in-memory
// directory starts empty; it exists so the server boots for local work.
func buildStorage(pool *pgxpool.Pool) storage {
	if pool == nil {
		return storage{
			sessions:    telehealth.NewInMemoryStore(),
			directory:   appointments.NewInMemoryDirectory(),
			artifacts:   artifacts.NewInMemoryStore(),
			credentials: patientlink.NewMemoryCredentialStore(),
		}
	}
	return storage{
		sessions:    telehealth.NewPostgresStore(pool),
		directory:   appointments.NewPostgresDirectory(pool),
		artifacts:   artifacts.NewPostgresStore(pool),
		credentials: patientlink.NewPostgresCredentialStore(pool),
	}
}

func setupMetrics() (http.Handler, *metrics.TelehealthMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewTelehealthMetrics(reg)
}

func healthChecks(pool *pgxpool.Pool, redisClient *redis.Client) map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}

func evictIdle(ctx context.Context, limiter *httpmiddleware.RateLimiter, maxIdle time.Duration) {
	ticker := time.NewTicker(maxIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Evict(maxIdle)
		}
	}
}

func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Error("background workers did not stop in time")
	}
}
