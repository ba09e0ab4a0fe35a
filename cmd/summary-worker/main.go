package main

import (
	"context"
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/medspa-telehealth/cmd/mainconfig"
	"github.com/wolfman30/medspa-telehealth/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medspa-telehealth/internal/config"
	"github.com/wolfman30/medspa-telehealth/internal/events"
	"github.com/wolfman30/medspa-telehealth/internal/observability/metrics"
	"github.com/wolfman30/medspa-telehealth/internal/summary"
	"github.com/wolfman30/medspa-telehealth/internal/telehealth"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// The summary worker drains the write-back retry queue and, when the API is
// not delivering inline, forwards the event outbox to the shared bus.
func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if pool == nil {
		logger.Error("DATABASE_URL is required for the summary worker")
		os.Exit(1)
	}
	defer pool.Close()

	var awsCfg *aws.Config
	if cfg.SummaryRetryQueueURL != "" && !cfg.UseMemoryQueue {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	reg := prometheus.NewRegistry()
	workerMetrics := metrics.NewTelehealthMetrics(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	var wg sync.WaitGroup
	var retryWorker *summary.RetryWorker
	infra := bootstrap.BuildSummaryInfra(cfg, awsCfg, logger)
	if infra.InlineQueue {
		logger.Warn("no SQS retry queue configured; write-back retries run inside the API")
	} else {
		retryWorker = summary.NewRetryWorker(infra.Queue, telehealth.NewPostgresStore(pool), cfg.SummaryRetryMaxAttempts, logger).
			WithMetrics(workerMetrics)
		retryWorker.Start(ctx)
	}

	if deliverer := buildOutboxDeliverer(ctx, cfg, pool, logger); deliverer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deliverer.Start(ctx)
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down summary worker...")
	cancel()
	_ = metricsSrv.Close()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		if retryWorker != nil {
			retryWorker.Wait()
		}
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("summary worker stopped")
	case <-doneCtx.Done():
		logger.Error("summary worker shutdown timed out", "error", doneCtx.Err())
	}
}

// buildOutboxDeliverer returns nil when the API delivers inline or when the
// bus is process-local, since a memory bus here would reach no watcher.
func buildOutboxDeliverer(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) *events.Deliverer {
	if cfg.OutboxInline || pool == nil {
		return nil
	}
	if cfg.EventBus == "" || cfg.EventBus == "memory" {
		logger.Warn("OUTBOX_INLINE=false needs a shared EVENT_BUS; outbox delivery skipped")
		return nil
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	wiring, err := bootstrap.BuildEventBus(cfg, pool, stdlib.OpenDBFromPool(pool), redisClient, logger)
	if err != nil {
		logger.Error("outbox delivery disabled", "error", err)
		return nil
	}
	return wiring.Deliverer(cfg, logger)
}
