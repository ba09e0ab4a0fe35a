// Package bootstrap turns configuration into the runtime dependencies shared
// by cmd/api and cmd/summary-worker.
package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/medspa-telehealth/internal/config"
	"github.com/wolfman30/medspa-telehealth/internal/events"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool connects to DATABASE_URL. An empty URL returns a nil pool
// and the caller falls back to in-memory stores.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("connected to postgres")
	return pool, nil
}

// EventWiring is the session event fan-out for one process.
type EventWiring struct {
	// Bus is what watchers subscribe to and what the outbox delivers into.
	Bus events.Bus
	// Publisher is what the lifecycle manager and summary generator write to:
	// the outbox when Postgres is configured, the bus otherwise.
	Publisher events.Publisher
	Outbox    *events.OutboxStore
	// Listen is non-nil for buses that need a background receive loop.
	Listen func(ctx context.Context) error
}

// BuildEventBus selects the bus named by EVENT_BUS.
func BuildEventBus(cfg *appconfig.Config, pool *pgxpool.Pool, db *sql.DB, redisClient *redis.Client, logger *logging.Logger) (*EventWiring, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	wiring := &EventWiring{}
	switch cfg.EventBus {
	case "", "memory":
		wiring.Bus = events.NewMemoryBus()
	case "redis":
		if redisClient == nil {
			return nil, errors.New("bootstrap: EVENT_BUS=redis requires REDIS_ADDR")
		}
		wiring.Bus = events.NewRedisBus(redisClient, logger)
	case "postgres":
		if db == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, errors.New("bootstrap: EVENT_BUS=postgres requires DATABASE_URL")
		}
		bus := events.NewPostgresBus(db, cfg.DatabaseURL, logger)
		wiring.Bus = bus
		wiring.Listen = bus.Listen
	default:
		return nil, fmt.Errorf("bootstrap: unknown EVENT_BUS %q", cfg.EventBus)
	}

	wiring.Publisher = wiring.Bus
	if pool != nil {
		wiring.Outbox = events.NewOutboxStore(pool)
		wiring.Publisher = wiring.Outbox
	}
	logger.Info("session event bus configured", "bus", busName(cfg.EventBus), "outbox", wiring.Outbox != nil)
	return wiring, nil
}

// Deliverer forwards outbox rows into the bus, or returns nil when there is
// no outbox.
func (w *EventWiring) Deliverer(cfg *appconfig.Config, logger *logging.Logger) *events.Deliverer {
	if w == nil || w.Outbox == nil {
		return nil
	}
	return events.NewDeliverer(w.Outbox, w.Bus, logger).WithInterval(cfg.OutboxPollInterval)
}

func busName(name string) string {
	if name == "" {
		return "memory"
	}
	return name
}
