package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/medidash/internal/adapter/httpserver"
	"github.com/pscheid92/medidash/internal/adapter/kafka"
	"github.com/pscheid92/medidash/internal/adapter/metrics"
	"github.com/pscheid92/medidash/internal/adapter/postgres"
	"github.com/pscheid92/medidash/internal/adapter/redis"
	"github.com/pscheid92/medidash/internal/adapter/token"
	"github.com/pscheid92/medidash/internal/adapter/websocket"
	"github.com/pscheid92/medidash/internal/app"
	"github.com/pscheid92/medidash/internal/broadcast"
	"github.com/pscheid92/medidash/internal/domain"
	"github.com/pscheid92/medidash/internal/notification"
	"github.com/pscheid92/medidash/internal/platform/config"
	"github.com/pscheid92/medidash/internal/platform/logging"
	"github.com/pscheid92/medidash/internal/platform/retry"
	"github.com/pscheid92/medidash/internal/platform/telemetry"
	"github.com/pscheid92/medidash/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	healthTimeout   = 2 * time.Second
)

type instruments struct {
	http         *metrics.HTTPMetrics
	websocket    *metrics.WebSocketMetrics
	notification *metrics.NotificationMetrics
	relay        *metrics.RelayMetrics
	db           *metrics.DBMetrics
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(ctx context.Context, cfg *config.Config, m *metrics.DBMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	policy := retry.Startup
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Database not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	}

	pool, err := retry.Do(ctx, policy, retry.Always, func() (*pgxpool.Pool, error) {
		return postgres.Connect(ctx, cfg.DatabaseURL, m)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config, m *metrics.RelayMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	policy := retry.Startup
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Redis not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	}

	client, err := retry.Do(ctx, policy, retry.Always, func() (*goredis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL, redis.NewMetricsHook(m), redis.NewCircuitBreakerHook(m))
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func healthChecks(pool *pgxpool.Pool, rdb *goredis.Client) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{
		{Name: "postgres", Check: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, healthTimeout)
			defer cancel()
			return pool.Ping(ctx)
		}},
	}
	if rdb != nil {
		checks = append(checks, httpserver.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, healthTimeout)
			defer cancel()
			return rdb.Ping(ctx).Err()
		}})
	}
	return checks
}

// instanceID is the hostname plus a random suffix, so restarts register fresh.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "medidash"
	}
	return host + "-" + uuid.NewString()[:8]
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "version", version.Get().String(), "env", cfg.AppEnv, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
		ServiceName:    version.Service,
		ServiceVersion: version.Version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		slog.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Error("Telemetry shutdown failed", "error", err)
		}
	}()

	reg := metrics.NewRegistry()
	m := instruments{
		http:         metrics.NewHTTPMetrics(reg),
		websocket:    metrics.NewWebSocketMetrics(reg),
		notification: metrics.NewNotificationMetrics(reg),
		relay:        metrics.NewRelayMetrics(reg),
		db:           metrics.NewDBMetrics(reg),
	}

	pool := setupDB(ctx, cfg, m.db)
	defer pool.Close()

	verifier := token.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, clock)
	authenticator := app.NewAuthenticator(postgres.NewPrincipalRepo(pool), verifier)

	registry := broadcast.NewRegistry(
		broadcast.WithClock(clock),
		broadcast.WithBufferSize(cfg.SendBufferSize),
		broadcast.WithMetrics(m.websocket),
	)

	group, groupCtx := errgroup.WithContext(ctx)

	// Without Redis every notification stays on this instance.
	var router domain.Router = registry
	var rdb *goredis.Client
	serverOpts := []httpserver.Option{httpserver.WithMetrics(m.http, metrics.Handler(reg))}
	if cfg.RedisURL != "" {
		rdb = setupRedis(ctx, cfg, m.relay)
		defer func() { _ = rdb.Close() }()

		relay := redis.NewRelay(rdb, registry, m.relay)
		router = relay
		group.Go(func() error { return relay.Run(groupCtx) })

		instances := redis.NewInstances(rdb, instanceID(), version.Version, registry, clock, redis.DefaultHeartbeat)
		group.Go(func() error { return instances.Run(groupCtx) })
		serverOpts = append(serverOpts, httpserver.WithInstances(instances))
	} else {
		slog.Info("REDIS_URL not set, notifications are delivered on this instance only")
	}

	dispatcher := notification.NewDispatcher(router,
		notification.WithClock(clock),
		notification.WithMetrics(m.notification),
		notification.WithStockThreshold(cfg.StockAlertThreshold),
	)

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		reader := kafka.NewReader(brokers, cfg.KafkaTopic, cfg.KafkaGroupID)
		defer func() { _ = reader.Close() }()

		consumer := kafka.NewConsumer(reader, dispatcher, m.relay)
		group.Go(func() error { return consumer.Run(groupCtx) })
		slog.Info("Kafka ingress enabled", "brokers", brokers, "topic", cfg.KafkaTopic)
	}

	limits := websocket.NewConnectionLimits(
		int64(cfg.MaxWebSocketConnections),
		cfg.MaxConnectionsPerIP,
		cfg.ConnectionRate,
		cfg.ConnectionBurst,
		clock,
	)
	wsHandler := websocket.NewHandler(authenticator, registry, dispatcher,
		websocket.NewCheckOrigin(cfg.AppURL, !cfg.IsProduction()),
		websocket.WithLimits(limits),
		websocket.WithMetrics(m.websocket),
	)

	serverOpts = append(serverOpts, httpserver.WithHealthChecks(healthChecks(pool, rdb)...))
	srv := httpserver.NewServer(cfg, dispatcher, authenticator, registry, wsHandler, serverOpts...)

	group.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		registry.Stop()
		return nil
	})

	if err := group.Wait(); err != nil {
		slog.Error("Server error", "error", fmt.Errorf("run: %w", err))
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
