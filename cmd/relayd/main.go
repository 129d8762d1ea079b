package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamflow/relay/pkg/audit"
	"github.com/streamflow/relay/pkg/config"
	"github.com/streamflow/relay/pkg/httputil"
	"github.com/streamflow/relay/pkg/observability"
	"github.com/streamflow/relay/pkg/webhooks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting relayd")

	ctx := context.Background()

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	auditStore, err := audit.NewDBStore(db)
	if err != nil {
		return err
	}
	recorder := audit.NewRecorder(auditStore, logger,
		audit.WithRecorderMetrics(metrics.AuditAppendsTotal, metrics.AuditDroppedTotal))

	webhookStore, err := webhooks.NewDBStore(db)
	if err != nil {
		return err
	}

	endpointRegistry := webhooks.NewRegistry(webhookStore, webhooks.RegistryConfig{
		DefaultMaxRetries:   cfg.Webhooks.DefaultMaxRetries,
		DeactivateThreshold: cfg.Webhooks.DeactivateThreshold,
	}, recorder, logger, metrics)

	policy := webhooks.NewRetryPolicy(webhooks.RetryConfig{
		BaseDelay:         cfg.Webhooks.BaseRetryDelay,
		MaxDelay:          cfg.Webhooks.MaxRetryDelay,
		BackoffMultiplier: cfg.Webhooks.BackoffMultiplier,
	})

	limiter, redisClient, err := buildLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	engine := webhooks.NewEngine(webhookStore, endpointRegistry, policy, limiter, recorder, logger, metrics, webhooks.EngineConfig{
		RequestTimeout:   cfg.Webhooks.RequestTimeout,
		MaxResponseBytes: int64(cfg.Webhooks.MaxResponseBytes),
	})
	emitter := webhooks.NewEmitter(webhookStore, engine, logger, metrics)

	sweeper := webhooks.NewSweeper(webhookStore, engine, logger, webhooks.SweeperConfig{
		Interval:   cfg.Webhooks.SweepInterval,
		BatchSize:  cfg.Webhooks.SweepBatchSize,
		ClaimLease: cfg.Webhooks.StaleClaimAfter,
	})
	sweeper.Start(ctx)
	logger.Infof("Retry sweeper started, interval %s", cfg.Webhooks.SweepInterval)

	router := mux.NewRouter()
	router.Use(metrics.HTTPMetricsMiddleware)

	webhooks.NewHandlers(endpointRegistry, emitter, engine, webhookStore, logger).RegisterRoutes(router)
	audit.NewHandlers(auditStore, logger).RegisterRoutes(router)

	router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		sweeper.Stop()
		return nil
	})
	if tp != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		})
	}

	go func() {
		logger.Infof("Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	return shutdown.WaitForShutdown()
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// buildLimiter returns the Redis-backed limiter when Redis is configured,
// otherwise the in-process one
func buildLimiter(ctx context.Context, cfg *config.Config, logger *observability.Logger) (webhooks.Limiter, *redis.Client, error) {
	if cfg.Redis.URL == "" {
		logger.Info("Redis not configured, using in-process delivery rate limiter")
		return webhooks.NewRateLimiter(cfg.Webhooks.RateLimitPerMinute, time.Minute), nil, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	opts.DB = cfg.Redis.DB

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Connected to Redis, using distributed delivery rate limiter")
	return webhooks.NewRedisRateLimiter(client, cfg.Webhooks.RateLimitPerMinute, time.Minute), client, nil
}
