package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/nolabru/psiconnect/internal/config"
	auditworker "github.com/nolabru/psiconnect/internal/worker"
	"github.com/nolabru/psiconnect/internal/repository/postgres"
	"github.com/nolabru/psiconnect/pkg/logger"
	"github.com/nolabru/psiconnect/pkg/messaging/redis"
	"github.com/nolabru/psiconnect/pkg/metrics"
	"github.com/nolabru/psiconnect/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Console: cfg.Log.Console,
		Output:  os.Stdout,
	})
	log.Logger = appLogger.ZL

	if cfg.Storage.Driver != config.StorageDriverPostgres {
		log.Fatal().Str("driver", cfg.Storage.Driver).Msg("The outbox worker needs the postgres driver")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
	}, appLogger.ZL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Redis broker")
	}
	defer broker.Close()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics("psiconnect_worker", registry)

	base := postgres.NewBaseRepository(db)
	processor, err := worker.NewOutboxProcessor(
		postgres.NewOutboxRepository(base),
		broker,
		worker.OutboxProcessorConfig{
			Channel:         cfg.Redis.Channel,
			BatchSize:       cfg.Outbox.BatchSize,
			PollInterval:    cfg.Outbox.PollInterval,
			RetryAttempts:   cfg.Outbox.RetryAttempts,
			CleanupInterval: cfg.Outbox.CleanupInterval,
			Retention:       cfg.Outbox.Retention,
		},
		appLogger.WithFields(map[string]interface{}{"component": "outbox"}),
		m,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid outbox configuration")
	}

	srv := healthServer(cfg.Server.Port, registry, db, broker)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Health server failed")
		}
	}()

	auditCleanup := auditworker.NewAuditCleanupWorker(
		postgres.NewAuditRepository(base),
		cfg.Audit.RetentionDays,
		cfg.Audit.CleanupInterval,
		appLogger.WithFields(map[string]interface{}{"component": "audit_cleanup"}),
	)
	go auditCleanup.Start(ctx)

	processor.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("Worker exited")
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func healthServer(port int, registry *prometheus.Registry, deps ...pinger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, d := range deps {
			if err := d.PingContext(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
}
