package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nolabru/psiconnect/internal/app"
	"github.com/nolabru/psiconnect/internal/config"
	"github.com/nolabru/psiconnect/internal/handler/health"
	"github.com/nolabru/psiconnect/internal/repository"
	"github.com/nolabru/psiconnect/internal/repository/memory"
	"github.com/nolabru/psiconnect/internal/repository/postgres"
	"github.com/nolabru/psiconnect/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Console: cfg.Log.Console,
		Output:  os.Stdout,
	})
	log.Logger = appLogger.ZL
	zerolog.DefaultContextLogger = &log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, checks, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open storage")
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	api, err := app.NewAPI(app.Deps{
		Config:   cfg,
		Repos:    repos,
		Logger:   appLogger,
		Registry: registry,
		Checks:   checks,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build API")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.Router.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("driver", cfg.Storage.Driver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}

func openStorage(ctx context.Context, cfg *config.Config) (repository.Set, map[string]health.Pinger, func(), error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		log.Warn().Msg("using in-memory storage; state is lost on restart")
		return memory.NewStore().Set(), nil, func() {}, nil

	case config.StorageDriverPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return repository.Set{}, nil, nil, err
		}
		if cfg.Database.Migrate {
			if err := postgres.RunMigrations(db.DB); err != nil {
				db.Close()
				return repository.Set{}, nil, nil, err
			}
		}
		checks := map[string]health.Pinger{"database": db}
		return postgres.NewSet(db), checks, func() { db.Close() }, nil
	}
	return repository.Set{}, nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
