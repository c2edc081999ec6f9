// Command sessiond runs the marketplace session core: role resolution,
// record reconciliation and realtime collections behind an HTTP surface.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/greenlawn/marketplace-session/internal/api"
	"github.com/greenlawn/marketplace-session/internal/core/realtime"
	"github.com/greenlawn/marketplace-session/internal/core/service"
	"github.com/greenlawn/marketplace-session/internal/infrastructure/auth"
	"github.com/greenlawn/marketplace-session/internal/infrastructure/config"
	"github.com/greenlawn/marketplace-session/internal/infrastructure/db/mongo"
	"github.com/greenlawn/marketplace-session/internal/infrastructure/db/redis"
	"github.com/greenlawn/marketplace-session/internal/infrastructure/http/handlers"
	"github.com/greenlawn/marketplace-session/internal/infrastructure/queue"
	"github.com/greenlawn/marketplace-session/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		bootLog := logger.Init(logger.Options{})
		bootLog.Fatal().Err(err).Msg("load configuration")
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.Env == "development",
		Service: "sessiond",
	})

	// --- Stores ---
	mongoClient, db, err := mongo.Connect(ctx, mongo.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database, AppName: "sessiond"})
	if err != nil {
		log.Fatal().Err(err).Msg("connect mongo")
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	profiles := mongo.NewProfileRepository(db)
	if err := profiles.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure indexes")
	}

	rdb, err := redis.Connect(ctx, redis.Config{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	defer func() { _ = rdb.Close() }()

	// --- Session core ---
	tokens := auth.NewTokenSource(cfg.JWTSecret, logger.Named("auth"))
	resolver := service.NewRoleResolver(profiles, cfg.AdminEmails, logger.Named("resolver"))
	guard := service.NewRoleCacheGuard(resolver, redis.NewRoleCache(rdb, cfg.Session.RoleCacheTTL), logger.Named("cache_guard"))
	reconciler := service.NewRecordReconciler(profiles, redis.NewReconcileMarker(rdb, cfg.Session.ReconcileMarkerTTL), logger.Named("reconciler"))
	coordinator := service.NewCoordinator(tokens, guard, reconciler, service.CoordinatorConfig{
		ResolutionTimeout: cfg.Session.ResolutionTimeout,
		RecoveryDebounce:  cfg.Session.RecoveryDebounce,
	}, logger.Named("session"))

	// --- Realtime ---
	dispatcher := queue.NewDispatcher(cfg.Realtime.Workers, logger.Named("dispatcher"))
	dispatcher.Start(ctx)
	registry := realtime.NewRegistry(
		mongo.NewChangeFeed(db, logger.Named("change_feed")),
		dispatcher,
		realtime.NewExponentialBackoff(),
		logger.Named("registry"),
	)

	coordinator.Start(ctx)
	defer coordinator.Stop()

	// --- HTTP ---
	e := api.NewRouter(api.Dependencies{
		Log:       log,
		JWTSecret: cfg.JWTSecret,
		Session:   coordinator,
		Sink:      tokens,
		Registry:  registry,
		Fetcher:   mongo.NewRowStore(db),
		Tables:    cfg.Realtime.HasTable,
		Readiness: map[string]handlers.Pinger{
			"mongodb": mongo.Pinger{Client: mongoClient},
			"redis":   redis.Pinger{Client: rdb},
		},
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("sessiond listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serverErr:
		log.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
