package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/alerting"
	"github.com/tbourn/go-billing-reconciler/internal/config"
	"github.com/tbourn/go-billing-reconciler/internal/notify"
	"github.com/tbourn/go-billing-reconciler/internal/observability"
	"github.com/tbourn/go-billing-reconciler/internal/repo"
	"github.com/tbourn/go-billing-reconciler/internal/services"
	"github.com/tbourn/go-billing-reconciler/internal/sysutil"
)

func loadEnv(files []string) error {
	if err := config.LoadDotenv(files...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// runtime is everything a command needs to act on the record store.
type runtime struct {
	cfg        config.Config
	db         *gorm.DB
	engine     *services.Engine
	thresholds *alerting.Store

	redis         *redis.Client
	shutdownTrace observability.ShutdownFunc
}

// newRuntime loads config, installs logging and tracing, opens and migrates
// the store and wires the engine. role tags traces with the command name.
func newRuntime(ctx context.Context, role string) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, os.Stderr)

	rt := &runtime{cfg: cfg}
	shutdown, err := observability.SetupTracing(ctx, cfg.OTEL, Version, role)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
		shutdown = func(context.Context) error { return nil }
	}
	rt.shutdownTrace = shutdown

	db, err := repo.Open(cfg.DB.Driver, cfg.DB.DSN, cfg.OTEL.Enabled)
	if err != nil {
		rt.close(ctx)
		return nil, fmt.Errorf("open %s store: %w", cfg.DB.Driver, err)
	}
	rt.db = db
	if err := repo.AutoMigrate(db); err != nil {
		rt.close(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rt.thresholds, err = alerting.NewStore(cfg.Scheduler.ThresholdsFile)
	if err != nil {
		rt.close(ctx)
		return nil, fmt.Errorf("thresholds: %w", err)
	}

	notifier, err := rt.dispatcher(ctx)
	if err != nil {
		rt.close(ctx)
		return nil, err
	}

	rt.engine = services.NewEngine(db, notifier, rt.thresholds, services.EngineOptions{
		EventTimeout:      cfg.Webhook.Timeout,
		FingerprintWindow: cfg.Webhook.IdempotencyWindow,
		LedgerTTL:         cfg.Webhook.IdempotencyTTL,
		WebhookRetention:  cfg.Webhook.Retention,
		ProbeWindow:       cfg.Scheduler.ProbeWindow,
		StaleAfter:        cfg.Scheduler.StaleAfter,
	})
	log.Info().
		Str("db_driver", cfg.DB.Driver).
		Str("notify_backend", cfg.Notify.Backend).
		Str("role", role).
		Msg("runtime ready")
	return rt, nil
}

func (rt *runtime) dispatcher(ctx context.Context) (notify.Dispatcher, error) {
	switch rt.cfg.Notify.Backend {
	case "redis":
		client, err := notify.NewRedisClient(ctx, rt.cfg.Notify.RedisAddr, rt.cfg.Notify.RedisPassword, rt.cfg.Notify.RedisDB)
		if err != nil {
			return nil, err
		}
		rt.redis = client
		return notify.NewRedisDispatcher(client, rt.cfg.Notify.Queue), nil
	default:
		return notify.NewOutboxDispatcher(rt.db), nil
	}
}

// close releases the store, the redis client and flushes traces.
func (rt *runtime) close(ctx context.Context) {
	var errs []error
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.db != nil {
		if sqlDB, err := rt.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if rt.shutdownTrace != nil {
		errs = append(errs, rt.shutdownTrace(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
}
