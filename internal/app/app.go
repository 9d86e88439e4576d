// Package app wires the policy pipeline from a Config. It is shared by the
// server binary and the policyctl CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"yuno/policy-service/internal/config"
	"yuno/policy-service/internal/db"
	"yuno/policy-service/internal/events"
	"yuno/policy-service/internal/ontong"
	"yuno/policy-service/internal/policy"
	"yuno/policy-service/internal/policysync"
	"yuno/policy-service/internal/store"
)

// App holds the constructed components. History is nil when REDIS_URL is
// unset.
type App struct {
	Store    store.Store
	Upstream *ontong.Client
	Sync     *policysync.Orchestrator
	Service  *policy.Service
	History  *events.RedisNotifier

	rdb *redis.Client
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
}

// Build connects the store and, when configured, Redis, then assembles the
// upstream client, sync orchestrator and read service. On error everything
// opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st
	logger.Info("store ready", "driver", cfg.DatabaseDriver)

	if cfg.RedisURL != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.History = events.NewRedisNotifier(rdb)
		logger.Info("redis connected, sync events enabled")
	}

	a.Upstream = ontong.New(ontong.Options{
		BaseURL: cfg.OntongBaseURL,
		APIKey:  cfg.OntongAPIKey,
		Timeout: cfg.OntongTimeout,
		Logger:  logger,
	})

	opts := policysync.Options{
		PageSize: cfg.SyncPageSize,
		Delay:    cfg.SyncDelay,
		Logger:   logger,
	}
	if a.History != nil {
		opts.Notifier = a.History
	}
	a.Sync = policysync.New(a.Upstream, a.Store, opts)
	a.Service = policy.NewService(a.Upstream, a.Store, a.Sync, logger)
	return a, nil
}

// Close releases the store and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		st, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return st, nil
	default:
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		st, err := store.NewPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return st, nil
	}
}
