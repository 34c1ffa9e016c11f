package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/surety/internal/api"
	"github.com/pitabwire/surety/internal/config"
	"github.com/pitabwire/surety/internal/observability"
	"github.com/pitabwire/surety/internal/session"
	"github.com/pitabwire/surety/internal/wizard"
)

// buildWizardStore creates the wizard state store based on config. The
// health checker and closer are nil for the in-memory store.
func buildWizardStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (wizard.Store, observability.HealthChecker, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory wizard store")
		return wizard.NewMemoryStore(), nil, nil, nil
	case "redis":
		client, err := openRedis(ctx, cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("wizard store: %w", err)
		}
		store := wizard.NewRedisStore(client, cfg.TTL)
		return store, observability.CheckFunc(store.Ping), func() { _ = client.Close() }, nil
	case "postgres":
		pool, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("wizard store: %w", err)
		}
		store := wizard.NewPgStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("wizard store: %w", err)
		}
		return store, observability.CheckFunc(store.Ping), pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported wizard store driver: %q", cfg.Driver)
	}
}

// buildSessionStore creates the token and user cache based on config.
func buildSessionStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (session.Store, observability.HealthChecker, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(cfg.TTL), nil, nil, nil
	case "redis":
		client, err := openRedis(ctx, cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("session store: %w", err)
		}
		store := session.NewRedisStore(client, cfg.TTL)
		return store, observability.CheckFunc(store.Ping), func() { _ = client.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported session store driver: %q", cfg.Driver)
	}
}

// buildObjectStore creates the damage photo store. With the none driver
// every upload fails and text-only submissions still advance.
func buildObjectStore(ctx context.Context, cfg config.ObjectStorageConfig, logger *zap.Logger) (wizard.ObjectStore, observability.HealthChecker, error) {
	switch cfg.Driver {
	case "none", "":
		logger.Warn("object storage disabled, damage file uploads will fail")
		return api.DisabledObjectStore{}, nil, nil
	case "s3":
		store, err := api.NewS3ObjectStore(ctx, api.S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("object storage: %w", err)
		}
		return store, observability.CheckFunc(store.Ping), nil
	default:
		return nil, nil, fmt.Errorf("unsupported object storage driver: %q", cfg.Driver)
	}
}

func openRedis(ctx context.Context, cfg config.StoreConfig) (*redis.Client, error) {
	addr := os.Getenv(cfg.AddrEnv)
	if addr == "" {
		return nil, fmt.Errorf("%s environment variable not set", envName(cfg.AddrEnv))
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func openPostgres(ctx context.Context, cfg config.StoreConfig) (*pgxpool.Pool, error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("%s environment variable not set", envName(cfg.DSNEnv))
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

func envName(name string) string {
	if name == "" {
		return "connection"
	}
	return name
}

func newLoginService(auth session.Authenticator, store session.Store, logger *zap.Logger) *session.LoginService {
	return session.NewLoginService(auth, store, logger)
}
