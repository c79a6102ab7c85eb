package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	billingmigrations "github.com/goliatone/go-billing-hooks/migrations"
	sqlstore "github.com/goliatone/go-billing-hooks/store/sql"
	"github.com/goliatone/go-billing-hooks/webhooks"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "billing-hooks" }

// openJobStore builds the job store selected by the host config. The
// returned closer releases the database, if any.
func openJobStore(ctx context.Context, host hostConfig, logger core.Logger) (core.JobStore, func() error, error) {
	if host.StoreDriver == "memory" {
		logger.Warn("using in-memory job store; pending deliveries are lost on exit")
		return webhooks.NewMemoryJobStore(), func() error { return nil }, nil
	}

	dialectName, err := billingmigrations.DialectForDriver(host.StoreDriver)
	if err != nil {
		return nil, nil, err
	}

	sqlDriver := "sqlite3"
	if dialectName == billingmigrations.DialectPostgres {
		sqlDriver = "postgres"
	}
	sqlDB, err := sql.Open(sqlDriver, host.StoreDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("store: open %s: %w", sqlDriver, err)
	}

	cfg := persistenceConfig{driver: sqlDriver, server: host.StoreDSN}
	var client *persistence.Client
	switch dialectName {
	case billingmigrations.DialectSQLite:
		sqlDB.SetMaxOpenConns(1)
		client, err = persistence.New(cfg, sqlDB, sqlitedialect.New())
	case billingmigrations.DialectPostgres:
		client, err = persistence.New(cfg, sqlDB, pgdialect.New())
	default:
		err = fmt.Errorf("unsupported dialect %q", dialectName)
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("store: persistence client: %w", err)
	}
	closer := func() error { return client.Close() }

	schema, err := billingmigrations.Register(ctx, host.StoreDriver, func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	})
	if err != nil {
		_ = closer()
		return nil, nil, fmt.Errorf("store: register migrations: %w", err)
	}
	logger.Debug("job schema registered", "dialect", schema.Dialect, "versions", schema.Versions)
	if err := client.Migrate(ctx); err != nil {
		_ = closer()
		return nil, nil, fmt.Errorf("store: migrate: %w", err)
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		_ = closer()
		return nil, nil, err
	}
	if host.CacheTTL > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = host.CacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			_ = closer()
			return nil, nil, fmt.Errorf("store: cache service: %w", err)
		}
		if err := factory.WithCache(cacheService); err != nil {
			_ = closer()
			return nil, nil, err
		}
	}

	logger.Info("job store ready", "driver", sqlDriver, "cache_ttl", host.CacheTTL.String())
	return factory.JobStore(), closer, nil
}
