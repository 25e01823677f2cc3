package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/dropspot/internal/config"
	"github.com/rl1809/dropspot/internal/port"
)

const connectTimeout = 30 * time.Second

// Open returns the store selected by cfg.Storage, applying migrations
// first when cfg.Migrate is set.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (port.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Storage {
	case config.StorageMySQL:
		if cfg.Migrate {
			url, err := MySQLMigrationURL(cfg.MySQLDSN)
			if err != nil {
				return nil, err
			}
			if err := Migrate(config.StorageMySQL, url, logger); err != nil {
				return nil, err
			}
		}
		db, err := OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to mysql")
		return NewMySQLAdapter(db), nil

	case config.StoragePostgres:
		if cfg.Migrate {
			url, err := PostgresMigrationURL(cfg.PostgresDSN)
			if err != nil {
				return nil, err
			}
			if err := Migrate(config.StoragePostgres, url, logger); err != nil {
				return nil, err
			}
		}
		pool, err := OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to postgres")
		return NewPostgresAdapter(pool), nil

	case config.StorageMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return NewMemoryAdapter(), nil

	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

// OpenRedis connects the shared stock counter.
func OpenRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 100,
	})

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}
