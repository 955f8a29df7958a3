// Package bootstrap builds the lock stack selected by configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/resource-lock/internal/config"
	"github.com/kneutral-org/resource-lock/internal/lock"
	"github.com/kneutral-org/resource-lock/internal/logging"
	"github.com/kneutral-org/resource-lock/internal/metrics"
	"github.com/kneutral-org/resource-lock/internal/tracing"
)

const connectTimeout = 5 * time.Second

// Store is an opened lock store and the function that releases its resources.
type Store struct {
	lock.Store
	// Cleaner is set for stores whose expired entries need purging.
	Cleaner lock.Cleaner
	Close   func() error
}

// OpenStore connects to the lock store named by cfg.LockStore.
func OpenStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	logger = logger.With().Str("component", "bootstrap").Str("lockStore", cfg.LockStore).Logger()

	switch cfg.LockStore {
	case config.StoreMemory:
		mem := lock.NewMemoryStore()
		logger.Warn().Msg("using in-process lock store, locks are not shared between processes")
		return &Store{Store: mem, Close: func() error { mem.Close(); return nil }}, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rs := lock.NewRedisStore(client, lock.WithKeyPrefix(cfg.LockKeyPrefix))
		if err := rs.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis lock store")
		return &Store{Store: rs, Close: client.Close}, nil

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres pool: %w", err)
		}
		ps := lock.NewPostgresStore(pool)
		if err := ps.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("prepare postgres lock table: %w", err)
		}
		logger.Info().Msg("connected to postgres lock store")
		return &Store{Store: ps, Cleaner: ps, Close: func() error { pool.Close(); return nil }}, nil

	case config.StoreMySQL:
		db, err := OpenMySQL(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		ms := lock.NewMySQLStore(db)
		if err := ms.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare mysql lock table: %w", err)
		}
		logger.Info().Msg("connected to mysql lock store")
		return &Store{Store: ms, Cleaner: ms, Close: db.Close}, nil

	default:
		return nil, fmt.Errorf("%w: unknown LOCK_STORE %q", config.ErrInvalidConfig, cfg.LockStore)
	}
}

// OpenMySQL opens a database handle for MySQLStore. Affected-row counts
// decide lock ownership, so clientFoundRows is always disabled.
func OpenMySQL(dsn string) (*sql.DB, error) {
	mcfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	mcfg.ClientFoundRows = false
	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

// NewManager creates a lock manager that reports events to the log,
// Prometheus and the active trace span.
func NewManager(store lock.Store, cfg *config.Config, logger zerolog.Logger) *lock.Manager {
	return lock.NewManager(store,
		lock.WithPollInterval(cfg.LockPollInterval),
		lock.WithObserver(lock.MultiObserver(
			logging.NewLockEventLogger(logger),
			metrics.NewLockObserver(),
			tracing.NewSpanEventObserver(),
		)),
	)
}
