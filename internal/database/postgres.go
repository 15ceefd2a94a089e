package database

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

var DB *pgxpool.Pool

// PoolConfig sizes the pgstore pool. Every open live query re-runs its
// SELECT after each change notification, so busy servers want more
// connections than request traffic alone suggests.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// poolConfig parses dbURL and applies the non-zero sizes of pool.
func poolConfig(dbURL string, pool PoolConfig) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse DB_URL")
	}
	if pool.MaxConns > 0 {
		cfg.MaxConns = pool.MaxConns
	}
	if pool.MinConns > 0 {
		cfg.MinConns = pool.MinConns
	}
	if cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = cfg.MaxConns
	}
	if pool.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pool.MaxConnLifetime
	}
	if pool.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pool.MaxConnIdleTime
	}
	return cfg, nil
}

// ConnectDB opens the pool backing the postgres store.
func ConnectDB(ctx context.Context, dbURL string, pool PoolConfig) error {
	cfg, err := poolConfig(dbURL, pool)
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open postgres pool")
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return errors.Wrap(err, "ping postgres")
	}

	DB = db
	log.Printf("Connected to PostgreSQL (pool %d-%d conns)", cfg.MinConns, cfg.MaxConns)
	return nil
}

func CloseDB() {
	if DB != nil {
		DB.Close()
		DB = nil
	}
}
