// Package database manages the engine's own PostgreSQL store, which holds
// scan jobs, detection results, quasi-identifier groups, and reports. Scan
// targets are reached through pkg/adapters/datasource, never through this
// package.
package database

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pingTimeout bounds the startup reachability check so a misconfigured store
// fails fast instead of blocking until the process is signalled.
const pingTimeout = 10 * time.Second

// DB wraps the engine store's pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config holds engine store pool settings.
type Config struct {
	URL             string
	MaxConnections  int32
	MinIdleConns    int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewConnection opens the engine store pool and verifies it is reachable.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse store connection string: %w", err)
	}

	poolConfig.MaxConns = cmp.Or(cfg.MaxConnections, 25)
	poolConfig.MinIdleConns = cfg.MinIdleConns
	poolConfig.MaxConnLifetime = cmp.Or(cfg.MaxConnLifetime, time.Hour)
	poolConfig.MaxConnIdleTime = cmp.Or(cfg.MaxConnIdleTime, 30*time.Minute)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create store pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping engine store: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.Pool.Close()
}
