// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

// Package store manages the PostgreSQL connection pool and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns int32
	// ConnectAttempts bounds how often the first ping is retried while the
	// database is still starting.
	ConnectAttempts uint64
	ConnectBackoff  time.Duration
}

// DefaultPoolConfig returns the pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        10,
		ConnectAttempts: 5,
		ConnectBackoff:  500 * time.Millisecond,
	}
}

// Connect opens a pool for dsn and waits until the database answers a ping.
func Connect(ctx context.Context, dsn string, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}

	backoff := cfg.ConnectBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	attempt := 0
	err = retry.Do(ctx, retry.WithMaxRetries(cfg.ConnectAttempts, retry.NewExponential(backoff)), func(ctx context.Context) error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("host", poolCfg.ConnConfig.Host).
			With("attempts", attempt).
			Wrap(err)
	}

	logger.Info("database connected",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns,
	)
	return pool, nil
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck reports whether db answers a ping within timeout.
func ReadinessCheck(db Pinger, timeout time.Duration) func() bool {
	return func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return db.Ping(ctx) == nil
	}
}
