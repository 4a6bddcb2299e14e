// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vendorhub/vendorhub/internal/observability"
	"github.com/vendorhub/vendorhub/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the database pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, dsn string, cfg store.PoolConfig, logger *slog.Logger) (Pool, error)

	// MigratorFactory opens a migrator when auto-migrate is enabled.
	// Default: store.NewMigrator
	MigratorFactory func(dsn string) (AutoMigrator, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// ListenerFactory creates the public API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// Getenv reads secrets from the environment.
	// Default: os.Getenv
	Getenv func(string) string

	// LogWriter receives log output.
	// Default: os.Stderr
	LogWriter io.Writer
}

// Pool is the part of *pgxpool.Pool used by serve.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator wraps the methods used to migrate at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}
