// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/vendorhub/vendorhub/internal/auth"
	"github.com/vendorhub/vendorhub/internal/auth/postgres"
	"github.com/vendorhub/vendorhub/internal/config"
	"github.com/vendorhub/vendorhub/internal/httpapi"
	"github.com/vendorhub/vendorhub/internal/logging"
	"github.com/vendorhub/vendorhub/internal/notify"
	"github.com/vendorhub/vendorhub/internal/observability"
	"github.com/vendorhub/vendorhub/internal/store"
	"github.com/vendorhub/vendorhub/pkg/errutil"
)

const (
	serviceName      = "vendorhub"
	readinessTimeout = 2 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the identity API server",
		Long: `Start the public JSON API together with the metrics and health
server. Settings come from flags, the --config file and the environment.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps starts the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps == nil {
		deps = &ServeDeps{}
	}
	setServeDefaults(deps)

	cfg, err := config.Load(config.ResolvePath(configFile, deps.Getenv), cmd.Flags(), deps.Getenv)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, level, deps.LogWriter)

	logger.Info("starting server",
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"mail_driver", cfg.Mail.Driver,
	)

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(deps, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	poolCfg := store.DefaultPoolConfig()
	poolCfg.MaxConns = cfg.Database.MaxConns
	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, poolCfg, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, store.ReadinessCheck(pool, readinessTimeout), logger)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		metrics = obsServer.Metrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	mailer, err := newMailer(cfg, logger)
	if err != nil {
		stopObservability(obsServer, cfg.HTTP.ShutdownTimeout, logger)
		return err
	}
	mail := notify.NewAsync(mailer,
		notify.WithAsyncLogger(logger),
		notify.WithAsyncObserver(metrics),
		notify.WithSendTimeout(cfg.Mail.SendTimeout),
	)

	svc, err := newAuthService(cfg, pool, mail, metrics, logger)
	if err != nil {
		stopObservability(obsServer, cfg.HTTP.ShutdownTimeout, logger)
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer, cfg.HTTP.ShutdownTimeout, logger)
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	httpSrv := &http.Server{
		Handler: httpapi.NewRouter(svc, httpapi.Options{
			CORSOrigins:    cfg.HTTP.CORSOrigins,
			RateLimit:      cfg.HTTP.RateLimit,
			RequestTimeout: cfg.HTTP.RequestTimeout,
			Observer:       metrics,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("VendorHub server started")
	logger.Info("server ready", "http_addr", listener.Addr().String())

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		serveErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	if err := mail.Close(shutdownCtx); err != nil {
		errutil.WarnError(logger, "pending mail was not delivered", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return serveErr
}

func setServeDefaults(deps *ServeDeps) {
	if deps.PoolFactory == nil {
		deps.PoolFactory = func(ctx context.Context, dsn string, cfg store.PoolConfig, logger *slog.Logger) (Pool, error) {
			return store.Connect(ctx, dsn, cfg, logger)
		}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(dsn string) (AutoMigrator, error) {
			return store.NewMigrator(dsn)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker, logger)
		}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}
	if deps.Getenv == nil {
		deps.Getenv = os.Getenv
	}
}

// autoMigrate applies pending migrations before the pool is opened.
func autoMigrate(deps *ServeDeps, dsn string, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(dsn)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			errutil.WarnError(logger, "failed to close migrator", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto-migrate").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// newMailer builds the configured mail driver.
func newMailer(cfg *config.Config, logger *slog.Logger) (auth.Notifier, error) {
	switch cfg.Mail.Driver {
	case config.MailDriverMailgun:
		return notify.NewMailgun(notify.MailgunConfig{
			Domain:     cfg.Mail.Domain,
			APIKey:     cfg.Mail.APIKey,
			BaseURL:    cfg.Mail.BaseURL,
			Sender:     cfg.Mail.Sender,
			MaxRetries: cfg.Mail.MaxRetries,
		})
	default:
		return notify.NewLog(logger), nil
	}
}

func newAuthService(cfg *config.Config, pool Pool, mail auth.Notifier, metrics *observability.Metrics, logger *slog.Logger) (*auth.Service, error) {
	codec, err := auth.NewTokenCodec([]byte(cfg.Auth.SecretKey))
	if err != nil {
		return nil, err
	}
	return auth.NewService(cfg.ServiceConfig(),
		postgres.NewCredentialStore(pool),
		codec,
		auth.NewHasher(),
		mail,
		auth.WithLogger(logger),
		auth.WithObserver(metrics),
	)
}

func stopObservability(obsServer ObservabilityServer, timeout time.Duration, logger *slog.Logger) {
	if obsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := obsServer.Stop(ctx); err != nil {
		logger.Warn("failed to stop observability server during cleanup", "error", err)
	}
}

// monitorServerErrors cancels ctx when a background server fails. It exits
// when an error arrives, the channel is closed or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
