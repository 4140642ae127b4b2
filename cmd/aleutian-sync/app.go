// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianSync/pkg/logging"
	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/config"
	badgerstore "github.com/AleutianAI/AleutianSync/services/remote/storage/badger"
	"github.com/AleutianAI/AleutianSync/services/remote/telemetry"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "aleutian-sync",
		Short: "Remote workspace snapshot synchronization",
		Long: `aleutian-sync publishes a source tree as content-addressed assets on
the primary and rebuilds identical snapshots on remote workers, fetching
only the assets a worker does not already hold.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(primaryCmd)
	rootCmd.AddCommand(versionCmd)
}

// app holds what every long-running command sets up.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	closers []func(context.Context) error
	service string
}

// newApp loads configuration, then installs logging and telemetry.
func newApp(ctx context.Context, service string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newAppFromConfig(ctx, service, cfg)
}

func newAppFromConfig(ctx context.Context, service string, cfg config.Config) (*app, error) {
	logCfg := cfg.Logging
	if logCfg.Service == "" {
		logCfg.Service = service
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger.Slog())

	a := &app{cfg: cfg, logger: logger.Slog(), service: service}
	a.closers = append(a.closers, func(context.Context) error { return logger.Close() })

	telCfg := cfg.Telemetry
	telCfg.ServiceName = service
	telCfg.ServiceVersion = Version
	shutdown, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openStore opens the configured local asset store and registers its
// cleanup with the app.
func (a *app) openStore() (asset.Store, error) {
	sc := a.cfg.Storage
	switch sc.Backend {
	case config.StorageMemory:
		return asset.NewMemoryStore(), nil
	case config.StorageBadger:
		db, err := badgerstore.Open(badgerstore.Config{
			Path:           sc.Path,
			SyncWrites:     sc.SyncWrites,
			Logger:         a.logger.With(slog.String("component", "badger")),
			GCInterval:     sc.GCInterval,
			GCDiscardRatio: sc.GCDiscardRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		a.closers = append(a.closers, closeWith(db))
		a.logger.Info("Asset store opened", slog.String("backend", sc.Backend), slog.String("path", sc.Path))
		return asset.NewBadgerStore(db), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

func closeWith(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}

// newRouter returns a gin engine with recovery, tracing and, when the
// prometheus exporter is active, a /metrics route.
func (a *app) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(a.service))
	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}
	return router
}

// serve runs handler on addr until ctx is done, then shuts down within
// timeout.
func (a *app) serve(ctx context.Context, addr string, handler http.Handler, timeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting server", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server", slog.String("address", addr))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
