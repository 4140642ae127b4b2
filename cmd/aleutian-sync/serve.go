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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSync/services/remote"
	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/solution"
)

var (
	serveAddr        string
	servePrimaryURL  string
	serveFollow      bool
	serveFollowEvery time.Duration
	serveDebug       bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run a worker serving snapshots built from a primary's assets",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&servePrimaryURL, "primary-url", "", "Primary asset server URL (overrides primary.url)")
	serveCmd.Flags().BoolVar(&serveFollow, "follow", false, "Track the primary's latest published solution as the worker primary")
	serveCmd.Flags().DurationVar(&serveFollowEvery, "follow-interval", 2*time.Second, "Polling interval for --follow")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable gin debug mode and request logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, "aleutian-sync-worker")
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "close:", err)
		}
	}()

	if serveAddr != "" {
		a.cfg.Server.Addr = serveAddr
	}
	if servePrimaryURL != "" {
		a.cfg.Primary.URL = servePrimaryURL
	}

	router, svc, err := a.buildWorker()
	if err != nil {
		return err
	}

	if serveFollow {
		follower := remote.NewFollower(a.cfg.Primary.URL, svc, serveFollowEvery, a.logger)
		go func() {
			_ = follower.Run(ctx)
		}()
	}

	return a.serve(ctx, a.cfg.Server.Addr, router, a.cfg.Server.ShutdownTimeout)
}

// buildWorker wires the store, provider, service and routes of a worker.
func (a *app) buildWorker() (*gin.Engine, *solution.Service, error) {
	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}

	source, err := asset.NewHTTPSource(asset.HTTPSourceConfig{
		BaseURL:           a.cfg.Primary.URL,
		Timeout:           a.cfg.Primary.Timeout,
		RequestsPerSecond: a.cfg.Primary.RequestsPerSecond,
		Burst:             a.cfg.Primary.Burst,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create primary source: %w", err)
	}

	provider := asset.NewCachingProvider(store, source,
		asset.WithMaxBatchSize(a.cfg.Sync.MaxBatchSize),
		asset.WithProviderLogger(a.logger),
	)
	svc := solution.NewService(provider,
		solution.WithLogger(a.logger),
		solution.WithPolicy(a.cfg.Incremental.Policy),
		solution.WithIncremental(a.cfg.Incremental.Enabled),
		solution.WithBuildTimeout(a.cfg.Sync.BuildTimeout),
	)

	router := a.newRouter()
	if serveDebug {
		router.Use(gin.Logger())
	}
	remote.RegisterRoutes(router.Group("/v1"), remote.NewHandlers(svc).WithProviderStats(provider))

	a.logger.Info("Worker ready",
		slog.String("primary", a.cfg.Primary.URL),
		slog.String("storage", a.cfg.Storage.Backend),
		slog.Bool("incremental", a.cfg.Incremental.Enabled),
	)
	return router, svc, nil
}
