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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSync/services/remote"
	"github.com/AleutianAI/AleutianSync/services/remote/publish"
	"github.com/AleutianAI/AleutianSync/services/remote/workspace"
)

var (
	primaryRoot  string
	primaryAddr  string
	primaryWatch bool

	primaryCmd = &cobra.Command{
		Use:   "primary",
		Short: "Publish a directory and serve its assets to workers",
		RunE:  runPrimary,
	}
)

func init() {
	primaryCmd.Flags().StringVar(&primaryRoot, "root", "", "Directory to publish (overrides publish.root)")
	primaryCmd.Flags().StringVar(&primaryAddr, "addr", "", "Listen address (overrides asset_server.addr)")
	primaryCmd.Flags().BoolVar(&primaryWatch, "watch", true, "Republish when files change")
}

func runPrimary(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, "aleutian-sync-primary")
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "close:", err)
		}
	}()

	if primaryRoot != "" {
		a.cfg.Publish.Root = primaryRoot
	}
	if primaryAddr != "" {
		a.cfg.AssetServer.Addr = primaryAddr
	}
	if cmd.Flags().Changed("watch") {
		a.cfg.Publish.Watch = primaryWatch
	}

	router, publisher, err := a.buildPrimary(ctx)
	if err != nil {
		return err
	}

	if a.cfg.Publish.Watch {
		w, err := publish.NewWatcher(a.cfg.Publish.Root, a.scanOptions(), a.cfg.Publish.Debounce, publisher.HandleChanges)
		if err != nil {
			return fmt.Errorf("watch %s: %w", a.cfg.Publish.Root, err)
		}
		go func() {
			_ = w.Run(ctx)
		}()
	}

	return a.serve(ctx, a.cfg.AssetServer.Addr, router, a.cfg.AssetServer.ShutdownTimeout)
}

func (a *app) scanOptions() publish.ScanOptions {
	opts := publish.DefaultScanOptions()
	opts.SolutionID = workspace.SolutionID(a.cfg.Publish.SolutionID)
	if len(a.cfg.Publish.Includes) > 0 {
		opts.Includes = a.cfg.Publish.Includes
	}
	if len(a.cfg.Publish.Excludes) > 0 {
		opts.Excludes = a.cfg.Publish.Excludes
	}
	opts.MaxFileSize = a.cfg.Publish.MaxFileSize
	opts.Logger = a.logger
	return opts
}

// buildPrimary publishes the root once and wires the asset routes.
func (a *app) buildPrimary(ctx context.Context) (*gin.Engine, *publish.Publisher, error) {
	if a.cfg.Publish.Root == "" {
		return nil, nil, errors.New("no directory to publish: set --root or publish.root")
	}
	gin.SetMode(gin.ReleaseMode)

	store, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}

	assets := remote.NewAssetHandlers(store)
	publisher := publish.NewPublisher(store, a.cfg.Publish.Root, a.scanOptions(), assets.SetCurrent)

	c, _, err := publisher.Publish(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("initial publish: %w", err)
	}
	a.logger.Info("Solution published",
		slog.String("root", a.cfg.Publish.Root),
		slog.String("checksum", c.String()),
	)

	router := a.newRouter()
	remote.RegisterAssetRoutes(router.Group("/v1"), assets)
	return router, publisher, nil
}
