// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package asset

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("aleutian.sync.asset")
	meter  = otel.Meter("aleutian.sync.asset")
)

var (
	fetchCalls    metric.Int64Counter
	assetsFetched metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		fetchCalls, err = meter.Int64Counter(
			"sync_asset_fetch_calls_total",
			metric.WithDescription("Total number of fetch calls made to the asset source"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		assetsFetched, err = meter.Int64Counter(
			"sync_assets_fetched_total",
			metric.WithDescription("Total number of assets fetched and stored locally"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordFetchCall(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	fetchCalls.Add(ctx, 1)
}

func recordAssetsFetched(ctx context.Context, n int) {
	if err := initMetrics(); err != nil {
		return
	}
	assetsFetched.Add(ctx, int64(n))
}
