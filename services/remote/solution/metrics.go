// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package solution

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.sync.solution")
	meter  = otel.Meter("aleutian.sync.solution")
)

var (
	snapshotRequests metric.Int64Counter
	buildsTotal      metric.Int64Counter
	buildDuration    metric.Float64Histogram
	fallbacksTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		snapshotRequests, err = meter.Int64Counter(
			"sync_snapshot_requests_total",
			metric.WithDescription("Total number of snapshot requests"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildsTotal, err = meter.Int64Counter(
			"sync_builds_total",
			metric.WithDescription("Total number of snapshot builds by strategy"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildDuration, err = meter.Float64Histogram(
			"sync_build_duration_seconds",
			metric.WithDescription("Duration of snapshot builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fallbacksTotal, err = meter.Int64Counter(
			"sync_fallbacks_total",
			metric.WithDescription("Incremental plans that failed and fell back to a full build"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordSnapshotRequest(ctx context.Context, hit, primary bool) {
	if err := initMetrics(); err != nil {
		return
	}
	snapshotRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("hit", hit),
		attribute.Bool("primary", primary),
	))
}

func recordBuild(ctx context.Context, strategy Strategy, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("strategy", string(strategy)))
	buildsTotal.Add(ctx, 1, attrs)
	buildDuration.Record(ctx, d.Seconds(), attrs)
}

func recordFallback(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	fallbacksTotal.Add(ctx, 1)
}

func startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Service."+operation, trace.WithAttributes(attrs...))
}
