// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/solution"
	"github.com/AleutianAI/AleutianSync/services/remote/telemetry"
)

// CurrentPath is the primary's route reporting its latest solution.
const CurrentPath = "/v1/assets/current"

// Follower keeps a worker's primary snapshot in step with what the
// primary last published.
//
// Thread Safety: Poll and Run must not be called concurrently.
type Follower struct {
	baseURL  string
	client   *http.Client
	svc      *solution.Service
	interval time.Duration
	logger   *slog.Logger
}

// NewFollower creates a follower polling baseURL every interval.
func NewFollower(baseURL string, svc *solution.Service, interval time.Duration, logger *slog.Logger) *Follower {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Follower{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		svc:      svc,
		interval: interval,
		logger:   logger.With(slog.String("component", "follower")),
	}
}

// Poll fetches the primary's current checksum and promotes it if it is
// not already the worker's primary.
//
// Outputs:
//
//	checksum.Checksum - The primary's current checksum, or Null if it has
//	                    not published anything.
//	bool - Whether the worker's primary changed.
//	error - ErrUnavailable when the primary cannot be reached, or the
//	        snapshot error from the service.
func (f *Follower) Poll(ctx context.Context) (checksum.Checksum, bool, error) {
	current, err := f.current(ctx)
	if err != nil || current.IsNull() {
		return current, false, err
	}
	if p := f.svc.Primary(); p != nil && p.Checksum() == current {
		return current, false, nil
	}
	if _, err := f.svc.UpdatePrimary(ctx, current); err != nil {
		return current, false, err
	}
	return current, true, nil
}

func (f *Follower) current(ctx context.Context) (checksum.Checksum, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+CurrentPath, nil)
	if err != nil {
		return checksum.Null, err
	}
	telemetry.InjectContext(ctx, req.Header)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return checksum.Null, ctxErr
		}
		return checksum.Null, fmt.Errorf("%w: %v", asset.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return checksum.Null, nil
	default:
		return checksum.Null, fmt.Errorf("%w: primary returned %d", asset.ErrUnavailable, resp.StatusCode)
	}

	var cur CurrentResponse
	if err := json.NewDecoder(resp.Body).Decode(&cur); err != nil {
		return checksum.Null, fmt.Errorf("decode current response: %w", err)
	}
	return checksum.Parse(cur.Checksum)
}

// Run polls until ctx is done. Poll failures are logged and retried on
// the next tick.
func (f *Follower) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		c, changed, err := f.Poll(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			f.logger.Warn("follow: poll failed", slog.String("error", err.Error()))
		case changed:
			f.logger.Info("follow: primary updated", slog.String("checksum", c.Short()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
