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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/telemetry"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/time/rate"
)

// ContentType is the media type of fetch request and response bodies.
const ContentType = "application/msgpack"

// FetchPath is the primary's asset fetch route.
const FetchPath = "/v1/assets/fetch"

// FetchRequest asks the primary for a batch of assets.
type FetchRequest struct {
	Checksums []checksum.Checksum `msgpack:"checksums"`
}

// WireAsset is one asset in a FetchResponse.
type WireAsset struct {
	Checksum checksum.Checksum `msgpack:"checksum"`
	Kind     Kind              `msgpack:"kind"`
	Data     []byte            `msgpack:"data"`
}

// FetchResponse carries the assets the primary could resolve.
type FetchResponse struct {
	Assets []WireAsset `msgpack:"assets"`
}

// HTTPSourceConfig configures an HTTPSource.
type HTTPSourceConfig struct {
	// BaseURL of the primary, e.g. "http://localhost:9091".
	BaseURL string

	// Timeout per request. Default: 30s.
	Timeout time.Duration

	// RequestsPerSecond limits outbound fetches. 0 disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Default: 1 when limiting.
	Burst int
}

// HTTPSource fetches assets from a primary over HTTP.
//
// Description:
//
//	POSTs a msgpack FetchRequest to BaseURL+FetchPath and decodes a
//	msgpack FetchResponse. Trace context is propagated in the request
//	headers. Network failures, 429 and 5xx responses are reported as
//	ErrUnavailable so callers can retry; other failures are permanent.
//
// Thread Safety: Safe for concurrent use.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPSource creates an HTTPSource.
//
// Outputs:
//
//	*HTTPSource - The source.
//	error - Non-nil if BaseURL is empty.
func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &HTTPSource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return s, nil
}

// FetchAssets implements Source.
func (s *HTTPSource) FetchAssets(ctx context.Context, cs []checksum.Checksum) (map[checksum.Checksum]Asset, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
		}
	}

	body, err := msgpack.Marshal(FetchRequest{Checksums: cs})
	if err != nil {
		return nil, fmt.Errorf("encode fetch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+FetchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create fetch request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)
	telemetry.InjectContext(ctx, req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: primary returned %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("primary returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var fr FetchResponse
	if err := msgpack.Unmarshal(payload, &fr); err != nil {
		return nil, fmt.Errorf("decode fetch response: %w", err)
	}

	out := make(map[checksum.Checksum]Asset, len(fr.Assets))
	for _, wa := range fr.Assets {
		out[wa.Checksum] = Asset{Kind: wa.Kind, Data: wa.Data}
	}
	return out, nil
}
