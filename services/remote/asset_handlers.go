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
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
)

// DefaultMaxFetchBatch caps the checksums accepted by one fetch request.
const DefaultMaxFetchBatch = 50000

// maxFetchBodyBytes bounds a fetch request body. Each checksum encodes as
// a bin value with a two byte header; the rest covers the map, key and
// array headers.
func maxFetchBodyBytes(maxBatch int) int64 {
	return int64(maxBatch)*(checksum.Size+2) + 64
}

// AssetHandlers serve a primary's asset store to workers.
//
// Thread Safety: Safe for concurrent use. SetCurrent may be called while
// requests are in flight.
type AssetHandlers struct {
	source   *asset.StoreSource
	current  atomic.Pointer[checksum.Checksum]
	maxBatch int
}

// NewAssetHandlers creates handlers serving store.
func NewAssetHandlers(store asset.Store) *AssetHandlers {
	return &AssetHandlers{
		source:   asset.NewStoreSource(store),
		maxBatch: DefaultMaxFetchBatch,
	}
}

// WithMaxBatch sets the largest accepted fetch request.
func (h *AssetHandlers) WithMaxBatch(n int) *AssetHandlers {
	if n > 0 {
		h.maxBatch = n
	}
	return h
}

// SetCurrent records the most recently published solution checksum.
func (h *AssetHandlers) SetCurrent(c checksum.Checksum) {
	h.current.Store(&c)
}

// Current returns the most recently published solution checksum, or Null.
func (h *AssetHandlers) Current() checksum.Checksum {
	if c := h.current.Load(); c != nil {
		return *c
	}
	return checksum.Null
}

// HandleFetch handles POST /v1/assets/fetch.
//
// Description:
//
//	Returns every requested asset the store holds. Checksums the store
//	does not hold are left out of the response; the worker decides
//	whether that is an error.
//
// Request Body:
//
//	asset.FetchRequest (msgpack)
//
// Response:
//
//	200 OK: asset.FetchResponse (msgpack)
//	400 Bad Request: Undecodable request or too many checksums
//	413 Request Entity Too Large: Body larger than maxBatch checksums
//	500 Internal Server Error: Store failure
func (h *AssetHandlers) HandleFetch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleFetch")

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFetchBodyBytes(h.maxBatch))
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("Fetch request too large", "limit", tooLarge.Limit)
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large", Code: CodeInvalidRequest})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: CodeInvalidRequest})
		return
	}

	var req asset.FetchRequest
	if err := msgpack.Unmarshal(body, &req); err != nil {
		logger.Warn("Invalid fetch request", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: CodeInvalidRequest})
		return
	}
	if len(req.Checksums) > h.maxBatch {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "too many checksums", Code: CodeInvalidRequest})
		return
	}

	found, err := h.source.FetchAssets(c.Request.Context(), req.Checksums)
	if err != nil {
		logger.Error("Asset lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: CodeInternal})
		return
	}

	resp := asset.FetchResponse{Assets: make([]asset.WireAsset, 0, len(found))}
	for _, sum := range req.Checksums {
		if a, ok := found[sum]; ok {
			resp.Assets = append(resp.Assets, asset.WireAsset{Checksum: sum, Kind: a.Kind, Data: a.Data})
			delete(found, sum)
		}
	}

	payload, err := msgpack.Marshal(&resp)
	if err != nil {
		logger.Error("Encode fetch response failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: CodeInternal})
		return
	}

	logger.Debug("Assets served", "requested", len(req.Checksums), "served", len(resp.Assets))
	c.Data(http.StatusOK, asset.ContentType, payload)
}

// HandleCurrent handles GET /v1/assets/current.
//
// Response:
//
//	200 OK: CurrentResponse
//	404 Not Found: Nothing published yet
func (h *AssetHandlers) HandleCurrent(c *gin.Context) {
	cur := h.Current()
	if cur.IsNull() {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no solution published", Code: CodeNoPublished})
		return
	}
	c.JSON(http.StatusOK, CurrentResponse{Checksum: cur.String()})
}
