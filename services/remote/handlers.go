// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remote exposes the worker's snapshot service and the primary's
// asset store over HTTP.
package remote

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/solution"
	"github.com/AleutianAI/AleutianSync/services/remote/workspace"
)

// ServiceVersion is the remote sync service version.
const ServiceVersion = "0.1.0"

// ProviderStatser reports asset provider counters.
type ProviderStatser interface {
	Stats() asset.ProviderStats
}

// Handlers contains the worker HTTP handlers.
type Handlers struct {
	svc      *solution.Service
	provider ProviderStatser
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *solution.Service) *Handlers {
	return &Handlers{svc: svc}
}

// WithProviderStats includes provider counters in /stats responses.
func (h *Handlers) WithProviderStats(p ProviderStatser) *Handlers {
	h.provider = p
	return h
}

// HandleSnapshot handles POST /v1/remote/snapshot.
//
// Description:
//
//	Resolves an ephemeral snapshot. The primary is not changed. The
//	request context bounds the wait and the build, so a client that
//	disconnects cancels its own build.
//
// Request Body:
//
//	SnapshotRequest
//
// Response:
//
//	200 OK: SnapshotResponse
//	400 Bad Request: Invalid checksum
//	404 Not Found: The primary does not hold the snapshot's assets
//	503 Service Unavailable: The primary could not be reached
func (h *Handlers) HandleSnapshot(c *gin.Context) {
	h.resolve(c, false, "HandleSnapshot")
}

// HandlePrimary handles POST /v1/remote/primary.
//
// Description:
//
//	Resolves a snapshot and makes it the worker's primary.
//
// Request Body:
//
//	SnapshotRequest
//
// Response:
//
//	Same as HandleSnapshot.
func (h *Handlers) HandlePrimary(c *gin.Context) {
	h.resolve(c, true, "HandlePrimary")
}

func (h *Handlers) resolve(c *gin.Context, isPrimary bool, handler string) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", handler)

	var req SnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  CodeInvalidRequest,
		})
		return
	}

	sum, err := checksum.Parse(req.Checksum)
	if err != nil {
		logger.Warn("Invalid checksum", "checksum", req.Checksum, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  CodeInvalidChecksum,
		})
		return
	}

	res, err := h.svc.Resolve(c.Request.Context(), sum, isPrimary)
	if err != nil {
		status, code := errorStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Error("Snapshot request failed", "checksum", sum.Short(), "error", err)
		} else {
			logger.Warn("Snapshot request failed", "checksum", sum.Short(), "error", err)
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Snapshot resolved",
		"checksum", sum.Short(),
		"strategy", string(res.Strategy),
		"primary", isPrimary,
	)
	c.JSON(http.StatusOK, snapshotResponse(res))
}

func snapshotResponse(res solution.Result) SnapshotResponse {
	sol := res.Solution
	attrs := sol.Attributes()
	return SnapshotResponse{
		Checksum:   sol.Checksum().String(),
		SolutionID: string(attrs.ID),
		FilePath:   attrs.FilePath,
		Projects:   len(sol.Projects()),
		Documents:  sol.DocumentCount(),
		Strategy:   string(res.Strategy),
		Reason:     res.Reason,
		Primary:    res.Primary,
		DurationMs: res.Duration.Milliseconds(),
	}
}

// HandleDocuments handles GET /v1/remote/snapshot/:checksum/documents.
//
// Description:
//
//	Lists the projects and documents of a snapshot held in either cache
//	slot. It never triggers a build.
//
// Response:
//
//	200 OK: DocumentsResponse
//	400 Bad Request: Invalid checksum
//	404 Not Found: Snapshot not cached
func (h *Handlers) HandleDocuments(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDocuments")

	sum, err := checksum.Parse(c.Param("checksum"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  CodeInvalidChecksum,
		})
		return
	}

	sol, ok := h.svc.Cached(sum)
	if !ok {
		logger.Debug("Snapshot not cached", "checksum", sum.Short())
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "snapshot not cached",
			Code:  CodeSnapshotNotCached,
		})
		return
	}

	c.JSON(http.StatusOK, documentsResponse(sol))
}

func documentsResponse(sol *workspace.Solution) DocumentsResponse {
	resp := DocumentsResponse{Checksum: sol.Checksum().String()}
	for _, p := range sol.Projects() {
		attrs := p.Attributes()
		ps := ProjectSummary{
			ID:       string(p.ID()),
			Name:     attrs.Name,
			Language: attrs.Language,
			Checksum: p.Checksum().String(),
		}
		for _, d := range p.Documents() {
			da := d.Attributes()
			ps.Documents = append(ps.Documents, DocumentSummary{
				ID:           string(d.ID()),
				Name:         da.Name,
				FilePath:     da.FilePath,
				Kind:         d.Kind().String(),
				Checksum:     d.Checksum().String(),
				TextChecksum: d.TextChecksum().String(),
			})
		}
		resp.Projects = append(resp.Projects, ps)
	}
	return resp
}

// HandleStats handles GET /v1/remote/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	resp := StatsResponse{Service: h.svc.Stats()}
	if h.provider != nil {
		ps := h.provider.Stats()
		resp.Provider = &ps
	}
	if sol := h.svc.Primary(); sol != nil {
		resp.Primary = sol.Checksum().String()
	}
	if sol := h.svc.Last(); sol != nil {
		resp.Last = sol.Checksum().String()
	}
	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /v1/remote/health.
//
// Response:
//
//	200 OK: HealthResponse
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/remote/ready.
//
// Description:
//
//	A worker is ready once it holds a primary snapshot. Until then it can
//	still serve requests, but every one of them is a full build.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true)
//	503 Service Unavailable: ReadyResponse (Ready=false)
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{Building: h.svc.Building()}
	if sol := h.svc.Primary(); sol != nil {
		resp.Ready = true
		resp.HasPrimary = true
		resp.Primary = sol.Checksum().String()
	}

	if !resp.Ready {
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getOrCreateRequestID returns the caller's X-Request-ID or a new one.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
