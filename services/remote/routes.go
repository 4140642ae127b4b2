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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the worker routes with the router.
//
// Description:
//
//	Registers all /v1/remote/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/remote/snapshot - Resolve an ephemeral snapshot
//	POST /v1/remote/primary - Resolve and promote a primary snapshot
//	GET  /v1/remote/snapshot/:checksum/documents - List a cached snapshot
//	GET  /v1/remote/stats - Service and provider counters
//	GET  /v1/remote/health - Liveness
//	GET  /v1/remote/ready - Readiness
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	r := rg.Group("/remote")
	{
		r.POST("/snapshot", handlers.HandleSnapshot)
		r.POST("/primary", handlers.HandlePrimary)
		r.GET("/snapshot/:checksum/documents", handlers.HandleDocuments)
		r.GET("/stats", handlers.HandleStats)
		r.GET("/health", handlers.HandleHealth)
		r.GET("/ready", handlers.HandleReady)
	}
}

// RegisterAssetRoutes registers the primary's asset routes.
//
// Endpoints:
//
//	POST /v1/assets/fetch - Fetch assets by checksum (msgpack)
//	GET  /v1/assets/current - Most recently published solution
func RegisterAssetRoutes(rg *gin.RouterGroup, handlers *AssetHandlers) {
	a := rg.Group("/assets")
	{
		a.POST("/fetch", handlers.HandleFetch)
		a.GET("/current", handlers.HandleCurrent)
	}
}
