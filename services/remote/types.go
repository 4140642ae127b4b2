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
	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/solution"
)

// SnapshotRequest is the request for POST /v1/remote/snapshot and
// POST /v1/remote/primary.
type SnapshotRequest struct {
	// Checksum is the hex solution state checksum.
	Checksum string `json:"checksum" binding:"required"`
}

// SnapshotResponse summarizes a resolved snapshot.
type SnapshotResponse struct {
	Checksum   string `json:"checksum"`
	SolutionID string `json:"solution_id"`
	FilePath   string `json:"file_path"`
	Projects   int    `json:"projects"`
	Documents  int    `json:"documents"`

	// Strategy is "cached", "incremental" or "full".
	Strategy string `json:"strategy"`

	// Reason is why an incremental build was declined, if it was.
	Reason     string `json:"reason,omitempty"`
	Primary    bool   `json:"primary"`
	DurationMs int64  `json:"duration_ms"`
}

// DocumentSummary describes one document of a snapshot.
type DocumentSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	FilePath     string `json:"file_path"`
	Kind         string `json:"kind"`
	Checksum     string `json:"checksum"`
	TextChecksum string `json:"text_checksum"`
}

// ProjectSummary describes one project of a snapshot.
type ProjectSummary struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Language  string            `json:"language"`
	Checksum  string            `json:"checksum"`
	Documents []DocumentSummary `json:"documents"`
}

// DocumentsResponse is the response for GET /v1/remote/snapshot/:checksum/documents.
type DocumentsResponse struct {
	Checksum string           `json:"checksum"`
	Projects []ProjectSummary `json:"projects"`
}

// StatsResponse is the response for GET /v1/remote/stats.
type StatsResponse struct {
	Service  solution.Stats      `json:"service"`
	Provider *asset.ProviderStats `json:"provider,omitempty"`
	Primary  string              `json:"primary,omitempty"`
	Last     string              `json:"last,omitempty"`
}

// HealthResponse is the response for GET /v1/remote/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the response for GET /v1/remote/ready.
type ReadyResponse struct {
	Ready      bool   `json:"ready"`
	HasPrimary bool   `json:"has_primary"`
	Primary    string `json:"primary,omitempty"`
	Building   bool   `json:"building"`
}

// CurrentResponse is the response for GET /v1/assets/current.
type CurrentResponse struct {
	Checksum string `json:"checksum"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}
