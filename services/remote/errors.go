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
	"errors"
	"net/http"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/solution"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInvalidChecksum     = "INVALID_CHECKSUM"
	CodeSnapshotUnavailable = "SNAPSHOT_UNAVAILABLE"
	CodeSnapshotNotCached   = "SNAPSHOT_NOT_CACHED"
	CodePrimaryUnavailable  = "PRIMARY_UNAVAILABLE"
	CodeNoPublished         = "NO_PUBLISHED_SOLUTION"
	CodeCancelled           = "REQUEST_CANCELLED"
	CodeTimeout             = "REQUEST_TIMEOUT"
	CodeInternal            = "INTERNAL_ERROR"
)

// StatusClientClosedRequest is returned when the caller went away while
// its snapshot was being built.
const StatusClientClosedRequest = 499

// errorStatus maps a snapshot error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, checksum.ErrInvalidChecksum):
		return http.StatusBadRequest, CodeInvalidChecksum
	case solution.IsSnapshotUnavailable(err):
		return http.StatusNotFound, CodeSnapshotUnavailable
	case errors.Is(err, asset.ErrUnavailable):
		return http.StatusServiceUnavailable, CodePrimaryUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, CodeCancelled
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
