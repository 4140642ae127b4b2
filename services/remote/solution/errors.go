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
	"errors"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/state"
)

var (
	// ErrPlanFailed wraps a failure or panic of the incremental planner.
	// It never reaches callers; the service falls back to a full build.
	ErrPlanFailed = errors.New("incremental plan failed")
)

// IsSnapshotUnavailable reports whether err means the requested snapshot
// cannot be produced from what the primary holds. Retrying the same
// checksum will not help.
func IsSnapshotUnavailable(err error) bool {
	return errors.Is(err, asset.ErrAssetNotFound) ||
		errors.Is(err, asset.ErrKindMismatch) ||
		errors.Is(err, asset.ErrCorruptAsset) ||
		errors.Is(err, state.ErrChecksumMismatch)
}

// isFatal reports whether err must propagate instead of triggering a
// fallback to a full build.
func isFatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, asset.ErrAssetNotFound) ||
		errors.Is(err, asset.ErrUnavailable)
}
