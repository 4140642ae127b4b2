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
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
)

// Sentinel errors for asset operations.
var (
	// ErrAssetNotFound indicates the primary could not supply a requested
	// asset. The snapshot that needs it is unavailable; callers surface this
	// as a "snapshot unavailable" failure and must not retry blindly.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrUnavailable indicates a transient transport or primary failure.
	// Retryable. Nothing is cached when it occurs.
	ErrUnavailable = errors.New("asset source unavailable")

	// ErrKindMismatch indicates an asset decoded as the wrong kind.
	ErrKindMismatch = errors.New("asset kind mismatch")

	// ErrCorruptAsset indicates an asset whose bytes do not hash to the
	// checksum it was requested under. For state records the error also
	// wraps the verifier's cause.
	ErrCorruptAsset = errors.New("corrupt asset")
)

// MissingAssetsError lists checksums the source could not resolve.
//
// It matches ErrAssetNotFound with errors.Is.
type MissingAssetsError struct {
	Checksums []checksum.Checksum
}

// Error implements error.
func (e *MissingAssetsError) Error() string {
	const limit = 3
	parts := make([]string, 0, limit)
	for i, c := range e.Checksums {
		if i == limit {
			break
		}
		parts = append(parts, c.Short())
	}
	suffix := ""
	if len(e.Checksums) > limit {
		suffix = fmt.Sprintf(" and %d more", len(e.Checksums)-limit)
	}
	return fmt.Sprintf("%d assets not found: %s%s", len(e.Checksums), strings.Join(parts, ", "), suffix)
}

// Unwrap returns ErrAssetNotFound.
func (e *MissingAssetsError) Unwrap() error {
	return ErrAssetNotFound
}
