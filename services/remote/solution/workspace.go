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
	"sync/atomic"

	"github.com/AleutianAI/AleutianSync/services/remote/workspace"
)

// PrimaryWorkspace owns the worker's current primary snapshot.
//
// Thread Safety: Reads are lock-free. Reset is called only by the holder
// of the service gate.
type PrimaryWorkspace struct {
	current atomic.Pointer[workspace.Solution]
	resets  atomic.Int64
}

// Current returns the primary snapshot, or nil before the first primary
// request.
func (w *PrimaryWorkspace) Current() *workspace.Solution {
	return w.current.Load()
}

// Reset replaces the current snapshot and returns the previous one.
func (w *PrimaryWorkspace) Reset(sol *workspace.Solution) *workspace.Solution {
	w.resets.Add(1)
	return w.current.Swap(sol)
}

// Resets returns how many times the workspace has been reset.
func (w *PrimaryWorkspace) Resets() int64 {
	return w.resets.Load()
}
