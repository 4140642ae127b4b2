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
	"context"
	"slices"
	"sync"

	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
)

// Source fetches assets from wherever they originate, usually the primary.
//
// FetchAssets returns the assets it could resolve. Checksums it could not
// resolve are simply absent from the result; the Provider turns those into
// a MissingAssetsError. An error return means the whole call failed.
type Source interface {
	FetchAssets(ctx context.Context, cs []checksum.Checksum) (map[checksum.Checksum]Asset, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, cs []checksum.Checksum) (map[checksum.Checksum]Asset, error)

// FetchAssets implements Source.
func (f SourceFunc) FetchAssets(ctx context.Context, cs []checksum.Checksum) (map[checksum.Checksum]Asset, error) {
	return f(ctx, cs)
}

// StoreSource serves assets directly out of a Store. The primary uses it to
// answer fetch requests; tests use it as an in-process primary.
type StoreSource struct {
	store Store
}

// NewStoreSource returns a Source reading from store.
func NewStoreSource(store Store) *StoreSource {
	return &StoreSource{store: store}
}

// FetchAssets implements Source.
func (s *StoreSource) FetchAssets(ctx context.Context, cs []checksum.Checksum) (map[checksum.Checksum]Asset, error) {
	out := make(map[checksum.Checksum]Asset, len(cs))
	for _, c := range cs {
		a, ok, err := s.store.Get(ctx, c)
		if err != nil {
			return nil, err
		}
		if ok {
			out[c] = a
		}
	}
	return out, nil
}

// CountingSource wraps a Source and records every batch it forwards.
//
// Thread Safety: Safe for concurrent use.
type CountingSource struct {
	inner Source

	mu      sync.Mutex
	batches [][]checksum.Checksum
}

// NewCountingSource wraps inner.
func NewCountingSource(inner Source) *CountingSource {
	return &CountingSource{inner: inner}
}

// FetchAssets implements Source.
func (s *CountingSource) FetchAssets(ctx context.Context, cs []checksum.Checksum) (map[checksum.Checksum]Asset, error) {
	s.mu.Lock()
	s.batches = append(s.batches, slices.Clone(cs))
	s.mu.Unlock()
	return s.inner.FetchAssets(ctx, cs)
}

// Calls returns how many batches were forwarded.
func (s *CountingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// Batches returns a copy of every forwarded batch, in call order.
func (s *CountingSource) Batches() [][]checksum.Checksum {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]checksum.Checksum, len(s.batches))
	for i, b := range s.batches {
		out[i] = slices.Clone(b)
	}
	return out
}

// Fetched returns every checksum forwarded across all batches.
func (s *CountingSource) Fetched() checksum.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(checksum.Set)
	for _, b := range s.batches {
		for _, c := range b {
			set.Add(c)
		}
	}
	return set
}

// Reset clears the recorded batches.
func (s *CountingSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = nil
}
