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
	"sync"

	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
)

// Store is a local, content-addressed asset cache.
//
// Implementations must make PutAll atomic: after it returns, either every
// asset of the batch is visible or none is.
type Store interface {
	// Get returns the asset stored under c. The bool is false if absent.
	Get(ctx context.Context, c checksum.Checksum) (Asset, bool, error)

	// Missing returns the subset of cs that is not stored, in input order.
	Missing(ctx context.Context, cs []checksum.Checksum) ([]checksum.Checksum, error)

	// PutAll stores every asset of the batch atomically.
	PutAll(ctx context.Context, assets map[checksum.Checksum]Asset) error

	// Delete removes the given checksums. Absent checksums are ignored.
	Delete(ctx context.Context, cs ...checksum.Checksum) error

	// Len returns the number of stored assets.
	Len(ctx context.Context) (int, error)
}

// MemoryStore is an in-memory Store.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[checksum.Checksum]Asset
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assets: make(map[checksum.Checksum]Asset)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, c checksum.Checksum) (Asset, bool, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[c]
	return a, ok, nil
}

// Missing implements Store.
func (s *MemoryStore) Missing(ctx context.Context, cs []checksum.Checksum) ([]checksum.Checksum, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []checksum.Checksum
	for _, c := range cs {
		if _, ok := s.assets[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

// PutAll implements Store. The whole batch is applied under one lock.
func (s *MemoryStore) PutAll(ctx context.Context, assets map[checksum.Checksum]Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c, a := range assets {
		s.assets[c] = a
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, cs ...checksum.Checksum) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cs {
		delete(s.assets, c)
	}
	return nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assets), nil
}
