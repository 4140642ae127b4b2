// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"errors"
	"sync"
)

// ErrNotRecoverable is returned by Get when a released value has no
// recovery function.
var ErrNotRecoverable = errors.New("value released and not recoverable")

// RecoverFunc reproduces a released value.
type RecoverFunc[T any] func(ctx context.Context) (T, error)

// ValueSource holds a value that can be dropped from memory and recovered.
//
// Description:
//
//	A ValueSource is in exactly one of two states: resident, holding the
//	value, or released, holding only the recipe to reproduce it. Release
//	moves a recoverable source to the released state; Get moves it back
//	by running the recipe. A source without a recipe can never be released.
//
// Thread Safety: Safe for concurrent use. Concurrent Gets on a released
// source run the recipe once. The recipe runs without the lock held, so
// TryGet, Resident and Release never wait on a recovery.
type ValueSource[T any] struct {
	mu        sync.Mutex
	value     T
	resident  bool
	recoverFn RecoverFunc[T]

	// recovering is closed when the running recovery finishes. Nil when
	// no recovery is running.
	recovering chan struct{}
}

// NewValueSource returns a resident source. recoverFn may be nil.
func NewValueSource[T any](value T, recoverFn RecoverFunc[T]) *ValueSource[T] {
	return &ValueSource[T]{value: value, resident: true, recoverFn: recoverFn}
}

// NewLazyValueSource returns a released source that recovers on first Get.
func NewLazyValueSource[T any](recoverFn RecoverFunc[T]) *ValueSource[T] {
	return &ValueSource[T]{recoverFn: recoverFn}
}

// TryGet returns the value only if it is resident.
func (s *ValueSource[T]) TryGet() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.resident
}

// Get returns the value, recovering it if it was released.
//
// Description:
//
//	The first caller to find the source released runs the recipe. Other
//	callers wait for it to finish, then re-check. A failed recovery
//	leaves the source released and the next caller retries.
//
// Inputs:
//
//	ctx - Passed to the recipe. Waiters stop waiting when it is done.
//
// Outputs:
//
//	T - The value.
//	error - ErrNotRecoverable, the recipe's error, or ctx.Err().
func (s *ValueSource[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		s.mu.Lock()
		if s.resident {
			v := s.value
			s.mu.Unlock()
			return v, nil
		}
		if s.recoverFn == nil {
			s.mu.Unlock()
			return zero, ErrNotRecoverable
		}
		if wait := s.recovering; wait != nil {
			s.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
		done := make(chan struct{})
		s.recovering = done
		fn := s.recoverFn
		s.mu.Unlock()

		return s.runRecovery(ctx, fn, done)
	}
}

// runRecovery runs fn outside the lock and publishes its result. done is
// closed even if fn panics.
func (s *ValueSource[T]) runRecovery(ctx context.Context, fn RecoverFunc[T], done chan struct{}) (v T, err error) {
	ok := false
	defer func() {
		s.mu.Lock()
		s.recovering = nil
		if ok {
			s.value, s.resident = v, true
		}
		s.mu.Unlock()
		close(done)
	}()
	v, err = fn(ctx)
	ok = err == nil
	return v, err
}

// Release drops the resident value. It reports whether anything was
// released; sources without a recipe are never released.
func (s *ValueSource[T]) Release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resident || s.recoverFn == nil {
		return false
	}
	var zero T
	s.value, s.resident = zero, false
	return true
}

// Resident reports whether the value is held in memory.
func (s *ValueSource[T]) Resident() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resident
}
