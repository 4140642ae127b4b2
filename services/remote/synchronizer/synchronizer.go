// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synchronizer brings every asset of a solution or a set of
// projects into the local store with a fixed number of round trips.
//
// A full solution synchronization walks the checksum tree one level at a
// time and fetches each level in a single batch:
//
//	1. the solution record
//	2. the solution's children, including every project record
//	3. the children of every project, including every document record
//	4. the children of every document (attributes and text)
//
// The number of round trips is therefore independent of how many projects
// and documents the solution has.
package synchronizer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/state"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.sync.synchronizer")

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Synchronizer batches asset fetches by tree level.
//
// Thread Safety: Safe for concurrent use. Concurrency control across
// requests is the caller's responsibility.
type Synchronizer struct {
	provider asset.Provider
	logger   *slog.Logger
}

// New creates a Synchronizer over provider.
func New(provider asset.Provider, opts ...Option) *Synchronizer {
	s := &Synchronizer{provider: provider, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SynchronizeAssets fetches exactly the listed checksums that are not yet
// cached. It does not descend into records.
func (s *Synchronizer) SynchronizeAssets(ctx context.Context, cs []checksum.Checksum) error {
	return s.provider.SynchronizeAssets(ctx, cs)
}

// SynchronizeSolutionAssets fetches the whole tree under solution.
//
// Description:
//
//	Four batches, one per tree level. Each level's records are decoded from
//	the local store after their batch commits to discover the next level.
//	Levels that are already cached cost no round trip.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	solution - Root checksum.
//
// Outputs:
//
//	error - asset.ErrAssetNotFound (fail fast, naming the missing checksums),
//	        asset.ErrUnavailable, state.ErrChecksumMismatch, or a context error.
//	        Batches committed before a failure stay cached.
func (s *Synchronizer) SynchronizeSolutionAssets(ctx context.Context, solution checksum.Checksum) (err error) {
	ctx, span := tracer.Start(ctx, "Synchronizer.SynchronizeSolutionAssets")
	defer span.End()
	span.SetAttributes(attribute.String("sync.solution", solution.Short()))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	start := time.Now()

	// Batch 1.
	sol, err := state.LoadSolution(ctx, s.provider, solution)
	if err != nil {
		return fmt.Errorf("solution %s: %w", solution.Short(), err)
	}

	// Batch 2.
	children := make(checksum.Set)
	sol.AddAllTo(children)
	if err := s.provider.SynchronizeAssets(ctx, children.Sorted()); err != nil {
		return fmt.Errorf("solution children: %w", err)
	}

	projects := sol.Projects.Items()
	if err := s.synchronizeProjectLevels(ctx, projects); err != nil {
		return err
	}

	s.logger.Debug("synchronized solution assets",
		slog.String("checksum", solution.Short()),
		slog.Int("projects", len(projects)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// SynchronizeProjectAssets fetches the subtrees of the given projects.
//
// Description:
//
//	Any project records not yet cached are fetched in one batch, followed
//	by batches 3 and 4 of the solution strategy restricted to these
//	projects.
func (s *Synchronizer) SynchronizeProjectAssets(ctx context.Context, projects []checksum.Checksum) error {
	ctx, span := tracer.Start(ctx, "Synchronizer.SynchronizeProjectAssets")
	defer span.End()
	span.SetAttributes(attribute.Int("sync.projects", len(projects)))

	if err := s.provider.SynchronizeAssets(ctx, projects); err != nil {
		span.RecordError(err)
		return fmt.Errorf("project records: %w", err)
	}
	if err := s.synchronizeProjectLevels(ctx, projects); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// synchronizeProjectLevels runs batches 3 and 4 for projects whose records
// are already cached.
func (s *Synchronizer) synchronizeProjectLevels(ctx context.Context, projects []checksum.Checksum) error {
	// Batch 3.
	projectChildren := make(checksum.Set)
	docs := make(checksum.Set)
	for _, c := range projects {
		ps, err := state.LoadProject(ctx, s.provider, c)
		if err != nil {
			return fmt.Errorf("project %s: %w", c.Short(), err)
		}
		ps.AddAllTo(projectChildren)
		ps.Documents.AddAllTo(docs)
		ps.AdditionalDocuments.AddAllTo(docs)
		ps.AnalyzerConfigDocuments.AddAllTo(docs)
	}
	if err := s.provider.SynchronizeAssets(ctx, projectChildren.Sorted()); err != nil {
		return fmt.Errorf("project children: %w", err)
	}

	// Batch 4.
	leaves := make(checksum.Set)
	for _, c := range docs.Sorted() {
		ds, err := state.LoadDocument(ctx, s.provider, c)
		if err != nil {
			return fmt.Errorf("document %s: %w", c.Short(), err)
		}
		ds.AddAllTo(leaves)
	}
	if err := s.provider.SynchronizeAssets(ctx, leaves.Sorted()); err != nil {
		return fmt.Errorf("document children: %w", err)
	}
	return nil
}
