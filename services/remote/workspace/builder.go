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
	"fmt"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/state"
)

// BuildStats reports how much of a build was shared with its base.
type BuildStats struct {
	ProjectsReused  int
	ProjectsBuilt   int
	DocumentsReused int
	DocumentsBuilt  int
}

// Builder turns resolved state trees into snapshots.
//
// Leaf assets are read through the provider. Callers synchronize the
// leaves first so that a build performs no round trips of its own; a leaf
// that is still missing is fetched individually.
type Builder struct {
	provider asset.Provider
}

// NewBuilder creates a Builder reading assets from p.
func NewBuilder(p asset.Provider) *Builder {
	return &Builder{provider: p}
}

// Build creates the snapshot for tree.
//
// Description:
//
//	When base is non-nil, every project whose state checksum also appears
//	in base is reused by pointer, and within rebuilt projects every
//	document whose state checksum and kind match a base document is
//	reused by pointer. Everything else is decoded from leaf assets. With a
//	nil base this is a full build.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	tree - Resolved state tree of the target solution.
//	base - Snapshot to share unchanged values with. May be nil.
//
// Outputs:
//
//	*Solution - The new immutable snapshot.
//	BuildStats - Reuse counters.
//	error - Asset, decode or context errors. No partial snapshot is returned.
func (b *Builder) Build(ctx context.Context, tree *state.SolutionTree, base *Solution) (*Solution, BuildStats, error) {
	var stats BuildStats
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	baseProjects := make(map[checksum.Checksum]*Project)
	baseDocs := make(map[checksum.Checksum]*Document)
	if base != nil {
		for _, p := range base.projects {
			baseProjects[p.Checksum()] = p
			for _, d := range p.documents {
				baseDocs[d.checksum] = d
			}
		}
	}

	attrs, err := asset.Get[SolutionAttributes](ctx, b.provider, tree.State.Attributes, asset.KindSolutionAttributes)
	if err != nil {
		return nil, stats, fmt.Errorf("solution attributes: %w", err)
	}
	analyzers, err := getAll[AnalyzerReference](ctx, b.provider, tree.State.AnalyzerReferences, asset.KindAnalyzerReference)
	if err != nil {
		return nil, stats, fmt.Errorf("solution analyzer references: %w", err)
	}

	sol := &Solution{
		tree:               tree,
		attributes:         attrs,
		analyzerReferences: analyzers,
		projects:           make([]*Project, 0, len(tree.Projects)),
		byID:               make(map[state.ProjectID]*Project, len(tree.Projects)),
	}
	for _, pt := range tree.Projects {
		p, ok := baseProjects[pt.Checksum]
		if ok {
			stats.ProjectsReused++
			stats.DocumentsReused += len(p.documents)
		} else {
			p, err = b.buildProject(ctx, pt, baseDocs, &stats)
			if err != nil {
				return nil, stats, fmt.Errorf("project %s: %w", pt.State.ProjectID, err)
			}
			stats.ProjectsBuilt++
		}
		sol.projects = append(sol.projects, p)
		sol.byID[p.ID()] = p
	}
	return sol, stats, nil
}

func (b *Builder) buildProject(ctx context.Context, pt *state.ProjectTree, baseDocs map[checksum.Checksum]*Document, stats *BuildStats) (*Project, error) {
	ps := pt.State
	attrs, err := asset.Get[ProjectAttributes](ctx, b.provider, ps.Attributes, asset.KindProjectAttributes)
	if err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	copts, err := asset.Get[CompilationOptions](ctx, b.provider, ps.CompilationOptions, asset.KindCompilationOptions)
	if err != nil {
		return nil, fmt.Errorf("compilation options: %w", err)
	}
	popts, err := asset.Get[ParseOptions](ctx, b.provider, ps.ParseOptions, asset.KindParseOptions)
	if err != nil {
		return nil, fmt.Errorf("parse options: %w", err)
	}
	prefs, err := getAll[ProjectReference](ctx, b.provider, ps.ProjectReferences, asset.KindProjectReference)
	if err != nil {
		return nil, fmt.Errorf("project references: %w", err)
	}
	mrefs, err := getAll[MetadataReference](ctx, b.provider, ps.MetadataReferences, asset.KindMetadataReference)
	if err != nil {
		return nil, fmt.Errorf("metadata references: %w", err)
	}
	arefs, err := getAll[AnalyzerReference](ctx, b.provider, ps.AnalyzerReferences, asset.KindAnalyzerReference)
	if err != nil {
		return nil, fmt.Errorf("analyzer references: %w", err)
	}

	p := &Project{
		tree:               pt,
		attributes:         attrs,
		compilationOptions: copts,
		parseOptions:       popts,
		projectReferences:  prefs,
		metadataReferences: mrefs,
		analyzerReferences: arefs,
		documents:          make([]*Document, 0, len(pt.Documents)),
		byID:               make(map[state.DocumentID]*Document, len(pt.Documents)),
	}
	for _, dt := range pt.Documents {
		d, ok := baseDocs[dt.Checksum]
		if ok && d.kind == dt.Kind {
			stats.DocumentsReused++
		} else {
			d, err = b.buildDocument(ctx, dt)
			if err != nil {
				return nil, fmt.Errorf("document %s: %w", dt.State.DocumentID, err)
			}
			stats.DocumentsBuilt++
		}
		p.documents = append(p.documents, d)
		p.byID[d.ID()] = d
	}
	return p, nil
}

func (b *Builder) buildDocument(ctx context.Context, dt *state.DocumentTree) (*Document, error) {
	attrs, err := asset.Get[DocumentAttributes](ctx, b.provider, dt.State.Attributes, asset.KindDocumentAttributes)
	if err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	textChecksum := dt.State.Text
	recoverText := func(ctx context.Context) (SourceText, error) {
		return asset.Get[SourceText](ctx, b.provider, textChecksum, asset.KindSourceText)
	}
	text, err := recoverText(ctx)
	if err != nil {
		return nil, fmt.Errorf("text: %w", err)
	}
	return &Document{
		checksum:   dt.Checksum,
		kind:       dt.Kind,
		state:      dt.State,
		attributes: attrs,
		text:       NewValueSource(text, recoverText),
	}, nil
}

func getAll[T any](ctx context.Context, p asset.Provider, cs checksum.Collection, kind asset.Kind) ([]T, error) {
	out := make([]T, 0, cs.Len())
	for _, c := range cs.Items() {
		v, err := asset.Get[T](ctx, p, c, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
