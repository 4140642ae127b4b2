// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
)

// DocumentTree is a resolved document record.
type DocumentTree struct {
	Checksum checksum.Checksum
	Kind     DocumentKind
	State    *DocumentStateChecksums
}

// ProjectTree is a resolved project record with its documents.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type ProjectTree struct {
	Checksum checksum.Checksum
	State    *ProjectStateChecksums

	// Documents in project order: regular, then additional, then analyzer
	// config documents, each in collection order.
	Documents []*DocumentTree

	byID map[DocumentID]*DocumentTree
}

// NewProjectTree resolves a project record against its document records.
//
// Outputs:
//
//	*ProjectTree - The resolved project.
//	error - Non-nil if any document record is absent from docs.
func NewProjectTree(state *ProjectStateChecksums, docs map[checksum.Checksum]*DocumentStateChecksums) (*ProjectTree, error) {
	pt := &ProjectTree{
		Checksum:  state.Checksum(),
		State:     state,
		Documents: make([]*DocumentTree, 0, state.DocumentCount()),
		byID:      make(map[DocumentID]*DocumentTree, state.DocumentCount()),
	}
	for _, kind := range []DocumentKind{DocumentRegular, DocumentAdditional, DocumentAnalyzerConfig} {
		for _, c := range state.DocumentCollection(kind).Items() {
			ds, ok := docs[c]
			if !ok {
				return nil, fmt.Errorf("project %s: document record %s not resolved", state.ProjectID, c.Short())
			}
			dt := &DocumentTree{Checksum: c, Kind: kind, State: ds}
			pt.Documents = append(pt.Documents, dt)
			pt.byID[ds.DocumentID] = dt
		}
	}
	return pt, nil
}

// Document returns the document with the given ID.
func (p *ProjectTree) Document(id DocumentID) (*DocumentTree, bool) {
	d, ok := p.byID[id]
	return d, ok
}

// SolutionTree is a fully resolved solution: every state record from the
// root to the documents, but no leaf assets.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type SolutionTree struct {
	Checksum checksum.Checksum
	State    *SolutionStateChecksums

	// Projects in solution order.
	Projects []*ProjectTree

	byID map[ProjectID]*ProjectTree
}

// NewSolutionTree resolves a solution record against its project trees.
func NewSolutionTree(state *SolutionStateChecksums, projects map[checksum.Checksum]*ProjectTree) (*SolutionTree, error) {
	st := &SolutionTree{
		Checksum: state.Checksum(),
		State:    state,
		Projects: make([]*ProjectTree, 0, state.Projects.Len()),
		byID:     make(map[ProjectID]*ProjectTree, state.Projects.Len()),
	}
	for _, c := range state.Projects.Items() {
		pt, ok := projects[c]
		if !ok {
			return nil, fmt.Errorf("project record %s not resolved", c.Short())
		}
		st.Projects = append(st.Projects, pt)
		st.byID[pt.State.ProjectID] = pt
	}
	return st, nil
}

// Project returns the project with the given ID.
func (s *SolutionTree) Project(id ProjectID) (*ProjectTree, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// DocumentCount returns the number of documents across all projects.
func (s *SolutionTree) DocumentCount() int {
	n := 0
	for _, p := range s.Projects {
		n += len(p.Documents)
	}
	return n
}

// AddAllTo adds every node checksum in the tree, records and leaves, to set.
func (s *SolutionTree) AddAllTo(set checksum.Set) {
	set.Add(s.Checksum)
	s.State.AddAllTo(set)
	for _, p := range s.Projects {
		p.State.AddAllTo(set)
		for _, d := range p.Documents {
			d.State.AddAllTo(set)
		}
	}
}

// LoadTree resolves the state records of target.
//
// Description:
//
//	Fetches the solution record, then every project record not already
//	present in base, then every document record not already present in
//	base. Each level is fetched in one SynchronizeAssets batch, and
//	subtrees whose checksum matches base are reused by pointer without
//	any fetch. Leaf assets (attributes, text) are not fetched.
//
//	With a nil base this resolves the whole record tree in at most three
//	batches.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	p - Asset provider.
//	target - Solution checksum to resolve.
//	base - Previously resolved tree to share subtrees with. May be nil.
//
// Outputs:
//
//	*SolutionTree - The resolved tree.
//	error - asset.ErrAssetNotFound, asset.ErrUnavailable, ErrChecksumMismatch,
//	        or a context error.
func LoadTree(ctx context.Context, p asset.Provider, target checksum.Checksum, base *SolutionTree) (*SolutionTree, error) {
	if base != nil && base.Checksum == target {
		return base, nil
	}

	sol, err := LoadSolution(ctx, p, target)
	if err != nil {
		return nil, fmt.Errorf("load solution %s: %w", target.Short(), err)
	}

	baseProjects := make(map[checksum.Checksum]*ProjectTree)
	baseDocs := make(map[checksum.Checksum]*DocumentStateChecksums)
	if base != nil {
		for _, pt := range base.Projects {
			baseProjects[pt.Checksum] = pt
			for _, dt := range pt.Documents {
				baseDocs[dt.Checksum] = dt.State
			}
		}
	}

	projects := make(map[checksum.Checksum]*ProjectTree, sol.Projects.Len())
	var newProjects []checksum.Checksum
	for _, c := range sol.Projects.Items() {
		if pt, ok := baseProjects[c]; ok {
			projects[c] = pt
			continue
		}
		newProjects = append(newProjects, c)
	}
	if len(newProjects) == 0 {
		return NewSolutionTree(sol, projects)
	}

	if err := p.SynchronizeAssets(ctx, newProjects); err != nil {
		return nil, fmt.Errorf("fetch project records: %w", err)
	}
	projectStates := make([]*ProjectStateChecksums, 0, len(newProjects))
	var newDocs []checksum.Checksum
	for _, c := range newProjects {
		ps, err := LoadProject(ctx, p, c)
		if err != nil {
			return nil, fmt.Errorf("load project %s: %w", c.Short(), err)
		}
		projectStates = append(projectStates, ps)
		for _, kind := range []DocumentKind{DocumentRegular, DocumentAdditional, DocumentAnalyzerConfig} {
			for _, dc := range ps.DocumentCollection(kind).Items() {
				if _, ok := baseDocs[dc]; !ok {
					newDocs = append(newDocs, dc)
				}
			}
		}
	}

	if err := p.SynchronizeAssets(ctx, newDocs); err != nil {
		return nil, fmt.Errorf("fetch document records: %w", err)
	}
	docs := baseDocs
	for _, c := range newDocs {
		if _, ok := docs[c]; ok {
			continue
		}
		ds, err := LoadDocument(ctx, p, c)
		if err != nil {
			return nil, fmt.Errorf("load document %s: %w", c.Short(), err)
		}
		docs[c] = ds
	}

	for _, ps := range projectStates {
		pt, err := NewProjectTree(ps, docs)
		if err != nil {
			return nil, err
		}
		projects[pt.Checksum] = pt
	}
	return NewSolutionTree(sol, projects)
}
