// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package publish is the primary side of synchronization: it turns a
// solution description into content-addressed assets and the state
// checksum tree over them, and stores them where workers can fetch them.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/state"
	"github.com/AleutianAI/AleutianSync/services/remote/workspace"
)

var (
	// ErrDuplicateProject indicates two projects with the same ID.
	ErrDuplicateProject = errors.New("duplicate project id")

	// ErrDuplicateDocument indicates two documents with the same ID in a project.
	ErrDuplicateDocument = errors.New("duplicate document id")

	// ErrMissingID indicates a project or document without an ID.
	ErrMissingID = errors.New("missing id")
)

// DocumentInfo describes one document.
type DocumentInfo struct {
	Attributes workspace.DocumentAttributes
	Text       workspace.SourceText
}

// ProjectInfo describes one project.
type ProjectInfo struct {
	Attributes         workspace.ProjectAttributes
	CompilationOptions workspace.CompilationOptions
	ParseOptions       workspace.ParseOptions
	ProjectReferences  []workspace.ProjectReference
	MetadataReferences []workspace.MetadataReference
	AnalyzerReferences []workspace.AnalyzerReference

	Documents               []DocumentInfo
	AdditionalDocuments     []DocumentInfo
	AnalyzerConfigDocuments []DocumentInfo
}

// SolutionInfo describes a whole solution.
type SolutionInfo struct {
	Attributes         workspace.SolutionAttributes
	AnalyzerReferences []workspace.AnalyzerReference
	Projects           []ProjectInfo
}

// Result is an encoded solution.
type Result struct {
	// Checksum is the solution state checksum.
	Checksum checksum.Checksum

	// Assets holds every leaf and record asset of the solution.
	Assets map[checksum.Checksum]asset.Asset
}

// encoder accumulates assets while walking a SolutionInfo.
type encoder struct {
	assets map[checksum.Checksum]asset.Asset
}

func (e *encoder) leaf(kind asset.Kind, v any) (checksum.Checksum, error) {
	c, a, err := asset.NewLeaf(kind, v)
	if err != nil {
		return checksum.Null, fmt.Errorf("%s: %w", kind, err)
	}
	e.assets[c] = a
	return c, nil
}

func (e *encoder) record(c checksum.Checksum, a asset.Asset, err error) (checksum.Checksum, error) {
	if err != nil {
		return checksum.Null, err
	}
	e.assets[c] = a
	return c, nil
}

func leaves[T any](e *encoder, kind asset.Kind, vs []T) (checksum.Collection, error) {
	cs := make([]checksum.Checksum, 0, len(vs))
	for _, v := range vs {
		c, err := e.leaf(kind, v)
		if err != nil {
			return checksum.Collection{}, err
		}
		cs = append(cs, c)
	}
	return checksum.NewCollection(cs...), nil
}

// Encode turns info into assets and computes the solution checksum.
//
// Description:
//
//	Every leaf value is encoded and hashed, then the document, project and
//	solution records are built bottom-up from their children's checksums.
//	Encoding is deterministic: the same info always yields the same
//	checksum and the same assets.
//
// Outputs:
//
//	*Result - The solution checksum and all assets.
//	error - ErrMissingID, ErrDuplicateProject, ErrDuplicateDocument, or an
//	        encoding error.
func Encode(info SolutionInfo) (*Result, error) {
	e := &encoder{assets: make(map[checksum.Checksum]asset.Asset)}

	attrs, err := e.leaf(asset.KindSolutionAttributes, info.Attributes)
	if err != nil {
		return nil, err
	}
	analyzers, err := leaves(e, asset.KindAnalyzerReference, info.AnalyzerReferences)
	if err != nil {
		return nil, err
	}

	seen := make(map[state.ProjectID]bool, len(info.Projects))
	projects := make([]checksum.Checksum, 0, len(info.Projects))
	for _, p := range info.Projects {
		id := p.Attributes.ID
		if id == "" {
			return nil, fmt.Errorf("%w: project %q", ErrMissingID, p.Attributes.Name)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProject, id)
		}
		seen[id] = true

		c, err := e.project(p)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", id, err)
		}
		projects = append(projects, c)
	}

	sol := &state.SolutionStateChecksums{
		Attributes:         attrs,
		Projects:           checksum.NewCollection(projects...),
		AnalyzerReferences: analyzers,
	}
	c, err := e.record(sol.Asset())
	if err != nil {
		return nil, err
	}
	return &Result{Checksum: c, Assets: e.assets}, nil
}

func (e *encoder) project(p ProjectInfo) (checksum.Checksum, error) {
	ps := &state.ProjectStateChecksums{ProjectID: p.Attributes.ID}

	var err error
	if ps.Attributes, err = e.leaf(asset.KindProjectAttributes, p.Attributes); err != nil {
		return checksum.Null, err
	}
	if ps.CompilationOptions, err = e.leaf(asset.KindCompilationOptions, p.CompilationOptions); err != nil {
		return checksum.Null, err
	}
	if ps.ParseOptions, err = e.leaf(asset.KindParseOptions, p.ParseOptions); err != nil {
		return checksum.Null, err
	}
	if ps.ProjectReferences, err = leaves(e, asset.KindProjectReference, p.ProjectReferences); err != nil {
		return checksum.Null, err
	}
	if ps.MetadataReferences, err = leaves(e, asset.KindMetadataReference, p.MetadataReferences); err != nil {
		return checksum.Null, err
	}
	if ps.AnalyzerReferences, err = leaves(e, asset.KindAnalyzerReference, p.AnalyzerReferences); err != nil {
		return checksum.Null, err
	}

	seen := make(map[state.DocumentID]bool)
	docs := func(infos []DocumentInfo) (checksum.Collection, error) {
		cs := make([]checksum.Checksum, 0, len(infos))
		for _, d := range infos {
			id := d.Attributes.ID
			if id == "" {
				return checksum.Collection{}, fmt.Errorf("%w: document %q", ErrMissingID, d.Attributes.Name)
			}
			if seen[id] {
				return checksum.Collection{}, fmt.Errorf("%w: %s", ErrDuplicateDocument, id)
			}
			seen[id] = true
			c, err := e.document(d)
			if err != nil {
				return checksum.Collection{}, fmt.Errorf("document %s: %w", id, err)
			}
			cs = append(cs, c)
		}
		return checksum.NewCollection(cs...), nil
	}
	if ps.Documents, err = docs(p.Documents); err != nil {
		return checksum.Null, err
	}
	if ps.AdditionalDocuments, err = docs(p.AdditionalDocuments); err != nil {
		return checksum.Null, err
	}
	if ps.AnalyzerConfigDocuments, err = docs(p.AnalyzerConfigDocuments); err != nil {
		return checksum.Null, err
	}
	return e.record(ps.Asset())
}

func (e *encoder) document(d DocumentInfo) (checksum.Checksum, error) {
	ds := &state.DocumentStateChecksums{DocumentID: d.Attributes.ID}
	var err error
	if ds.Attributes, err = e.leaf(asset.KindDocumentAttributes, d.Attributes); err != nil {
		return checksum.Null, err
	}
	if ds.Text, err = e.leaf(asset.KindSourceText, d.Text); err != nil {
		return checksum.Null, err
	}
	return e.record(ds.Asset())
}

// Publish encodes info and stores every asset in one atomic batch.
//
// Outputs:
//
//	checksum.Checksum - The solution checksum workers request.
//	error - Encoding or store errors. Nothing is stored on error.
func Publish(ctx context.Context, store asset.Store, info SolutionInfo) (checksum.Checksum, error) {
	res, err := Encode(info)
	if err != nil {
		return checksum.Null, err
	}
	if err := store.PutAll(ctx, res.Assets); err != nil {
		return checksum.Null, fmt.Errorf("store solution assets: %w", err)
	}
	return res.Checksum, nil
}
