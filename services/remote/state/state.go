// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state defines the per-level state checksum records that form the
// Merkle tree of a solution, and the resolved tree built from them.
//
//	SolutionStateChecksums
//	├── Attributes
//	├── AnalyzerReferences[]
//	└── Projects[] ─ ProjectStateChecksums
//	                 ├── Attributes, CompilationOptions, ParseOptions
//	                 ├── ProjectReferences[], MetadataReferences[], AnalyzerReferences[]
//	                 └── Documents[], AdditionalDocuments[], AnalyzerConfigDocuments[]
//	                      └── DocumentStateChecksums ─ Attributes, Text
//
// A record's checksum is computed from its kind, its identity, and its
// children's checksums, so equal checksums imply equal subtrees.
package state

import (
	"errors"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
)

// ErrChecksumMismatch indicates a record whose recomputed checksum differs
// from the checksum it was requested under.
var ErrChecksumMismatch = errors.New("state checksum mismatch")

// ProjectID identifies a project across snapshots.
type ProjectID string

// DocumentID identifies a document within a project across snapshots.
type DocumentID string

// DocumentKind distinguishes the three document collections of a project.
type DocumentKind uint8

const (
	DocumentRegular DocumentKind = iota
	DocumentAdditional
	DocumentAnalyzerConfig
)

// String implements fmt.Stringer.
func (k DocumentKind) String() string {
	switch k {
	case DocumentRegular:
		return "regular"
	case DocumentAdditional:
		return "additional"
	case DocumentAnalyzerConfig:
		return "analyzer_config"
	default:
		return "unknown"
	}
}

// SolutionStateChecksums is the root record.
type SolutionStateChecksums struct {
	Attributes         checksum.Checksum   `msgpack:"attributes"`
	Projects           checksum.Collection `msgpack:"projects"`
	AnalyzerReferences checksum.Collection `msgpack:"analyzer_references"`
}

// Checksum computes the record checksum.
func (s *SolutionStateChecksums) Checksum() checksum.Checksum {
	return checksum.NewBuilder(asset.KindSolutionState.String()).
		Checksum(s.Attributes).
		Checksum(s.Projects.Checksum()).
		Checksum(s.AnalyzerReferences.Checksum()).
		Sum()
}

// AddAllTo adds every direct child checksum to set.
func (s *SolutionStateChecksums) AddAllTo(set checksum.Set) {
	set.Add(s.Attributes)
	s.Projects.AddAllTo(set)
	s.AnalyzerReferences.AddAllTo(set)
}

// Asset encodes the record.
func (s *SolutionStateChecksums) Asset() (checksum.Checksum, asset.Asset, error) {
	return encodeRecord(asset.KindSolutionState, s, s.Checksum())
}

// ProjectStateChecksums describes one project.
type ProjectStateChecksums struct {
	ProjectID               ProjectID           `msgpack:"project_id"`
	Attributes              checksum.Checksum   `msgpack:"attributes"`
	CompilationOptions      checksum.Checksum   `msgpack:"compilation_options"`
	ParseOptions            checksum.Checksum   `msgpack:"parse_options"`
	Documents               checksum.Collection `msgpack:"documents"`
	AdditionalDocuments     checksum.Collection `msgpack:"additional_documents"`
	AnalyzerConfigDocuments checksum.Collection `msgpack:"analyzer_config_documents"`
	ProjectReferences       checksum.Collection `msgpack:"project_references"`
	MetadataReferences      checksum.Collection `msgpack:"metadata_references"`
	AnalyzerReferences      checksum.Collection `msgpack:"analyzer_references"`
}

// Checksum computes the record checksum.
func (p *ProjectStateChecksums) Checksum() checksum.Checksum {
	return checksum.NewBuilder(asset.KindProjectState.String()).
		String(string(p.ProjectID)).
		Checksum(p.Attributes).
		Checksum(p.CompilationOptions).
		Checksum(p.ParseOptions).
		Checksum(p.Documents.Checksum()).
		Checksum(p.AdditionalDocuments.Checksum()).
		Checksum(p.AnalyzerConfigDocuments.Checksum()).
		Checksum(p.ProjectReferences.Checksum()).
		Checksum(p.MetadataReferences.Checksum()).
		Checksum(p.AnalyzerReferences.Checksum()).
		Sum()
}

// AddAllTo adds every direct child checksum, document records included.
func (p *ProjectStateChecksums) AddAllTo(set checksum.Set) {
	p.AddLeavesTo(set)
	p.Documents.AddAllTo(set)
	p.AdditionalDocuments.AddAllTo(set)
	p.AnalyzerConfigDocuments.AddAllTo(set)
}

// AddLeavesTo adds the project's own leaf children: attributes, options
// and references, but no document records.
func (p *ProjectStateChecksums) AddLeavesTo(set checksum.Set) {
	set.Add(p.Attributes)
	set.Add(p.CompilationOptions)
	set.Add(p.ParseOptions)
	p.ProjectReferences.AddAllTo(set)
	p.MetadataReferences.AddAllTo(set)
	p.AnalyzerReferences.AddAllTo(set)
}

// DocumentCollection returns the collection holding documents of kind k.
func (p *ProjectStateChecksums) DocumentCollection(k DocumentKind) checksum.Collection {
	switch k {
	case DocumentAdditional:
		return p.AdditionalDocuments
	case DocumentAnalyzerConfig:
		return p.AnalyzerConfigDocuments
	default:
		return p.Documents
	}
}

// DocumentCount returns the number of documents of all kinds.
func (p *ProjectStateChecksums) DocumentCount() int {
	return p.Documents.Len() + p.AdditionalDocuments.Len() + p.AnalyzerConfigDocuments.Len()
}

// Asset encodes the record.
func (p *ProjectStateChecksums) Asset() (checksum.Checksum, asset.Asset, error) {
	return encodeRecord(asset.KindProjectState, p, p.Checksum())
}

// DocumentStateChecksums describes one document.
type DocumentStateChecksums struct {
	DocumentID DocumentID        `msgpack:"document_id"`
	Attributes checksum.Checksum `msgpack:"attributes"`
	Text       checksum.Checksum `msgpack:"text"`
}

// Checksum computes the record checksum.
func (d *DocumentStateChecksums) Checksum() checksum.Checksum {
	return checksum.NewBuilder(asset.KindDocumentState.String()).
		String(string(d.DocumentID)).
		Checksum(d.Attributes).
		Checksum(d.Text).
		Sum()
}

// AddAllTo adds the attributes and text checksums.
func (d *DocumentStateChecksums) AddAllTo(set checksum.Set) {
	set.Add(d.Attributes)
	set.Add(d.Text)
}

// Asset encodes the record.
func (d *DocumentStateChecksums) Asset() (checksum.Checksum, asset.Asset, error) {
	return encodeRecord(asset.KindDocumentState, d, d.Checksum())
}

func encodeRecord(kind asset.Kind, v any, c checksum.Checksum) (checksum.Checksum, asset.Asset, error) {
	data, err := asset.Encode(v)
	if err != nil {
		return checksum.Null, asset.Asset{}, err
	}
	return c, asset.Asset{Kind: kind, Data: data}, nil
}
