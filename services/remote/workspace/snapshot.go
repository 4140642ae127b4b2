// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace holds the immutable snapshot model a worker builds from
// a resolved state tree: Solution, Project and Document values plus the
// decoded leaf assets they carry.
//
// Snapshots are never mutated. A new snapshot built on top of an older one
// reuses every Project and Document whose checksum is unchanged, so two
// snapshots may share values by pointer but never share mutable state.
package workspace

import (
	"context"
	"slices"

	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/state"
)

// Document is one document of a project snapshot.
type Document struct {
	checksum   checksum.Checksum
	kind       state.DocumentKind
	state      *state.DocumentStateChecksums
	attributes DocumentAttributes
	text       *ValueSource[SourceText]
}

// ID returns the document ID.
func (d *Document) ID() state.DocumentID { return d.state.DocumentID }

// Checksum returns the document state checksum.
func (d *Document) Checksum() checksum.Checksum { return d.checksum }

// Kind returns which project collection the document belongs to.
func (d *Document) Kind() state.DocumentKind { return d.kind }

// Attributes returns the document attributes.
func (d *Document) Attributes() DocumentAttributes { return d.attributes }

// TextChecksum returns the checksum of the document text.
func (d *Document) TextChecksum() checksum.Checksum { return d.state.Text }

// Text returns the document text, recovering it if it was released.
func (d *Document) Text(ctx context.Context) (SourceText, error) {
	return d.text.Get(ctx)
}

// ReleaseText drops the resident text. It reports whether it was released.
func (d *Document) ReleaseText() bool {
	return d.text.Release()
}

// TextResident reports whether the text is held in memory.
func (d *Document) TextResident() bool {
	return d.text.Resident()
}

// Project is one project of a solution snapshot.
type Project struct {
	tree               *state.ProjectTree
	attributes         ProjectAttributes
	compilationOptions CompilationOptions
	parseOptions       ParseOptions
	projectReferences  []ProjectReference
	metadataReferences []MetadataReference
	analyzerReferences []AnalyzerReference
	documents          []*Document
	byID               map[state.DocumentID]*Document
}

// ID returns the project ID.
func (p *Project) ID() state.ProjectID { return p.tree.State.ProjectID }

// Checksum returns the project state checksum.
func (p *Project) Checksum() checksum.Checksum { return p.tree.Checksum }

// Attributes returns the project attributes.
func (p *Project) Attributes() ProjectAttributes { return p.attributes }

// CompilationOptions returns the compilation options.
func (p *Project) CompilationOptions() CompilationOptions { return p.compilationOptions }

// ParseOptions returns the parse options.
func (p *Project) ParseOptions() ParseOptions { return p.parseOptions }

// ProjectReferences returns a copy of the project references.
func (p *Project) ProjectReferences() []ProjectReference { return slices.Clone(p.projectReferences) }

// MetadataReferences returns a copy of the metadata references.
func (p *Project) MetadataReferences() []MetadataReference { return slices.Clone(p.metadataReferences) }

// AnalyzerReferences returns a copy of the analyzer references.
func (p *Project) AnalyzerReferences() []AnalyzerReference { return slices.Clone(p.analyzerReferences) }

// Documents returns the documents of all kinds, in project order.
func (p *Project) Documents() []*Document { return slices.Clone(p.documents) }

// Document returns the document with the given ID.
func (p *Project) Document(id state.DocumentID) (*Document, bool) {
	d, ok := p.byID[id]
	return d, ok
}

// Solution is an immutable solution snapshot.
//
// Thread Safety: Safe for concurrent use.
type Solution struct {
	tree               *state.SolutionTree
	attributes         SolutionAttributes
	analyzerReferences []AnalyzerReference
	projects           []*Project
	byID               map[state.ProjectID]*Project
}

// Checksum returns the solution checksum the snapshot was built for.
func (s *Solution) Checksum() checksum.Checksum { return s.tree.Checksum }

// Tree returns the resolved state tree the snapshot was built from.
func (s *Solution) Tree() *state.SolutionTree { return s.tree }

// ID returns the solution ID.
func (s *Solution) ID() SolutionID { return s.attributes.ID }

// Attributes returns the solution attributes.
func (s *Solution) Attributes() SolutionAttributes { return s.attributes }

// AnalyzerReferences returns a copy of the solution analyzer references.
func (s *Solution) AnalyzerReferences() []AnalyzerReference {
	return slices.Clone(s.analyzerReferences)
}

// Projects returns the projects in solution order.
func (s *Solution) Projects() []*Project { return slices.Clone(s.projects) }

// Project returns the project with the given ID.
func (s *Solution) Project(id state.ProjectID) (*Project, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// Document returns a document by project and document ID.
func (s *Solution) Document(pid state.ProjectID, did state.DocumentID) (*Document, bool) {
	p, ok := s.byID[pid]
	if !ok {
		return nil, false
	}
	return p.Document(did)
}

// DocumentCount returns the number of documents across all projects.
func (s *Solution) DocumentCount() int {
	n := 0
	for _, p := range s.projects {
		n += len(p.documents)
	}
	return n
}

// ReleaseTexts drops every resident document text and returns how many
// were released. Texts are recovered from the asset store on next access.
//
// Unchanged documents are shared by pointer with every snapshot built on
// this one, or that this one was built on. Releasing here releases their
// text in those snapshots too. Readers there see no error, only a
// recovery on the next Text call.
func (s *Solution) ReleaseTexts() int {
	n := 0
	for _, p := range s.projects {
		for _, d := range p.documents {
			if d.ReleaseText() {
				n++
			}
		}
	}
	return n
}
