// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package publishtest builds fixture solutions and an in-process primary
// for tests.
package publishtest

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/publish"
	"github.com/AleutianAI/AleutianSync/services/remote/state"
	"github.com/AleutianAI/AleutianSync/services/remote/workspace"
)

// Document returns a regular document fixture.
func Document(id, content string) publish.DocumentInfo {
	return publish.DocumentInfo{
		Attributes: workspace.DocumentAttributes{
			ID:       state.DocumentID(id),
			Name:     id,
			FilePath: id,
		},
		Text: workspace.SourceText{Encoding: "utf-8", Content: content},
	}
}

// Project returns a project fixture holding docs.
func Project(id string, docs ...publish.DocumentInfo) publish.ProjectInfo {
	return publish.ProjectInfo{
		Attributes: workspace.ProjectAttributes{
			ID:       state.ProjectID(id),
			Name:     id,
			Language: "go",
		},
		CompilationOptions: workspace.CompilationOptions{Language: "go", OutputKind: "library"},
		ParseOptions:       workspace.ParseOptions{Language: "go", LanguageVersion: "1.25"},
		MetadataReferences: []workspace.MetadataReference{{Path: "stdlib"}},
		Documents:          docs,
	}
}

// Solution returns a solution fixture holding projects.
func Solution(id string, projects ...publish.ProjectInfo) publish.SolutionInfo {
	return publish.SolutionInfo{
		Attributes: workspace.SolutionAttributes{ID: workspace.SolutionID(id), FilePath: "/src/" + id},
		Projects:   projects,
	}
}

// Generate returns a solution with the given number of projects, each with
// docsPerProject documents named "p<i>/d<j>.go".
func Generate(id string, projects, docsPerProject int) publish.SolutionInfo {
	sol := Solution(id)
	for i := range projects {
		pid := fmt.Sprintf("p%d", i)
		docs := make([]publish.DocumentInfo, 0, docsPerProject)
		for j := range docsPerProject {
			did := fmt.Sprintf("%s/d%d.go", pid, j)
			docs = append(docs, Document(did, fmt.Sprintf("package %s // %d", pid, j)))
		}
		sol.Projects = append(sol.Projects, Project(pid, docs...))
	}
	return sol
}

// Clone deep-copies the parts of info that the With helpers modify.
func Clone(info publish.SolutionInfo) publish.SolutionInfo {
	out := info
	out.Projects = slices.Clone(info.Projects)
	for i := range out.Projects {
		p := &out.Projects[i]
		p.Documents = slices.Clone(p.Documents)
		p.AdditionalDocuments = slices.Clone(p.AdditionalDocuments)
		p.AnalyzerConfigDocuments = slices.Clone(p.AnalyzerConfigDocuments)
	}
	return out
}

// WithText returns a copy of info where document did of project pid has
// the given content. It panics if the document does not exist.
func WithText(info publish.SolutionInfo, pid, did, content string) publish.SolutionInfo {
	out := Clone(info)
	for i := range out.Projects {
		p := &out.Projects[i]
		if string(p.Attributes.ID) != pid {
			continue
		}
		for j := range p.Documents {
			if string(p.Documents[j].Attributes.ID) == did {
				p.Documents[j].Text.Content = content
				return out
			}
		}
	}
	panic(fmt.Sprintf("publishtest: no document %s/%s", pid, did))
}

// Primary is an in-process primary: a store plus a counting source over it.
type Primary struct {
	Store  *asset.MemoryStore
	Source *asset.CountingSource
}

// NewPrimary creates an empty primary.
func NewPrimary() *Primary {
	store := asset.NewMemoryStore()
	return &Primary{
		Store:  store,
		Source: asset.NewCountingSource(asset.NewStoreSource(store)),
	}
}

// Publish stores info and returns its solution checksum.
func (p *Primary) Publish(tb testing.TB, info publish.SolutionInfo) checksum.Checksum {
	tb.Helper()
	c, err := publish.Publish(context.Background(), p.Store, info)
	if err != nil {
		tb.Fatalf("publish: %v", err)
	}
	return c
}

// NewProvider returns a worker-side provider with an empty local store
// that fetches from p.
func (p *Primary) NewProvider(opts ...asset.ProviderOption) *asset.CachingProvider {
	return asset.NewCachingProvider(asset.NewMemoryStore(), p.Source, opts...)
}
