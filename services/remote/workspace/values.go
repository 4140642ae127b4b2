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

import "github.com/AleutianAI/AleutianSync/services/remote/state"

// SolutionID identifies a solution across snapshots.
type SolutionID string

// SolutionAttributes are the solution's own properties.
type SolutionAttributes struct {
	ID       SolutionID `msgpack:"id" json:"id"`
	FilePath string     `msgpack:"file_path" json:"file_path"`
	Version  int64      `msgpack:"version" json:"version"`
}

// ProjectAttributes are a project's own properties.
type ProjectAttributes struct {
	ID           state.ProjectID `msgpack:"id" json:"id"`
	Name         string          `msgpack:"name" json:"name"`
	AssemblyName string          `msgpack:"assembly_name" json:"assembly_name"`
	Language     string          `msgpack:"language" json:"language"`
	FilePath     string          `msgpack:"file_path" json:"file_path"`
	OutputPath   string          `msgpack:"output_path" json:"output_path"`
}

// CompilationOptions are opaque compiler settings.
type CompilationOptions struct {
	Language   string            `msgpack:"language" json:"language"`
	OutputKind string            `msgpack:"output_kind" json:"output_kind"`
	Options    map[string]string `msgpack:"options" json:"options,omitempty"`
}

// ParseOptions are opaque parser settings.
type ParseOptions struct {
	Language            string   `msgpack:"language" json:"language"`
	LanguageVersion     string   `msgpack:"language_version" json:"language_version"`
	PreprocessorSymbols []string `msgpack:"preprocessor_symbols" json:"preprocessor_symbols,omitempty"`
}

// ProjectReference points at another project of the solution.
type ProjectReference struct {
	ProjectID state.ProjectID `msgpack:"project_id" json:"project_id"`
	Aliases   []string        `msgpack:"aliases" json:"aliases,omitempty"`
}

// MetadataReference points at a compiled library.
type MetadataReference struct {
	Path    string   `msgpack:"path" json:"path"`
	Aliases []string `msgpack:"aliases" json:"aliases,omitempty"`
}

// AnalyzerReference points at an analyzer assembly.
type AnalyzerReference struct {
	FullPath string `msgpack:"full_path" json:"full_path"`
}

// DocumentAttributes are a document's own properties.
type DocumentAttributes struct {
	ID        state.DocumentID `msgpack:"id" json:"id"`
	Name      string           `msgpack:"name" json:"name"`
	FilePath  string           `msgpack:"file_path" json:"file_path"`
	Folders   []string         `msgpack:"folders" json:"folders,omitempty"`
	Generated bool             `msgpack:"generated" json:"generated"`
}

// SourceText is a document's content.
type SourceText struct {
	Encoding string `msgpack:"encoding" json:"encoding"`
	Content  string `msgpack:"content" json:"content"`
}
