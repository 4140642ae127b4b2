// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianSync/services/remote/state"
	"github.com/AleutianAI/AleutianSync/services/remote/workspace"
)

var (
	// ErrInvalidRoot indicates the scan root is missing or not a directory.
	ErrInvalidRoot = errors.New("invalid scan root")

	// ErrFileTooLarge indicates a file above the size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// ScanOptions configures ScanDirectory.
type ScanOptions struct {
	// SolutionID defaults to the root directory name.
	SolutionID workspace.SolutionID

	Includes []string
	Excludes []string

	// MaxFileSize skips larger files. 0 means 1 MiB.
	MaxFileSize int64

	Logger *slog.Logger
}

// DefaultScanOptions returns the default include/exclude patterns.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Includes:    DefaultIncludes,
		Excludes:    DefaultExcludes,
		MaxFileSize: 1 << 20,
	}
}

// ScanDirectory describes a directory tree as a solution.
//
// Description:
//
//	Every top-level directory holding at least one matching file becomes a
//	project identified by its directory name; matching files directly under
//	root form a project named after root itself. Every matching file is a
//	document identified by its slash-separated path relative to root.
//	Files named ".editorconfig" or ending in ".editorconfig" become
//	analyzer config documents; "*.md" files become additional documents.
//	Symlinks are skipped and unreadable or oversized files are logged and
//	skipped.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	root - Directory to scan.
//	opts - Patterns and limits.
//
// Outputs:
//
//	SolutionInfo - Projects and documents sorted by ID.
//	error - ErrInvalidRoot or a context error.
func ScanDirectory(ctx context.Context, root string, opts ScanOptions) (SolutionInfo, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return SolutionInfo{}, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return SolutionInfo{}, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return SolutionInfo{}, fmt.Errorf("%w: not a directory", ErrInvalidRoot)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	matcher := NewGlobMatcher(opts.Includes, opts.Excludes)
	rootName := filepath.Base(absRoot)

	projects := make(map[state.ProjectID]*ProjectInfo)
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if walkErr != nil {
			logger.Warn("scan: skipping unreadable path", slog.String("path", rel), slog.String("error", walkErr.Error()))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if rel == "." {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			if matcher.Excluded(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !matcher.Match(rel) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			logger.Warn("scan: stat failed", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}
		if fi.Size() > maxSize {
			logger.Warn("scan: skipping file", slog.String("path", rel), slog.String("error", fmt.Sprintf("%v: %d bytes", ErrFileTooLarge, fi.Size())))
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			logger.Warn("scan: read failed", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}

		pid := state.ProjectID(rootName)
		if i := strings.IndexByte(rel, '/'); i > 0 {
			pid = state.ProjectID(rel[:i])
		}
		proj, ok := projects[pid]
		if !ok {
			proj = newProjectInfo(pid, absRoot)
			projects[pid] = proj
		}
		addDocument(proj, rel, content)
		return nil
	})
	if err != nil {
		return SolutionInfo{}, err
	}

	id := opts.SolutionID
	if id == "" {
		id = workspace.SolutionID(rootName)
	}
	sol := SolutionInfo{
		Attributes: workspace.SolutionAttributes{ID: id, FilePath: absRoot},
	}
	ids := make([]state.ProjectID, 0, len(projects))
	for pid := range projects {
		ids = append(ids, pid)
	}
	slices.Sort(ids)
	for _, pid := range ids {
		sol.Projects = append(sol.Projects, *projects[pid])
	}
	return sol, nil
}

func newProjectInfo(pid state.ProjectID, root string) *ProjectInfo {
	dir := root
	if filepath.Base(root) != string(pid) {
		dir = filepath.Join(root, string(pid))
	}
	return &ProjectInfo{
		Attributes: workspace.ProjectAttributes{
			ID:           pid,
			Name:         string(pid),
			AssemblyName: string(pid),
			FilePath:     dir,
		},
		CompilationOptions: workspace.CompilationOptions{OutputKind: "library"},
	}
}

// addDocument files rel under the right document collection. WalkDir visits
// files in lexical order, so collections come out sorted by path.
func addDocument(proj *ProjectInfo, rel string, content []byte) {
	name := path.Base(rel)
	dir := path.Dir(rel)
	var folders []string
	if dir != "." {
		folders = strings.Split(dir, "/")[1:]
	}

	encoding := "utf-8"
	if !utf8.Valid(content) {
		encoding = "binary"
	}
	doc := DocumentInfo{
		Attributes: workspace.DocumentAttributes{
			ID:       state.DocumentID(rel),
			Name:     name,
			FilePath: rel,
			Folders:  folders,
		},
		Text: workspace.SourceText{Encoding: encoding, Content: string(content)},
	}

	switch {
	case strings.HasSuffix(name, ".editorconfig"):
		proj.AnalyzerConfigDocuments = append(proj.AnalyzerConfigDocuments, doc)
	case path.Ext(name) == ".md":
		proj.AdditionalDocuments = append(proj.AdditionalDocuments, doc)
	default:
		if proj.Attributes.Language == "" {
			proj.Attributes.Language = languageOf(name)
			proj.CompilationOptions.Language = proj.Attributes.Language
			proj.ParseOptions.Language = proj.Attributes.Language
		}
		proj.Documents = append(proj.Documents, doc)
	}
}

func languageOf(name string) string {
	switch path.Ext(name) {
	case ".go":
		return "go"
	case ".cs":
		return "csharp"
	case ".py":
		return "python"
	case ".ts":
		return "typescript"
	case ".js":
		return "javascript"
	default:
		return "text"
	}
}
