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
	"path"
	"strings"
)

// Default patterns for ScanDirectory.
var (
	DefaultIncludes = []string{
		"**/*.go",
		"**/*.cs",
		"**/*.py",
		"**/*.ts",
		"**/*.js",
		"**/*.md",
		"**/*.yaml",
		"**/*.editorconfig",
	}

	DefaultExcludes = []string{
		".git/**",
		"vendor/**",
		"node_modules/**",
		"**/bin/**",
		"**/obj/**",
	}
)

// GlobMatcher matches slash-separated relative paths against include and
// exclude patterns. "**" matches any number of path segments.
//
// Thread Safety: Safe for concurrent use after creation.
type GlobMatcher struct {
	includes []string
	excludes []string
}

// NewGlobMatcher creates a matcher. Empty includes match everything.
func NewGlobMatcher(includes, excludes []string) *GlobMatcher {
	return &GlobMatcher{includes: includes, excludes: excludes}
}

// Match reports whether p is included and not excluded.
func (m *GlobMatcher) Match(p string) bool {
	if m.Excluded(p) {
		return false
	}
	if len(m.includes) == 0 {
		return true
	}
	for _, pattern := range m.includes {
		if matchGlob(pattern, p) {
			return true
		}
	}
	return false
}

// Excluded reports whether p, a file or directory, matches an exclude pattern.
func (m *GlobMatcher) Excluded(p string) bool {
	for _, pattern := range m.excludes {
		if matchGlob(pattern, p) || matchGlob(pattern, p+"/") {
			return true
		}
	}
	return false
}

// matchGlob matches segment by segment so that "**" can absorb any number
// of segments, including zero.
func matchGlob(pattern, p string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(p, "/"))
}

func matchSegments(pattern, segs []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			if len(rest) == 0 || (len(rest) == 1 && rest[0] == "") {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(rest, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		ok, err := path.Match(pattern[0], segs[0])
		if err != nil || !ok {
			return false
		}
		pattern, segs = pattern[1:], segs[1:]
	}
	return len(segs) == 0
}
