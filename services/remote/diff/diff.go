// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diff decides whether a target solution tree can be reached from a
// base snapshot by applying a finite delta, and enumerates that delta.
//
// Detect is a pure function over two immutable state trees. It walks both
// trees top-down, skipping every subtree whose checksum is unchanged, so
// its cost is proportional to the size of the change, not of the solution.
package diff

import (
	"fmt"

	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/state"
)

// Reasons reported by a Decision that is not capable.
const (
	ReasonNoBase           = "no base snapshot"
	ReasonIdentityChanged  = "solution identity changed"
	ReasonNoOverlap        = "no shared nodes with base"
	ReasonTooManyChanges   = "change ratio above threshold"
	ReasonTooManyDocuments = "too many changed documents"
	ReasonTooManyProjects  = "too many changed projects"
)

// Policy bounds what an incremental update may cover.
type Policy struct {
	// MaxChangeRatio is the largest fraction of changed nodes, in [0, 1],
	// that still allows an incremental update.
	MaxChangeRatio float64 `yaml:"max_change_ratio" validate:"gte=0,lte=1"`

	// MaxChangedDocuments caps added, removed and changed documents. 0 is unlimited.
	MaxChangedDocuments int `yaml:"max_changed_documents" validate:"gte=0"`

	// MaxChangedProjects caps added, removed and changed projects. 0 is unlimited.
	MaxChangedProjects int `yaml:"max_changed_projects" validate:"gte=0"`
}

// DefaultPolicy allows incremental updates while at most half the nodes change.
func DefaultPolicy() Policy {
	return Policy{MaxChangeRatio: 0.5}
}

// Identity is what makes two trees versions of the same solution.
type Identity struct {
	SolutionID string
	FilePath   string
}

// Side is one tree of a comparison.
type Side struct {
	Tree     *state.SolutionTree
	Identity Identity
}

// DocumentChange is one added, removed or changed document.
// Base is nil for an added document and Target is nil for a removed one.
type DocumentChange struct {
	ID     state.DocumentID
	Base   *state.DocumentTree
	Target *state.DocumentTree
}

// ProjectChange describes a project present in both trees with different
// checksums.
type ProjectChange struct {
	ID     state.ProjectID
	Base   *state.ProjectTree
	Target *state.ProjectTree

	// PropertiesChanged is set when any non-document child differs:
	// attributes, options or references.
	PropertiesChanged bool

	AddedDocuments   []DocumentChange
	RemovedDocuments []DocumentChange
	ChangedDocuments []DocumentChange
}

// DocumentChanges returns the number of document changes in the project.
func (p *ProjectChange) DocumentChanges() int {
	return len(p.AddedDocuments) + len(p.RemovedDocuments) + len(p.ChangedDocuments)
}

// Delta is the finite set of changes from base to target.
type Delta struct {
	Base   *state.SolutionTree
	Target *state.SolutionTree

	SolutionAttributesChanged bool
	AnalyzerReferencesChanged bool

	AddedProjects   []*state.ProjectTree
	RemovedProjects []*state.ProjectTree
	ChangedProjects []ProjectChange
}

// Empty reports whether the delta changes nothing.
func (d *Delta) Empty() bool {
	return !d.SolutionAttributesChanged && !d.AnalyzerReferencesChanged &&
		len(d.AddedProjects) == 0 && len(d.RemovedProjects) == 0 && len(d.ChangedProjects) == 0
}

// ProjectChanges returns the number of added, removed and changed projects.
func (d *Delta) ProjectChanges() int {
	return len(d.AddedProjects) + len(d.RemovedProjects) + len(d.ChangedProjects)
}

// DocumentChanges returns the number of added, removed and changed
// documents, counting every document of an added or removed project.
func (d *Delta) DocumentChanges() int {
	n := 0
	for _, p := range d.AddedProjects {
		n += len(p.Documents)
	}
	for _, p := range d.RemovedProjects {
		n += len(p.Documents)
	}
	for i := range d.ChangedProjects {
		n += d.ChangedProjects[i].DocumentChanges()
	}
	return n
}

// RequiredChecksums returns the leaf assets needed to apply the delta on
// top of the base snapshot, sorted. Records are not included; they were
// resolved when the target tree was loaded.
func (d *Delta) RequiredChecksums() []checksum.Checksum {
	set := make(checksum.Set)
	if d.SolutionAttributesChanged {
		set.Add(d.Target.State.Attributes)
	}
	if d.AnalyzerReferencesChanged {
		d.Target.State.AnalyzerReferences.AddAllTo(set)
	}
	for _, p := range d.AddedProjects {
		p.State.AddLeavesTo(set)
		for _, doc := range p.Documents {
			doc.State.AddAllTo(set)
		}
	}
	for i := range d.ChangedProjects {
		pc := &d.ChangedProjects[i]
		if pc.PropertiesChanged {
			pc.Target.State.AddLeavesTo(set)
		}
		for _, dc := range pc.AddedDocuments {
			dc.Target.State.AddAllTo(set)
		}
		for _, dc := range pc.ChangedDocuments {
			dc.Target.State.AddAllTo(set)
		}
	}
	return set.Sorted()
}

// String summarizes the delta for logs.
func (d *Delta) String() string {
	return fmt.Sprintf("projects +%d -%d ~%d, documents %d, solution attrs %t",
		len(d.AddedProjects), len(d.RemovedProjects), len(d.ChangedProjects),
		d.DocumentChanges(), d.SolutionAttributesChanged)
}

// Decision is the result of Detect.
type Decision struct {
	// Capable is true when Delta can be applied incrementally.
	Capable bool

	// Reason explains a false Capable.
	Reason string

	// Delta is set whenever both trees were compared, capable or not.
	Delta *Delta

	// ChangeRatio is changed nodes over total nodes.
	ChangeRatio float64
}

// Detect compares base and target.
//
// Description:
//
//	Returns a capable decision only when target is a bounded delta of
//	base. Not capable when there is no base tree, when the solution ID or
//	file path differ, when no node is shared, or when the change exceeds
//	policy. Nodes counted are the solution itself, each project's own
//	properties, and each document; a changed subtree counts each changed
//	node once.
//
// Inputs:
//
//	base - The snapshot to update. base.Tree may be nil.
//	target - The requested tree. target.Tree must not be nil.
//	policy - Bounds on the delta.
//
// Outputs:
//
//	Decision - Never panics on well-formed trees.
func Detect(base, target Side, policy Policy) Decision {
	if base.Tree == nil {
		return Decision{Reason: ReasonNoBase}
	}
	if base.Identity != target.Identity {
		return Decision{Reason: ReasonIdentityChanged}
	}

	d := &Delta{Base: base.Tree, Target: target.Tree}
	if base.Tree.Checksum == target.Tree.Checksum {
		return Decision{Capable: true, Delta: d}
	}

	var c counter

	bs, ts := base.Tree.State, target.Tree.State
	d.SolutionAttributesChanged = bs.Attributes != ts.Attributes
	d.AnalyzerReferencesChanged = !bs.AnalyzerReferences.Equal(ts.AnalyzerReferences)
	c.node(d.SolutionAttributesChanged || d.AnalyzerReferencesChanged)

	for _, tp := range target.Tree.Projects {
		bp, ok := base.Tree.Project(tp.State.ProjectID)
		switch {
		case !ok:
			d.AddedProjects = append(d.AddedProjects, tp)
			c.nodes(1+len(tp.Documents), true)
		case bp.Checksum == tp.Checksum:
			c.nodes(1+len(tp.Documents), false)
		default:
			d.ChangedProjects = append(d.ChangedProjects, compareProject(bp, tp, &c))
		}
	}
	for _, bp := range base.Tree.Projects {
		if _, ok := target.Tree.Project(bp.State.ProjectID); !ok {
			d.RemovedProjects = append(d.RemovedProjects, bp)
			c.nodes(1+len(bp.Documents), true)
		}
	}

	dec := Decision{Delta: d, ChangeRatio: c.ratio()}
	switch {
	case c.unchanged == 0:
		dec.Reason = ReasonNoOverlap
	case dec.ChangeRatio > policy.MaxChangeRatio:
		dec.Reason = ReasonTooManyChanges
	case policy.MaxChangedDocuments > 0 && d.DocumentChanges() > policy.MaxChangedDocuments:
		dec.Reason = ReasonTooManyDocuments
	case policy.MaxChangedProjects > 0 && d.ProjectChanges() > policy.MaxChangedProjects:
		dec.Reason = ReasonTooManyProjects
	default:
		dec.Capable = true
	}
	return dec
}

func compareProject(bp, tp *state.ProjectTree, c *counter) ProjectChange {
	pc := ProjectChange{ID: tp.State.ProjectID, Base: bp, Target: tp}
	b, t := bp.State, tp.State
	pc.PropertiesChanged = b.Attributes != t.Attributes ||
		b.CompilationOptions != t.CompilationOptions ||
		b.ParseOptions != t.ParseOptions ||
		!b.ProjectReferences.Equal(t.ProjectReferences) ||
		!b.MetadataReferences.Equal(t.MetadataReferences) ||
		!b.AnalyzerReferences.Equal(t.AnalyzerReferences)
	c.node(pc.PropertiesChanged)

	for _, td := range tp.Documents {
		bd, ok := bp.Document(td.State.DocumentID)
		switch {
		case !ok:
			pc.AddedDocuments = append(pc.AddedDocuments, DocumentChange{ID: td.State.DocumentID, Target: td})
			c.node(true)
		case bd.Checksum != td.Checksum || bd.Kind != td.Kind:
			pc.ChangedDocuments = append(pc.ChangedDocuments, DocumentChange{ID: td.State.DocumentID, Base: bd, Target: td})
			c.node(true)
		default:
			c.node(false)
		}
	}
	for _, bd := range bp.Documents {
		if _, ok := tp.Document(bd.State.DocumentID); !ok {
			pc.RemovedDocuments = append(pc.RemovedDocuments, DocumentChange{ID: bd.State.DocumentID, Base: bd})
			c.node(true)
		}
	}
	return pc
}

type counter struct {
	changed   int
	unchanged int
}

func (c *counter) node(changed bool) {
	c.nodes(1, changed)
}

func (c *counter) nodes(n int, changed bool) {
	if changed {
		c.changed += n
	} else {
		c.unchanged += n
	}
}

func (c *counter) ratio() float64 {
	total := c.changed + c.unchanged
	if total == 0 {
		return 0
	}
	return float64(c.changed) / float64(total)
}
