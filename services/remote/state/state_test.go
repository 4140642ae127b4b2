// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state_test

import (
	"context"
	"testing"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/publish/publishtest"
	"github.com/AleutianAI/AleutianSync/services/remote/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordChecksum_OrderIndependentCollections(t *testing.T) {
	a, b := checksum.Of([]byte("a")), checksum.Of([]byte("b"))
	attrs := checksum.Of([]byte("attrs"))

	s1 := &state.SolutionStateChecksums{Attributes: attrs, Projects: checksum.NewCollection(a, b)}
	s2 := &state.SolutionStateChecksums{Attributes: attrs, Projects: checksum.NewCollection(b, a)}
	assert.Equal(t, s1.Checksum(), s2.Checksum())

	s3 := &state.SolutionStateChecksums{Attributes: attrs, AnalyzerReferences: checksum.NewCollection(a, b)}
	assert.NotEqual(t, s1.Checksum(), s3.Checksum(), "field position matters")
}

func TestRecordChecksum_IdentityParticipates(t *testing.T) {
	text := checksum.Of([]byte("text"))
	d1 := &state.DocumentStateChecksums{DocumentID: "a.go", Text: text}
	d2 := &state.DocumentStateChecksums{DocumentID: "b.go", Text: text}
	assert.NotEqual(t, d1.Checksum(), d2.Checksum())
}

func TestRecordAsset_RoundTrip(t *testing.T) {
	ps := &state.ProjectStateChecksums{
		ProjectID:           "p",
		Attributes:          checksum.Of([]byte("attrs")),
		Documents:           checksum.NewCollection(checksum.Of([]byte("d1")), checksum.Of([]byte("d2"))),
		AdditionalDocuments: checksum.NewCollection(checksum.Of([]byte("readme"))),
	}
	c, a, err := ps.Asset()
	require.NoError(t, err)
	assert.Equal(t, asset.KindProjectState, a.Kind)

	var out state.ProjectStateChecksums
	require.NoError(t, asset.Decode(a.Data, &out))
	assert.Equal(t, c, out.Checksum())
	assert.Equal(t, ps.Documents.Items(), out.Documents.Items())
}

func TestAddAllTo(t *testing.T) {
	ps := &state.ProjectStateChecksums{
		Attributes:         checksum.Of([]byte("attrs")),
		CompilationOptions: checksum.Of([]byte("copts")),
		ParseOptions:       checksum.Of([]byte("popts")),
		Documents:          checksum.NewCollection(checksum.Of([]byte("d1"))),
		MetadataReferences: checksum.NewCollection(checksum.Of([]byte("m1"))),
	}
	all := make(checksum.Set)
	ps.AddAllTo(all)
	assert.Equal(t, 5, all.Len())

	leaves := make(checksum.Set)
	ps.AddLeavesTo(leaves)
	assert.Equal(t, 4, leaves.Len())
	assert.False(t, leaves.Has(checksum.Of([]byte("d1"))))
}

func TestLoadSolution_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	sol := &state.SolutionStateChecksums{Attributes: checksum.Of([]byte("attrs"))}
	_, a, err := sol.Asset()
	require.NoError(t, err)

	// Publish the record under a checksum it does not hash to.
	wrong := checksum.Of([]byte("wrong"))
	store := asset.NewMemoryStore()
	require.NoError(t, store.PutAll(ctx, map[checksum.Checksum]asset.Asset{wrong: a}))
	local := asset.NewMemoryStore()
	p := asset.NewCachingProvider(local, asset.NewStoreSource(store))

	_, err = state.LoadSolution(ctx, p, wrong)
	assert.ErrorIs(t, err, state.ErrChecksumMismatch)
	assert.ErrorIs(t, err, asset.ErrCorruptAsset)

	n, err := local.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a corrupt record must not be cached")
}

func TestVerifyRecord(t *testing.T) {
	doc := &state.DocumentStateChecksums{DocumentID: "a.go", Text: checksum.Of([]byte("text"))}
	c, a, err := doc.Asset()
	require.NoError(t, err)

	assert.NoError(t, state.VerifyRecord(asset.KindDocumentState, c, a.Data))
	assert.ErrorIs(t, state.VerifyRecord(asset.KindDocumentState, checksum.Of([]byte("x")), a.Data), state.ErrChecksumMismatch)
	assert.Error(t, state.VerifyRecord(asset.KindDocumentState, c, []byte{0x80}))
	assert.ErrorIs(t, state.VerifyRecord(asset.KindSourceText, c, a.Data), asset.ErrKindMismatch)
}

func TestLoadTree_Full(t *testing.T) {
	ctx := context.Background()
	primary := publishtest.NewPrimary()
	c := primary.Publish(t, publishtest.Generate("sol", 3, 4))

	tree, err := state.LoadTree(ctx, primary.NewProvider(), c, nil)
	require.NoError(t, err)

	assert.Equal(t, c, tree.Checksum)
	require.Len(t, tree.Projects, 3)
	assert.Equal(t, 12, tree.DocumentCount())
	assert.Equal(t, 3, primary.Source.Calls(), "solution, projects, documents")

	p1, ok := tree.Project("p1")
	require.True(t, ok)
	d, ok := p1.Document("p1/d2.go")
	require.True(t, ok)
	assert.Equal(t, state.DocumentRegular, d.Kind)
}

func TestLoadTree_SharesUnchangedSubtrees(t *testing.T) {
	ctx := context.Background()
	primary := publishtest.NewPrimary()
	info := publishtest.Generate("sol", 3, 4)
	a := primary.Publish(t, info)
	b := primary.Publish(t, publishtest.WithText(info, "p2", "p2/d0.go", "package p2 // changed"))

	p := primary.NewProvider()
	base, err := state.LoadTree(ctx, p, a, nil)
	require.NoError(t, err)
	primary.Source.Reset()

	target, err := state.LoadTree(ctx, p, b, base)
	require.NoError(t, err)

	batches := primary.Source.Batches()
	require.Len(t, batches, 3)
	assert.Len(t, batches[1], 1, "only the changed project record")
	assert.Len(t, batches[2], 1, "only the changed document record")

	bp0, _ := base.Project("p0")
	tp0, _ := target.Project("p0")
	assert.Same(t, bp0, tp0)

	bp2, _ := base.Project("p2")
	tp2, _ := target.Project("p2")
	assert.NotSame(t, bp2, tp2)
	bd1, _ := bp2.Document("p2/d1.go")
	td1, _ := tp2.Document("p2/d1.go")
	assert.Same(t, bd1.State, td1.State)
}

func TestLoadTree_SameChecksumReturnsBase(t *testing.T) {
	ctx := context.Background()
	primary := publishtest.NewPrimary()
	c := primary.Publish(t, publishtest.Generate("sol", 1, 1))
	p := primary.NewProvider()

	base, err := state.LoadTree(ctx, p, c, nil)
	require.NoError(t, err)
	again, err := state.LoadTree(ctx, p, c, base)
	require.NoError(t, err)
	assert.Same(t, base, again)
}

func TestLoadTree_MissingRecord(t *testing.T) {
	ctx := context.Background()
	primary := publishtest.NewPrimary()
	info := publishtest.Generate("sol", 2, 2)
	res := primary.Publish(t, info)

	tree, err := state.LoadTree(ctx, primary.NewProvider(), res, nil)
	require.NoError(t, err)
	p1, _ := tree.Project("p1")
	require.NoError(t, primary.Store.Delete(ctx, p1.Documents[0].Checksum))

	_, err = state.LoadTree(ctx, primary.NewProvider(), res, nil)
	assert.ErrorIs(t, err, asset.ErrAssetNotFound)
}
