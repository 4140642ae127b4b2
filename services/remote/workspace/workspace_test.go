// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianSync/services/remote/publish/publishtest"
	"github.com/AleutianAI/AleutianSync/services/remote/state"
	"github.com/AleutianAI/AleutianSync/services/remote/synchronizer"
	"github.com/AleutianAI/AleutianSync/services/remote/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSource(t *testing.T) {
	ctx := context.Background()
	var recovered atomic.Int32
	vs := workspace.NewValueSource("hello", func(context.Context) (string, error) {
		recovered.Add(1)
		return "hello", nil
	})

	v, ok := vs.TryGet()
	assert.True(t, ok)
	assert.Equal(t, "hello", v)

	assert.True(t, vs.Release())
	assert.False(t, vs.Resident())
	_, ok = vs.TryGet()
	assert.False(t, ok)
	assert.False(t, vs.Release(), "already released")

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := vs.Get(ctx)
			assert.NoError(t, err)
			assert.Equal(t, "hello", got)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), recovered.Load())
	assert.True(t, vs.Resident())
}

func TestValueSource_NotRecoverable(t *testing.T) {
	vs := workspace.NewValueSource(42, nil)
	assert.False(t, vs.Release(), "no recipe, never released")
	v, err := vs.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	lazy := workspace.NewLazyValueSource[int](nil)
	_, err = lazy.Get(context.Background())
	assert.ErrorIs(t, err, workspace.ErrNotRecoverable)
}

func TestValueSource_RecoveryErrorStaysReleased(t *testing.T) {
	boom := errors.New("boom")
	lazy := workspace.NewLazyValueSource(func(context.Context) (string, error) { return "", boom })
	_, err := lazy.Get(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, lazy.Resident())
}

func TestValueSource_SlowRecoveryDoesNotBlockReaders(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var recovered atomic.Int32
	lazy := workspace.NewLazyValueSource(func(context.Context) (string, error) {
		if recovered.Add(1) == 1 {
			close(entered)
		}
		<-unblock
		return "text", nil
	})

	first := make(chan string, 1)
	go func() {
		v, err := lazy.Get(context.Background())
		assert.NoError(t, err)
		first <- v
	}()
	<-entered

	// The lock is free while the recipe runs.
	_, ok := lazy.TryGet()
	assert.False(t, ok)
	assert.False(t, lazy.Resident())
	assert.False(t, lazy.Release())

	// A waiter gives up with its own context.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := lazy.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	second := make(chan string, 1)
	go func() {
		v, err := lazy.Get(context.Background())
		assert.NoError(t, err)
		second <- v
	}()

	close(unblock)
	assert.Equal(t, "text", <-first)
	assert.Equal(t, "text", <-second)
	assert.Equal(t, int32(1), recovered.Load())
	assert.True(t, lazy.Resident())
}

func TestValueSource_PanickingRecipeCanBeRetried(t *testing.T) {
	var calls atomic.Int32
	lazy := workspace.NewLazyValueSource(func(context.Context) (int, error) {
		if calls.Add(1) == 1 {
			panic("recipe bug")
		}
		return 7, nil
	})

	assert.Panics(t, func() { _, _ = lazy.Get(context.Background()) })
	assert.False(t, lazy.Resident())

	v, err := lazy.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestBuilder_FullBuild(t *testing.T) {
	ctx := context.Background()
	primary := publishtest.NewPrimary()
	info := publishtest.Generate("sol", 2, 3)
	info.Projects[1].ProjectReferences = []workspace.ProjectReference{{ProjectID: "p0"}}
	c := primary.Publish(t, info)

	provider := primary.NewProvider()
	require.NoError(t, synchronizer.New(provider).SynchronizeSolutionAssets(ctx, c))
	tree, err := state.LoadTree(ctx, provider, c, nil)
	require.NoError(t, err)
	primary.Source.Reset()

	sol, stats, err := workspace.NewBuilder(provider).Build(ctx, tree, nil)
	require.NoError(t, err)
	assert.Zero(t, primary.Source.Calls(), "build after sync is local")

	assert.Equal(t, c, sol.Checksum())
	assert.Equal(t, workspace.SolutionID("sol"), sol.ID())
	assert.Equal(t, 6, sol.DocumentCount())
	assert.Equal(t, workspace.BuildStats{ProjectsBuilt: 2, DocumentsBuilt: 6}, stats)

	p1, ok := sol.Project("p1")
	require.True(t, ok)
	assert.Equal(t, "go", p1.CompilationOptions().Language)
	assert.Equal(t, []workspace.ProjectReference{{ProjectID: "p0"}}, p1.ProjectReferences())
	require.Len(t, p1.MetadataReferences(), 1)

	d, ok := sol.Document("p1", "p1/d2.go")
	require.True(t, ok)
	text, err := d.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "package p1 // 2", text.Content)
	assert.Equal(t, state.DocumentRegular, d.Kind())
}

func TestBuilder_SharesUnchangedValues(t *testing.T) {
	ctx := context.Background()
	primary := publishtest.NewPrimary()
	info := publishtest.Generate("sol", 3, 3)
	a := primary.Publish(t, info)
	b := primary.Publish(t, publishtest.WithText(info, "p1", "p1/d0.go", "package p1 // edited"))

	provider := primary.NewProvider()
	s := synchronizer.New(provider)
	builder := workspace.NewBuilder(provider)

	require.NoError(t, s.SynchronizeSolutionAssets(ctx, a))
	treeA, err := state.LoadTree(ctx, provider, a, nil)
	require.NoError(t, err)
	solA, _, err := builder.Build(ctx, treeA, nil)
	require.NoError(t, err)

	require.NoError(t, s.SynchronizeSolutionAssets(ctx, b))
	treeB, err := state.LoadTree(ctx, provider, b, treeA)
	require.NoError(t, err)
	solB, stats, err := builder.Build(ctx, treeB, solA)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.ProjectsReused)
	assert.Equal(t, 1, stats.ProjectsBuilt)
	assert.Equal(t, 1, stats.DocumentsBuilt)
	assert.Equal(t, 8, stats.DocumentsReused)

	pa0, _ := solA.Project("p0")
	pb0, _ := solB.Project("p0")
	assert.Same(t, pa0, pb0)

	da1, _ := solA.Document("p1", "p1/d1.go")
	db1, _ := solB.Document("p1", "p1/d1.go")
	assert.Same(t, da1, db1)

	da0, _ := solA.Document("p1", "p1/d0.go")
	db0, _ := solB.Document("p1", "p1/d0.go")
	assert.NotSame(t, da0, db0)
	textA, err := da0.Text(ctx)
	require.NoError(t, err)
	textB, err := db0.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "package p1 // 0", textA.Content, "old snapshot is unchanged")
	assert.Equal(t, "package p1 // edited", textB.Content)

	// Shared documents share their text source, so releasing one snapshot
	// releases the shared texts in the other.
	require.True(t, db1.TextResident())
	solA.ReleaseTexts()
	assert.False(t, db1.TextResident())
	assert.True(t, db0.TextResident(), "documents rebuilt for solB are its own")
	text, err := db1.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "package p1 // 1", text.Content)
}

func TestSolution_ReleaseTextsRecoversFromStore(t *testing.T) {
	ctx := context.Background()
	primary := publishtest.NewPrimary()
	c := primary.Publish(t, publishtest.Generate("sol", 1, 2))

	provider := primary.NewProvider()
	require.NoError(t, synchronizer.New(provider).SynchronizeSolutionAssets(ctx, c))
	tree, err := state.LoadTree(ctx, provider, c, nil)
	require.NoError(t, err)
	sol, _, err := workspace.NewBuilder(provider).Build(ctx, tree, nil)
	require.NoError(t, err)
	primary.Source.Reset()

	assert.Equal(t, 2, sol.ReleaseTexts())
	d, _ := sol.Document("p0", "p0/d1.go")
	assert.False(t, d.TextResident())

	text, err := d.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "package p0 // 1", text.Content)
	assert.True(t, d.TextResident())
	assert.Zero(t, primary.Source.Calls(), "recovered from the local store")
}

func TestBuilder_CancelledContext(t *testing.T) {
	primary := publishtest.NewPrimary()
	c := primary.Publish(t, publishtest.Generate("sol", 1, 1))
	provider := primary.NewProvider()
	tree, err := state.LoadTree(context.Background(), provider, c, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = workspace.NewBuilder(provider).Build(ctx, tree, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
