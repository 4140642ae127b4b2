// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package solution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/diff"
	"github.com/AleutianAI/AleutianSync/services/remote/publish"
	"github.com/AleutianAI/AleutianSync/services/remote/publish/publishtest"
	"github.com/AleutianAI/AleutianSync/services/remote/state"
	"github.com/AleutianAI/AleutianSync/services/remote/workspace"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *publishtest.Primary) {
	t.Helper()
	primary := publishtest.NewPrimary()
	return NewService(primary.NewProvider(), opts...), primary
}

// addedChecksums returns the assets of next that prev does not have.
func addedChecksums(t *testing.T, prev, next publish.SolutionInfo) checksum.Set {
	t.Helper()
	a, err := publish.Encode(prev)
	require.NoError(t, err)
	b, err := publish.Encode(next)
	require.NoError(t, err)
	out := make(checksum.Set)
	for c := range b.Assets {
		if _, ok := a.Assets[c]; !ok {
			out.Add(c)
		}
	}
	return out
}

func TestResolve_FullBuildWithoutPrimary(t *testing.T) {
	ctx := context.Background()
	s, primary := newTestService(t)
	info := publishtest.Generate("sol", 2, 3)
	c := primary.Publish(t, info)

	res, err := s.Resolve(ctx, c, false)
	require.NoError(t, err)
	assert.Equal(t, StrategyFull, res.Strategy)
	assert.Equal(t, diff.ReasonNoBase, res.Reason)
	assert.Equal(t, c, res.Solution.Checksum())
	assert.Equal(t, 6, res.Solution.DocumentCount())
	assert.Equal(t, 4, primary.Source.Calls())

	assert.Nil(t, s.Primary())
	assert.Same(t, res.Solution, s.Last())
}

func TestResolve_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, primary := newTestService(t)
	c := primary.Publish(t, publishtest.Generate("sol", 2, 2))

	first, err := s.GetSolution(ctx, c)
	require.NoError(t, err)
	calls := primary.Source.Calls()

	res, err := s.Resolve(ctx, c, false)
	require.NoError(t, err)
	assert.Same(t, first, res.Solution)
	assert.Equal(t, StrategyCached, res.Strategy)
	assert.Equal(t, calls, primary.Source.Calls())

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.FullBuilds)
}

func TestResolve_ConcurrentRequestsBuildOnce(t *testing.T) {
	ctx := context.Background()
	s, primary := newTestService(t)
	c := primary.Publish(t, publishtest.Generate("sol", 3, 10))

	const callers = 16
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]*workspace.Solution, callers)
		errs    = make([]error, callers)
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = s.GetSolution(ctx, c)
		}()
	}
	close(start)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.FullBuilds)
	assert.Equal(t, int64(callers-1), stats.Hits)
	assert.Equal(t, 4, primary.Source.Calls())
}

func TestResolve_CacheSlots(t *testing.T) {
	ctx := context.Background()
	s, primary := newTestService(t)
	base := publishtest.Generate("sol", 2, 2)
	a := primary.Publish(t, base)
	b := primary.Publish(t, publishtest.WithText(base, "p0", "p0/d0.go", "package p0 // b"))
	c := primary.Publish(t, publishtest.WithText(base, "p0", "p0/d0.go", "package p0 // c"))

	solA, err := s.UpdatePrimary(ctx, a)
	require.NoError(t, err)
	assert.Same(t, solA, s.Primary())
	assert.Same(t, solA, s.Last())
	assert.Same(t, solA, s.Workspace().Current())

	solB, err := s.GetSolution(ctx, b)
	require.NoError(t, err)
	assert.Same(t, solA, s.Primary(), "ephemeral requests leave the primary alone")
	assert.Same(t, solB, s.Last())

	// Both slots serve hits.
	for _, want := range []*workspace.Solution{solA, solB} {
		res, err := s.Resolve(ctx, want.Checksum(), false)
		require.NoError(t, err)
		assert.Equal(t, StrategyCached, res.Strategy)
		assert.Same(t, want, res.Solution)
	}

	solC, err := s.GetSolution(ctx, c)
	require.NoError(t, err)
	assert.Same(t, solC, s.Last())

	// B was evicted from the last slot and is rebuilt.
	res, err := s.Resolve(ctx, b, false)
	require.NoError(t, err)
	assert.NotEqual(t, StrategyCached, res.Strategy)
	assert.NotSame(t, solB, res.Solution)
	assert.Equal(t, b, res.Solution.Checksum())
}

func TestResolve_PromotesLastSlotWithoutRebuild(t *testing.T) {
	ctx := context.Background()
	s, primary := newTestService(t)
	c := primary.Publish(t, publishtest.Generate("sol", 1, 2))

	sol, err := s.GetSolution(ctx, c)
	require.NoError(t, err)
	calls := primary.Source.Calls()

	res, err := s.Resolve(ctx, c, true)
	require.NoError(t, err)
	assert.Equal(t, StrategyCached, res.Strategy)
	assert.True(t, res.Primary)
	assert.Same(t, sol, s.Primary())
	assert.Same(t, sol, s.Workspace().Current())
	assert.Equal(t, int64(1), s.Workspace().Resets())
	assert.Equal(t, calls, primary.Source.Calls())
}

func TestResolve_IncrementalFetchesOnlyChangedAssets(t *testing.T) {
	ctx := context.Background()
	s, primary := newTestService(t)
	infoA := publishtest.Generate("sol", 2, 2)
	infoB := publishtest.WithText(infoA, "p0", "p0/d1.go", "package p0 // edited")
	a := primary.Publish(t, infoA)
	b := primary.Publish(t, infoB)

	solA, err := s.UpdatePrimary(ctx, a)
	require.NoError(t, err)
	primary.Source.Reset()

	res, err := s.Resolve(ctx, b, false)
	require.NoError(t, err)
	assert.Equal(t, StrategyIncremental, res.Strategy)
	assert.Equal(t, b, res.Solution.Checksum())

	// Root, the changed project record, the changed document record and
	// the new text. Nothing else crosses the wire.
	want := addedChecksums(t, infoA, infoB)
	assert.Len(t, want, 4)
	assert.ElementsMatch(t, want.Sorted(), primary.Source.Fetched().Sorted())

	// Unchanged parts are shared with the primary.
	p1A, _ := solA.Project("p1")
	p1B, _ := res.Solution.Project("p1")
	assert.Same(t, p1A, p1B)
	d0A, _ := solA.Document("p0", "p0/d0.go")
	d0B, _ := res.Solution.Document("p0", "p0/d0.go")
	assert.Same(t, d0A, d0B)

	d1B, ok := res.Solution.Document("p0", "p0/d1.go")
	require.True(t, ok)
	text, err := d1B.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "package p0 // edited", text.Content)

	assert.Same(t, solA, s.Primary())
	assert.Same(t, res.Solution, s.Last())
	assert.Equal(t, int64(1), s.Stats().IncrementalBuilds)
}

func TestUpdatePrimary_IncrementalMovesWorkspace(t *testing.T) {
	ctx := context.Background()
	s, primary := newTestService(t)
	infoA := publishtest.Generate("sol", 2, 2)
	infoB := publishtest.WithText(infoA, "p0", "p0/d1.go", "package p0 // edited")
	a := primary.Publish(t, infoA)
	b := primary.Publish(t, infoB)

	solA, err := s.UpdatePrimary(ctx, a)
	require.NoError(t, err)
	primary.Source.Reset()

	solB, err := s.UpdatePrimary(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, b, solB.Checksum())
	assert.Equal(t, int64(1), s.Stats().IncrementalBuilds)
	assert.Equal(t, int64(1), s.Stats().FullBuilds)
	assert.Len(t, primary.Source.Fetched(), 4)

	// The workspace and both slots follow the new primary.
	assert.Same(t, solB, s.Workspace().Current())
	assert.Same(t, solB, s.Primary())
	assert.Same(t, solB, s.Last())
	assert.Equal(t, int64(2), s.Workspace().Resets())

	// Untouched parts of the old primary carry over by pointer.
	d0A, _ := solA.Document("p0", "p0/d0.go")
	d0B, _ := solB.Document("p0", "p0/d0.go")
	assert.Same(t, d0A, d0B)
	p1A, _ := solA.Project("p1")
	p1B, _ := solB.Project("p1")
	assert.Same(t, p1A, p1B)

	// A repeat is served from the primary slot.
	res, err := s.Resolve(ctx, b, true)
	require.NoError(t, err)
	assert.Equal(t, StrategyCached, res.Strategy)
	assert.Same(t, solB, res.Solution)
}

func TestResolve_IncrementalMatchesFull(t *testing.T) {
	ctx := context.Background()
	primary := publishtest.NewPrimary()
	infoA := publishtest.Generate("sol", 3, 3)
	infoB := publishtest.WithText(infoA, "p1", "p1/d0.go", "package p1 // changed")
	infoB.Projects = infoB.Projects[:2]
	infoB.Projects = append(infoB.Projects, publishtest.Project("p9", publishtest.Document("p9/main.go", "package main")))
	a := primary.Publish(t, infoA)
	b := primary.Publish(t, infoB)

	incremental := NewService(primary.NewProvider(), WithPolicy(diff.Policy{MaxChangeRatio: 1}))
	_, err := incremental.UpdatePrimary(ctx, a)
	require.NoError(t, err)
	got, err := incremental.Resolve(ctx, b, false)
	require.NoError(t, err)
	require.Equal(t, StrategyIncremental, got.Strategy)

	full := NewService(primary.NewProvider())
	want, err := full.Resolve(ctx, b, false)
	require.NoError(t, err)
	require.Equal(t, StrategyFull, want.Strategy)

	assert.Equal(t, want.Solution.Checksum(), got.Solution.Checksum())
	assert.Equal(t, want.Solution.Attributes(), got.Solution.Attributes())
	require.Equal(t, len(want.Solution.Projects()), len(got.Solution.Projects()))
	for _, wp := range want.Solution.Projects() {
		gp, ok := got.Solution.Project(wp.ID())
		require.True(t, ok, "project %s", wp.ID())
		assert.Equal(t, wp.Checksum(), gp.Checksum())
		assert.Equal(t, wp.Attributes(), gp.Attributes())
		for _, wd := range wp.Documents() {
			gd, ok := gp.Document(wd.ID())
			require.True(t, ok, "document %s", wd.ID())
			wt, err := wd.Text(ctx)
			require.NoError(t, err)
			gt, err := gd.Text(ctx)
			require.NoError(t, err)
			assert.Equal(t, wt, gt)
		}
	}
}

func TestResolve_IdentityChangeFallsBackToFull(t *testing.T) {
	ctx := context.Background()
	s, primary := newTestService(t)
	a := primary.Publish(t, publishtest.Generate("sol", 2, 2))
	b := primary.Publish(t, publishtest.Generate("other", 2, 2))

	_, err := s.UpdatePrimary(ctx, a)
	require.NoError(t, err)

	res, err := s.Resolve(ctx, b, false)
	require.NoError(t, err)
	assert.Equal(t, StrategyFull, res.Strategy)
	assert.Equal(t, diff.ReasonIdentityChanged, res.Reason)
	assert.Equal(t, "other", string(res.Solution.ID()))
	assert.Zero(t, s.Stats().Fallbacks, "a declined plan is not a failure")
}

func TestResolve_UnrelatedSolutionDegradesToFull(t *testing.T) {
	ctx := context.Background()
	s, primary := newTestService(t)
	a := primary.Publish(t, publishtest.Generate("sol", 2, 2))

	unrelated := publishtest.Solution("sol",
		publishtest.Project("q0", publishtest.Document("q0/a.go", "package q0")),
		publishtest.Project("q1", publishtest.Document("q1/b.go", "package q1")),
	)
	b := primary.Publish(t, unrelated)

	_, err := s.UpdatePrimary(ctx, a)
	require.NoError(t, err)

	res, err := s.Resolve(ctx, b, false)
	require.NoError(t, err)
	assert.Equal(t, StrategyFull, res.Strategy)
	assert.NotEmpty(t, res.Reason)
	assert.Equal(t, b, res.Solution.Checksum())
	_, ok := res.Solution.Document("q1", "q1/b.go")
	assert.True(t, ok)
}

func TestResolve_PlannerPanicFallsBackToFull(t *testing.T) {
	ctx := context.Background()
	s, primary := newTestService(t)
	infoA := publishtest.Generate("sol", 2, 2)
	a := primary.Publish(t, infoA)
	b := primary.Publish(t, publishtest.WithText(infoA, "p0", "p0/d0.go", "package p0 // b"))

	_, err := s.UpdatePrimary(ctx, a)
	require.NoError(t, err)

	s.detect = func(_, _ diff.Side, _ diff.Policy) diff.Decision {
		panic("planner bug")
	}

	res, err := s.Resolve(ctx, b, false)
	require.NoError(t, err)
	assert.Equal(t, StrategyFull, res.Strategy)
	assert.Equal(t, b, res.Solution.Checksum())
	assert.Equal(t, ReasonIncrementalFailed, res.Reason)
	assert.Equal(t, int64(1), s.Stats().Fallbacks)
	assert.False(t, s.gate.Held())
}

func TestResolve_IncrementalDisabled(t *testing.T) {
	ctx := context.Background()
	s, primary := newTestService(t, WithIncremental(false))
	infoA := publishtest.Generate("sol", 1, 2)
	a := primary.Publish(t, infoA)
	b := primary.Publish(t, publishtest.WithText(infoA, "p0", "p0/d0.go", "package p0 // b"))

	_, err := s.UpdatePrimary(ctx, a)
	require.NoError(t, err)
	res, err := s.Resolve(ctx, b, false)
	require.NoError(t, err)
	assert.Equal(t, StrategyFull, res.Strategy)
	assert.Equal(t, ReasonIncrementalDisabled, res.Reason)
}

func TestResolve_MissingAssetLeavesSlotsUntouched(t *testing.T) {
	ctx := context.Background()
	s, primary := newTestService(t)
	infoA := publishtest.Generate("sol", 2, 2)
	infoB := publishtest.WithText(infoA, "p1", "p1/d1.go", "package p1 // lost")
	a := primary.Publish(t, infoA)
	b := primary.Publish(t, infoB)

	solA, err := s.UpdatePrimary(ctx, a)
	require.NoError(t, err)

	// Drop the new text from the primary; the records stay.
	for _, c := range addedChecksums(t, infoA, infoB).Sorted() {
		got, ok, err := primary.Store.Get(ctx, c)
		require.NoError(t, err)
		require.True(t, ok)
		if got.Kind == asset.KindSourceText {
			require.NoError(t, primary.Store.Delete(ctx, c))
		}
	}

	_, err = s.Resolve(ctx, b, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, asset.ErrAssetNotFound)
	assert.True(t, IsSnapshotUnavailable(err))

	assert.Same(t, solA, s.Primary())
	assert.Same(t, solA, s.Last())
	assert.Equal(t, int64(1), s.Stats().Failures)
	assert.False(t, s.gate.Held())
}

func TestResolve_CorruptRecordIsRefetched(t *testing.T) {
	ctx := context.Background()
	primary := publishtest.NewPrimary()
	c := primary.Publish(t, publishtest.Generate("sol", 1, 2))

	inner := asset.NewStoreSource(primary.Store)
	var corrupted sync.Once
	src := asset.SourceFunc(func(ctx context.Context, cs []checksum.Checksum) (map[checksum.Checksum]asset.Asset, error) {
		out, err := inner.FetchAssets(ctx, cs)
		if err != nil {
			return nil, err
		}
		if a, ok := out[c]; ok {
			corrupted.Do(func() {
				out[c] = asset.Asset{Kind: a.Kind, Data: []byte{0x80}}
			})
		}
		return out, nil
	})
	local := asset.NewMemoryStore()
	s := NewService(asset.NewCachingProvider(local, src))

	_, err := s.Resolve(ctx, c, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, asset.ErrCorruptAsset)
	assert.True(t, IsSnapshotUnavailable(err))
	n, err := local.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a corrupt record must not be cached")
	assert.Nil(t, s.Primary())

	res, err := s.Resolve(ctx, c, true)
	require.NoError(t, err)
	assert.Equal(t, c, res.Solution.Checksum())
	assert.Equal(t, 2, res.Solution.DocumentCount())
}

func TestResolve_CancelledWhileWaitingForGate(t *testing.T) {
	s, primary := newTestService(t)
	c := primary.Publish(t, publishtest.Generate("sol", 1, 1))

	require.NoError(t, s.gate.Acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Resolve(ctx, c, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	s.gate.Release()

	assert.Nil(t, s.Last())
	assert.Zero(t, primary.Source.Calls())
}

func TestResolve_CancelledDuringBuild(t *testing.T) {
	primary := publishtest.NewPrimary()
	c := primary.Publish(t, publishtest.Generate("sol", 1, 1))

	entered := make(chan struct{}, 1)
	blocking := asset.SourceFunc(func(ctx context.Context, _ []checksum.Checksum) (map[checksum.Checksum]asset.Asset, error) {
		entered <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := NewService(asset.NewCachingProvider(asset.NewMemoryStore(), blocking))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Resolve(ctx, c, true)
		done <- err
	}()
	<-entered
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Resolve did not return after cancellation")
	}
	assert.Nil(t, s.Primary())
	assert.Nil(t, s.Last())
	assert.Nil(t, s.Workspace().Current())
	assert.False(t, s.gate.Held())
}

func TestResolve_BuildTimeout(t *testing.T) {
	primary := publishtest.NewPrimary()
	c := primary.Publish(t, publishtest.Generate("sol", 1, 1))

	slow := asset.SourceFunc(func(ctx context.Context, _ []checksum.Checksum) (map[checksum.Checksum]asset.Asset, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := NewService(asset.NewCachingProvider(asset.NewMemoryStore(), slow), WithBuildTimeout(10*time.Millisecond))

	_, err := s.Resolve(context.Background(), c, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, s.Last())
}

func TestResolve_NullChecksum(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.Resolve(context.Background(), checksum.Null, false)
	assert.ErrorIs(t, err, checksum.ErrInvalidChecksum)
}

func TestResolve_UnknownChecksum(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.Resolve(context.Background(), checksum.Of([]byte("nothing")), false)
	require.Error(t, err)
	assert.True(t, IsSnapshotUnavailable(err))
}

func TestIsSnapshotUnavailable(t *testing.T) {
	assert.True(t, IsSnapshotUnavailable(asset.ErrAssetNotFound))
	assert.True(t, IsSnapshotUnavailable(state.ErrChecksumMismatch))
	assert.False(t, IsSnapshotUnavailable(asset.ErrUnavailable))
	assert.False(t, IsSnapshotUnavailable(context.Canceled))
}

func TestGate(t *testing.T) {
	g := newGate()
	require.NoError(t, g.Acquire(context.Background()))
	assert.True(t, g.Held())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Acquire(ctx), context.Canceled)

	g.Release()
	assert.False(t, g.Held())
	assert.Panics(t, g.Release)
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	s, primary := newTestService(t)
	c := primary.Publish(t, publishtest.Generate("sol", 1, 1))

	_, ok := s.Cached(c)
	assert.False(t, ok)

	sol, err := s.GetSolution(ctx, c)
	require.NoError(t, err)
	got, ok := s.Cached(c)
	require.True(t, ok)
	assert.Same(t, sol, got)
	assert.Equal(t, int64(0), s.Stats().Hits, "Cached does not count as a request")
}
