// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package solution serves workspace snapshots on a remote worker.
//
// The Service keeps two cache slots: the primary snapshot, which follows
// the developer's live workspace, and the most recently requested one.
// Misses are built under a single global gate, incrementally from the
// primary when the difference is small and from scratch otherwise.
package solution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/AleutianAI/AleutianSync/services/remote/diff"
	"github.com/AleutianAI/AleutianSync/services/remote/state"
	"github.com/AleutianAI/AleutianSync/services/remote/synchronizer"
	"github.com/AleutianAI/AleutianSync/services/remote/telemetry"
	"github.com/AleutianAI/AleutianSync/services/remote/workspace"
)

// Strategy names how a snapshot request was satisfied.
type Strategy string

const (
	StrategyCached      Strategy = "cached"
	StrategyIncremental Strategy = "incremental"
	StrategyFull        Strategy = "full"
)

// Reasons reported for full builds that the planner did not decide.
const (
	// ReasonIncrementalDisabled: a primary exists but incremental builds
	// are turned off.
	ReasonIncrementalDisabled = "incremental disabled"

	// ReasonIncrementalFailed: the incremental attempt failed and the
	// service fell back to a full build.
	ReasonIncrementalFailed = "incremental build failed"
)

// Result is a resolved snapshot request.
type Result struct {
	Solution *workspace.Solution
	Strategy Strategy
	Primary  bool

	// Reason is why the snapshot was built in full. Set for every
	// StrategyFull result and empty otherwise.
	Reason   string
	Duration time.Duration
}

// Stats are cumulative service counters.
type Stats struct {
	Hits              int64 `json:"hits"`
	Misses            int64 `json:"misses"`
	IncrementalBuilds int64 `json:"incremental_builds"`
	FullBuilds        int64 `json:"full_builds"`
	Fallbacks         int64 `json:"fallbacks"`
	Failures          int64 `json:"failures"`
	Promotions        int64 `json:"promotions"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPolicy sets the incremental threshold policy.
func WithPolicy(p diff.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithBuildTimeout bounds each build. Zero means no bound beyond the
// caller's context.
func WithBuildTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.buildTimeout = d
	}
}

// WithIncremental enables or disables incremental builds. Enabled by default.
func WithIncremental(enabled bool) Option {
	return func(s *Service) {
		s.incremental = enabled
	}
}

type entry struct {
	checksum checksum.Checksum
	solution *workspace.Solution
}

type counters struct {
	hits, misses, incremental, full, fallbacks, failures, promotions atomic.Int64
}

// Service resolves solution checksums to snapshots.
//
// Description:
//
//	Requests hitting either cache slot return without blocking. Misses
//	serialize on a single gate and re-check the slots once they hold it,
//	so N concurrent requests for the same uncached checksum cause one
//	build. A request's own context governs its wait and its build; a
//	cancelled build leaves both slots unchanged.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	provider  asset.Provider
	sync      *synchronizer.Synchronizer
	builder   *workspace.Builder
	workspace *PrimaryWorkspace
	logger    *slog.Logger

	policy       diff.Policy
	buildTimeout time.Duration
	incremental  bool
	detect       func(base, target diff.Side, policy diff.Policy) diff.Decision

	gate    *gate
	primary atomic.Pointer[entry]
	last    atomic.Pointer[entry]
	stats   counters
}

// NewService creates a Service over the worker's asset provider.
//
// Inputs:
//
//	provider - Local asset cache backed by the primary. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Service - Ready to serve. Both slots are empty.
func NewService(provider asset.Provider, opts ...Option) *Service {
	s := &Service{
		provider:    provider,
		builder:     workspace.NewBuilder(provider),
		workspace:   &PrimaryWorkspace{},
		logger:      slog.Default(),
		policy:      diff.DefaultPolicy(),
		incremental: true,
		detect:      diff.Detect,
		gate:        newGate(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "solution_service"))
	s.sync = synchronizer.New(provider, synchronizer.WithLogger(s.logger))
	return s
}

// Workspace returns the primary workspace.
func (s *Service) Workspace() *PrimaryWorkspace {
	return s.workspace
}

// Primary returns the primary snapshot, or nil.
func (s *Service) Primary() *workspace.Solution {
	if e := s.primary.Load(); e != nil {
		return e.solution
	}
	return nil
}

// Last returns the most recently requested snapshot, or nil.
func (s *Service) Last() *workspace.Solution {
	if e := s.last.Load(); e != nil {
		return e.solution
	}
	return nil
}

// Cached returns the snapshot for c if either slot holds it. It never
// builds.
func (s *Service) Cached(c checksum.Checksum) (*workspace.Solution, bool) {
	res, ok := s.lookup(c, false)
	return res.Solution, ok
}

// Building reports whether a build currently holds the gate.
func (s *Service) Building() bool {
	return s.gate.Held()
}

// Stats returns a copy of the service counters.
func (s *Service) Stats() Stats {
	return Stats{
		Hits:              s.stats.hits.Load(),
		Misses:            s.stats.misses.Load(),
		IncrementalBuilds: s.stats.incremental.Load(),
		FullBuilds:        s.stats.full.Load(),
		Fallbacks:         s.stats.fallbacks.Load(),
		Failures:          s.stats.failures.Load(),
		Promotions:        s.stats.promotions.Load(),
	}
}

// GetSolution returns the snapshot for c without touching the primary.
func (s *Service) GetSolution(ctx context.Context, c checksum.Checksum) (*workspace.Solution, error) {
	res, err := s.Resolve(ctx, c, false)
	if err != nil {
		return nil, err
	}
	return res.Solution, nil
}

// UpdatePrimary makes the snapshot for c the primary and returns it.
func (s *Service) UpdatePrimary(ctx context.Context, c checksum.Checksum) (*workspace.Solution, error) {
	res, err := s.Resolve(ctx, c, true)
	if err != nil {
		return nil, err
	}
	return res.Solution, nil
}

// GetSnapshot returns the snapshot for c. With isPrimary set the snapshot
// also becomes the primary.
func (s *Service) GetSnapshot(ctx context.Context, c checksum.Checksum, isPrimary bool) (*workspace.Solution, error) {
	res, err := s.Resolve(ctx, c, isPrimary)
	if err != nil {
		return nil, err
	}
	return res.Solution, nil
}

// Resolve returns the snapshot for c along with how it was obtained.
//
// Description:
//
//	Checks the primary and last slots, then acquires the gate, re-checks,
//	and builds on a miss. On success the last slot always holds the
//	result; with isPrimary the primary slot and workspace do too.
//
// Inputs:
//
//	ctx - Governs the wait for the gate and the build.
//	c - Target solution checksum. Must not be Null.
//	isPrimary - Whether the snapshot follows the live workspace.
//
// Outputs:
//
//	Result - The snapshot and its strategy.
//	error - Context errors, ErrUnavailable, or an error for which
//	        IsSnapshotUnavailable is true. Slots are unchanged on error.
func (s *Service) Resolve(ctx context.Context, c checksum.Checksum, isPrimary bool) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if c.IsNull() {
		return Result{}, fmt.Errorf("%w: null solution checksum", checksum.ErrInvalidChecksum)
	}

	ctx, span := startSpan(ctx, "Resolve",
		attribute.String("sync.solution", c.String()),
		attribute.Bool("sync.primary", isPrimary),
	)
	defer span.End()

	if res, ok := s.lookup(c, isPrimary); ok {
		s.stats.hits.Add(1)
		recordSnapshotRequest(ctx, true, isPrimary)
		span.SetAttributes(attribute.String("sync.strategy", string(res.Strategy)))
		return res, nil
	}

	if err := s.gate.Acquire(ctx); err != nil {
		return Result{}, err
	}
	defer s.gate.Release()

	if res, ok := s.lookup(c, isPrimary); ok {
		s.stats.hits.Add(1)
		recordSnapshotRequest(ctx, true, isPrimary)
		return res, nil
	}
	if isPrimary {
		if e := s.last.Load(); e != nil && e.checksum == c {
			s.promote(e)
			s.stats.hits.Add(1)
			recordSnapshotRequest(ctx, true, isPrimary)
			return Result{Solution: e.solution, Strategy: StrategyCached, Primary: true}, nil
		}
	}

	s.stats.misses.Add(1)
	recordSnapshotRequest(ctx, false, isPrimary)

	res, err := s.build(ctx, c)
	if err != nil {
		s.stats.failures.Add(1)
		telemetry.RecordError(span, err)
		s.logger.Warn("snapshot build failed",
			slog.String("solution", c.Short()),
			slog.Bool("primary", isPrimary),
			slog.String("error", err.Error()),
		)
		return Result{}, err
	}

	e := &entry{checksum: c, solution: res.Solution}
	if isPrimary {
		s.promote(e)
	}
	s.last.Store(e)

	res.Primary = isPrimary
	span.SetAttributes(attribute.String("sync.strategy", string(res.Strategy)))
	telemetry.SetSpanOK(span)
	return res, nil
}

// lookup serves c from a slot without holding the gate. A primary request
// hits only when c is already the primary.
func (s *Service) lookup(c checksum.Checksum, isPrimary bool) (Result, bool) {
	if e := s.primary.Load(); e != nil && e.checksum == c {
		return Result{Solution: e.solution, Strategy: StrategyCached, Primary: isPrimary}, true
	}
	if isPrimary {
		return Result{}, false
	}
	if e := s.last.Load(); e != nil && e.checksum == c {
		return Result{Solution: e.solution, Strategy: StrategyCached}, true
	}
	return Result{}, false
}

// promote makes e the primary. Caller holds the gate.
func (s *Service) promote(e *entry) {
	s.primary.Store(e)
	s.workspace.Reset(e.solution)
	s.stats.promotions.Add(1)
}

// build produces the snapshot for c. Caller holds the gate.
func (s *Service) build(ctx context.Context, c checksum.Checksum) (Result, error) {
	if s.buildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.buildTimeout)
		defer cancel()
	}
	start := time.Now()

	var reason string
	base := s.primary.Load()
	switch {
	case base == nil:
		reason = diff.ReasonNoBase
	case !s.incremental:
		reason = ReasonIncrementalDisabled
	default:
		p, err := s.plan(ctx, base.solution, c)
		switch {
		case err != nil && isFatal(err):
			return Result{}, err
		case err != nil:
			reason = ReasonIncrementalFailed
			s.fallback(ctx, c, err)
		case p.decision.Capable:
			sol, err := s.applyIncremental(ctx, base.solution, p)
			if err == nil {
				return s.finish(ctx, sol, StrategyIncremental, "", start), nil
			}
			if isFatal(err) {
				return Result{}, err
			}
			reason = ReasonIncrementalFailed
			s.fallback(ctx, c, err)
		default:
			reason = p.decision.Reason
			s.logger.Debug("incremental build declined",
				slog.String("solution", c.Short()),
				slog.String("reason", reason),
				slog.Float64("change_ratio", p.decision.ChangeRatio),
			)
		}
	}

	sol, err := s.buildFull(ctx, c)
	if err != nil {
		return Result{}, err
	}
	return s.finish(ctx, sol, StrategyFull, reason, start), nil
}

func (s *Service) finish(ctx context.Context, sol *buildOutput, strategy Strategy, reason string, start time.Time) Result {
	d := time.Since(start)
	switch strategy {
	case StrategyIncremental:
		s.stats.incremental.Add(1)
	case StrategyFull:
		s.stats.full.Add(1)
	}
	recordBuild(ctx, strategy, d)

	telemetry.LoggerWithTrace(ctx, s.logger).Info("snapshot built",
		slog.String("solution", sol.solution.Checksum().Short()),
		slog.String("strategy", string(strategy)),
		slog.String("reason", reason),
		slog.Int("projects_built", sol.stats.ProjectsBuilt),
		slog.Int("projects_reused", sol.stats.ProjectsReused),
		slog.Int("documents_built", sol.stats.DocumentsBuilt),
		slog.Int("documents_reused", sol.stats.DocumentsReused),
		slog.Int64("duration_ms", d.Milliseconds()),
	)
	return Result{Solution: sol.solution, Strategy: strategy, Reason: reason, Duration: d}
}

func (s *Service) fallback(ctx context.Context, c checksum.Checksum, err error) {
	s.stats.fallbacks.Add(1)
	recordFallback(ctx)
	trace.SpanFromContext(ctx).AddEvent("incremental_fallback")
	s.logger.Warn("incremental build failed, falling back to full build",
		slog.String("solution", c.Short()),
		slog.String("error", err.Error()),
	)
}

type buildOutput struct {
	solution *workspace.Solution
	stats    workspace.BuildStats
}

type buildPlan struct {
	tree     *state.SolutionTree
	decision diff.Decision
}

// plan loads the target tree against the primary and decides whether an
// incremental build is possible. Panics are converted to ErrPlanFailed.
func (s *Service) plan(ctx context.Context, base *workspace.Solution, c checksum.Checksum) (p *buildPlan, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("%w: panic: %v", ErrPlanFailed, r)
		}
	}()

	ctx, span := startSpan(ctx, "plan")
	defer span.End()

	tree, err := state.LoadTree(ctx, s.provider, c, base.Tree())
	if err != nil {
		return nil, err
	}

	baseAttrs := base.Attributes()
	targetIdentity := diff.Identity{SolutionID: string(baseAttrs.ID), FilePath: baseAttrs.FilePath}
	if tree.State.Attributes != base.Tree().State.Attributes {
		attrs, err := asset.Get[workspace.SolutionAttributes](ctx, s.provider, tree.State.Attributes, asset.KindSolutionAttributes)
		if err != nil {
			return nil, err
		}
		targetIdentity = diff.Identity{SolutionID: string(attrs.ID), FilePath: attrs.FilePath}
	}

	decision := s.detect(
		diff.Side{Tree: base.Tree(), Identity: diff.Identity{SolutionID: string(baseAttrs.ID), FilePath: baseAttrs.FilePath}},
		diff.Side{Tree: tree, Identity: targetIdentity},
		s.policy,
	)
	span.SetAttributes(
		attribute.Bool("sync.capable", decision.Capable),
		attribute.String("sync.reason", decision.Reason),
	)
	return &buildPlan{tree: tree, decision: decision}, nil
}

// applyIncremental fetches the delta's leaves in one batch and builds the
// target reusing every unchanged part of base.
func (s *Service) applyIncremental(ctx context.Context, base *workspace.Solution, p *buildPlan) (*buildOutput, error) {
	if p.decision.Delta == nil {
		return nil, errors.New("capable decision without delta")
	}
	if err := s.provider.SynchronizeAssets(ctx, p.decision.Delta.RequiredChecksums()); err != nil {
		return nil, err
	}
	sol, stats, err := s.builder.Build(ctx, p.tree, base)
	if err != nil {
		return nil, err
	}
	return &buildOutput{solution: sol, stats: stats}, nil
}

// buildFull synchronizes every asset of c and builds from scratch.
func (s *Service) buildFull(ctx context.Context, c checksum.Checksum) (*buildOutput, error) {
	if err := s.sync.SynchronizeSolutionAssets(ctx, c); err != nil {
		return nil, err
	}
	tree, err := state.LoadTree(ctx, s.provider, c, nil)
	if err != nil {
		return nil, err
	}
	sol, stats, err := s.builder.Build(ctx, tree, nil)
	if err != nil {
		return nil, err
	}
	return &buildOutput{solution: sol, stats: stats}, nil
}
