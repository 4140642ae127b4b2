// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package asset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Provider resolves assets by checksum, fetching from the primary on a miss.
type Provider interface {
	// GetAsset returns the asset for c, fetching it if not cached locally.
	GetAsset(ctx context.Context, c checksum.Checksum) (Asset, error)

	// SynchronizeAssets ensures every checksum in cs is cached locally,
	// fetching the missing ones in a single logical batch. The batch is
	// atomic: on any failure nothing from it is cached.
	SynchronizeAssets(ctx context.Context, cs []checksum.Checksum) error
}

// Get fetches c through p and decodes it as T, checking the asset kind.
func Get[T any](ctx context.Context, p Provider, c checksum.Checksum, kind Kind) (T, error) {
	var v T
	a, err := p.GetAsset(ctx, c)
	if err != nil {
		return v, err
	}
	if a.Kind != kind {
		return v, fmt.Errorf("%w: %s is %s, want %s", ErrKindMismatch, c.Short(), a.Kind, kind)
	}
	if err := Decode(a.Data, &v); err != nil {
		return v, fmt.Errorf("%s %s: %w", kind, c.Short(), err)
	}
	return v, nil
}

// RecordVerifier checks that an encoded state record hashes to c. It
// returns a non-nil error if the bytes do not decode or recompute to c.
type RecordVerifier func(kind Kind, c checksum.Checksum, data []byte) error

var (
	recordVerifierMu sync.RWMutex
	recordVerifier   RecordVerifier
)

// RegisterRecordVerifier installs the verifier used for state records by
// every CachingProvider without its own WithRecordVerifier. The state
// package registers one when it is imported.
func RegisterRecordVerifier(v RecordVerifier) {
	recordVerifierMu.Lock()
	defer recordVerifierMu.Unlock()
	recordVerifier = v
}

func registeredRecordVerifier() RecordVerifier {
	recordVerifierMu.RLock()
	defer recordVerifierMu.RUnlock()
	return recordVerifier
}

// DefaultFetchTimeout bounds a shared single-asset fetch once the
// requesting callers' own deadlines no longer apply to it.
const DefaultFetchTimeout = 2 * time.Minute

// ProviderStats is a snapshot of provider counters.
type ProviderStats struct {
	// Hits is the number of GetAsset calls served locally.
	Hits int64

	// Batches is the number of logical synchronize batches that fetched.
	Batches int64

	// SourceCalls is the number of calls made to the Source. Equal to
	// Batches unless MaxBatchSize splits batches.
	SourceCalls int64

	// AssetsFetched is the number of assets stored from fetches.
	AssetsFetched int64
}

// ProviderOption configures a CachingProvider.
type ProviderOption func(*CachingProvider)

// WithMaxBatchSize splits fetches larger than n into concurrent chunks.
// The chunks still commit as one atomic batch. 0 means unlimited.
func WithMaxBatchSize(n int) ProviderOption {
	return func(p *CachingProvider) {
		if n >= 0 {
			p.maxBatchSize = n
		}
	}
}

// WithRecordVerifier sets the state record verifier, overriding the one
// registered with RegisterRecordVerifier.
func WithRecordVerifier(v RecordVerifier) ProviderOption {
	return func(p *CachingProvider) {
		p.verifyRecord = v
	}
}

// WithFetchTimeout bounds each shared GetAsset fetch. 0 means no bound.
func WithFetchTimeout(d time.Duration) ProviderOption {
	return func(p *CachingProvider) {
		if d >= 0 {
			p.fetchTimeout = d
		}
	}
}

// WithProviderLogger sets the logger.
func WithProviderLogger(logger *slog.Logger) ProviderOption {
	return func(p *CachingProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// CachingProvider is a Provider backed by a local Store and a remote Source.
//
// Description:
//
//	GetAsset serves from the store, coalescing concurrent misses for the
//	same checksum with singleflight. The shared fetch is detached from any
//	single caller: each caller stops waiting when its own context ends,
//	and the fetch itself is cancelled only once every caller has left.
//
//	SynchronizeAssets asks the store which checksums are missing, fetches
//	only those, and verifies every asset before commit: leaves by hashing
//	their bytes, state records through the RecordVerifier. The whole
//	batch is then committed with one PutAll. If the source failed to
//	supply any requested checksum, or supplied a corrupt one, the batch
//	is discarded and nothing is stored.
//
// Thread Safety: Safe for concurrent use.
type CachingProvider struct {
	store        Store
	source       Source
	maxBatchSize int
	fetchTimeout time.Duration
	verifyRecord RecordVerifier
	logger       *slog.Logger

	flight  singleflight.Group
	mu      sync.Mutex
	fetches map[string]*sharedFetch

	hits          atomic.Int64
	batches       atomic.Int64
	sourceCalls   atomic.Int64
	assetsFetched atomic.Int64
}

// NewCachingProvider creates a provider.
//
// Inputs:
//
//	store - Local asset cache. Must not be nil.
//	source - Where missing assets come from. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*CachingProvider - The provider.
func NewCachingProvider(store Store, source Source, opts ...ProviderOption) *CachingProvider {
	p := &CachingProvider{
		store:        store,
		source:       source,
		fetchTimeout: DefaultFetchTimeout,
		logger:       slog.Default(),
		fetches:      make(map[string]*sharedFetch),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Store returns the local store.
func (p *CachingProvider) Store() Store {
	return p.store
}

// Stats returns current counters.
func (p *CachingProvider) Stats() ProviderStats {
	return ProviderStats{
		Hits:          p.hits.Load(),
		Batches:       p.batches.Load(),
		SourceCalls:   p.sourceCalls.Load(),
		AssetsFetched: p.assetsFetched.Load(),
	}
}

// GetAsset implements Provider.
func (p *CachingProvider) GetAsset(ctx context.Context, c checksum.Checksum) (Asset, error) {
	a, ok, err := p.store.Get(ctx, c)
	if err != nil {
		return Asset{}, err
	}
	if ok {
		p.hits.Add(1)
		return a, nil
	}

	key := c.String()
	for {
		fctx := p.joinFetch(ctx, key)
		ch := p.flight.DoChan(key, func() (any, error) {
			return p.fetchOne(fctx, c)
		})

		var r singleflight.Result
		select {
		case r = <-ch:
			p.leaveFetch(key)
		case <-ctx.Done():
			p.leaveFetch(key)
			return Asset{}, ctx.Err()
		}
		if r.Err == nil {
			return r.Val.(Asset), nil
		}
		// Joined a flight whose callers had all left. Our context is live,
		// so start a new one.
		if errors.Is(r.Err, context.Canceled) && ctx.Err() == nil {
			continue
		}
		return Asset{}, r.Err
	}
}

// sharedFetch is the detached context of one in-flight GetAsset fetch.
type sharedFetch struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// joinFetch registers a waiter for key and returns the fetch context,
// creating it from ctx's values if this is the first waiter.
func (p *CachingProvider) joinFetch(ctx context.Context, key string) context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.fetches[key]
	if !ok {
		f = &sharedFetch{}
		if p.fetchTimeout > 0 {
			f.ctx, f.cancel = context.WithTimeout(context.WithoutCancel(ctx), p.fetchTimeout)
		} else {
			f.ctx, f.cancel = context.WithCancel(context.WithoutCancel(ctx))
		}
		p.fetches[key] = f
	}
	f.waiters++
	return f.ctx
}

// leaveFetch drops a waiter. The last one out cancels the fetch.
func (p *CachingProvider) leaveFetch(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.fetches[key]
	if !ok {
		return
	}
	f.waiters--
	if f.waiters == 0 {
		f.cancel()
		delete(p.fetches, key)
	}
}

func (p *CachingProvider) fetchOne(ctx context.Context, c checksum.Checksum) (Asset, error) {
	if err := p.SynchronizeAssets(ctx, []checksum.Checksum{c}); err != nil {
		return Asset{}, err
	}
	a, ok, err := p.store.Get(ctx, c)
	if err != nil {
		return Asset{}, err
	}
	if !ok {
		// Evicted between commit and read.
		return Asset{}, &MissingAssetsError{Checksums: []checksum.Checksum{c}}
	}
	return a, nil
}

// SynchronizeAssets implements Provider.
func (p *CachingProvider) SynchronizeAssets(ctx context.Context, cs []checksum.Checksum) error {
	if len(cs) == 0 {
		return nil
	}

	wanted := dedupe(cs)
	missing, err := p.store.Missing(ctx, wanted)
	if err != nil {
		return fmt.Errorf("check local store: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "CachingProvider.SynchronizeAssets")
	defer span.End()
	span.SetAttributes(
		attribute.Int("sync.requested", len(wanted)),
		attribute.Int("sync.missing", len(missing)),
	)

	p.batches.Add(1)
	fetched, err := p.fetch(ctx, missing)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	batch := make(map[checksum.Checksum]Asset, len(missing))
	var notFound []checksum.Checksum
	for _, c := range missing {
		a, ok := fetched[c]
		if !ok {
			notFound = append(notFound, c)
			continue
		}
		if err := p.verify(c, a); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Warn("rejecting corrupt asset batch",
				slog.String("checksum", c.Short()),
				slog.String("kind", a.Kind.String()),
			)
			return err
		}
		batch[c] = a
	}
	if len(notFound) > 0 {
		err := &MissingAssetsError{Checksums: notFound}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("synchronize batch incomplete",
			slog.Int("requested", len(missing)),
			slog.Int("missing", len(notFound)),
		)
		return err
	}

	if err := p.store.PutAll(ctx, batch); err != nil {
		return fmt.Errorf("commit fetched assets: %w", err)
	}
	p.assetsFetched.Add(int64(len(batch)))
	recordAssetsFetched(ctx, len(batch))

	p.logger.Debug("synchronized assets",
		slog.Int("requested", len(wanted)),
		slog.Int("fetched", len(batch)),
	)
	return nil
}

// verify checks that a hashes to c. Leaves are hashed directly; state
// records are decoded and recomputed by the record verifier.
func (p *CachingProvider) verify(c checksum.Checksum, a Asset) error {
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: %s has %s", ErrCorruptAsset, c.Short(), a.Kind)
	}
	if !a.Kind.IsState() {
		if LeafChecksum(a.Kind, a.Data) != c {
			return fmt.Errorf("%w: %s bytes do not match checksum", ErrCorruptAsset, c.Short())
		}
		return nil
	}
	v := p.verifyRecord
	if v == nil {
		v = registeredRecordVerifier()
	}
	if v == nil {
		return nil
	}
	if err := v(a.Kind, c, a.Data); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrCorruptAsset, a.Kind, c.Short(), err)
	}
	return nil
}

// fetch calls the source, splitting into concurrent chunks when
// maxBatchSize is set.
func (p *CachingProvider) fetch(ctx context.Context, cs []checksum.Checksum) (map[checksum.Checksum]Asset, error) {
	if p.maxBatchSize <= 0 || len(cs) <= p.maxBatchSize {
		p.sourceCalls.Add(1)
		recordFetchCall(ctx)
		return p.source.FetchAssets(ctx, cs)
	}

	var (
		mu  sync.Mutex
		out = make(map[checksum.Checksum]Asset, len(cs))
	)
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(cs); start += p.maxBatchSize {
		chunk := cs[start:min(start+p.maxBatchSize, len(cs))]
		g.Go(func() error {
			p.sourceCalls.Add(1)
			recordFetchCall(gctx)
			got, err := p.source.FetchAssets(gctx, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			for c, a := range got {
				out[c] = a
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func dedupe(cs []checksum.Checksum) []checksum.Checksum {
	seen := make(checksum.Set, len(cs))
	out := make([]checksum.Checksum, 0, len(cs))
	for _, c := range cs {
		if c.IsNull() || seen.Has(c) {
			continue
		}
		seen.Add(c)
		out = append(out, c)
	}
	return out
}
