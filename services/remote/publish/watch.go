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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
)

// ChangeHandler receives the distinct paths changed within one debounce
// window, sorted.
type ChangeHandler func(ctx context.Context, paths []string)

// Watcher reports file changes under a root, debounced.
//
// Description:
//
//	Every directory under root that the exclude patterns do not reject is
//	watched. Directories created later are added as they appear. Changes
//	are collected until the tree has been quiet for the debounce window,
//	then delivered in a single call.
//
// Thread Safety: Run must be called once.
type Watcher struct {
	root     string
	matcher  *GlobMatcher
	debounce time.Duration
	handler  ChangeHandler
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher over root. Only opts.Excludes and
// opts.Logger are used.
func NewWatcher(root string, opts ScanOptions, debounce time.Duration, handler ChangeHandler) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:     abs,
		matcher:  NewGlobMatcher(nil, opts.Excludes),
		debounce: debounce,
		handler:  handler,
		logger:   logger,
		watcher:  fw,
	}
	if err := w.addRecursive(abs); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Run delivers changes until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		slices.Sort(paths)
		clear(pending)
		w.handler(ctx, paths)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			rel, ok := w.relative(event.Name)
			if !ok || w.matcher.Excluded(rel) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watch: cannot add directory", slog.String("path", rel), slog.String("error", err.Error()))
					}
				}
			}
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			flush()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch: fsnotify error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) relative(p string) (string, bool) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == "." {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(p); ok && w.matcher.Excluded(rel) {
			return filepath.SkipDir
		}
		return w.watcher.Add(p)
	})
}

// Publisher scans a directory into a store and remembers the result.
//
// Thread Safety: Safe for concurrent use. Publishes are serialized.
type Publisher struct {
	store     asset.Store
	root      string
	opts      ScanOptions
	onPublish func(checksum.Checksum)

	mu      sync.Mutex
	current checksum.Checksum
}

// NewPublisher creates a publisher of root into store. onPublish, if not
// nil, is called with each new solution checksum.
func NewPublisher(store asset.Store, root string, opts ScanOptions, onPublish func(checksum.Checksum)) *Publisher {
	return &Publisher{store: store, root: root, opts: opts, onPublish: onPublish}
}

// Publish scans the root and stores every asset of the resulting solution.
//
// Outputs:
//
//	checksum.Checksum - The solution checksum.
//	bool - Whether it differs from the previous publish.
//	error - Scan or store failure. The previous publish stays current.
func (p *Publisher) Publish(ctx context.Context) (checksum.Checksum, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := ScanDirectory(ctx, p.root, p.opts)
	if err != nil {
		return checksum.Null, false, err
	}
	c, err := Publish(ctx, p.store, info)
	if err != nil {
		return checksum.Null, false, err
	}
	if c == p.current {
		return c, false, nil
	}
	p.current = c
	if p.onPublish != nil {
		p.onPublish(c)
	}
	return c, true, nil
}

// Current returns the last published checksum, or Null.
func (p *Publisher) Current() checksum.Checksum {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// HandleChanges republishes after a batch of changes. It is a ChangeHandler.
func (p *Publisher) HandleChanges(ctx context.Context, paths []string) {
	logger := p.opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c, changed, err := p.Publish(ctx)
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		logger.Error("republish failed", slog.Int("changed_paths", len(paths)), slog.String("error", err.Error()))
	case changed:
		logger.Info("solution republished", slog.String("checksum", c.Short()), slog.Int("changed_paths", len(paths)))
	default:
		logger.Debug("changes did not affect the solution", slog.Int("changed_paths", len(paths)))
	}
}
