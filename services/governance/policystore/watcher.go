// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policystore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// ReloadHandler receives the freshly loaded rule set after a detected change.
type ReloadHandler func(set RuleSet)

// Watcher reloads the rule set when its file changes on disk.
//
// # Description
//
// Watches the directory containing the rule set file rather than the file
// itself. Atomic rewrites replace the file via rename, which invalidates a
// watch on the old inode; a directory watch survives the replacement.
// Events for the rule set path are rate limited, then coalesced, and each
// surviving event triggers a full load of the current document. A document
// that fails to parse is logged and skipped without stopping the watch.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is called from a single goroutine.
type Watcher struct {
	store   *Store
	handler ReloadHandler
	watcher *fsnotify.Watcher
	limiter *rate.Limiter
	log     *slog.Logger
	target  string

	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// WatcherOptions configures the Watcher.
type WatcherOptions struct {
	// ReloadsPerSecond caps how often a changed file is reloaded.
	// Default: 2
	ReloadsPerSecond float64

	// Burst is the rate limiter burst size.
	// Default: 1
	Burst int

	// Logger receives reload events. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultWatcherOptions returns sensible defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		ReloadsPerSecond: 2,
		Burst:            1,
		Logger:           slog.Default(),
	}
}

// NewWatcher creates a watcher for the store's rule set file.
func NewWatcher(store *Store, handler ReloadHandler, opts *WatcherOptions) (*Watcher, error) {
	if store == nil {
		return nil, fmt.Errorf("policy store must not be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("reload handler must not be nil")
	}
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	if opts.ReloadsPerSecond <= 0 {
		opts.ReloadsPerSecond = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		store:   store,
		handler: handler,
		watcher: fsw,
		limiter: rate.NewLimiter(rate.Limit(opts.ReloadsPerSecond), opts.Burst),
		log:     opts.Logger,
		target:  filepath.Clean(store.Path()),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching for rule set changes.
//
// The event loop runs in its own goroutine and exits when Stop is called
// or the context is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.target)); err != nil {
		return fmt.Errorf("watch rule set directory: %w", err)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the event loop is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			// Later events carry no extra information once we read the
			// current file, so fold a burst into a single reload.
			w.drain()
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("policystore.watch.error", "error", err)
		}
	}
}

// relevant reports whether the event targets the rule set file with an
// operation that can change its content. An atomic replace surfaces as a
// create on the target path.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.target {
		return false
	}
	return event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Rename)
}

// drain discards queued events without blocking. The reload that follows
// reads state at least as new as anything drained here.
func (w *Watcher) drain() {
	for {
		select {
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (w *Watcher) reload() {
	set, err := w.store.Load()
	if err != nil {
		w.log.Warn("policystore.reload.failed",
			"path", w.target,
			"error", err)
		return
	}
	w.log.Info("policystore.reloaded",
		"path", w.target,
		"version", set.Version,
		"mode", string(set.Mode),
		"policies", len(set.Policies))
	w.handler(set)
}
