// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses editor save bursts into one reload.
const watchDebounce = 250 * time.Millisecond

// Watcher reloads a Registry whenever its override file changes on
// disk. A bad edit keeps the previous content and logs the parse error
// rather than serving a broken registry.
type Watcher struct {
	registry *Registry
	path     string
	fsw      *fsnotify.Watcher
	log      *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher creates a watcher for the override file at path and loads
// it once immediately so startup fails fast on an unreadable file. Call
// Start to begin watching and Stop to release the inotify handle.
func NewWatcher(registry *Registry, path string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := registry.LoadFile(path); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors and config mounts
	// replace the file, which would orphan a direct watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		registry: registry,
		path:     filepath.Clean(path),
		fsw:      fsw,
		log:      log,
		done:     make(chan struct{}),
	}, nil
}

// Start begins processing file events until the context is canceled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop stops watching and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.registry.LoadFile(w.path); err != nil {
				w.log.Error("schema reload failed, keeping previous content",
					"path", w.path, "error", err)
				continue
			}
			w.log.Info("schema registry reloaded", "path", w.path)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("schema watcher error", "error", err)
		}
	}
}
