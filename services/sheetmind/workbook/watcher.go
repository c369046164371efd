// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workbook

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SnapshotChange records one observed change to a watched snapshot file.
type SnapshotChange struct {
	// Path is the absolute path of the changed snapshot file.
	Path string

	// Removed is true when the file was deleted or renamed away, in
	// which case the host document should be considered gone.
	Removed bool

	// Time is when the change was detected.
	Time time.Time
}

// SnapshotChangeHandler receives debounced batches of snapshot changes.
type SnapshotChangeHandler func(changes []SnapshotChange)

// SnapshotWatcher watches a directory of workbook snapshots with debouncing.
//
// # Description
//
// The host bridge rewrites a snapshot file every time the watched ranges of
// the live document change. Spreadsheet hosts save in bursts (autosave,
// cell-by-cell export), so raw events are buffered and the handler only
// fires after a quiet period. That keeps recompression from running once
// per keystroke.
//
// # Debouncing
//
// Events accumulate into a batch. When the debounce window elapses with no
// new event, the batch is deduplicated per path (latest wins) and handed to
// the handler from a single goroutine.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is never called concurrently with
// itself.
type SnapshotWatcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	handler  SnapshotChangeHandler
	debounce time.Duration
	ignore   []string

	changes  chan SnapshotChange
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// SnapshotWatcherOptions configures a SnapshotWatcher.
type SnapshotWatcherOptions struct {
	// DebounceWindow is how long to wait after the last event before
	// delivering the batch. Default: 100ms (hosts save in bursts).
	DebounceWindow time.Duration

	// IgnorePatterns are base-name glob patterns to skip. Default covers
	// editor swap files and Office owner-lock files ("~$Book1.xlsx").
	IgnorePatterns []string

	// BufferSize is the event channel capacity. Default: 256.
	BufferSize int
}

// DefaultSnapshotWatcherOptions returns sensible defaults.
func DefaultSnapshotWatcherOptions() SnapshotWatcherOptions {
	return SnapshotWatcherOptions{
		DebounceWindow: 100 * time.Millisecond,
		IgnorePatterns: []string{"~$*", "*.tmp", "*.swp", ".DS_Store", ".git"},
		BufferSize:     256,
	}
}

// NewSnapshotWatcher creates a watcher over one snapshot directory.
//
// # Inputs
//
//   - dir: Directory holding snapshot files (one file per workbook).
//   - handler: Called with debounced, deduplicated change batches.
//   - opts: Optional configuration (nil uses defaults).
//
// # Outputs
//
//   - *SnapshotWatcher: Ready to Start.
//   - error: Non-nil if the underlying fsnotify watcher cannot be created.
//
// # Example
//
//	watcher, err := workbook.NewSnapshotWatcher(snapDir, func(changes []workbook.SnapshotChange) {
//	    for _, c := range changes {
//	        refreshWorkbook(c.Path)
//	    }
//	}, nil)
//	if err != nil {
//	    return err
//	}
//	defer watcher.Stop()
//	if err := watcher.Start(ctx); err != nil {
//	    return err
//	}
func NewSnapshotWatcher(dir string, handler SnapshotChangeHandler, opts *SnapshotWatcherOptions) (*SnapshotWatcher, error) {
	if opts == nil {
		defaults := DefaultSnapshotWatcherOptions()
		opts = &defaults
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &SnapshotWatcher{
		dir:      dir,
		watcher:  fsw,
		handler:  handler,
		debounce: opts.DebounceWindow,
		ignore:   opts.IgnorePatterns,
		changes:  make(chan SnapshotChange, opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Events flow until Stop is called or ctx ends.
func (w *SnapshotWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil // Already watching
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *SnapshotWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *SnapshotWatcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// shouldIgnore checks the base name against the ignore patterns.
func (w *SnapshotWatcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.ignore {
		if base == pattern {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		// Office lock files keep the prefix even after renames.
		if strings.HasPrefix(pattern, "~$") && strings.HasPrefix(base, "~$") {
			return true
		}
	}
	return false
}

// processEvents converts fsnotify events into SnapshotChange values.
func (w *SnapshotWatcher) processEvents(ctx context.Context) {
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
			if w.shouldIgnore(event.Name) {
				continue
			}

			change := SnapshotChange{
				Path:    event.Name,
				Time:    time.Now(),
				Removed: event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename),
			}

			select {
			case w.changes <- change:
			default:
				// Buffer full; the debouncer will still see a later
				// event for the same burst.
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// debounceLoop batches changes and invokes the handler after quiet periods.
func (w *SnapshotWatcher) debounceLoop(ctx context.Context) {
	var batch []SnapshotChange
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 && w.handler != nil {
			w.handler(dedupeChanges(batch))
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// dedupeChanges keeps the most recent change per path, preserving the order
// in which paths first appeared.
func dedupeChanges(changes []SnapshotChange) []SnapshotChange {
	seen := make(map[string]int, len(changes))
	result := make([]SnapshotChange, 0, len(changes))

	for _, change := range changes {
		if idx, ok := seen[change.Path]; ok {
			result[idx] = change
			continue
		}
		seen[change.Path] = len(result)
		result = append(result, change)
	}

	return result
}
