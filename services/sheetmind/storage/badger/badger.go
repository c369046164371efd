// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens and manages the BadgerDB instance behind the
// chunk store. It is the warm tier of the persistence model:
//
//	Hot (RAM chunk store) → Warm (BadgerDB) → Cold (Weaviate summaries)
//
// Chunks land here so a restart does not force a full recompression of
// every workbook. The package owns option building, log routing, and
// the value log GC loop; key layout belongs to chunkcache.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config selects where and how the store runs.
type Config struct {
	// Path is the store directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Used by tests and
	// `kodiak serve --in-memory`; nothing survives the process.
	InMemory bool

	// SyncWrites fsyncs every write. Slower, but a crash never loses
	// an acknowledged chunk.
	SyncWrites bool

	// Logger receives badger's internal messages. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often the value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the fraction of a value log file that must be
	// stale before GC bothers rewriting it. Out-of-range values fall
	// back to 0.5.
	GCDiscardRatio float64
}

// DefaultConfig is the on-disk production setup.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig is the ephemeral setup for tests and demos.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB wraps the underlying badger instance together with its GC loop.
// All *badger.DB methods are available directly; Close additionally
// stops the GC goroutine first.
type DB struct {
	*badger.DB
	stopGC func()
}

// OpenDB opens the store described by cfg, creating the directory for
// an on-disk store if needed.
func OpenDB(cfg Config) (*DB, error) {
	opts, err := buildOptions(cfg)
	if err != nil {
		return nil, err
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", cfg.Path, err)
	}

	wrapped := &DB{DB: db}
	// In-memory stores have no value log files to reclaim.
	if cfg.GCInterval > 0 && !cfg.InMemory {
		wrapped.stopGC = startGC(db, cfg.GCInterval, discardRatio(cfg), cfg.Logger)
	}
	return wrapped, nil
}

func buildOptions(cfg Config) (badger.Options, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return opts, errors.New("storage path is empty and in-memory mode is off")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return opts, fmt.Errorf("creating %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	// Chunks are latest-wins; older versions of a key are dead weight.
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(slogAdapter{cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	return opts, nil
}

func discardRatio(cfg Config) float64 {
	if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio > 1 {
		return 0.5
	}
	return cfg.GCDiscardRatio
}

// startGC launches the value log GC loop and returns an idempotent
// stop function that blocks until the goroutine has exited.
func startGC(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) func() {
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				err := db.RunValueLogGC(ratio)
				switch {
				case err == nil:
					if logger != nil {
						logger.Debug("badger value log GC reclaimed space")
					}
				case errors.Is(err, badger.ErrNoRewrite):
					// Nothing stale enough to rewrite yet.
				default:
					if logger != nil {
						logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			<-doneCh
		})
	}
}

// Close stops the GC loop and closes the store.
func (d *DB) Close() error {
	if d.stopGC != nil {
		d.stopGC()
	}
	return d.DB.Close()
}

// WithTxn runs fn in a read-write transaction and commits when fn
// returns nil. The context is only checked up front; badger
// transactions themselves never block.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.DB.Update(fn)
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.DB.View(fn)
}

// slogAdapter routes badger's internal log lines onto slog. Badger
// narrates compactions at INFO, which is debug noise in a CLI process,
// so Infof is demoted.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...any) {
	a.l.Error(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Warningf(format string, args ...any) {
	a.l.Warn(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Infof(format string, args ...any) {
	a.l.Debug(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Debugf(format string, args ...any) {
	a.l.Debug(fmt.Sprintf(format, args...))
}
