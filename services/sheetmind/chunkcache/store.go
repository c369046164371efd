// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chunkcache holds the latest metadata chunk per sheet.
//
// The store is the hot tier of the persistence model (RAM → BadgerDB →
// Weaviate). It keeps exactly one chunk per chunk id, detects change via
// content hash comparison, and hands out deep copies on every read and
// write so cached state can never be mutated through an escaped pointer.
//
// There is no eviction: the working set is one chunk per sheet of the
// open workbook, which is small by construction.
package chunkcache

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/AleutianAI/KodiakSheets/services/sheetmind/compress"
)

var (
	storeOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheetmind_chunk_store_operations_total",
		Help: "Chunk store operations by type and outcome",
	}, []string{"operation", "outcome"})

	storeSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sheetmind_chunk_store_chunks",
		Help: "Number of chunks currently cached",
	})
)

// Store is the in-memory chunk cache.
//
// Description:
//
//	Keyed by chunk id, latest write wins. Put reports whether the
//	chunk's content hash changed so callers can skip downstream work
//	(dependency analysis, summary re-indexing) for unchanged sheets.
//
// Thread Safety: Safe for concurrent use. All reads return clones.
type Store struct {
	mu     sync.RWMutex
	chunks map[string]*compress.MetadataChunk
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for change diagnostics.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty chunk store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		chunks: make(map[string]*compress.MetadataChunk),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores the chunk, replacing any previous version under the same id.
//
// Description:
//
//	The chunk is cloned before storage; the caller's copy stays
//	private. Returns true when the chunk is new or its content hash
//	differs from the cached version - the "this sheet changed" signal
//	the refresh pipeline keys off.
//
// Inputs:
//
//	chunk - The chunk to cache. Nil or id-less chunks are ignored.
//
// Outputs:
//
//	bool - True if the cached state changed.
func (s *Store) Put(chunk *compress.MetadataChunk) bool {
	if chunk == nil || chunk.ID == "" {
		storeOperationsTotal.WithLabelValues("put", "rejected").Inc()
		return false
	}

	s.mu.Lock()
	prev := s.chunks[chunk.ID]
	changed := prev == nil || prev.ContentHash != chunk.ContentHash
	s.chunks[chunk.ID] = chunk.Clone()
	size := len(s.chunks)
	s.mu.Unlock()

	storeSizeGauge.Set(float64(size))
	if changed {
		storeOperationsTotal.WithLabelValues("put", "changed").Inc()
		s.logChange(prev, chunk)
	} else {
		storeOperationsTotal.WithLabelValues("put", "unchanged").Inc()
	}
	return changed
}

// logChange emits a debug-level summary diff when a cached chunk's content
// hash moves. The diff is only computed when debug logging is active.
func (s *Store) logChange(prev, next *compress.MetadataChunk) {
	if prev == nil || !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	s.logger.Debug("chunk content changed",
		slog.String("chunk_id", next.ID),
		slog.String("old_hash", shortHash(prev.ContentHash)),
		slog.String("new_hash", shortHash(next.ContentHash)),
		slog.String("summary_diff", summaryDiff(prev.Summary, next.Summary)),
	)
}

// summaryDiff renders a compact +/- diff between two chunk summaries for
// log output.
func summaryDiff(before, after string) string {
	if before == after {
		return "(summary unchanged)"
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			b.WriteString("+[")
			b.WriteString(d.Text)
			b.WriteString("]")
		case diffmatchpatch.DiffDelete:
			b.WriteString("-[")
			b.WriteString(d.Text)
			b.WriteString("]")
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

// shortHash truncates a content hash for log readability.
func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}

// Get returns a clone of the cached chunk, or false if absent.
func (s *Store) Get(id string) (*compress.MetadataChunk, bool) {
	s.mu.RLock()
	chunk, ok := s.chunks[id]
	s.mu.RUnlock()

	if !ok {
		storeOperationsTotal.WithLabelValues("get", "miss").Inc()
		return nil, false
	}
	storeOperationsTotal.WithLabelValues("get", "hit").Inc()
	return chunk.Clone(), true
}

// Has reports whether a chunk is cached without copying it.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chunks[id]
	return ok
}

// All returns clones of every cached chunk, sorted by id for stable
// iteration order.
func (s *Store) All() []*compress.MetadataChunk {
	s.mu.RLock()
	out := make([]*compress.MetadataChunk, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		out = append(out, chunk.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the cached chunk ids, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.chunks))
	for id := range s.chunks {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of cached chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Invalidate removes a chunk from the cache. Returns true if it existed.
func (s *Store) Invalidate(id string) bool {
	s.mu.Lock()
	_, ok := s.chunks[id]
	delete(s.chunks, id)
	size := len(s.chunks)
	s.mu.Unlock()

	storeSizeGauge.Set(float64(size))
	if ok {
		storeOperationsTotal.WithLabelValues("invalidate", "hit").Inc()
	} else {
		storeOperationsTotal.WithLabelValues("invalidate", "miss").Inc()
	}
	return ok
}

// InvalidateAll empties the cache.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.chunks = make(map[string]*compress.MetadataChunk)
	s.mu.Unlock()

	storeSizeGauge.Set(0)
	storeOperationsTotal.WithLabelValues("invalidate_all", "ok").Inc()
}
