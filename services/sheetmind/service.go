// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sheetmind assembles the workbook context pipeline: read sheet
// state, compress it into metadata chunks, cache them, keep the formula
// dependency graph current, and answer "which chunks does this question
// need" through the locator.
//
// The Service is the single entry point the gateway and the CLI talk
// to. Optional collaborators (persistent store, summary index, LLM
// selector) plug in at construction; when absent, the pipeline simply
// runs without them.
package sheetmind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/KodiakSheets/pkg/extensions"
	"github.com/AleutianAI/KodiakSheets/services/embedding"
	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/chunkcache"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/compress"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/depgraph"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/locator"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/workbook"
)

var tracer = otel.Tracer("kodiak.sheetmind")

var (
	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheetmind_service_refreshes_total",
		Help: "Refresh passes by scope and outcome.",
	}, []string{"scope", "outcome"})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sheetmind_service_refresh_duration_seconds",
		Help:    "Wall time of refresh passes.",
		Buckets: prometheus.DefBuckets,
	})
)

// RefreshResult summarizes one refresh pass.
type RefreshResult struct {
	// Total is how many sheets were captured this pass.
	Total int `json:"total"`

	// Changed lists chunk ids whose content hash moved.
	Changed []string `json:"changed,omitempty"`

	// Removed lists chunk ids dropped because their sheet disappeared.
	Removed []string `json:"removed,omitempty"`

	// Duration is the wall time of the pass.
	Duration time.Duration `json:"duration"`
}

// ChangeEvent is pushed to Subscribe listeners after each refresh.
type ChangeEvent struct {
	Scope   string    `json:"scope"`
	Total   int       `json:"total"`
	Changed []string  `json:"changed"`
	Removed []string  `json:"removed"`
	At      time.Time `json:"at"`
}

type serviceConfig struct {
	compressor *compress.Compressor
	persistent *chunkcache.PersistentStore
	index      *embedding.SummaryIndex
	selector   locator.SheetSelector
	searcher   locator.SummarySearcher
	locOpts    []locator.Option
	logger     *slog.Logger
	ext        extensions.ServiceOptions
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceConfig)

// WithCompressor replaces the default compressor.
func WithCompressor(c *compress.Compressor) ServiceOption {
	return func(cfg *serviceConfig) {
		if c != nil {
			cfg.compressor = c
		}
	}
}

// WithPersistentStore enables chunk persistence across restarts.
func WithPersistentStore(p *chunkcache.PersistentStore) ServiceOption {
	return func(cfg *serviceConfig) { cfg.persistent = p }
}

// WithSummaryIndex enables semantic retrieval over sheet summaries. The
// index is kept current on refresh and serves the locator's embedding
// stage.
func WithSummaryIndex(idx *embedding.SummaryIndex) ServiceOption {
	return func(cfg *serviceConfig) { cfg.index = idx }
}

// WithSheetSelector enables the locator's LLM sheet-selection stage.
func WithSheetSelector(sel locator.SheetSelector) ServiceOption {
	return func(cfg *serviceConfig) { cfg.selector = sel }
}

// WithSummarySearcher overrides the locator's semantic stage directly.
// Mostly for tests; WithSummaryIndex covers production wiring.
func WithSummarySearcher(se locator.SummarySearcher) ServiceOption {
	return func(cfg *serviceConfig) { cfg.searcher = se }
}

// WithLocatorOptions forwards extra options to the locator.
func WithLocatorOptions(opts ...locator.Option) ServiceOption {
	return func(cfg *serviceConfig) { cfg.locOpts = append(cfg.locOpts, opts...) }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(cfg *serviceConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithExtensions injects enterprise extension points. Nil fields fall
// back to no-ops, so partial option structs are fine.
func WithExtensions(ext extensions.ServiceOptions) ServiceOption {
	return func(cfg *serviceConfig) { cfg.ext = ext.Normalize() }
}

// Service owns the chunk pipeline for one workbook.
//
// Thread Safety: Safe for concurrent use. Refreshes serialize on an
// internal mutex; reads and locates run against the cache's own locks.
type Service struct {
	reader     workbook.Reader
	compressor *compress.Compressor
	cache      *chunkcache.Store
	graph      *depgraph.Analyzer
	locator    *locator.Locator
	persistent *chunkcache.PersistentStore
	index      *embedding.SummaryIndex
	logger     *slog.Logger
	ext        extensions.ServiceOptions

	mu sync.Mutex // serializes refresh passes

	subMu   sync.Mutex
	subs    map[int]chan ChangeEvent
	nextSub int
}

// NewService assembles the pipeline around the given reader.
func NewService(reader workbook.Reader, opts ...ServiceOption) *Service {
	cfg := serviceConfig{
		compressor: compress.NewCompressor(),
		logger:     slog.Default(),
		ext:        extensions.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Service{
		reader:     reader,
		compressor: cfg.compressor,
		cache:      chunkcache.NewStore(chunkcache.WithLogger(cfg.logger)),
		graph:      depgraph.NewAnalyzer(),
		persistent: cfg.persistent,
		index:      cfg.index,
		logger:     cfg.logger.With(slog.String("component", "sheetmind_service")),
		ext:        cfg.ext,
		subs:       make(map[int]chan ChangeEvent),
	}

	locOpts := []locator.Option{locator.WithLogger(cfg.logger)}
	if cfg.selector != nil {
		locOpts = append(locOpts, locator.WithSelector(cfg.selector))
	}
	switch {
	case cfg.searcher != nil:
		locOpts = append(locOpts, locator.WithSearcher(cfg.searcher))
	case cfg.index != nil:
		locOpts = append(locOpts, locator.WithSearcher(&summarySearchAdapter{index: cfg.index}))
	}
	// The no-op filter would only add a per-listing allocation, so the
	// summary pass is wired for real filters alone.
	if _, nop := cfg.ext.QueryFilter.(*extensions.NopQueryFilter); !nop {
		locOpts = append(locOpts, locator.WithSummaryFilter(summaryFilterBridge(cfg.ext.QueryFilter)))
	}
	locOpts = append(locOpts, cfg.locOpts...)
	s.locator = locator.NewLocator(s.cache, s.graph, locOpts...)

	return s
}

// summaryFilterBridge adapts the extension QueryFilter to the locator's
// summary pass. A blocked summary travels as empty text; the sheet stays
// selectable by name.
func summaryFilterBridge(qf extensions.QueryFilter) func(context.Context, string) (string, error) {
	return func(ctx context.Context, summary string) (string, error) {
		res, err := qf.FilterContext(ctx, summary)
		if err != nil {
			return "", err
		}
		if res.WasBlocked {
			return "", nil
		}
		return res.Filtered, nil
	}
}

// summarySearchAdapter bridges the Weaviate-backed index to the
// locator's port.
type summarySearchAdapter struct {
	index *embedding.SummaryIndex
}

func (a *summarySearchAdapter) SearchSummaries(ctx context.Context, query string, limit int) ([]locator.SummaryHit, error) {
	hits, err := a.index.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]locator.SummaryHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, locator.SummaryHit{
			ChunkID:   hit.ChunkID,
			SheetName: hit.SheetName,
			Score:     hit.Score,
		})
	}
	return out, nil
}

// LoadPersisted warms the cache and graph from the persistent store.
// Call once at startup, before serving. Returns how many chunks were
// restored; zero with a nil error when persistence is not configured.
func (s *Service) LoadPersisted(ctx context.Context) (int, error) {
	if s.persistent == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks, err := s.persistent.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading persisted chunks: %w", err)
	}
	// Stored chunks carry their formula texts, so the graph rebuilds
	// exactly as it stood when they were saved.
	s.graph.AnalyzeChunks(chunks)
	for _, chunk := range chunks {
		s.cache.Put(chunk)
	}
	if len(chunks) > 0 {
		s.logger.Info("Restored chunks from disk", "count", len(chunks))
	}
	return len(chunks), nil
}

// RefreshWorkbook re-reads every sheet and runs the full pipeline:
// compress, analyze, cache. Sheets that disappeared since the last pass
// are evicted from the cache, the graph, and the search index.
//
// Outputs:
//
//	*RefreshResult - Counts and changed/removed ids. Non-nil on nil
//	                 error.
//	error - Reader failure or context cancellation. Persistence and
//	        indexing failures degrade to warnings instead.
func (s *Service) RefreshWorkbook(ctx context.Context) (*RefreshResult, error) {
	ctx, span := tracer.Start(ctx, "Service.RefreshWorkbook")
	defer span.End()

	if s.reader == nil {
		return nil, errors.New("no workbook reader configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	sheets, err := s.reader.ReadWorkbook(ctx)
	if err != nil {
		span.RecordError(err)
		refreshesTotal.WithLabelValues("workbook", "error").Inc()
		return nil, fmt.Errorf("reading workbook: %w", err)
	}

	chunks := make([]*compress.MetadataChunk, 0, len(sheets))
	for i := range sheets {
		chunks = append(chunks, s.compressor.Compress(sheets[i]))
	}
	s.graph.AnalyzeChunks(chunks)

	result := &RefreshResult{Total: len(chunks)}
	current := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		current[chunk.ID] = struct{}{}
		if s.cache.Put(chunk) {
			result.Changed = append(result.Changed, chunk.ID)
		}
	}

	for _, id := range s.cache.IDs() {
		if _, live := current[id]; live {
			continue
		}
		s.cache.Invalidate(id)
		s.graph.RemoveAllDependenciesForChunk(id)
		result.Removed = append(result.Removed, id)
	}

	s.persistAndIndex(ctx, chunks, result)
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("sheets", result.Total),
		attribute.Int("changed", len(result.Changed)),
		attribute.Int("removed", len(result.Removed)),
	)
	refreshesTotal.WithLabelValues("workbook", "ok").Inc()
	refreshDuration.Observe(result.Duration.Seconds())
	s.logger.Info("Workbook refreshed",
		"sheets", result.Total,
		"changed", len(result.Changed),
		"removed", len(result.Removed),
		"duration", result.Duration)

	s.notify("workbook", result)
	return result, nil
}

// RefreshSheets re-reads only the named sheets. A sheet the reader no
// longer knows is treated as removed; other per-sheet read failures are
// skipped with a warning so one broken sheet cannot stall the rest.
func (s *Service) RefreshSheets(ctx context.Context, names []string) (*RefreshResult, error) {
	ctx, span := tracer.Start(ctx, "Service.RefreshSheets")
	defer span.End()

	if s.reader == nil {
		return nil, errors.New("no workbook reader configured")
	}
	if len(names) == 0 {
		return &RefreshResult{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &RefreshResult{}
	chunks := make([]*compress.MetadataChunk, 0, len(names))
	for _, name := range names {
		sheet, err := s.reader.ReadSheet(ctx, name)
		if err != nil {
			if errors.Is(err, workbook.ErrSheetNotFound) {
				id := compress.IDForSheet(name)
				if s.cache.Invalidate(id) {
					s.graph.RemoveAllDependenciesForChunk(id)
					result.Removed = append(result.Removed, id)
				}
				continue
			}
			if ctx.Err() != nil {
				span.RecordError(ctx.Err())
				refreshesTotal.WithLabelValues("sheets", "error").Inc()
				return nil, ctx.Err()
			}
			s.logger.Warn("Reading sheet failed, skipping", "sheet", name, "error", err)
			continue
		}
		chunks = append(chunks, s.compressor.Compress(sheet))
	}

	s.graph.AnalyzeChunks(chunks)
	result.Total = len(chunks)
	for _, chunk := range chunks {
		if s.cache.Put(chunk) {
			result.Changed = append(result.Changed, chunk.ID)
		}
	}

	s.persistAndIndex(ctx, chunks, result)
	result.Duration = time.Since(start)

	refreshesTotal.WithLabelValues("sheets", "ok").Inc()
	refreshDuration.Observe(result.Duration.Seconds())
	s.logger.Info("Sheets refreshed",
		"requested", len(names),
		"captured", result.Total,
		"changed", len(result.Changed),
		"removed", len(result.Removed))

	s.notify("sheets", result)
	return result, nil
}

// IngestSheets compresses sheet states pushed by a host that POSTs its
// grids instead of writing snapshots. The push-side twin of
// RefreshSheets; works with no reader configured.
//
// Outputs:
//
//	*RefreshResult - Counts and changed ids.
//	[]*compress.MetadataChunk - The freshly built chunks, Refs filled,
//	                            in input order.
//	error - Context cancellation only.
func (s *Service) IngestSheets(ctx context.Context, sheets []workbook.SheetState) (*RefreshResult, []*compress.MetadataChunk, error) {
	ctx, span := tracer.Start(ctx, "Service.IngestSheets")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if len(sheets) == 0 {
		return &RefreshResult{}, nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	chunks := make([]*compress.MetadataChunk, 0, len(sheets))
	for i := range sheets {
		chunks = append(chunks, s.compressor.Compress(sheets[i]))
	}
	s.graph.AnalyzeChunks(chunks)

	result := &RefreshResult{Total: len(chunks)}
	for _, chunk := range chunks {
		if s.cache.Put(chunk) {
			result.Changed = append(result.Changed, chunk.ID)
		}
	}

	s.persistAndIndex(ctx, chunks, result)
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("sheets", result.Total),
		attribute.Int("changed", len(result.Changed)),
	)
	refreshesTotal.WithLabelValues("ingest", "ok").Inc()
	refreshDuration.Observe(result.Duration.Seconds())
	s.logger.Info("Sheets ingested",
		"sheets", result.Total,
		"changed", len(result.Changed),
		"duration", result.Duration)

	s.notify("ingest", result)
	return result, chunks, nil
}

// persistAndIndex pushes the pass's outcome to the optional sinks.
// Failures here never fail the refresh; the in-memory state is already
// correct and the sinks catch up on the next pass.
func (s *Service) persistAndIndex(ctx context.Context, chunks []*compress.MetadataChunk, result *RefreshResult) {
	if s.persistent != nil {
		if err := s.persistent.SaveChunks(ctx, chunks); err != nil {
			s.logger.Warn("Persisting chunks failed", "error", err)
		}
		for _, id := range result.Removed {
			if err := s.persistent.DeleteChunk(ctx, id); err != nil {
				s.logger.Warn("Deleting persisted chunk failed", "chunk_id", id, "error", err)
			}
		}
	}

	if s.index == nil {
		return
	}
	if len(result.Changed) > 0 {
		changedSet := make(map[string]struct{}, len(result.Changed))
		for _, id := range result.Changed {
			changedSet[id] = struct{}{}
		}
		changedChunks := make([]*compress.MetadataChunk, 0, len(result.Changed))
		for _, chunk := range chunks {
			if _, ok := changedSet[chunk.ID]; ok {
				changedChunks = append(changedChunks, chunk)
			}
		}
		if n, err := s.index.UpsertSummaries(ctx, changedChunks); err != nil {
			s.logger.Warn("Indexing summaries failed", "error", err)
		} else {
			s.logger.Debug("Summaries indexed", "objects", n)
		}
	}
	if len(result.Removed) > 0 {
		if err := s.index.RemoveChunks(ctx, result.Removed); err != nil {
			s.logger.Warn("Removing indexed summaries failed", "error", err)
		}
	}
}

// LocateContext resolves a query to the chunks needed to answer it.
//
// The query passes through the configured QueryFilter before any model
// sees it; enterprise deployments redact or block there. The outcome
// lands in the audit trail either way. Audit failures are logged and
// swallowed, the locate result stands on its own.
func (s *Service) LocateContext(ctx context.Context, query string, history []datatypes.Message) (*locator.ChunkLocatorResult, error) {
	filtered, err := s.ext.QueryFilter.FilterQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filtering query: %w", err)
	}
	if filtered.WasBlocked {
		s.audit(ctx, extensions.AuditEvent{
			EventType:    extensions.EventContextBlocked,
			Action:       "locate",
			ResourceType: "query",
			Outcome:      extensions.OutcomeBlocked,
			Metadata:     map[string]any{"reason": filtered.BlockReason},
		})
		if filtered.BlockReason != "" {
			return nil, fmt.Errorf("%s: %w", filtered.BlockReason, extensions.ErrQueryBlocked)
		}
		return nil, extensions.ErrQueryBlocked
	}

	result, err := s.locator.Locate(ctx, filtered.Filtered, history)
	if err != nil {
		s.audit(ctx, extensions.AuditEvent{
			EventType:    extensions.EventContextLocate,
			Action:       "locate",
			ResourceType: "chunk",
			Outcome:      extensions.OutcomeError,
			Metadata:     map[string]any{"error": err.Error()},
		})
		return nil, err
	}

	s.audit(ctx, extensions.AuditEvent{
		EventType:    extensions.EventContextLocate,
		Action:       "locate",
		ResourceType: "chunk",
		Outcome:      extensions.OutcomeSuccess,
		Metadata: map[string]any{
			"chunks":   len(result.ChunkIDs),
			"used_llm": result.UsedLLM,
		},
	})
	return result, nil
}

// audit stamps and submits one event, downgrading logger failures to a
// warning so the pipeline never depends on the audit sink.
func (s *Service) audit(ctx context.Context, event extensions.AuditEvent) {
	event.Timestamp = time.Now().UTC()
	event.UserID = "local-user"
	if err := s.ext.AuditLogger.Log(ctx, event); err != nil {
		s.logger.Warn("Audit log failed", "event_type", event.EventType, "error", err)
	}
}

// Chunks returns clones of every cached chunk, sorted by id.
func (s *Service) Chunks() []*compress.MetadataChunk {
	return s.cache.All()
}

// Chunk returns a clone of one cached chunk.
func (s *Service) Chunk(id string) (*compress.MetadataChunk, bool) {
	return s.cache.Get(id)
}

// ChunkCount returns how many chunks are cached.
func (s *Service) ChunkCount() int {
	return s.cache.Len()
}

// Dependencies returns the chunk ids the given chunk reads from.
func (s *Service) Dependencies(id string) []string {
	return s.graph.DependencyChunks(id)
}

// Dependents returns the chunk ids that read from the given chunk.
func (s *Service) Dependents(id string) []string {
	return s.graph.DependentChunks(id)
}

// GraphStats returns current dependency graph counts.
func (s *Service) GraphStats() depgraph.GraphStats {
	return s.graph.Stats()
}

// Reanalyze rebuilds the dependency graph from the cached chunks and
// returns the resulting stats. Useful after a restore, or from the
// gateway's analyze endpoint.
func (s *Service) Reanalyze() depgraph.GraphStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks := s.cache.All()
	s.graph.AnalyzeChunks(chunks)
	// Analysis rewrote Refs on the clones; re-put so the cache agrees.
	for _, chunk := range chunks {
		s.cache.Put(chunk)
	}
	return s.graph.Stats()
}

// EnsureSearchSchema creates the summary index's schema if needed.
// No-op without a configured index.
func (s *Service) EnsureSearchSchema(ctx context.Context) error {
	if s.index == nil {
		return nil
	}
	return s.index.EnsureSchema(ctx)
}

// WatchSnapshots starts a snapshot watcher that triggers a full refresh
// after each debounced change batch. Returns the watcher so the caller
// can Stop it; it also stops when ctx ends.
func (s *Service) WatchSnapshots(ctx context.Context, dir string) (*workbook.SnapshotWatcher, error) {
	watcher, err := workbook.NewSnapshotWatcher(dir, func(changes []workbook.SnapshotChange) {
		refresh := false
		for _, change := range changes {
			if !change.Removed {
				refresh = true
				break
			}
		}
		if !refresh {
			return
		}
		if _, err := s.RefreshWorkbook(ctx); err != nil {
			s.logger.Warn("Watcher-triggered refresh failed", "error", err)
		}
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting snapshot watcher: %w", err)
	}
	s.logger.Info("Watching snapshot directory", "dir", dir)
	return watcher, nil
}

// Subscribe registers for refresh notifications. The returned cancel
// func unregisters and closes the channel. Slow consumers lose events
// rather than stalling the pipeline.
func (s *Service) Subscribe() (<-chan ChangeEvent, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan ChangeEvent, 8)
	s.subs[id] = ch

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
	}
}

func (s *Service) notify(scope string, result *RefreshResult) {
	event := ChangeEvent{
		Scope:   scope,
		Total:   result.Total,
		Changed: append([]string{}, result.Changed...),
		Removed: append([]string{}, result.Removed...),
		At:      time.Now(),
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
