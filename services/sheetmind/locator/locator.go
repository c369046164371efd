// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/compress"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/depgraph"
)

var tracer = otel.Tracer("kodiak.sheetmind.locator")

var (
	locatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheetmind_locator_locates_total",
		Help: "Locate calls by entry state and whether an LLM was consulted.",
	}, []string{"entry_state", "used_llm"})

	llmSelectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheetmind_locator_llm_selections_total",
		Help: "LLM sheet-selection attempts by outcome.",
	}, []string{"outcome"})
)

// ChunkProvider supplies the current chunk snapshot. The metadata cache
// satisfies it; tests use a slice-backed fake.
type ChunkProvider interface {
	All() []*compress.MetadataChunk
}

// Options tunes a Locator.
type Options struct {
	// Selector is the optional LLM collaborator. Nil disables the LLM
	// sheet-selection state.
	Selector SheetSelector

	// Searcher is the optional semantic-search collaborator. Nil
	// disables the embedding state.
	Searcher SummarySearcher

	// SummaryFilter, when set, rewrites each sheet summary before it
	// enters a selection prompt. Enterprise deployments redact here.
	SummaryFilter func(ctx context.Context, summary string) (string, error)

	// LLMSelectionTimeout bounds the selector call.
	LLMSelectionTimeout time.Duration

	// EmbeddingLimit is how many summary hits to request.
	EmbeddingLimit int

	// Logger receives state transitions at debug level.
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithSelector configures the LLM sheet-selection collaborator.
func WithSelector(s SheetSelector) Option {
	return func(o *Options) { o.Selector = s }
}

// WithSearcher configures the semantic-search collaborator.
func WithSearcher(s SummarySearcher) Option {
	return func(o *Options) { o.Searcher = s }
}

// WithSummaryFilter installs a rewrite pass over sheet summaries bound
// for a selection prompt.
func WithSummaryFilter(f func(ctx context.Context, summary string) (string, error)) Option {
	return func(o *Options) { o.SummaryFilter = f }
}

// WithSelectionTimeout overrides the LLM selection timeout.
func WithSelectionTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.LLMSelectionTimeout = d
		}
	}
}

// WithEmbeddingLimit overrides how many summary hits to request.
func WithEmbeddingLimit(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.EmbeddingLimit = n
		}
	}
}

// WithLogger sets the locator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Locator selects chunks for a query. Construct one per service; it
// holds no per-call state, so a single instance serves concurrent
// callers.
type Locator struct {
	chunks ChunkProvider
	graph  *depgraph.Analyzer
	opts   Options
	logger *slog.Logger
}

// NewLocator builds a locator over the given chunk provider and graph.
func NewLocator(chunks ChunkProvider, graph *depgraph.Analyzer, opts ...Option) *Locator {
	options := Options{
		LLMSelectionTimeout: DefaultLLMSelectionTimeout,
		EmbeddingLimit:      DefaultEmbeddingLimit,
		Logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Locator{
		chunks: chunks,
		graph:  graph,
		opts:   options,
		logger: options.Logger.With(slog.String("component", "chunk_locator")),
	}
}

// sheetEntry is one known sheet in the per-call snapshot, with its match
// patterns precompiled.
type sheetEntry struct {
	id        string
	name      string
	lowerName string
	normName  string
	summary   string
	active    bool
	charts    []string

	namePattern      *regexp.Regexp
	qualifiedPattern *regexp.Regexp
}

// sheetSnapshot is the immutable view of the chunk set a single locate
// call operates on. Chunks added or replaced mid-call are not observed.
type sheetSnapshot struct {
	entries []sheetEntry
	byLower map[string]int
	active  int // index into entries, -1 when no sheet is active
}

func (l *Locator) snapshot() *sheetSnapshot {
	chunks := l.chunks.All()
	snap := &sheetSnapshot{
		entries: make([]sheetEntry, 0, len(chunks)),
		byLower: make(map[string]int, len(chunks)),
		active:  -1,
	}
	for _, chunk := range chunks {
		if chunk == nil || chunk.ID == "" || chunk.SheetName == "" {
			continue
		}
		entry := sheetEntry{
			id:        chunk.ID,
			name:      chunk.SheetName,
			lowerName: strings.ToLower(chunk.SheetName),
			normName:  normalizeQuery(chunk.SheetName),
			summary:   chunk.Summary,
			active:    chunk.Active,
		}
		for _, chart := range chunk.Charts {
			if chart.Name != "" {
				entry.charts = append(entry.charts, chart.Name)
			}
		}
		quoted := regexp.QuoteMeta(chunk.SheetName)
		entry.namePattern = regexp.MustCompile(`(?i)\b` + quoted + `\b`)
		entry.qualifiedPattern = regexp.MustCompile(`(?i)\b` + quoted + `\s+(?:tab|sheet|worksheet)\b`)

		idx := len(snap.entries)
		snap.entries = append(snap.entries, entry)
		if _, exists := snap.byLower[entry.lowerName]; !exists {
			snap.byLower[entry.lowerName] = idx
		}
		if chunk.Active && snap.active < 0 {
			snap.active = idx
		}
	}
	return snap
}

func (s *sheetSnapshot) listings() []SheetListing {
	listings := make([]SheetListing, 0, len(s.entries))
	for i := range s.entries {
		listings = append(listings, SheetListing{
			SheetName: s.entries[i].name,
			Summary:   s.entries[i].summary,
		})
	}
	return listings
}

func (s *sheetSnapshot) byName(name string) (*sheetEntry, bool) {
	idx, ok := s.byLower[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return &s.entries[idx], true
}

func (s *sheetSnapshot) activeEntry() (*sheetEntry, bool) {
	if s.active < 0 {
		return nil, false
	}
	return &s.entries[s.active], true
}

// accumulator enforces the first-found-wins rule: the strategy that
// discovers a chunk decides its position and confidence, later strategies
// only add new ids.
type accumulator struct {
	ids     []string
	scores  map[string]float64
	details LocatorDetails
	usedLLM bool

	sheetSeen map[string]struct{}
	rangeSeen map[string]struct{}
	chartSeen map[string]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		ids:    []string{},
		scores: map[string]float64{},
		details: LocatorDetails{
			Sheets:        []string{},
			Ranges:        []string{},
			Charts:        []string{},
			SemanticHints: []string{},
		},
		sheetSeen: map[string]struct{}{},
		rangeSeen: map[string]struct{}{},
		chartSeen: map[string]struct{}{},
	}
}

// add inserts id at the given confidence if it is not already present.
// Returns whether the id was newly added.
func (a *accumulator) add(id string, confidence float64) bool {
	if id == "" {
		return false
	}
	if _, exists := a.scores[id]; exists {
		return false
	}
	a.ids = append(a.ids, id)
	a.scores[id] = confidence
	return true
}

func (a *accumulator) has(id string) bool {
	_, ok := a.scores[id]
	return ok
}

func (a *accumulator) empty() bool { return len(a.ids) == 0 }

func (a *accumulator) addSheetDetail(name string) {
	if name == "" {
		return
	}
	if _, seen := a.sheetSeen[name]; seen {
		return
	}
	a.sheetSeen[name] = struct{}{}
	a.details.Sheets = append(a.details.Sheets, name)
}

func (a *accumulator) addRange(r string) {
	if r == "" {
		return
	}
	if _, seen := a.rangeSeen[r]; seen {
		return
	}
	a.rangeSeen[r] = struct{}{}
	a.details.Ranges = append(a.details.Ranges, r)
}

func (a *accumulator) addChart(name string) {
	if name == "" {
		return
	}
	if _, seen := a.chartSeen[name]; seen {
		return
	}
	a.chartSeen[name] = struct{}{}
	a.details.Charts = append(a.details.Charts, name)
}

func (a *accumulator) addHint(hint string) {
	if hint == "" {
		return
	}
	a.details.SemanticHints = append(a.details.SemanticHints, hint)
}

func (a *accumulator) result() *ChunkLocatorResult {
	return &ChunkLocatorResult{
		ChunkIDs:         a.ids,
		ConfidenceScores: a.scores,
		Details:          a.details,
		UsedLLM:          a.usedLLM,
	}
}

// Locate resolves a query and chat history to a set of chunk ids with
// per-chunk confidence.
//
// Description:
//
//	Runs the strategy state machine over an immutable snapshot of the
//	chunk set. Entry is LLM sheet selection when a selector is
//	configured, otherwise explicit matching. Dependency expansion always
//	runs last. Collaborator failures degrade to the next strategy.
//
// Inputs:
//
//	ctx - Context for cancellation. The LLM state applies its own
//	      bounded timeout on top.
//	query - The user's question. Oversized queries are truncated.
//	history - Recent conversation, newest last. May be nil.
//
// Outputs:
//
//	*ChunkLocatorResult - Always non-nil on nil error.
//	error - Only context cancellation; never a collaborator failure.
//
// Thread Safety: Safe for concurrent use.
func (l *Locator) Locate(ctx context.Context, query string, history []datatypes.Message) (*ChunkLocatorResult, error) {
	ctx, span := tracer.Start(ctx, "Locator.Locate")
	defer span.End()

	query = strings.TrimSpace(query)
	if len(query) > MaxQueryLength {
		l.logger.Debug("Truncating oversized query", "length", len(query))
		query = query[:MaxQueryLength]
	}
	span.SetAttributes(attribute.Int("query_length", len(query)))

	snap := l.snapshot()
	acc := newAccumulator()

	state := stateExplicitMatch
	if l.opts.Selector != nil {
		state = stateLLMSheetSelection
	}
	entryState := state
	highConfidence := false

	for state != stateDone {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		l.logger.Debug("Locate state transition", "state", state.String(), "candidates", len(acc.ids))

		switch state {
		case stateLLMSheetSelection:
			state = l.runLLMSelection(ctx, query, history, snap, acc)
		case stateExplicitMatch:
			highConfidence = l.runExplicitMatch(ctx, query, snap, acc)
			if highConfidence {
				// An explicit mention is trusted outright; skip the
				// semantic stages and go straight to expansion.
				state = stateDependencyExpansion
			} else {
				state = stateEmbeddingSearch
			}
		case stateEmbeddingSearch:
			l.runEmbeddingSearch(ctx, query, acc)
			state = stateLLMRanking
		case stateLLMRanking:
			// Reserved re-ranking slot. The transition is recorded so
			// traces show it even while the state does nothing.
			span.AddEvent(stateLLMRanking.String())
			state = stateDependencyExpansion
		case stateDependencyExpansion:
			l.runDependencyExpansion(ctx, acc)
			state = stateDone
		default:
			state = stateDone
		}
	}

	result := acc.result()
	span.SetAttributes(
		attribute.Int("chunks", len(result.ChunkIDs)),
		attribute.Bool("used_llm", result.UsedLLM),
		attribute.Bool("high_confidence", highConfidence),
	)
	locatesTotal.WithLabelValues(entryState.String(), strconv.FormatBool(result.UsedLLM)).Inc()
	return result, nil
}

// runLLMSelection delegates sheet selection to the configured LLM
// collaborator. Any failure, timeout, or empty answer is a miss that
// falls through to explicit matching. A hit jumps straight to dependency
// expansion.
func (l *Locator) runLLMSelection(ctx context.Context, query string, history []datatypes.Message, snap *sheetSnapshot, acc *accumulator) locateState {
	ctx, span := tracer.Start(ctx, "Locator.llmSheetSelection")
	defer span.End()

	// Consulted is consulted, even on a miss.
	acc.usedLLM = true

	if len(snap.entries) == 0 {
		llmSelectionsTotal.WithLabelValues("miss").Inc()
		return stateExplicitMatch
	}

	selCtx, cancel := context.WithTimeout(ctx, l.opts.LLMSelectionTimeout)
	defer cancel()

	listings := snap.listings()
	l.filterListings(selCtx, listings)

	names, err := l.opts.Selector.SelectRelevantSheets(selCtx, query, listings, capHistory(history))
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		llmSelectionsTotal.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		l.logger.Warn("LLM sheet selection failed, falling through", "error", err)
		return stateExplicitMatch
	}

	added := 0
	for _, name := range names {
		entry, ok := snap.byName(name)
		if !ok {
			l.logger.Warn("LLM selected unknown sheet, dropping", "sheet", name)
			continue
		}
		if acc.add(entry.id, ConfidenceLLMSelected) {
			acc.addSheetDetail(entry.name)
			added++
		}
	}
	span.SetAttributes(attribute.Int("sheets_selected", added))

	if added == 0 {
		llmSelectionsTotal.WithLabelValues("miss").Inc()
		return stateExplicitMatch
	}
	llmSelectionsTotal.WithLabelValues("hit").Inc()
	return stateDependencyExpansion
}

// filterListings runs the configured summary filter over each listing.
// A filter failure drops that summary; unfiltered content must not ride
// into a prompt on an error path.
func (l *Locator) filterListings(ctx context.Context, listings []SheetListing) {
	if l.opts.SummaryFilter == nil {
		return
	}
	for i := range listings {
		filtered, err := l.opts.SummaryFilter(ctx, listings[i].Summary)
		if err != nil {
			l.logger.Warn("Summary filter failed, dropping summary", "sheet", listings[i].SheetName, "error", err)
			listings[i].Summary = ""
			continue
		}
		listings[i].Summary = filtered
	}
}

// runEmbeddingSearch consults the semantic-search collaborator, adding
// new chunks at the reported similarity scaled by EmbeddingWeight.
// Failures are logged and swallowed.
func (l *Locator) runEmbeddingSearch(ctx context.Context, query string, acc *accumulator) {
	if l.opts.Searcher == nil {
		return
	}
	ctx, span := tracer.Start(ctx, "Locator.embeddingSearch")
	defer span.End()

	hits, err := l.opts.Searcher.SearchSummaries(ctx, query, l.opts.EmbeddingLimit)
	if err != nil {
		span.RecordError(err)
		l.logger.Warn("Summary search failed, skipping semantic stage", "error", err)
		return
	}

	added := 0
	for _, hit := range hits {
		if hit.ChunkID == "" {
			continue
		}
		score := hit.Score
		if score <= 0 {
			continue
		}
		if score > 1 {
			score = 1
		}
		if acc.add(hit.ChunkID, score*EmbeddingWeight) {
			name := hit.SheetName
			if name == "" {
				if sheetName, ok := compress.SheetNameFromID(hit.ChunkID); ok {
					name = sheetName
				}
			}
			acc.addSheetDetail(name)
			acc.addHint(fmt.Sprintf("summary similarity %.2f: %s", score, name))
			added++
		}
	}
	span.SetAttributes(attribute.Int("hits_added", added))
}

// capHistory drops system-role turns and keeps only the most recent
// MaxHistoryTurns messages.
func capHistory(history []datatypes.Message) []datatypes.Message {
	if len(history) == 0 {
		return nil
	}
	filtered := make([]datatypes.Message, 0, len(history))
	for _, msg := range history {
		if strings.EqualFold(msg.Role, "system") {
			continue
		}
		filtered = append(filtered, msg)
	}
	if len(filtered) > MaxHistoryTurns {
		filtered = filtered[len(filtered)-MaxHistoryTurns:]
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}
