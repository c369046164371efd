// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package locator selects the metadata chunks a query needs.
//
// Locate runs a small state machine over retrieval strategies: LLM sheet
// selection when a selector is configured, explicit mention matching,
// semantic summary search, a ranking slot reserved for a future release,
// and finally dependency expansion over the graph. Each strategy only
// adds candidates - a chunk keeps the confidence assigned by whichever
// strategy found it first. Collaborator failures are never fatal; the
// caller always receives a result, at worst the active sheet at low
// confidence.
package locator

import (
	"context"
	"time"

	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
)

// Confidence assigned by each strategy. Explicit mentions are trusted
// outright; everything downstream is progressively weaker.
const (
	// ConfidenceExplicitMention is for a sheet named verbatim in the
	// query, alone or followed by tab/sheet/worksheet.
	ConfidenceExplicitMention = 1.0

	// ConfidenceLLMSelected is for sheets picked by the LLM selector.
	ConfidenceLLMSelected = 0.9

	// ConfidenceSubstring is for a sheet name contained in the query
	// after qualifier tokens are stripped.
	ConfidenceSubstring = 0.8

	// ConfidenceGenericPattern is for fuzzy matches of "X tab",
	// "sheet X", "in X" phrasings against known sheet names.
	ConfidenceGenericPattern = 0.75

	// ConfidenceCellRange is for the active sheet when the query names
	// cell ranges but no sheet.
	ConfidenceCellRange = 0.7

	// ConfidenceDirectDependency is for direct dependencies added by
	// expansion.
	ConfidenceDirectDependency = 0.6

	// ConfidenceActiveFallback is for the active sheet when nothing else
	// matched.
	ConfidenceActiveFallback = 0.5

	// ConfidenceTransitiveDependency is for transitive dependencies
	// added by expansion.
	ConfidenceTransitiveDependency = 0.4

	// EmbeddingWeight scales the searcher's similarity score into a
	// confidence.
	EmbeddingWeight = 0.85
)

const (
	// MaxHistoryTurns caps how much chat history reaches the LLM
	// selector.
	MaxHistoryTurns = 10

	// MaxQueryLength bounds the query text the locator will consider.
	// Longer queries are truncated, not rejected.
	MaxQueryLength = 500

	// DefaultLLMSelectionTimeout bounds the LLM sheet-selection call.
	// On expiry the state is a miss and control falls through.
	DefaultLLMSelectionTimeout = 5 * time.Second

	// DefaultEmbeddingLimit is how many summary hits to request.
	DefaultEmbeddingLimit = 5
)

// LocatorDetails carries the human-readable trail of what the locator
// recognized: sheet names, cell ranges, chart names, and free-text hints
// from the semantic stage.
type LocatorDetails struct {
	Sheets        []string `json:"sheets"`
	Ranges        []string `json:"ranges"`
	Charts        []string `json:"charts"`
	SemanticHints []string `json:"semantic_hints"`
}

// ChunkLocatorResult is the outcome of a locate call.
//
// ChunkIDs is an ordered set - first strategy to find a chunk decides its
// position and its confidence. UsedLLM reports whether an LLM was
// consulted at all, including misses, so tests and diagnostics can tell
// rule-based results from model-assisted ones.
type ChunkLocatorResult struct {
	ChunkIDs         []string           `json:"chunk_ids"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
	Details          LocatorDetails     `json:"details"`
	UsedLLM          bool               `json:"used_llm"`
}

// SheetListing is one entry in the compact sheet inventory handed to the
// LLM selector.
type SheetListing struct {
	SheetName string `json:"sheet_name"`
	Summary   string `json:"summary"`
}

// SheetSelector is the LLM collaborator port: given the query, the sheet
// inventory, and recent history, return the names of relevant sheets.
// Implementations must treat failures as "zero sheets" internally or
// return an error; the locator handles both as a miss.
type SheetSelector interface {
	SelectRelevantSheets(ctx context.Context, query string, sheets []SheetListing, history []datatypes.Message) ([]string, error)
}

// SummaryHit is one result from the optional semantic-search
// collaborator. Score is a similarity in [0, 1].
type SummaryHit struct {
	ChunkID   string
	SheetName string
	Score     float64
}

// SummarySearcher is the embedding collaborator port. A nil searcher
// disables the semantic stage.
type SummarySearcher interface {
	SearchSummaries(ctx context.Context, query string, limit int) ([]SummaryHit, error)
}

// locateState names the strategies of the locate state machine.
type locateState int

const (
	stateLLMSheetSelection locateState = iota
	stateExplicitMatch
	stateEmbeddingSearch
	stateLLMRanking
	stateDependencyExpansion
	stateDone
)

func (s locateState) String() string {
	switch s {
	case stateLLMSheetSelection:
		return "llm_sheet_selection"
	case stateExplicitMatch:
		return "explicit_match"
	case stateEmbeddingSearch:
		return "embedding_search"
	case stateLLMRanking:
		return "llm_ranking"
	case stateDependencyExpansion:
		return "dependency_expansion"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}
