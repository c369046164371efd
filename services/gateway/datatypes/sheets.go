// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Request and response types for sheet compression and the dependency
// graph endpoints. For context location types, see context.go.
package datatypes

import (
	"time"

	"github.com/AleutianAI/KodiakSheets/pkg/validation"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/compress"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/workbook"
)

// =============================================================================
// Compress Request / Response
// =============================================================================

// CompressRequest is the body of POST /v1/sheets/compress.
//
// # Description
//
// Pushes raw sheet state into the context service. Each sheet is
// compressed into a metadata chunk, the dependency graph is refreshed for
// the batch, and changed chunks are persisted when a warm store is
// configured.
//
// # Fields
//
//   - RequestID: Required. Unique identifier for this request (UUID v4).
//   - Timestamp: Required. Unix timestamp in milliseconds (UTC).
//   - WorkbookName: Optional. Display name of the source workbook.
//   - Sheets: Required. Raw grids, one element per sheet.
type CompressRequest struct {
	RequestID    string                `json:"request_id" validate:"required,uuid4"`
	Timestamp    int64                 `json:"timestamp" validate:"required,gt=0"`
	WorkbookName string                `json:"workbook_name"`
	Sheets       []workbook.SheetState `json:"sheets" validate:"required,min=1"`
}

// Validate validates the CompressRequest fields after JSON binding.
// Beyond the struct tags, every sheet name must be one Excel could have
// produced; snapshots are client-supplied and the names end up in chunk
// ids and search filters.
func (r *CompressRequest) Validate() error {
	if err := contextValidate.Struct(r); err != nil {
		return err
	}
	for _, sheet := range r.Sheets {
		if err := validation.ValidSheetName(sheet.Name); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDefaults populates RequestID and Timestamp if the client omitted
// them.
func (r *CompressRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = generateUUID()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// ChunkDigest is the per-sheet result row of a compress call.
//
// # Fields
//
//   - ChunkID: The chunk id ("Sheet:<name>").
//   - SheetName: Source sheet name.
//   - ContentHash: Hash of the compressed state.
//   - Summary: One-line natural language summary.
//   - Changed: True when this compression changed the cached state.
type ChunkDigest struct {
	ChunkID     string `json:"chunk_id"`
	SheetName   string `json:"sheet_name"`
	ContentHash string `json:"content_hash"`
	Summary     string `json:"summary"`
	Changed     bool   `json:"changed"`
}

// CompressResponse reports the outcome of a compress call.
type CompressResponse struct {
	ResponseID       string        `json:"response_id"`
	RequestID        string        `json:"request_id"`
	Timestamp        int64         `json:"timestamp"`
	Chunks           []ChunkDigest `json:"chunks"`
	ChangedCount     int           `json:"changed_count"`
	ProcessingTimeMs int64         `json:"processing_time_ms,omitempty"`
}

// NewCompressResponse creates a CompressResponse with generated ID and
// timestamp.
func NewCompressResponse(requestID string) *CompressResponse {
	return &CompressResponse{
		ResponseID: generateUUID(),
		RequestID:  requestID,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// =============================================================================
// Chunk Listing
// =============================================================================

// ChunksResponse is the body of GET /v1/chunks.
type ChunksResponse struct {
	Chunks []*compress.MetadataChunk `json:"chunks"`
	Count  int                       `json:"count"`
}

// =============================================================================
// Graph Endpoints
// =============================================================================

// AnalyzeResponse reports the graph state after a forced re-analysis of
// every cached chunk (POST /v1/chunks/analyze).
type AnalyzeResponse struct {
	ResponseID       string `json:"response_id"`
	Timestamp        int64  `json:"timestamp"`
	ChunksAnalyzed   int    `json:"chunks_analyzed"`
	Nodes            int    `json:"nodes"`
	Edges            int    `json:"edges"`
	ProcessingTimeMs int64  `json:"processing_time_ms,omitempty"`
}

// NewAnalyzeResponse creates an AnalyzeResponse with generated ID and
// timestamp.
func NewAnalyzeResponse() *AnalyzeResponse {
	return &AnalyzeResponse{
		ResponseID: generateUUID(),
		Timestamp:  time.Now().UnixMilli(),
	}
}

// GraphStatsResponse is the body of GET /v1/graph/stats.
type GraphStatsResponse struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}
