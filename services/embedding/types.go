// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding indexes sheet summaries in Weaviate for semantic
// retrieval. The locator consults it when keyword matching finds nothing;
// when Weaviate is unavailable the caller skips the stage, so nothing in
// this package is load-bearing for correctness.
package embedding

import (
	"errors"
	"log/slog"
)

// SheetSummaryClassName is the Weaviate class name for sheet summaries.
const SheetSummaryClassName = "SheetSummary"

// Default splitter geometry for long summaries. Most summaries fit in a
// single part; workbooks with many tables and charts can overflow.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 64
)

var (
	// ErrEmptyQuery indicates Search was called with a blank query.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrEmptyURL indicates the index was configured without a Weaviate URL.
	ErrEmptyURL = errors.New("weaviate URL must not be empty")
)

// Hit is one semantic search result.
type Hit struct {
	// ChunkID is the metadata chunk the summary belongs to.
	ChunkID string `json:"chunk_id"`

	// SheetName is the display name of the sheet.
	SheetName string `json:"sheet_name"`

	// Summary is the indexed summary text (one part of it, for split
	// summaries).
	Summary string `json:"summary"`

	// Score is Weaviate's certainty in [0, 1]. Higher is closer.
	Score float64 `json:"score"`
}

// Config holds the settings for a SummaryIndex.
type Config struct {
	// URL is the Weaviate endpoint, with or without a scheme prefix.
	// Required.
	URL string

	// Workbook is the isolation key stored on every object so multiple
	// workbooks can share one Weaviate instance. Required.
	Workbook string

	// ChunkSize and ChunkOverlap control summary splitting. Zero values
	// take the package defaults.
	ChunkSize    int
	ChunkOverlap int

	// Logger receives index activity. Nil defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = DefaultChunkOverlap
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 8
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrEmptyURL
	}
	if c.Workbook == "" {
		return errors.New("workbook must not be empty")
	}
	return nil
}

// summaryDoc is one indexable part of a sheet summary.
type summaryDoc struct {
	DocID     string
	ChunkID   string
	SheetName string
	Summary   string
	Part      int
	Workbook  string
}
