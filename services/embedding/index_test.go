// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"errors"
	"strings"
	"testing"

	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/KodiakSheets/services/sheetmind/compress"
)

func newTestIndex(t *testing.T) *SummaryIndex {
	t.Helper()
	idx, err := NewSummaryIndex(Config{
		URL:      "http://weaviate.test:8080",
		Workbook: "test-workbook",
	})
	if err != nil {
		t.Fatalf("NewSummaryIndex returned error: %v", err)
	}
	return idx
}

func TestConfig_Validate(t *testing.T) {
	t.Run("missing URL fails", func(t *testing.T) {
		_, err := NewSummaryIndex(Config{Workbook: "wb"})
		if !errors.Is(err, ErrEmptyURL) {
			t.Errorf("expected ErrEmptyURL, got %v", err)
		}
	})

	t.Run("missing workbook fails", func(t *testing.T) {
		_, err := NewSummaryIndex(Config{URL: "http://localhost:8080"})
		if err == nil {
			t.Error("expected error for empty workbook")
		}
	})

	t.Run("overlap clamped below chunk size", func(t *testing.T) {
		cfg := Config{URL: "http://localhost:8080", Workbook: "wb", ChunkSize: 100, ChunkOverlap: 200}
		cfg.applyDefaults()
		if cfg.ChunkOverlap >= cfg.ChunkSize {
			t.Errorf("overlap %d not clamped below size %d", cfg.ChunkOverlap, cfg.ChunkSize)
		}
	})
}

func TestDeterministicDocID(t *testing.T) {
	a := deterministicDocID("wb", "Sheet:Budget", 0)
	b := deterministicDocID("wb", "Sheet:Budget", 0)
	if a != b {
		t.Errorf("same inputs produced different IDs: %s vs %s", a, b)
	}

	c := deterministicDocID("wb", "Sheet:Budget", 1)
	if a == c {
		t.Error("different parts produced the same ID")
	}

	d := deterministicDocID("other-wb", "Sheet:Budget", 0)
	if a == d {
		t.Error("different workbooks produced the same ID")
	}

	// Weaviate expects RFC 4122 text form.
	if len(a) != 36 || strings.Count(a, "-") != 4 {
		t.Errorf("doc ID %q is not UUID-shaped", a)
	}
}

func TestBuildDocs(t *testing.T) {
	idx := newTestIndex(t)

	t.Run("skips nil and empty chunks", func(t *testing.T) {
		docs, err := idx.buildDocs([]*compress.MetadataChunk{
			nil,
			{ID: "", Summary: "orphan"},
			{ID: "Sheet:Empty", Summary: ""},
		})
		if err != nil {
			t.Fatalf("buildDocs returned error: %v", err)
		}
		if len(docs) != 0 {
			t.Errorf("expected no docs, got %d", len(docs))
		}
	})

	t.Run("single part for short summary", func(t *testing.T) {
		docs, err := idx.buildDocs([]*compress.MetadataChunk{
			{ID: "Sheet:Budget", SheetName: "Budget", Summary: "Sheet \"Budget\": 40 formulas, 120 values."},
		})
		if err != nil {
			t.Fatalf("buildDocs returned error: %v", err)
		}
		if len(docs) != 1 {
			t.Fatalf("expected 1 doc, got %d", len(docs))
		}
		doc := docs[0]
		if doc.ChunkID != "Sheet:Budget" || doc.SheetName != "Budget" || doc.Part != 0 {
			t.Errorf("unexpected doc fields: %+v", doc)
		}
		if doc.Workbook != "test-workbook" {
			t.Errorf("workbook not stamped: %+v", doc)
		}
		if doc.DocID != deterministicDocID("test-workbook", "Sheet:Budget", 0) {
			t.Error("doc ID not deterministic")
		}
	})

	t.Run("long summary splits into ordered parts", func(t *testing.T) {
		long := strings.Repeat("Quarterly revenue totals with growth margins. ", 40)
		docs, err := idx.buildDocs([]*compress.MetadataChunk{
			{ID: "Sheet:Big", SheetName: "Big", Summary: long},
		})
		if err != nil {
			t.Fatalf("buildDocs returned error: %v", err)
		}
		if len(docs) < 2 {
			t.Fatalf("expected long summary to split, got %d part(s)", len(docs))
		}
		for i, doc := range docs {
			if doc.Part != i {
				t.Errorf("part %d carries index %d", i, doc.Part)
			}
			if len(doc.Summary) == 0 {
				t.Errorf("part %d is empty", i)
			}
		}
	})
}

func graphqlResult(objects []interface{}) *models.GraphQLResponse {
	return &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				SheetSummaryClassName: objects,
			},
		},
	}
}

func TestParseHits(t *testing.T) {
	t.Run("empty response yields no hits", func(t *testing.T) {
		hits := parseHits(&models.GraphQLResponse{Data: map[string]models.JSONObject{}})
		if len(hits) != 0 {
			t.Errorf("expected no hits, got %d", len(hits))
		}
	})

	t.Run("orders by certainty descending", func(t *testing.T) {
		hits := parseHits(graphqlResult([]interface{}{
			map[string]interface{}{
				"chunkId":     "Sheet:Costs",
				"sheetName":   "Costs",
				"summary":     "cost detail",
				"_additional": map[string]interface{}{"certainty": 0.71},
			},
			map[string]interface{}{
				"chunkId":     "Sheet:Budget",
				"sheetName":   "Budget",
				"summary":     "budget detail",
				"_additional": map[string]interface{}{"certainty": 0.93},
			},
		}))
		if len(hits) != 2 {
			t.Fatalf("expected 2 hits, got %d", len(hits))
		}
		if hits[0].ChunkID != "Sheet:Budget" || hits[1].ChunkID != "Sheet:Costs" {
			t.Errorf("hits not ordered by score: %+v", hits)
		}
		if hits[0].Score != 0.93 {
			t.Errorf("expected certainty 0.93, got %v", hits[0].Score)
		}
	})

	t.Run("keeps the best part per chunk", func(t *testing.T) {
		hits := parseHits(graphqlResult([]interface{}{
			map[string]interface{}{
				"chunkId":     "Sheet:Budget",
				"sheetName":   "Budget",
				"summary":     "part one",
				"_additional": map[string]interface{}{"certainty": 0.55},
			},
			map[string]interface{}{
				"chunkId":     "Sheet:Budget",
				"sheetName":   "Budget",
				"summary":     "part two",
				"_additional": map[string]interface{}{"certainty": 0.88},
			},
		}))
		if len(hits) != 1 {
			t.Fatalf("expected parts deduplicated, got %d hits", len(hits))
		}
		if hits[0].Summary != "part two" || hits[0].Score != 0.88 {
			t.Errorf("expected best part kept, got %+v", hits[0])
		}
	})

	t.Run("skips malformed objects", func(t *testing.T) {
		hits := parseHits(graphqlResult([]interface{}{
			"not a map",
			map[string]interface{}{"sheetName": "NoID"},
			map[string]interface{}{
				"chunkId":   "Sheet:OK",
				"sheetName": "OK",
				"summary":   "fine",
			},
		}))
		if len(hits) != 1 || hits[0].ChunkID != "Sheet:OK" {
			t.Errorf("expected only the valid object, got %+v", hits)
		}
	})
}
