// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the gateway HTTP handlers

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KodiakSheets/pkg/extensions"
	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
	"github.com/AleutianAI/KodiakSheets/services/policy_engine"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/workbook"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSheets is a small workbook: Revenue (active) reads from Costs.
func testSheets() []workbook.SheetState {
	return []workbook.SheetState{
		{
			Name:   "Revenue",
			Active: true,
			Values: [][]any{
				{"Region", "Amount"},
				{"West", 1200.0},
				{"East", 900.0},
			},
			Formulas: [][]string{
				{"", ""},
				{"", "=Costs!B2*1.2"},
			},
		},
		{
			Name: "Costs",
			Values: [][]any{
				{"Region", "Amount"},
				{"West", 1000.0},
			},
		},
	}
}

// newTestPipeline builds a push-only pipeline preloaded with testSheets.
func newTestPipeline(t *testing.T) *sheetmind.Service {
	t.Helper()
	svc := sheetmind.NewService(nil)
	_, _, err := svc.IngestSheets(context.Background(), testSheets())
	require.NoError(t, err)
	return svc
}

// testPolicyEngine loads the embedded classification rules.
func testPolicyEngine(t *testing.T) *policy_engine.PolicyEngine {
	t.Helper()
	engine, err := policy_engine.NewPolicyEngine()
	require.NoError(t, err)
	return engine
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	svc := newTestPipeline(t)
	router := gin.New()
	router.GET("/healthz", HealthCheck(svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, "kodiak-gateway", response["service"])
	assert.Equal(t, float64(2), response["chunks"])
}

// =============================================================================
// Locate Tests
// =============================================================================

func TestHandleLocateContext_ExplicitMention(t *testing.T) {
	svc := newTestPipeline(t)
	router := gin.New()
	router.POST("/v1/context/locate", HandleLocateContext(svc, testPolicyEngine(t)))

	w := postJSON(router, "/v1/context/locate", map[string]any{
		"query": "What drives the Revenue numbers?",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp datatypes.LocateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.NotEmpty(t, resp.ChunkIDs)
	assert.Equal(t, "Sheet:Revenue", resp.ChunkIDs[0])
	assert.InDelta(t, 1.0, resp.ConfidenceScores["Sheet:Revenue"], 1e-9)
	// Revenue reads from Costs, so expansion pulls the dependency in.
	assert.Contains(t, resp.ChunkIDs, "Sheet:Costs")
	assert.InDelta(t, 0.6, resp.ConfidenceScores["Sheet:Costs"], 1e-9)
	assert.False(t, resp.UsedLLM)
	assert.NotEmpty(t, resp.ResponseID)
	assert.NotEmpty(t, resp.RequestID)
}

func TestHandleLocateContext_FallbackToActiveSheet(t *testing.T) {
	svc := newTestPipeline(t)
	router := gin.New()
	router.POST("/v1/context/locate", HandleLocateContext(svc, testPolicyEngine(t)))

	w := postJSON(router, "/v1/context/locate", map[string]any{
		"query": "what changed since yesterday",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.LocateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.NotEmpty(t, resp.ChunkIDs)
	assert.Equal(t, "Sheet:Revenue", resp.ChunkIDs[0])
	assert.InDelta(t, 0.5, resp.ConfidenceScores["Sheet:Revenue"], 1e-9)
}

func TestHandleLocateContext_EchoesRequestID(t *testing.T) {
	svc := newTestPipeline(t)
	router := gin.New()
	router.POST("/v1/context/locate", HandleLocateContext(svc, testPolicyEngine(t)))

	reqID := "7f9c24e8-3b2a-4f6d-9c1e-8a5b2d7c4e1f"
	w := postJSON(router, "/v1/context/locate", map[string]any{
		"request_id": reqID,
		"timestamp":  1700000000000,
		"query":      "show the costs sheet",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.LocateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, reqID, resp.RequestID)
}

func TestHandleLocateContext_BadRequests(t *testing.T) {
	svc := newTestPipeline(t)
	router := gin.New()
	router.POST("/v1/context/locate", HandleLocateContext(svc, testPolicyEngine(t)))

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed JSON", body: "{not json"},
		{name: "missing query", body: `{}`},
		{name: "bad request id", body: `{"request_id": "not-a-uuid", "query": "q"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("POST", "/v1/context/locate",
				bytes.NewReader([]byte(tt.body)))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleLocateContext_BlocksSensitiveQuery(t *testing.T) {
	svc := newTestPipeline(t)
	router := gin.New()
	router.POST("/v1/context/locate", HandleLocateContext(svc, testPolicyEngine(t)))

	w := postJSON(router, "/v1/context/locate", map[string]any{
		"query": "the key in B2 is AKIA1234567890123456, why does it fail?",
	})
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	var resp struct {
		Error    string                      `json:"error"`
		Findings []policy_engine.ScanFinding `json:"findings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "Policy Violation")
	require.NotEmpty(t, resp.Findings)
	assert.Equal(t, "secret", resp.Findings[0].ClassificationName)
	assert.Equal(t, "AKIA1234567890123456", resp.Findings[0].MatchedContent)
}

// denyAllFilter stands in for an enterprise filter that rejects the query.
type denyAllFilter struct{}

func (denyAllFilter) FilterQuery(_ context.Context, query string) (*extensions.FilterResult, error) {
	return &extensions.FilterResult{
		Original:    query,
		WasBlocked:  true,
		BlockReason: "outside business hours",
	}, nil
}

func (denyAllFilter) FilterContext(_ context.Context, msg string) (*extensions.FilterResult, error) {
	return &extensions.FilterResult{Original: msg, Filtered: msg}, nil
}

func TestHandleLocateContext_FilterBlockIs403(t *testing.T) {
	svc := sheetmind.NewService(nil,
		sheetmind.WithExtensions(extensions.ServiceOptions{QueryFilter: denyAllFilter{}}))
	_, _, err := svc.IngestSheets(context.Background(), testSheets())
	require.NoError(t, err)

	router := gin.New()
	router.POST("/v1/context/locate", HandleLocateContext(svc, testPolicyEngine(t)))

	w := postJSON(router, "/v1/context/locate", map[string]any{
		"query": "What drives the Revenue numbers?",
	})
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "outside business hours")
}

// =============================================================================
// Compress Tests
// =============================================================================

func TestHandleCompressSheets_IngestsAndReportsChanges(t *testing.T) {
	svc := sheetmind.NewService(nil)
	router := gin.New()
	router.POST("/v1/sheets/compress", HandleCompressSheets(svc))

	w := postJSON(router, "/v1/sheets/compress", map[string]any{
		"sheets": testSheets(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp datatypes.CompressResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.Len(t, resp.Chunks, 2)
	assert.Equal(t, 2, resp.ChangedCount)
	for _, digest := range resp.Chunks {
		assert.True(t, digest.Changed)
		assert.NotEmpty(t, digest.ChunkID)
		assert.NotEmpty(t, digest.ContentHash)
		assert.NotEmpty(t, digest.Summary)
	}

	// Same grids again: nothing changed.
	w = postJSON(router, "/v1/sheets/compress", map[string]any{
		"sheets": testSheets(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.ChangedCount)
	for _, digest := range resp.Chunks {
		assert.False(t, digest.Changed)
	}
}

func TestHandleCompressSheets_RejectsEmptyBatch(t *testing.T) {
	svc := sheetmind.NewService(nil)
	router := gin.New()
	router.POST("/v1/sheets/compress", HandleCompressSheets(svc))

	w := postJSON(router, "/v1/sheets/compress", map[string]any{
		"sheets": []workbook.SheetState{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Chunk Inspection Tests
// =============================================================================

func TestListChunks(t *testing.T) {
	svc := newTestPipeline(t)
	router := gin.New()
	router.GET("/v1/chunks", ListChunks(svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/chunks", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ChunksResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Chunks, 2)
	// Store returns chunks sorted by id.
	assert.Equal(t, "Sheet:Costs", resp.Chunks[0].ID)
	assert.Equal(t, "Sheet:Revenue", resp.Chunks[1].ID)
}

func TestGetChunk_FoundWithNeighborhood(t *testing.T) {
	svc := newTestPipeline(t)
	router := gin.New()
	router.GET("/v1/chunks/:chunkId", GetChunk(svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/chunks/"+url.PathEscape("Sheet:Revenue"), nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Chunk        map[string]any `json:"chunk"`
		Dependencies []string       `json:"dependencies"`
		Dependents   []string       `json:"dependents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Sheet:Revenue", resp.Chunk["id"])
	assert.Equal(t, []string{"Sheet:Costs"}, resp.Dependencies)
	assert.Empty(t, resp.Dependents)
}

func TestGetChunk_NotFound(t *testing.T) {
	svc := newTestPipeline(t)
	router := gin.New()
	router.GET("/v1/chunks/:chunkId", GetChunk(svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/chunks/"+url.PathEscape("Sheet:Nope"), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// Graph Tests
// =============================================================================

func TestHandleAnalyze(t *testing.T) {
	svc := newTestPipeline(t)
	router := gin.New()
	router.POST("/v1/chunks/analyze", HandleAnalyze(svc))

	w := postJSON(router, "/v1/chunks/analyze", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.AnalyzeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.ChunksAnalyzed)
	assert.Equal(t, 2, resp.Nodes)
	assert.Equal(t, 1, resp.Edges)
	assert.NotEmpty(t, resp.ResponseID)
}

func TestGetGraphStats(t *testing.T) {
	svc := newTestPipeline(t)
	router := gin.New()
	router.GET("/v1/graph/stats", GetGraphStats(svc))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/graph/stats", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.GraphStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Nodes)
	assert.Equal(t, 1, resp.Edges)
}
