// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind"
)

// ListChunks returns every cached metadata chunk.
//
// # Route
//
// GET /v1/chunks
func ListChunks(svc *sheetmind.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		chunks := svc.Chunks()
		c.JSON(http.StatusOK, datatypes.ChunksResponse{
			Chunks: chunks,
			Count:  len(chunks),
		})
	}
}

// GetChunk returns one cached chunk by id, with its graph neighborhood.
//
// # Description
//
// The chunk id is URL-encoded in the path ("Sheet:Q1 Revenue" arrives
// as "Sheet:Q1%20Revenue"); gin decodes it before the handler sees it.
// Dependencies and dependents come from the dependency graph so a UI
// can show the chunk in context.
//
// # Route
//
// GET /v1/chunks/:chunkId
func GetChunk(svc *sheetmind.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("chunkId")
		chunk, ok := svc.Chunk(id)
		if !ok {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "chunk not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"chunk":        chunk,
			"dependencies": svc.Dependencies(id),
			"dependents":   svc.Dependents(id),
		})
	}
}

// HandleAnalyze re-runs dependency analysis over every cached chunk.
//
// # Route
//
// POST /v1/chunks/analyze
func HandleAnalyze(svc *sheetmind.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		stats := svc.Reanalyze()

		resp := datatypes.NewAnalyzeResponse()
		resp.ChunksAnalyzed = svc.ChunkCount()
		resp.Nodes = stats.Nodes
		resp.Edges = stats.Edges
		resp.ProcessingTimeMs = time.Since(start).Milliseconds()

		c.JSON(http.StatusOK, resp)
	}
}

// GetGraphStats returns current dependency graph counts.
//
// # Route
//
// GET /v1/graph/stats
func GetGraphStats(svc *sheetmind.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := svc.GraphStats()
		c.JSON(http.StatusOK, datatypes.GraphStatsResponse{
			Nodes: stats.Nodes,
			Edges: stats.Edges,
		})
	}
}

// HealthCheck reports service liveness and the cache size.
//
// # Route
//
// GET /healthz
func HealthCheck(svc *sheetmind.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "kodiak-gateway",
			"chunks":  svc.ChunkCount(),
		})
	}
}
