// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/KodiakSheets/services/gateway/handlers"
	"github.com/AleutianAI/KodiakSheets/services/policy_engine"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind"
)

func SetupRoutes(router *gin.Engine, svc *sheetmind.Service, policyEng *policy_engine.PolicyEngine, enableMetrics bool) {

	router.GET("/healthz", handlers.HealthCheck(svc))
	if enableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/context/locate", handlers.HandleLocateContext(svc, policyEng))
		v1.POST("/sheets/compress", handlers.HandleCompressSheets(svc))
		v1.GET("/events", handlers.HandleChangeEvents(svc))
		// Chunk inspection routes
		chunks := v1.Group("/chunks")
		{
			chunks.GET("", handlers.ListChunks(svc))
			chunks.GET("/:chunkId", handlers.GetChunk(svc))
			chunks.POST("/analyze", handlers.HandleAnalyze(svc))
		}
		// Dependency graph routes
		graph := v1.Group("/graph")
		{
			graph.GET("/stats", handlers.GetGraphStats(svc))
		}
	}
}
