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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind"
)

// HandleCompressSheets ingests raw sheet state pushed by a host
// application.
//
// # Description
//
// Binds and validates a CompressRequest, runs each sheet through the
// compressor, refreshes the dependency graph for the batch, and caches
// the resulting chunks. The response carries one digest per sheet with
// a changed flag so the host can tell which sheets actually moved.
//
// # Route
//
// POST /v1/sheets/compress
func HandleCompressSheets(svc *sheetmind.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := locateTracer.Start(c.Request.Context(), "HandleCompressSheets")
		defer span.End()

		start := time.Now()
		var req datatypes.CompressRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the compress request", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
			return
		}

		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error:     err.Error(),
				RequestID: req.RequestID,
			})
			return
		}

		result, chunks, err := svc.IngestSheets(ctx, req.Sheets)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("IngestSheets failed", "error", err, "request_id", req.RequestID)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				Error:     err.Error(),
				RequestID: req.RequestID,
			})
			return
		}

		changed := make(map[string]struct{}, len(result.Changed))
		for _, id := range result.Changed {
			changed[id] = struct{}{}
		}

		resp := datatypes.NewCompressResponse(req.RequestID)
		resp.Chunks = make([]datatypes.ChunkDigest, 0, len(chunks))
		for _, chunk := range chunks {
			_, moved := changed[chunk.ID]
			resp.Chunks = append(resp.Chunks, datatypes.ChunkDigest{
				ChunkID:     chunk.ID,
				SheetName:   chunk.SheetName,
				ContentHash: chunk.ContentHash,
				Summary:     chunk.Summary,
				Changed:     moved,
			})
		}
		resp.ChangedCount = len(result.Changed)
		resp.ProcessingTimeMs = time.Since(start).Milliseconds()

		span.SetAttributes(
			attribute.Int("sheets", len(chunks)),
			attribute.Int("changed", resp.ChangedCount),
		)

		c.JSON(http.StatusOK, resp)
	}
}
