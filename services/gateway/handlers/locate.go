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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/KodiakSheets/pkg/extensions"
	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
	"github.com/AleutianAI/KodiakSheets/services/policy_engine"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind"
)

var locateTracer = otel.Tracer("kodiak.gateway.handlers")

// HandleLocateContext resolves a natural language query to the sheet
// chunks needed to answer it.
//
// # Description
//
// Binds and validates a LocateRequest, scans the query for sensitive
// data, runs the locator pipeline, and returns the ranked chunk ids
// with their confidence scores. The locator itself never fails outright
// (it degrades to the active-sheet fallback), so errors here mean
// context cancellation.
//
// Queries that trip the policy engine or the enterprise query filter
// come back 403; the query never reaches a model in either case.
//
// # Route
//
// POST /v1/context/locate
func HandleLocateContext(svc *sheetmind.Service, policyEng *policy_engine.PolicyEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := locateTracer.Start(c.Request.Context(), "HandleLocateContext")
		defer span.End()

		start := time.Now()
		var req datatypes.LocateRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the locate request", "error", err)
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

		if policyEng != nil {
			if findings := policyEng.ScanText(req.Query); len(findings) > 0 {
				span.SetAttributes(attribute.Int("policy.findings_count", len(findings)))
				slog.Warn("Blocked locate: query contains sensitive data",
					"findings_count", len(findings),
					"request_id", req.RequestID)
				c.JSON(http.StatusForbidden, gin.H{
					"error":    "Policy Violation: Query contains sensitive data.",
					"findings": findings,
				})
				return
			}
		}

		result, err := svc.LocateContext(ctx, req.Query, req.History)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, extensions.ErrQueryBlocked) {
				slog.Warn("Blocked locate: query rejected by filter",
					"request_id", req.RequestID)
				c.JSON(http.StatusForbidden, datatypes.ErrorResponse{
					Error:     err.Error(),
					RequestID: req.RequestID,
				})
				return
			}
			slog.Error("LocateContext failed", "error", err, "request_id", req.RequestID)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				Error:     err.Error(),
				RequestID: req.RequestID,
			})
			return
		}

		span.SetAttributes(
			attribute.Int("chunks", len(result.ChunkIDs)),
			attribute.Bool("used_llm", result.UsedLLM),
		)

		resp := datatypes.NewLocateResponse(req.RequestID)
		resp.ChunkIDs = result.ChunkIDs
		resp.ConfidenceScores = result.ConfidenceScores
		resp.Sheets = result.Details.Sheets
		resp.UsedLLM = result.UsedLLM
		resp.ProcessingTimeMs = time.Since(start).Milliseconds()

		c.JSON(http.StatusOK, resp)
	}
}
