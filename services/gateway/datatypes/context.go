// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response structures for the
// gateway service.
//
// This file contains the context location types for the
// POST /v1/context/locate endpoint. For compression and graph types, see
// sheets.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single chat message.
	// Checked as bytes, not runes, to bound memory not characters.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxHistoryMessages is the maximum number of chat turns accepted in a
	// locate request. The locator itself only reads the last ten; the cap
	// here bounds what clients may ship over the wire.
	MaxHistoryMessages = 100

	// MaxQueryBytes is the maximum size of the user query.
	MaxQueryBytes = 8 * 1024 // 8KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// contextValidate is the validator instance for gateway datatypes.
// Initialized in init() with custom validators.
var contextValidate *validator.Validate

func init() {
	contextValidate = validator.New()

	_ = contextValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = contextValidate.RegisterValidation("maxquerybytes", validateMaxQueryBytes)
}

// validateMaxBytes enforces the per-message content byte limit.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// validateMaxQueryBytes enforces the query byte limit.
func validateMaxQueryBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// generateUUID returns a new v4 UUID string for request/response ids.
func generateUUID() string {
	return uuid.New().String()
}

// =============================================================================
// Chat Message
// =============================================================================

// Message is one turn of conversation history.
//
// # Description
//
// Carried on locate requests so the locator can mine recent turns for
// sheet references. Roles follow the OpenAI convention; system turns are
// filtered out before history matching.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant tool"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// =============================================================================
// Locate Request / Response
// =============================================================================

// LocateRequest is the body of POST /v1/context/locate.
//
// # Description
//
// Asks the context service which sheet chunks are relevant to a natural
// language query. History is optional; when present the most recent turns
// participate in matching.
//
// # Fields
//
//   - RequestID: Required. Unique identifier for this request (UUID v4).
//   - Timestamp: Required. Unix timestamp in milliseconds (UTC).
//   - Query: Required. The user's question, up to 8KB.
//   - History: Optional. Conversation turns, newest last, up to 100.
//
// # Validation
//
// Uses go-playground/validator:
//   - RequestID: required, must be valid UUID v4
//   - Timestamp: required, must be > 0
//   - Query: required, max 8192 bytes
//   - History: up to 100 elements, each element validated
type LocateRequest struct {
	RequestID string    `json:"request_id" validate:"required,uuid4"`
	Timestamp int64     `json:"timestamp" validate:"required,gt=0"`
	Query     string    `json:"query" validate:"required,maxquerybytes"`
	History   []Message `json:"history" validate:"omitempty,max=100,dive"`
}

// Validate validates the LocateRequest fields after JSON binding.
func (r *LocateRequest) Validate() error {
	return contextValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp if the client omitted
// them.
func (r *LocateRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = generateUUID()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// LocateResponse is the result of a context location request.
//
// # Description
//
// Mirrors the locator's result: chunk ids in priority order, the
// confidence score per chunk, the sheets consulted, and whether an LLM
// contributed to the selection.
//
// # Fields
//
//   - ResponseID: Unique identifier for this response (UUID v4).
//   - RequestID: Echo of the request ID for correlation.
//   - Timestamp: Unix timestamp in milliseconds (UTC).
//   - ChunkIDs: Relevant chunk ids, highest priority first.
//   - ConfidenceScores: Score in (0, 1] per chunk id.
//   - Sheets: Sheet names consulted while locating.
//   - UsedLLM: True when an LLM call contributed to the result.
//   - ProcessingTimeMs: Server-side handling time.
type LocateResponse struct {
	ResponseID       string             `json:"response_id"`
	RequestID        string             `json:"request_id"`
	Timestamp        int64              `json:"timestamp"`
	ChunkIDs         []string           `json:"chunk_ids"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
	Sheets           []string           `json:"sheets,omitempty"`
	UsedLLM          bool               `json:"used_llm"`
	ProcessingTimeMs int64              `json:"processing_time_ms,omitempty"`
}

// NewLocateResponse creates a LocateResponse with generated ID and
// timestamp.
func NewLocateResponse(requestID string) *LocateResponse {
	return &LocateResponse{
		ResponseID: generateUUID(),
		RequestID:  requestID,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// =============================================================================
// Error Response
// =============================================================================

// ErrorResponse is the uniform error body for gateway endpoints.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
