// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"time"
)

// Event types emitted by the open source pipeline. Enterprise
// implementations may define additional types; keep the
// "category.action" shape so filters stay simple.
const (
	// EventContextLocate is recorded for every locate call that
	// reached the locator, whatever its outcome.
	EventContextLocate = "context.locate"

	// EventContextBlocked is recorded when the query filter refused a
	// query before any model or chunk was touched.
	EventContextBlocked = "context.blocked"
)

// Outcome values for AuditEvent.Outcome.
const (
	OutcomeSuccess = "success"
	OutcomeBlocked = "blocked"
	OutcomeError   = "error"
)

// AuditEvent is one entry in the compliance trail.
//
// For a spreadsheet copilot the interesting question is almost always
// "which workbook content was surfaced to a model, and when", so the
// pipeline records every locate and every blocked query. Events carry
// enough to answer GDPR right-to-know requests and to reconstruct an
// incident: who, what, which resource, and how it ended.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    EventContextLocate,
//	    Timestamp:    time.Now().UTC(),
//	    UserID:       "local-user",
//	    Action:       "locate",
//	    ResourceType: "chunk",
//	    ResourceID:   "Sheet:Revenue",
//	    Outcome:      OutcomeSuccess,
//	    Metadata: map[string]any{
//	        "chunks":   3,
//	        "used_llm": true,
//	    },
//	}
type AuditEvent struct {
	// EventType categorizes the event, "category.action" style.
	EventType string

	// Timestamp is when the event occurred, always UTC.
	// Implementations set it to time.Now().UTC() when zero.
	Timestamp time.Time

	// UserID is who performed the action: "local-user" for the
	// single-user desktop deployment, "system" for automated work.
	UserID string

	// Action is the operation attempted, e.g. "locate" or "refresh".
	Action string

	// ResourceType is the kind of resource involved: "chunk",
	// "workbook", "query".
	ResourceType string

	// ResourceID names the specific resource when there is one,
	// e.g. "Sheet:Revenue".
	ResourceID string

	// Outcome is one of the Outcome constants.
	Outcome string

	// Metadata carries event-specific detail. Established keys:
	// "error" (message when the outcome is error), "chunks" (locate
	// result size), "used_llm" (whether a model picked the sheets),
	// "reason" (why a query was blocked).
	Metadata map[string]any
}

// AuditFilter selects events for a Query. Zero fields are ignored;
// set fields combine with AND.
type AuditFilter struct {
	// EventTypes limits results to the listed types.
	EventTypes []string

	// UserID limits results to one user.
	UserID string

	// StartTime is the inclusive lower bound on Timestamp.
	StartTime time.Time

	// EndTime is the exclusive upper bound on Timestamp.
	EndTime time.Time

	ResourceType string
	ResourceID   string
	Outcome      string

	// Limit caps the result size; zero means the implementation's
	// default. Offset skips events for pagination.
	Limit  int
	Offset int
}

// AuditLogger records the compliance trail.
//
// Implementations must be safe for concurrent use, and Log must come
// back quickly: it sits on the locate path, and a slow audit sink
// must not add latency to every copilot question. Buffering
// implementations persist on Flush, which the service calls before
// shutdown.
//
// The stock NopAuditLogger drops everything, which is the right
// behavior for a local single-user install. Enterprise builds plug in
// SIEM or database-backed implementations through ServiceOptions.
type AuditLogger interface {
	// Log records one event. Implementations stamp a zero Timestamp
	// and must not mutate event.Metadata.
	Log(ctx context.Context, event AuditEvent) error

	// Query returns matching events, newest first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush persists anything buffered. A synchronous implementation
	// returns nil immediately.
	Flush(ctx context.Context) error
}

// NopAuditLogger drops every event. Stateless, so trivially safe for
// concurrent use.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// Query always answers with an empty slice; nothing is ever stored.
func (l *NopAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush has nothing to flush.
func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

var _ AuditLogger = (*NopAuditLogger)(nil)
