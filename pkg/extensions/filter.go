// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
)

// ErrQueryBlocked is what the service returns to the caller when the
// filter refused a query. Implementations signal a block through
// FilterResult, not by returning this error themselves.
var ErrQueryBlocked = errors.New("query blocked by filter")

// FilterResult reports what a filter pass did to one piece of text.
//
//	result := FilterResult{
//	    Original:    "why did account 4111-1111-1111-1111 drop?",
//	    Filtered:    "why did account [REDACTED] drop?",
//	    WasModified: true,
//	    Detections:  []Detection{{Type: "credit_card", Action: "redacted"}},
//	}
type FilterResult struct {
	// Original is the text as it arrived.
	Original string

	// Filtered is the text to use downstream. Equals Original when
	// WasModified is false; meaningless when WasBlocked is true.
	Filtered string

	// WasModified is true when any rewrite happened.
	WasModified bool

	// WasBlocked is true when the text must not travel at all.
	WasBlocked bool

	// BlockReason says why, for the audit trail and the user-facing
	// error. Empty is allowed; the block stands either way.
	BlockReason string

	// Detections itemizes findings for audit logging.
	Detections []Detection
}

// Detection is one finding within a filter pass.
type Detection struct {
	// Type is the finding category: "ssn", "credit_card", "email",
	// "api_key", "prompt_injection", and whatever else an
	// implementation defines.
	Type string

	// Location says where in the text, in a format of the
	// implementation's choosing.
	Location string

	// Action is what was done about it: "redacted", "masked",
	// "replaced", "blocked", "flagged".
	Action string

	// Replacement is the substituted text when Action is "replaced".
	Replacement string
}

// QueryFilter sees workbook-bound text before any model does.
//
// The pipeline calls it at two points. FilterQuery runs on the user's
// question at the start of every locate; a block there stops the
// request before a single chunk is read. FilterContext runs on each
// sheet summary as the locator assembles a selection prompt, which is
// the last stop before cell-derived content leaves the machine.
// Workbooks hold payroll, customer lists, and credentials pasted into
// cells, so enterprise deployments redact or block in both passes.
//
// A block is expressed in the result (WasBlocked plus BlockReason),
// never as an error; errors mean the filter itself failed.
// Implementations must be safe for concurrent use.
type QueryFilter interface {
	// FilterQuery processes a user query. On WasBlocked the service
	// records an audit event and answers with ErrQueryBlocked.
	FilterQuery(ctx context.Context, query string) (*FilterResult, error)

	// FilterContext processes one piece of workbook-derived text. On
	// WasBlocked the text is dropped from the prompt; the request
	// itself continues.
	FilterContext(ctx context.Context, contextMsg string) (*FilterResult, error)
}

// NopQueryFilter passes everything through untouched. Stateless, so
// trivially safe for concurrent use.
type NopQueryFilter struct{}

// FilterQuery returns the query unchanged.
func (f *NopQueryFilter) FilterQuery(ctx context.Context, query string) (*FilterResult, error) {
	return &FilterResult{Original: query, Filtered: query}, nil
}

// FilterContext returns the text unchanged.
func (f *NopQueryFilter) FilterContext(ctx context.Context, contextMsg string) (*FilterResult, error) {
	return &FilterResult{Original: contextMsg, Filtered: contextMsg}, nil
}

var _ QueryFilter = (*NopQueryFilter)(nil)
