// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions is the seam between the open source context
// pipeline and AleutianEnterprise.
//
// Kodiak runs as a local sidecar with no external dependencies, and
// the open source build keeps it that way: every extension point here
// defaults to a no-op. Enterprise builds supply real implementations
// and inject them through ServiceOptions; nothing in the core pipeline
// ever imports enterprise code.
//
// Two extension points exist today. AuditLogger (audit.go) receives a
// compliance event for every locate and every blocked query.
// QueryFilter (filter.go) sees each query before any model does and
// may rewrite, redact, or block it.
//
// Wiring, open source and enterprise respectively:
//
//	svc := sheetmind.NewService(reader)
//
//	svc := sheetmind.NewService(reader, sheetmind.WithExtensions(extensions.ServiceOptions{
//	    AuditLogger: enterprise.NewSplunkAuditor(cfg),
//	    QueryFilter: enterprise.NewPIIRedactor(policy),
//	}))
//
// Implementations must be safe for concurrent use; the gateway calls
// them from every request goroutine.
package extensions

// ServiceOptions carries the pluggable implementations into a service
// constructor. Leave a field nil to get the no-op default.
type ServiceOptions struct {
	// AuditLogger records context-access events.
	AuditLogger AuditLogger

	// QueryFilter transforms or blocks queries before any LLM call.
	QueryFilter QueryFilter
}

// DefaultOptions is the open source configuration: no audit trail, no
// filtering.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuditLogger: &NopAuditLogger{},
		QueryFilter: &NopQueryFilter{},
	}
}

// Normalize returns a copy of opts with nil fields replaced by no-ops.
// Services call this once at construction so the hot path never
// nil-checks.
func (opts ServiceOptions) Normalize() ServiceOptions {
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	if opts.QueryFilter == nil {
		opts.QueryFilter = &NopQueryFilter{}
	}
	return opts
}
