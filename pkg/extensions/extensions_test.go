// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"testing"
	"time"
)

func TestDefaultOptions_AllNops(t *testing.T) {
	opts := DefaultOptions()

	if _, ok := opts.AuditLogger.(*NopAuditLogger); !ok {
		t.Error("DefaultOptions().AuditLogger should be *NopAuditLogger")
	}
	if _, ok := opts.QueryFilter.(*NopQueryFilter); !ok {
		t.Error("DefaultOptions().QueryFilter should be *NopQueryFilter")
	}
}

func TestNormalize_FillsNilFields(t *testing.T) {
	opts := ServiceOptions{}.Normalize()

	if _, ok := opts.AuditLogger.(*NopAuditLogger); !ok {
		t.Error("Normalize should fill nil AuditLogger with *NopAuditLogger")
	}
	if _, ok := opts.QueryFilter.(*NopQueryFilter); !ok {
		t.Error("Normalize should fill nil QueryFilter with *NopQueryFilter")
	}
}

func TestNormalize_KeepsProvidedFields(t *testing.T) {
	audit := &memoryAuditLogger{}
	filter := &passthroughFilter{}

	opts := ServiceOptions{AuditLogger: audit, QueryFilter: filter}.Normalize()

	if opts.AuditLogger != audit {
		t.Error("Normalize should keep a provided AuditLogger")
	}
	if opts.QueryFilter != filter {
		t.Error("Normalize should keep a provided QueryFilter")
	}
}

func TestNormalize_DoesNotMutateReceiver(t *testing.T) {
	var original ServiceOptions
	_ = original.Normalize()

	if original.AuditLogger != nil || original.QueryFilter != nil {
		t.Error("Normalize must work on a copy, not the receiver")
	}
}

func TestNopAuditLogger(t *testing.T) {
	logger := &NopAuditLogger{}
	ctx := context.Background()

	err := logger.Log(ctx, AuditEvent{
		EventType: EventContextLocate,
		UserID:    "local-user",
		Action:    "locate",
		Outcome:   OutcomeSuccess,
	})
	if err != nil {
		t.Errorf("Log should never fail, got: %v", err)
	}

	// Nothing is retained, even right after a Log.
	events, err := logger.Query(ctx, AuditFilter{
		EventTypes: []string{EventContextLocate},
		StartTime:  time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Errorf("Query should never fail, got: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Query should return an empty slice, got %d events", len(events))
	}

	if err := logger.Flush(ctx); err != nil {
		t.Errorf("Flush should never fail, got: %v", err)
	}
}

func TestNopQueryFilter_FilterQuery(t *testing.T) {
	filter := &NopQueryFilter{}
	query := "why did Q3 revenue drop?"

	result, err := filter.FilterQuery(context.Background(), query)
	if err != nil {
		t.Fatalf("FilterQuery should never fail, got: %v", err)
	}

	if result.Filtered != query || result.Original != query {
		t.Errorf("got Original=%q Filtered=%q, want both %q", result.Original, result.Filtered, query)
	}
	if result.WasModified || result.WasBlocked {
		t.Error("the nop filter must neither modify nor block")
	}
	if len(result.Detections) != 0 {
		t.Errorf("the nop filter should report no detections, got %d", len(result.Detections))
	}
}

func TestNopQueryFilter_FilterContext(t *testing.T) {
	filter := &NopQueryFilter{}
	summary := "Sheet Revenue: 120 rows, totals in column D"

	result, err := filter.FilterContext(context.Background(), summary)
	if err != nil {
		t.Fatalf("FilterContext should never fail, got: %v", err)
	}
	if result.Filtered != summary {
		t.Errorf("Filtered = %q, want unchanged %q", result.Filtered, summary)
	}
	if result.WasModified || result.WasBlocked {
		t.Error("the nop filter must pass summaries through untouched")
	}
}

// memoryAuditLogger retains events for assertions.
type memoryAuditLogger struct {
	events []AuditEvent
}

func (m *memoryAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memoryAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return m.events, nil
}

func (m *memoryAuditLogger) Flush(ctx context.Context) error {
	return nil
}

type passthroughFilter struct{}

func (p *passthroughFilter) FilterQuery(ctx context.Context, query string) (*FilterResult, error) {
	return &FilterResult{Original: query, Filtered: query}, nil
}

func (p *passthroughFilter) FilterContext(ctx context.Context, contextMsg string) (*FilterResult, error) {
	return &FilterResult{Original: contextMsg, Filtered: contextMsg}, nil
}

var (
	_ AuditLogger = (*memoryAuditLogger)(nil)
	_ QueryFilter = (*passthroughFilter)(nil)
)
