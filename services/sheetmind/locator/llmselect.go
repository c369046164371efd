// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package locator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/KodiakSheets/services/gateway/datatypes"
	"github.com/AleutianAI/KodiakSheets/services/llm"
)

const (
	selectorMaxAttempts = 2
	selectorRetryDelay  = 250 * time.Millisecond
	selectorMaxTokens   = 256
)

const sheetSelectionPromptTemplate = `You are routing a spreadsheet question to the sheets needed to answer it.

Question: {{.Query}}
{{- if .History}}

Recent conversation:
{{- range .History}}
{{.Role}}: {{.Content}}
{{- end}}
{{- end}}

Workbook sheets:
{{- range .Sheets}}
- {{.SheetName}}{{if .Summary}}: {{.Summary}}{{end}}
{{- end}}

Respond with ONLY a JSON array of sheet names taken from the list above,
most relevant first. Respond with [] if no sheet is relevant.
Do not explain your answer.`

// LLMSheetSelector asks an LLM which sheets a query needs. Names the
// model invents are dropped, so the caller only ever sees sheets that
// exist in the workbook.
type LLMSheetSelector struct {
	client   llm.LLMClient
	tmpl     *template.Template
	logger   *slog.Logger
	inflight singleflight.Group
}

var _ SheetSelector = (*LLMSheetSelector)(nil)

type sheetSelectionPromptData struct {
	Query   string
	Sheets  []SheetListing
	History []datatypes.Message
}

// NewLLMSheetSelector builds a selector on the given backend.
func NewLLMSheetSelector(client llm.LLMClient, logger *slog.Logger) (*LLMSheetSelector, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	tmpl, err := template.New("sheet_selection").Parse(sheetSelectionPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing sheet selection template: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMSheetSelector{
		client: client,
		tmpl:   tmpl,
		logger: logger.With(slog.String("component", "sheet_selector")),
	}, nil
}

// SelectRelevantSheets asks the model which sheets the query needs.
//
// Description:
//
//	Renders the selection prompt, calls the backend at temperature
//	zero, and parses the returned JSON array. Identical in-flight
//	requests are deduplicated. Sheet names the model hallucinated are
//	filtered out against the listing.
//
// Inputs:
//
//	ctx - Context for cancellation; the caller bounds the deadline.
//	query - The user's question.
//	sheets - The sheets the model may choose from.
//	history - Recent conversation turns, may be nil.
//
// Outputs:
//
//	[]string - Canonical sheet names, most relevant first. Empty when
//	           the model chose none.
//	error - Backend or parse failure.
//
// Thread Safety: Safe for concurrent use.
func (s *LLMSheetSelector) SelectRelevantSheets(ctx context.Context, query string, sheets []SheetListing, history []datatypes.Message) ([]string, error) {
	if len(sheets) == 0 {
		return nil, nil
	}

	var prompt strings.Builder
	data := sheetSelectionPromptData{Query: query, Sheets: sheets, History: history}
	if err := s.tmpl.Execute(&prompt, data); err != nil {
		return nil, fmt.Errorf("rendering sheet selection prompt: %w", err)
	}

	key := selectionKey(query, sheets, history)
	v, err, _ := s.inflight.Do(key, func() (interface{}, error) {
		return s.selectOnce(ctx, prompt.String(), sheets)
	})
	if err != nil {
		return nil, err
	}
	names, _ := v.([]string)
	return names, nil
}

func (s *LLMSheetSelector) selectOnce(ctx context.Context, prompt string, sheets []SheetListing) ([]string, error) {
	ctx, span := tracer.Start(ctx, "LLMSheetSelector.selectOnce")
	defer span.End()

	temperature := float32(0)
	maxTokens := selectorMaxTokens
	params := llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}

	var raw string
	var err error
	for attempt := 1; attempt <= selectorMaxAttempts; attempt++ {
		raw, err = s.client.Generate(ctx, prompt, params)
		if err == nil {
			break
		}
		if attempt == selectorMaxAttempts {
			span.RecordError(err)
			return nil, fmt.Errorf("sheet selection call failed: %w", err)
		}
		delay := selectorRetryDelay * time.Duration(1<<(attempt-1))
		s.logger.Debug("Sheet selection attempt failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	names, err := s.parseSelection(raw, sheets)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("sheets_selected", len(names)))
	return names, nil
}

// parseSelection extracts the JSON array from the model output and maps
// each entry back to a canonical sheet name.
func (s *LLMSheetSelector) parseSelection(raw string, sheets []SheetListing) ([]string, error) {
	arrayText, ok := extractJSONArray(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON array in model output: %q", truncateForLog(raw))
	}
	var parsed []string
	if err := json.Unmarshal([]byte(arrayText), &parsed); err != nil {
		return nil, fmt.Errorf("parsing sheet selection %q: %w", truncateForLog(arrayText), err)
	}

	canonical := make(map[string]string, len(sheets))
	for _, sheet := range sheets {
		canonical[strings.ToLower(sheet.SheetName)] = sheet.SheetName
	}

	names := make([]string, 0, len(parsed))
	seen := make(map[string]struct{}, len(parsed))
	for _, name := range parsed {
		name = strings.TrimSpace(name)
		mapped, ok := canonical[strings.ToLower(name)]
		if !ok {
			s.logger.Warn("LLM selected a sheet not in the workbook, dropping", "sheet", name)
			continue
		}
		if _, dup := seen[mapped]; dup {
			continue
		}
		seen[mapped] = struct{}{}
		names = append(names, mapped)
	}
	return names, nil
}

// extractJSONArray returns the first balanced top-level JSON array in
// raw. Models often wrap the answer in prose or markdown fences; the
// scan is string-aware so brackets inside sheet names do not confuse it.
func extractJSONArray(raw string) (string, bool) {
	start := strings.Index(raw, "[")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '[':
			if !inString {
				depth++
			}
		case ']':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// selectionKey dedupes identical in-flight selections. Keyed on the
// query, the sheet names, and the history contents.
func selectionKey(query string, sheets []SheetListing, history []datatypes.Message) string {
	var b strings.Builder
	b.WriteString(query)
	for _, sheet := range sheets {
		b.WriteByte(0)
		b.WriteString(sheet.SheetName)
	}
	for _, msg := range history {
		b.WriteByte(0)
		b.WriteString(msg.Role)
		b.WriteByte(':')
		b.WriteString(msg.Content)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
