// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/KodiakSheets/services/sheetmind/compress"
)

// summarySeparators favor sentence and clause boundaries, which is how
// the compressor writes summary text.
var summarySeparators = []string{"\n", ". ", "; ", " ", ""}

// SummaryIndex stores and searches sheet summaries in Weaviate.
//
// Thread Safety: Safe for concurrent use. The underlying Weaviate client
// is concurrency-safe and the index holds no mutable state.
type SummaryIndex struct {
	client   *weaviate.Client
	splitter textsplitter.TextSplitter
	workbook string
	logger   *slog.Logger
}

// NewSummaryIndex creates a summary index against the configured Weaviate
// instance.
//
// Description:
//
//	Builds the Weaviate client and the recursive-character splitter used
//	for long summaries. Does not contact Weaviate; call EnsureSchema
//	before the first write.
//
// Inputs:
//
//	config - Index configuration. URL and Workbook are required.
//
// Outputs:
//
//	*SummaryIndex - The configured index.
//	error - Non-nil if the configuration is invalid.
func NewSummaryIndex(config Config) (*SummaryIndex, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg := weaviate.Config{
		Host:   config.URL,
		Scheme: "http",
	}
	if strings.HasPrefix(config.URL, "https://") {
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(config.URL, "https://")
	} else if strings.HasPrefix(config.URL, "http://") {
		cfg.Host = strings.TrimPrefix(config.URL, "http://")
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &SummaryIndex{
		client: client,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
			textsplitter.WithSeparators(summarySeparators),
		),
		workbook: config.Workbook,
		logger:   config.Logger.With(slog.String("component", "summary_index")),
	}, nil
}

// GetSheetSummarySchema returns the Weaviate schema for the SheetSummary
// class. Sheet names and summary text are vectorized; identifiers are
// filterable only.
func GetSheetSummarySchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	indexSearchable := new(bool)
	*indexSearchable = true

	return &models.Class{
		Class:       SheetSummaryClassName,
		Description: "Compressed sheet summaries for semantic context retrieval",
		Vectorizer:  "text2vec-transformers",
		ModuleConfig: map[string]interface{}{
			"text2vec-transformers": map[string]interface{}{
				"vectorizeClassName": false,
			},
		},
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "chunkId",
				DataType:        []string{"text"},
				Description:     "Metadata chunk identifier (Sheet:<name>)",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig: map[string]interface{}{
					"text2vec-transformers": map[string]interface{}{
						"skip": true,
					},
				},
			},
			{
				Name:            "sheetName",
				DataType:        []string{"text"},
				Description:     "Display name of the sheet",
				IndexSearchable: indexSearchable,
				Tokenization:    "word",
				// Vectorized so queries can match on sheet naming
			},
			{
				Name:            "summary",
				DataType:        []string{"text"},
				Description:     "Compressed summary text for this sheet",
				IndexSearchable: indexSearchable,
				Tokenization:    "word",
				// Vectorized for semantic search
			},
			{
				Name:        "part",
				DataType:    []string{"int"},
				Description: "Part index for split summaries, starting at 0",
				ModuleConfig: map[string]interface{}{
					"text2vec-transformers": map[string]interface{}{
						"skip": true,
					},
				},
			},
			{
				Name:            "workbook",
				DataType:        []string{"text"},
				Description:     "Workbook isolation key",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig: map[string]interface{}{
					"text2vec-transformers": map[string]interface{}{
						"skip": true,
					},
				},
			},
		},
	}
}

// EnsureSchema creates the SheetSummary class if it doesn't exist.
// This operation is idempotent.
func (x *SummaryIndex) EnsureSchema(ctx context.Context) error {
	_, err := x.client.Schema().ClassGetter().WithClassName(SheetSummaryClassName).Do(ctx)
	if err == nil {
		x.logger.Debug("SheetSummary schema already exists")
		return nil
	}

	x.logger.Info("Creating SheetSummary schema")
	if err := x.client.Schema().ClassCreator().WithClass(GetSheetSummarySchema()).Do(ctx); err != nil {
		return fmt.Errorf("creating SheetSummary schema: %w", err)
	}
	return nil
}

// buildDocs splits chunk summaries into indexable parts with
// deterministic IDs, so re-indexing the same content overwrites in place
// instead of accumulating duplicates.
func (x *SummaryIndex) buildDocs(chunks []*compress.MetadataChunk) ([]summaryDoc, error) {
	var docs []summaryDoc
	for _, chunk := range chunks {
		if chunk == nil || chunk.ID == "" || chunk.Summary == "" {
			continue
		}
		parts, err := x.splitter.SplitText(chunk.Summary)
		if err != nil {
			return nil, fmt.Errorf("split summary for %s: %w", chunk.ID, err)
		}
		for part, text := range parts {
			docs = append(docs, summaryDoc{
				DocID:     deterministicDocID(x.workbook, chunk.ID, part),
				ChunkID:   chunk.ID,
				SheetName: chunk.SheetName,
				Summary:   text,
				Part:      part,
				Workbook:  x.workbook,
			})
		}
	}
	return docs, nil
}

// deterministicDocID derives a stable Weaviate UUID from the workbook,
// chunk ID, and part index.
func deterministicDocID(workbook, chunkID string, part int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s#%d", workbook, chunkID, part)))
	docUUID, _ := uuid.FromBytes(hash[:16])
	return docUUID.String()
}

// UpsertSummaries indexes the summaries of the given chunks.
//
// Description:
//
//	Removes any previously indexed parts for the affected chunks, splits
//	each summary, and batch imports the parts with deterministic IDs.
//	Chunks with empty summaries are skipped.
//
// Inputs:
//
//	ctx - Context for cancellation
//	chunks - Chunks whose summaries should be (re)indexed
//
// Outputs:
//
//	int - Number of summary parts successfully indexed
//	error - Non-nil if splitting or the batch import fails
func (x *SummaryIndex) UpsertSummaries(ctx context.Context, chunks []*compress.MetadataChunk) (int, error) {
	docs, err := x.buildDocs(chunks)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	chunkIDs := make([]string, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for _, doc := range docs {
		if _, ok := seen[doc.ChunkID]; ok {
			continue
		}
		seen[doc.ChunkID] = struct{}{}
		chunkIDs = append(chunkIDs, doc.ChunkID)
	}
	// Clear stale parts first: a summary that shrank would otherwise
	// leave orphaned high-numbered parts behind.
	if err := x.RemoveChunks(ctx, chunkIDs); err != nil {
		x.logger.Warn("Failed to clear stale summary parts before upsert", "error", err)
	}

	objects := make([]*models.Object, len(docs))
	for i, doc := range docs {
		objects[i] = &models.Object{
			Class: SheetSummaryClassName,
			ID:    strfmt.UUID(doc.DocID),
			Properties: map[string]interface{}{
				"chunkId":   doc.ChunkID,
				"sheetName": doc.SheetName,
				"summary":   doc.Summary,
				"part":      doc.Part,
				"workbook":  doc.Workbook,
			},
		}
	}

	resp, err := x.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch import failed: %w", err)
	}

	indexed := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			indexed++
		} else if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				x.logger.Warn("Error in Weaviate batch item", "error", errItem.Message)
			}
		}
	}

	x.logger.Info("Indexed sheet summaries", "chunks", len(chunkIDs), "parts", indexed)
	return indexed, nil
}

// RemoveChunks deletes all indexed parts for the given chunk IDs.
func (x *SummaryIndex) RemoveChunks(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	operands := make([]*filters.WhereBuilder, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		operands = append(operands, filters.Where().
			WithPath([]string{"chunkId"}).
			WithOperator(filters.Equal).
			WithValueString(id))
	}
	whereFilter := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"workbook"}).
				WithOperator(filters.Equal).
				WithValueString(x.workbook),
			filters.Where().
				WithOperator(filters.Or).
				WithOperands(operands),
		})

	_, err := x.client.Batch().ObjectsBatchDeleter().
		WithClassName(SheetSummaryClassName).
		WithWhere(whereFilter).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("deleting summary parts: %w", err)
	}
	return nil
}

// RemoveAll deletes every indexed part for this workbook.
func (x *SummaryIndex) RemoveAll(ctx context.Context) error {
	whereFilter := filters.Where().
		WithPath([]string{"workbook"}).
		WithOperator(filters.Equal).
		WithValueString(x.workbook)

	_, err := x.client.Batch().ObjectsBatchDeleter().
		WithClassName(SheetSummaryClassName).
		WithWhere(whereFilter).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("deleting workbook summaries: %w", err)
	}

	x.logger.Info("Deleted indexed summaries", "workbook", x.workbook)
	return nil
}

// Search runs a semantic query over indexed summaries.
//
// Description:
//
//	Performs a nearText search scoped to this workbook and returns hits
//	ordered by certainty, deduplicated per chunk. For split summaries
//	only the best-scoring part is kept.
//
// Inputs:
//
//	ctx - Context for cancellation
//	query - Natural-language query. Must not be empty.
//	limit - Maximum parts to fetch before dedup. Values <= 0 default to 10.
//
// Outputs:
//
//	[]Hit - Matching summaries, best first. Empty when nothing matches.
//	error - Non-nil if the query fails.
func (x *SummaryIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 10
	}

	whereFilter := filters.Where().
		WithPath([]string{"workbook"}).
		WithOperator(filters.Equal).
		WithValueString(x.workbook)

	fields := []graphql.Field{
		{Name: "chunkId"},
		{Name: "sheetName"},
		{Name: "summary"},
		{Name: "_additional { certainty }"},
	}

	nearText := x.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	result, err := x.client.GraphQL().Get().
		WithClassName(SheetSummaryClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithWhere(whereFilter).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("summary search failed: %w", err)
	}
	if result.Errors != nil && len(result.Errors) > 0 {
		return nil, fmt.Errorf("summary search error: %s", result.Errors[0].Message)
	}

	return parseHits(result), nil
}

// parseHits converts a GraphQL response into deduplicated, ordered hits.
func parseHits(result *models.GraphQLResponse) []Hit {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []Hit{}
	}
	objects, ok := data[SheetSummaryClassName].([]interface{})
	if !ok {
		return []Hit{}
	}

	best := make(map[string]Hit, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue // skip malformed objects
		}
		hit := Hit{
			ChunkID:   getString(m, "chunkId"),
			SheetName: getString(m, "sheetName"),
			Summary:   getString(m, "summary"),
		}
		if hit.ChunkID == "" {
			continue
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			hit.Score = getFloat64(additional, "certainty")
		}
		if prev, ok := best[hit.ChunkID]; !ok || hit.Score > prev.Score {
			best[hit.ChunkID] = hit
		}
	}

	hits := make([]Hit, 0, len(best))
	for _, hit := range best {
		hits = append(hits, hit)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	return hits
}

// getString safely extracts a string from a map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// getFloat64 safely extracts a float64 from a map.
func getFloat64(m map[string]interface{}, key string) float64 {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int:
			return float64(n)
		}
	}
	return 0
}
