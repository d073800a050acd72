// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package midterm implements the mid-term memory tier over a Weaviate
// ANN index.
//
// Failure policy: search degrades gracefully to an empty result set
// when the index is unreachable (fail-open reads), while insert and
// delete surface backend failures explicitly (fail-closed writes),
// because silent write loss is unacceptable.
package midterm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianRecall/services/recall/memtypes"
)

// ErrVectorIndexUnavailable is returned by writes when Weaviate is not
// reachable. It wraps the tier-generic backend sentinel so callers can
// match either.
var ErrVectorIndexUnavailable = fmt.Errorf("%w: vector index is not available", memtypes.ErrBackendUnavailable)

// Config configures the mid-term store.
type Config struct {
	// Logger for store operations. Default: slog.Default().
	Logger *slog.Logger
}

// Store is the mid-term tier backend.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	client *weaviate.Client
	logger *slog.Logger
}

// New creates a mid-term store over the given Weaviate client.
//
// Inputs:
//
//	client - Weaviate client. Must not be nil.
//	config - Store configuration.
//
// Outputs:
//
//	*Store - The configured store.
//	error - Non-nil if client is nil.
func New(client *weaviate.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		logger: logger.With(slog.String("component", "midterm_store")),
	}, nil
}

// Tier identifies this backend as the mid tier.
func (s *Store) Tier() memtypes.Tier {
	return memtypes.TierMid
}

// Ping checks whether the ANN backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVectorIndexUnavailable, err)
	}
	if !ready {
		return ErrVectorIndexUnavailable
	}
	return nil
}

// Store appends one vector+scalar record to the ANN index.
//
// Description:
//
//	The projectId is stored as a filterable scalar field, not a
//	separate physical partition. There is no in-place update for
//	mid-tier records; an update is a delete followed by a reinsert.
//
// Outputs:
//
//	error - Non-nil on any backend error (fail-closed write).
func (s *Store) Store(ctx context.Context, rec memtypes.MemoryRecord) error {
	if len(rec.Embedding) == 0 {
		return memtypes.NewValidationError("embedding", "mid-tier records require an embedding vector")
	}

	metadata := "{}"
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(data)
	}

	properties := map[string]interface{}{
		"memoryId":  rec.MemoryID,
		"projectId": rec.ProjectID,
		"content":   rec.Content,
		"metadata":  metadata,
		"createdAt": rec.CreatedAt.UTC().Format(time.RFC3339),
	}

	_, err := s.client.Data().Creator().
		WithClassName(ProjectMemoryClassName).
		WithProperties(properties).
		WithVector(rec.Embedding).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: insert: %v", ErrVectorIndexUnavailable, err)
	}

	s.logger.Debug("stored mid-term memory",
		slog.String("project_id", rec.ProjectID),
		slog.String("memory_id", rec.MemoryID))
	return nil
}

// Retrieve performs an ANN search constrained to the query's project.
//
// Description:
//
//	Searches by the query embedding with a projectId equality filter.
//	Similarity is reported as a cosine score derived from Weaviate's
//	certainty (cosine = 2*certainty - 1).
//
//	Fail-open: if the ANN backend is unreachable, the error is logged
//	as a warning and an empty result set is returned rather than
//	raised, so overall retrieval degrades gracefully.
func (s *Store) Retrieve(ctx context.Context, q memtypes.RetrievalQuery) ([]memtypes.ScoredRecord, error) {
	if len(q.Embedding) == 0 {
		return []memtypes.ScoredRecord{}, nil
	}

	whereFilter := filters.Where().
		WithPath([]string{"projectId"}).
		WithOperator(filters.Equal).
		WithValueText(q.ProjectID)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(q.Embedding)

	// Certainty is requested instead of distance: it is always [0,1]
	// regardless of the index's distance metric.
	fields := []graphql.Field{
		{Name: "memoryId"},
		{Name: "projectId"},
		{Name: "content"},
		{Name: "metadata"},
		{Name: "createdAt"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
			{Name: "vector"},
		}},
	}

	limit := q.TopK
	if limit <= 0 {
		limit = 10
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(ProjectMemoryClassName).
		WithFields(fields...).
		WithWhere(whereFilter).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		s.logger.Warn("ANN search unavailable, degrading to empty result",
			slog.String("project_id", q.ProjectID),
			slog.String("error", err.Error()))
		return []memtypes.ScoredRecord{}, nil
	}
	if len(result.Errors) > 0 {
		s.logger.Warn("ANN search returned errors, degrading to empty result",
			slog.String("project_id", q.ProjectID),
			slog.String("error", result.Errors[0].Message))
		return []memtypes.ScoredRecord{}, nil
	}

	return s.parseResults(result), nil
}

// Delete removes records via a delete-by-filter expression.
//
// Description:
//
//	Uses Weaviate's batch ObjectsBatchDeleter with a memoryId (and,
//	when given, projectId) equality filter. There is no partial or
//	streaming delete.
//
// Outputs:
//
//	error - memtypes.ErrMemoryNotFound when nothing matched; otherwise
//	        non-nil on backend failure (fail-closed write).
func (s *Store) Delete(ctx context.Context, projectID, memoryID string) error {
	idFilter := filters.Where().
		WithPath([]string{"memoryId"}).
		WithOperator(filters.Equal).
		WithValueText(memoryID)

	where := idFilter
	if projectID != "" {
		where = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				idFilter,
				filters.Where().
					WithPath([]string{"projectId"}).
					WithOperator(filters.Equal).
					WithValueText(projectID),
			})
	}

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(ProjectMemoryClassName).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrVectorIndexUnavailable, err)
	}

	if resp == nil || resp.Results == nil || resp.Results.Matches == 0 {
		return memtypes.ErrMemoryNotFound
	}

	s.logger.Debug("deleted mid-term memory",
		slog.String("project_id", projectID),
		slog.String("memory_id", memoryID),
		slog.Int64("matches", resp.Results.Matches))
	return nil
}

// parseResults converts a GraphQL response into scored records.
func (s *Store) parseResults(result *models.GraphQLResponse) []memtypes.ScoredRecord {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []memtypes.ScoredRecord{}
	}

	objects, ok := data[ProjectMemoryClassName].([]interface{})
	if !ok {
		return []memtypes.ScoredRecord{}
	}

	results := make([]memtypes.ScoredRecord, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue // skip malformed objects
		}

		rec := memtypes.MemoryRecord{
			MemoryID:  getString(m, "memoryId"),
			ProjectID: getString(m, "projectId"),
			Content:   getString(m, "content"),
			Tier:      memtypes.TierMid,
		}

		if metaStr := getString(m, "metadata"); metaStr != "" && metaStr != "{}" {
			meta := map[string]string{}
			if err := json.Unmarshal([]byte(metaStr), &meta); err == nil {
				rec.Metadata = meta
			}
		}

		if createdStr := getString(m, "createdAt"); createdStr != "" {
			if t, err := time.Parse(time.RFC3339, createdStr); err == nil {
				rec.CreatedAt = t
				rec.UpdatedAt = t
			}
		}

		similarity := 0.0
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				// certainty = (1 + cosine) / 2
				similarity = 2*certainty - 1
			}
			if rawVec, ok := additional["vector"].([]interface{}); ok {
				vec := make([]float32, 0, len(rawVec))
				for _, v := range rawVec {
					if f, ok := v.(float64); ok {
						vec = append(vec, float32(f))
					}
				}
				rec.Embedding = vec
			}
		}
		rec.Relevance = similarity

		results = append(results, memtypes.ScoredRecord{Record: rec, Score: similarity})
	}
	return results
}

// getString extracts a string field from a GraphQL object map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

var _ memtypes.TierStore = (*Store)(nil)
