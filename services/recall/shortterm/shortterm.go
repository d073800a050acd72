// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package shortterm implements the short-term memory tier: a ranked,
// capped, TTL-bound collection per project, backed by the embedded
// key-value cache.
//
// Every insert is one atomic batch that also resets the TTL on the
// whole per-project collection and trims it to the capacity cap. A
// continuously written project therefore never expires via TTL alone;
// only rank-based eviction shrinks it. This sliding-window behavior is
// intentional (see DESIGN.md).
package shortterm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianRecall/services/recall/kvcache"
	"github.com/AleutianAI/AleutianRecall/services/recall/memtypes"
)

// DefaultCapacity is the per-project residency cap. Insertion beyond it
// evicts the lowest-scoring members.
const DefaultCapacity = 100

// DefaultBucketTTL is the sliding expiry applied to a project's whole
// collection on every insert.
const DefaultBucketTTL = time.Hour

// Config configures the short-term store.
type Config struct {
	// Capacity caps per-project residency. Default: 100.
	Capacity int

	// BucketTTL is reset on the whole per-project collection on every
	// insert. Default: 1 hour.
	BucketTTL time.Duration

	// Logger for store operations. Default: slog.Default().
	Logger *slog.Logger
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.BucketTTL == 0 {
		c.BucketTTL = DefaultBucketTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store is the short-term tier backend.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	cache  *kvcache.Cache
	config Config
	logger *slog.Logger
}

// New creates a short-term store over the given cache.
//
// Inputs:
//
//	cache - Embedded key-value cache. Must not be nil.
//	config - Store configuration; zero values take defaults.
//
// Outputs:
//
//	*Store - The configured store.
//	error - Non-nil if cache is nil.
func New(cache *kvcache.Cache, config Config) (*Store, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache must not be nil")
	}
	config.applyDefaults()
	return &Store{
		cache:  cache,
		config: config,
		logger: config.Logger.With(slog.String("component", "shortterm_store")),
	}, nil
}

// Tier identifies this backend as the short tier.
func (s *Store) Tier() memtypes.Tier {
	return memtypes.TierShort
}

// bucketKey returns the cache key of a project's ranked collection.
func bucketKey(projectID string) string {
	return "stm/" + projectID
}

// Store inserts a record into the project's ranked collection.
//
// Description:
//
//	As one atomic batch: inserts the record keyed by its relevance
//	score, resets the TTL on the entire per-project collection, and
//	trims the collection to the capacity cap by descending score.
//
// Outputs:
//
//	error - Non-nil on any backend error (fail-closed write).
func (s *Store) Store(ctx context.Context, rec memtypes.MemoryRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode short-term record: %w", err)
	}

	err = s.cache.AddScored(ctx, bucketKey(rec.ProjectID), payload, rec.Relevance, s.config.BucketTTL, s.config.Capacity)
	if err != nil {
		return fmt.Errorf("%w: short-term insert: %v", memtypes.ErrBackendUnavailable, err)
	}

	s.logger.Debug("stored short-term memory",
		slog.String("project_id", rec.ProjectID),
		slog.String("memory_id", rec.MemoryID),
		slog.Float64("score", rec.Relevance))
	return nil
}

// Retrieve returns up to TopK records ordered by descending score.
func (s *Store) Retrieve(ctx context.Context, q memtypes.RetrievalQuery) ([]memtypes.ScoredRecord, error) {
	members, err := s.cache.RangeByScoreDesc(ctx, bucketKey(q.ProjectID), q.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: short-term retrieve: %v", memtypes.ErrBackendUnavailable, err)
	}

	results := make([]memtypes.ScoredRecord, 0, len(members))
	for _, m := range members {
		var rec memtypes.MemoryRecord
		if err := json.Unmarshal(m.Payload, &rec); err != nil {
			s.logger.Warn("skipping undecodable short-term member",
				slog.String("project_id", q.ProjectID),
				slog.String("error", err.Error()))
			continue
		}
		rec.Relevance = m.Score
		results = append(results, memtypes.ScoredRecord{Record: rec, Score: m.Score})
	}
	return results, nil
}

// Delete removes a record by ID from the project's collection.
//
// Description:
//
//	Members are opaque serialized blobs, not individually addressable,
//	so deletion scans the whole collection (O(collection size)).
//
// Outputs:
//
//	error - memtypes.ErrMemoryNotFound when no member matches;
//	        otherwise non-nil only on backend failure.
func (s *Store) Delete(ctx context.Context, projectID, memoryID string) error {
	removed, err := s.cache.RemoveMember(ctx, bucketKey(projectID), func(payload []byte) bool {
		var probe struct {
			MemoryID string `json:"memory_id"`
		}
		if err := json.Unmarshal(payload, &probe); err != nil {
			return false
		}
		return probe.MemoryID == memoryID
	})
	if err != nil {
		return fmt.Errorf("%w: short-term delete: %v", memtypes.ErrBackendUnavailable, err)
	}
	if !removed {
		return memtypes.ErrMemoryNotFound
	}

	s.logger.Debug("deleted short-term memory",
		slog.String("project_id", projectID),
		slog.String("memory_id", memoryID))
	return nil
}

var _ memtypes.TierStore = (*Store)(nil)
