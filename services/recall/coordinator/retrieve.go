// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRecall/services/recall/kvcache"
	"github.com/AleutianAI/AleutianRecall/services/recall/memtypes"
)

// RetrieveRequest fans out to the requested tiers. An empty Tiers slice
// means all three.
type RetrieveRequest struct {
	ProjectID string
	Query     string
	TopK      int
	Tiers     []memtypes.Tier
}

// Retrieve answers "what do we already know that is relevant to this
// query?".
//
// Description:
//
//	Serves an unexpired cached result for (project_id, query) unchanged,
//	marked as a cache hit. Otherwise: embeds the query lazily (only when
//	the mid tier is requested), fans out to each requested tier with
//	bounded concurrency and a per-tier timeout, deduplicates candidates
//	by normalized content hash under short > mid > long precedence,
//	ranks by relevance descending, truncates to top_k, estimates token
//	savings, caches the result, and bumps the per-project-per-day
//	token counter.
//
// Outputs:
//
//	*memtypes.RetrievalResult - Possibly empty, never nil on success. A
//	                            backend outage degrades the affected
//	                            tier to an empty contribution.
//	error - ValidationError on malformed input only.
func (c *Coordinator) Retrieve(ctx context.Context, req RetrieveRequest) (*memtypes.RetrievalResult, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Retrieve",
		trace.WithAttributes(
			attribute.String("recall.project_id", req.ProjectID),
			attribute.Int("recall.top_k", req.TopK),
		))
	defer span.End()

	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, memtypes.NewValidationError("project_id", "must not be empty")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, memtypes.NewValidationError("query", "must not be empty")
	}
	for _, tier := range req.Tiers {
		if !tier.Valid() {
			return nil, memtypes.NewValidationError("tiers", "unknown tier")
		}
	}

	tiers := req.Tiers
	if len(tiers) == 0 {
		tiers = memtypes.TierPrecedence
	}
	topK := req.TopK
	if topK <= 0 {
		topK = c.config.DefaultTopK
	}

	started := time.Now()

	cacheKey := resultCacheKey(req.ProjectID, req.Query)
	if cached := c.cachedResult(ctx, cacheKey); cached != nil {
		span.SetAttributes(attribute.Bool("recall.cache_hit", true))
		c.recordRetrieval(ctx, started, "hit", 0)
		return cached, nil
	}

	// The query embedding costs a model call; skip it unless the mid
	// tier actually needs it. Provider failure degrades the mid tier to
	// an empty contribution (fail-open read).
	var queryEmbedding []float32
	if containsTier(tiers, memtypes.TierMid) {
		embedding, err := c.provider.Encode(ctx, req.Query)
		if err != nil {
			c.logger.Warn("query embedding unavailable, mid tier degraded",
				slog.String("project_id", req.ProjectID),
				slog.String("error", err.Error()))
		} else {
			queryEmbedding = embedding
		}
	}

	candidates := c.fanOut(ctx, tiers, memtypes.RetrievalQuery{
		ProjectID: req.ProjectID,
		QueryText: req.Query,
		Embedding: queryEmbedding,
		TopK:      topK,
	})

	merged := dedupeByContent(candidates)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Relevance > merged[j].Relevance
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}

	result := &memtypes.RetrievalResult{
		Memories:        merged,
		TotalTokenSaved: estimateTokenSavings(merged),
		CachedAt:        time.Now().UTC(),
	}
	c.cacheResult(ctx, cacheKey, result)
	c.bumpTokenCounter(ctx, req.ProjectID, result.TotalTokenSaved)
	c.recordRetrieval(ctx, started, "miss", result.TotalTokenSaved)

	span.SetAttributes(
		attribute.Int("recall.result_count", len(merged)),
		attribute.Int("recall.token_saved", result.TotalTokenSaved),
	)
	return result, nil
}

// fanOut queries each requested tier concurrently, one worker per tier,
// each under its own timeout. Results come back grouped in tier
// precedence order so dedup sees short before mid before long.
func (c *Coordinator) fanOut(ctx context.Context, tiers []memtypes.Tier, query memtypes.RetrievalQuery) [][]memtypes.ScoredRecord {
	ordered := make([]memtypes.Tier, 0, len(tiers))
	for _, tier := range memtypes.TierPrecedence {
		if containsTier(tiers, tier) {
			ordered = append(ordered, tier)
		}
	}

	perTier := make([][]memtypes.ScoredRecord, len(ordered))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(ordered))

	for i, tier := range ordered {
		store, ok := c.stores[tier]
		if !ok {
			c.logger.Warn("tier has no backend, contributing empty result",
				slog.String("tier", tier.String()))
			continue
		}

		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, c.config.TierTimeout)
			defer cancel()

			records, err := store.Retrieve(tctx, query)
			if err != nil {
				// Fail-open read: a failed or timed-out tier contributes
				// nothing rather than aborting the retrieval.
				c.logger.Warn("tier retrieval failed, contributing empty result",
					slog.String("tier", tier.String()),
					slog.String("project_id", query.ProjectID),
					slog.String("error", err.Error()))
				if c.metrics != nil {
					c.metrics.TierDegradationsTotal.Add(gctx, 1, metric.WithAttributes(
						attribute.String("tier", tier.String())))
				}
				return nil
			}
			perTier[i] = records
			return nil
		})
	}

	// Workers never return errors; Wait only synchronizes.
	_ = g.Wait()
	return perTier
}

// dedupeByContent flattens per-tier results keeping, for identical
// normalized content, the first record encountered in tier precedence
// order (short, then mid, then long).
func dedupeByContent(perTier [][]memtypes.ScoredRecord) []memtypes.MemoryRecord {
	seen := make(map[[32]byte]struct{})
	merged := make([]memtypes.MemoryRecord, 0)

	for _, records := range perTier {
		for _, sr := range records {
			key := sha256.Sum256([]byte(strings.Join(strings.Fields(sr.Record.Content), " ")))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, sr.Record)
		}
	}
	return merged
}

// estimateTokenSavings reports the tokens a caller avoids re-deriving.
//
// Description:
//
//	original_tokens ~ sum(len(content))/4 over the returned set, with an
//	assumed 80% compression factor applied purely for reporting:
//	token_saved = original - original/5.
func estimateTokenSavings(records []memtypes.MemoryRecord) int {
	original := 0
	for _, rec := range records {
		original += len(rec.Content) / 4
	}
	compressed := original / 5
	return original - compressed
}

// -----------------------------------------------------------------------------
// Result Cache & Counters
// -----------------------------------------------------------------------------

// resultCacheKey derives the cache key for (project_id, query). The
// query is hashed so arbitrary caller text cannot bloat or collide key
// space.
func resultCacheKey(projectID, query string) string {
	sum := sha256.Sum256([]byte(query))
	return "res/" + projectID + "/" + hex.EncodeToString(sum[:16])
}

// cachedResult loads an unexpired cached retrieval, nil on miss. Cache
// failures count as misses.
func (c *Coordinator) cachedResult(ctx context.Context, key string) *memtypes.RetrievalResult {
	data, err := c.cache.Get(ctx, key)
	if errors.Is(err, kvcache.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		c.logger.Warn("result cache read failed, treating as miss",
			slog.String("error", err.Error()))
		return nil
	}

	var result memtypes.RetrievalResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("undecodable cached result, treating as miss",
			slog.String("error", err.Error()))
		return nil
	}
	result.CacheHit = true
	return &result
}

// cacheResult stores a retrieval under the configured TTL. Cache
// failures are logged, not surfaced; the caller already has the result.
func (c *Coordinator) cacheResult(ctx context.Context, key string, result *memtypes.RetrievalResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("failed to encode result for cache",
			slog.String("error", err.Error()))
		return
	}
	if err := c.cache.SetWithExpiry(ctx, key, data, c.config.ResultCacheTTL); err != nil {
		c.logger.Warn("result cache write failed",
			slog.String("error", err.Error()))
	}
}

// tokenCounterKey is the per-project-per-day cumulative counter key.
func tokenCounterKey(projectID string, day time.Time) string {
	return "tsd/" + projectID + "/" + day.UTC().Format("2006-01-02")
}

// bumpTokenCounter adds to today's cumulative token-saved counter.
func (c *Coordinator) bumpTokenCounter(ctx context.Context, projectID string, saved int) {
	if saved <= 0 {
		return
	}
	key := tokenCounterKey(projectID, time.Now())
	if _, err := c.cache.IncrCounter(ctx, key, int64(saved), counterTTL); err != nil {
		c.logger.Warn("token counter increment failed",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()))
	}
}

// TokenSavedToday reports the project's cumulative token savings for
// the current UTC day.
func (c *Coordinator) TokenSavedToday(ctx context.Context, projectID string) (int64, error) {
	if strings.TrimSpace(projectID) == "" {
		return 0, memtypes.NewValidationError("project_id", "must not be empty")
	}
	total, err := c.cache.GetCounter(ctx, tokenCounterKey(projectID, time.Now()))
	if err != nil {
		return 0, fmt.Errorf("read token counter: %w", err)
	}
	return total, nil
}

// recordRetrieval emits retrieval counters and timing when metrics are
// wired.
func (c *Coordinator) recordRetrieval(ctx context.Context, started time.Time, cacheOutcome string, tokensSaved int) {
	if c.metrics == nil {
		return
	}
	c.metrics.MemoryRetrievalsTotal.Add(ctx, 1)
	c.metrics.MemoryRetrievalDuration.Record(ctx, time.Since(started).Seconds())
	c.metrics.RetrievalCacheHitsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", cacheOutcome)))
	if tokensSaved > 0 {
		c.metrics.TokensSavedTotal.Add(ctx, int64(tokensSaved))
	}
}

// containsTier reports membership of tier in tiers.
func containsTier(tiers []memtypes.Tier, tier memtypes.Tier) bool {
	for _, t := range tiers {
		if t == tier {
			return true
		}
	}
	return false
}
