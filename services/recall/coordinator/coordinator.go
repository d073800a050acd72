// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinator orchestrates memory store/retrieve across the
// short, mid, and long tiers.
//
// Writes dispatch to exactly the named tier and fail closed. Reads fan
// out to the requested tiers with bounded concurrency and fail open:
// an unreachable tier contributes an empty result instead of aborting
// the retrieval. The coordinator also owns the retrieval result cache,
// content deduplication, ranking, and token-saving accounting.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRecall/services/recall/embeddings"
	"github.com/AleutianAI/AleutianRecall/services/recall/kvcache"
	"github.com/AleutianAI/AleutianRecall/services/recall/memtypes"
	"github.com/AleutianAI/AleutianRecall/services/recall/telemetry"
)

// =============================================================================
// Configuration
// =============================================================================

// Default limits and timeouts for coordinator operations.
const (
	// DefaultMaxContentLength bounds normalized content length in runes.
	DefaultMaxContentLength = 4000

	// DefaultTopK is used when a retrieval does not name a limit.
	DefaultTopK = 10

	// DefaultResultCacheTTL is the lifetime of a cached retrieval.
	DefaultResultCacheTTL = 5 * time.Minute

	// DefaultTierTimeout bounds each tier's contribution to a fan-out.
	DefaultTierTimeout = 5 * time.Second

	// counterTTL keeps a per-day token counter readable past midnight
	// without accumulating forever.
	counterTTL = 48 * time.Hour
)

// LongTermUpdater is the in-place mutation capability only the long
// tier provides.
type LongTermUpdater interface {
	Update(ctx context.Context, memoryID string, newContent *string, newMetadata map[string]string) error
}

// Config configures the coordinator.
type Config struct {
	// MaxContentLength bounds normalized content in runes. Default: 4000.
	MaxContentLength int

	// DefaultTopK applies when a retrieval names no limit. Default: 10.
	DefaultTopK int

	// ResultCacheTTL is the retrieval cache lifetime. Default: 5m.
	ResultCacheTTL time.Duration

	// TierTimeout bounds each tier call during fan-out. Default: 5s.
	TierTimeout time.Duration

	// Logger for coordinator operations. Default: slog.Default().
	Logger *slog.Logger

	// Metrics receives operation counters and timings. Nil disables
	// metric recording.
	Metrics *telemetry.Metrics
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	if c.MaxContentLength == 0 {
		c.MaxContentLength = DefaultMaxContentLength
	}
	if c.DefaultTopK == 0 {
		c.DefaultTopK = DefaultTopK
	}
	if c.ResultCacheTTL == 0 {
		c.ResultCacheTTL = DefaultResultCacheTTL
	}
	if c.TierTimeout == 0 {
		c.TierTimeout = DefaultTierTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// =============================================================================
// Coordinator
// =============================================================================

// Coordinator routes memory operations to tier backends.
//
// Thread Safety: Safe for concurrent use.
type Coordinator struct {
	stores   map[memtypes.Tier]memtypes.TierStore
	updater  LongTermUpdater
	provider embeddings.Provider
	cache    *kvcache.Cache
	config   Config
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
}

// New creates a coordinator over the given tier backends.
//
// Inputs:
//
//	stores - Backends keyed by tier. At least one is required; a
//	         retrieval naming an unwired tier degrades that tier to an
//	         empty contribution.
//	updater - In-place mutation capability of the long tier. May be nil
//	          when the long tier is unwired.
//	provider - Embedding provider, used lazily for mid-tier operations.
//	cache - Backing cache for retrieval results and counters.
//	config - Coordinator configuration; zero values take defaults.
func New(
	stores map[memtypes.Tier]memtypes.TierStore,
	updater LongTermUpdater,
	provider embeddings.Provider,
	cache *kvcache.Cache,
	config Config,
) (*Coordinator, error) {
	if len(stores) == 0 {
		return nil, errors.New("at least one tier store is required")
	}
	if provider == nil {
		return nil, errors.New("embedding provider must not be nil")
	}
	if cache == nil {
		return nil, errors.New("cache must not be nil")
	}
	config.applyDefaults()

	return &Coordinator{
		stores:   stores,
		updater:  updater,
		provider: provider,
		cache:    cache,
		config:   config,
		logger:   config.Logger.With(slog.String("component", "memory_coordinator")),
		tracer:   otel.Tracer("aleutian.ai/recall/coordinator"),
		metrics:  config.Metrics,
	}, nil
}

// =============================================================================
// Store
// =============================================================================

// StoreRequest names the tier explicitly; the coordinator never
// auto-selects one.
type StoreRequest struct {
	ProjectID string
	Content   string
	Tier      memtypes.Tier
	Metadata  map[string]string
}

// Store creates one memory record in exactly the named tier.
//
// Description:
//
//	Generates the memory ID and timestamps, normalizes content, computes
//	a tier-appropriate relevance score, and dispatches to the named
//	tier's backend. Mid-tier records are embedded before insert. No
//	cross-tier write occurs, and a failed write is surfaced to the
//	caller (fail-closed).
//
// Outputs:
//
//	*memtypes.StoreReceipt - ID, tier, and timestamp of the new record.
//	error - ValidationError on malformed input; otherwise the backend's
//	        failure.
func (c *Coordinator) Store(ctx context.Context, req StoreRequest) (*memtypes.StoreReceipt, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Store",
		trace.WithAttributes(
			attribute.String("recall.project_id", req.ProjectID),
			attribute.String("recall.tier", req.Tier.String()),
		))
	defer span.End()

	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, memtypes.NewValidationError("project_id", "must not be empty")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, memtypes.NewValidationError("content", "must not be empty")
	}
	if !req.Tier.Valid() {
		return nil, memtypes.NewValidationError("tier", "unknown tier")
	}
	store, ok := c.stores[req.Tier]
	if !ok {
		return nil, fmt.Errorf("%w: tier %s has no backend", memtypes.ErrBackendUnavailable, req.Tier)
	}

	now := time.Now().UTC()
	rec := memtypes.MemoryRecord{
		MemoryID:  uuid.NewString(),
		ProjectID: req.ProjectID,
		Content:   NormalizeContent(req.Content, c.config.MaxContentLength),
		Tier:      req.Tier,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if category, ok := req.Metadata["category"]; ok {
		rec.Category = category
	}
	rec.Relevance = c.scoreFor(rec)

	if req.Tier == memtypes.TierMid {
		embedding, err := c.provider.Encode(ctx, rec.Content)
		if err != nil {
			return nil, fmt.Errorf("embed mid-tier content: %w", err)
		}
		rec.Embedding = embedding
	}

	if err := store.Store(ctx, rec); err != nil {
		c.recordStore(ctx, req.Tier, "error")
		return nil, err
	}
	c.recordStore(ctx, req.Tier, "success")

	c.logger.Info("stored memory",
		slog.String("project_id", rec.ProjectID),
		slog.String("memory_id", rec.MemoryID),
		slog.String("tier", rec.Tier.String()))

	return &memtypes.StoreReceipt{
		MemoryID: rec.MemoryID,
		Tier:     rec.Tier,
		StoredAt: now,
	}, nil
}

// scoreFor computes the tier-appropriate relevance score.
//
// Description:
//
//	Short tier blends normalized content length with caller-supplied
//	confidence metadata (longer notes carry more context, but curation
//	dominates). Mid and long tiers use the confidence metadata alone:
//	mid-tier ranking is replaced by ANN similarity at query time, and
//	long-tier confidence is the curated column feeding the composite
//	query score.
func (c *Coordinator) scoreFor(rec memtypes.MemoryRecord) float64 {
	confidence := 0.5
	if raw, ok := rec.Metadata["confidence"]; ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			confidence = v
		}
	}

	if rec.Tier != memtypes.TierShort {
		return confidence
	}

	lengthScore := float64(len(rec.Content)) / float64(c.config.MaxContentLength)
	if lengthScore > 1 {
		lengthScore = 1
	}
	return 0.4*lengthScore + 0.6*confidence
}

// recordStore emits the store-operation counter when metrics are wired.
func (c *Coordinator) recordStore(ctx context.Context, tier memtypes.Tier, status string) {
	if c.metrics == nil {
		return
	}
	c.metrics.MemoryStoresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier.String()),
		attribute.String("status", status),
	))
}

// =============================================================================
// Update / Delete
// =============================================================================

// UpdateRequest mutates one record in the named tier.
type UpdateRequest struct {
	ProjectID   string
	MemoryID    string
	Tier        memtypes.Tier
	NewContent  *string
	NewMetadata map[string]string
}

// Update mutates a record according to the tier's capability.
//
// Description:
//
//	Long tier mutates in place, transactionally. Mid tier has no
//	in-place update; the record is deleted and reinserted with a fresh
//	embedding, which requires NewContent. Short-tier records are
//	immutable (memtypes.ErrUpdateUnsupported).
func (c *Coordinator) Update(ctx context.Context, req UpdateRequest) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.Update",
		trace.WithAttributes(
			attribute.String("recall.project_id", req.ProjectID),
			attribute.String("recall.tier", req.Tier.String()),
		))
	defer span.End()

	if strings.TrimSpace(req.MemoryID) == "" {
		return memtypes.NewValidationError("memory_id", "must not be empty")
	}
	if !req.Tier.Valid() {
		return memtypes.NewValidationError("tier", "unknown tier")
	}

	switch req.Tier {
	case memtypes.TierShort:
		return memtypes.ErrUpdateUnsupported

	case memtypes.TierMid:
		if req.NewContent == nil {
			return memtypes.NewValidationError("new_content", "mid-tier update is delete+reinsert and requires content")
		}
		store, ok := c.stores[memtypes.TierMid]
		if !ok {
			return fmt.Errorf("%w: tier mid has no backend", memtypes.ErrBackendUnavailable)
		}

		content := NormalizeContent(*req.NewContent, c.config.MaxContentLength)
		embedding, err := c.provider.Encode(ctx, content)
		if err != nil {
			return fmt.Errorf("embed mid-tier content: %w", err)
		}

		if err := store.Delete(ctx, req.ProjectID, req.MemoryID); err != nil {
			return err
		}

		now := time.Now().UTC()
		rec := memtypes.MemoryRecord{
			MemoryID:  req.MemoryID,
			ProjectID: req.ProjectID,
			Content:   content,
			Tier:      memtypes.TierMid,
			Metadata:  req.NewMetadata,
			Embedding: embedding,
			CreatedAt: now,
			UpdatedAt: now,
		}
		rec.Relevance = c.scoreFor(rec)
		return store.Store(ctx, rec)

	case memtypes.TierLong:
		if c.updater == nil {
			return fmt.Errorf("%w: tier long has no backend", memtypes.ErrBackendUnavailable)
		}
		return c.updater.Update(ctx, req.MemoryID, req.NewContent, req.NewMetadata)

	default:
		return memtypes.NewValidationError("tier", "unknown tier")
	}
}

// Delete removes a record from exactly the named tier (fail-closed).
func (c *Coordinator) Delete(ctx context.Context, projectID, memoryID string, tier memtypes.Tier) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.Delete",
		trace.WithAttributes(
			attribute.String("recall.project_id", projectID),
			attribute.String("recall.tier", tier.String()),
		))
	defer span.End()

	if strings.TrimSpace(memoryID) == "" {
		return memtypes.NewValidationError("memory_id", "must not be empty")
	}
	if !tier.Valid() {
		return memtypes.NewValidationError("tier", "unknown tier")
	}
	store, ok := c.stores[tier]
	if !ok {
		return fmt.Errorf("%w: tier %s has no backend", memtypes.ErrBackendUnavailable, tier)
	}
	return store.Delete(ctx, projectID, memoryID)
}

// =============================================================================
// Content Normalization
// =============================================================================

// ellipsis marks truncated content.
const ellipsis = "..."

// NormalizeContent collapses whitespace runs to single spaces and
// truncates to maxLen runes, appending an ellipsis marker when
// truncation occurred.
func NormalizeContent(content string, maxLen int) string {
	normalized := strings.Join(strings.Fields(content), " ")
	if maxLen <= 0 {
		return normalized
	}

	runes := []rune(normalized)
	if len(runes) <= maxLen {
		return normalized
	}
	cut := maxLen - len(ellipsis)
	if cut < 0 {
		cut = 0
	}
	return string(runes[:cut]) + ellipsis
}
