// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memtypes defines the shared data model for the tiered memory
// service: the storage tier enum, memory records, retrieval and detection
// results, and the error taxonomy shared by every store backend.
package memtypes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Tiers
// =============================================================================

// Tier identifies the storage level a memory record resides in.
//
// A record lives in exactly one tier at a time. There is no automatic
// promotion or demotion between tiers; callers name the tier explicitly
// on every store, update, and delete.
type Tier int

const (
	// TierShort is the ranked, capped, TTL-bound per-project cache.
	TierShort Tier = iota

	// TierMid is the approximate-nearest-neighbor vector index.
	TierMid

	// TierLong is the durable relational store with curated confidence.
	TierLong
)

// TierPrecedence is the fixed tier order used when deduplicating
// identical content across tiers: short wins over mid wins over long.
var TierPrecedence = []Tier{TierShort, TierMid, TierLong}

// String returns the wire name of the tier.
func (t Tier) String() string {
	switch t {
	case TierShort:
		return "short"
	case TierMid:
		return "mid"
	case TierLong:
		return "long"
	default:
		return "unknown"
	}
}

// Valid reports whether the tier is one of the three known tiers.
func (t Tier) Valid() bool {
	return t == TierShort || t == TierMid || t == TierLong
}

// ParseTier converts a wire name into a Tier.
//
// Outputs:
//
//	Tier - The parsed tier.
//	error - ErrUnknownTier (wrapped in a *ValidationError) if the name
//	        is not one of "short", "mid", "long".
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "short":
		return TierShort, nil
	case "mid":
		return TierMid, nil
	case "long":
		return TierLong, nil
	default:
		return Tier(-1), &ValidationError{
			Field:   "tier",
			Message: fmt.Sprintf("unknown tier %q", s),
			Err:     ErrUnknownTier,
		}
	}
}

// MarshalJSON encodes the tier as its wire name.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier from its wire name.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// =============================================================================
// Records and Results
// =============================================================================

// MemoryRecord is the unit of stored knowledge.
type MemoryRecord struct {
	// MemoryID is globally unique across all tiers, generated at store
	// time, and immutable thereafter.
	MemoryID string `json:"memory_id"`

	// ProjectID is the logical partition key. Every operation is scoped
	// to exactly one project.
	ProjectID string `json:"project_id"`

	// Content is the normalized memory text, truncated to a bounded
	// length before storage.
	Content string `json:"content"`

	// Tier is the storage level the record resides in.
	Tier Tier `json:"tier"`

	// Relevance is a [0,1] ranking figure. Semantics differ per tier:
	// recency+heuristic for short, ANN similarity for mid, curated
	// confidence for long.
	Relevance float64 `json:"relevance_score"`

	// Category groups long-tier records ("fact", "decision", ...).
	// Empty for short- and mid-tier records.
	Category string `json:"category,omitempty"`

	// Embedding is present only for mid-tier records.
	Embedding []float32 `json:"embedding,omitempty"`

	// Metadata is an open key-value bag, opaque to the core.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when the record was stored.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt tracks the last mutation. Only long-tier records are
	// mutable after creation.
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoredRecord pairs a record with the score its tier assigned during
// retrieval. The score feeds the coordinator's cross-tier ranking.
type ScoredRecord struct {
	Record MemoryRecord `json:"record"`
	Score  float64      `json:"score"`
}

// RetrievalQuery is the uniform query every tier store accepts. Each
// tier consumes the fields it understands: the short tier uses only
// ProjectID and TopK, the mid tier additionally needs Embedding, the
// long tier needs QueryText.
type RetrievalQuery struct {
	ProjectID string
	QueryText string
	Embedding []float32
	TopK      int
}

// RetrievalResult is the ephemeral, cacheable outcome of a coordinator
// retrieval. It is never persisted as a record.
type RetrievalResult struct {
	// Memories is the deduplicated, ranked, truncated result set.
	Memories []MemoryRecord `json:"memories"`

	// TotalTokenSaved is the estimated token savings for this result,
	// computed with the fixed 80% compression assumption. Reporting
	// only; no actual compression happens.
	TotalTokenSaved int `json:"total_token_saved"`

	// CacheHit is true when the result was served from the result cache.
	CacheHit bool `json:"cache_hit"`

	// CachedAt is when the result was first computed and cached. Two
	// cache hits within the TTL carry the identical CachedAt.
	CachedAt time.Time `json:"cached_at"`
}

// StoreReceipt confirms a successful store operation.
type StoreReceipt struct {
	MemoryID string    `json:"memory_id"`
	Tier     Tier      `json:"tier"`
	StoredAt time.Time `json:"stored_at"`
}

// DetectionResult is the ephemeral verdict of a hallucination check.
type DetectionResult struct {
	// IsHallucination is the verdict. Equality with the threshold counts
	// as corroborated, so this is true only when Confidence is strictly
	// below ThresholdUsed.
	IsHallucination bool `json:"is_hallucination"`

	// Confidence is the strongest single cosine similarity between the
	// checked output and any corroborating memory. Zero when no
	// supporting memory exists.
	Confidence float64 `json:"confidence"`

	// ThresholdUsed is the acceptance threshold actually applied, after
	// adaptive adjustment or override clamping.
	ThresholdUsed float64 `json:"threshold_used"`

	// SupportingMemories lists the memory IDs consulted as evidence.
	SupportingMemories []string `json:"supporting_memories"`

	// Reason is a human-readable explanation of the verdict.
	Reason string `json:"reason"`
}

// BatchDetectionResult aggregates per-item verdicts.
type BatchDetectionResult struct {
	Results []DetectionResult `json:"results"`

	// HallucinationRate is the fraction of items judged hallucinated.
	HallucinationRate float64 `json:"hallucination_rate"`
}

// =============================================================================
// Store capability interface
// =============================================================================

// TierStore is the uniform capability every tier backend implements.
//
// Description:
//
//	Store and Delete are fail-closed: a backend error is surfaced to the
//	caller, never absorbed. Retrieve is fail-open at the coordinator
//	level: the coordinator turns a failed tier into an empty
//	contribution, but the store itself still reports the error so the
//	failure policy stays visible at the call site.
//
// Thread Safety: Implementations must be safe for concurrent use.
type TierStore interface {
	// Tier identifies which storage level this backend serves.
	Tier() Tier

	// Store persists one record in this tier.
	Store(ctx context.Context, rec MemoryRecord) error

	// Retrieve returns up to TopK scored records for the query.
	Retrieve(ctx context.Context, q RetrievalQuery) ([]ScoredRecord, error)

	// Delete removes a record by ID within a project.
	Delete(ctx context.Context, projectID, memoryID string) error
}

// =============================================================================
// Errors
// =============================================================================

// Sentinel errors shared across the memory service.
var (
	// ErrUnknownTier is returned for tier names outside {short, mid, long}.
	ErrUnknownTier = errors.New("unknown memory tier")

	// ErrMemoryNotFound is returned when an ID does not exist in the
	// addressed tier.
	ErrMemoryNotFound = errors.New("memory not found")

	// ErrBackendUnavailable wraps backend outages. Read paths degrade to
	// empty contributions on this error; write paths surface it.
	ErrBackendUnavailable = errors.New("memory backend unavailable")

	// ErrUpdateUnsupported is returned when in-place update is attempted
	// on a tier that does not support it.
	ErrUpdateUnsupported = errors.New("tier does not support in-place update")
)

// ValidationError reports malformed caller input. It is raised
// synchronously and is never retried; the caller must fix the input.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap exposes the wrapped sentinel, if any.
func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
