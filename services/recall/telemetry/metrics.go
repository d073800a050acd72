// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the Aleutian Recall service.
//
// Description:
//
//	Provides standard counters and histograms for HTTP requests, memory
//	tier operations, retrieval caching, and hallucination detection.
//	All metrics use the "recall_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// --- Memory Metrics ---

	// MemoryStoresTotal counts memory store operations by tier and status.
	MemoryStoresTotal metric.Int64Counter

	// MemoryRetrievalsTotal counts retrieval operations by status.
	MemoryRetrievalsTotal metric.Int64Counter

	// MemoryRetrievalDuration records retrieval duration in seconds.
	MemoryRetrievalDuration metric.Float64Histogram

	// RetrievalCacheHitsTotal counts result-cache hits and misses by outcome.
	RetrievalCacheHitsTotal metric.Int64Counter

	// TierDegradationsTotal counts fail-open tier degradations by tier.
	TierDegradationsTotal metric.Int64Counter

	// TokensSavedTotal accumulates estimated tokens saved by retrieval.
	TokensSavedTotal metric.Int64Counter

	// --- Detection Metrics ---

	// DetectionsTotal counts detection calls by verdict.
	DetectionsTotal metric.Int64Counter

	// DetectionDuration records detection duration in seconds.
	DetectionDuration metric.Float64Histogram

	// DetectionConfidence records the confidence of each verdict.
	DetectionConfidence metric.Float64Histogram

	// --- Error Metrics ---

	// ErrorsTotal counts total errors by type and component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all instruments initialized.
//	error - Non-nil if metric registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- HTTP Metrics ---
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"recall_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"recall_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	// --- Memory Metrics ---
	m.MemoryStoresTotal, err = meter.Int64Counter(
		"recall_memory_stores_total",
		metric.WithDescription("Total memory store operations"),
		metric.WithUnit("{store}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create memory_stores_total: %w", err)
	}

	m.MemoryRetrievalsTotal, err = meter.Int64Counter(
		"recall_memory_retrievals_total",
		metric.WithDescription("Total memory retrieval operations"),
		metric.WithUnit("{retrieval}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create memory_retrievals_total: %w", err)
	}

	m.MemoryRetrievalDuration, err = meter.Float64Histogram(
		"recall_memory_retrieval_duration_seconds",
		metric.WithDescription("Memory retrieval duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create memory_retrieval_duration: %w", err)
	}

	m.RetrievalCacheHitsTotal, err = meter.Int64Counter(
		"recall_retrieval_cache_hits_total",
		metric.WithDescription("Retrieval result cache hits and misses"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrieval_cache_hits_total: %w", err)
	}

	m.TierDegradationsTotal, err = meter.Int64Counter(
		"recall_tier_degradations_total",
		metric.WithDescription("Fail-open tier degradations during retrieval"),
		metric.WithUnit("{degradation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tier_degradations_total: %w", err)
	}

	m.TokensSavedTotal, err = meter.Int64Counter(
		"recall_tokens_saved_total",
		metric.WithDescription("Estimated tokens saved by memory retrieval"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tokens_saved_total: %w", err)
	}

	// --- Detection Metrics ---
	m.DetectionsTotal, err = meter.Int64Counter(
		"recall_detections_total",
		metric.WithDescription("Total hallucination detection calls"),
		metric.WithUnit("{detection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create detections_total: %w", err)
	}

	m.DetectionDuration, err = meter.Float64Histogram(
		"recall_detection_duration_seconds",
		metric.WithDescription("Hallucination detection duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create detection_duration: %w", err)
	}

	m.DetectionConfidence, err = meter.Float64Histogram(
		"recall_detection_confidence",
		metric.WithDescription("Confidence score of detection verdicts"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create detection_confidence: %w", err)
	}

	// --- Error Metrics ---
	m.ErrorsTotal, err = meter.Int64Counter(
		"recall_errors_total",
		metric.WithDescription("Total errors by type and component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}
