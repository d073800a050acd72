// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package detector scores candidate LLM output against stored memories
// and decides whether it is corroborated or likely fabricated.
//
// The decision procedure is state-free per call: pick an acceptance
// threshold (adaptive or caller-forced), gather evidence from the mid
// and long memory tiers, take the maximum cosine similarity as the
// confidence, and compare. One strong match outweighs several weak
// ones, which is why the maximum is used instead of an average.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRecall/services/recall/coordinator"
	"github.com/AleutianAI/AleutianRecall/services/recall/embeddings"
	"github.com/AleutianAI/AleutianRecall/services/recall/memtypes"
	"github.com/AleutianAI/AleutianRecall/services/recall/telemetry"
)

// DefaultEvidenceLimit caps how many candidate memories are scored per
// detection.
const DefaultEvidenceLimit = 5

// ReasonNoEvidence is the reason reported for the no-evidence outcome.
const ReasonNoEvidence = "no supporting memory"

// evidenceTiers restricts evidence to durable memory. Short-term
// volatile notes are not accepted as corroboration.
var evidenceTiers = []memtypes.Tier{memtypes.TierMid, memtypes.TierLong}

// EvidenceRetriever is the slice of the coordinator the detector needs.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, req coordinator.RetrieveRequest) (*memtypes.RetrievalResult, error)
}

// Config configures the detector.
type Config struct {
	// BaseThreshold is the adaptive starting point. Default: 0.65.
	BaseThreshold float64

	// MinThreshold / MaxThreshold clamp every threshold, adaptive or
	// overridden. Defaults: 0.40 / 0.85.
	MinThreshold float64
	MaxThreshold float64

	// EvidenceLimit caps candidate memories per detection. Default: 5.
	EvidenceLimit int

	// Logger for detector operations. Default: slog.Default().
	Logger *slog.Logger

	// Metrics receives detection counters and timings. Nil disables
	// metric recording.
	Metrics *telemetry.Metrics
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	if c.BaseThreshold == 0 {
		c.BaseThreshold = DefaultBaseThreshold
	}
	if c.MinThreshold == 0 {
		c.MinThreshold = DefaultMinThreshold
	}
	if c.MaxThreshold == 0 {
		c.MaxThreshold = DefaultMaxThreshold
	}
	if c.EvidenceLimit == 0 {
		c.EvidenceLimit = DefaultEvidenceLimit
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Detector decides whether generated text is corroborated by memory.
//
// Thread Safety: Safe for concurrent use.
type Detector struct {
	retriever EvidenceRetriever
	provider  embeddings.Provider
	config    Config
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *telemetry.Metrics
}

// New creates a detector over the given evidence source.
func New(retriever EvidenceRetriever, provider embeddings.Provider, config Config) (*Detector, error) {
	if retriever == nil {
		return nil, errors.New("evidence retriever must not be nil")
	}
	if provider == nil {
		return nil, errors.New("embedding provider must not be nil")
	}
	config.applyDefaults()

	return &Detector{
		retriever: retriever,
		provider:  provider,
		config:    config,
		logger:    config.Logger.With(slog.String("component", "hallucination_detector")),
		tracer:    otel.Tracer("aleutian.ai/recall/detector"),
		metrics:   config.Metrics,
	}, nil
}

// DetectRequest is one candidate output to check.
type DetectRequest struct {
	ProjectID string
	Output    string

	// Context optionally feeds the scarce-evidence and risky-user
	// signals. Nil disables both.
	Context *SignalContext

	// ThresholdOverride, when non-nil, replaces the adaptive threshold
	// after clamping into [MinThreshold, MaxThreshold].
	ThresholdOverride *float64
}

// Detect checks one output against the project's durable memories.
//
// Description:
//
//	Selects the acceptance threshold, embeds the output, retrieves up
//	to EvidenceLimit candidate memories from the mid and long tiers,
//	and computes confidence as the maximum cosine similarity between
//	the output and any candidate. The verdict is hallucination when
//	confidence is strictly below the threshold; equality counts as
//	corroborated. Zero candidates is the defined no-evidence outcome
//	(verdict true, confidence 0), not an error.
//
// Outputs:
//
//	*memtypes.DetectionResult - The verdict with threshold, confidence,
//	                            corroborating memory IDs, and reason.
//	error - ValidationError on malformed input, or an embedding
//	        provider failure.
func (d *Detector) Detect(ctx context.Context, req DetectRequest) (*memtypes.DetectionResult, error) {
	ctx, span := d.tracer.Start(ctx, "detector.Detect",
		trace.WithAttributes(attribute.String("recall.project_id", req.ProjectID)))
	defer span.End()

	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, memtypes.NewValidationError("project_id", "must not be empty")
	}
	if strings.TrimSpace(req.Output) == "" {
		return nil, memtypes.NewValidationError("output", "must not be empty")
	}

	started := time.Now()
	threshold, thresholdReason := d.selectThreshold(req)

	evidence, err := d.gatherEvidence(ctx, req.ProjectID, req.Output)
	if err != nil {
		return nil, err
	}

	if len(evidence) == 0 {
		span.SetAttributes(attribute.Bool("recall.no_evidence", true))
		d.recordDetection(ctx, started, true, 0.0)
		return &memtypes.DetectionResult{
			IsHallucination:    true,
			Confidence:         0.0,
			ThresholdUsed:      threshold,
			SupportingMemories: []string{},
			Reason:             ReasonNoEvidence,
		}, nil
	}

	outputEmbedding, err := d.provider.Encode(ctx, req.Output)
	if err != nil {
		return nil, fmt.Errorf("embed output: %w", err)
	}

	confidence, supporting := d.scoreEvidence(ctx, outputEmbedding, evidence, threshold)
	verdict := confidence < threshold

	span.SetAttributes(
		attribute.Bool("recall.is_hallucination", verdict),
		attribute.Float64("recall.confidence", confidence),
		attribute.Float64("recall.threshold", threshold),
	)
	d.recordDetection(ctx, started, verdict, confidence)

	return &memtypes.DetectionResult{
		IsHallucination:    verdict,
		Confidence:         confidence,
		ThresholdUsed:      threshold,
		SupportingMemories: supporting,
		Reason: fmt.Sprintf("%s; max similarity %.2f across %d memories",
			thresholdReason, confidence, len(evidence)),
	}, nil
}

// BatchDetect applies Detect per output and reports the aggregate
// hallucination rate.
//
// Outputs:
//
//	*memtypes.BatchDetectionResult - Per-output verdicts in input order
//	                                 plus the fraction judged
//	                                 hallucinated.
//	error - The first validation or provider failure; partial batches
//	        are not returned.
func (d *Detector) BatchDetect(ctx context.Context, projectID string, outputs []string, sigCtx *SignalContext) (*memtypes.BatchDetectionResult, error) {
	ctx, span := d.tracer.Start(ctx, "detector.BatchDetect",
		trace.WithAttributes(
			attribute.String("recall.project_id", projectID),
			attribute.Int("recall.batch_size", len(outputs)),
		))
	defer span.End()

	if len(outputs) == 0 {
		return nil, memtypes.NewValidationError("outputs", "must not be empty")
	}

	results := make([]memtypes.DetectionResult, 0, len(outputs))
	flagged := 0
	for _, output := range outputs {
		result, err := d.Detect(ctx, DetectRequest{
			ProjectID: projectID,
			Output:    output,
			Context:   sigCtx,
		})
		if err != nil {
			return nil, err
		}
		if result.IsHallucination {
			flagged++
		}
		results = append(results, *result)
	}

	rate := float64(flagged) / float64(len(results))
	span.SetAttributes(attribute.Float64("recall.hallucination_rate", rate))

	return &memtypes.BatchDetectionResult{
		Results:           results,
		HallucinationRate: rate,
	}, nil
}

// recordDetection emits detection counters and timing when metrics are
// wired.
func (d *Detector) recordDetection(ctx context.Context, started time.Time, verdict bool, confidence float64) {
	if d.metrics == nil {
		return
	}
	outcome := "corroborated"
	if verdict {
		outcome = "hallucination"
	}
	d.metrics.DetectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verdict", outcome)))
	d.metrics.DetectionDuration.Record(ctx, time.Since(started).Seconds())
	d.metrics.DetectionConfidence.Record(ctx, confidence)
}

// selectThreshold picks the acceptance threshold and describes how.
func (d *Detector) selectThreshold(req DetectRequest) (float64, string) {
	if req.ThresholdOverride != nil {
		threshold := clamp(*req.ThresholdOverride, d.config.MinThreshold, d.config.MaxThreshold)
		return threshold, fmt.Sprintf("threshold %.2f (forced)", threshold)
	}

	threshold, applied := adaptiveThreshold(
		d.config.BaseThreshold, d.config.MinThreshold, d.config.MaxThreshold,
		req.Output, req.Context)
	if len(applied) == 0 {
		return threshold, fmt.Sprintf("threshold %.2f (base, no signals)", threshold)
	}
	return threshold, fmt.Sprintf("threshold %.2f (base %.2f; %s)",
		threshold, d.config.BaseThreshold, strings.Join(applied, ", "))
}

// gatherEvidence retrieves candidate memories from the durable tiers.
// Retrieval is fail-open, so a backend outage yields the no-evidence
// outcome rather than an error.
func (d *Detector) gatherEvidence(ctx context.Context, projectID, output string) ([]memtypes.MemoryRecord, error) {
	result, err := d.retriever.Retrieve(ctx, coordinator.RetrieveRequest{
		ProjectID: projectID,
		Query:     output,
		TopK:      d.config.EvidenceLimit,
		Tiers:     evidenceTiers,
	})
	if err != nil {
		if memtypes.IsValidation(err) {
			return nil, err
		}
		// Degraded evidence source; treat as no evidence.
		d.logger.Warn("evidence retrieval failed",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()))
		return nil, nil
	}
	return result.Memories, nil
}

// scoreEvidence computes the maximum cosine similarity and collects the
// IDs of memories at or above the threshold.
//
// Description:
//
//	Mid-tier candidates carry their stored embedding; long-tier rows do
//	not, so those are embedded on the fly. A candidate that cannot be
//	embedded or compared contributes nothing.
func (d *Detector) scoreEvidence(ctx context.Context, outputEmbedding []float32, evidence []memtypes.MemoryRecord, threshold float64) (float64, []string) {
	best := 0.0
	supporting := make([]string, 0, len(evidence))

	for _, rec := range evidence {
		candidate := rec.Embedding
		if len(candidate) == 0 {
			encoded, err := d.provider.Encode(ctx, rec.Content)
			if err != nil {
				d.logger.Warn("could not embed evidence candidate",
					slog.String("memory_id", rec.MemoryID),
					slog.String("error", err.Error()))
				continue
			}
			candidate = encoded
		}

		similarity, err := embeddings.CosineSimilarity(outputEmbedding, candidate)
		if err != nil {
			d.logger.Warn("could not compare evidence candidate",
				slog.String("memory_id", rec.MemoryID),
				slog.String("error", err.Error()))
			continue
		}

		if similarity > best {
			best = similarity
		}
		if similarity >= threshold {
			supporting = append(supporting, rec.MemoryID)
		}
	}
	return best, supporting
}
