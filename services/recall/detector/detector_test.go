// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detector

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRecall/services/recall/coordinator"
	"github.com/AleutianAI/AleutianRecall/services/recall/embeddings"
	"github.com/AleutianAI/AleutianRecall/services/recall/memtypes"
)

// stubRetriever serves canned evidence and records the last request.
type stubRetriever struct {
	evidence []memtypes.MemoryRecord
	lastReq  coordinator.RetrieveRequest
}

func (s *stubRetriever) Retrieve(_ context.Context, req coordinator.RetrieveRequest) (*memtypes.RetrievalResult, error) {
	s.lastReq = req
	return &memtypes.RetrievalResult{Memories: s.evidence}, nil
}

func newTestDetector(t *testing.T, retriever *stubRetriever, provider *embeddings.StaticProvider) *Detector {
	t.Helper()
	det, err := New(retriever, provider, Config{})
	require.NoError(t, err)
	return det
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestDetectNoEvidence(t *testing.T) {
	retriever := &stubRetriever{}
	det := newTestDetector(t, retriever, embeddings.NewStaticProvider(8))

	result, err := det.Detect(context.Background(), DetectRequest{
		ProjectID: "proj",
		Output:    "an unsupported claim",
	})
	require.NoError(t, err)

	assert.True(t, result.IsHallucination)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Equal(t, ReasonNoEvidence, result.Reason)
	assert.Empty(t, result.SupportingMemories)
}

func TestDetectEvidenceComesFromDurableTiersOnly(t *testing.T) {
	retriever := &stubRetriever{}
	det := newTestDetector(t, retriever, embeddings.NewStaticProvider(8))

	_, err := det.Detect(context.Background(), DetectRequest{
		ProjectID: "proj",
		Output:    "some output",
	})
	require.NoError(t, err)

	assert.Equal(t, []memtypes.Tier{memtypes.TierMid, memtypes.TierLong}, retriever.lastReq.Tiers)
	assert.Equal(t, DefaultEvidenceLimit, retriever.lastReq.TopK)
	assert.Equal(t, "proj", retriever.lastReq.ProjectID)
}

func TestDetectCorroborated(t *testing.T) {
	// Forced threshold 0.50 with a pinned similarity of 0.80:
	// output vector (4,3) against candidate (1,0) gives cos = 4/5.
	output := "The project uses Django and PostgreSQL"
	provider := embeddings.NewStaticProvider(8)
	provider.SetVector(output, []float32{4, 3})

	retriever := &stubRetriever{
		evidence: []memtypes.MemoryRecord{{
			MemoryID:  "mem-1",
			ProjectID: "proj",
			Content:   "Django framework, PostgreSQL database",
			Tier:      memtypes.TierLong,
			Embedding: []float32{1, 0},
		}},
	}
	det := newTestDetector(t, retriever, provider)

	result, err := det.Detect(context.Background(), DetectRequest{
		ProjectID:         "proj",
		Output:            output,
		ThresholdOverride: floatPtr(0.50),
	})
	require.NoError(t, err)

	assert.False(t, result.IsHallucination)
	assert.InDelta(t, 0.80, result.Confidence, 1e-9)
	assert.Equal(t, 0.50, result.ThresholdUsed)
	assert.Equal(t, []string{"mem-1"}, result.SupportingMemories)
}

func TestDetectEqualityCountsAsCorroborated(t *testing.T) {
	// cos((3,4),(1,0)) = 3/5, bit-identical to the 0.6 override.
	output := "a statement right on the boundary"
	provider := embeddings.NewStaticProvider(8)
	provider.SetVector(output, []float32{3, 4})

	retriever := &stubRetriever{
		evidence: []memtypes.MemoryRecord{{
			MemoryID:  "mem-1",
			Content:   "boundary fact",
			Tier:      memtypes.TierMid,
			Embedding: []float32{1, 0},
		}},
	}
	det := newTestDetector(t, retriever, provider)

	result, err := det.Detect(context.Background(), DetectRequest{
		ProjectID:         "proj",
		Output:            output,
		ThresholdOverride: floatPtr(0.6),
	})
	require.NoError(t, err)

	assert.False(t, result.IsHallucination, "equality must count as corroborated")
	assert.Equal(t, result.ThresholdUsed, result.Confidence)
}

func TestDetectAdaptiveScenario(t *testing.T) {
	// Length over 200 (-0.05) plus one fenced code block (-0.03) and no
	// other signals: threshold 0.65 - 0.08 = 0.57. A best similarity of
	// 0.55 is below it, so the output is flagged.
	output := strings.Repeat("plain words without jargon here ", 7) +
		"```\nx = 1\n```"
	require.Greater(t, len(output), 200)
	require.Less(t, len(output), 500)

	provider := embeddings.NewStaticProvider(8)
	provider.SetVector(output, []float32{1, 0})

	retriever := &stubRetriever{
		evidence: []memtypes.MemoryRecord{{
			MemoryID:  "mem-1",
			Content:   "weakly related fact",
			Tier:      memtypes.TierMid,
			Embedding: []float32{0.55, 0.8351646},
		}},
	}
	det := newTestDetector(t, retriever, provider)

	result, err := det.Detect(context.Background(), DetectRequest{
		ProjectID: "proj",
		Output:    output,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.57, result.ThresholdUsed, 1e-9)
	assert.InDelta(t, 0.55, result.Confidence, 1e-3)
	assert.True(t, result.IsHallucination)
	assert.Contains(t, result.Reason, "long output")
	assert.Contains(t, result.Reason, "some code")
}

func TestDetectMaxSimilarityWins(t *testing.T) {
	output := "several pieces of evidence"
	provider := embeddings.NewStaticProvider(8)
	provider.SetVector(output, []float32{1, 0})

	retriever := &stubRetriever{
		evidence: []memtypes.MemoryRecord{
			{MemoryID: "weak", Content: "weak", Tier: memtypes.TierMid, Embedding: []float32{0, 1}},
			{MemoryID: "strong", Content: "strong", Tier: memtypes.TierMid, Embedding: []float32{1, 0}},
			{MemoryID: "medium", Content: "medium", Tier: memtypes.TierMid, Embedding: []float32{1, 1}},
		},
	}
	det := newTestDetector(t, retriever, provider)

	result, err := det.Detect(context.Background(), DetectRequest{
		ProjectID:         "proj",
		Output:            output,
		ThresholdOverride: floatPtr(0.85),
	})
	require.NoError(t, err)

	// One perfect match outweighs the weak ones.
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
	assert.False(t, result.IsHallucination)
	assert.Contains(t, result.SupportingMemories, "strong")
	assert.NotContains(t, result.SupportingMemories, "weak")
}

func TestDetectEmbedsLongTierEvidenceOnTheFly(t *testing.T) {
	// Long-tier rows carry no stored embedding; identical text embeds
	// identically, so self-similarity is 1.
	output := "The deployment runs on Kubernetes"
	provider := embeddings.NewStaticProvider(8)

	retriever := &stubRetriever{
		evidence: []memtypes.MemoryRecord{{
			MemoryID: "mem-1",
			Content:  output,
			Tier:     memtypes.TierLong,
		}},
	}
	det := newTestDetector(t, retriever, provider)

	result, err := det.Detect(context.Background(), DetectRequest{
		ProjectID: "proj",
		Output:    output,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.Confidence, 1e-5)
	assert.False(t, result.IsHallucination)
}

func TestDetectValidation(t *testing.T) {
	det := newTestDetector(t, &stubRetriever{}, embeddings.NewStaticProvider(8))
	ctx := context.Background()

	_, err := det.Detect(ctx, DetectRequest{Output: "x"})
	assert.True(t, memtypes.IsValidation(err))

	_, err = det.Detect(ctx, DetectRequest{ProjectID: "proj"})
	assert.True(t, memtypes.IsValidation(err))
}

func TestThresholdOverrideClamping(t *testing.T) {
	det := newTestDetector(t, &stubRetriever{}, embeddings.NewStaticProvider(8))
	ctx := context.Background()

	tests := []struct {
		name     string
		override float64
		want     float64
	}{
		{name: "above max", override: 0.95, want: 0.85},
		{name: "below min", override: 0.10, want: 0.40},
		{name: "in range", override: 0.55, want: 0.55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := det.Detect(ctx, DetectRequest{
				ProjectID:         "proj",
				Output:            "short text",
				ThresholdOverride: floatPtr(tt.override),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.ThresholdUsed)
		})
	}
}

func TestBatchDetect(t *testing.T) {
	corroborated := "a well known fact"
	fabricated := "a surprising invention"

	provider := embeddings.NewStaticProvider(8)
	provider.SetVector(corroborated, []float32{1, 0})
	provider.SetVector(fabricated, []float32{0, 1})

	retriever := &stubRetriever{
		evidence: []memtypes.MemoryRecord{{
			MemoryID:  "mem-1",
			Content:   "the stored fact",
			Tier:      memtypes.TierMid,
			Embedding: []float32{1, 0},
		}},
	}
	det := newTestDetector(t, retriever, provider)

	result, err := det.BatchDetect(context.Background(), "proj",
		[]string{corroborated, fabricated}, nil)
	require.NoError(t, err)

	require.Len(t, result.Results, 2)
	assert.False(t, result.Results[0].IsHallucination)
	assert.True(t, result.Results[1].IsHallucination)
	assert.Equal(t, 0.5, result.HallucinationRate)
}

func TestBatchDetectEmpty(t *testing.T) {
	det := newTestDetector(t, &stubRetriever{}, embeddings.NewStaticProvider(8))
	_, err := det.BatchDetect(context.Background(), "proj", nil, nil)
	assert.True(t, memtypes.IsValidation(err))
}
