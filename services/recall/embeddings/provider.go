// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embeddings defines the embedding contract the memory core
// consumes and provides an OpenAI-compatible implementation.
//
// The core never inspects vectors beyond dimension and similarity; the
// model behind the provider is interchangeable.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Sentinel errors for embedding operations.
var (
	// ErrEmptyText is returned when encode is called with empty input.
	ErrEmptyText = errors.New("cannot embed empty text")

	// ErrDimensionMismatch is returned when similarity is computed over
	// vectors of different lengths.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrProviderUnavailable wraps transport failures from the model
	// backend.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
)

// Provider turns text into fixed-dimension vectors.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Provider interface {
	// Encode returns the embedding vector for text.
	Encode(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the fixed vector dimension this provider emits.
	Dimension() int
}

// CosineSimilarity computes the cosine of the angle between two vectors.
//
// Description:
//
//	Returns a value in [-1, 1]; for text embeddings the practical range
//	is [0, 1]. A zero vector yields similarity 0 rather than NaN.
//
// Outputs:
//
//	float64 - The cosine similarity.
//	error - ErrDimensionMismatch if the vectors differ in length.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
