// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a       []float32
		b       []float32
		want    float64
		wantErr error
	}{
		{name: "identical", a: []float32{1, 0}, b: []float32{1, 0}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "partial", a: []float32{1, 0}, b: []float32{0.8, 0.6}, want: 0.8},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
		{name: "dimension mismatch", a: []float32{1}, b: []float32{1, 0}, wantErr: ErrDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestStaticProviderDeterminism(t *testing.T) {
	provider := NewStaticProvider(16)
	ctx := context.Background()

	first, err := provider.Encode(ctx, "the same text")
	require.NoError(t, err)
	second, err := provider.Encode(ctx, "the same text")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := provider.Encode(ctx, "different text")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	// Derived vectors are unit norm, so self-similarity is 1.
	sim, err := CosineSimilarity(first, second)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-5)
}

func TestStaticProviderOverride(t *testing.T) {
	provider := NewStaticProvider(8)
	provider.SetVector("pinned", []float32{0.8, 0.6})

	vec, err := provider.Encode(context.Background(), "pinned")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.8, 0.6}, vec)
}

func TestStaticProviderEmptyText(t *testing.T) {
	provider := NewStaticProvider(8)
	_, err := provider.Encode(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyText)
}
