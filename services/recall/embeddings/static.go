// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"
)

// StaticProvider is a deterministic, model-free provider for tests and
// lightweight mode. Vectors are derived from a hash of the input, so
// identical text always embeds identically and different text almost
// never collides. Fixed-text overrides allow pinning exact similarity
// values in tests.
//
// Thread Safety: Safe for concurrent use.
type StaticProvider struct {
	dimension int

	mu        sync.RWMutex
	overrides map[string][]float32
}

// NewStaticProvider creates a deterministic provider with the given
// dimension (minimum 8).
func NewStaticProvider(dimension int) *StaticProvider {
	if dimension < 8 {
		dimension = 8
	}
	return &StaticProvider{
		dimension: dimension,
		overrides: make(map[string][]float32),
	}
}

// SetVector pins the exact vector returned for a given text.
func (p *StaticProvider) SetVector(text string, vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[text] = vec
}

// Encode derives a unit-norm vector from the text's hash.
func (p *StaticProvider) Encode(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	if vec, ok := p.overrides[text]; ok {
		p.mu.RUnlock()
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
	p.mu.RUnlock()

	vec := make([]float32, p.dimension)
	seed := sha256.Sum256([]byte(text))
	var norm float64
	for i := range vec {
		// Re-hash per block of 8 components for enough entropy.
		if i%8 == 0 && i > 0 {
			seed = sha256.Sum256(seed[:])
		}
		bits := binary.BigEndian.Uint32(seed[(i%8)*4 : (i%8)*4+4])
		v := float32(bits%2000)/1000.0 - 1.0
		vec[i] = v
		norm += float64(v) * float64(v)
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// Dimension returns the configured vector dimension.
func (p *StaticProvider) Dimension() int {
	return p.dimension
}

var _ Provider = (*StaticProvider)(nil)
var _ Provider = (*OpenAIProvider)(nil)
