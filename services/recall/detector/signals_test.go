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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountFencedCodeBlocks(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "none", text: "plain prose", want: 0},
		{name: "one block", text: "before ```go\nx\n``` after", want: 1},
		{name: "three blocks", text: strings.Repeat("```\nx\n```\n", 3), want: 3},
		{name: "unclosed fence", text: "```\nx", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, countFencedCodeBlocks(tt.text))
		})
	}
}

func TestCountListItems(t *testing.T) {
	text := "intro\n1. first\n2) second\n- third\n* fourth\nnot a list\n"
	assert.Equal(t, 4, countListItems(text))
	assert.Equal(t, 0, countListItems("no lists here"))
}

func TestCountTechnicalTerms(t *testing.T) {
	assert.GreaterOrEqual(t, countTechnicalTerms("the API queries the database via an endpoint"), 3)
	assert.Equal(t, 0, countTechnicalTerms("a walk in the park"))
	// Word-boundary match: "classic" is not "class".
	assert.Equal(t, 0, countTechnicalTerms("a classic apigram"))
}

func TestAdaptiveThresholdSignals(t *testing.T) {
	plain := "short plain text"

	tests := []struct {
		name   string
		output string
		sigCtx *SignalContext
		want   float64
	}{
		{
			name:   "no signals",
			output: plain,
			want:   0.65,
		},
		{
			name:   "long output",
			output: strings.Repeat("plain words here and more ", 10),
			want:   0.60,
		},
		{
			name:   "some code",
			output: "see ```\nx\n``` above",
			want:   0.62,
		},
		{
			name:   "dense code",
			output: strings.Repeat("```\nx\n```\n", 3),
			want:   0.57,
		},
		{
			name:   "technical density",
			output: "the api writes to the database through a cache",
			want:   0.60,
		},
		{
			name:   "scarce evidence",
			output: plain,
			sigCtx: &SignalContext{MemoryCount: intPtr(5)},
			want:   0.70,
		},
		{
			name:   "risky user",
			output: plain,
			sigCtx: &SignalContext{UserHallucinationRate: floatPtr(0.25)},
			want:   0.75,
		},
		{
			name:   "scarce and risky together",
			output: plain,
			sigCtx: &SignalContext{MemoryCount: intPtr(5), UserHallucinationRate: floatPtr(0.25)},
			want:   0.80,
		},
		{
			name:   "complex task by list items",
			output: "1. a\n2. b\n3. c\n4. d\n",
			want:   0.60,
		},
		{
			name:   "boundary values do not trigger",
			output: plain,
			sigCtx: &SignalContext{MemoryCount: intPtr(10), UserHallucinationRate: floatPtr(0.10)},
			want:   0.65,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := adaptiveThreshold(0.65, 0.40, 0.85, tt.output, tt.sigCtx)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestAdaptiveThresholdAlwaysClamped(t *testing.T) {
	// Exercise heavy combinations of all seven signals; whatever fires,
	// the result stays inside [0.40, 0.85].
	outputs := []string{
		"short",
		strings.Repeat("long plain filler text ", 30),
		strings.Repeat("```\nx\n```\n", 6) + strings.Repeat("api database cache endpoint query schema ", 5),
		"1. a\n2. b\n3. c\n4. d\n5. e\n" + strings.Repeat("thread runtime protocol container ", 10),
	}
	contexts := []*SignalContext{
		nil,
		{MemoryCount: intPtr(0)},
		{UserHallucinationRate: floatPtr(0.9)},
		{MemoryCount: intPtr(1), UserHallucinationRate: floatPtr(0.5)},
	}

	for _, output := range outputs {
		for _, sigCtx := range contexts {
			got, _ := adaptiveThreshold(0.65, 0.40, 0.85, output, sigCtx)
			require.GreaterOrEqual(t, got, 0.40)
			require.LessOrEqual(t, got, 0.85)
		}
	}
}

func TestAdaptiveThresholdReportsAppliedSignals(t *testing.T) {
	output := strings.Repeat("plain filler words here again ", 8) + "```\nx\n```"
	_, applied := adaptiveThreshold(0.65, 0.40, 0.85, output, nil)

	require.Len(t, applied, 2)
	assert.Contains(t, applied[0], "long output")
	assert.Contains(t, applied[1], "some code")
}
