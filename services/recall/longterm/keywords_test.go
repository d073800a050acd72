// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package longterm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "stopwords and short tokens dropped",
			input: "What is the Django framework?",
			want:  []string{"django", "framework"},
		},
		{
			name:  "duplicates removed preserving order",
			input: "database database schema Database",
			want:  []string{"database", "schema"},
		},
		{
			name:  "punctuation splits tokens",
			input: "uses Django, PostgreSQL; and Redis!",
			want:  []string{"uses", "django", "postgresql", "redis"},
		},
		{
			name:  "empty input",
			input: "",
			want:  []string{},
		},
		{
			name:  "only stopwords",
			input: "the of and is",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractKeywords(tt.input))
		})
	}
}

func TestKeywordOverlapRatio(t *testing.T) {
	keywords := ExtractKeywords("django postgresql database")

	tests := []struct {
		name    string
		content string
		want    float64
	}{
		{name: "all match", content: "The project uses Django and a PostgreSQL database", want: 1.0},
		{name: "partial match", content: "Django is the web framework", want: 1.0 / 3.0},
		{name: "case-insensitive", content: "DJANGO POSTGRESQL DATABASE", want: 1.0},
		{name: "no match", content: "Lunch is at noon", want: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, KeywordOverlapRatio(keywords, tt.content), 1e-9)
		})
	}

	assert.Equal(t, 0.0, KeywordOverlapRatio(nil, "anything"))
}
