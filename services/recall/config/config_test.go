// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "12230", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.ResultCacheTTL)
	assert.Equal(t, 100, cfg.ShortTermCapacity)
	assert.Equal(t, time.Hour, cfg.ShortTermTTL)
	assert.Equal(t, 5*time.Second, cfg.TierTimeout)
	assert.Equal(t, 0.65, cfg.BaseThreshold)
	assert.Equal(t, 0.40, cfg.MinThreshold)
	assert.Equal(t, 0.85, cfg.MaxThreshold)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RECALL_PORT", "9000")
	t.Setenv("RECALL_RESULT_CACHE_TTL_SECONDS", "120")
	t.Setenv("RECALL_SHORT_TERM_CAPACITY", "50")
	t.Setenv("RECALL_BASE_THRESHOLD", "0.70")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.ResultCacheTTL)
	assert.Equal(t, 50, cfg.ShortTermCapacity)
	assert.Equal(t, 0.70, cfg.BaseThreshold)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RECALL_SHORT_TERM_CAPACITY", "lots")
	t.Setenv("RECALL_BASE_THRESHOLD", "high")
	t.Setenv("RECALL_TIER_TIMEOUT_SECONDS", "-3")

	cfg := Load()
	assert.Equal(t, 100, cfg.ShortTermCapacity)
	assert.Equal(t, 0.65, cfg.BaseThreshold)
	assert.Equal(t, 5*time.Second, cfg.TierTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty port",
			mutate:  func(c *Config) { c.Port = "" },
			wantErr: "port",
		},
		{
			name:    "zero capacity",
			mutate:  func(c *Config) { c.ShortTermCapacity = 0 },
			wantErr: "capacity",
		},
		{
			name:    "inverted thresholds",
			mutate:  func(c *Config) { c.MinThreshold = 0.9 },
			wantErr: "min threshold",
		},
		{
			name:    "base outside clamp range",
			mutate:  func(c *Config) { c.BaseThreshold = 0.95 },
			wantErr: "base threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
