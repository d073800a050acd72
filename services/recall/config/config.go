// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the Recall service's environment-driven
// configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the service-level configuration, populated from the
// environment by Load.
type Config struct {
	// Port is the HTTP listen port (RECALL_PORT).
	Port string

	// WeaviateURL is the mid-tier ANN backend URL
	// (WEAVIATE_SERVICE_URL). Empty runs the service without the mid
	// tier (degraded mode).
	WeaviateURL string

	// CachePath is the BadgerDB directory (RECALL_CACHE_PATH).
	CachePath string

	// DatabasePath is the long-term SQLite file (RECALL_DB_PATH).
	DatabasePath string

	// ResultCacheTTL is the retrieval result cache lifetime
	// (RECALL_RESULT_CACHE_TTL_SECONDS).
	ResultCacheTTL time.Duration

	// ShortTermCapacity caps per-project short-tier residency
	// (RECALL_SHORT_TERM_CAPACITY).
	ShortTermCapacity int

	// ShortTermTTL is the short-tier sliding bucket expiry
	// (RECALL_SHORT_TERM_TTL_SECONDS).
	ShortTermTTL time.Duration

	// TierTimeout bounds each tier call during retrieval fan-out
	// (RECALL_TIER_TIMEOUT_SECONDS).
	TierTimeout time.Duration

	// BaseThreshold is the detector's adaptive starting point
	// (RECALL_BASE_THRESHOLD).
	BaseThreshold float64

	// MinThreshold / MaxThreshold clamp every detection threshold
	// (RECALL_MIN_THRESHOLD / RECALL_MAX_THRESHOLD).
	MinThreshold float64
	MaxThreshold float64
}

// Load reads configuration from the environment, falling back to
// defaults for anything unset.
func Load() Config {
	return Config{
		Port:              getEnvOr("RECALL_PORT", "12230"),
		WeaviateURL:       os.Getenv("WEAVIATE_SERVICE_URL"),
		CachePath:         getEnvOr("RECALL_CACHE_PATH", "/data/recall/cache"),
		DatabasePath:      getEnvOr("RECALL_DB_PATH", "/data/recall/memories.db"),
		ResultCacheTTL:    getDurationSecondsOr("RECALL_RESULT_CACHE_TTL_SECONDS", 5*time.Minute),
		ShortTermCapacity: getIntOr("RECALL_SHORT_TERM_CAPACITY", 100),
		ShortTermTTL:      getDurationSecondsOr("RECALL_SHORT_TERM_TTL_SECONDS", time.Hour),
		TierTimeout:       getDurationSecondsOr("RECALL_TIER_TIMEOUT_SECONDS", 5*time.Second),
		BaseThreshold:     getFloatOr("RECALL_BASE_THRESHOLD", 0.65),
		MinThreshold:      getFloatOr("RECALL_MIN_THRESHOLD", 0.40),
		MaxThreshold:      getFloatOr("RECALL_MAX_THRESHOLD", 0.85),
	}
}

// Validate rejects configurations that cannot work.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if c.CachePath == "" {
		return fmt.Errorf("cache path must not be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if c.ShortTermCapacity <= 0 {
		return fmt.Errorf("short-term capacity must be positive, got %d", c.ShortTermCapacity)
	}
	if c.MinThreshold >= c.MaxThreshold {
		return fmt.Errorf("min threshold %.2f must be below max threshold %.2f",
			c.MinThreshold, c.MaxThreshold)
	}
	if c.BaseThreshold < c.MinThreshold || c.BaseThreshold > c.MaxThreshold {
		return fmt.Errorf("base threshold %.2f must be within [%.2f, %.2f]",
			c.BaseThreshold, c.MinThreshold, c.MaxThreshold)
	}
	return nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDurationSecondsOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
