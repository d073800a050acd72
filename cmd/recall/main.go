// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianRecall/services/recall/config"
	"github.com/AleutianAI/AleutianRecall/services/recall/coordinator"
	"github.com/AleutianAI/AleutianRecall/services/recall/detector"
	"github.com/AleutianAI/AleutianRecall/services/recall/embeddings"
	"github.com/AleutianAI/AleutianRecall/services/recall/handlers"
	"github.com/AleutianAI/AleutianRecall/services/recall/kvcache"
	"github.com/AleutianAI/AleutianRecall/services/recall/longterm"
	"github.com/AleutianAI/AleutianRecall/services/recall/memtypes"
	"github.com/AleutianAI/AleutianRecall/services/recall/midterm"
	"github.com/AleutianAI/AleutianRecall/services/recall/routes"
	"github.com/AleutianAI/AleutianRecall/services/recall/shortterm"
	"github.com/AleutianAI/AleutianRecall/services/recall/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	shutdown, err := telemetry.Init(context.Background(), telemetry.DefaultConfig())
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter("aleutian.ai/recall"))
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	// --- Embedded cache (short tier, result cache, counters) ---
	cacheCfg := kvcache.DefaultConfig()
	cacheCfg.Path = cfg.CachePath
	cache, err := kvcache.Open(cacheCfg)
	if err != nil {
		log.Fatalf("failed to open cache at %s: %v", cfg.CachePath, err)
	}
	defer cache.Close()

	shortStore, err := shortterm.New(cache, shortterm.Config{
		Capacity:  cfg.ShortTermCapacity,
		BucketTTL: cfg.ShortTermTTL,
	})
	if err != nil {
		log.Fatalf("failed to create short-term store: %v", err)
	}

	// --- Long tier (SQLite) ---
	longStore, err := longterm.Open(cfg.DatabasePath, longterm.Config{})
	if err != nil {
		log.Fatalf("failed to open long-term store at %s: %v", cfg.DatabasePath, err)
	}
	defer longStore.Close()

	// --- Mid tier (Weaviate); optional, service degrades without it ---
	stores := map[memtypes.Tier]memtypes.TierStore{
		memtypes.TierShort: shortStore,
		memtypes.TierLong:  longStore,
	}
	backends := map[string]handlers.Pinger{
		"long_term": longStore,
		"mid_term":  nil,
	}

	if midClient := newWeaviateClient(cfg.WeaviateURL); midClient != nil {
		if err := midterm.EnsureSchema(context.Background(), midClient); err != nil {
			slog.Warn("could not ensure mid-term schema; continuing degraded", "error", err)
		}
		midStore, err := midterm.New(midClient, midterm.Config{})
		if err != nil {
			log.Fatalf("failed to create mid-term store: %v", err)
		}
		stores[memtypes.TierMid] = midStore
		backends["mid_term"] = midStore
	} else {
		slog.Info("WEAVIATE_SERVICE_URL not set or invalid; running without the mid tier")
	}

	// --- Embedding provider ---
	provider, err := embeddings.NewOpenAIProvider()
	if err != nil {
		log.Fatalf("failed to create embedding provider: %v", err)
	}

	// --- Core ---
	coord, err := coordinator.New(stores, longStore, provider, cache, coordinator.Config{
		ResultCacheTTL: cfg.ResultCacheTTL,
		TierTimeout:    cfg.TierTimeout,
		Metrics:        metrics,
	})
	if err != nil {
		log.Fatalf("failed to create coordinator: %v", err)
	}

	det, err := detector.New(coord, provider, detector.Config{
		BaseThreshold: cfg.BaseThreshold,
		MinThreshold:  cfg.MinThreshold,
		MaxThreshold:  cfg.MaxThreshold,
		Metrics:       metrics,
	})
	if err != nil {
		log.Fatalf("failed to create detector: %v", err)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("recall-service"))
	routes.SetupRoutes(router, coord, det, backends, metrics)

	slog.Info("starting the recall server", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

// newWeaviateClient builds a client from the configured URL, nil when
// the URL is missing or malformed so the service can run without the
// mid tier.
func newWeaviateClient(rawURL string) *weaviate.Client {
	rawURL = strings.Trim(rawURL, "\"' ")
	if rawURL == "" || !strings.Contains(rawURL, "http") {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid; running without the mid tier",
			"url", rawURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		slog.Error("failed to create Weaviate client", "error", err)
		return nil
	}
	return client
}
