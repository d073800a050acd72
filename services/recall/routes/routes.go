// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianRecall/services/recall/coordinator"
	"github.com/AleutianAI/AleutianRecall/services/recall/detector"
	"github.com/AleutianAI/AleutianRecall/services/recall/handlers"
	"github.com/AleutianAI/AleutianRecall/services/recall/telemetry"
)

// SetupRoutes registers the Recall service's REST surface.
func SetupRoutes(router *gin.Engine, coord *coordinator.Coordinator, det *detector.Detector,
	backends map[string]handlers.Pinger, metrics *telemetry.Metrics) {

	if metrics != nil {
		router.Use(requestMetrics(metrics))
	}

	router.GET("/health", handlers.HealthCheck(backends))

	if metricsHandler := telemetry.MetricsHandler(); metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		memory := v1.Group("/memory")
		{
			memory.POST("", handlers.StoreMemory(coord))
			memory.POST("/retrieve", handlers.RetrieveMemory(coord))
			memory.PUT("", handlers.UpdateMemory(coord))
			memory.DELETE("", handlers.DeleteMemory(coord))
			memory.GET("/stats", handlers.TokenSavings(coord))
		}

		hallucination := v1.Group("/hallucination")
		{
			hallucination.POST("/detect", handlers.DetectHallucination(det))
			hallucination.POST("/detect/batch", handlers.BatchDetectHallucination(det))
		}
	}
}

// requestMetrics records per-request counters and latency.
func requestMetrics(m *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		ctx := c.Request.Context()
		status := c.Writer.Status()
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", c.FullPath()),
			attribute.Int("status", status),
		)
		m.HTTPRequestsTotal.Add(ctx, 1, attrs)
		m.HTTPRequestDuration.Record(ctx, time.Since(started).Seconds(), attrs)

		if status >= http.StatusInternalServerError {
			m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("component", "http"),
				attribute.String("type", http.StatusText(status)),
			))
		}
	}
}
