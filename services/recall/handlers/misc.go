// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pinger is any backend exposing a reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck reports service liveness plus per-backend reachability.
//
// Description:
//
//	The service itself stays "ok" while a backend is down, because
//	retrieval degrades instead of failing; the per-backend statuses let
//	operators see which tiers are currently degraded.
func HealthCheck(backends map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses := make(map[string]string, len(backends))
		degraded := false
		for name, backend := range backends {
			if backend == nil {
				statuses[name] = "unwired"
				degraded = true
				continue
			}
			if err := backend.Ping(c.Request.Context()); err != nil {
				statuses[name] = "unreachable"
				degraded = true
				continue
			}
			statuses[name] = "ok"
		}

		status := "ok"
		if degraded {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   status,
			"backends": statuses,
		})
	}
}
