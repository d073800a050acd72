// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the REST surface over the memory
// coordinator and the hallucination detector.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRecall/services/recall/coordinator"
	"github.com/AleutianAI/AleutianRecall/services/recall/memtypes"
)

// StoreMemoryRequest is the body of POST /v1/memory.
type StoreMemoryRequest struct {
	ProjectID string            `json:"project_id" binding:"required"`
	Content   string            `json:"content" binding:"required"`
	Tier      string            `json:"tier" binding:"required"`
	Metadata  map[string]string `json:"metadata"`
}

// StoreMemory creates one memory record in the named tier.
func StoreMemory(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StoreMemoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		tier, err := memtypes.ParseTier(req.Tier)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		receipt, err := coord.Store(c.Request.Context(), coordinator.StoreRequest{
			ProjectID: req.ProjectID,
			Content:   req.Content,
			Tier:      tier,
			Metadata:  req.Metadata,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"memory_id": receipt.MemoryID,
			"tier":      receipt.Tier,
			"stored_at": receipt.StoredAt,
		})
	}
}

// RetrieveMemoryRequest is the body of POST /v1/memory/retrieve.
type RetrieveMemoryRequest struct {
	ProjectID string   `json:"project_id" binding:"required"`
	Query     string   `json:"query" binding:"required"`
	TopK      int      `json:"top_k"`
	Tiers     []string `json:"tiers"`
}

// RetrieveMemory runs a ranked, deduplicated retrieval across the
// requested tiers. Backend outages degrade tiers rather than failing
// the request; only malformed input produces an error status.
func RetrieveMemory(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RetrieveMemoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		tiers := make([]memtypes.Tier, 0, len(req.Tiers))
		for _, raw := range req.Tiers {
			tier, err := memtypes.ParseTier(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			tiers = append(tiers, tier)
		}

		result, err := coord.Retrieve(c.Request.Context(), coordinator.RetrieveRequest{
			ProjectID: req.ProjectID,
			Query:     req.Query,
			TopK:      req.TopK,
			Tiers:     tiers,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// UpdateMemoryRequest is the body of PUT /v1/memory.
type UpdateMemoryRequest struct {
	ProjectID   string            `json:"project_id" binding:"required"`
	MemoryID    string            `json:"memory_id" binding:"required"`
	Tier        string            `json:"tier" binding:"required"`
	NewContent  *string           `json:"new_content"`
	NewMetadata map[string]string `json:"new_metadata"`
}

// UpdateMemory mutates one record according to its tier's capability.
func UpdateMemory(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateMemoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		tier, err := memtypes.ParseTier(req.Tier)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err = coord.Update(c.Request.Context(), coordinator.UpdateRequest{
			ProjectID:   req.ProjectID,
			MemoryID:    req.MemoryID,
			Tier:        tier,
			NewContent:  req.NewContent,
			NewMetadata: req.NewMetadata,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"memory_id": req.MemoryID, "updated": true})
	}
}

// DeleteMemory removes one record from the named tier. Parameters come
// from the query string: project_id, memory_id, tier.
func DeleteMemory(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Query("project_id")
		memoryID := c.Query("memory_id")
		rawTier := c.Query("tier")
		if memoryID == "" || rawTier == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "memory_id and tier query parameters are required"})
			return
		}

		tier, err := memtypes.ParseTier(rawTier)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := coord.Delete(c.Request.Context(), projectID, memoryID, tier); err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"memory_id": memoryID, "deleted": true})
	}
}

// TokenSavings reports the project's cumulative token savings for the
// current UTC day.
func TokenSavings(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Query("project_id")
		total, err := coord.TokenSavedToday(c.Request.Context(), projectID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"project_id": projectID, "token_saved_today": total})
	}
}

// respondError maps the error taxonomy onto HTTP statuses: validation
// errors are the caller's to fix (400), a missing record is 404, an
// unsupported tier capability is 409, and an unreachable backend on a
// fail-closed path is 503.
func respondError(c *gin.Context, err error) {
	switch {
	case memtypes.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, memtypes.ErrMemoryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, memtypes.ErrUpdateUnsupported):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, memtypes.ErrBackendUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("unhandled request error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
