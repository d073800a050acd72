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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRecall/services/recall/detector"
)

// DetectRequest is the body of POST /v1/hallucination/detect.
type DetectRequest struct {
	ProjectID string                  `json:"project_id" binding:"required"`
	Output    string                  `json:"output" binding:"required"`
	Context   *detector.SignalContext `json:"context"`
	Threshold *float64                `json:"threshold"`
}

// DetectHallucination checks one generated output against the
// project's durable memories.
func DetectHallucination(det *detector.Detector) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DetectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		result, err := det.Detect(c.Request.Context(), detector.DetectRequest{
			ProjectID:         req.ProjectID,
			Output:            req.Output,
			Context:           req.Context,
			ThresholdOverride: req.Threshold,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// BatchDetectRequest is the body of POST /v1/hallucination/detect/batch.
type BatchDetectRequest struct {
	ProjectID string                  `json:"project_id" binding:"required"`
	Outputs   []string                `json:"outputs" binding:"required"`
	Context   *detector.SignalContext `json:"context"`
}

// BatchDetectHallucination checks a batch of outputs and reports the
// aggregate hallucination rate.
func BatchDetectHallucination(det *detector.Detector) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BatchDetectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		result, err := det.BatchDetect(c.Request.Context(), req.ProjectID, req.Outputs, req.Context)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}
