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
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Registration does not touch the backends, so nil collaborators are
// fine for asserting the route table.
func newRegisteredRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, nil, nil, nil, nil)
	return router
}

func TestSetupRoutesRegistersSurface(t *testing.T) {
	router := newRegisteredRouter()

	want := []string{
		"GET /health",
		"POST /v1/memory",
		"POST /v1/memory/retrieve",
		"PUT /v1/memory",
		"DELETE /v1/memory",
		"GET /v1/memory/stats",
		"POST /v1/hallucination/detect",
		"POST /v1/hallucination/detect/batch",
	}

	got := make([]string, 0, len(router.Routes()))
	for _, route := range router.Routes() {
		got = append(got, route.Method+" "+route.Path)
	}
	for _, key := range want {
		assert.Contains(t, got, key)
	}
}

func TestHealthRouteResponds(t *testing.T) {
	router := newRegisteredRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	router := newRegisteredRouter()

	req := httptest.NewRequest(http.MethodGet, "/v1/nothing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
