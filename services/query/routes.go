// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all query routes with the router.
//
// Description:
//
//	Registers the /v1/query/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/query/generate - Run the natural-language-to-SQL pipeline
//	GET  /v1/query/health - Health check
//	GET  /v1/query/ready - Readiness check
//
// Example:
//
//	pipeline := query.NewPipeline(query.DefaultConfig(), completion, nil, nil, nil, nil)
//	handlers := query.NewHandlers(pipeline, nil)
//
//	v1 := router.Group("/v1")
//	query.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	q := rg.Group("/query")
	{
		q.POST("/generate", handlers.HandleGenerate)

		q.GET("/health", handlers.HandleHealth)
		q.GET("/ready", handlers.HandleReady)
	}
}
