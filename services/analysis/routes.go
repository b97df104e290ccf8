// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all analysis routes with the router.
//
// Description:
//
//	Registers the /v1/analysis/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/analysis/run - Run one N-1 vs N comparison analysis
//	GET  /v1/analysis/recent - List recently completed analyses
//	GET  /v1/analysis/:id - Fetch a stored analysis by id
//	GET  /v1/analysis/templates - List available prompt types
//	POST /v1/analysis/templates/reload - Reload the template document
//	GET  /v1/analysis/health - Health check
//	GET  /v1/analysis/ready - Readiness check
//
// Example:
//
//	service, _ := analysis.NewService(cfg, templates, opener, client, mock, backend, hist)
//	handlers := analysis.NewHandlers(service, hist)
//
//	v1 := router.Group("/v1")
//	analysis.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	a := rg.Group("/analysis")
	{
		a.POST("/run", handlers.HandleRun)

		// Static routes must be registered before the :id wildcard.
		a.GET("/recent", handlers.HandleRecent)
		a.GET("/templates", handlers.HandleTemplates)
		a.POST("/templates/reload", handlers.HandleTemplatesReload)

		a.GET("/health", handlers.HandleHealth)
		a.GET("/ready", handlers.HandleReady)

		a.GET("/:id", handlers.HandleGet)
	}
}
