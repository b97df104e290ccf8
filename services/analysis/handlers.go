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
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/CellScope/services/analysis/faults"
	"github.com/AleutianAI/CellScope/services/analysis/history"
)

// maxRequestBytes bounds an inbound request body.
const maxRequestBytes = 1 << 20

// Handlers exposes the analysis service over HTTP.
type Handlers struct {
	service *Service
	history *history.Store
}

// NewHandlers creates the handler set. hist may be nil.
func NewHandlers(service *Service, hist *history.Store) *Handlers {
	return &Handlers{service: service, history: hist}
}

// HandleRun runs one analysis.
//
// POST /v1/analysis/run
func (h *Handlers) HandleRun(c *gin.Context) {
	start := time.Now()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, FormatError(
			faults.Wrap(err, faults.KindRequestInvalid, "reading request body")))
		return
	}

	req, err := DecodeRequest(body)
	if err != nil {
		RecordAnalysis("invalid", 0)
		c.JSON(faults.HTTPStatus(err), FormatError(err))
		return
	}

	result, err := h.service.Run(c.Request.Context(), req)
	if err != nil {
		outcome := "error"
		switch faults.KindOf(err) {
		case faults.KindStoreFailure, faults.KindStoreResultTooLarge:
			outcome = "store_error"
		case faults.KindLLMUnavailable:
			outcome = "llm_unavailable"
		}
		RecordAnalysis(outcome, time.Since(start).Seconds())
		c.JSON(faults.HTTPStatus(err), FormatError(err))
		return
	}

	c.JSON(http.StatusOK, FormatSuccess(result, time.Since(start)))
}

// HandleGet returns a stored analysis by id.
//
// GET /v1/analysis/:id
func (h *Handlers) HandleGet(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history store disabled"})
		return
	}

	result, err := h.history.Get(c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
		return
	}
	if err != nil {
		slog.Error("history get failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history read failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleRecent lists recent analyses.
//
// GET /v1/analysis/recent?limit=N
func (h *Handlers) HandleRecent(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"results": []any{}})
		return
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	results, err := h.history.Recent(limit)
	if err != nil {
		slog.Error("history recent failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history read failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// HandleTemplates lists available prompt types.
//
// GET /v1/analysis/templates
func (h *Handlers) HandleTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": h.service.templates.Version(),
		"types":   h.service.templates.Available(),
	})
}

// HandleTemplatesReload reloads the template document from disk.
//
// POST /v1/analysis/templates/reload
func (h *Handlers) HandleTemplatesReload(c *gin.Context) {
	if err := h.service.templates.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, FormatError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "reloaded",
		"version": h.service.templates.Version(),
	})
}

// HandleHealth is the liveness check.
//
// GET /v1/analysis/health
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady is the readiness check.
//
// GET /v1/analysis/ready
func (h *Handlers) HandleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
