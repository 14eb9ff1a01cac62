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
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ErrorResponse is the JSON error body returned by all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// GenerateRequest is the body of POST /v1/query/generate.
type GenerateRequest struct {
	Question string `json:"question" binding:"required"`
	Target   string `json:"target"`
}

// GenerateResponse is the success/outcome body of POST /v1/query/generate.
type GenerateResponse struct {
	Status            string          `json:"status"`
	SQL               string          `json:"sql,omitempty"`
	Confidence        float64         `json:"confidence"`
	Attempts          int             `json:"attempts"`
	Risk              string          `json:"risk"`
	Categories        []string        `json:"categories,omitempty"`
	Validation        string          `json:"validation,omitempty"`
	LastFeedback      *CriticFeedback `json:"last_feedback,omitempty"`
	Error             string          `json:"error,omitempty"`
	RetryAfterSeconds *float64        `json:"retry_after_seconds,omitempty"`
	NonTransient      bool            `json:"non_transient,omitempty"`
	Trace             []Attempt       `json:"trace,omitempty"`
}

// Handlers serves the query HTTP API.
//
// Thread Safety: Safe for concurrent use (the pipeline is stateless per run).
type Handlers struct {
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewHandlers creates the HTTP handlers around a pipeline.
func NewHandlers(pipeline *Pipeline, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{pipeline: pipeline, logger: logger}
}

// HandleGenerate handles POST /v1/query/generate.
//
// Description:
//
//	Runs the full pipeline and maps the terminal status to HTTP semantics:
//
//	  SUCCEEDED          → 200 OK
//	  BLOCKED_SENSITIVE  → 422 Unprocessable Entity
//	  RATE_LIMITED       → 429 Too Many Requests (+ Retry-After when hinted)
//	  FAILED_CORRECTION  → 502 Bad Gateway (the upstream verifier kept
//	                       rejecting candidates)
//
//	Fatal provider errors surface as 500 with a generic body; the detail is
//	logged, not returned, because provider error text may embed secrets.
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleGenerate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleGenerate"))

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "question is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	result, err := h.pipeline.Run(c.Request.Context(), Request{Text: req.Question, Target: req.Target})
	if err != nil {
		if errors.Is(err, ErrEmptyRequest) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "question is empty",
				Code:  "MISSING_PARAMETER",
			})
			return
		}
		logger.Error("pipeline failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "query pipeline failed",
			Code:  "PIPELINE_ERROR",
		})
		return
	}

	body := GenerateResponse{
		Status:            result.Status.String(),
		SQL:               result.Text,
		Confidence:        result.Confidence,
		Attempts:          result.Attempts,
		Risk:              result.Scan.Risk.String(),
		Categories:        result.Scan.Categories,
		Validation:        result.Validation,
		LastFeedback:      result.LastFeedback,
		Error:             result.Error,
		RetryAfterSeconds: result.RetryAfterSeconds,
		NonTransient:      result.NonTransient,
		Trace:             result.Trace,
	}

	switch result.Status {
	case StatusSucceeded:
		c.JSON(http.StatusOK, body)
	case StatusBlockedSensitive:
		c.JSON(http.StatusUnprocessableEntity, body)
	case StatusRateLimited:
		if result.RetryAfterSeconds != nil && !result.NonTransient {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(*result.RetryAfterSeconds))))
		}
		c.JSON(http.StatusTooManyRequests, body)
	case StatusFailedCorrection:
		c.JSON(http.StatusBadGateway, body)
	default:
		c.JSON(http.StatusInternalServerError, body)
	}
}

// HandleHealth handles GET /v1/query/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /v1/query/ready. The service is ready as soon as
// the pipeline is constructed; there is no warm-up state to wait on.
func (h *Handlers) HandleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// getOrCreateRequestID returns the inbound X-Request-ID header or mints a
// new UUID, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
