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
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Auditor produces structured audit log entries for pipeline events.
//
// Description:
//
//	Logs scan outcomes, per-attempt verifier verdicts, and terminal results
//	using slog. Entries carry the run ID, OTel trace/span IDs when present,
//	and a SHA256 content hash of the request text (if enabled) so the trail
//	can prove what was processed without storing the text itself. Nothing is
//	persisted — the audit trail is observability output only.
//
// Thread Safety: Safe for concurrent use (slog.Logger is concurrent-safe).
type Auditor struct {
	logger      *slog.Logger
	enabled     bool
	hashContent bool
}

// NewAuditor creates an auditor.
//
// Inputs:
//   - logger: The structured logger for audit output.
//   - enabled: Whether audit logging is active.
//   - hashContent: Whether to include SHA256 content hashes in entries.
func NewAuditor(logger *slog.Logger, enabled, hashContent bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:      logger,
		enabled:     enabled,
		hashContent: hashContent,
	}
}

// LogScan logs the sensitive-data scan outcome for one run.
func (a *Auditor) LogScan(ctx context.Context, runID string, req Request, scan ScanResult) {
	if !a.enabled {
		return
	}

	attrs := []any{
		slog.String("event", "query_scan"),
		slog.String("run_id", runID),
		slog.String("target", req.Target),
		slog.Bool("sensitive", scan.ContainsSensitiveData),
		slog.String("risk", scan.Risk.String()),
		slog.Any("categories", scan.Categories),
		slog.Int64("timestamp", time.Now().UnixMilli()),
	}
	if a.hashContent {
		attrs = append(attrs, slog.String("content_hash", HashContent([]byte(req.Text))))
	}

	a.loggerWithTrace(ctx).Info("query scan", attrs...)
}

// LogAttempt logs one correction-loop cycle: the candidate produced and the
// verifier's verdict on it.
func (a *Auditor) LogAttempt(ctx context.Context, attempt int, candidate string, feedback CriticFeedback) {
	if !a.enabled {
		return
	}

	attrs := []any{
		slog.String("event", "query_attempt"),
		slog.Int("attempt", attempt),
		slog.String("verdict", feedback.Status.String()),
		slog.Int64("timestamp", time.Now().UnixMilli()),
	}
	if a.hashContent {
		attrs = append(attrs, slog.String("candidate_hash", HashContent([]byte(candidate))))
	}
	if feedback.Status == FeedbackError {
		attrs = append(attrs, slog.String("error", feedback.ErrorMessage))
	}

	a.loggerWithTrace(ctx).Info("query attempt", attrs...)
}

// LogOutcome logs the terminal result of one run.
func (a *Auditor) LogOutcome(ctx context.Context, runID string, result *PipelineResult, duration time.Duration) {
	if !a.enabled || result == nil {
		return
	}

	attrs := []any{
		slog.String("event", "query_outcome"),
		slog.String("run_id", runID),
		slog.String("status", result.Status.String()),
		slog.Int("attempts", result.Attempts),
		slog.Float64("confidence", result.Confidence),
		slog.Int64("duration_ms", duration.Milliseconds()),
		slog.Int64("timestamp", time.Now().UnixMilli()),
	}
	if result.Error != "" {
		attrs = append(attrs, slog.String("error", result.Error))
	}
	if a.hashContent && result.Text != "" {
		attrs = append(attrs, slog.String("text_hash", HashContent([]byte(result.Text))))
	}

	a.loggerWithTrace(ctx).Info("query outcome", attrs...)
}

// loggerWithTrace returns a logger enriched with trace context.
func (a *Auditor) loggerWithTrace(ctx context.Context) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return a.logger
	}
	return a.logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// HashContent computes the SHA256 hex digest of content for audit purposes.
// Returns empty string for empty input.
func HashContent(content []byte) string {
	if len(content) == 0 {
		return ""
	}
	sum := sha256.Sum256(content)
	return fmt.Sprintf("%x", sum)
}
