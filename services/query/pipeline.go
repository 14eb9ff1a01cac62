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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianQuery/services/llm"
)

// tracerName is the shared OTel tracer name for the query pipeline.
const tracerName = "aleutian.query"

// Pipeline orchestrates one natural-language-to-SQL run.
//
// Description:
//
//	Control flow: sensitive-data gate → context assembly → intent analysis →
//	correction loop (synthesis/verify/correct cycles) → safety validation →
//	confidence scoring. Every provider call goes through the rate-limit-aware
//	invoker. The pipeline is synchronous per request and keeps no state
//	between runs; concurrent runs are fully independent.
//
// Thread Safety: Safe for concurrent use. Configuration and collaborators
// are read-only after construction.
type Pipeline struct {
	cfg        Config
	completion llm.CompletionService
	scanner    SensitiveDataScanner
	assembler  *ContextAssembler
	invoker    *Invoker
	auditor    *Auditor
	logger     *slog.Logger
}

// NewPipeline wires a pipeline from its collaborators.
//
// Inputs:
//   - cfg: Pipeline configuration. Zero-value fields fall back to defaults.
//   - completion: The completion service. Must not be nil.
//   - scanner: Sensitive-data scanner. Falls back to the regex scanner when nil.
//   - glossary: Glossary collaborator. May be nil.
//   - schema: Schema collaborator. May be nil.
//   - logger: Structured logger. Falls back to slog.Default when nil.
//
// Outputs:
//   - *Pipeline: The configured pipeline.
func NewPipeline(cfg Config, completion llm.CompletionService, scanner SensitiveDataScanner,
	glossary GlossaryContext, schema SchemaContext, logger *slog.Logger) *Pipeline {

	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if scanner == nil {
		scanner = NewRegexScanner()
	}

	var limiter *ProviderLimiter
	if cfg.ProviderRateLimitPerMin > 0 {
		limiter = NewProviderLimiter(cfg.ProviderRateLimitPerMin)
	}

	return &Pipeline{
		cfg:        cfg,
		completion: completion,
		scanner:    scanner,
		assembler:  NewContextAssembler(glossary, schema, cfg.PromptCharLimit, cfg.MaxSchemaTables, logger),
		invoker:    NewInvoker(cfg.SoftCapSeconds, cfg.HardCapSeconds, cfg.MaxInvokeAttempts, limiter, logger),
		auditor:    NewAuditor(logger, cfg.AuditEnabled, cfg.AuditHashContent),
		logger:     logger,
	}
}

// Run executes the full pipeline for one request.
//
// Description:
//
//	Always returns a PipelineResult for classifiable outcomes (success,
//	correction exhaustion, sensitive-data block, rate limiting, quota
//	exhaustion). The only path that returns a non-nil error instead is an
//	unrecoverable fatal provider failure, which propagates to the caller.
//
// Inputs:
//   - ctx: Context for cancellation. A caller-side deadline aborts retry
//     sleeps inside the invoker.
//   - req: The request. Text must be non-empty.
//
// Outputs:
//   - *PipelineResult: The terminal result. Nil only when error is non-nil.
//   - error: ErrEmptyRequest or a fatal provider error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*PipelineResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyRequest
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "query.Pipeline.Run",
		oteltrace.WithAttributes(attribute.String("target", req.Target)),
	)
	defer span.End()

	runID := uuid.New().String()
	logger := p.logger.With(slog.String("run_id", runID))
	start := time.Now()

	// Gate first: blocked text must never reach a provider.
	scan := p.scanner.Scan(req.Text)
	p.auditor.LogScan(ctx, runID, req, scan)

	if !ShouldProceed(scan, p.cfg.StrictPII) {
		recordPipelineRun(StatusBlockedSensitive.String(), 0, time.Since(start))
		recordGateBlock(scan)
		logger.Warn("request blocked by sensitive-data gate",
			slog.String("risk", scan.Risk.String()),
			slog.Any("categories", scan.Categories),
		)
		span.SetStatus(codes.Error, "blocked by sensitive-data gate")
		result := &PipelineResult{
			Status: StatusBlockedSensitive,
			Scan:   scan,
			Error:  fmt.Sprintf("request contains sensitive data (risk %s)", scan.Risk),
		}
		p.auditor.LogOutcome(ctx, runID, result, time.Since(start))
		return result, nil
	}

	assembled := p.assembler.Assemble(ctx, req.Text)

	intent, perr := p.analyzeIntent(ctx, req, assembled)
	if perr != nil {
		return p.finishProviderError(ctx, span, logger, runID, scan, 0, perr, start)
	}

	out, perr := p.runCorrectionLoop(ctx, req, intent, assembled)
	if perr != nil {
		return p.finishProviderError(ctx, span, logger, runID, scan, out.Attempts, perr, start)
	}

	if !out.Succeeded {
		recordPipelineRun(StatusFailedCorrection.String(), out.Attempts, time.Since(start))
		logger.Warn("correction budget exhausted",
			slog.Int("attempts", out.Attempts),
			slog.String("last_error", out.LastError),
		)
		span.SetStatus(codes.Error, "correction budget exhausted")
		result := &PipelineResult{
			Status:       StatusFailedCorrection,
			Attempts:     out.Attempts,
			Scan:         scan,
			LastFeedback: out.LastFeedback,
			Error:        out.LastError,
			Trace:        out.Trace,
		}
		p.auditor.LogOutcome(ctx, runID, result, time.Since(start))
		return result, nil
	}

	validation, perr := p.validate(ctx, req, out.Text, assembled)
	if perr != nil {
		return p.finishProviderError(ctx, span, logger, runID, scan, out.Attempts, perr, start)
	}

	confidence := ScoreConfidence(StatusSucceeded, out.Attempts)
	recordPipelineRun(StatusSucceeded.String(), out.Attempts, time.Since(start))
	logger.Info("query synthesized",
		slog.Int("attempts", out.Attempts),
		slog.Float64("confidence", confidence),
		slog.Duration("duration", time.Since(start)),
	)
	span.SetAttributes(attribute.Int("attempts", out.Attempts))
	span.SetStatus(codes.Ok, "")

	result := &PipelineResult{
		Text:         out.Text,
		Confidence:   confidence,
		Attempts:     out.Attempts,
		Status:       StatusSucceeded,
		Scan:         scan,
		Validation:   validation,
		LastFeedback: out.LastFeedback,
		Trace:        out.Trace,
	}
	p.auditor.LogOutcome(ctx, runID, result, time.Since(start))
	return result, nil
}

// finishProviderError converts a classified provider error into the proper
// terminal outcome: rate-limit and quota errors become a RATE_LIMITED result
// (quota flagged non-transient), fatal errors propagate to the caller.
func (p *Pipeline) finishProviderError(
	ctx context.Context,
	span oteltrace.Span,
	logger *slog.Logger,
	runID string,
	scan ScanResult,
	attempts int,
	perr *ProviderError,
	start time.Time,
) (*PipelineResult, error) {
	switch perr.Kind {
	case ErrKindRateLimited, ErrKindQuotaExhausted:
		recordPipelineRun(StatusRateLimited.String(), attempts, time.Since(start))
		logger.Warn("pipeline rate limited",
			slog.String("kind", perr.Kind.String()),
			slog.String("error", llm.SafeLogString(perr.Message)),
		)
		span.SetStatus(codes.Error, perr.Kind.String())
		result := &PipelineResult{
			Status:            StatusRateLimited,
			Attempts:          attempts,
			Scan:              scan,
			Error:             llm.SafeLogString(perr.Message),
			RetryAfterSeconds: perr.RetryAfterSeconds,
			NonTransient:      perr.Kind == ErrKindQuotaExhausted,
		}
		p.auditor.LogOutcome(ctx, runID, result, time.Since(start))
		return result, nil
	default:
		recordPipelineRun("FATAL", attempts, time.Since(start))
		logger.Error("fatal provider error",
			slog.String("error", llm.SafeLogString(perr.Message)),
		)
		span.SetStatus(codes.Error, perr.Message)
		return nil, perr
	}
}
