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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// loopOutcome is the terminal state of one correction loop run.
//
// Invariant: Attempts counts the synthesis cycles actually executed,
// 1 <= Attempts <= maxRetries on every path that entered the loop.
type loopOutcome struct {
	Succeeded    bool
	Text         string
	Attempts     int
	Trace        []Attempt
	LastFeedback *CriticFeedback
	LastError    string
}

// runCorrectionLoop drives the synthesis/verify/correct state machine.
//
// Description:
//
//	Per cycle: synthesize a candidate (folding in the previous cycle's
//	correction note), submit it to the dry-run verifier, and either accept
//	(OK verdict) or build the next correction note from the verifier's
//	error message and plan. The loop is single-pass-accept: an OK verdict is
//	never second-guessed, and when the verifier supplies no corrected text
//	the unmodified candidate from that cycle is trusted.
//
//	Only the latest cycle's feedback feeds the next synthesis prompt;
//	earlier attempts' feedback is kept in the trace but not re-injected.
//
//	Provider errors are not absorbed here: fatal, quota, and rate-limit
//	errors all propagate to the pipeline, which turns them into the
//	appropriate terminal outcome.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - req: The original request.
//   - intent: Intent-analysis output, computed once before the loop.
//   - assembled: Glossary and schema context.
//
// Outputs:
//   - loopOutcome: Terminal loop state. Meaningful only when the error is nil.
//   - *ProviderError: Non-nil when a stage call failed past the invoker.
func (p *Pipeline) runCorrectionLoop(ctx context.Context, req Request, intent string, assembled AssembledContext) (loopOutcome, *ProviderError) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "query.Pipeline.correctionLoop")
	defer span.End()

	out := loopOutcome{}
	correctionNote := ""

	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		out.Attempts = attempt

		candidate, perr := p.synthesize(ctx, req, intent, assembled, correctionNote)
		if perr != nil {
			span.SetStatus(codes.Error, perr.Message)
			return out, perr
		}

		feedback, perr := p.verify(ctx, candidate, assembled)
		if perr != nil {
			span.SetStatus(codes.Error, perr.Message)
			return out, perr
		}

		out.LastFeedback = &feedback
		out.Trace = append(out.Trace, Attempt{
			Index:         attempt,
			CandidateText: candidate,
			Feedback:      feedback,
		})
		p.auditor.LogAttempt(ctx, attempt, candidate, feedback)

		if feedback.Status == FeedbackOK {
			out.Succeeded = true
			out.Text = candidate
			if feedback.CorrectedText != "" {
				out.Text = feedback.CorrectedText
			}
			span.SetAttributes(attribute.Int("attempts", attempt))
			span.SetStatus(codes.Ok, "")
			return out, nil
		}

		correctionNote = fmt.Sprintf("Error: %s. Plan: %s", feedback.ErrorMessage, feedback.CorrectionPlan)
		out.LastError = feedback.ErrorMessage
		p.logger.Info("candidate rejected by verifier",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", p.cfg.MaxRetries),
			slog.String("error", feedback.ErrorMessage),
		)
	}

	span.SetAttributes(attribute.Int("attempts", out.Attempts))
	span.SetStatus(codes.Error, "correction budget exhausted")
	return out, nil
}
