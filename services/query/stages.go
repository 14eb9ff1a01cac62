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
	"strings"
)

// stages.go holds the typed stage functions (intent analysis, synthesis,
// dry-run verification, safety validation) and their prompt construction.
// Each stage is one completion call routed through the invoker; none of them
// retry on their own.

// Stage names used in logs, metrics, and spans.
const (
	stageIntent     = "intent"
	stageSynthesize = "synthesize"
	stageVerify     = "verify"
	stageValidate   = "validate"
)

// Per-stage generation ceilings. Verification and validation are analytical
// and get lower temperature than synthesis.
const (
	intentMaxTokens     = 512
	synthesisMaxTokens  = 1024
	verifyMaxTokens     = 1024
	validateMaxTokens   = 512
	analysisTemperature = 0.0
	synthesisTemp       = 0.2
)

const intentPromptTemplate = `You are a data analyst. Analyze the intent of the following business question against database %q.

Question: %s
%s
Describe, in a short paragraph, what the question is asking for: the entities involved, the aggregation or filtering required, and any time ranges. Do not write SQL.`

const synthesisPromptTemplate = `You are an expert SQL engineer. Write a single SQL statement for database %q that answers the question below. Return only the SQL statement, no explanation and no markdown fences.

Question: %s

Intent analysis:
%s
%s%s`

const verifyPromptTemplate = `You are a SQL reviewer performing a dry-run critique. Inspect the candidate SQL below for correctness and safety against the provided context. Do not execute it.

Candidate SQL:
%s
%s
Respond with a JSON object only: {"status": "ok"} if the candidate is acceptable, or {"status": "error", "error_message": "...", "correction_plan": "...", "corrected_sql": "...", "issues": ["..."]} if not. The corrected_sql field is optional.`

const validatePromptTemplate = `You are a SQL safety auditor. Review the accepted SQL below for safety and alignment with the original question. Summarize any residual concerns in plain text; say "no concerns" if there are none.

Question: %s

Accepted SQL:
%s
%s`

// analyzeIntent runs the one-time intent-analysis stage.
func (p *Pipeline) analyzeIntent(ctx context.Context, req Request, assembled AssembledContext) (string, *ProviderError) {
	prompt := fmt.Sprintf(intentPromptTemplate, req.Target, req.Text, contextBlock(assembled))
	return p.invoker.Invoke(ctx, stageIntent, func(ctx context.Context) (string, error) {
		return p.completion.Complete(ctx, prompt, intentMaxTokens, analysisTemperature)
	})
}

// synthesize produces one candidate SQL statement. correctionNote is empty
// on the first attempt and carries the previous cycle's verifier failure on
// later attempts.
func (p *Pipeline) synthesize(ctx context.Context, req Request, intent string, assembled AssembledContext, correctionNote string) (string, *ProviderError) {
	note := ""
	if correctionNote != "" {
		note = "\nA previous attempt was rejected. " + correctionNote + "\n"
	}
	prompt := fmt.Sprintf(synthesisPromptTemplate, req.Target, req.Text, intent, contextBlock(assembled), note)
	content, perr := p.invoker.Invoke(ctx, stageSynthesize, func(ctx context.Context) (string, error) {
		return p.completion.Complete(ctx, prompt, synthesisMaxTokens, synthesisTemp)
	})
	if perr != nil {
		return "", perr
	}
	return strings.TrimSpace(stripCodeFences(content)), nil
}

// verify submits a candidate to the dry-run verifier and parses its verdict.
func (p *Pipeline) verify(ctx context.Context, candidate string, assembled AssembledContext) (CriticFeedback, *ProviderError) {
	prompt := fmt.Sprintf(verifyPromptTemplate, candidate, contextBlock(assembled))
	content, perr := p.invoker.Invoke(ctx, stageVerify, func(ctx context.Context) (string, error) {
		return p.completion.Complete(ctx, prompt, verifyMaxTokens, analysisTemperature)
	})
	if perr != nil {
		return CriticFeedback{}, perr
	}
	return ParseCriticFeedback(content), nil
}

// validate runs the final, non-correcting safety pass. Its raw output is
// surfaced verbatim to the caller and never gates the result.
func (p *Pipeline) validate(ctx context.Context, req Request, accepted string, assembled AssembledContext) (string, *ProviderError) {
	prompt := fmt.Sprintf(validatePromptTemplate, req.Text, accepted, contextBlock(assembled))
	return p.invoker.Invoke(ctx, stageValidate, func(ctx context.Context) (string, error) {
		return p.completion.Complete(ctx, prompt, validateMaxTokens, analysisTemperature)
	})
}

// contextBlock renders the assembled context as a prompt section. Returns an
// empty string when there is no context so prompts stay compact.
func contextBlock(assembled AssembledContext) string {
	var sb strings.Builder
	if assembled.Glossary != "" {
		sb.WriteString("\nBusiness glossary:\n")
		sb.WriteString(assembled.Glossary)
		sb.WriteString("\n")
	}
	if assembled.Schema != "" {
		sb.WriteString("\nRelevant schema:\n")
		sb.WriteString(assembled.Schema)
		sb.WriteString("\n")
	}
	return sb.String()
}
