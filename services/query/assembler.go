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
	"log/slog"
)

// GlossaryContext resolves business terms in the question into definitions
// the synthesizer can use. Provided by the host application.
//
// Thread Safety: Implementations must be safe for concurrent use.
type GlossaryContext interface {
	// Enrich returns glossary context for the given question.
	Enrich(ctx context.Context, question string) (string, error)
}

// SchemaContext retrieves the schema fragments most relevant to the
// question. Provided by the host application.
//
// Thread Safety: Implementations must be safe for concurrent use.
type SchemaContext interface {
	// BuildFocusedContext returns schema context limited to maxTables tables.
	BuildFocusedContext(ctx context.Context, question string, maxTables int) (string, error)
}

// AssembledContext is the glossary and schema material for one run, already
// truncated to the prompt character budget.
type AssembledContext struct {
	Glossary string
	Schema   string
}

// ContextAssembler fetches glossary and schema context from the external
// collaborators and truncates each to a configurable character budget.
//
// Description:
//
//	Collaborator failures degrade gracefully: a failing glossary or schema
//	lookup is logged and yields an empty context string rather than failing
//	the run, since context is enrichment, not a correctness requirement.
//
// Thread Safety: Safe for concurrent use (configuration is read-only).
type ContextAssembler struct {
	glossary  GlossaryContext
	schema    SchemaContext
	charLimit int
	maxTables int
	logger    *slog.Logger
}

// NewContextAssembler creates an assembler.
//
// Inputs:
//   - glossary: Glossary collaborator. May be nil (no glossary context).
//   - schema: Schema collaborator. May be nil (no schema context).
//   - charLimit: Character budget per context string. Non-positive means
//     unlimited.
//   - maxTables: Table cap passed to the schema collaborator.
//   - logger: Structured logger. Falls back to slog.Default when nil.
func NewContextAssembler(glossary GlossaryContext, schema SchemaContext, charLimit, maxTables int, logger *slog.Logger) *ContextAssembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextAssembler{
		glossary:  glossary,
		schema:    schema,
		charLimit: charLimit,
		maxTables: maxTables,
		logger:    logger,
	}
}

// Assemble fetches and truncates the context strings for one question.
func (a *ContextAssembler) Assemble(ctx context.Context, question string) AssembledContext {
	var out AssembledContext

	if a.glossary != nil {
		text, err := a.glossary.Enrich(ctx, question)
		if err != nil {
			a.logger.Warn("glossary context unavailable, continuing without it",
				slog.String("error", err.Error()))
		} else {
			out.Glossary = a.truncate(text)
		}
	}

	if a.schema != nil {
		text, err := a.schema.BuildFocusedContext(ctx, question, a.maxTables)
		if err != nil {
			a.logger.Warn("schema context unavailable, continuing without it",
				slog.String("error", err.Error()))
		} else {
			out.Schema = a.truncate(text)
		}
	}

	return out
}

// truncate cuts text at the character budget on a rune boundary.
func (a *ContextAssembler) truncate(text string) string {
	if a.charLimit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= a.charLimit {
		return text
	}
	return string(runes[:a.charLimit])
}

// NoOpGlossary returns no glossary context.
//
// Description:
//
//	Used as a fallback when the host application has no glossary service
//	configured. Keeps the pipeline wiring uniform instead of sprinkling nil
//	checks through the stages.
//
// Thread Safety: Safe for concurrent use.
type NoOpGlossary struct{}

// Enrich always returns an empty context.
func (NoOpGlossary) Enrich(_ context.Context, _ string) (string, error) {
	return "", nil
}

// NoOpSchema returns no schema context.
//
// Thread Safety: Safe for concurrent use.
type NoOpSchema struct{}

// BuildFocusedContext always returns an empty context.
func (NoOpSchema) BuildFocusedContext(_ context.Context, _ string, _ int) (string, error) {
	return "", nil
}
