// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides completion clients for the model providers the query
// pipeline can generate against, plus log redaction for provider error text.
package llm

import (
	"context"
	"fmt"
)

// CompletionService is the single-turn completion interface the query
// pipeline generates through.
//
// Description:
//
//	Implementations send one prompt and return the model's text. Provider
//	failures are returned as errors with the provider's own phrasing
//	preserved (after redaction) because callers classify errors by message
//	content, e.g. rate-limit and quota detection.
//
// Thread Safety: Implementations must be safe for concurrent use.
type CompletionService interface {
	// Complete sends a single prompt and returns the completion text.
	//
	// Inputs:
	//   - ctx: Context for cancellation and timeout.
	//   - prompt: The full prompt, including any instructions and context.
	//   - maxTokens: Upper bound on completion length. Zero means provider
	//     default.
	//   - temperature: Sampling temperature. Use 0.0 for deterministic
	//     analysis tasks.
	//
	// Outputs:
	//   - string: The completion text. May be empty when the provider
	//     returned a well-formed but contentless response.
	//   - error: Non-nil on transport or provider failure.
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// EmptyResponseError reports a well-formed provider response that carried no
// usable text. Local inference servers under load often return these instead
// of an explicit 429, so callers treat them as retryable.
type EmptyResponseError struct {
	Provider string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("%s: provider returned an empty completion", e.Provider)
}
