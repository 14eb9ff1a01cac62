// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query turns a natural-language business question into a verified
// SQL statement. The pipeline runs a pre-flight sensitive-data gate, an
// intent-analysis stage, a bounded synthesis/verify/correct loop, and a final
// advisory safety validation. Every LLM call goes through a rate-limit-aware
// invoker that classifies provider errors into a typed taxonomy (fatal, rate
// limited, quota exhausted) instead of letting raw exceptions cross the
// pipeline boundary.
//
// The pipeline is stateless between invocations: all entities below are
// created fresh per request and returned inline in the PipelineResult.
//
// Thread Safety:
//
//	All exported types are safe for concurrent use unless documented otherwise.
package query

import (
	"errors"
	"fmt"
)

// Request is one natural-language query request. Immutable for the lifetime
// of a single pipeline run.
//
// Fields:
//   - Text: The user's question in natural language.
//   - Target: Logical identifier of the target database.
type Request struct {
	Text   string
	Target string
}

// =============================================================================
// Sensitive-Data Scan
// =============================================================================

// RiskLevel grades how risky it is to send scanned text to an external
// completion provider.
type RiskLevel int

const (
	// RiskLow is incidental low-sensitivity content (e.g., IP addresses).
	RiskLow RiskLevel = iota

	// RiskMedium is indirect personal content (e.g., email addresses).
	RiskMedium

	// RiskHigh is directly identifying or credential content.
	RiskHigh

	// RiskCritical is content that must never leave the environment
	// (government IDs, payment card numbers). Always blocks the pipeline.
	RiskCritical
)

// String returns the human-readable name of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// ScanResult is the outcome of one sensitive-data scan. Produced once before
// any provider call and attached read-only to every pipeline outcome.
//
// Thread Safety: ScanResult is a value type. Safe to copy.
type ScanResult struct {
	// ContainsSensitiveData is true if any category pattern matched.
	ContainsSensitiveData bool `json:"contains_sensitive_data"`

	// Risk is the highest risk level among all matched categories.
	Risk RiskLevel `json:"-"`

	// Categories lists the matched category names (e.g., "ssn", "email").
	Categories []string `json:"categories,omitempty"`
}

// =============================================================================
// Provider Error Taxonomy
// =============================================================================

// ProviderErrorKind discriminates the tagged union of classifiable provider
// failures. Only rate-limited errors are ever retried.
type ProviderErrorKind int

const (
	// ErrKindFatal is a non-retryable provider failure (auth, malformed
	// request, unexpected exception). Propagated immediately.
	ErrKindFatal ProviderErrorKind = iota

	// ErrKindRateLimited is transient provider backpressure. Retried with a
	// bounded, capped delay inside the invoker.
	ErrKindRateLimited

	// ErrKindQuotaExhausted is a persistent daily/monthly cap. Retrying soon
	// is futile, so the invoker aborts immediately.
	ErrKindQuotaExhausted
)

// String returns the taxonomy name of the error kind.
func (k ProviderErrorKind) String() string {
	switch k {
	case ErrKindFatal:
		return "fatal"
	case ErrKindRateLimited:
		return "rate_limited"
	case ErrKindQuotaExhausted:
		return "quota_exhausted"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ProviderError is a classified completion-provider failure.
//
// Description:
//
//	Replaces retry-via-exception control flow with an explicit result type
//	threaded through the invoker. RetryAfterSeconds is only meaningful for
//	ErrKindRateLimited and may be nil when the provider gave no cooldown hint.
//
// Thread Safety: ProviderError is immutable after construction.
type ProviderError struct {
	Kind              ProviderErrorKind
	Message           string
	RetryAfterSeconds *float64
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.RetryAfterSeconds != nil {
		return fmt.Sprintf("provider %s: %s (retry after %.1fs)", e.Kind, e.Message, *e.RetryAfterSeconds)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the invoker may retry after this error.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ErrKindRateLimited
}

// newFatal builds a fatal (non-retryable) provider error.
func newFatal(message string) *ProviderError {
	return &ProviderError{Kind: ErrKindFatal, Message: message}
}

// newRateLimited builds a transient rate-limit error with an optional
// cooldown hint in seconds.
func newRateLimited(message string, retryAfter *float64) *ProviderError {
	return &ProviderError{Kind: ErrKindRateLimited, Message: message, RetryAfterSeconds: retryAfter}
}

// newQuotaExhausted builds a persistent quota-exhaustion error.
func newQuotaExhausted(message string) *ProviderError {
	return &ProviderError{Kind: ErrKindQuotaExhausted, Message: message}
}

// =============================================================================
// Verifier Feedback
// =============================================================================

// FeedbackStatus is the structured verdict of one dry-run verification.
type FeedbackStatus int

const (
	// FeedbackOK means the verifier accepted the candidate.
	FeedbackOK FeedbackStatus = iota

	// FeedbackError means the verifier rejected the candidate.
	FeedbackError
)

// String returns "ok" or "error".
func (s FeedbackStatus) String() string {
	if s == FeedbackOK {
		return "ok"
	}
	return "error"
}

// CriticFeedback is the parsed verdict of one verifier response. One instance
// is produced per correction-loop iteration; the sequence forms the audit
// trail for the run.
//
// Fields:
//   - Status: OK or ERROR.
//   - ErrorMessage: What the verifier found wrong (empty on OK).
//   - CorrectionPlan: How the verifier suggests fixing it (empty on OK).
//   - CorrectedText: Verifier-supplied corrected SQL, empty if none given.
//   - Issues: Individual issue strings, if the verifier itemized them.
//   - Raw: The verbatim verifier output, kept for audit.
//
// Thread Safety: CriticFeedback is a value type. Safe to copy.
type CriticFeedback struct {
	Status         FeedbackStatus `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CorrectionPlan string         `json:"correction_plan,omitempty"`
	CorrectedText  string         `json:"corrected_text,omitempty"`
	Issues         []string       `json:"issues,omitempty"`
	Raw            string         `json:"raw,omitempty"`
}

// Attempt records one synthesis cycle: the candidate produced and the
// verifier's verdict on it. Ephemeral — appended to the run's trace and
// returned inline, never persisted.
type Attempt struct {
	Index         int            `json:"index"`
	CandidateText string         `json:"candidate_text"`
	Feedback      CriticFeedback `json:"feedback"`
}

// =============================================================================
// Pipeline Result
// =============================================================================

// Status is the terminal state of one pipeline run.
type Status int

const (
	// StatusSucceeded means a candidate passed dry-run verification.
	StatusSucceeded Status = iota

	// StatusFailedCorrection means the verifier rejected every candidate
	// within the retry budget.
	StatusFailedCorrection

	// StatusBlockedSensitive means the sensitive-data gate stopped the run
	// before any provider call was made.
	StatusBlockedSensitive

	// StatusRateLimited means a provider rate limit or quota could not be
	// absorbed by the invoker's bounded retries.
	StatusRateLimited
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "SUCCEEDED"
	case StatusFailedCorrection:
		return "FAILED_CORRECTION"
	case StatusBlockedSensitive:
		return "BLOCKED_SENSITIVE"
	case StatusRateLimited:
		return "RATE_LIMITED"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// PipelineResult is the terminal, immutable value returned by Pipeline.Run.
//
// Invariants:
//   - Text is non-empty iff Status == StatusSucceeded.
//   - Confidence == 0 iff Status != StatusSucceeded.
//   - Attempts equals the number of synthesis cycles actually executed
//     (0 if the run never reached the correction loop).
//
// Thread Safety: PipelineResult is immutable once constructed.
type PipelineResult struct {
	// Text is the accepted SQL statement, empty unless the run succeeded.
	Text string `json:"text,omitempty"`

	// Confidence is a scalar in [0,1] reflecting how much correction was
	// needed to reach the accepted result. Zero for any non-success status.
	Confidence float64 `json:"confidence"`

	// Attempts is the number of synthesis cycles executed.
	Attempts int `json:"attempts"`

	// Status is the terminal state of the run.
	Status Status `json:"-"`

	// Scan is the sensitive-data scan outcome, attached to every result.
	Scan ScanResult `json:"scan"`

	// Validation is the raw advisory output of the safety validator,
	// present only on the success path. Never gates the result.
	Validation string `json:"validation,omitempty"`

	// LastFeedback is the verifier verdict from the final cycle, if the run
	// reached the correction loop.
	LastFeedback *CriticFeedback `json:"last_feedback,omitempty"`

	// Error is the terminal error message for non-success statuses.
	Error string `json:"error,omitempty"`

	// RetryAfterSeconds carries the provider cooldown hint when Status is
	// StatusRateLimited and a hint was available.
	RetryAfterSeconds *float64 `json:"retry_after_seconds,omitempty"`

	// NonTransient is true when the rate-limit outcome was caused by quota
	// exhaustion: the caller should not retry soon.
	NonTransient bool `json:"non_transient,omitempty"`

	// Trace is the per-attempt audit trail, returned inline.
	Trace []Attempt `json:"trace,omitempty"`
}

// ErrEmptyRequest is returned by Pipeline.Run when the request text is blank.
var ErrEmptyRequest = errors.New("query: request text is empty")
