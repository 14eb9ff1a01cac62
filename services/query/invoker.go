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
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianQuery/services/llm"
)

// StageFunc is one completion-service call. The invoker owns classification
// and retry of its errors; the function itself should not retry.
type StageFunc func(ctx context.Context) (string, error)

// Jitter bounds for retry delays, uniform in [jitterMin, jitterMax].
const (
	jitterMin = 150 * time.Millisecond
	jitterMax = 650 * time.Millisecond
)

// retryAfterPattern extracts a Go-style duration token from provider error
// text. Supports composite forms ("1h2m3s", "14m16.2s") and a bare seconds
// form ("12.5s", "45s").
var retryAfterPattern = regexp.MustCompile(`(?:\d+h)?(?:\d+m)?\d+(?:\.\d+)?s\b`)

// Invoker wraps a single completion-service call with detection, parsing,
// and bounded retry of provider rate-limit errors.
//
// Description:
//
//	Every pipeline stage calls the provider through Invoke. Non-rate-limit
//	errors propagate immediately as ErrKindFatal; "tokens per day" style
//	quota errors abort as ErrKindQuotaExhausted; rate-limit errors are
//	retried with the provider's parsed cooldown hint (or exponential backoff
//	when no hint is present), plus uniform jitter, up to MaxAttempts total
//	attempts. Two ceilings apply: delays above the soft cap are logged but
//	honored; delays above the hard cap abort the call rather than blocking
//	the caller for an unbounded time — the system's only explicit
//	backpressure mechanism.
//
//	Sleeps respect context cancellation, so a caller-side deadline aborts
//	mid-retry instead of waiting out the cooldown.
//
// Thread Safety: Safe for concurrent use (configuration is read-only).
type Invoker struct {
	softCap     time.Duration
	hardCap     time.Duration
	maxAttempts int
	limiter     *ProviderLimiter
	logger      *slog.Logger

	// sleep and jitter are injectable for tests. Defaults sleep on the
	// wall clock and draw uniform jitter.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewInvoker creates an invoker with the given ceilings.
//
// Inputs:
//   - softCapSeconds: Delays above this are logged as unusually long but
//     still honored. Default 10 when zero or negative.
//   - hardCapSeconds: Delays above this abort with ErrKindRateLimited.
//     Default 30 when zero or negative.
//   - maxAttempts: Total attempts per stage call. Default 6 when zero or
//     negative.
//   - limiter: Optional local pre-flight rate limiter. May be nil.
//   - logger: Structured logger. Falls back to slog.Default when nil.
//
// Outputs:
//   - *Invoker: The configured invoker.
func NewInvoker(softCapSeconds, hardCapSeconds float64, maxAttempts int, limiter *ProviderLimiter, logger *slog.Logger) *Invoker {
	if softCapSeconds <= 0 {
		softCapSeconds = 10
	}
	if hardCapSeconds <= 0 {
		hardCapSeconds = 30
	}
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		softCap:     time.Duration(softCapSeconds * float64(time.Second)),
		hardCap:     time.Duration(hardCapSeconds * float64(time.Second)),
		maxAttempts: maxAttempts,
		limiter:     limiter,
		logger:      logger,
		sleep:       sleepWithContext,
		jitter:      uniformJitter,
	}
}

// Invoke runs one stage call with bounded rate-limit retry.
//
// Inputs:
//   - ctx: Context for cancellation. Cancellation aborts retry sleeps.
//   - stage: Stage name for logging, metrics, and tracing ("intent",
//     "synthesize", "verify", "validate").
//   - fn: The completion-service call to run.
//
// Outputs:
//   - string: The completion content on success.
//   - *ProviderError: Exactly one of the three error kinds on failure.
//     Nil on success.
func (inv *Invoker) Invoke(ctx context.Context, stage string, fn StageFunc) (string, *ProviderError) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "query.Invoker.Invoke")
	span.SetAttributes(attribute.String("stage", stage))
	defer span.End()

	var lastHint *float64

	for attempt := 1; attempt <= inv.maxAttempts; attempt++ {
		if perr := inv.preFlight(ctx, stage); perr != nil {
			span.SetStatus(codes.Error, perr.Message)
			return "", perr
		}

		content, err := fn(ctx)
		if err == nil && content != "" {
			if attempt > 1 {
				recordInvokerRetrySuccess(stage, attempt)
			}
			span.SetStatus(codes.Ok, "")
			return content, nil
		}

		perr := classifyStageError(content, err)
		if !perr.Retryable() {
			recordInvokerAbort(stage, perr.Kind.String())
			span.RecordError(perr)
			span.SetStatus(codes.Error, perr.Message)
			return "", perr
		}

		if perr.RetryAfterSeconds != nil {
			lastHint = perr.RetryAfterSeconds
		}

		delay := inv.retryDelay(attempt, perr.RetryAfterSeconds)
		if delay > inv.hardCap {
			// Fail fast and let the caller decide whether to retry later.
			recordInvokerAbort(stage, "hard_cap")
			inv.logger.Warn("provider cooldown exceeds hard cap, aborting stage call",
				slog.String("stage", stage),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Duration("hard_cap", inv.hardCap),
			)
			span.SetStatus(codes.Error, "cooldown exceeds hard cap")
			return "", newRateLimited(llm.SafeLogString(perr.Message), perr.RetryAfterSeconds)
		}
		if delay > inv.softCap {
			inv.logger.Warn("provider cooldown exceeds soft cap, honoring anyway",
				slog.String("stage", stage),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Duration("soft_cap", inv.softCap),
			)
		}

		delay += inv.jitter()
		recordInvokerRetry(stage, delay.Seconds())
		inv.logger.Info("rate limited, retrying stage call",
			slog.String("stage", stage),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", inv.maxAttempts),
			slog.Duration("delay", delay),
		)

		if err := inv.sleep(ctx, delay); err != nil {
			recordInvokerAbort(stage, "canceled")
			span.SetStatus(codes.Error, "canceled during retry sleep")
			return "", newFatal("canceled while waiting out provider cooldown: " + err.Error())
		}
	}

	recordInvokerAbort(stage, "attempts_exhausted")
	span.SetStatus(codes.Error, "retry attempts exhausted")
	return "", newRateLimited("retry attempts exhausted", lastHint)
}

// preFlight consults the local sliding-window limiter before any network
// call. A local wait longer than the hard cap aborts like a provider-side
// cooldown would.
func (inv *Invoker) preFlight(ctx context.Context, stage string) *ProviderError {
	if inv.limiter == nil {
		return nil
	}
	for {
		allowed, wait := inv.limiter.Allow()
		if allowed {
			return nil
		}
		if wait > inv.hardCap {
			recordInvokerAbort(stage, "local_limit")
			secs := wait.Seconds()
			return newRateLimited("local provider rate limit reached", &secs)
		}
		inv.logger.Debug("local rate limit reached, waiting",
			slog.String("stage", stage),
			slog.Duration("wait", wait),
		)
		if err := inv.sleep(ctx, wait+inv.jitter()); err != nil {
			return newFatal("canceled while waiting on local rate limit: " + err.Error())
		}
	}
}

// retryDelay computes the pre-jitter delay for the given attempt: the
// provider hint when present, otherwise exponential backoff 2^attempt.
func (inv *Invoker) retryDelay(attempt int, hint *float64) time.Duration {
	if hint != nil {
		return time.Duration(*hint * float64(time.Second))
	}
	return time.Duration(math.Pow(2, float64(attempt)) * float64(time.Second))
}

// classifyStageError maps a stage call outcome onto the provider error
// taxonomy.
//
// Description:
//
//	Quota phrasing ("tokens per day", "quota exceeded/exhausted") is checked
//	first because providers embed it inside otherwise rate-limit-shaped
//	messages, and retrying a quota error cannot help. Rate-limit heuristics
//	cover the usual phrasings plus empty completions, which local inference
//	servers return under load. Everything else is fatal.
//
// Inputs:
//   - content: The completion content ("" counts as an empty completion).
//   - err: The stage error. May be nil when content is empty.
//
// Outputs:
//   - *ProviderError: Never nil.
func classifyStageError(content string, err error) *ProviderError {
	if err == nil {
		if content == "" {
			return newRateLimited("provider returned an empty completion", nil)
		}
		return newFatal("unclassifiable stage outcome")
	}

	var emptyErr *llm.EmptyResponseError
	if errors.As(err, &emptyErr) {
		return newRateLimited(err.Error(), nil)
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "tokens per day") ||
		strings.Contains(msg, "quota exceeded") ||
		strings.Contains(msg, "quota exhausted"):
		return newQuotaExhausted(err.Error())
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "returned 429"):
		return newRateLimited(err.Error(), parseRetryAfter(err.Error()))
	default:
		return newFatal(err.Error())
	}
}

// parseRetryAfter extracts a cooldown hint, in seconds, from provider error
// text.
//
// Description:
//
//	Providers phrase cooldowns as Go-style duration tokens, e.g.
//	"Rate limit reached ... Please try again in 14m16.2s." The first token
//	matching <h>h<m>m<s[.frac]>s (or a bare <seconds>s) is parsed with
//	time.ParseDuration.
//
// Inputs:
//   - text: The raw provider error text.
//
// Outputs:
//   - *float64: The cooldown in seconds, nil when no token parses.
func parseRetryAfter(text string) *float64 {
	token := retryAfterPattern.FindString(text)
	if token == "" {
		return nil
	}
	d, err := time.ParseDuration(token)
	if err != nil || d <= 0 {
		return nil
	}
	secs := d.Seconds()
	return &secs
}

// sleepWithContext blocks for d or until the context is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// uniformJitter draws a delay uniformly from [jitterMin, jitterMax].
func uniformJitter() time.Duration {
	return jitterMin + time.Duration(rand.Int63n(int64(jitterMax-jitterMin)))
}
