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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Query Pipeline
// =============================================================================

var (
	// pipelineRunsTotal counts pipeline runs by terminal status.
	// Labels: status (SUCCEEDED, FAILED_CORRECTION, BLOCKED_SENSITIVE,
	// RATE_LIMITED, FATAL)
	pipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "query",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Total pipeline runs by terminal status",
	}, []string{"status"})

	// pipelineAttempts observes synthesis cycles per run.
	pipelineAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "query",
		Subsystem: "pipeline",
		Name:      "attempts",
		Help:      "Synthesis cycles executed per pipeline run",
		Buckets:   []float64{1, 2, 3, 4, 5},
	})

	// pipelineDurationSeconds measures end-to-end run duration.
	// Labels: status
	pipelineDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "query",
		Subsystem: "pipeline",
		Name:      "duration_seconds",
		Help:      "End-to-end pipeline run duration including retry sleeps",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"status"})

	// gateBlockedTotal counts sensitive-data gate blocks by category.
	// Labels: category (ssn, credit_card, credential, medical, email, phone,
	// ip_address)
	gateBlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "query",
		Subsystem: "gate",
		Name:      "blocked_total",
		Help:      "Requests blocked by the sensitive-data gate, by category",
	}, []string{"category"})

	// invokerRetriesTotal counts rate-limit retries by stage.
	// Labels: stage (intent, synthesize, verify, validate)
	invokerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "query",
		Subsystem: "invoker",
		Name:      "retries_total",
		Help:      "Rate-limit retries by stage",
	}, []string{"stage"})

	// invokerSleepSeconds observes the retry delays actually honored.
	invokerSleepSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "query",
		Subsystem: "invoker",
		Name:      "sleep_seconds",
		Help:      "Retry delays honored by the invoker, including jitter",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 30},
	})

	// invokerAbortsTotal counts non-retryable invoker terminations.
	// Labels: stage, reason (fatal, quota_exhausted, hard_cap, local_limit,
	// canceled, attempts_exhausted)
	invokerAbortsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "query",
		Subsystem: "invoker",
		Name:      "aborts_total",
		Help:      "Invoker terminations without content, by stage and reason",
	}, []string{"stage", "reason"})

	// invokerRecoveriesTotal counts stage calls that succeeded after at
	// least one retry.
	// Labels: stage
	invokerRecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "query",
		Subsystem: "invoker",
		Name:      "recoveries_total",
		Help:      "Stage calls that succeeded after at least one retry",
	}, []string{"stage"})
)

// recordPipelineRun records the terminal status, attempt count, and duration
// of one pipeline run.
func recordPipelineRun(status string, attempts int, duration time.Duration) {
	pipelineRunsTotal.WithLabelValues(status).Inc()
	pipelineDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
	if attempts > 0 {
		pipelineAttempts.Observe(float64(attempts))
	}
}

// recordGateBlock records a sensitive-data block, one increment per matched
// category.
func recordGateBlock(scan ScanResult) {
	for _, category := range scan.Categories {
		gateBlockedTotal.WithLabelValues(category).Inc()
	}
}

// recordInvokerRetry records one honored retry delay.
func recordInvokerRetry(stage string, delaySeconds float64) {
	invokerRetriesTotal.WithLabelValues(stage).Inc()
	invokerSleepSeconds.Observe(delaySeconds)
}

// recordInvokerAbort records a stage call that terminated without content.
func recordInvokerAbort(stage, reason string) {
	invokerAbortsTotal.WithLabelValues(stage, reason).Inc()
}

// recordInvokerRetrySuccess records a stage call that recovered after retry.
func recordInvokerRetrySuccess(stage string, _ int) {
	invokerRecoveriesTotal.WithLabelValues(stage).Inc()
}
