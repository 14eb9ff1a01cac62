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
	"strings"
	"sync"
	"testing"
)

// mockCompletion scripts the completion service per stage. The stage is
// recognized from prompt markers, which keeps the mock independent of call
// ordering details.
type mockCompletion struct {
	mu      sync.Mutex
	prompts []string

	intentResponse   string
	synthResponses   []string // consumed in order, last one repeats
	verifyResponses  []string // consumed in order, last one repeats
	validateResponse string

	// err, when set for a stage, makes that stage fail every time.
	intentErr error
	synthErr  error
	verifyErr error
}

func (m *mockCompletion) Complete(_ context.Context, prompt string, _ int, _ float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)

	switch {
	case strings.Contains(prompt, "Analyze the intent"):
		if m.intentErr != nil {
			return "", m.intentErr
		}
		return m.intentResponse, nil
	case strings.Contains(prompt, "expert SQL engineer"):
		if m.synthErr != nil {
			return "", m.synthErr
		}
		return takeScripted(&m.synthResponses), nil
	case strings.Contains(prompt, "dry-run critique"):
		if m.verifyErr != nil {
			return "", m.verifyErr
		}
		return takeScripted(&m.verifyResponses), nil
	case strings.Contains(prompt, "safety auditor"):
		return m.validateResponse, nil
	default:
		return "", errors.New("unrecognized stage prompt")
	}
}

// takeScripted pops the next scripted response, repeating the last one once
// the script runs out.
func takeScripted(responses *[]string) string {
	if len(*responses) == 0 {
		return ""
	}
	head := (*responses)[0]
	if len(*responses) > 1 {
		*responses = (*responses)[1:]
	}
	return head
}

func (m *mockCompletion) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func (m *mockCompletion) promptsFor(marker string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.prompts {
		if strings.Contains(p, marker) {
			out = append(out, p)
		}
	}
	return out
}

func newTestPipeline(mock *mockCompletion, cfg Config) *Pipeline {
	return NewPipeline(cfg, mock, nil, nil, nil, nil)
}

func okVerdict() string { return `{"status": "ok"}` }

func TestPipelineRun_FirstAttemptSucceeds(t *testing.T) {
	mock := &mockCompletion{
		intentResponse:   "count of orders in the last month",
		synthResponses:   []string{"SELECT count(*) FROM orders WHERE shipped_at > now() - interval '1 month'"},
		verifyResponses:  []string{okVerdict()},
		validateResponse: "no concerns",
	}
	p := newTestPipeline(mock, Config{})

	result, err := p.Run(context.Background(), Request{Text: "How many orders shipped last month?", Target: "sales"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != StatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", result.Status)
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
	if result.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", result.Confidence)
	}
	if !strings.HasPrefix(result.Text, "SELECT count(*)") {
		t.Errorf("text = %q", result.Text)
	}
	if result.Validation != "no concerns" {
		t.Errorf("validation = %q", result.Validation)
	}
	if len(result.Trace) != 1 {
		t.Errorf("trace length = %d, want 1", len(result.Trace))
	}
}

func TestPipelineRun_CorrectionCycleRecovers(t *testing.T) {
	mock := &mockCompletion{
		intentResponse:   "intent",
		synthResponses:   []string{"SELECT * FROM oders", "SELECT * FROM orders"},
		verifyResponses:  []string{`{"status": "error", "error_message": "table oders does not exist", "correction_plan": "use orders"}`, okVerdict()},
		validateResponse: "no concerns",
	}
	p := newTestPipeline(mock, Config{})

	result, err := p.Run(context.Background(), Request{Text: "List orders", Target: "sales"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != StatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", result.Status)
	}
	if result.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", result.Attempts)
	}
	if result.Confidence != 0.90 {
		t.Errorf("confidence = %v, want 0.90", result.Confidence)
	}
	if result.Text != "SELECT * FROM orders" {
		t.Errorf("text = %q", result.Text)
	}
	if len(result.Trace) != 2 {
		t.Fatalf("trace length = %d, want 2", len(result.Trace))
	}
	if result.Trace[0].Feedback.Status != FeedbackError || result.Trace[1].Feedback.Status != FeedbackOK {
		t.Errorf("trace verdicts = %s, %s", result.Trace[0].Feedback.Status, result.Trace[1].Feedback.Status)
	}

	// The second synthesis prompt must fold in the verifier's failure, in the
	// fixed correction-note shape.
	synthPrompts := mock.promptsFor("expert SQL engineer")
	if len(synthPrompts) != 2 {
		t.Fatalf("synthesis prompts = %d, want 2", len(synthPrompts))
	}
	if strings.Contains(synthPrompts[0], "A previous attempt was rejected") {
		t.Error("first synthesis prompt should carry no correction note")
	}
	if !strings.Contains(synthPrompts[1], "Error: table oders does not exist. Plan: use orders") {
		t.Errorf("correction note missing from second synthesis prompt:\n%s", synthPrompts[1])
	}
}

func TestPipelineRun_CorrectionBudgetExhausted(t *testing.T) {
	mock := &mockCompletion{
		intentResponse:  "intent",
		synthResponses:  []string{"SELECT broken"},
		verifyResponses: []string{`{"status": "error", "error_message": "syntax error", "correction_plan": "fix it"}`},
	}
	p := newTestPipeline(mock, Config{MaxRetries: 3})

	result, err := p.Run(context.Background(), Request{Text: "List orders"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != StatusFailedCorrection {
		t.Fatalf("status = %s, want FAILED_CORRECTION", result.Status)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
	if result.Confidence != 0.0 {
		t.Errorf("confidence = %v, want 0.0", result.Confidence)
	}
	if result.Text != "" {
		t.Errorf("failed run must not carry text, got %q", result.Text)
	}
	if result.Error != "syntax error" {
		t.Errorf("error = %q, want the last verifier message", result.Error)
	}
	if len(result.Trace) != 3 {
		t.Errorf("trace length = %d, want 3", len(result.Trace))
	}
	// No validation stage on the failure path.
	if got := mock.promptsFor("safety auditor"); len(got) != 0 {
		t.Errorf("validation should not run after correction exhaustion, got %d calls", len(got))
	}
}

func TestPipelineRun_GateBlocksBeforeAnyProviderCall(t *testing.T) {
	mock := &mockCompletion{}
	p := newTestPipeline(mock, Config{})

	result, err := p.Run(context.Background(), Request{Text: "Find the customer with SSN 123-45-6789"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != StatusBlockedSensitive {
		t.Fatalf("status = %s, want BLOCKED_SENSITIVE", result.Status)
	}
	if mock.callCount() != 0 {
		t.Errorf("blocked request reached the provider: %d calls", mock.callCount())
	}
	if result.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", result.Attempts)
	}
	if result.Confidence != 0.0 {
		t.Errorf("confidence = %v, want 0.0", result.Confidence)
	}
	if !result.Scan.ContainsSensitiveData || result.Scan.Risk != RiskCritical {
		t.Errorf("scan = %+v", result.Scan)
	}
}

func TestPipelineRun_StrictModeBlocksMediumRisk(t *testing.T) {
	mock := &mockCompletion{}
	p := newTestPipeline(mock, Config{StrictPII: true})

	result, err := p.Run(context.Background(), Request{Text: "orders placed by jane@example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusBlockedSensitive {
		t.Errorf("status = %s, want BLOCKED_SENSITIVE in strict mode", result.Status)
	}
	if mock.callCount() != 0 {
		t.Errorf("blocked request reached the provider: %d calls", mock.callCount())
	}
}

func TestPipelineRun_LenientModeAllowsMediumRisk(t *testing.T) {
	mock := &mockCompletion{
		intentResponse:   "intent",
		synthResponses:   []string{"SELECT 1"},
		verifyResponses:  []string{okVerdict()},
		validateResponse: "no concerns",
	}
	p := newTestPipeline(mock, Config{StrictPII: false})

	result, err := p.Run(context.Background(), Request{Text: "orders placed by jane@example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusSucceeded {
		t.Errorf("status = %s, want SUCCEEDED", result.Status)
	}
	if !result.Scan.ContainsSensitiveData {
		t.Error("scan outcome should still be attached to the result")
	}
}

func TestPipelineRun_QuotaExhaustionIsNonTransient(t *testing.T) {
	mock := &mockCompletion{
		intentErr: errors.New("anthropic: API returned status 429: your account has exceeded its tokens per day limit"),
	}
	p := newTestPipeline(mock, Config{})

	result, err := p.Run(context.Background(), Request{Text: "List orders"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != StatusRateLimited {
		t.Fatalf("status = %s, want RATE_LIMITED", result.Status)
	}
	if !result.NonTransient {
		t.Error("quota exhaustion must be flagged non-transient")
	}
	if result.Confidence != 0.0 {
		t.Errorf("confidence = %v, want 0.0", result.Confidence)
	}
	if mock.callCount() != 1 {
		t.Errorf("quota error should abort after one call, got %d", mock.callCount())
	}
}

func TestPipelineRun_RateLimitPastHardCap(t *testing.T) {
	// A 45s cooldown exceeds the default 30s hard cap, so the run terminates
	// as RATE_LIMITED without sleeping.
	mock := &mockCompletion{
		intentResponse: "intent",
		synthErr:       errors.New("rate limit reached, try again in 45s"),
	}
	p := newTestPipeline(mock, Config{})

	result, err := p.Run(context.Background(), Request{Text: "List orders"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != StatusRateLimited {
		t.Fatalf("status = %s, want RATE_LIMITED", result.Status)
	}
	if result.NonTransient {
		t.Error("plain rate limiting should stay transient")
	}
	if result.RetryAfterSeconds == nil || *result.RetryAfterSeconds != 45 {
		t.Errorf("retry hint = %v, want 45", result.RetryAfterSeconds)
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
}

func TestPipelineRun_FatalErrorPropagates(t *testing.T) {
	mock := &mockCompletion{
		intentErr: errors.New("openai: API returned status 401: invalid api key"),
	}
	p := newTestPipeline(mock, Config{})

	result, err := p.Run(context.Background(), Request{Text: "List orders"})
	if err == nil {
		t.Fatal("fatal provider error should propagate")
	}
	if result != nil {
		t.Errorf("result should be nil on fatal error, got %+v", result)
	}
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Kind != ErrKindFatal {
		t.Errorf("err = %v, want a fatal ProviderError", err)
	}
}

func TestPipelineRun_EmptyRequest(t *testing.T) {
	p := newTestPipeline(&mockCompletion{}, Config{})

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := p.Run(context.Background(), Request{Text: text})
		if !errors.Is(err, ErrEmptyRequest) {
			t.Errorf("Run(%q) err = %v, want ErrEmptyRequest", text, err)
		}
	}
}

func TestPipelineRun_VerifierCorrectedTextWins(t *testing.T) {
	mock := &mockCompletion{
		intentResponse:   "intent",
		synthResponses:   []string{"SELECT * FROM orders"},
		verifyResponses:  []string{`{"status": "ok", "corrected_sql": "SELECT id, total FROM orders"}`},
		validateResponse: "no concerns",
	}
	p := newTestPipeline(mock, Config{})

	result, err := p.Run(context.Background(), Request{Text: "List orders"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "SELECT id, total FROM orders" {
		t.Errorf("text = %q, want the verifier's corrected SQL", result.Text)
	}
}

func TestPipelineRun_OKWithoutCorrectedTextTrustsCandidate(t *testing.T) {
	mock := &mockCompletion{
		intentResponse:   "intent",
		synthResponses:   []string{"SELECT id FROM orders"},
		verifyResponses:  []string{okVerdict()},
		validateResponse: "no concerns",
	}
	p := newTestPipeline(mock, Config{})

	result, err := p.Run(context.Background(), Request{Text: "List orders"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "SELECT id FROM orders" {
		t.Errorf("text = %q, want the unmodified candidate", result.Text)
	}
}

func TestPipelineRun_StripsSynthesisFences(t *testing.T) {
	mock := &mockCompletion{
		intentResponse:   "intent",
		synthResponses:   []string{"```sql\nSELECT 1\n```"},
		verifyResponses:  []string{okVerdict()},
		validateResponse: "no concerns",
	}
	p := newTestPipeline(mock, Config{})

	result, err := p.Run(context.Background(), Request{Text: "List orders"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "SELECT 1" {
		t.Errorf("text = %q, want fences stripped", result.Text)
	}
}

func TestPipelineRun_InvariantTextOnlyOnSuccess(t *testing.T) {
	// Every non-success terminal state must have empty Text and zero
	// Confidence.
	runs := []struct {
		name string
		mock *mockCompletion
		cfg  Config
	}{
		{
			name: "blocked",
			mock: &mockCompletion{},
			cfg:  Config{},
		},
		{
			name: "failed correction",
			mock: &mockCompletion{
				intentResponse:  "intent",
				synthResponses:  []string{"SELECT broken"},
				verifyResponses: []string{`{"status": "error", "error_message": "nope"}`},
			},
			cfg: Config{},
		},
		{
			name: "rate limited",
			mock: &mockCompletion{
				intentErr: errors.New("quota exhausted"),
			},
			cfg: Config{},
		},
	}

	texts := map[string]string{
		"blocked":           "Find the customer with SSN 123-45-6789",
		"failed correction": "List orders",
		"rate limited":      "List orders",
	}

	for _, tc := range runs {
		p := newTestPipeline(tc.mock, tc.cfg)
		result, err := p.Run(context.Background(), Request{Text: texts[tc.name]})
		if err != nil {
			t.Fatalf("%s: Run: %v", tc.name, err)
		}
		if result.Status == StatusSucceeded {
			t.Fatalf("%s: unexpected success", tc.name)
		}
		if result.Text != "" {
			t.Errorf("%s: non-success result carries text %q", tc.name, result.Text)
		}
		if result.Confidence != 0.0 {
			t.Errorf("%s: non-success confidence = %v", tc.name, result.Confidence)
		}
	}
}
