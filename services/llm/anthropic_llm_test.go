// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnthropicComplete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q", got)
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.MaxTokens != 512 {
			t.Errorf("max_tokens = %d", req.MaxTokens)
		}

		resp := anthropicResponse{
			Content: []anthropicContent{
				{Type: "text", Text: "SELECT "},
				{Type: "text", Text: "1"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatal(err)
		}
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-sonnet-4-20250514", server.URL)
	content, err := client.Complete(context.Background(), "write sql", 512, 0.0)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// Text blocks are concatenated in order.
	if content != "SELECT 1" {
		t.Errorf("content = %q", content)
	}
}

func TestAnthropicComplete_QuotaPhrasingPreserved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "Your account has exceeded its tokens per day limit."}}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-sonnet-4-20250514", server.URL)
	_, err := client.Complete(context.Background(), "write sql", 0, 0)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "tokens per day") {
		t.Errorf("quota phrasing must survive for classification: %v", err)
	}
}

func TestAnthropicComplete_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content": []}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-sonnet-4-20250514", server.URL)
	_, err := client.Complete(context.Background(), "write sql", 0, 0)

	var emptyErr *EmptyResponseError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("err = %v, want EmptyResponseError", err)
	}
	if emptyErr.Provider != "anthropic" {
		t.Errorf("provider = %q", emptyErr.Provider)
	}
}

func TestAnthropicComplete_DefaultMaxTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		// The Messages API rejects max_tokens <= 0, so zero must be replaced.
		if req.MaxTokens != 1024 {
			t.Errorf("max_tokens = %d, want default 1024", req.MaxTokens)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "ok"}]}`))
	}))
	defer server.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-sonnet-4-20250514", server.URL)
	if _, err := client.Complete(context.Background(), "write sql", 0, 0); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestNewAnthropicClient_MissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	if _, err := NewAnthropicClient(); err == nil {
		t.Error("missing ANTHROPIC_API_KEY should error")
	}
}
