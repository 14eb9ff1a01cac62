// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type generateRequest struct {
	Question string `json:"question"`
	Target   string `json:"target,omitempty"`
}

type generateResponse struct {
	Status            string    `json:"status"`
	SQL               string    `json:"sql"`
	Confidence        float64   `json:"confidence"`
	Attempts          int       `json:"attempts"`
	Risk              string    `json:"risk"`
	Categories        []string  `json:"categories"`
	Validation        string    `json:"validation"`
	Error             string    `json:"error"`
	RetryAfterSeconds *float64  `json:"retry_after_seconds"`
	NonTransient      bool      `json:"non_transient"`
	Trace             []attempt `json:"trace"`
}

type attempt struct {
	Index    int      `json:"index"`
	Feedback feedback `json:"feedback"`
}

type feedback struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Plan         string `json:"correction_plan,omitempty"`
}

func runAskCommand(_ *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	fmt.Printf("Asking: %s\n", question)
	fmt.Println("---")

	resp, status, err := sendGenerateRequest(question, targetFlag)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	switch resp.Status {
	case "SUCCEEDED":
		fmt.Printf("\nSQL (confidence %.2f, %d attempt(s)):\n%s\n", resp.Confidence, resp.Attempts, resp.SQL)
		if resp.Validation != "" {
			fmt.Printf("\nValidation: %s\n", resp.Validation)
		}
	case "BLOCKED_SENSITIVE":
		fmt.Printf("\nBlocked: the question contains sensitive data (risk %s)\n", resp.Risk)
		if len(resp.Categories) > 0 {
			fmt.Printf("Categories: %s\n", strings.Join(resp.Categories, ", "))
		}
	case "RATE_LIMITED":
		fmt.Printf("\nProvider rate limited: %s\n", resp.Error)
		if resp.NonTransient {
			fmt.Println("The provider quota is exhausted; retrying will not help today.")
		} else if resp.RetryAfterSeconds != nil {
			fmt.Printf("Retry after %.0f seconds.\n", *resp.RetryAfterSeconds)
		}
	case "FAILED_CORRECTION":
		fmt.Printf("\nFailed: the verifier rejected every candidate (%d attempts)\n", resp.Attempts)
		if resp.Error != "" {
			fmt.Printf("Last error: %s\n", resp.Error)
		}
	default:
		fmt.Printf("\nServer returned status %d (%s): %s\n", status, resp.Status, resp.Error)
	}

	if verboseFlag && len(resp.Trace) > 0 {
		fmt.Println("\nAttempt trace:")
		for _, a := range resp.Trace {
			line := fmt.Sprintf("%d. verdict=%s", a.Index, a.Feedback.Status)
			if a.Feedback.ErrorMessage != "" {
				line += fmt.Sprintf(" error=%q", a.Feedback.ErrorMessage)
			}
			if a.Feedback.Plan != "" {
				line += fmt.Sprintf(" plan=%q", a.Feedback.Plan)
			}
			fmt.Println(line)
		}
	}
	fmt.Println("\n---")
}

func runHealthCommand(_ *cobra.Command, _ []string) {
	baseURL := getQueryServerBaseURL()
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(fmt.Sprintf("%s/v1/query/health", baseURL))
	if err != nil {
		log.Fatalf("Error: server unreachable at %s: %v", baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		fmt.Printf("Server at %s is healthy\n", baseURL)
	} else {
		fmt.Printf("Server at %s returned status %d\n", baseURL, resp.StatusCode)
		os.Exit(1)
	}
}

// sendGenerateRequest posts the question and decodes the outcome body. Both
// 2xx and the mapped failure statuses (422, 429, 502) carry the same body
// shape, so the HTTP status is returned alongside the decoded response.
func sendGenerateRequest(question, target string) (generateResponse, int, error) {
	var genResp generateResponse
	postBody, err := json.Marshal(generateRequest{Question: question, Target: target})
	if err != nil {
		return genResp, 0, fmt.Errorf("failed to create request body: %w", err)
	}

	baseURL := getQueryServerBaseURL()
	generateURL := fmt.Sprintf("%s/v1/query/generate", baseURL)

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(generateURL, "application/json", bytes.NewBuffer(postBody))
	if err != nil {
		return genResp, 0, fmt.Errorf("failed to send question to query server: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close response body", "error", err)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return genResp, resp.StatusCode, fmt.Errorf("failed to read query server response: %w", err)
	}

	if err := json.Unmarshal(bodyBytes, &genResp); err != nil {
		log.Printf("Raw response from query server: %s", string(bodyBytes))
		return genResp, resp.StatusCode, fmt.Errorf("failed to parse response from query server: %w", err)
	}
	return genResp, resp.StatusCode, nil
}

// getQueryServerBaseURL resolves the server URL from QUERY_SERVER_URL,
// defaulting to localhost.
func getQueryServerBaseURL() string {
	if url := os.Getenv("QUERY_SERVER_URL"); url != "" {
		return strings.TrimRight(url, "/")
	}
	return "http://localhost:8080"
}
