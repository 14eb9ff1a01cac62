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
	"encoding/json"
	"strings"
)

// rawFeedback mirrors the JSON object the verifier is instructed to emit,
// with every accepted field alias. Newer alias spellings win when a verifier
// emits both.
type rawFeedback struct {
	Status         string   `json:"status"`
	Error          string   `json:"error"`
	ErrorMessage   string   `json:"error_message"`
	FixPlan        string   `json:"fix_plan"`
	CorrectionPlan string   `json:"correction_plan"`
	SQL            string   `json:"sql"`
	CorrectedSQL   string   `json:"corrected_sql"`
	Issues         []string `json:"issues"`
}

// ParseCriticFeedback extracts a structured verdict from free-form verifier
// output.
//
// Description:
//
//	The verifier is instructed to emit a JSON object but routinely wraps it
//	in prose or markdown code fences. Parsing is tolerant: fence markers are
//	stripped, the substring between the first '{' and the last '}' is parsed
//	as JSON, and field aliases (error/error_message, fix_plan/correction_plan,
//	sql/corrected_sql) are normalized. Any parse failure degrades to an ERROR
//	verdict carrying the raw text for audit — the correction loop must never
//	crash on malformed verifier output.
//
// Inputs:
//   - rawText: The verbatim verifier response.
//
// Outputs:
//   - CriticFeedback: The normalized verdict. Raw always holds rawText.
func ParseCriticFeedback(rawText string) CriticFeedback {
	fallback := CriticFeedback{
		Status:       FeedbackError,
		ErrorMessage: rawText,
		Raw:          rawText,
	}

	body := stripCodeFences(rawText)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return fallback
	}

	var raw rawFeedback
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return fallback
	}

	fb := CriticFeedback{
		Status:         FeedbackError,
		ErrorMessage:   firstNonEmpty(raw.ErrorMessage, raw.Error),
		CorrectionPlan: firstNonEmpty(raw.CorrectionPlan, raw.FixPlan),
		CorrectedText:  firstNonEmpty(raw.CorrectedSQL, raw.SQL),
		Issues:         raw.Issues,
		Raw:            rawText,
	}
	if strings.EqualFold(strings.TrimSpace(raw.Status), "ok") {
		fb.Status = FeedbackOK
	}
	return fb
}

// stripCodeFences removes leading/trailing markdown fence lines (``` or
// ```json) around the payload. Inner content is left untouched.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
