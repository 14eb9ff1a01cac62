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
	"regexp"
	"sort"
)

// SensitiveDataScanner inspects request text for personally identifying or
// otherwise restricted content before it is sent to an external provider.
//
// Thread Safety: Implementations must be safe for concurrent use.
type SensitiveDataScanner interface {
	// Scan classifies the given text. Must not mutate shared state.
	Scan(text string) ScanResult
}

// categoryPattern pairs a compiled regex with a category name and the risk
// level a match implies.
//
// Thread Safety: This type is immutable after construction.
type categoryPattern struct {
	Category string
	Risk     RiskLevel
	Pattern  *regexp.Regexp
}

// categoryPatterns is the ordered list of sensitive-data categories.
//
// IMPORTANT: Order matters for credential patterns. More specific prefixes
// (sk-ant-api03-) must appear before less specific ones (sk-) so a match is
// attributed to the right category.
//
// Thread Safety: This slice is initialized once and never modified.
var categoryPatterns = []categoryPattern{
	// US Social Security Number: 123-45-6789
	{
		Category: "ssn",
		Risk:     RiskCritical,
		Pattern:  regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	},
	// Payment card number: 13-16 digits, optionally space/dash separated
	{
		Category: "credit_card",
		Risk:     RiskCritical,
		Pattern:  regexp.MustCompile(`\b(?:\d[ -]?){12,15}\d\b`),
	},
	// Anthropic API key. Must be before the generic sk- pattern.
	{
		Category: "credential",
		Risk:     RiskHigh,
		Pattern:  regexp.MustCompile(`sk-ant-api03-[A-Za-z0-9_-]{20,}`),
	},
	// OpenAI API key: sk-<base62, 20+ chars>
	{
		Category: "credential",
		Risk:     RiskHigh,
		Pattern:  regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	},
	// Password assignments in connection strings or config fragments
	{
		Category: "credential",
		Risk:     RiskHigh,
		Pattern:  regexp.MustCompile(`(?i)password\s*[=:]\s*[^\s&]{3,}`),
	},
	// Medical record number references
	{
		Category: "medical",
		Risk:     RiskHigh,
		Pattern:  regexp.MustCompile(`(?i)\bmrn[:# ]?\d{5,}\b`),
	},
	// Email address
	{
		Category: "email",
		Risk:     RiskMedium,
		Pattern:  regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	},
	// US/international phone number: +1 555-867-5309, (555) 867-5309
	{
		Category: "phone",
		Risk:     RiskMedium,
		Pattern:  regexp.MustCompile(`(?:\+\d{1,3}[ -]?)?(?:\(\d{3}\)|\d{3})[ -]\d{3}[ -]\d{4}\b`),
	},
	// IPv4 address
	{
		Category: "ip_address",
		Risk:     RiskLow,
		Pattern:  regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
	},
}

// RegexScanner is a pattern-based SensitiveDataScanner.
//
// Description:
//
//	Matches request text against a fixed, ordered set of category patterns
//	(government IDs, payment cards, credentials, medical identifiers, email,
//	phone, network addresses). The overall risk is the maximum risk among
//	matched categories.
//
// Limitations:
//   - Pattern-based only. Will not detect semantically sensitive content
//     that lacks a recognizable format (e.g., a full name in prose).
//
// Thread Safety: Safe for concurrent use (read-only after construction).
type RegexScanner struct{}

// NewRegexScanner creates the default pattern-based scanner.
func NewRegexScanner() *RegexScanner {
	return &RegexScanner{}
}

// Scan classifies text against the category patterns.
//
// Inputs:
//   - text: The raw request text. Empty text yields a clean result.
//
// Outputs:
//   - ScanResult: Matched categories (deduplicated, sorted) and the maximum
//     risk level. Risk is RiskLow when nothing matched.
func (s *RegexScanner) Scan(text string) ScanResult {
	if text == "" {
		return ScanResult{}
	}

	matched := make(map[string]bool)
	risk := RiskLow
	found := false

	for _, cp := range categoryPatterns {
		if !cp.Pattern.MatchString(text) {
			continue
		}
		found = true
		matched[cp.Category] = true
		if cp.Risk > risk {
			risk = cp.Risk
		}
	}

	if !found {
		return ScanResult{}
	}

	categories := make([]string, 0, len(matched))
	for c := range matched {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	return ScanResult{
		ContainsSensitiveData: true,
		Risk:                  risk,
		Categories:            categories,
	}
}

// ShouldProceed decides whether the pipeline may continue past the gate.
//
// Description:
//
//	Blocks when the scan found sensitive data and strict mode is on, or
//	unconditionally when the risk is CRITICAL. The decision is made before
//	any provider call so blocked text never leaves the environment.
//
// Inputs:
//   - scan: The scan result for the request text.
//   - strict: When true, any sensitive match blocks the run.
//
// Outputs:
//   - bool: True if processing may proceed.
func ShouldProceed(scan ScanResult, strict bool) bool {
	if scan.Risk == RiskCritical {
		return false
	}
	if strict && scan.ContainsSensitiveData {
		return false
	}
	return true
}
