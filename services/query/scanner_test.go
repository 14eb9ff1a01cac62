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
	"testing"
)

func TestRegexScanner_CleanText(t *testing.T) {
	s := NewRegexScanner()
	result := s.Scan("How many orders shipped last month?")

	if result.ContainsSensitiveData {
		t.Errorf("clean question flagged as sensitive: %+v", result)
	}
	if len(result.Categories) != 0 {
		t.Errorf("expected no categories, got %v", result.Categories)
	}
}

func TestRegexScanner_EmptyText(t *testing.T) {
	s := NewRegexScanner()
	result := s.Scan("")

	if result.ContainsSensitiveData {
		t.Error("empty text should not be sensitive")
	}
}

func TestRegexScanner_SSN(t *testing.T) {
	s := NewRegexScanner()
	result := s.Scan("Find the customer with SSN 123-45-6789")

	if !result.ContainsSensitiveData {
		t.Fatal("SSN not detected")
	}
	if result.Risk != RiskCritical {
		t.Errorf("SSN risk = %s, want CRITICAL", result.Risk)
	}
	if !containsString(result.Categories, "ssn") {
		t.Errorf("categories = %v, want ssn", result.Categories)
	}
}

func TestRegexScanner_CreditCard(t *testing.T) {
	s := NewRegexScanner()
	result := s.Scan("charge card 4111 1111 1111 1111 again")

	if !result.ContainsSensitiveData {
		t.Fatal("card number not detected")
	}
	if result.Risk != RiskCritical {
		t.Errorf("card risk = %s, want CRITICAL", result.Risk)
	}
	if !containsString(result.Categories, "credit_card") {
		t.Errorf("categories = %v, want credit_card", result.Categories)
	}
}

func TestRegexScanner_Credential(t *testing.T) {
	s := NewRegexScanner()
	result := s.Scan("why does sk-abcdefghijklmnopqrstuvwxyz fail auth")

	if !result.ContainsSensitiveData {
		t.Fatal("API key not detected")
	}
	if result.Risk != RiskHigh {
		t.Errorf("credential risk = %s, want HIGH", result.Risk)
	}
	if !containsString(result.Categories, "credential") {
		t.Errorf("categories = %v, want credential", result.Categories)
	}
}

func TestRegexScanner_Email(t *testing.T) {
	s := NewRegexScanner()
	result := s.Scan("orders placed by jane.doe@example.com this week")

	if !result.ContainsSensitiveData {
		t.Fatal("email not detected")
	}
	if result.Risk != RiskMedium {
		t.Errorf("email risk = %s, want MEDIUM", result.Risk)
	}
}

func TestRegexScanner_MaxRiskWins(t *testing.T) {
	s := NewRegexScanner()
	// Email (MEDIUM) plus SSN (CRITICAL) in the same question.
	result := s.Scan("email jane@example.com about SSN 123-45-6789")

	if result.Risk != RiskCritical {
		t.Errorf("combined risk = %s, want CRITICAL", result.Risk)
	}
	if len(result.Categories) != 2 {
		t.Errorf("categories = %v, want two entries", result.Categories)
	}
}

func TestRegexScanner_CategoriesSorted(t *testing.T) {
	s := NewRegexScanner()
	result := s.Scan("ssn 123-45-6789 email a@b.co ip 10.0.0.1")

	for i := 1; i < len(result.Categories); i++ {
		if result.Categories[i-1] > result.Categories[i] {
			t.Errorf("categories not sorted: %v", result.Categories)
		}
	}
}

func TestShouldProceed_CriticalAlwaysBlocks(t *testing.T) {
	scan := ScanResult{ContainsSensitiveData: true, Risk: RiskCritical, Categories: []string{"ssn"}}

	if ShouldProceed(scan, false) {
		t.Error("CRITICAL risk must block even without strict mode")
	}
	if ShouldProceed(scan, true) {
		t.Error("CRITICAL risk must block in strict mode")
	}
}

func TestShouldProceed_StrictBlocksAnyMatch(t *testing.T) {
	scan := ScanResult{ContainsSensitiveData: true, Risk: RiskMedium, Categories: []string{"email"}}

	if !ShouldProceed(scan, false) {
		t.Error("MEDIUM risk should proceed in lenient mode")
	}
	if ShouldProceed(scan, true) {
		t.Error("any match should block in strict mode")
	}
}

func TestShouldProceed_CleanProceeds(t *testing.T) {
	if !ShouldProceed(ScanResult{}, true) {
		t.Error("clean scan should proceed even in strict mode")
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
