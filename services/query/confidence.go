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

// ScoreConfidence maps a terminal state and attempt count to a confidence
// scalar in [0,1].
//
// Description:
//
//	Pure function of (status, attempts): a success on attempt 1 scores 0.95,
//	attempt 2 scores 0.90, attempt 3 scores 0.85, decreasing by 0.05 per
//	additional attempt down to a floor of 0.50 for unusually deep retry
//	budgets. Any non-success status scores 0.0. It consults no other signal
//	so it stays independently testable.
//
// Inputs:
//   - status: The terminal pipeline status.
//   - attempts: The number of synthesis cycles executed.
//
// Outputs:
//   - float64: The confidence score.
func ScoreConfidence(status Status, attempts int) float64 {
	if status != StatusSucceeded || attempts < 1 {
		return 0.0
	}
	score := 0.95 - 0.05*float64(attempts-1)
	if score < 0.50 {
		return 0.50
	}
	return score
}
