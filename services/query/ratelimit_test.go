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
	"time"
)

func TestProviderLimiter_NoLimitConfigured(t *testing.T) {
	l := NewProviderLimiter(0)

	for i := 0; i < 100; i++ {
		ok, _ := l.Allow()
		if !ok {
			t.Fatal("disabled limiter should always allow")
		}
	}
}

func TestProviderLimiter_WithinLimit(t *testing.T) {
	l := NewProviderLimiter(5)

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow()
		if !ok {
			t.Errorf("call %d should be within limit", i+1)
		}
	}
}

func TestProviderLimiter_ExceedsLimit(t *testing.T) {
	l := NewProviderLimiter(3)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow()
		if !ok {
			t.Errorf("call %d should be within limit", i+1)
		}
	}

	ok, wait := l.Allow()
	if ok {
		t.Error("call should be rate limited")
	}
	if wait <= 0 {
		t.Errorf("wait should be positive, got %v", wait)
	}
	if wait > time.Minute {
		t.Errorf("wait should be at most one window, got %v", wait)
	}
}

func TestProviderLimiter_WindowSlides(t *testing.T) {
	l := NewProviderLimiter(2)
	current := time.Now()
	l.now = func() time.Time { return current }

	l.Allow()
	l.Allow()
	if ok, _ := l.Allow(); ok {
		t.Fatal("third call in the window should be limited")
	}

	// Advance past the window; old timestamps must be pruned.
	current = current.Add(61 * time.Second)
	if ok, _ := l.Allow(); !ok {
		t.Error("call after the window slid should be allowed")
	}
}

func TestProviderLimiter_WaitMatchesOldestEntry(t *testing.T) {
	l := NewProviderLimiter(1)
	current := time.Now()
	l.now = func() time.Time { return current }

	l.Allow()
	current = current.Add(20 * time.Second)

	ok, wait := l.Allow()
	if ok {
		t.Fatal("second call should be limited")
	}
	// Oldest entry frees 60s after it was recorded, 40s from now.
	if wait < 39*time.Second || wait > 41*time.Second {
		t.Errorf("wait = %v, want ~40s", wait)
	}
}
