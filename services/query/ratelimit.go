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
	"sync"
	"time"
)

// ProviderLimiter is a sliding-window limiter for outbound completion calls.
//
// Description:
//
//	Caps the number of provider calls per minute using a sliding window of
//	timestamps. The invoker consults it before every network call so a burst
//	of pipeline runs does not hammer a provider that is already near its
//	quota. When the limit is exceeded, Allow returns the duration until the
//	next call can be made.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type ProviderLimiter struct {
	mu     sync.Mutex
	limit  int
	window []int64 // timestamps in Unix milliseconds
	now    func() time.Time
}

// NewProviderLimiter creates a limiter allowing limitPerMin calls per minute.
// A non-positive limit disables limiting.
func NewProviderLimiter(limitPerMin int) *ProviderLimiter {
	return &ProviderLimiter{
		limit: limitPerMin,
		now:   time.Now,
	}
}

// Allow checks whether an outbound call is within the per-minute limit.
//
// Description:
//
//	If the call is allowed, records the timestamp.
//
// Outputs:
//   - bool: True if the call is allowed.
//   - time.Duration: If limited, how long to wait before the window frees.
//     Zero if allowed.
func (l *ProviderLimiter) Allow() (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UnixMilli()
	windowStart := now - 60_000

	pruned := make([]int64, 0, len(l.window))
	for _, ts := range l.window {
		if ts > windowStart {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= l.limit {
		oldest := pruned[0]
		wait := time.Duration(oldest+60_000-now) * time.Millisecond
		l.window = pruned
		return false, wait
	}

	pruned = append(pruned, now)
	l.window = pruned
	return true, 0
}
