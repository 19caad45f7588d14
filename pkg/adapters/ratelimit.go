/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package adapters

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces upstream calls to respect an "N calls per minute"
// budget. State is a last-call timestamp behind a mutex, so it can be
// shared by every adapter instance talking to the same upstream.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	lastCall time.Time
}

func NewRateLimiter(callsPerMinute int) *RateLimiter {
	if callsPerMinute <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{interval: time.Minute / time.Duration(callsPerMinute)}
}

// Wait blocks until the next call is allowed or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}
	r.mu.Lock()
	now := time.Now()
	earliest := r.lastCall.Add(r.interval)
	if earliest.Before(now) {
		earliest = now
	}
	r.lastCall = earliest
	r.mu.Unlock()

	wait := time.Until(earliest)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	sharedLimitersMu sync.Mutex
	sharedLimiters   = map[string]*RateLimiter{}
)

// SharedLimiter returns the process-global limiter for the given
// upstream name, creating it on first use. The first caller's budget
// wins.
func SharedLimiter(name string, callsPerMinute int) *RateLimiter {
	sharedLimitersMu.Lock()
	defer sharedLimitersMu.Unlock()
	if limiter, ok := sharedLimiters[name]; ok {
		return limiter
	}
	limiter := NewRateLimiter(callsPerMinute)
	sharedLimiters[name] = limiter
	return limiter
}
