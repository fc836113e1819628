// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resilient

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryPolicy configures connect and execute retries. It is passed by value
// and never mutated after construction.
type RetryPolicy struct {
	MaxAttempts     int           // Attempts per connect and per execute, including the first
	InitialDelay    time.Duration // Wait before the second attempt
	BackoffFactor   float64       // Multiplier applied to each further wait
	ConnectTimeout  time.Duration // Bound on opening one session
	CommandTimeout  time.Duration // Bound on running one operation
	ValidateTimeout time.Duration // Bound on the validation probe
}

// DefaultRetryPolicy returns the standard policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    500 * time.Millisecond,
		BackoffFactor:   2,
		ConnectTimeout:  15 * time.Second,
		CommandTimeout:  60 * time.Second,
		ValidateTimeout: 5 * time.Second,
	}
}

// Validate checks the policy for values the retry loops cannot work with
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial delay must not be negative, got %s", p.InitialDelay)
	}
	if p.BackoffFactor < 1 {
		return fmt.Errorf("backoff factor must be at least 1, got %g", p.BackoffFactor)
	}
	if p.ConnectTimeout <= 0 || p.CommandTimeout <= 0 || p.ValidateTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// Delay returns the wait after a failed attempt (1-based):
// InitialDelay * BackoffFactor^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1)))
}

// bound returns the shorter of a policy limit and a descriptor value. A zero
// descriptor value leaves the policy limit in place.
func bound(limit, fromDescriptor time.Duration) time.Duration {
	if fromDescriptor > 0 && fromDescriptor < limit {
		return fromDescriptor
	}
	return limit
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
