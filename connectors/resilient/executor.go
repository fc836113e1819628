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
	"time"

	"sqlbridge/connectors/base"
	"sqlbridge/connectors/dberrors"
	"sqlbridge/connectors/descriptor"
	"sqlbridge/connectors/pool"
	"sqlbridge/shared/logger"
)

// Operation runs one statement on a live session. ctx carries the command
// timeout and must be passed to every driver call.
type Operation func(ctx context.Context, s *pool.Session) (*base.Result, error)

// Executor runs operations with retries. Every attempt gets a fresh session
// from the Connector; a session that saw a failure is never reused.
type Executor struct {
	connector *Connector
	policy    RetryPolicy
	observer  Observer
	logger    *logger.Logger

	// wait is replaced in tests
	wait func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor that obtains sessions from connector
func NewExecutor(connector *Connector, policy RetryPolicy, observer Observer) (*Executor, error) {
	if connector == nil {
		return nil, fmt.Errorf("no connector provided")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Executor{
		connector: connector,
		policy:    policy,
		observer:  observer,
		logger:    logger.New("executor"),
		wait:      sleep,
	}, nil
}

// Execute runs op against target. Connector failures are returned as is and
// do not consume the executor's attempts. Operation failures are retried per
// their class; exhausting MaxAttempts yields an *OperationFailedError.
// Each attempt is bounded by the shorter of the policy and descriptor
// command timeouts.
func (e *Executor) Execute(ctx context.Context, target base.Target, op Operation) (*base.Result, error) {
	commandTimeout := bound(e.policy.CommandTimeout, descriptor.Parse(target.Descriptor).CommandTimeout)

	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		lease, err := e.connector.Connect(ctx, target)
		if err != nil {
			return nil, err
		}

		started := time.Now()
		opCtx, cancel := context.WithTimeoutCause(ctx, commandTimeout, errCommandTimeout)
		result, err := op(opCtx, lease.Session)
		timedOut := context.Cause(opCtx) == errCommandTimeout
		cancel()

		if err == nil {
			lease.Release(true)
			if result == nil {
				result = &base.Result{}
			}
			result.Target = target.Name
			result.Attempts = attempt
			if result.Duration == 0 {
				result.Duration = time.Since(started)
			}
			return result, nil
		}

		lease.Release(false)

		if ctx.Err() != nil {
			return nil, canceled(ctx, target.Name, StageExecute)
		}
		if timedOut {
			err = &TimeoutError{Stage: StageExecute, Limit: commandTimeout, Err: err}
		}

		class := classify(err)
		e.observer.AttemptFailed(target.Name, StageExecute, class)

		if !class.Retryable() {
			e.logger.ErrorWithCode(target.Name, "", "Operation failed, not retryable", dberrors.VendorCode(err), err, nil)
			return nil, &NonRecoverableError{Target: target.Name, Stage: StageExecute, Err: err}
		}
		if class.ClearsPool() {
			lease.Clear()
		}

		lastErr = err
		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := time.Duration(0)
		if !class.Immediate() {
			delay = e.policy.Delay(attempt)
		}
		e.logger.Debug(target.Name, "", "Operation attempt failed, retrying", map[string]interface{}{
			"attempt":  attempt,
			"class":    class.String(),
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		if delay > 0 {
			if err := e.wait(ctx, delay); err != nil {
				return nil, canceled(ctx, target.Name, StageBackoff)
			}
		}
	}

	e.logger.ErrorWithCode(target.Name, "", "Operation failed, attempts exhausted", dberrors.VendorCode(lastErr), lastErr, map[string]interface{}{
		"attempts": e.policy.MaxAttempts,
	})
	return nil, &OperationFailedError{Target: target.Name, Attempts: e.policy.MaxAttempts, Err: lastErr}
}
