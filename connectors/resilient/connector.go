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

// Observer receives one event per failed attempt
type Observer interface {
	AttemptFailed(target, stage string, class dberrors.Class)
}

type nopObserver struct{}

func (nopObserver) AttemptFailed(string, string, dberrors.Class) {}

// Lease is a validated session checked out of its target's pool. The holder
// must call Release exactly once.
type Lease struct {
	Session *pool.Session
	Target  base.Target
	pool    *pool.Pool
}

// Release hands the session back. Unhealthy sessions are closed.
func (l *Lease) Release(healthy bool) {
	l.pool.Release(l.Session, healthy)
}

// Clear purges the pool the session came from
func (l *Lease) Clear() {
	l.pool.Clear()
}

// Connector hands out validated sessions, retrying connectivity failures
// with exponential backoff and purging pools poisoned by dead sessions.
type Connector struct {
	pools    *pool.Manager
	policy   RetryPolicy
	observer Observer
	logger   *logger.Logger

	// wait is replaced in tests
	wait func(ctx context.Context, d time.Duration) error
}

// NewConnector creates a connector over pools
func NewConnector(pools *pool.Manager, policy RetryPolicy, observer Observer) (*Connector, error) {
	if pools == nil {
		return nil, fmt.Errorf("no pool manager provided")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Connector{
		pools:    pools,
		policy:   policy,
		observer: observer,
		logger:   logger.New("connector"),
		wait:     sleep,
	}, nil
}

// Policy returns the retry policy the connector was built with
func (c *Connector) Policy() RetryPolicy {
	return c.policy
}

// Connect returns a validated session of target. Retryable failures are
// absorbed up to MaxAttempts; the result is then a *ConnectFailedError.
// Non-recoverable failures return a *NonRecoverableError on first
// occurrence, caller cancellation a *CanceledError, and a full pool
// pool.ErrPoolExhausted.
func (c *Connector) Connect(ctx context.Context, target base.Target) (*Lease, error) {
	p, err := c.pools.Get(target)
	if err != nil {
		return nil, &NonRecoverableError{Target: target.Name, Stage: StageAcquire, Err: err}
	}

	opts := descriptor.Parse(target.Descriptor)
	probe := descriptor.ProbeStatement(target.Provider())

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, canceled(ctx, target.Name, StageAcquire)
		}

		s, err := p.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, canceled(ctx, target.Name, StageAcquire)
			}
			return nil, fmt.Errorf("acquire session for %s: %w", target.Name, err)
		}

		stage, err := c.prepare(ctx, p, s, probe, opts)
		if err == nil {
			if attempt > 1 {
				c.logger.Info(target.Name, "", "Connected after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return &Lease{Session: s, Target: target, pool: p}, nil
		}

		// A session that failed to open or validate is never pooled.
		p.Release(s, false)

		if ctx.Err() != nil {
			return nil, canceled(ctx, target.Name, stage)
		}

		class := classify(err)
		c.observer.AttemptFailed(target.Name, stage, class)

		if !class.Retryable() {
			c.logger.ErrorWithCode(target.Name, "", "Connect failed, not retryable", dberrors.VendorCode(err), err, map[string]interface{}{
				"stage": stage,
			})
			return nil, &NonRecoverableError{Target: target.Name, Stage: stage, Err: err}
		}
		if class.ClearsPool() {
			p.Clear()
		}

		lastErr = err
		if attempt == c.policy.MaxAttempts {
			break
		}

		delay := time.Duration(0)
		if !class.Immediate() {
			delay = c.policy.Delay(attempt)
		}
		c.logger.Debug(target.Name, "", "Connect attempt failed, retrying", map[string]interface{}{
			"attempt":  attempt,
			"stage":    stage,
			"class":    class.String(),
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		if delay > 0 {
			if err := c.wait(ctx, delay); err != nil {
				return nil, canceled(ctx, target.Name, StageBackoff)
			}
		}
	}

	c.logger.ErrorWithCode(target.Name, "", "Connect failed, attempts exhausted", dberrors.VendorCode(lastErr), lastErr, map[string]interface{}{
		"attempts": c.policy.MaxAttempts,
	})
	return nil, &ConnectFailedError{Target: target.Name, Attempts: c.policy.MaxAttempts, Err: lastErr}
}

// prepare opens s if it is new and validates it. Fresh sessions are always
// validated; reused ones only when the descriptor asks for it. The open is
// bounded by the shorter of the policy and descriptor connect timeouts.
func (c *Connector) prepare(ctx context.Context, p *pool.Pool, s *pool.Session, probe string, opts descriptor.Options) (string, error) {
	fresh := !s.Opened()
	if fresh {
		limit := bound(c.policy.ConnectTimeout, opts.ConnectTimeout)
		openCtx, cancel := context.WithTimeoutCause(ctx, limit, errConnectTimeout)
		err := p.Open(openCtx, s)
		timedOut := context.Cause(openCtx) == errConnectTimeout
		cancel()
		if err != nil {
			if timedOut && ctx.Err() == nil {
				err = &TimeoutError{Stage: StageOpen, Limit: limit, Err: err}
			}
			return StageOpen, err
		}
	}

	if !fresh && !opts.Validate {
		return "", nil
	}

	valCtx, cancel := context.WithTimeoutCause(ctx, c.policy.ValidateTimeout, errValidateTimeout)
	err := s.Validate(valCtx, probe)
	timedOut := context.Cause(valCtx) == errValidateTimeout
	cancel()
	if err != nil {
		if timedOut && ctx.Err() == nil {
			err = &TimeoutError{Stage: StageValidate, Limit: c.policy.ValidateTimeout, Err: err}
		}
		return StageValidate, err
	}
	return "", nil
}

func canceled(ctx context.Context, target, stage string) *CanceledError {
	return &CanceledError{Target: target, Stage: stage, Cause: context.Cause(ctx)}
}
