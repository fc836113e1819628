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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlbridge/connectors/dberrors"
	"sqlbridge/connectors/pool"
)

func TestConnectValidationFailsTwiceThenSucceeds(t *testing.T) {
	h := newHarness(t, DefaultRetryPolicy(), salesDescriptor)
	h.mock.ExpectQuery(probe).WillReturnError(errStale)
	h.mock.ExpectQuery(probe).WillReturnError(errStale)
	h.expectProbes(1)

	lease, err := h.connector.Connect(context.Background(), h.target)
	require.NoError(t, err)
	require.NotNil(t, lease)

	assert.True(t, lease.Session.Opened())
	assert.Equal(t, pool.StateInUse, lease.Session.State())
	assert.False(t, lease.Session.LastValidatedAt.IsZero())
	assert.Equal(t, int32(3), h.opens.Load())
	assert.Equal(t, 2, h.poolObs.totalDiscarded())
	assert.Equal(t, 2, h.poolObs.discarded[pool.ReasonUnhealthy])
	assert.GreaterOrEqual(t, h.poolObs.clearCount(), 1)
	assert.Empty(t, h.recordedWaits(), "stale failures retry without delay")
	assert.Equal(t, []string{StageValidate, StageValidate}, h.attempts.stages)

	lease.Release(true)
	stats := h.pools.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Idle)
	assert.Equal(t, 0, stats[0].InUse)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestConnectNonRecoverableAbortsImmediately(t *testing.T) {
	h := newHarness(t, DefaultRetryPolicy(), salesDescriptor, errBadLogon)

	lease, err := h.connector.Connect(context.Background(), h.target)
	assert.Nil(t, lease)

	var nr *NonRecoverableError
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, StageOpen, nr.Stage)
	assert.Equal(t, "sales", nr.Target)
	assert.ErrorIs(t, err, errBadLogon)
	assert.Equal(t, int32(1), h.opens.Load())
	assert.Empty(t, h.recordedWaits())
	assert.Equal(t, 0, h.poolObs.clearCount())
}

func TestConnectPoolLevelExhaustsAttempts(t *testing.T) {
	h := newHarness(t, DefaultRetryPolicy(), salesDescriptor, errUnreachable, errUnreachable, errUnreachable)

	_, err := h.connector.Connect(context.Background(), h.target)

	var cf *ConnectFailedError
	require.ErrorAs(t, err, &cf)
	assert.Equal(t, 3, cf.Attempts)
	assert.ErrorIs(t, err, errUnreachable)
	assert.True(t, IsTerminal(err))
	assert.False(t, IsCanceled(err))

	assert.Equal(t, int32(3), h.opens.Load())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, h.recordedWaits())
	assert.Equal(t, 3, h.poolObs.clearCount())
	assert.Equal(t, []dberrors.Class{dberrors.PoolLevel, dberrors.PoolLevel, dberrors.PoolLevel}, h.attempts.classes)
}

func TestConnectRecoversAfterTransientFailure(t *testing.T) {
	h := newHarness(t, DefaultRetryPolicy(), salesDescriptor, errUnreachable)
	h.expectProbes(1)

	lease, err := h.connector.Connect(context.Background(), h.target)
	require.NoError(t, err)
	lease.Release(true)

	assert.Equal(t, int32(2), h.opens.Load())
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, h.recordedWaits())
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestConnectOpenTimeoutIsPoolLevel(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 2
	policy.ConnectTimeout = 20 * time.Millisecond

	h := newHarness(t, policy, salesDescriptor)
	h.openHook = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := h.connector.Connect(context.Background(), h.target)

	var cf *ConnectFailedError
	require.ErrorAs(t, err, &cf)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StageOpen, te.Stage)
	assert.False(t, IsCanceled(err))
	assert.Equal(t, []dberrors.Class{dberrors.PoolLevel, dberrors.PoolLevel}, h.attempts.classes)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, h.recordedWaits())
	assert.Equal(t, 2, h.poolObs.clearCount())
}

func TestConnectCallerCancelDuringOpen(t *testing.T) {
	h := newHarness(t, DefaultRetryPolicy(), salesDescriptor)
	h.openHook = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := h.connector.Connect(ctx, h.target)
	assert.Less(t, time.Since(start), 5*time.Second)

	var ce *CanceledError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StageOpen, ce.Stage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTerminal(err))
	assert.Equal(t, int32(1), h.opens.Load())
	assert.Empty(t, h.attempts.classes, "caller cancellation is not classified")
}

func TestConnectCallerCancelDuringBackoff(t *testing.T) {
	h := newHarness(t, DefaultRetryPolicy(), salesDescriptor, errUnreachable, errUnreachable)

	ctx, cancel := context.WithCancel(context.Background())
	h.connector.wait = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleep(ctx, d)
	}

	_, err := h.connector.Connect(ctx, h.target)

	var ce *CanceledError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StageBackoff, ce.Stage)
	var cf *ConnectFailedError
	assert.False(t, errors.As(err, &cf))
	assert.Equal(t, int32(1), h.opens.Load(), "no attempt starts after cancellation")
}

func TestConnectAlreadyCanceled(t *testing.T) {
	h := newHarness(t, DefaultRetryPolicy(), salesDescriptor)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.connector.Connect(ctx, h.target)
	var ce *CanceledError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StageAcquire, ce.Stage)
	assert.Equal(t, int32(0), h.opens.Load())
}

func TestConnectPoolExhausted(t *testing.T) {
	h := newHarness(t, DefaultRetryPolicy(), salesDescriptor+";Max Pool Size=1")
	h.expectProbes(1)

	held, err := h.connector.Connect(context.Background(), h.target)
	require.NoError(t, err)
	defer held.Release(true)

	_, err = h.connector.Connect(context.Background(), h.target)
	assert.ErrorIs(t, err, pool.ErrPoolExhausted)
	assert.False(t, IsTerminal(err))
	assert.Equal(t, int32(1), h.opens.Load())
}

func TestConnectReusedSessionValidation(t *testing.T) {
	t.Run("validated when enabled", func(t *testing.T) {
		h := newHarness(t, DefaultRetryPolicy(), salesDescriptor)
		h.expectProbes(2)

		first, err := h.connector.Connect(context.Background(), h.target)
		require.NoError(t, err)
		first.Release(true)

		second, err := h.connector.Connect(context.Background(), h.target)
		require.NoError(t, err)
		assert.Equal(t, first.Session.ID, second.Session.ID)
		second.Release(true)

		assert.Equal(t, int32(1), h.opens.Load())
		assert.NoError(t, h.mock.ExpectationsWereMet())
	})

	t.Run("skipped when disabled", func(t *testing.T) {
		h := newHarness(t, DefaultRetryPolicy(), salesDescriptor+";Validate Connection=false")
		h.expectProbes(1)

		first, err := h.connector.Connect(context.Background(), h.target)
		require.NoError(t, err)
		first.Release(true)

		second, err := h.connector.Connect(context.Background(), h.target)
		require.NoError(t, err)
		assert.Equal(t, first.Session.ID, second.Session.ID)
		second.Release(true)

		assert.NoError(t, h.mock.ExpectationsWereMet())
	})
}

func TestConnectValidateTimeoutIsTransient(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 1
	policy.ValidateTimeout = 20 * time.Millisecond

	h := newHarness(t, policy, salesDescriptor)
	h.mock.ExpectQuery(probe).WillDelayFor(time.Second).WillReturnRows(sqlmockRows())

	_, err := h.connector.Connect(context.Background(), h.target)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StageValidate, te.Stage)
	assert.Equal(t, dberrors.GenericTransient, te.Class())
	assert.Equal(t, 0, h.poolObs.clearCount())
}

func TestNewConnectorRejectsInvalidInput(t *testing.T) {
	_, err := NewConnector(nil, DefaultRetryPolicy(), nil)
	assert.Error(t, err)

	bad := DefaultRetryPolicy()
	bad.MaxAttempts = 0
	_, err = NewConnector(pool.NewManager(nil, nil, 0), bad, nil)
	assert.Error(t, err)
}

func TestConnectInvalidPoolSizeIsNonRecoverable(t *testing.T) {
	h := newHarness(t, DefaultRetryPolicy(), salesDescriptor+";Max Pool Size=0")

	_, err := h.connector.Connect(context.Background(), h.target)

	var nr *NonRecoverableError
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, StageAcquire, nr.Stage)
	assert.ErrorContains(t, err, "invalid max pool size 0")
	assert.Equal(t, int32(0), h.opens.Load())
}

func TestConnectTimeoutTakesShorterOfPolicyAndDescriptor(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		want       time.Duration
	}{
		{"descriptor shorter", salesDescriptor + ";Connection Timeout=2", 2 * time.Second},
		{"policy shorter", salesDescriptor + ";Connection Timeout=120", time.Minute},
		{"zero leaves policy", salesDescriptor + ";Connection Timeout=0", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultRetryPolicy()
			policy.ConnectTimeout = time.Minute

			h := newHarness(t, policy, tt.descriptor)
			var remaining time.Duration
			h.openHook = func(ctx context.Context) error {
				deadline, ok := ctx.Deadline()
				require.True(t, ok)
				remaining = time.Until(deadline)
				return errBadLogon
			}

			_, err := h.connector.Connect(context.Background(), h.target)
			require.ErrorIs(t, err, errBadLogon)
			assert.LessOrEqual(t, remaining, tt.want)
			assert.Greater(t, remaining, tt.want-time.Second)
		})
	}
}
