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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"sqlbridge/connectors/base"
	"sqlbridge/connectors/dberrors"
	"sqlbridge/connectors/descriptor"
	"sqlbridge/connectors/pool"
)

const probe = "SELECT 1 FROM DUAL"

var (
	errStale          = errors.New("ORA-03113: end-of-file on communication channel")
	errUnreachable    = errors.New("ORA-12170: TNS:Connect timeout occurred")
	errNonRecoverable = errors.New("ORA-00942: table or view does not exist")
	errBadLogon       = errors.New("ORA-01017: invalid username/password; logon denied")
)

type poolObserver struct {
	mu        sync.Mutex
	discarded map[string]int
	clears    int
}

func (o *poolObserver) SessionDiscarded(_, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.discarded[reason]++
}

func (o *poolObserver) PoolCleared(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clears++
}

func (o *poolObserver) totalDiscarded() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.discarded {
		n += c
	}
	return n
}

func (o *poolObserver) clearCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clears
}

type attemptObserver struct {
	mu      sync.Mutex
	classes []dberrors.Class
	stages  []string
}

func (o *attemptObserver) AttemptFailed(_, stage string, class dberrors.Class) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.classes = append(o.classes, class)
	o.stages = append(o.stages, stage)
}

type harness struct {
	target    base.Target
	mock      sqlmock.Sqlmock
	pools     *pool.Manager
	poolObs   *poolObserver
	attempts  *attemptObserver
	connector *Connector
	executor  *Executor
	opens     atomic.Int32

	// openHook runs before every open when set
	openHook func(ctx context.Context) error

	mu    sync.Mutex
	waits []time.Duration
}

// newHarness wires a manager, connector and executor over a sqlmock
// database. openErrs are returned by the first opens, in order; a nil entry
// lets that open succeed.
func newHarness(t *testing.T, policy RetryPolicy, rawDescriptor string, openErrs ...error) *harness {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		target:   base.Target{Name: "sales", Descriptor: descriptor.Normalize(rawDescriptor)},
		mock:     mock,
		poolObs:  &poolObserver{discarded: make(map[string]int)},
		attempts: &attemptObserver{},
	}

	opener := pool.OpenerFunc(func(ctx context.Context, _ descriptor.Normalized) (pool.Conn, error) {
		n := int(h.opens.Add(1))
		if h.openHook != nil {
			if err := h.openHook(ctx); err != nil {
				return nil, err
			}
		}
		if n <= len(openErrs) && openErrs[n-1] != nil {
			return nil, openErrs[n-1]
		}
		return db.Conn(ctx)
	})

	h.pools = pool.NewManager(opener, h.poolObs, 0)
	t.Cleanup(h.pools.Close)

	h.connector, err = NewConnector(h.pools, policy, h.attempts)
	require.NoError(t, err)
	h.executor, err = NewExecutor(h.connector, policy, h.attempts)
	require.NoError(t, err)

	h.connector.wait = h.recordWait
	h.executor.wait = h.recordWait
	return h
}

func (h *harness) recordWait(ctx context.Context, d time.Duration) error {
	h.mu.Lock()
	h.waits = append(h.waits, d)
	h.mu.Unlock()
	return ctx.Err()
}

func (h *harness) recordedWaits() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.waits...)
}

func (h *harness) expectProbes(n int) {
	for i := 0; i < n; i++ {
		h.mock.ExpectQuery(probe).WillReturnRows(sqlmockRows())
	}
}

func sqlmockRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"1"}).AddRow(1)
}

// failingOp returns errs in order, then succeeds
func failingOp(calls *int, errs ...error) Operation {
	return func(ctx context.Context, s *pool.Session) (*base.Result, error) {
		*calls++
		if *calls <= len(errs) {
			return nil, errs[*calls-1]
		}
		return &base.Result{Kind: base.KindNonQuery, RowsAffected: 1}, nil
	}
}

const salesDescriptor = "Data Source=db:1521/SALES"
