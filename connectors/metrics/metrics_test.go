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

package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlbridge/connectors/base"
	"sqlbridge/connectors/dberrors"
	"sqlbridge/connectors/pool"
	"sqlbridge/connectors/resilient"
)

// Compile-time checks that Recorder serves every observer slot
var (
	_ pool.Observer      = (*Recorder)(nil)
	_ resilient.Observer = (*Recorder)(nil)
)

type staticStats []pool.Stats

func (s staticStats) Stats() []pool.Stats { return s }

func TestRecorderCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	r.AttemptFailed("sales", resilient.StageValidate, dberrors.Stale)
	r.AttemptFailed("sales", resilient.StageValidate, dberrors.Stale)
	r.AttemptFailed("sales", resilient.StageExecute, dberrors.PoolLevel)
	r.PoolCleared("sales")
	r.SessionDiscarded("sales", pool.ReasonUnhealthy)
	r.OperationCompleted("sales", base.KindQuery, 12*time.Millisecond, nil)
	r.OperationCompleted("sales", base.KindQuery, 40*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.attempts.WithLabelValues("sales", "validate", "stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.attempts.WithLabelValues("sales", "execute", "pool_level")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.clears.WithLabelValues("sales")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.discarded.WithLabelValues("sales", "unhealthy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("sales", "query", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("sales", "query", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))
}

func TestNewRecorderDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)

	_, err = NewRecorder(reg)
	assert.Error(t, err)
}

func TestPoolStatsCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	source := staticStats{
		{Target: "hr", Idle: 1, InUse: 0, Epoch: 0, Max: 5},
		{Target: "sales", Idle: 2, InUse: 3, Epoch: 4, Max: 5},
	}
	require.NoError(t, RegisterPoolStats(reg, source))

	expected := `
# HELP sqlbridge_pool_in_use_sessions In-use sessions per target
# TYPE sqlbridge_pool_in_use_sessions gauge
sqlbridge_pool_in_use_sessions{target="hr"} 0
sqlbridge_pool_in_use_sessions{target="sales"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "sqlbridge_pool_in_use_sessions"))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}
