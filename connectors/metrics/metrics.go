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

// Package metrics exports connection layer events as Prometheus metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sqlbridge/connectors/base"
	"sqlbridge/connectors/dberrors"
	"sqlbridge/connectors/pool"
)

// StatsSource reports point-in-time pool counters
type StatsSource interface {
	Stats() []pool.Stats
}

// Recorder implements the pool, resilient and sqltool observers
type Recorder struct {
	attempts   *prometheus.CounterVec
	clears     *prometheus.CounterVec
	discarded  *prometheus.CounterVec
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them with reg
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlbridge_attempts_total",
				Help: "Failed connect and execute attempts by retry class",
			},
			[]string{"target", "stage", "class"},
		),
		clears: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlbridge_pool_clears_total",
				Help: "Number of pool clears",
			},
			[]string{"target"},
		),
		discarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlbridge_sessions_discarded_total",
				Help: "Sessions closed instead of being returned to the pool",
			},
			[]string{"target", "reason"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlbridge_operations_total",
				Help: "Statements executed by kind and outcome",
			},
			[]string{"target", "kind", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqlbridge_operation_duration_milliseconds",
				Help:    "Statement duration including retries in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"target", "kind"},
		),
	}

	for _, c := range []prometheus.Collector{r.attempts, r.clears, r.discarded, r.operations, r.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return r, nil
}

// AttemptFailed counts one failed attempt
func (r *Recorder) AttemptFailed(target, stage string, class dberrors.Class) {
	r.attempts.WithLabelValues(target, stage, class.String()).Inc()
}

// PoolCleared counts one pool clear
func (r *Recorder) PoolCleared(target string) {
	r.clears.WithLabelValues(target).Inc()
}

// SessionDiscarded counts one discarded session
func (r *Recorder) SessionDiscarded(target, reason string) {
	r.discarded.WithLabelValues(target, reason).Inc()
}

// OperationCompleted records the outcome and duration of one statement
func (r *Recorder) OperationCompleted(target string, kind base.Kind, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.operations.WithLabelValues(target, string(kind), status).Inc()
	r.duration.WithLabelValues(target, string(kind)).Observe(float64(d.Milliseconds()))
}

// poolCollector exposes live pool occupancy on every scrape
type poolCollector struct {
	source StatsSource
	idle   *prometheus.Desc
	inUse  *prometheus.Desc
	epoch  *prometheus.Desc
}

// RegisterPoolStats exports the occupancy of every pool in source
func RegisterPoolStats(reg prometheus.Registerer, source StatsSource) error {
	return reg.Register(&poolCollector{
		source: source,
		idle:   prometheus.NewDesc("sqlbridge_pool_idle_sessions", "Idle sessions per target", []string{"target"}, nil),
		inUse:  prometheus.NewDesc("sqlbridge_pool_in_use_sessions", "In-use sessions per target", []string{"target"}, nil),
		epoch:  prometheus.NewDesc("sqlbridge_pool_epoch", "Current pool epoch per target", []string{"target"}, nil),
	})
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.idle
	ch <- c.inUse
	ch <- c.epoch
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source.Stats() {
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle), s.Target)
		ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse), s.Target)
		ch <- prometheus.MustNewConstMetric(c.epoch, prometheus.GaugeValue, float64(s.Epoch), s.Target)
	}
}
