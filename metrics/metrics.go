// Copyright 2026 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package metrics exposes the monitor's Prometheus collectors.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "staledb"

// Failure reasons used as the "reason" label of the failures counter.
const (
	ReasonMissingHash  = "missing_hash"
	ReasonHashMismatch = "hash_mismatch"
	ReasonTransport    = "transport"
)

// Phases exported by the phase gauge. Exactly one of them is 1 at a time.
var Phases = []string{"initializing", "waiting-sync", "monitoring", "failed"}

// latencyBuckets cover header-to-persistence delays from 10ms to ~80s.
var latencyBuckets = prometheus.ExponentialBuckets(0.01, 2, 14)

// Metrics holds every collector of the monitor. A nil *Metrics is valid and
// turns every method into a no-op.
type Metrics struct {
	headersReceived   prometheus.Counter
	persistedReceived prometheus.Counter
	headersReplaced   prometheus.Counter
	pendingHeaders    prometheus.Gauge

	flushSize       prometheus.Histogram
	flushMaxLatency prometheus.Histogram

	checkDuration     prometheus.Histogram
	headerLatency     prometheus.Histogram
	blocksVerified    prometheus.Counter
	lastVerifiedBlock prometheus.Gauge
	databaseBehind    prometheus.Counter
	failures          *prometheus.CounterVec

	phase *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		headersReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "headers_received_total",
			Help:      "New block headers received from the node",
		}),
		persistedReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "persisted_events_received_total",
			Help:      "Persisted-block notifications received from the node",
		}),
		headersReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "buffer",
			Name:      "headers_replaced_total",
			Help:      "Buffered headers replaced by a later header with the same number",
		}),
		pendingHeaders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "buffer",
			Name:      "pending_headers",
			Help:      "Headers waiting for a persisted-block boundary",
		}),
		flushSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "buffer",
			Name:      "flush_size",
			Help:      "Number of headers released per persisted-block event",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
		}),
		flushMaxLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "buffer",
			Name:      "flush_max_latency_seconds",
			Help:      "Largest header arrival to persistence delay within a flush",
			Buckets:   latencyBuckets,
		}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "check",
			Name:      "duration_seconds",
			Help:      "Time spent scanning the block hash window",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		headerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "check",
			Name:      "header_latency_seconds",
			Help:      "Delay between a header's arrival and its reconciliation",
			Buckets:   latencyBuckets,
		}),
		blocksVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "check",
			Name:      "blocks_verified_total",
			Help:      "Blocks whose window and hash matched the database",
		}),
		lastVerifiedBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "check",
			Name:      "last_verified_block",
			Help:      "Number of the most recently verified block",
		}),
		databaseBehind: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "check",
			Name:      "database_behind_total",
			Help:      "Headers skipped because the database head was below them",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "failures_total",
			Help:      "Fatal outcomes by reason",
		}, []string{"reason"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "phase",
			Help:      "Current operational phase (1 = active)",
		}, []string{"phase"}),
	}

	err := errors.Join(
		reg.Register(m.headersReceived),
		reg.Register(m.persistedReceived),
		reg.Register(m.headersReplaced),
		reg.Register(m.pendingHeaders),
		reg.Register(m.flushSize),
		reg.Register(m.flushMaxLatency),
		reg.Register(m.checkDuration),
		reg.Register(m.headerLatency),
		reg.Register(m.blocksVerified),
		reg.Register(m.lastVerifiedBlock),
		reg.Register(m.databaseBehind),
		reg.Register(m.failures),
		reg.Register(m.phase),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// HeaderReceived records a header arrival and the resulting buffer size.
func (m *Metrics) HeaderReceived(pending int, replaced bool) {
	if m == nil {
		return
	}
	m.headersReceived.Inc()
	if replaced {
		m.headersReplaced.Inc()
	}
	m.pendingHeaders.Set(float64(pending))
}

// Flushed records one persisted-block event and what it released.
func (m *Metrics) Flushed(size, pending int, maxLatency time.Duration) {
	if m == nil {
		return
	}
	m.persistedReceived.Inc()
	m.flushSize.Observe(float64(size))
	if size > 0 {
		m.flushMaxLatency.Observe(maxLatency.Seconds())
	}
	m.pendingHeaders.Set(float64(pending))
}

// CheckCompleted records the duration of one window scan.
func (m *Metrics) CheckCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.checkDuration.Observe(d.Seconds())
}

// HeaderReconciled records how long a header waited before it was checked.
func (m *Metrics) HeaderReconciled(latency time.Duration) {
	if m == nil {
		return
	}
	m.headerLatency.Observe(latency.Seconds())
}

// BlockVerified records a fully matching block.
func (m *Metrics) BlockVerified(number uint64) {
	if m == nil {
		return
	}
	m.blocksVerified.Inc()
	m.lastVerifiedBlock.Set(float64(number))
}

// DatabaseBehind records a header skipped because the database lags the feed.
func (m *Metrics) DatabaseBehind() {
	if m == nil {
		return
	}
	m.databaseBehind.Inc()
}

// Failure records a fatal outcome.
func (m *Metrics) Failure(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

// SetPhase marks phase as the active one.
func (m *Metrics) SetPhase(phase string) {
	if m == nil {
		return
	}
	for _, p := range Phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.phase.WithLabelValues(p).Set(v)
	}
}
