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


package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/tkmct/staledb/metrics"
	"golang.org/x/sync/errgroup"
)

const defaultEventBuffer = 64

// Config tunes the monitor.
type Config struct {
	// PersistedBlocks holds headers until the node reports them written to
	// disk. When false every header is checked on arrival.
	PersistedBlocks bool
	// PersistedFromDatabase takes persisted-block boundaries from the
	// database head, polled every PersistedPollInterval, instead of the
	// node's persistence subscription.
	PersistedFromDatabase bool
	PersistedPollInterval time.Duration

	SyncPollInterval time.Duration
	EventBuffer      int // capacity of each subscription channel
}

// Monitor drives the reconciliation: it waits for the node to sync, then
// feeds the node's block streams through the header buffer into the
// reconciler on a single consumer goroutine.
type Monitor struct {
	cfg        Config
	source     Source
	persisted  PersistedSource
	gate       *SyncGate
	buffer     *Buffer
	reconciler *Reconciler
	phase      *PhaseTracker
	metrics    *metrics.Metrics
}

// New creates a monitor. m may be nil.
func New(cfg Config, source Source, db ChainReader, m *metrics.Metrics) *Monitor {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	var persisted PersistedSource = source
	if cfg.PersistedFromDatabase {
		persisted = NewHeadPoller(db, cfg.PersistedPollInterval)
	}
	return &Monitor{
		cfg:        cfg,
		source:     source,
		persisted:  persisted,
		gate:       NewSyncGate(source, cfg.SyncPollInterval),
		buffer:     NewBuffer(),
		reconciler: NewReconciler(db, m),
		phase:      NewPhaseTracker(m),
		metrics:    m,
	}
}

// Phase returns the current operational phase.
func (m *Monitor) Phase() Phase {
	return m.phase.Current()
}

// PhaseSince returns when the current phase was entered.
func (m *Monitor) PhaseSince() time.Time {
	return m.phase.Since()
}

// Run monitors until ctx is cancelled or a fatal condition occurs. It returns
// the consistency failure, the transport error, or ctx.Err().
func (m *Monitor) Run(ctx context.Context) error {
	err := m.run(ctx)
	if err != nil && ctx.Err() == nil {
		m.phase.Transition(PhaseFailed)
		if !IsFatal(err) {
			m.metrics.Failure(metrics.ReasonTransport)
		}
	}
	return err
}

func (m *Monitor) run(ctx context.Context) error {
	m.phase.Transition(PhaseWaitingSync)
	if err := m.gate.WaitUntilSynced(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	headers := make(chan Header, m.cfg.EventBuffer)
	headSub, err := m.source.SubscribeHeaders(gctx, headers)
	if err != nil {
		return fmt.Errorf("subscribe to new heads: %w", err)
	}
	defer headSub.Unsubscribe()
	g.Go(func() error { return watch(gctx, "newHeads", headSub) })

	// A nil channel never fires, leaving the consumer on headers only.
	var persisted chan PersistedBlock
	if m.cfg.PersistedBlocks {
		persisted = make(chan PersistedBlock, m.cfg.EventBuffer)
		sub, err := m.persisted.SubscribePersisted(gctx, persisted)
		if err != nil {
			return fmt.Errorf("subscribe to persisted blocks: %w", err)
		}
		defer sub.Unsubscribe()
		g.Go(func() error { return watch(gctx, "persistedBlocks", sub) })
	}

	m.phase.Transition(PhaseMonitoring)
	log.Info("Monitoring block stream", "persistedBlocks", m.cfg.PersistedBlocks,
		"persistedFromDatabase", m.cfg.PersistedBlocks && m.cfg.PersistedFromDatabase)

	g.Go(func() error { return m.consume(gctx, headers, persisted) })
	return g.Wait()
}

// watch turns a subscription failure into a task error.
func watch(ctx context.Context, name string, sub ethereum.Subscription) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-sub.Err():
		if !ok || err == nil {
			err = errSubscriptionClosed
		}
		log.Error("Subscription failed", "stream", name, "err", err)
		return fmt.Errorf("%s subscription: %w", name, err)
	}
}

// consume is the single owner of the buffer. It never runs two
// reconciliations at once.
func (m *Monitor) consume(ctx context.Context, headers <-chan Header, persisted <-chan PersistedBlock) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case h := <-headers:
			if h.ReceivedAt.IsZero() {
				h.ReceivedAt = time.Now()
			}
			if !m.cfg.PersistedBlocks {
				m.metrics.HeaderReceived(0, false)
				if err := m.reconciler.Reconcile(ctx, h, time.Since(h.ReceivedAt)); err != nil {
					return err
				}
				continue
			}
			replaced := m.buffer.OnHeader(h)
			m.metrics.HeaderReceived(m.buffer.Len(), replaced)
			log.Trace("Buffered header", "number", h.Number, "hash", h.Hash, "pending", m.buffer.Len())

		case p := <-persisted:
			if err := m.flush(ctx, p); err != nil {
				return err
			}
		}
	}
}

func (m *Monitor) flush(ctx context.Context, p PersistedBlock) error {
	flush := m.buffer.OnPersisted(p)
	m.metrics.Flushed(len(flush.Headers), m.buffer.Len(), flush.MaxLatency)

	if len(flush.Headers) == 0 {
		lowest, _ := m.buffer.Lowest()
		log.Debug("Persisted boundary flushed nothing", "boundary", p.Number, "pending", m.buffer.Len(), "lowest", lowest)
		return nil
	}
	log.Info("Flushing persisted headers", "boundary", p.Number, "count", len(flush.Headers),
		"first", flush.Headers[0].Number, "last", flush.Headers[len(flush.Headers)-1].Number,
		"maxLatency", common.PrettyDuration(flush.MaxLatency))

	for _, fh := range flush.Headers {
		if err := m.reconciler.Reconcile(ctx, fh.Header, fh.Latency); err != nil {
			return err
		}
	}
	return nil
}

// IsShutdown reports whether err only reflects cancellation of the run.
func IsShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
