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
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/prometheus/client_golang/prometheus"
)

// hashAt is the canonical hash of block n in the fake chain.
func hashAt(n uint64) common.Hash {
	return crypto.Keccak256Hash(new(big.Int).SetUint64(n).Bytes(), []byte("staledb"))
}

// fakeChain is an in-memory ChainReader recording every lookup.
type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	headErr  error
	readErr  error // returned by every BlockHash call when set
	hashes   map[uint64]common.Hash
	queried  map[uint64]int
	verified []uint64 // HeaderByNumber calls, in order
}

func newFakeChain(from, to uint64) *fakeChain {
	c := &fakeChain{
		head:    to,
		hashes:  make(map[uint64]common.Hash),
		queried: make(map[uint64]int),
	}
	for n := from; n <= to; n++ {
		c.hashes[n] = hashAt(n)
	}
	return c
}

func (c *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, c.headErr
}

func (c *fakeChain) BlockHash(_ context.Context, n uint64) (common.Hash, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queried[n]++
	if c.readErr != nil {
		return common.Hash{}, false, c.readErr
	}
	h, ok := c.hashes[n]
	return h, ok, nil
}

func (c *fakeChain) HeaderByNumber(_ context.Context, n uint64) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verified = append(c.verified, n)
	if _, ok := c.hashes[n]; !ok {
		return nil, nil
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), GasLimit: 30_000_000, GasUsed: 12_345, Time: 1700000000 + n*12}, nil
}

// extend appends canonical blocks up to head and moves the head there.
func (c *fakeChain) extend(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for n := c.head + 1; n <= head; n++ {
		c.hashes[n] = hashAt(n)
	}
	c.head = head
}

func (c *fakeChain) drop(numbers ...uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range numbers {
		delete(c.hashes, n)
	}
}

func (c *fakeChain) set(n uint64, h common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[n] = h
}

func (c *fakeChain) queries(n uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queried[n]
}

func (c *fakeChain) verifiedBlocks() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.verified...)
}

func (c *fakeChain) resetQueries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queried = make(map[uint64]int)
}

// fakeSource serves both block streams from event feeds.
type fakeSource struct {
	heads     event.Feed
	persisted event.Feed

	syncingPolls atomic.Int32 // polls answered with progress before reporting synced
	polls        atomic.Int32
	pollsAtSub   atomic.Int32

	headsErr error
	headsSub func() ethereum.Subscription
}

func (s *fakeSource) SyncProgress(ctx context.Context) (*ethereum.SyncProgress, error) {
	s.polls.Add(1)
	if s.syncingPolls.Add(-1) >= 0 {
		return &ethereum.SyncProgress{CurrentBlock: 10, HighestBlock: 20}, nil
	}
	return nil, nil
}

func (s *fakeSource) SubscribeHeaders(ctx context.Context, ch chan<- Header) (ethereum.Subscription, error) {
	s.pollsAtSub.Store(s.polls.Load())
	if s.headsErr != nil {
		return nil, s.headsErr
	}
	if s.headsSub != nil {
		return s.headsSub(), nil
	}
	return s.heads.Subscribe(ch), nil
}

func (s *fakeSource) SubscribePersisted(ctx context.Context, ch chan<- PersistedBlock) (ethereum.Subscription, error) {
	return s.persisted.Subscribe(ch), nil
}

// send delivers v once a subscriber exists. It gives up when done closes.
func send(feed *event.Feed, done <-chan struct{}, v any) bool {
	for {
		if feed.Send(v) > 0 {
			return true
		}
		select {
		case <-done:
			return false
		case <-time.After(time.Millisecond):
		}
	}
}

func header(n uint64) Header {
	return Header{Number: n, Hash: hashAt(n), ReceivedAt: time.Now()}
}

// histogramCount reads the sample count of a histogram by its full name.
func histogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}

// metricValue reads a counter or gauge by its full name.
func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		m := mf.GetMetric()[0]
		if c := m.GetCounter(); c != nil {
			return c.GetValue()
		}
		if g := m.GetGauge(); g != nil {
			return g.GetValue()
		}
	}
	return 0
}

var errConnReset = errors.New("connection reset by peer")
