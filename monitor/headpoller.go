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
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

const defaultHeadPollInterval = time.Second

// HeadPoller derives persisted-block events from the database itself: every
// advance of the database head header is reported as a new boundary. It
// serves nodes that write blocks before announcing them and have no
// persistence subscription of their own.
type HeadPoller struct {
	db       ChainReader
	interval time.Duration
}

// NewHeadPoller creates a poller reading db every interval.
func NewHeadPoller(db ChainReader, interval time.Duration) *HeadPoller {
	if interval <= 0 {
		interval = defaultHeadPollInterval
	}
	return &HeadPoller{db: db, interval: interval}
}

// SubscribePersisted reports the database head each time it moves forward.
// The head seen at subscription time is the starting point and is not sent.
func (p *HeadPoller) SubscribePersisted(ctx context.Context, ch chan<- PersistedBlock) (ethereum.Subscription, error) {
	last, err := p.db.LatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("read database head: %w", err)
	}
	log.Info("Following database head for persisted blocks", "head", last, "interval", p.interval)

	return event.NewSubscription(func(quit <-chan struct{}) error {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return nil
			case <-ticker.C:
			}
			head, err := p.db.LatestBlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("read database head: %w", err)
			}
			if head <= last {
				continue
			}
			hash, _, err := p.db.BlockHash(ctx, head)
			if err != nil {
				return fmt.Errorf("read block hash %d: %w", head, err)
			}
			select {
			case ch <- PersistedBlock{Number: head, Hash: hash}:
				last = head
			case <-quit:
				return nil
			}
		}
	}), nil
}
