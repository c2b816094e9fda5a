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

// Package monitor reconciles a node's live block feed against the block
// hashes stored in its local database and stops at the first inconsistency.
package monitor

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Header is a new chain head as reported by the node's RPC feed.
type Header struct {
	Number     uint64
	Hash       common.Hash
	ReceivedAt time.Time
}

// PersistedBlock signals that every block up to Number has been durably
// written to the database.
type PersistedBlock struct {
	Number uint64
	Hash   common.Hash
}

// ChainReader is the read-only database surface the monitor needs. An absent
// entry is reported as ok == false or a nil header; err is reserved for
// failures to reach the database at all.
type ChainReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, number uint64) (hash common.Hash, ok bool, err error)
	HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error)
}

// SyncStatusReader reports the node's sync progress; nil means synced.
type SyncStatusReader interface {
	SyncProgress(ctx context.Context) (*ethereum.SyncProgress, error)
}

// PersistedSource supplies persisted-block boundaries.
type PersistedSource interface {
	SubscribePersisted(ctx context.Context, ch chan<- PersistedBlock) (ethereum.Subscription, error)
}

// Source supplies the node's event streams.
type Source interface {
	SyncStatusReader
	PersistedSource
	SubscribeHeaders(ctx context.Context, ch chan<- Header) (ethereum.Subscription, error)
}
