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
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	defaultSyncPollInterval = 5 * time.Second
	maxSyncBackoff          = 30 * time.Second

	methodNotFoundCode = -32601
)

// SyncGate holds startup until the node stops reporting sync progress.
type SyncGate struct {
	node       SyncStatusReader
	interval   time.Duration
	maxBackoff time.Duration
}

// NewSyncGate creates a gate polling node every interval.
func NewSyncGate(node SyncStatusReader, interval time.Duration) *SyncGate {
	if interval <= 0 {
		interval = defaultSyncPollInterval
	}
	return &SyncGate{
		node:       node,
		interval:   interval,
		maxBackoff: max(interval, maxSyncBackoff),
	}
}

// WaitUntilSynced blocks until the node reports it is synced. Transient query
// failures are retried with exponential backoff; unrecoverable ones and
// context cancellation are returned.
func (g *SyncGate) WaitUntilSynced(ctx context.Context) error {
	backoff := g.interval
	for {
		var wait time.Duration

		progress, err := g.node.SyncProgress(ctx)
		switch {
		case err != nil:
			retriable, reason := classifyRPCError(err)
			if !retriable {
				return fmt.Errorf("query sync status (%s): %w", reason, err)
			}
			log.Warn("Sync status query failed", "err", err, "backoff", backoff)
			wait = backoff
			backoff = min(backoff*2, g.maxBackoff)

		case progress == nil:
			log.Info("Node is synced")
			return nil

		default:
			log.Info("Waiting for node to sync", "current", progress.CurrentBlock, "highest", progress.HighestBlock)
			wait = g.interval
			backoff = g.interval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// classifyRPCError determines whether an RPC error is worth retrying.
func classifyRPCError(err error) (retriable bool, reason string) {
	if err == nil {
		return false, ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, "context done"
	}
	if errors.Is(err, rpc.ErrClientQuit) {
		return false, "client closed"
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == methodNotFoundCode {
		return false, "RPC method not supported by node"
	}
	if strings.Contains(err.Error(), "method not found") {
		return false, "RPC method not supported by node"
	}
	// Connection resets and timeouts.
	return true, "transient error"
}
