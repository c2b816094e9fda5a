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

	"github.com/ethereum/go-ethereum/common"
)

// BlockHashWindow is the number of recent block hashes reachable through the
// BLOCKHASH opcode.
const BlockHashWindow = 256

// ConsistencyResult is the outcome of one window scan.
type ConsistencyResult struct {
	CheckedBlock uint64
	WindowStart  uint64 // lowest number in the window
	WindowEnd    uint64 // == CheckedBlock
	Missing      *uint64
}

// OK reports whether every hash in the window resolved.
func (r ConsistencyResult) OK() bool {
	return r.Missing == nil
}

// HashReader resolves canonical hashes by number.
type HashReader interface {
	BlockHash(ctx context.Context, number uint64) (common.Hash, bool, error)
}

// Checker asserts that the BLOCKHASH window below a block is readable.
type Checker struct {
	reader HashReader
}

// NewChecker creates a checker over reader.
func NewChecker(reader HashReader) *Checker {
	return &Checker{reader: reader}
}

// WindowStart returns the lowest block number of the window ending at target.
func WindowStart(target uint64) uint64 {
	if target < BlockHashWindow-1 {
		return 0
	}
	return target - (BlockHashWindow - 1)
}

// Check walks the window from target down and records the first number whose
// hash cannot be read. Freezer rotation hides the newest entries first, so
// the walk starts at the top. An error means the database could not be
// reached and says nothing about the window.
func (c *Checker) Check(ctx context.Context, target uint64) (ConsistencyResult, error) {
	res := ConsistencyResult{
		CheckedBlock: target,
		WindowStart:  WindowStart(target),
		WindowEnd:    target,
	}
	for n := target; ; n-- {
		_, ok, err := c.reader.BlockHash(ctx, n)
		if err != nil {
			return res, fmt.Errorf("read block hash %d: %w", n, err)
		}
		if !ok {
			missing := n
			res.Missing = &missing
			return res, nil
		}
		if n == res.WindowStart {
			return res, nil
		}
	}
}
