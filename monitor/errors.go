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
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var errSubscriptionClosed = errors.New("subscription closed")

// MissingHashError is returned when a hash inside the BLOCKHASH window of a
// verified block cannot be read from the database.
type MissingHashError struct {
	Block       uint64 // the unreadable number
	Target      uint64 // the block being verified
	WindowStart uint64
}

func (e *MissingHashError) Error() string {
	return fmt.Sprintf("missing historical block hash for block %d (verifying %d, window %d-%d)",
		e.Block, e.Target, e.WindowStart, e.Target)
}

// Fatal marks the error as terminating.
func (e *MissingHashError) Fatal() bool { return true }

// HashMismatchError is returned when the database hash of a block differs
// from the hash reported by the node's RPC feed.
type HashMismatchError struct {
	Block uint64
	RPC   common.Hash
	DB    common.Hash
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("block hash mismatch at block %d: rpc=%s db=%s", e.Block, e.RPC, e.DB)
}

// Fatal marks the error as terminating.
func (e *HashMismatchError) Fatal() bool { return true }

// IsFatal reports whether err, or any error it wraps, is a consistency
// failure.
func IsFatal(err error) bool {
	var f interface{ Fatal() bool }
	return errors.As(err, &f) && f.Fatal()
}
