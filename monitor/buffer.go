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
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// FlushedHeader is a header released by a persisted-block boundary.
type FlushedHeader struct {
	Header
	Latency time.Duration // arrival to flush
}

// Flush is the ordered result of one persisted-block event.
type Flush struct {
	Boundary   uint64
	Headers    []FlushedHeader // strictly increasing by number
	MaxLatency time.Duration
}

// Buffer holds headers until the node reports them persisted. It is not
// safe for concurrent use; the monitor's consumer goroutine owns it.
type Buffer struct {
	pending map[uint64]Header
	now     func() time.Time
}

// NewBuffer creates an empty header buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		pending: make(map[uint64]Header),
		now:     time.Now,
	}
}

// OnHeader stores h keyed by its number. A header already buffered under the
// same number is replaced and reported via the return value.
//
// TODO: a tip reorg replaces only the colliding number; stale headers above
// the new tip stay buffered until flushed and will fail the hash comparison.
func (b *Buffer) OnHeader(h Header) (replaced bool) {
	if prev, ok := b.pending[h.Number]; ok {
		log.Debug("Replacing buffered header", "number", h.Number, "old", prev.Hash, "new", h.Hash)
		replaced = true
	}
	b.pending[h.Number] = h
	return replaced
}

// OnPersisted removes every buffered header numbered at or below p.Number
// and returns them in ascending order. A boundary below all buffered
// numbers releases nothing.
func (b *Buffer) OnPersisted(p PersistedBlock) Flush {
	flush := Flush{Boundary: p.Number}

	var numbers []uint64
	for n := range b.pending {
		if n <= p.Number {
			numbers = append(numbers, n)
		}
	}
	if len(numbers) == 0 {
		return flush
	}
	slices.Sort(numbers)

	now := b.now()
	flush.Headers = make([]FlushedHeader, 0, len(numbers))
	for _, n := range numbers {
		h := b.pending[n]
		delete(b.pending, n)

		latency := now.Sub(h.ReceivedAt)
		if latency > flush.MaxLatency {
			flush.MaxLatency = latency
		}
		flush.Headers = append(flush.Headers, FlushedHeader{Header: h, Latency: latency})
	}
	return flush
}

// Len returns the number of pending headers.
func (b *Buffer) Len() int {
	return len(b.pending)
}

// Lowest returns the smallest pending block number.
func (b *Buffer) Lowest() (uint64, bool) {
	if len(b.pending) == 0 {
		return 0, false
	}
	lowest := uint64(0)
	first := true
	for n := range b.pending {
		if first || n < lowest {
			lowest, first = n, false
		}
	}
	return lowest, true
}
