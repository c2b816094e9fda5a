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


package dbreader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	defaultRemoteTimeout = 10 * time.Second
	methodNotFoundCode   = -32601
)

// ErrDebugAPIUnavailable is returned when the node does not serve the debug
// database methods on the connected endpoint.
var ErrDebugAPIUnavailable = errors.New("node does not expose debug_dbGet/debug_dbAncient (enable the debug API on the endpoint)")

// Keys of the chain database schema, as laid out by core/rawdb.
var (
	headHeaderKey      = []byte("LastHeader")
	headerPrefix       = []byte("h") // headerPrefix + num (uint64 big endian) + hash -> header
	headerHashSuffix   = []byte("n") // headerPrefix + num (uint64 big endian) + headerHashSuffix -> hash
	headerNumberPrefix = []byte("H") // headerNumberPrefix + hash -> num (uint64 big endian)
)

func encodeBlockNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

func headerKey(number uint64, hash common.Hash) []byte {
	return append(append(append([]byte{}, headerPrefix...), encodeBlockNumber(number)...), hash.Bytes()...)
}

func headerHashKey(number uint64) []byte {
	return append(append(append([]byte{}, headerPrefix...), encodeBlockNumber(number)...), headerHashSuffix...)
}

func headerNumberKey(hash common.Hash) []byte {
	return append(append([]byte{}, headerNumberPrefix...), hash.Bytes()...)
}

// Caller issues raw JSON-RPC calls. *rpc.Client implements it.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Remote reads the chain database of a running node through the node's own
// debug API. Every lookup is answered from the node's open database handle,
// freezer included, so it observes exactly what the node's EVM observes and
// needs no file access or locks.
type Remote struct {
	rpc     Caller
	chain   Chain
	timeout time.Duration
}

// NewRemote creates a remote reader and verifies the node's stored genesis
// against chain.
func NewRemote(ctx context.Context, caller Caller, chain Chain) (*Remote, error) {
	r := &Remote{rpc: caller, chain: chain, timeout: defaultRemoteTimeout}

	stored, ok, err := r.BlockHash(ctx, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNoGenesis
	}
	if want := chain.GenesisHash(); stored != want {
		return nil, fmt.Errorf("genesis mismatch for %s: database=%s want=%s", chain, stored, want)
	}
	log.Info("Reading chain database through the node's debug API", "chain", chain)
	return r, nil
}

// LatestBlockNumber returns the number of the database's head header.
func (r *Remote) LatestBlockNumber(ctx context.Context) (uint64, error) {
	blob, ok, err := r.get(ctx, headHeaderKey)
	if err != nil {
		return 0, err
	}
	if !ok || len(blob) != common.HashLength {
		return 0, errNoHead
	}
	enc, ok, err := r.get(ctx, headerNumberKey(common.BytesToHash(blob)))
	if err != nil {
		return 0, err
	}
	if !ok || len(enc) != 8 {
		return 0, errNoHead
	}
	return binary.BigEndian.Uint64(enc), nil
}

// BlockHash returns the canonical hash stored for number, looking in the
// freezer first and then the key-value store.
func (r *Remote) BlockHash(ctx context.Context, number uint64) (common.Hash, bool, error) {
	blob, ok, err := r.ancient(ctx, rawdb.ChainFreezerHashTable, number)
	if err != nil {
		return common.Hash{}, false, err
	}
	if !ok || len(blob) == 0 {
		if blob, ok, err = r.get(ctx, headerHashKey(number)); err != nil || !ok {
			return common.Hash{}, false, err
		}
	}
	if len(blob) != common.HashLength {
		return common.Hash{}, false, fmt.Errorf("malformed canonical hash for block %d: %d bytes", number, len(blob))
	}
	hash := common.BytesToHash(blob)
	return hash, hash != (common.Hash{}), nil
}

// HeaderByNumber returns the canonical header at number, or nil.
func (r *Remote) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	hash, ok, err := r.BlockHash(ctx, number)
	if err != nil || !ok {
		return nil, err
	}
	blob, ok, err := r.ancient(ctx, rawdb.ChainFreezerHeaderTable, number)
	if err != nil {
		return nil, err
	}
	if !ok || len(blob) == 0 {
		if blob, ok, err = r.get(ctx, headerKey(number, hash)); err != nil || !ok {
			return nil, err
		}
	}
	header := new(types.Header)
	if err := rlp.DecodeBytes(blob, header); err != nil {
		return nil, fmt.Errorf("invalid header rlp for block %d: %w", number, err)
	}
	return header, nil
}

// ChainInfo reports the chain identity and the current head.
func (r *Remote) ChainInfo(ctx context.Context) (ChainInfo, error) {
	info := ChainInfo{
		Chain:   r.chain,
		ChainID: r.chain.Config().ChainID,
		Genesis: r.chain.GenesisHash(),
	}
	head, err := r.LatestBlockNumber(ctx)
	if errors.Is(err, errNoHead) {
		return info, nil
	}
	if err != nil {
		return info, err
	}
	hash, _, err := r.BlockHash(ctx, head)
	if err != nil {
		return info, err
	}
	info.HeadNumber, info.HeadHash = head, hash
	return info, nil
}

// Close is a no-op; the connection belongs to the caller.
func (r *Remote) Close() error {
	return nil
}

func (r *Remote) get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var blob hexutil.Bytes
	err := r.call(ctx, &blob, "debug_dbGet", hexutil.Encode(key))
	return r.result(blob, err)
}

func (r *Remote) ancient(ctx context.Context, kind string, number uint64) ([]byte, bool, error) {
	var blob hexutil.Bytes
	err := r.call(ctx, &blob, "debug_dbAncient", kind, number)
	return r.result(blob, err)
}

func (r *Remote) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.rpc.CallContext(ctx, result, method, args...)
}

// result separates entries the node reports as absent from failures to
// query it at all.
func (r *Remote) result(blob []byte, err error) ([]byte, bool, error) {
	if err == nil {
		return blob, true, nil
	}
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return nil, false, err
	}
	if rpcErr.ErrorCode() == methodNotFoundCode {
		return nil, false, fmt.Errorf("%w: %v", ErrDebugAPIUnavailable, err)
	}
	if isAbsent(err.Error()) {
		return nil, false, nil
	}
	return nil, false, err
}

// isAbsent matches the not-found errors of geth's key-value stores and
// freezer: leveldb/pebble/memorydb "not found", freezer "out of bounds", and
// "not supported" from databases without a freezer.
func isAbsent(msg string) bool {
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "out of bounds") ||
		strings.Contains(msg, "not supported")
}
