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

// Package dbreader provides read-only access to a node's chain database.
package dbreader

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/pebble"
	"github.com/ethereum/go-ethereum/log"
)

const metricsNamespace = "staledb/chaindata/"

var (
	errNoGenesis = errors.New("database has no genesis block")
	errNoHead    = errors.New("database has no head header")

	// ErrDatabaseLocked is returned by Open when another process, normally
	// the node itself, holds the database.
	ErrDatabaseLocked = errors.New("database is locked by another process")
)

// Config describes where the chain database lives.
type Config struct {
	Path    string // chaindata directory
	Ancient string // freezer directory, defaults to <Path>/ancient
	Chain   Chain
	Cache   int // MB
	Handles int
}

// ChainInfo summarises the identity and head of an opened database.
type ChainInfo struct {
	Chain      Chain
	ChainID    *big.Int
	Genesis    common.Hash
	HeadNumber uint64
	HeadHash   common.Hash
}

// Reader is a read-only view over the canonical chain stored in a database.
// It never writes and holds no state besides the database handle, so it is
// safe for concurrent use.
type Reader struct {
	db    ethdb.Database
	chain Chain
}

// Open opens the key-value store and freezer at cfg.Path in read-only mode
// and verifies that the stored genesis matches cfg.Chain.
//
// Both stores take file locks, so Open fails with ErrDatabaseLocked while the
// node is running. A database opened this way is a snapshot for offline
// checks; use a Remote reader next to a live node.
func Open(cfg Config) (*Reader, error) {
	kvdb, err := openKeyValue(cfg)
	if err != nil {
		return nil, err
	}
	ancient := cfg.Ancient
	if ancient == "" {
		ancient = filepath.Join(cfg.Path, "ancient")
	}
	db, err := rawdb.NewDatabaseWithFreezer(kvdb, ancient, metricsNamespace, true)
	if err != nil {
		kvdb.Close()
		return nil, lockedError(ancient, fmt.Errorf("open freezer %s: %w", ancient, err))
	}
	r, err := NewReader(db, cfg.Chain)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info("Opened chain database", "path", cfg.Path, "ancient", ancient, "chain", cfg.Chain)
	return r, nil
}

func openKeyValue(cfg Config) (ethdb.KeyValueStore, error) {
	switch kind := rawdb.PreexistingDatabase(cfg.Path); kind {
	case rawdb.DBPebble:
		log.Info("Using pebble as the backing database", "path", cfg.Path)
		db, err := pebble.New(cfg.Path, cfg.Cache, cfg.Handles, metricsNamespace, true)
		if err != nil {
			return nil, lockedError(cfg.Path, fmt.Errorf("open pebble database %s: %w", cfg.Path, err))
		}
		return db, nil
	case rawdb.DBLeveldb:
		log.Info("Using leveldb as the backing database", "path", cfg.Path)
		db, err := leveldb.New(cfg.Path, cfg.Cache, cfg.Handles, metricsNamespace, true)
		if err != nil {
			return nil, lockedError(cfg.Path, fmt.Errorf("open leveldb database %s: %w", cfg.Path, err))
		}
		return db, nil
	default:
		return nil, fmt.Errorf("no chain database found at %s", cfg.Path)
	}
}

// lockedError marks err as ErrDatabaseLocked when it stems from a file lock
// held elsewhere. goleveldb and the freezer surface flock's EWOULDBLOCK,
// pebble reports its own lock message.
func lockedError(path string, err error) error {
	locked := errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN)
	if !locked {
		msg := err.Error()
		locked = strings.Contains(msg, "resource temporarily unavailable") ||
			strings.Contains(msg, "lock held by") ||
			strings.Contains(msg, "locking failed")
	}
	if !locked {
		return err
	}
	return fmt.Errorf("%w: %s (stop the node, or read through its debug API with --db.mode=remote): %v",
		ErrDatabaseLocked, path, err)
}

// NewReader wraps an already opened database. The canonical genesis hash
// must match the selected chain.
func NewReader(db ethdb.Database, chain Chain) (*Reader, error) {
	stored := rawdb.ReadCanonicalHash(db, 0)
	if stored == (common.Hash{}) {
		return nil, errNoGenesis
	}
	if want := chain.GenesisHash(); stored != want {
		return nil, fmt.Errorf("genesis mismatch for %s: database=%s want=%s", chain, stored, want)
	}
	return &Reader{db: db, chain: chain}, nil
}

// LatestBlockNumber returns the number of the database's head header.
func (r *Reader) LatestBlockNumber(context.Context) (uint64, error) {
	head := rawdb.ReadHeadHeader(r.db)
	if head == nil {
		return 0, errNoHead
	}
	return head.Number.Uint64(), nil
}

// BlockHash returns the canonical hash stored for the given number. Lookups
// fall through the freezer first and then the key-value store.
func (r *Reader) BlockHash(_ context.Context, number uint64) (common.Hash, bool, error) {
	hash := rawdb.ReadCanonicalHash(r.db, number)
	return hash, hash != (common.Hash{}), nil
}

// HeaderByNumber returns the canonical header at number, or nil.
func (r *Reader) HeaderByNumber(_ context.Context, number uint64) (*types.Header, error) {
	hash := rawdb.ReadCanonicalHash(r.db, number)
	if hash == (common.Hash{}) {
		return nil, nil
	}
	return rawdb.ReadHeader(r.db, hash, number), nil
}

// ChainInfo reports the chain identity and the current head.
func (r *Reader) ChainInfo(context.Context) (ChainInfo, error) {
	info := ChainInfo{
		Chain:   r.chain,
		ChainID: r.chain.Config().ChainID,
		Genesis: r.chain.GenesisHash(),
	}
	if head := rawdb.ReadHeadHeader(r.db); head != nil {
		info.HeadNumber = head.Number.Uint64()
		info.HeadHash = head.Hash()
	}
	return info, nil
}

// Close releases the database handle.
func (r *Reader) Close() error {
	return r.db.Close()
}
