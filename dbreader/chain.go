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
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

// Chain identifies one of the networks whose databases can be monitored.
type Chain string

const (
	Mainnet Chain = "mainnet"
	Sepolia Chain = "sepolia"
	Holesky Chain = "holesky"
)

// Chains lists the supported chain names in flag order.
func Chains() []string {
	return []string{string(Mainnet), string(Sepolia), string(Holesky)}
}

// ParseChain resolves a user supplied chain name.
func ParseChain(name string) (Chain, error) {
	switch c := Chain(strings.ToLower(strings.TrimSpace(name))); c {
	case Mainnet, Sepolia, Holesky:
		return c, nil
	default:
		return "", fmt.Errorf("unknown chain %q (want one of %s)", name, strings.Join(Chains(), ", "))
	}
}

// Config returns the chain configuration of the network.
func (c Chain) Config() *params.ChainConfig {
	switch c {
	case Sepolia:
		return params.SepoliaChainConfig
	case Holesky:
		return params.HoleskyChainConfig
	default:
		return params.MainnetChainConfig
	}
}

// GenesisHash returns the hash of the network's genesis block.
func (c Chain) GenesisHash() common.Hash {
	switch c {
	case Sepolia:
		return params.SepoliaGenesisHash
	case Holesky:
		return params.HoleskyGenesisHash
	default:
		return params.MainnetGenesisHash
	}
}

func (c Chain) String() string {
	return string(c)
}
