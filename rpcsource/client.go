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


// Package rpcsource connects to an execution node over WebSocket and exposes
// its sync status and block streams to the monitor.
package rpcsource

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
	"github.com/tkmct/staledb/monitor"
)

const (
	// DefaultPersistedMethod is reth's persisted-block subscription.
	DefaultPersistedMethod = "reth_subscribeLatestPersistedBlock"

	defaultTimeout = 30 * time.Second
	wsBufferSize   = 1024
	headsBuffer    = 16
)

// Config describes the node connection.
type Config struct {
	Endpoint        string // ws:// or wss://
	JWTSecret       []byte // optional, 32 bytes
	PersistedMethod string
	Timeout         time.Duration // handshake and call timeout
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.Endpoint, "ws://") && !strings.HasPrefix(c.Endpoint, "wss://") {
		return fmt.Errorf("endpoint %q is not a websocket URL", c.Endpoint)
	}
	if len(c.JWTSecret) != 0 && len(c.JWTSecret) != jwtSecretLength {
		return fmt.Errorf("invalid JWT secret length %d, want %d", len(c.JWTSecret), jwtSecretLength)
	}
	if c.PersistedMethod == "" {
		c.PersistedMethod = DefaultPersistedMethod
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return nil
}

// Client is a node connection.
type Client struct {
	cfg    Config
	rpc    *rpc.Client
	eth    *ethclient.Client
	dialer websocket.Dialer
	auth   rpc.HTTPAuth
}

// Dial connects to the node at cfg.Endpoint.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg: cfg,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.Timeout,
			ReadBufferSize:   wsBufferSize,
			WriteBufferSize:  wsBufferSize,
		},
	}
	opts := []rpc.ClientOption{rpc.WithWebsocketDialer(c.dialer)}
	if len(cfg.JWTSecret) > 0 {
		c.auth = newJWTAuth(cfg.JWTSecret)
		opts = append(opts, rpc.WithHTTPAuth(c.auth))
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	client, err := rpc.DialOptions(dialCtx, cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Endpoint, err)
	}
	c.rpc = client
	c.eth = ethclient.NewClient(client)
	log.Info("Connected to node RPC", "endpoint", cfg.Endpoint, "auth", c.auth != nil)
	return c, nil
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.eth.ChainID(ctx)
}

// SyncProgress returns nil once the node is synced.
func (c *Client) SyncProgress(ctx context.Context) (*ethereum.SyncProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.eth.SyncProgress(ctx)
}

// CallContext performs a raw JSON-RPC call over the node connection.
func (c *Client) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return c.rpc.CallContext(ctx, result, method, args...)
}

// rpcHead holds the newHeads fields the monitor needs. The hash is taken
// from the node rather than recomputed so header fields unknown to this
// client cannot change it.
type rpcHead struct {
	Number hexutil.Uint64 `json:"number"`
	Hash   common.Hash    `json:"hash"`
}

// SubscribeHeaders streams newHeads into ch.
func (c *Client) SubscribeHeaders(ctx context.Context, ch chan<- monitor.Header) (ethereum.Subscription, error) {
	raw := make(chan *rpcHead, headsBuffer)
	sub, err := c.rpc.EthSubscribe(ctx, raw, "newHeads")
	if err != nil {
		return nil, fmt.Errorf("eth_subscribe newHeads: %w", err)
	}
	log.Info("Subscribed to newHeads")

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case head := <-raw:
				h := monitor.Header{Number: uint64(head.Number), Hash: head.Hash, ReceivedAt: time.Now()}
				select {
				case ch <- h:
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				if err == nil {
					err = errors.New("newHeads subscription closed")
				}
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// SubscribePersisted streams the node's persisted-block notifications into
// ch. It uses a dedicated connection since the subscription method does not
// follow the eth_subscribe convention.
func (c *Client) SubscribePersisted(ctx context.Context, ch chan<- monitor.PersistedBlock) (ethereum.Subscription, error) {
	s, err := c.subscribeWS(ctx, c.cfg.PersistedMethod)
	if err != nil {
		return nil, err
	}
	log.Info("Subscribed to persisted blocks", "method", c.cfg.PersistedMethod, "id", string(s.id))
	return event.NewSubscription(func(quit <-chan struct{}) error {
		return s.run(ch, quit)
	}), nil
}

// Close terminates the connection.
func (c *Client) Close() {
	c.rpc.Close()
}
