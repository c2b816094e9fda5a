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


package rpcsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"
	"github.com/tkmct/staledb/monitor"
)

const (
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 30 * time.Second
	wsWriteTimeout = 10 * time.Second

	subscribeID   = 1
	unsubscribeID = 2
)

type jsonrpcMessage struct {
	Version string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonError      `json:"error,omitempty"`
}

type jsonError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("json-rpc error %d", e.Code)
	}
	return e.Message
}

func (e *jsonError) ErrorCode() int { return e.Code }

type subscriptionResult struct {
	ID     json.RawMessage `json:"subscription"`
	Result json.RawMessage `json:"result"`
}

// blockNumber accepts both a JSON number and a hex quantity.
type blockNumber uint64

func (n *blockNumber) UnmarshalJSON(input []byte) error {
	if len(input) > 0 && input[0] == '"' {
		var q hexutil.Uint64
		if err := q.UnmarshalJSON(input); err != nil {
			return err
		}
		*n = blockNumber(q)
		return nil
	}
	var v uint64
	if err := json.Unmarshal(input, &v); err != nil {
		return fmt.Errorf("invalid block number %s: %w", input, err)
	}
	*n = blockNumber(v)
	return nil
}

type persistedBlockJSON struct {
	Number *blockNumber `json:"number"`
	Hash   common.Hash  `json:"hash"`
}

func decodePersisted(raw json.RawMessage) (monitor.PersistedBlock, error) {
	var b persistedBlockJSON
	if err := json.Unmarshal(raw, &b); err != nil {
		return monitor.PersistedBlock{}, err
	}
	if b.Number == nil {
		return monitor.PersistedBlock{}, errors.New("persisted block without number")
	}
	return monitor.PersistedBlock{Number: uint64(*b.Number), Hash: b.Hash}, nil
}

// unsubscribeMethod derives the cancel method, e.g.
// reth_subscribeLatestPersistedBlock -> reth_unsubscribeLatestPersistedBlock.
func unsubscribeMethod(method string) string {
	ns, name, ok := strings.Cut(method, "_")
	if !ok || !strings.HasPrefix(name, "subscribe") {
		return ""
	}
	return ns + "_un" + name
}

// wsSubscription is a single subscription on its own websocket connection.
type wsSubscription struct {
	conn    *websocket.Conn
	method  string
	id      json.RawMessage
	writeMu sync.Mutex
}

func (c *Client) subscribeWS(ctx context.Context, method string) (*wsSubscription, error) {
	header := make(http.Header)
	if c.auth != nil {
		if err := c.auth(header); err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.Endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%s: websocket handshake failed: %s: %w", method, resp.Status, err)
		}
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	s := &wsSubscription{conn: conn, method: method}
	if err := s.subscribe(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *wsSubscription) write(msg *jsonrpcMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *wsSubscription) subscribe(ctx context.Context) error {
	req := &jsonrpcMessage{
		Version: "2.0",
		ID:      json.RawMessage(fmt.Sprint(subscribeID)),
		Method:  s.method,
		Params:  json.RawMessage("[]"),
	}
	if err := s.write(req); err != nil {
		return fmt.Errorf("%s: %w", s.method, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(deadline)
	}
	for {
		var resp jsonrpcMessage
		if err := s.conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("%s: %w", s.method, err)
		}
		if !bytes.Equal(resp.ID, req.ID) {
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", s.method, resp.Error)
		}
		if len(resp.Result) == 0 || string(resp.Result) == "null" {
			return fmt.Errorf("%s: empty subscription id", s.method)
		}
		s.id = resp.Result
		return nil
	}
}

// run delivers notifications to ch until quit closes or the connection fails.
func (s *wsSubscription) run(ch chan<- monitor.PersistedBlock, quit <-chan struct{}) error {
	done := make(chan struct{})
	defer func() {
		close(done)
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
		return nil
	})

	events := make(chan monitor.PersistedBlock)
	errc := make(chan error, 1)
	go s.read(events, errc, done)
	go s.keepalive(done)

	for {
		select {
		case <-quit:
			s.unsubscribe()
			return nil
		case err := <-errc:
			return err
		case b := <-events:
			select {
			case ch <- b:
			case <-quit:
				s.unsubscribe()
				return nil
			}
		}
	}
}

func (s *wsSubscription) read(events chan<- monitor.PersistedBlock, errc chan<- error, done <-chan struct{}) {
	for {
		var msg jsonrpcMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			errc <- fmt.Errorf("%s: %w", s.method, err)
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
		if msg.Method == "" || len(msg.Params) == 0 {
			continue // responses, e.g. to the unsubscribe call
		}
		var note subscriptionResult
		if err := json.Unmarshal(msg.Params, &note); err != nil || !bytes.Equal(note.ID, s.id) {
			continue
		}
		b, err := decodePersisted(note.Result)
		if err != nil {
			errc <- fmt.Errorf("%s: invalid notification: %w", s.method, err)
			return
		}
		select {
		case events <- b:
		case <-done:
			return
		}
	}
}

func (s *wsSubscription) keepalive(done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				log.Debug("Persisted subscription ping failed", "err", err)
				return
			}
		}
	}
}

func (s *wsSubscription) unsubscribe() {
	method := unsubscribeMethod(s.method)
	if method == "" {
		return
	}
	params, _ := json.Marshal([]json.RawMessage{s.id})
	err := s.write(&jsonrpcMessage{
		Version: "2.0",
		ID:      json.RawMessage(fmt.Sprint(unsubscribeID)),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		log.Debug("Failed to cancel persisted subscription", "method", method, "err", err)
	}
}
