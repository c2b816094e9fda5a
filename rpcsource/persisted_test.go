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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/tkmct/staledb/monitor"
)

var testSecret = common.FromHex("0x7365637265747365637265747365637265747365637265747365637265747365")

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// persistedServer speaks just enough JSON-RPC to serve one persisted-block
// subscription per connection.
type persistedServer struct {
	upgrader     websocket.Upgrader
	secret       []byte
	reject       *jsonError
	notes        []string
	drop         bool
	unsubscribed chan jsonrpcMessage
}

func newPersistedServer(notes ...string) *persistedServer {
	return &persistedServer{notes: notes, unsubscribed: make(chan jsonrpcMessage, 1)}
}

func (s *persistedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.secret != nil {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		_, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return s.secret, nil },
			jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var req jsonrpcMessage
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	if req.Method != DefaultPersistedMethod {
		conn.WriteJSON(&jsonrpcMessage{Version: "2.0", ID: req.ID, Error: &jsonError{Code: -32601, Message: "method not found"}})
		return
	}
	if s.reject != nil {
		conn.WriteJSON(&jsonrpcMessage{Version: "2.0", ID: req.ID, Error: s.reject})
		return
	}
	conn.WriteJSON(&jsonrpcMessage{Version: "2.0", ID: req.ID, Result: json.RawMessage(`"0xsub"`)})
	if s.drop {
		return
	}
	for _, n := range s.notes {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(n)); err != nil {
			return
		}
	}
	var unsub jsonrpcMessage
	if err := conn.ReadJSON(&unsub); err == nil {
		s.unsubscribed <- unsub
	}
}

func note(id string, result string) string {
	return `{"jsonrpc":"2.0","method":"reth_subscription","params":{"subscription":"` + id + `","result":` + result + `}}`
}

func newWSClient(t *testing.T, endpoint string, secret []byte) *Client {
	t.Helper()
	cfg := Config{Endpoint: endpoint, JWTSecret: secret, Timeout: 5 * time.Second}
	require.NoError(t, cfg.validate())
	c := &Client{cfg: cfg, dialer: websocket.Dialer{HandshakeTimeout: 5 * time.Second}}
	if secret != nil {
		c.auth = newJWTAuth(secret)
	}
	return c
}

func receivePersisted(t *testing.T, ch <-chan monitor.PersistedBlock) monitor.PersistedBlock {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for persisted block")
		return monitor.PersistedBlock{}
	}
}

func TestSubscribePersisted(t *testing.T) {
	hash := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	srv := newPersistedServer(
		note("0xsub", `{"number":100,"hash":"`+hash.Hex()+`"}`),
		note("0xother", `{"number":5,"hash":"`+hash.Hex()+`"}`),
		note("0xsub", `{"number":"0x65","hash":"`+hash.Hex()+`"}`),
	)
	httpSrv := httptest.NewServer(srv)
	defer httpSrv.Close()

	c := newWSClient(t, wsURL(httpSrv), nil)
	ch := make(chan monitor.PersistedBlock)
	sub, err := c.SubscribePersisted(context.Background(), ch)
	require.NoError(t, err)

	require.Equal(t, monitor.PersistedBlock{Number: 100, Hash: hash}, receivePersisted(t, ch))
	require.Equal(t, monitor.PersistedBlock{Number: 101, Hash: hash}, receivePersisted(t, ch))

	sub.Unsubscribe()
	select {
	case msg := <-srv.unsubscribed:
		require.Equal(t, "reth_unsubscribeLatestPersistedBlock", msg.Method)
		require.JSONEq(t, `["0xsub"]`, string(msg.Params))
	case <-time.After(5 * time.Second):
		t.Fatal("subscription was not cancelled")
	}
}

func TestSubscribePersistedRejected(t *testing.T) {
	srv := newPersistedServer()
	srv.reject = &jsonError{Code: -32601, Message: "the method reth_subscribeLatestPersistedBlock does not exist"}
	httpSrv := httptest.NewServer(srv)
	defer httpSrv.Close()

	c := newWSClient(t, wsURL(httpSrv), nil)
	_, err := c.SubscribePersisted(context.Background(), make(chan monitor.PersistedBlock))
	require.Error(t, err)

	var rpcErr rpc.Error
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, -32601, rpcErr.ErrorCode())
}

func TestSubscribePersistedConnectionLost(t *testing.T) {
	srv := newPersistedServer()
	srv.drop = true
	httpSrv := httptest.NewServer(srv)
	defer httpSrv.Close()

	c := newWSClient(t, wsURL(httpSrv), nil)
	sub, err := c.SubscribePersisted(context.Background(), make(chan monitor.PersistedBlock))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case err := <-sub.Err():
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("connection loss not reported")
	}
}

func TestSubscribePersistedAuth(t *testing.T) {
	srv := newPersistedServer(note("0xsub", `{"number":7,"hash":"0x0000000000000000000000000000000000000000000000000000000000000007"}`))
	srv.secret = testSecret
	httpSrv := httptest.NewServer(srv)
	defer httpSrv.Close()

	// Missing credentials fail the handshake.
	_, err := newWSClient(t, wsURL(httpSrv), nil).SubscribePersisted(context.Background(), make(chan monitor.PersistedBlock))
	require.ErrorContains(t, err, "401")

	ch := make(chan monitor.PersistedBlock)
	sub, err := newWSClient(t, wsURL(httpSrv), testSecret).SubscribePersisted(context.Background(), ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.Equal(t, uint64(7), receivePersisted(t, ch).Number)
}

func TestDecodePersisted(t *testing.T) {
	tests := []struct {
		input   string
		number  uint64
		wantErr bool
	}{
		{`{"number":1500}`, 1500, false},
		{`{"number":"0x5dc","hash":"0x00000000000000000000000000000000000000000000000000000000000005dc"}`, 1500, false},
		{`{"number":"1500"}`, 0, true},
		{`{"number":-1}`, 0, true},
		{`{"hash":"0x00000000000000000000000000000000000000000000000000000000000005dc"}`, 0, true},
	}
	for _, tt := range tests {
		b, err := decodePersisted(json.RawMessage(tt.input))
		if tt.wantErr {
			require.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		require.Equal(t, tt.number, b.Number, tt.input)
	}
}

func TestUnsubscribeMethod(t *testing.T) {
	require.Equal(t, "reth_unsubscribeLatestPersistedBlock", unsubscribeMethod("reth_subscribeLatestPersistedBlock"))
	require.Equal(t, "", unsubscribeMethod("latestPersistedBlock"))
	require.Equal(t, "", unsubscribeMethod("reth_latestPersistedBlock"))
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Endpoint: "ws://localhost:8546"}
	require.NoError(t, cfg.validate())
	require.Equal(t, DefaultPersistedMethod, cfg.PersistedMethod)
	require.Equal(t, defaultTimeout, cfg.Timeout)

	cfg = Config{Endpoint: "http://localhost:8545"}
	require.ErrorContains(t, cfg.validate(), "not a websocket URL")

	cfg = Config{Endpoint: "wss://node.example", JWTSecret: []byte{1, 2, 3}}
	require.ErrorContains(t, cfg.validate(), "invalid JWT secret length")
}

func TestReadJWTSecret(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "jwt.hex")
	require.NoError(t, os.WriteFile(good, []byte(hexutil.Encode(testSecret)+"\n"), 0600))
	secret, err := ReadJWTSecret(good)
	require.NoError(t, err)
	require.Equal(t, testSecret, secret)

	bare := filepath.Join(dir, "bare.hex")
	require.NoError(t, os.WriteFile(bare, []byte(strings.TrimPrefix(hexutil.Encode(testSecret), "0x")), 0600))
	secret, err = ReadJWTSecret(bare)
	require.NoError(t, err)
	require.Equal(t, testSecret, secret)

	short := filepath.Join(dir, "short.hex")
	require.NoError(t, os.WriteFile(short, []byte("0x1234"), 0600))
	_, err = ReadJWTSecret(short)
	require.ErrorContains(t, err, "invalid JWT secret")

	_, err = ReadJWTSecret(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestJWTAuthHeader(t *testing.T) {
	h := make(http.Header)
	require.NoError(t, newJWTAuth(testSecret)(h))

	raw := strings.TrimPrefix(h.Get("Authorization"), "Bearer ")
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) { return testSecret, nil })
	require.NoError(t, err)
	require.True(t, token.Valid)
	require.Equal(t, "HS256", token.Method.Alg())

	claims := token.Claims.(jwt.MapClaims)
	require.Contains(t, claims, "iat")
}
