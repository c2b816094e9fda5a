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

package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.HeaderReceived(1, true)
	m.Flushed(2, 0, time.Second)
	m.CheckCompleted(time.Millisecond)
	m.HeaderReconciled(time.Second)
	m.BlockVerified(10)
	m.DatabaseBehind()
	m.Failure(ReasonMissingHash)
	m.SetPhase("monitoring")
}

func TestMetrics_Recording(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.HeaderReceived(1, false)
	m.HeaderReceived(2, true)
	require.Equal(t, 2.0, testutil.ToFloat64(m.headersReceived))
	require.Equal(t, 1.0, testutil.ToFloat64(m.headersReplaced))
	require.Equal(t, 2.0, testutil.ToFloat64(m.pendingHeaders))

	m.Flushed(2, 0, 1500*time.Millisecond)
	m.Flushed(0, 0, 0)
	require.Equal(t, 2.0, testutil.ToFloat64(m.persistedReceived))
	require.Equal(t, 0.0, testutil.ToFloat64(m.pendingHeaders))

	m.BlockVerified(500)
	m.BlockVerified(501)
	require.Equal(t, 2.0, testutil.ToFloat64(m.blocksVerified))
	require.Equal(t, 501.0, testutil.ToFloat64(m.lastVerifiedBlock))

	m.DatabaseBehind()
	require.Equal(t, 1.0, testutil.ToFloat64(m.databaseBehind))

	m.HeaderReconciled(250 * time.Millisecond)
	m.HeaderReconciled(750 * time.Millisecond)
	require.Equal(t, 1, testutil.CollectAndCount(m.headerLatency))

	m.Failure(ReasonHashMismatch)
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(ReasonHashMismatch)))
	require.Equal(t, 0.0, testutil.ToFloat64(m.failures.WithLabelValues(ReasonMissingHash)))
}

func TestMetrics_SetPhase(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SetPhase("waiting-sync")
	m.SetPhase("monitoring")
	for _, p := range Phases {
		want := 0.0
		if p == "monitoring" {
			want = 1
		}
		require.Equal(t, want, testutil.ToFloat64(m.phase.WithLabelValues(p)), p)
	}
}

func TestServer_ServesMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.BlockVerified(7)

	srv, err := NewServer("127.0.0.1:0", reg)
	require.NoError(t, err)
	errCh := srv.Start()

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	resp, err = http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.True(t, strings.Contains(string(body), "staledb_check_last_verified_block 7"), string(body))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	for err := range errCh {
		require.NoError(t, err)
	}
}

func TestNewServer_BadAddress(t *testing.T) {
	_, err := NewServer("256.0.0.1:-1", prometheus.NewRegistry())
	require.Error(t, err)
}
