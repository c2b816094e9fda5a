// Copyright 2026 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.


package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tkmct/staledb/dbreader"
	"github.com/tkmct/staledb/internal/flags"
	"github.com/tkmct/staledb/internal/tracing"
	"github.com/tkmct/staledb/metrics"
	"github.com/tkmct/staledb/monitor"
	"github.com/tkmct/staledb/rpcsource"
)

const shutdownTimeout = 5 * time.Second

// chainDatabase is the node database as seen by the monitor, read either
// directly or through the node.
type chainDatabase interface {
	monitor.ChainReader
	ChainInfo(ctx context.Context) (dbreader.ChainInfo, error)
	Close() error
}

// Runner manages the monitor lifecycle.
type Runner struct {
	cfg      *Config
	db       chainDatabase
	client   *rpcsource.Client
	monitor  *monitor.Monitor
	server   *metrics.Server
	tracing  tracing.ShutdownFunc
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
}

// NewRunner connects to the node and its database and checks that both
// belong to the configured chain. Cancelling ctx aborts the setup.
func NewRunner(ctx context.Context, cfg *Config) (*Runner, error) {
	chain, err := dbreader.ParseChain(cfg.Chain)
	if err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg, done: make(chan struct{})}
	if err := r.init(ctx, chain); err != nil {
		r.close()
		return nil, err
	}
	return r, nil
}

func (r *Runner) init(ctx context.Context, chain dbreader.Chain) error {
	var err error
	if r.cfg.DBMode == dbModeLocal {
		// Open the files first: a locked database fails before any dialing.
		db, err := dbreader.Open(dbreader.Config{
			Path:    r.cfg.DataDir,
			Ancient: r.cfg.AncientDir,
			Chain:   chain,
			Cache:   r.cfg.DBCache,
			Handles: r.cfg.DBHandles,
		})
		if err != nil {
			return err
		}
		r.db = db
	}

	var secret []byte
	if r.cfg.JWTSecret != "" {
		if secret, err = rpcsource.ReadJWTSecret(r.cfg.JWTSecret); err != nil {
			return err
		}
	}
	r.client, err = rpcsource.Dial(ctx, rpcsource.Config{
		Endpoint:        r.cfg.RPCEndpoint,
		JWTSecret:       secret,
		PersistedMethod: r.cfg.PersistedMethod,
	})
	if err != nil {
		return err
	}
	if err := verifyChainID(ctx, r.client, chain); err != nil {
		return err
	}
	if r.db == nil {
		db, err := dbreader.NewRemote(ctx, r.client, chain)
		if err != nil {
			return fmt.Errorf("%w (or use --db.mode=%s with the node stopped)", err, dbModeLocal)
		}
		r.db = db
	}
	info, err := r.db.ChainInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to read database head: %w", err)
	}
	log.Info("Database head", "mode", r.cfg.DBMode, "chain", info.Chain, "chainid", info.ChainID,
		"number", info.HeadNumber, "hash", info.HeadHash)

	var m *metrics.Metrics
	if r.cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if m, err = metrics.New(reg); err != nil {
			return err
		}
		if r.server, err = metrics.NewServer(r.cfg.MetricsAddr, reg); err != nil {
			return err
		}
	}
	if r.tracing, err = tracing.Setup(ctx, r.cfg.TracingEndpoint, "staledb", flags.Version()); err != nil {
		return err
	}

	r.monitor = monitor.New(monitor.Config{
		PersistedBlocks:       r.cfg.PersistedBlocks,
		PersistedFromDatabase: r.cfg.PersistedSource == persistedFromDatabase,
		PersistedPollInterval: r.cfg.PersistedPollInterval,
		SyncPollInterval:      r.cfg.SyncPollInterval,
	}, r.client, r.db, m)
	return nil
}

// chainIDReader is the part of the node client used to identify the chain.
type chainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// verifyChainID fails if the node serves a different chain than the database.
func verifyChainID(ctx context.Context, node chainIDReader, chain dbreader.Chain) error {
	have, err := node.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to query chain id: %w", err)
	}
	if want := chain.Config().ChainID; have.Cmp(want) != 0 {
		return fmt.Errorf("chain id mismatch: node=%v %s=%v", have, chain, want)
	}
	return nil
}

// Start launches the metrics server and the monitor.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("already running")
	}
	r.running = true

	if r.server != nil {
		errc := r.server.Start()
		go func() {
			for err := range errc {
				log.Error("Metrics server failed", "err", err)
			}
		}()
		log.Info("Metrics server started", "addr", r.server.Addr())
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() {
		defer close(r.done)
		r.err = r.monitor.Run(ctx)
	}()
	return nil
}

// Done is closed once the monitor has returned.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Err returns why the monitor stopped. It is only valid after Done closes.
func (r *Runner) Err() error {
	return r.err
}

// Stop cancels the monitor and releases every resource.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		r.cancel()
		<-r.done
		r.running = false
		r.logExit()
	}
	return r.close()
}

func (r *Runner) logExit() {
	phase := r.monitor.Phase()
	elapsed := common.PrettyDuration(time.Since(r.monitor.PhaseSince()))
	if monitor.IsShutdown(r.err) {
		log.Info("Monitor stopped", "phase", phase, "inPhase", elapsed)
		return
	}
	log.Warn("Monitor exited", "phase", phase, "inPhase", elapsed, "err", r.err)
}

func (r *Runner) close() error {
	var errs []error
	r.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if r.server != nil {
			if err := r.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server: %w", err))
			}
		}
		if r.tracing != nil {
			if err := r.tracing(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracing: %w", err))
			}
		}
		if r.client != nil {
			r.client.Close()
		}
		if r.db != nil {
			if err := r.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("database: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}
