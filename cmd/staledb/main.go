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


// staledb watches an execution node's database for block hashes that fall
// out of reach of the BLOCKHASH window.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/tkmct/staledb/dbreader"
	"github.com/tkmct/staledb/internal/debug"
	"github.com/tkmct/staledb/internal/flags"
	"github.com/tkmct/staledb/monitor"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

var (
	app = flags.NewApp("block hash consistency monitor for execution node databases")

	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.MiscCategory,
	}

	// RPC flags
	rpcEndpointFlag = &cli.StringFlag{
		Name:     "rpc.ws",
		Usage:    "WebSocket endpoint of the node",
		Value:    defaultConfig.RPCEndpoint,
		Category: flags.RPCCategory,
	}
	jwtSecretFlag = &cli.StringFlag{
		Name:     "rpc.jwtsecret",
		Usage:    "Path to a hex encoded JWT secret for authenticated endpoints",
		Category: flags.RPCCategory,
	}

	// Database flags
	dbModeFlag = &cli.StringFlag{
		Name:     "db.mode",
		Usage:    "Database access: remote (through the node's debug API) or local (open the files, node stopped)",
		Value:    defaultConfig.DBMode,
		Category: flags.DatabaseCategory,
	}
	dataDirFlag = &cli.StringFlag{
		Name:     "datadir",
		Usage:    "Chain database directory of the node (chaindata), for db.mode=local",
		Category: flags.DatabaseCategory,
	}
	ancientDirFlag = &cli.StringFlag{
		Name:     "datadir.ancient",
		Usage:    "Freezer directory (default = inside chaindata)",
		Category: flags.DatabaseCategory,
	}
	chainFlag = &cli.StringFlag{
		Name:     "chain",
		Usage:    "Chain of the database (" + strings.Join(dbreader.Chains(), ", ") + ")",
		Value:    defaultConfig.Chain,
		Category: flags.DatabaseCategory,
	}
	dbCacheFlag = &cli.IntFlag{
		Name:     "db.cache",
		Usage:    "Megabytes of memory allocated to the database read cache",
		Value:    defaultConfig.DBCache,
		Category: flags.DatabaseCategory,
	}
	dbHandlesFlag = &cli.IntFlag{
		Name:     "db.handles",
		Usage:    "Number of open file handles allowed to the database",
		Value:    defaultConfig.DBHandles,
		Category: flags.DatabaseCategory,
	}

	// Monitor flags
	persistedBlocksFlag = &cli.BoolFlag{
		Name:     "persisted-blocks",
		Usage:    "Hold headers until the node reports them persisted before checking",
		Category: flags.MonitorCategory,
	}
	persistedSourceFlag = &cli.StringFlag{
		Name:     "persisted.source",
		Usage:    "Where persisted blocks are learned from: database (head advances) or rpc (subscription)",
		Value:    defaultConfig.PersistedSource,
		Category: flags.MonitorCategory,
	}
	persistedMethodFlag = &cli.StringFlag{
		Name:     "persisted.method",
		Usage:    "Subscription method announcing persisted blocks, for persisted.source=rpc",
		Value:    defaultConfig.PersistedMethod,
		Category: flags.MonitorCategory,
	}
	persistedPollIntervalFlag = &cli.DurationFlag{
		Name:     "persisted.poll-interval",
		Usage:    "Database head poll interval, for persisted.source=database",
		Value:    defaultConfig.PersistedPollInterval,
		Category: flags.MonitorCategory,
	}
	syncPollIntervalFlag = &cli.DurationFlag{
		Name:     "sync.poll-interval",
		Usage:    "Interval between sync status polls at startup",
		Value:    defaultConfig.SyncPollInterval,
		Category: flags.MonitorCategory,
	}

	// Metrics and tracing flags
	metricsEnabledFlag = &cli.BoolFlag{
		Name:     "metrics",
		Usage:    "Enable the Prometheus metrics and health endpoint",
		Category: flags.MetricsCategory,
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:     "metrics.addr",
		Usage:    "Listen address of the metrics server",
		Value:    defaultConfig.MetricsAddr,
		Category: flags.MetricsCategory,
	}
	tracingEndpointFlag = &cli.StringFlag{
		Name:     "tracing.endpoint",
		Usage:    "OTLP/HTTP trace collector URL (e.g. http://localhost:4318/v1/traces)",
		Category: flags.MetricsCategory,
	}
)

var monitorFlags = []cli.Flag{
	configFileFlag,
	rpcEndpointFlag,
	jwtSecretFlag,
	dbModeFlag,
	dataDirFlag,
	ancientDirFlag,
	chainFlag,
	dbCacheFlag,
	dbHandlesFlag,
	persistedBlocksFlag,
	persistedSourceFlag,
	persistedMethodFlag,
	persistedPollIntervalFlag,
	syncPollIntervalFlag,
	metricsEnabledFlag,
	metricsAddrFlag,
	tracingEndpointFlag,
}

func init() {
	app.Action = runMonitor
	app.Flags = flags.Merge(monitorFlags, debug.Flags)
	app.Commands = []*cli.Command{dumpConfigCommand}
	app.Before = func(ctx *cli.Context) error {
		return debug.Setup(ctx)
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runMonitor returns nil only when interrupted by a signal.
func runMonitor(ctx *cli.Context) error {
	if ctx.Args().Len() > 0 {
		return fmt.Errorf("invalid command: %q", ctx.Args().First())
	}
	cfg, err := buildConfigFromCLI(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	sigctx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(sigctx, cfg)
}

// run drives the monitor until ctx is cancelled or the monitor exits. It
// returns nil only when ctx is cancelled, including while still connecting.
func run(ctx context.Context, cfg *Config) error {
	runner, err := NewRunner(ctx, cfg)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("Interrupted during startup", "err", err)
			return nil
		}
		return fmt.Errorf("failed to create runner: %w", err)
	}
	if err := runner.Start(); err != nil {
		runner.Stop()
		return fmt.Errorf("failed to start: %w", err)
	}
	log.Info("Block hash monitor started", "endpoint", cfg.RPCEndpoint, "dbmode", cfg.DBMode,
		"chain", cfg.Chain, "persistedBlocks", cfg.PersistedBlocks)

	select {
	case <-ctx.Done():
		log.Info("Shutting down", "reason", context.Cause(ctx))
		return runner.Stop()
	case <-runner.Done():
	}

	runErr := runner.Err()
	if err := runner.Stop(); err != nil {
		log.Error("Failed to stop monitor", "err", err)
	}
	if runErr == nil {
		runErr = errors.New("monitor exited")
	}
	var mismatch *monitor.HashMismatchError
	switch {
	case errors.As(runErr, &mismatch):
		log.Crit("Database diverged from the node's canonical chain", "err", runErr,
			"block", mismatch.Block, "rpc", mismatch.RPC, "db", mismatch.DB)
	case monitor.IsFatal(runErr):
		log.Crit("Database lost a block hash inside the BLOCKHASH window", "err", runErr)
	}
	return fmt.Errorf("monitor stopped: %w", runErr)
}
