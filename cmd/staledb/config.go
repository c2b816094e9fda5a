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
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/naoina/toml"
	"github.com/tkmct/staledb/dbreader"
	"github.com/tkmct/staledb/rpcsource"
	"github.com/urfave/cli/v2"
)

// Database access modes.
const (
	// dbModeRemote reads the node's database through its debug API.
	dbModeRemote = "remote"
	// dbModeLocal opens the database files directly. The node must be stopped.
	dbModeLocal = "local"
)

// Sources of persisted-block boundaries.
const (
	persistedFromDatabase = "database"
	persistedFromRPC      = "rpc"
)

// Config holds the staledb monitor configuration.
type Config struct {
	RPCEndpoint string
	// JWTSecret is the path to the node's hex encoded engine API secret.
	JWTSecret       string `toml:",omitempty"`
	PersistedBlocks bool
	// PersistedSource selects where persisted boundaries come from: the
	// database head ("database") or a node subscription ("rpc").
	PersistedSource       string
	PersistedMethod       string
	PersistedPollInterval time.Duration

	DBMode  string
	DataDir string `toml:",omitempty"`
	// AncientDir defaults to <DataDir>/ancient.
	AncientDir string `toml:",omitempty"`
	Chain      string
	DBCache    int
	DBHandles  int

	SyncPollInterval time.Duration

	MetricsEnabled  bool
	MetricsAddr     string
	TracingEndpoint string `toml:",omitempty"`
}

var defaultConfig = Config{
	RPCEndpoint:           "ws://localhost:8546",
	PersistedSource:       persistedFromDatabase,
	PersistedMethod:       rpcsource.DefaultPersistedMethod,
	PersistedPollInterval: time.Second,
	DBMode:                dbModeRemote,
	Chain:                 string(dbreader.Mainnet),
	DBCache:               16,
	DBHandles:             16,
	SyncPollInterval:      5 * time.Second,
	MetricsAddr:           "127.0.0.1:9190",
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.RPCEndpoint == "" {
		return fmt.Errorf("rpc.ws is required")
	}
	if !strings.HasPrefix(c.RPCEndpoint, "ws://") && !strings.HasPrefix(c.RPCEndpoint, "wss://") {
		return fmt.Errorf("rpc.ws must be a ws:// or wss:// URL, got %q", c.RPCEndpoint)
	}
	switch c.DBMode {
	case dbModeRemote:
	case dbModeLocal:
		if c.DataDir == "" {
			return fmt.Errorf("datadir is required with db.mode=%s", dbModeLocal)
		}
	default:
		return fmt.Errorf("unknown db.mode %q (want %s or %s)", c.DBMode, dbModeRemote, dbModeLocal)
	}
	if _, err := dbreader.ParseChain(c.Chain); err != nil {
		return err
	}
	if c.PersistedBlocks {
		switch c.PersistedSource {
		case persistedFromDatabase:
			if c.PersistedPollInterval <= 0 {
				return fmt.Errorf("persisted.poll-interval must be > 0")
			}
		case persistedFromRPC:
			if c.PersistedMethod == "" {
				return fmt.Errorf("persisted.method is required with persisted.source=%s", persistedFromRPC)
			}
		default:
			return fmt.Errorf("unknown persisted.source %q (want %s or %s)", c.PersistedSource, persistedFromDatabase, persistedFromRPC)
		}
	}
	if c.SyncPollInterval <= 0 {
		return fmt.Errorf("sync.poll-interval must be > 0")
	}
	if c.DBCache < 0 || c.DBHandles < 0 {
		return fmt.Errorf("db.cache and db.handles must not be negative")
	}
	if c.MetricsEnabled && c.MetricsAddr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

func loadConfig(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	var lineErr *toml.LineError
	if errors.As(err, &lineErr) {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// buildConfigFromCLI starts from the defaults, applies the config file and
// then every flag set explicitly on the command line.
func buildConfigFromCLI(ctx *cli.Context) (*Config, error) {
	cfg := defaultConfig
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if ctx.IsSet(rpcEndpointFlag.Name) {
		cfg.RPCEndpoint = ctx.String(rpcEndpointFlag.Name)
	}
	if ctx.IsSet(jwtSecretFlag.Name) {
		cfg.JWTSecret = ctx.String(jwtSecretFlag.Name)
	}
	if ctx.IsSet(persistedBlocksFlag.Name) {
		cfg.PersistedBlocks = ctx.Bool(persistedBlocksFlag.Name)
	}
	if ctx.IsSet(persistedSourceFlag.Name) {
		cfg.PersistedSource = ctx.String(persistedSourceFlag.Name)
	}
	if ctx.IsSet(persistedMethodFlag.Name) {
		cfg.PersistedMethod = ctx.String(persistedMethodFlag.Name)
	}
	if ctx.IsSet(persistedPollIntervalFlag.Name) {
		cfg.PersistedPollInterval = ctx.Duration(persistedPollIntervalFlag.Name)
	}
	if ctx.IsSet(dbModeFlag.Name) {
		cfg.DBMode = ctx.String(dbModeFlag.Name)
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(ancientDirFlag.Name) {
		cfg.AncientDir = ctx.String(ancientDirFlag.Name)
	}
	if ctx.IsSet(chainFlag.Name) {
		cfg.Chain = ctx.String(chainFlag.Name)
	}
	if ctx.IsSet(dbCacheFlag.Name) {
		cfg.DBCache = ctx.Int(dbCacheFlag.Name)
	}
	if ctx.IsSet(dbHandlesFlag.Name) {
		cfg.DBHandles = ctx.Int(dbHandlesFlag.Name)
	}
	if ctx.IsSet(syncPollIntervalFlag.Name) {
		cfg.SyncPollInterval = ctx.Duration(syncPollIntervalFlag.Name)
	}
	if ctx.IsSet(metricsEnabledFlag.Name) {
		cfg.MetricsEnabled = ctx.Bool(metricsEnabledFlag.Name)
	}
	if ctx.IsSet(metricsAddrFlag.Name) {
		cfg.MetricsAddr = ctx.String(metricsAddrFlag.Name)
	}
	if ctx.IsSet(tracingEndpointFlag.Name) {
		cfg.TracingEndpoint = ctx.String(tracingEndpointFlag.Name)
	}
	return &cfg, nil
}
