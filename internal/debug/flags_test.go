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


package debug

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

func newContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range Flags {
		if err := f.Apply(set); err != nil {
			t.Fatalf("apply %v: %v", f.Names(), err)
		}
	}
	if err := set.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return cli.NewContext(cli.NewApp(), set, nil)
}

func restoreLogger(t *testing.T) {
	prev := log.Root()
	t.Cleanup(func() {
		Exit()
		log.SetDefault(prev)
	})
}

func TestSetupJSONFile(t *testing.T) {
	restoreLogger(t)
	file := filepath.Join(t.TempDir(), "logs", "staledb.log")

	if err := Setup(newContext(t, "--log.format=json", "--log.file="+file, "--verbosity=2")); err != nil {
		t.Fatalf("setup: %v", err)
	}
	log.Info("filtered out")
	log.Warn("persistence lag", "block", 42)
	Exit()

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "filtered out") {
		t.Fatalf("info record written at warn verbosity: %s", out)
	}
	if !strings.Contains(out, `"msg":"persistence lag"`) || !strings.Contains(out, `"block":42`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestSetupErrors(t *testing.T) {
	restoreLogger(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--log.format=xml"}, "unknown log format"},
		{[]string{"--log.rotate"}, "requires --log.file"},
		{[]string{"--log.vmodule=monitor"}, "invalid --log.vmodule"},
	}
	for _, tt := range tests {
		err := Setup(newContext(t, tt.args...))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%v: have %v, want %q", tt.args, err, tt.want)
		}
	}
}

func TestSetupRotation(t *testing.T) {
	restoreLogger(t)
	file := filepath.Join(t.TempDir(), "staledb.log")

	if err := Setup(newContext(t, "--log.rotate", "--log.file="+file, "--log.format=logfmt")); err != nil {
		t.Fatalf("setup: %v", err)
	}
	log.Info("rotating logger ready")
	Exit()

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "rotating logger ready") {
		t.Fatalf("unexpected log output: %s", data)
	}
}
