// Copyright 2024 The cartfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/cartfs/cartfs/cfg"
	"github.com/cartfs/cartfs/internal/bus"
	"github.com/stretchr/testify/require"
)

// withTestController starts a real bus.TestServer, points rootCfg at it for
// the duration of the test, and restores rootCfg on cleanup. Every
// cartfsctl subcommand dials the bus over TCP (see newDriver), so
// exercising session/put/get/stat end-to-end needs a real listener rather
// than an in-process fake.
func withTestController(t *testing.T, maxCartridges int) {
	t.Helper()

	srv, err := bus.NewTestServer(maxCartridges)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	host, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := cfg.DefaultConfig()
	c.Bus.Host = host
	c.Bus.Port = port
	c.Cartridge.MaxCartridges = maxCartridges

	prevCfg := rootCfg
	rootCfg = c
	t.Cleanup(func() { rootCfg = prevCfg })
}

func TestRunSessionWriteSeekRead(t *testing.T) {
	withTestController(t, 1)

	in := strings.NewReader(strings.Join([]string{
		"open a",
		"write 0 hello",
		"seek 0 0",
		"read 0 5",
		"close 0",
		"quit",
	}, "\n") + "\n")
	var out bytes.Buffer

	err := runSession(context.Background(), in, &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Contains(t, lines, "fd=0")
	require.Contains(t, lines, "wrote=5")
	require.Contains(t, lines, `read=5 data="hello"`)
}

func TestRunSessionUnknownCommand(t *testing.T) {
	withTestController(t, 1)

	in := strings.NewReader("bogus\nquit\n")
	var out bytes.Buffer

	err := runSession(context.Background(), in, &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), `unknown command "bogus"`)
}
