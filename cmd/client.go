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
	"fmt"

	cartfs "github.com/cartfs/cartfs"
	"github.com/cartfs/cartfs/cfg"
	"github.com/cartfs/cartfs/internal/bus"
	"github.com/jacobsa/timeutil"
)

// newDriver dials the controller described by c's bus settings and
// constructs a powered-off Driver ready for PowerOn. Every cartfsctl
// subcommand that talks to the bus goes through this single
// construction path.
func newDriver(c *cfg.Config) *cartfs.Driver {
	addr := fmt.Sprintf("%s:%d", c.Bus.Host, c.Bus.Port)
	tr := bus.NewTCPTransport(addr, c.Bus.DialTimeout, timeutil.RealClock())
	return cartfs.NewDriver(tr, cartfs.Config{
		MaxCartridges: c.Cartridge.MaxCartridges,
		MaxFiles:      maxFilesForCLI,
		CacheFrames:   c.Cache.MaxFrames,
	})
}

// maxFilesForCLI bounds the number of distinct paths a single cartfsctl
// invocation or session can open (a closed file keeps its slot until
// poweroff); it is not exposed as a flag
// (the file table's capacity is a fixed property of the memory system,
// not a per-call tunable).
const maxFilesForCLI = 64
