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
	"os"
	"os/signal"
	"syscall"

	"github.com/cartfs/cartfs/internal/bus"
	"github.com/cartfs/cartfs/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a reference cartridge controller over TCP",
	Long: `serve stands in for the cartridge memory controller as an external
collaborator: it speaks the exact wire protocol TCPTransport expects,
backed by an in-memory frame store, for local experimentation and
integration tests. It is not the driver itself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := fmt.Sprintf("%s:%d", rootCfg.Bus.Host, rootCfg.Bus.Port)
		srv, err := bus.NewTestServerAt(addr, rootCfg.Cartridge.MaxCartridges)
		if err != nil {
			return fmt.Errorf("starting controller on %s: %w", addr, err)
		}
		logger.Infof("cartfsctl: reference controller listening on %s (%d cartridges)", srv.Addr(), rootCfg.Cartridge.MaxCartridges)

		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
		<-sigc

		logger.Infof("cartfsctl: shutting down controller")
		return srv.Close()
	},
}
