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

// Package cmd implements cartfsctl, the reference client for the cartfs
// driver: a cobra command tree that dials the cartridge controller over
// the bus and exercises the driver's public API, with viper configuration
// layered under flags.
package cmd

import (
	"fmt"
	"os"

	"github.com/cartfs/cartfs/cfg"
	"github.com/cartfs/cartfs/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error

	// rootCfg is the fully resolved configuration: defaults, overridden by
	// a config file, overridden by flags, in viper's usual precedence.
	rootCfg = cfg.DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "cartfsctl",
	Short: "Drive the cartfs block device over the cartridge bus",
	Long: `cartfsctl is the reference client for cartfs: a block-oriented file
driver layered over a remote cartridge memory service. It either stands in
for the simulated controller ("serve") or speaks the driver's public API
against one ("session", "put", "get", "stat").`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := cfg.Validate(&rootCfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger.Init(logger.Config{
			Format:   rootCfg.Logging.Format,
			Severity: rootCfg.Logging.Severity,
			Path:     rootCfg.Logging.Path,
		})
		return nil
	},
}

// Execute runs the command tree, printing any error to stderr and exiting
// nonzero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file")
	cfg.BindFlags(rootCmd.PersistentFlags())
	bindErr = cfg.BindViper(viper.GetViper(), rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(statCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			configFileErr = fmt.Errorf("reading config file %s: %w", cfgFile, err)
			return
		}
	}
	rootCfg = cfg.DefaultConfig()
	if err := viper.Unmarshal(&rootCfg); err != nil {
		unmarshalErr = fmt.Errorf("unmarshaling configuration: %w", err)
	}
}
