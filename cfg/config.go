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

// Package cfg holds the driver's configuration surface: a struct bound to
// both a YAML config file and command-line flags through spf13/viper, with
// a Validate pass that rejects unusable settings up front.
package cfg

import "time"

// BusConfig describes how to reach the cartridge controller over the bus.
type BusConfig struct {
	Host        string        `yaml:"host" mapstructure:"host"`
	Port        int           `yaml:"port" mapstructure:"port"`
	DialTimeout time.Duration `yaml:"dial-timeout" mapstructure:"dial-timeout"`
}

// CacheConfig describes the frame cache's capacity.
type CacheConfig struct {
	MaxFrames int `yaml:"max-frames" mapstructure:"max-frames"`
}

// CartridgeConfig describes the size of the memory system.
type CartridgeConfig struct {
	MaxCartridges int `yaml:"max-cartridges" mapstructure:"max-cartridges"`
}

// LogConfig describes the default logger's behavior, bound onto
// internal/logger.Config at startup.
type LogConfig struct {
	Format   string `yaml:"format" mapstructure:"format"`
	Severity string `yaml:"severity" mapstructure:"severity"`
	Path     string `yaml:"log-file" mapstructure:"log-file"`
}

// Config is the top-level configuration struct, bound from a YAML file and
// flags through viper (flags win, then file, then defaults). Environment
// variables are not consulted.
type Config struct {
	Bus       BusConfig       `yaml:"bus" mapstructure:"bus"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Cartridge CartridgeConfig `yaml:"cartridge" mapstructure:"cartridge"`
	Logging   LogConfig       `yaml:"logging" mapstructure:"logging"`
}

// DefaultConfig returns the configuration cartfsctl starts from before any
// file or flag overrides are applied.
func DefaultConfig() Config {
	return Config{
		Bus: BusConfig{
			Host:        "127.0.0.1",
			Port:        9090,
			DialTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			MaxFrames: 64,
		},
		Cartridge: CartridgeConfig{
			MaxCartridges: 16,
		},
		Logging: LogConfig{
			Format:   "text",
			Severity: "INFO",
		},
	}
}
