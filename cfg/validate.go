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

package cfg

import "fmt"

const (
	// MaxCartridges is the controller's hardware-fixed cartridge count and
	// the largest value cartridge.max-cartridges may request.
	MaxCartridges = 1024
	// MaxCacheFrames bounds the cache at one entry per frame the largest
	// configuration could ever address.
	MaxCacheFrames = MaxCartridges * 1024
)

// Validate returns a non-nil error if c is not a usable configuration.
func Validate(c *Config) error {
	if c.Bus.Host == "" {
		return fmt.Errorf("bus.host must not be empty")
	}
	if c.Bus.Port <= 0 || c.Bus.Port > 65535 {
		return fmt.Errorf("bus.port %d out of range [1,65535]", c.Bus.Port)
	}
	if c.Bus.DialTimeout <= 0 {
		return fmt.Errorf("bus.dial-timeout must be positive")
	}

	if c.Cartridge.MaxCartridges <= 0 || c.Cartridge.MaxCartridges > MaxCartridges {
		return fmt.Errorf("cartridge.max-cartridges %d out of range [1,%d]", c.Cartridge.MaxCartridges, MaxCartridges)
	}

	if c.Cache.MaxFrames < 0 || c.Cache.MaxFrames > MaxCacheFrames {
		return fmt.Errorf("cache.max-frames %d out of range [0,%d]", c.Cache.MaxFrames, MaxCacheFrames)
	}

	if err := isValidSeverity(c.Logging.Severity); err != nil {
		return fmt.Errorf("logging.severity: %w", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format %q must be \"text\" or \"json\"", c.Logging.Format)
	}

	return nil
}

func isValidSeverity(s string) error {
	switch s {
	case "OFF", "ERROR", "WARNING", "INFO", "DEBUG", "TRACE":
		return nil
	default:
		return fmt.Errorf("unrecognized severity %q", s)
	}
}
