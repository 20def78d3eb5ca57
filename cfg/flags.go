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

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindFlags registers every Config field onto fs, at the defaults
// DefaultConfig returns. cmd/root.go then layers a config file
// underneath these flags via viper, with flags taking precedence.
func BindFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()

	fs.String("bus-host", d.Bus.Host, "cartridge controller host")
	fs.Int("bus-port", d.Bus.Port, "cartridge controller port")
	fs.Duration("bus-dial-timeout", d.Bus.DialTimeout, "bus dial timeout")

	fs.Int("cache-max-frames", d.Cache.MaxFrames, "frame cache capacity, 0 disables caching")

	fs.Int("max-cartridges", d.Cartridge.MaxCartridges, "number of cartridges in the memory system")

	fs.String("log-format", d.Logging.Format, "log format: text or json")
	fs.String("log-severity", d.Logging.Severity, "log severity: OFF, ERROR, WARNING, INFO, DEBUG, TRACE")
	fs.String("log-file", d.Logging.Path, "log file path, empty for stderr")
}

// flagViperKeys maps each flat flag name BindFlags registers onto the
// dotted viper key that Config's nested yaml/mapstructure tags expect, so
// a flag and the equivalent config-file entry land on the same field.
var flagViperKeys = map[string]string{
	"bus-host":         "bus.host",
	"bus-port":         "bus.port",
	"bus-dial-timeout": "bus.dial-timeout",
	"cache-max-frames": "cache.max-frames",
	"max-cartridges":   "cartridge.max-cartridges",
	"log-format":       "logging.format",
	"log-severity":     "logging.severity",
	"log-file":         "logging.log-file",
}

// BindViper wires every flag BindFlags registered on fs into v, so that a
// value set on the command line takes precedence over one from a config
// file or v's defaults.
func BindViper(v *viper.Viper, fs *pflag.FlagSet) error {
	for flagName, key := range flagViperKeys {
		flag := fs.Lookup(flagName)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}
