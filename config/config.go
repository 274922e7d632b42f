// Copyright 2024 The evmtrack Authors
// This file is part of the evmtrack library.
//
// The evmtrack library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The evmtrack library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the evmtrack library. If not, see <http://www.gnu.org/licenses/>.

// Package config loads the tracker configuration from JSON or TOML; the file
// extension selects the parser, the content model is identical.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/naoina/toml"

	"github.com/evmtrack/evmtrack/output"
)

var logger = log.New("module", "config")

// DefaultMaxRequestsPerSecond applies when the config omits the key. An
// explicit zero disables throttling.
const DefaultMaxRequestsPerSecond uint32 = 10

// Config is the root of the configuration file.
type Config struct {
	RPCURL               string                   `json:"rpcurl" toml:"rpcurl"`
	MaxRequestsPerSecond *uint32                  `json:"max-requests-per-second" toml:"max-requests-per-second"`
	EventSigsPath        string                   `json:"event_sigs_path" toml:"event_sigs_path"`
	FuncSigsPath         string                   `json:"func_sigs_path" toml:"func_sigs_path"`
	Output               *output.Config           `json:"output" toml:"output"`
	Actions              map[string]*ActionConfig `json:"actions" toml:"actions"`
}

// ActionConfig configures one analyzer. Addresses map case-insensitive hex
// keys to opaque per-address properties; Options is free-form and read with
// the Opt* helpers, unknown keys are ignored.
type ActionConfig struct {
	Enabled   bool                       `json:"enabled" toml:"enabled"`
	Addresses map[string]json.RawMessage `json:"addresses" toml:"addresses"`
	Options   map[string]interface{}     `json:"options" toml:"options"`
	Output    *output.Config             `json:"output" toml:"output"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config TOML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config JSON: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants that are fatal at startup.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpcurl must not be empty")
	}
	if u, err := url.Parse(c.RPCURL); err == nil && u.Scheme != "" {
		switch u.Scheme {
		case "http", "https", "ws", "wss", "ipc", "stdio", "file":
		default:
			return fmt.Errorf("unsupported rpcurl scheme %q", u.Scheme)
		}
	}
	for name, action := range c.Actions {
		for addr := range action.Addresses {
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("invalid address %q in action %s", addr, name)
			}
		}
	}
	if len(c.Actions) == 0 {
		logger.Warn("no actions configured; nothing will be processed")
	}
	return nil
}

// RequestsPerSecond resolves the rate limit, applying the default when the
// key is absent.
func (c *Config) RequestsPerSecond() uint32 {
	if c.MaxRequestsPerSecond == nil {
		return DefaultMaxRequestsPerSecond
	}
	return *c.MaxRequestsPerSecond
}

// CollectEnabledAddresses unions the address filters of all enabled actions,
// deduplicated and in deterministic order.
func (c *Config) CollectEnabledAddresses() []common.Address {
	set := make(map[common.Address]struct{})
	for _, action := range c.Actions {
		if !action.Enabled {
			continue
		}
		for addr := range action.Addresses {
			set[common.HexToAddress(addr)] = struct{}{}
		}
	}
	if len(set) == 0 {
		logger.Warn("no enabled actions with addresses; filters will be empty")
	}
	addrs := make([]common.Address, 0, len(set))
	for a := range set {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return strings.Compare(addrs[i].Hex(), addrs[j].Hex()) < 0
	})
	return addrs
}

// Action returns the named action config, or nil.
func (c *Config) Action(name string) *ActionConfig {
	if c.Actions == nil {
		return nil
	}
	return c.Actions[name]
}

// OptString reads a string option key.
func (a *ActionConfig) OptString(key string) (string, bool) {
	if a == nil || a.Options == nil {
		return "", false
	}
	s, ok := a.Options[key].(string)
	return s, ok
}

// OptBool reads a boolean option key with a default.
func (a *ActionConfig) OptBool(key string, def bool) bool {
	if a == nil || a.Options == nil {
		return def
	}
	if b, ok := a.Options[key].(bool); ok {
		return b
	}
	return def
}

// OptUint64 reads a numeric option key. JSON numbers arrive as float64, TOML
// numbers as int64; both are accepted.
func (a *ActionConfig) OptUint64(key string) (uint64, bool) {
	if a == nil || a.Options == nil {
		return 0, false
	}
	switch v := a.Options[key].(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case uint64:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	}
	return 0, false
}

// OptStringSlice reads an array-of-strings option key.
func (a *ActionConfig) OptStringSlice(key string) []string {
	if a == nil || a.Options == nil {
		return nil
	}
	var out []string
	switch v := a.Options[key].(type) {
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = v
	}
	return out
}

// OptStringMap reads an object-of-strings option key.
func (a *ActionConfig) OptStringMap(key string) map[string]string {
	if a == nil || a.Options == nil {
		return nil
	}
	out := make(map[string]string)
	switch v := a.Options[key].(type) {
	case map[string]interface{}:
		for k, e := range v {
			if s, ok := e.(string); ok {
				out[k] = s
			}
		}
	case map[string]string:
		out = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
