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

package track

import (
	"fmt"
	"sort"

	"github.com/evmtrack/evmtrack/client"
	"github.com/evmtrack/evmtrack/config"
	"github.com/evmtrack/evmtrack/output"
)

// GlobalFlags carries the CLI switches actions may consult.
type GlobalFlags struct {
	Verbose    bool
	JSON       bool
	WebhookURL string
}

// FactoryContext is handed to a factory when its action is instantiated.
type FactoryContext struct {
	Config *config.ActionConfig
	Client *client.Client
	Flags  GlobalFlags
	Output *output.Manager
}

// Factory builds one action kind from configuration.
type Factory struct {
	Description   string
	Dependencies  []string
	ConfigExample string
	New           func(ctx *FactoryContext) (Action, error)
}

// Registry maps action names to factories and resolves dependency order.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	logger.Debug("registering action factory", "name", name)
	r.factories[name] = f
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// Names lists registered factories in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Description returns the factory description, or "".
func (r *Registry) Description(name string) string {
	return r.factories[name].Description
}

// Dependencies returns the factory dependency list.
func (r *Registry) Dependencies(name string) []string {
	return r.factories[name].Dependencies
}

// ConfigExample returns the factory config example, or "".
func (r *Registry) ConfigExample(name string) string {
	return r.factories[name].ConfigExample
}

// DFS color states of Resolve.
const (
	unvisited = iota
	onStack
	done
)

// Resolve produces a linear extension of the dependency graph rooted at
// names: every dependency precedes its dependents. Dependencies on
// unregistered names are skipped with a warning; a cycle fails with the
// offending name.
func (r *Registry) Resolve(names []string) ([]string, error) {
	state := make(map[string]int)
	var order []string
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case onStack:
			return fmt.Errorf("circular dependency detected involving action %s", name)
		case done:
			return nil
		}
		state[name] = onStack
		for _, dep := range r.factories[name].Dependencies {
			if !r.Has(dep) {
				logger.Warn("action depends on unregistered action", "action", name, "dependency", dep)
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Build instantiates the enabled actions of cfg (plus JsonLog when the JSON
// flag is set) in dependency order. Enabled-but-unregistered actions are
// skipped with a warning; a factory error is fatal.
func (r *Registry) Build(cfg *config.Config, cl *client.Client, flags GlobalFlags) (*ActionSet, error) {
	var enabled []string
	for name, ac := range cfg.Actions {
		if !ac.Enabled {
			continue
		}
		if !r.Has(name) {
			logger.Warn("action enabled in config but not registered", "action", name)
			continue
		}
		enabled = append(enabled, name)
	}
	sort.Strings(enabled)
	if flags.JSON && r.Has("JsonLog") {
		enabled = append(enabled, "JsonLog")
	}

	order, err := r.Resolve(enabled)
	if err != nil {
		return nil, err
	}
	logger.Info("action loading order", "order", order)

	set := NewActionSet()
	for _, name := range order {
		ac := cfg.Action(name)
		if ac == nil {
			// Pulled in as a dependency or by a CLI flag; instantiate with
			// defaults.
			ac = &config.ActionConfig{}
		}
		outputCfg := ac.Output
		if outputCfg == nil {
			outputCfg = cfg.Output
		}
		var sink *output.Manager
		if outputCfg != nil {
			if sink, err = output.NewManager(*outputCfg); err != nil {
				return nil, fmt.Errorf("opening output for action %s: %w", name, err)
			}
		}
		action, err := r.factories[name].New(&FactoryContext{
			Config: ac,
			Client: cl,
			Flags:  flags,
			Output: sink,
		})
		if err != nil {
			return nil, fmt.Errorf("creating action %s: %w", name, err)
		}
		logger.Info("loaded action", "name", name)
		set.Add(name, action)
	}
	return set, nil
}
