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

// Package sigs loads the on-disk signature catalog: event signatures keyed by
// topic0 and function signatures keyed by 4-byte selector. The catalog is
// optional; a missing file yields an empty map so that decoding degrades to
// raw topics and selectors instead of failing.
package sigs

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
)

const (
	DefaultEventSigsPath = "./data/event_sigs.json"
	DefaultFuncSigsPath  = "./data/func_sigs.json"
)

// EventInput describes one declared event parameter.
type EventInput struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Indexed bool   `json:"indexed"`
}

// FuncInput describes one declared function parameter.
type FuncInput struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// EventSig is one catalog entry for an event, keyed by the lowercase
// 0x-prefixed hex of its topic0.
type EventSig struct {
	Name   string
	Sig    string
	Inputs []EventInput
}

// FuncSig is one catalog entry for a function, keyed by the lowercase
// 0x-prefixed hex of its 4-byte selector.
type FuncSig struct {
	Name   string
	Sig    string
	Inputs []FuncInput
}

type EventSigMap map[string]EventSig
type FuncSigMap map[string]FuncSig

// The catalog files store entries as {"0x<key>": {"name", "sig", "abi": {...}}}
// where "abi" is the standard JSON ABI item.
type eventEntry struct {
	Name string `json:"name"`
	Sig  string `json:"sig"`
	ABI  struct {
		Name   string       `json:"name"`
		Inputs []EventInput `json:"inputs"`
	} `json:"abi"`
}

type funcEntry struct {
	Name string `json:"name"`
	Sig  string `json:"sig"`
	ABI  struct {
		Name   string      `json:"name"`
		Inputs []FuncInput `json:"inputs"`
	} `json:"abi"`
}

var (
	pathMu        sync.Mutex
	eventSigsPath string
	funcSigsPath  string
)

// SetEventSigsPath overrides the event catalog path. The first caller wins,
// which lets the CLI flag take precedence over the config file field.
func SetEventSigsPath(path string) {
	pathMu.Lock()
	defer pathMu.Unlock()
	if eventSigsPath == "" {
		eventSigsPath = path
	}
}

// SetFuncSigsPath overrides the function catalog path. The first caller wins.
func SetFuncSigsPath(path string) {
	pathMu.Lock()
	defer pathMu.Unlock()
	if funcSigsPath == "" {
		funcSigsPath = path
	}
}

// LoadEventsDefault loads the event catalog from the overridden path, falling
// back to DefaultEventSigsPath.
func LoadEventsDefault() (EventSigMap, error) {
	pathMu.Lock()
	p := eventSigsPath
	pathMu.Unlock()
	if p == "" {
		p = DefaultEventSigsPath
	}
	return LoadEvents(p)
}

// LoadFuncsDefault loads the function catalog from the overridden path,
// falling back to DefaultFuncSigsPath.
func LoadFuncsDefault() (FuncSigMap, error) {
	pathMu.Lock()
	p := funcSigsPath
	pathMu.Unlock()
	if p == "" {
		p = DefaultFuncSigsPath
	}
	return LoadFuncs(p)
}

// LoadEvents reads an event catalog file. A missing file is not an error.
func LoadEvents(path string) (EventSigMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return EventSigMap{}, nil
		}
		return nil, err
	}
	var raw map[string]eventEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	m := make(EventSigMap, len(raw))
	for k, e := range raw {
		name := e.Name
		if name == "" {
			name = e.ABI.Name
		}
		m[strings.ToLower(k)] = EventSig{Name: name, Sig: e.Sig, Inputs: e.ABI.Inputs}
	}
	return m, nil
}

// LoadFuncs reads a function catalog file. A missing file is not an error.
func LoadFuncs(path string) (FuncSigMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FuncSigMap{}, nil
		}
		return nil, err
	}
	var raw map[string]funcEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	m := make(FuncSigMap, len(raw))
	for k, e := range raw {
		name := e.Name
		if name == "" {
			name = e.ABI.Name
		}
		m[strings.ToLower(k)] = FuncSig{Name: name, Sig: e.Sig, Inputs: e.ABI.Inputs}
	}
	return m, nil
}

// resetPaths is a test hook.
func resetPaths() {
	pathMu.Lock()
	defer pathMu.Unlock()
	eventSigsPath, funcSigsPath = "", ""
}
