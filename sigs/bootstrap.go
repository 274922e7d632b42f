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

package sigs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// abiItem is the slice of a standard JSON ABI entry the bootstrap needs.
type abiItem struct {
	Type   string       `json:"type"`
	Name   string       `json:"name"`
	Inputs []EventInput `json:"inputs"`
}

// CanonicalEventSig renders "Name(type1,type2,...)".
func CanonicalEventSig(name string, inputs []EventInput) string {
	types := make([]string, len(inputs))
	for i, in := range inputs {
		types[i] = in.Type
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(types, ","))
}

// AddEventsFromABI merges the event signatures of an ABI file into the
// catalog at outputPath, keyed by the keccak of the canonical signature. An
// existing catalog is extended, not replaced.
func AddEventsFromABI(abiPath, outputPath string) error {
	data, err := os.ReadFile(abiPath)
	if err != nil {
		return fmt.Errorf("reading ABI file: %w", err)
	}
	var items []abiItem
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("parsing ABI JSON: %w", err)
	}

	out := make(map[string]json.RawMessage)
	if existing, err := os.ReadFile(outputPath); err == nil {
		if err := json.Unmarshal(existing, &out); err != nil {
			loggerWarnCorrupt(outputPath, err)
			out = make(map[string]json.RawMessage)
		}
	}

	added := 0
	for _, item := range items {
		if item.Type != "event" {
			continue
		}
		sig := CanonicalEventSig(item.Name, item.Inputs)
		topic0 := crypto.Keccak256Hash([]byte(sig))
		entry, err := json.Marshal(map[string]interface{}{
			"name": item.Name,
			"sig":  sig,
			"abi":  item,
		})
		if err != nil {
			return err
		}
		out[strings.ToLower(topic0.Hex())] = entry
		added++
	}

	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	if err := os.WriteFile(outputPath, pretty, 0o644); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	fmt.Printf("merged %d event signatures into %s\n", added, outputPath)
	return nil
}

func loggerWarnCorrupt(path string, err error) {
	fmt.Fprintf(os.Stderr, "warning: existing catalog %s unreadable (%v); rebuilding\n", path, err)
}
