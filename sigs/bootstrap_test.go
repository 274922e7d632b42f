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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const erc20ABI = `[
  {"type": "event", "name": "Transfer", "inputs": [
    {"name": "from", "type": "address", "indexed": true},
    {"name": "to", "type": "address", "indexed": true},
    {"name": "value", "type": "uint256", "indexed": false}
  ]},
  {"type": "function", "name": "transfer", "inputs": [
    {"name": "to", "type": "address"},
    {"name": "amount", "type": "uint256"}
  ]}
]`

func TestCanonicalEventSig(t *testing.T) {
	sig := CanonicalEventSig("Transfer", []EventInput{
		{Name: "from", Type: "address", Indexed: true},
		{Name: "to", Type: "address", Indexed: true},
		{Name: "value", Type: "uint256"},
	})
	assert.Equal(t, "Transfer(address,address,uint256)", sig)
}

func TestAddEventsFromABI(t *testing.T) {
	dir := t.TempDir()
	abiPath := filepath.Join(dir, "erc20.json")
	outPath := filepath.Join(dir, "event_sigs.json")
	require.NoError(t, os.WriteFile(abiPath, []byte(erc20ABI), 0o644))

	require.NoError(t, AddEventsFromABI(abiPath, outPath))

	m, err := LoadEvents(outPath)
	require.NoError(t, err)
	require.Len(t, m, 1, "functions are not event signatures")

	// keccak256("Transfer(address,address,uint256)")
	entry, ok := m[transferTopic]
	require.True(t, ok)
	assert.Equal(t, "Transfer", entry.Name)
	require.Len(t, entry.Inputs, 3)
	assert.Equal(t, "value", entry.Inputs[2].Name)
}

func TestAddEventsFromABIMergesExisting(t *testing.T) {
	dir := t.TempDir()
	abiPath := filepath.Join(dir, "erc20.json")
	outPath := filepath.Join(dir, "event_sigs.json")
	require.NoError(t, os.WriteFile(abiPath, []byte(erc20ABI), 0o644))

	seed := `{"0x0000000000000000000000000000000000000000000000000000000000000001": {
	  "name": "Seed", "sig": "Seed()", "abi": {"name": "Seed", "inputs": []}}}`
	require.NoError(t, os.WriteFile(outPath, []byte(seed), 0o644))

	require.NoError(t, AddEventsFromABI(abiPath, outPath))
	m, err := LoadEvents(outPath)
	require.NoError(t, err)
	assert.Len(t, m, 2)
}
