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

const transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

func writeEventCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "event_sigs.json")
	data := `{
	  "0xDDF252AD1BE2C89B69C2B068FC378DAA952BA7F163C4A11628F55A4DF523B3EF": {
	    "name": "Transfer",
	    "sig": "Transfer(address,address,uint256)",
	    "abi": {
	      "name": "Transfer",
	      "inputs": [
	        {"name": "from", "type": "address", "indexed": true},
	        {"name": "to", "type": "address", "indexed": true},
	        {"name": "value", "type": "uint256", "indexed": false}
	      ]
	    }
	  }
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadEvents(t *testing.T) {
	path := writeEventCatalog(t)
	m, err := LoadEvents(path)
	require.NoError(t, err)
	require.Len(t, m, 1)

	// Keys are normalized to lowercase regardless of the file casing.
	entry, ok := m[transferTopic]
	require.True(t, ok)
	assert.Equal(t, "Transfer", entry.Name)
	require.Len(t, entry.Inputs, 3)
	assert.True(t, entry.Inputs[0].Indexed)
	assert.Equal(t, "value", entry.Inputs[2].Name)
	assert.False(t, entry.Inputs[2].Indexed)
}

func TestLoadFuncs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "func_sigs.json")
	data := `{
	  "0x8129fc1c": {
	    "name": "initialize",
	    "sig": "initialize()",
	    "abi": {"name": "initialize", "inputs": []}
	  },
	  "0xa9059cbb": {
	    "name": "transfer",
	    "sig": "transfer(address,uint256)",
	    "abi": {"name": "transfer", "inputs": [
	      {"name": "to", "type": "address"},
	      {"name": "amount", "type": "uint256"}
	    ]}
	  }
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	m, err := LoadFuncs(path)
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, "transfer", m["0xa9059cbb"].Name)
	assert.Len(t, m["0xa9059cbb"].Inputs, 2)
	assert.Empty(t, m["0x8129fc1c"].Inputs)
}

func TestMissingCatalogIsEmptyNotError(t *testing.T) {
	m, err := LoadEvents(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, m)

	f, err := LoadFuncs(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, f)
}

func TestPathOverrideFirstWins(t *testing.T) {
	resetPaths()
	defer resetPaths()

	path := writeEventCatalog(t)
	SetEventSigsPath(path)
	SetEventSigsPath(filepath.Join(t.TempDir(), "ignored.json"))

	m, err := LoadEventsDefault()
	require.NoError(t, err)
	assert.Len(t, m, 1)
}
