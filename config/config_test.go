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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
	  "rpcurl": "wss://node.example:8546",
	  "max-requests-per-second": 25,
	  "actions": {
	    "Logging": {
	      "enabled": true,
	      "addresses": {"0x55d398326f99059fF775485246999027B3197955": {}},
	      "options": {"log-blocks": false, "min-amount": "0.5", "init-after-delay": 3,
	        "check-addresses": ["0x1111111111111111111111111111111111111111"],
	        "function-signature-calldata": {"initialize": "0x8129fc1c"}}
	    }
	  }
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://node.example:8546", cfg.RPCURL)
	assert.EqualValues(t, 25, cfg.RequestsPerSecond())

	ac := cfg.Action("Logging")
	require.NotNil(t, ac)
	assert.True(t, ac.Enabled)
	assert.False(t, ac.OptBool("log-blocks", true))
	assert.True(t, ac.OptBool("log-events", true))

	s, ok := ac.OptString("min-amount")
	require.True(t, ok)
	assert.Equal(t, "0.5", s)

	n, ok := ac.OptUint64("init-after-delay")
	require.True(t, ok)
	assert.EqualValues(t, 3, n)

	assert.Equal(t, []string{"0x1111111111111111111111111111111111111111"}, ac.OptStringSlice("check-addresses"))
	assert.Equal(t, map[string]string{"initialize": "0x8129fc1c"}, ac.OptStringMap("function-signature-calldata"))
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
rpcurl = "http://127.0.0.1:8545"
max-requests-per-second = 10

[actions.Deployment]
enabled = true

[actions.Deployment.options]
output-filepath = "deployments.jsonl"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8545", cfg.RPCURL)
	ac := cfg.Action("Deployment")
	require.NotNil(t, ac)
	assert.True(t, ac.Enabled)
	s, ok := ac.OptString("output-filepath")
	require.True(t, ok)
	assert.Equal(t, "deployments.jsonl", s)
}

func TestRequestsPerSecondDefaultAndDisable(t *testing.T) {
	omitted, err := Load(writeFile(t, "a.json", `{"rpcurl": "http://127.0.0.1:8545"}`))
	require.NoError(t, err)
	assert.EqualValues(t, 10, omitted.RequestsPerSecond())

	disabled, err := Load(writeFile(t, "b.json", `{"rpcurl": "http://127.0.0.1:8545", "max-requests-per-second": 0}`))
	require.NoError(t, err)
	assert.EqualValues(t, 0, disabled.RequestsPerSecond())
}

func TestInvalidAddressRejected(t *testing.T) {
	path := writeFile(t, "config.json", `{
	  "rpcurl": "http://127.0.0.1:8545",
	  "actions": {"Logging": {"enabled": true, "addresses": {"0x1234": {}}}}
	}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestBadSchemeRejected(t *testing.T) {
	path := writeFile(t, "config.json", `{"rpcurl": "ftp://nope"}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestCollectEnabledAddresses(t *testing.T) {
	path := writeFile(t, "config.json", `{
	  "rpcurl": "http://127.0.0.1:8545",
	  "actions": {
	    "A": {"enabled": true, "addresses": {
	      "0x55d398326f99059fF775485246999027B3197955": {},
	      "0x55D398326F99059FF775485246999027B3197955": {}
	    }},
	    "B": {"enabled": false, "addresses": {"0x2170ed0880ac9a755fd29b2688956bd959f933f8": {}}}
	  }
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	addrs := cfg.CollectEnabledAddresses()
	require.Len(t, addrs, 1, "case variants dedupe, disabled actions excluded")
	assert.Equal(t, common.HexToAddress("0x55d398326f99059ff775485246999027b3197955"), addrs[0])
}
