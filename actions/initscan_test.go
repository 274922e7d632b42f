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

package actions

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmtrack/evmtrack/client"
)

var (
	initCalldata = hexutil.MustDecode("0x8129fc1c") // initialize()
	watchedAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testContract = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
)

// fakeCaller serves canned trace results keyed by calldata hex.
type fakeCaller struct {
	mu       sync.Mutex
	callErr  error
	traces   map[string]*client.TraceResult
	traceErr map[string]error
}

func (f *fakeCaller) CallContract(context.Context, client.CallMsg, *big.Int) ([]byte, error) {
	return nil, f.callErr
}

func (f *fakeCaller) TraceCall(_ context.Context, msg client.CallMsg, _ *big.Int) (*client.TraceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hexutil.Encode(msg.Data)
	if err := f.traceErr[key]; err != nil {
		return nil, err
	}
	tr := f.traces[key]
	if tr == nil {
		tr = &client.TraceResult{StateDiff: json.RawMessage(`{}`)}
	}
	return tr, nil
}

func diffTouching(addr common.Address) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"0x%s":{"storage":{"0x0":"set"}}}`, hex.EncodeToString(addr[:])))
}

func passingCaller() *fakeCaller {
	return &fakeCaller{
		traces: map[string]*client.TraceResult{
			hexutil.Encode(initCalldata): {StateDiff: diffTouching(watchedAddr)},
		},
	}
}

func scanOptions(t *testing.T) InitscanOptions {
	t.Helper()
	return InitscanOptions{
		CheckAddresses: []common.Address{watchedAddr},
		Calldatas:      []CalldataVariant{{Name: "initialize()", Data: initCalldata}},
		KnownFilepath:  filepath.Join(t.TempDir(), "known.json"),
	}
}

func TestInitscanPositiveAddsKnown(t *testing.T) {
	opts := scanOptions(t)
	a := NewInitscanAction(passingCaller(), opts)
	defer a.Stop()

	block := uint64(100)
	a.TryInitForContract(context.Background(), testContract, &block)

	known := a.Known()
	require.Len(t, known, 1)
	assert.Equal(t, testContract, known[0].Contract)
	assert.Equal(t, initCalldata, known[0].Calldata)

	// Persisted and reloadable.
	reloaded, err := LoadKnownInits(opts.KnownFilepath)
	require.NoError(t, err)
	require.Len(t, reloaded, 1)
	assert.Equal(t, testContract, reloaded[0].Contract)
}

func TestInitscanControlPositiveRejects(t *testing.T) {
	caller := passingCaller()
	// The control selector also touches the watched address: the contract
	// writes it on every call, so the probe must not fire.
	caller.traces[hexutil.Encode(controlSelector)] = &client.TraceResult{StateDiff: diffTouching(watchedAddr)}

	a := NewInitscanAction(caller, scanOptions(t))
	defer a.Stop()
	a.TryInitForContract(context.Background(), testContract, nil)
	assert.Empty(t, a.Known())
}

func TestInitscanEthCallFailureRejects(t *testing.T) {
	caller := passingCaller()
	caller.callErr = assert.AnError

	a := NewInitscanAction(caller, scanOptions(t))
	defer a.Stop()
	a.TryInitForContract(context.Background(), testContract, nil)
	assert.Empty(t, a.Known())
}

func TestInitscanTraceErrorFrameRejects(t *testing.T) {
	caller := passingCaller()
	caller.traces[hexutil.Encode(initCalldata)] = &client.TraceResult{
		Trace:     []client.TraceFrame{{Error: "Reverted"}},
		StateDiff: diffTouching(watchedAddr),
	}

	a := NewInitscanAction(caller, scanOptions(t))
	defer a.Stop()
	a.TryInitForContract(context.Background(), testContract, nil)
	assert.Empty(t, a.Known())
}

func TestInitscanWebhookPayload(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload.Content
	}))
	defer srv.Close()

	opts := scanOptions(t)
	opts.WebhookURL = srv.URL
	a := NewInitscanAction(passingCaller(), opts)
	defer a.Stop()
	a.TryInitForContract(context.Background(), testContract, nil)

	want := fmt.Sprintf("# Interesting contract\nAddress: %s\ncalldataLen: %d\n",
		"0xcccccccccccccccccccccccccccccccccccccccc", len(initCalldata))
	assert.Equal(t, want, <-received)
}

func TestInitscanDedupesByContract(t *testing.T) {
	opts := scanOptions(t)
	a := NewInitscanAction(passingCaller(), opts)
	defer a.Stop()

	a.TryInitForContract(context.Background(), testContract, nil)
	a.TryInitForContract(context.Background(), testContract, nil)
	assert.Len(t, a.Known(), 1)
}

func TestRetryPrunesFailedEntries(t *testing.T) {
	opts := scanOptions(t)
	keep := testContract
	drop := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
	require.NoError(t, SaveKnownInits(opts.KnownFilepath, []KnownInit{
		{Contract: keep, Calldata: initCalldata},
		{Contract: drop, Calldata: initCalldata},
	}))

	caller := passingCaller()
	a := NewInitscanAction(caller, opts)
	defer a.Stop()
	require.Len(t, a.Known(), 2)

	// Make the probe fail for everyone: both entries evaluate false and the
	// pruned list is rewritten.
	caller.mu.Lock()
	caller.traces[hexutil.Encode(initCalldata)] = &client.TraceResult{StateDiff: json.RawMessage(`{}`)}
	caller.mu.Unlock()
	require.NoError(t, a.RetryKnownAndSave(context.Background(), opts.KnownFilepath))
	assert.Empty(t, a.Known())

	reloaded, err := LoadKnownInits(opts.KnownFilepath)
	require.NoError(t, err)
	assert.Empty(t, reloaded)
}

func TestRetryKeepsEntriesOnError(t *testing.T) {
	opts := scanOptions(t)
	require.NoError(t, SaveKnownInits(opts.KnownFilepath, []KnownInit{
		{Contract: testContract, Calldata: initCalldata},
	}))

	caller := passingCaller()
	caller.traceErr = map[string]error{hexutil.Encode(initCalldata): assert.AnError}
	a := NewInitscanAction(caller, opts)
	defer a.Stop()

	require.NoError(t, a.RetryKnownAndSave(context.Background(), opts.KnownFilepath))
	assert.Len(t, a.Known(), 1, "errors retain the entry pessimistically")
}

func TestKnownInitsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known.json")
	list := []KnownInit{
		{Contract: testContract, Calldata: initCalldata},
		{Contract: watchedAddr, Calldata: []byte{0xde, 0xad}},
	}
	require.NoError(t, SaveKnownInits(path, list))
	reloaded, err := LoadKnownInits(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, list, reloaded)
}

func TestLoadKnownInitsMissingFile(t *testing.T) {
	list, err := LoadKnownInits(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFromAddressJoinsCheckAddresses(t *testing.T) {
	from := common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	a := NewInitscanAction(passingCaller(), InitscanOptions{
		From:           &from,
		CheckAddresses: []common.Address{watchedAddr},
	})
	defer a.Stop()
	assert.Contains(t, a.opts.CheckAddresses, from)
	assert.Contains(t, a.opts.CheckAddresses, watchedAddr)
}
