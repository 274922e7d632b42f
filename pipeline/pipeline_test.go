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

package pipeline

import (
	"context"
	"math/big"
	"sync"
	"testing"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmtrack/evmtrack/client"
	"github.com/evmtrack/evmtrack/track"
)

// fakeBackend serves canned chain data and counts RPC-equivalent calls.
type fakeBackend struct {
	mu sync.Mutex

	head     uint64
	logs     map[uint64][]types.Log // by block number
	txs      map[common.Hash]*client.RPCTransaction
	receipts map[common.Hash]*client.RPCReceipt
	blocks   map[uint64]*client.RPCBlock

	filterCalls  []client.Filter
	txCalls      int
	receiptCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		logs:     make(map[uint64][]types.Log),
		txs:      make(map[common.Hash]*client.RPCTransaction),
		receipts: make(map[common.Hash]*client.RPCReceipt),
		blocks:   make(map[uint64]*client.RPCBlock),
	}
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeBackend) FilterLogs(_ context.Context, q client.Filter) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterCalls = append(f.filterCalls, q)
	var out []types.Log
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	for n := from; n <= to; n++ {
		out = append(out, f.logs[n]...)
	}
	return out, nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, h common.Hash) (*client.RPCTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	return f.txs[h], nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*client.RPCReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	return f.receipts[h], nil
}

func (f *fakeBackend) BlockByNumber(_ context.Context, n *big.Int) (*client.RPCBlock, error) {
	return f.blocks[n.Uint64()], nil
}

func (f *fakeBackend) BlockTxHashes(_ context.Context, n *big.Int) ([]common.Hash, error) {
	b := f.blocks[n.Uint64()]
	if b == nil {
		return nil, nil
	}
	var hashes []common.Hash
	for _, tx := range b.Transactions {
		hashes = append(hashes, tx.Hash)
	}
	return hashes, nil
}

func (f *fakeBackend) SubscribeLogs(context.Context, client.Filter, chan<- types.Log) (goethereum.Subscription, error) {
	panic("not used")
}

func (f *fakeBackend) SubscribeNewHeads(context.Context, chan<- *types.Header) (goethereum.Subscription, error) {
	panic("not used")
}

func (f *fakeBackend) SubscribePendingTransactions(context.Context, chan<- common.Hash) (goethereum.Subscription, error) {
	panic("not used")
}

func (f *fakeBackend) SubscribeFullPendingTransactions(context.Context, chan<- *client.RPCTransaction) (goethereum.Subscription, error) {
	panic("not used")
}

// countingAction records every record kind it observes.
type countingAction struct {
	track.BaseAction
	mu       sync.Mutex
	blocks   []uint64
	events   []uint64
	txs      []uint64
	creation int
}

func (a *countingAction) OnBlock(b *track.BlockRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocks = append(a.blocks, b.Number)
	return nil
}

func (a *countingAction) OnEvent(e *track.EventRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n uint64
	if e.BlockNumber != nil {
		n = *e.BlockNumber
	}
	a.events = append(a.events, n)
	return nil
}

func (a *countingAction) OnTx(t *track.TxRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n uint64
	if t.BlockNumber != nil {
		n = *t.BlockNumber
	}
	a.txs = append(a.txs, n)
	return nil
}

func (a *countingAction) OnContractCreation(*track.ContractCreationRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creation++
	return nil
}

func hash(b byte) common.Hash {
	return common.Hash{b}
}

func addTx(f *fakeBackend, h common.Hash, block uint64) {
	bn := hexutil.Big(*new(big.Int).SetUint64(block))
	idx := hexutil.Uint64(0)
	f.txs[h] = &client.RPCTransaction{Hash: h, Input: hexutil.Bytes{}}
	f.receipts[h] = &client.RPCReceipt{
		TxHash:      h,
		TxIndex:     &idx,
		BlockNumber: &bn,
		Status:      hexutil.Uint64(1),
	}
}

func logAt(block uint64, txHash common.Hash, idx uint) types.Log {
	return types.Log{
		Address:     common.HexToAddress("0x55d398326f99059ff775485246999027b3197955"),
		Topics:      []common.Hash{common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")},
		BlockNumber: block,
		TxHash:      txHash,
		Index:       idx,
	}
}

func TestCoalescerFetchesOncePerUniqueHash(t *testing.T) {
	f := newFakeBackend()
	addTx(f, hash(1), 10)
	addTx(f, hash(2), 10)

	// Six logs referencing two unique transactions.
	var logs []types.Log
	for i := 0; i < 3; i++ {
		logs = append(logs, logAt(10, hash(1), uint(i)))
		logs = append(logs, logAt(10, hash(2), uint(10+i)))
	}

	set := track.NewActionSet()
	counter := &countingAction{}
	set.Add("counter", counter)

	err := DispatchLogBatch(context.Background(), f, logs, set, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, f.txCalls, "one get_transaction per unique hash")
	assert.LessOrEqual(t, f.receiptCalls, 2, "at most one get_receipt per unique hash")
	assert.Len(t, counter.events, 6)
	assert.Len(t, counter.txs, 6, "tx record rebuilt per log from the cache")
}

func TestCoalescerMissingTxIsNotFatal(t *testing.T) {
	f := newFakeBackend()
	logs := []types.Log{logAt(10, hash(9), 0)}

	set := track.NewActionSet()
	counter := &countingAction{}
	set.Add("counter", counter)

	require.NoError(t, DispatchLogBatch(context.Background(), f, logs, set, nil, nil))
	assert.Len(t, counter.events, 1)
	assert.Empty(t, counter.txs)
}

func TestHistoricalEventsChunking(t *testing.T) {
	f := newFakeBackend()
	set := track.NewActionSet()

	err := HistoricalEvents(context.Background(), f, nil, Range{From: 1000, To: 1019, Step: 10}, set)
	require.NoError(t, err)

	require.Len(t, f.filterCalls, 2)
	assert.EqualValues(t, 1000, f.filterCalls[0].FromBlock.Uint64())
	assert.EqualValues(t, 1009, f.filterCalls[0].ToBlock.Uint64())
	assert.EqualValues(t, 1010, f.filterCalls[1].FromBlock.Uint64())
	assert.EqualValues(t, 1019, f.filterCalls[1].ToBlock.Uint64())
}

func TestHistoricalEventsSingleBlockRange(t *testing.T) {
	f := newFakeBackend()
	set := track.NewActionSet()
	require.NoError(t, HistoricalEvents(context.Background(), f, nil, Range{From: 5, To: 5, Step: 10}, set))
	require.Len(t, f.filterCalls, 1)
	assert.EqualValues(t, 5, f.filterCalls[0].FromBlock.Uint64())
	assert.EqualValues(t, 5, f.filterCalls[0].ToBlock.Uint64())
}

func TestProcessBlockDispatchesAllKinds(t *testing.T) {
	f := newFakeBackend()
	addTx(f, hash(1), 42)
	f.logs[42] = []types.Log{logAt(42, hash(1), 0)}

	set := track.NewActionSet()
	counter := &countingAction{}
	set.Add("counter", counter)

	addrs := []common.Address{common.HexToAddress("0x55d398326f99059ff775485246999027b3197955")}
	err := ProcessBlock(context.Background(), f, 42, addrs, set, nil, nil, true, false)
	require.NoError(t, err)

	assert.Equal(t, []uint64{42}, counter.blocks)
	assert.Equal(t, []uint64{42}, counter.events)
	assert.Equal(t, []uint64{42}, counter.txs)
	assert.Equal(t, 1, f.txCalls)
	assert.Equal(t, 1, f.receiptCalls)
	require.Len(t, f.filterCalls, 1)
}

func TestProcessBlockDeployments(t *testing.T) {
	f := newFakeBackend()
	deployHash := hash(7)
	contract := common.HexToAddress("0xcc00000000000000000000000000000000000003")
	bn := hexutil.Big(*big.NewInt(99))
	idx := hexutil.Uint64(1)
	deployTx := &client.RPCTransaction{
		Hash:  deployHash,
		From:  common.HexToAddress("0xaa00000000000000000000000000000000000001"),
		Input: hexutil.Bytes{0x60, 0x80},
	}
	f.txs[deployHash] = deployTx
	f.receipts[deployHash] = &client.RPCReceipt{
		TxHash:          deployHash,
		TxIndex:         &idx,
		BlockNumber:     &bn,
		ContractAddress: &contract,
		Status:          hexutil.Uint64(1),
		GasUsed:         hexutil.Uint64(500000),
	}
	to := common.HexToAddress("0xbb00000000000000000000000000000000000002")
	f.blocks[99] = &client.RPCBlock{
		Number: &bn,
		Transactions: []*client.RPCTransaction{
			deployTx,
			{Hash: hash(8), To: &to, Input: hexutil.Bytes{}},
		},
	}

	set := track.NewActionSet()
	counter := &countingAction{}
	set.Add("counter", counter)

	err := ProcessBlock(context.Background(), f, 99, nil, set, nil, nil, false, true)
	require.NoError(t, err)

	assert.Equal(t, 1, counter.creation, "only the to-less tx with a contract address")
	assert.Equal(t, 1, f.txCalls, "the call-type tx is never fetched")
}

func TestBackfillStart(t *testing.T) {
	// gap within the bound: resume right after the last seen block
	assert.EqualValues(t, 101, backfillStart(100, 350))
	// gap beyond the bound: clamp to MaxBackfill blocks ending at cur
	assert.EqualValues(t, 1501, backfillStart(100, 2000))
	assert.EqualValues(t, 2000-MaxBackfill+1, backfillStart(100, 2000))
}
