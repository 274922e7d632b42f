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

// Package pipeline drives the realtime and historical ingestion loops:
// fetch, decode, coalesce, and fan records out to the action set.
package pipeline

import (
	"context"
	"math/big"
	"sort"
	"sync"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/evmtrack/evmtrack/client"
	"github.com/evmtrack/evmtrack/sigs"
	"github.com/evmtrack/evmtrack/track"
)

var logger = log.New("module", "pipeline")

// Backend is the slice of the node client the pipelines consume. Declared
// here so tests can substitute a fake node.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q client.Filter) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*client.RPCTransaction, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*client.RPCReceipt, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*client.RPCBlock, error)
	BlockTxHashes(ctx context.Context, number *big.Int) ([]common.Hash, error)
	SubscribeLogs(ctx context.Context, q client.Filter, ch chan<- types.Log) (goethereum.Subscription, error)
	SubscribeNewHeads(ctx context.Context, ch chan<- *types.Header) (goethereum.Subscription, error)
	SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (goethereum.Subscription, error)
	SubscribeFullPendingTransactions(ctx context.Context, ch chan<- *client.RPCTransaction) (goethereum.Subscription, error)
}

const (
	// batchGroupThreshold is the log count above which a batch is grouped by
	// block and the groups are processed concurrently.
	batchGroupThreshold = 50

	// fetchParallelism bounds concurrent tx/receipt fetches per batch. Each
	// call still holds a rate limiter token.
	fetchParallelism = 8
)

// TxCache coalesces transaction and receipt fetches for one batch: at most
// one eth_getTransactionByHash and one eth_getTransactionReceipt per unique
// hash. Its lifetime is the batch; drop it when the batch completes.
type TxCache struct {
	mu       sync.Mutex
	txs      map[common.Hash]*client.RPCTransaction
	receipts map[common.Hash]*client.RPCReceipt
}

// NewTxCache returns an empty cache.
func NewTxCache() *TxCache {
	return &TxCache{
		txs:      make(map[common.Hash]*client.RPCTransaction),
		receipts: make(map[common.Hash]*client.RPCReceipt),
	}
}

// Fetch retrieves the transactions and receipts of all hashes not yet cached,
// with bounded parallelism. A missing tx or receipt is a warning, not an
// error; only context cancellation aborts the batch.
func (tc *TxCache) Fetch(ctx context.Context, b Backend, hashes []common.Hash) error {
	var todo []common.Hash
	tc.mu.Lock()
	seen := make(map[common.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		if _, ok := tc.txs[h]; ok {
			cacheHitCounter.Inc(1)
			continue
		}
		todo = append(todo, h)
	}
	tc.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallelism)
	for _, h := range todo {
		h := h
		g.Go(func() error {
			txFetchCounter.Inc(1)
			tx, err := b.TransactionByHash(gctx, h)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("transaction fetch failed", "hash", h, "err", err)
				return nil
			}
			if tx == nil {
				logger.Warn("transaction not found", "hash", h)
				return nil
			}
			receiptFetchCounter.Inc(1)
			receipt, err := b.TransactionReceipt(gctx, h)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("receipt fetch failed", "hash", h, "err", err)
				receipt = nil
			}
			tc.mu.Lock()
			tc.txs[h] = tx
			if receipt != nil {
				tc.receipts[h] = receipt
			}
			tc.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// Tx returns the cached transaction, or nil.
func (tc *TxCache) Tx(h common.Hash) *client.RPCTransaction {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.txs[h]
}

// Receipt returns the cached receipt, or nil.
func (tc *TxCache) Receipt(h common.Hash) *client.RPCReceipt {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.receipts[h]
}

// sortLogs orders a batch by (block, txIndex, logIndex) so dispatch follows
// source order.
func sortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		if logs[i].TxIndex != logs[j].TxIndex {
			return logs[i].TxIndex < logs[j].TxIndex
		}
		return logs[i].Index < logs[j].Index
	})
}

// dispatchLogs decodes and dispatches the given logs in order, rebuilding the
// full TxRecord of each log from the cache.
func dispatchLogs(logs []types.Log, tc *TxCache, set *track.ActionSet, events sigs.EventSigMap, funcs sigs.FuncSigMap) {
	for i := range logs {
		lg := logs[i]
		rec := track.DecodeLog(&lg, events)
		set.OnEvent(rec)
		eventsDispatchedCounter.Inc(1)
		if tx := tc.Tx(lg.TxHash); tx != nil {
			set.OnTx(track.NewTxRecord(tx, tc.Receipt(lg.TxHash), funcs))
			txsDispatchedCounter.Inc(1)
		}
	}
}

// DispatchLogBatch coalesces the tx/receipt fetches of one log batch and
// dispatches it. Batches above batchGroupThreshold are grouped by block
// number with groups processed concurrently; within a group, source order is
// preserved.
func DispatchLogBatch(ctx context.Context, b Backend, logs []types.Log, set *track.ActionSet, events sigs.EventSigMap, funcs sigs.FuncSigMap) error {
	if len(logs) == 0 {
		return nil
	}
	sortLogs(logs)
	hashes := make([]common.Hash, 0, len(logs))
	for i := range logs {
		hashes = append(hashes, logs[i].TxHash)
	}
	tc := NewTxCache()
	if err := tc.Fetch(ctx, b, hashes); err != nil {
		return err
	}
	if len(logs) <= batchGroupThreshold {
		dispatchLogs(logs, tc, set, events, funcs)
		return nil
	}

	groups := make(map[uint64][]types.Log)
	for i := range logs {
		groups[logs[i].BlockNumber] = append(groups[logs[i].BlockNumber], logs[i])
	}
	var g errgroup.Group
	g.SetLimit(fetchParallelism)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			dispatchLogs(group, tc, set, events, funcs)
			return nil
		})
	}
	return g.Wait()
}

// ProcessBlock handles one block: the block record, optionally its filtered
// events with enriched transactions, and optionally its contract creations.
// All tx/receipt work for the block goes through one coalescing cache.
func ProcessBlock(ctx context.Context, b Backend, number uint64, addrs []common.Address, set *track.ActionSet, events sigs.EventSigMap, funcs sigs.FuncSigMap, processEvents, processDeployments bool) error {
	var (
		logs  []types.Log
		block *client.RPCBlock
	)
	hashSet := make(map[common.Hash]struct{})

	if processEvents && len(addrs) > 0 {
		n := new(big.Int).SetUint64(number)
		q := client.Filter{FromBlock: n, ToBlock: n, Addresses: addrs}
		var err error
		if logs, err = b.FilterLogs(ctx, q); err != nil {
			return err
		}
		sortLogs(logs)
		for i := range logs {
			hashSet[logs[i].TxHash] = struct{}{}
		}
	}
	if processDeployments {
		var err error
		if block, err = b.BlockByNumber(ctx, new(big.Int).SetUint64(number)); err != nil {
			return err
		}
		if block != nil {
			for _, tx := range block.Transactions {
				if tx.To == nil {
					hashSet[tx.Hash] = struct{}{}
				}
			}
		}
	}

	hashes := make([]common.Hash, 0, len(hashSet))
	for h := range hashSet {
		hashes = append(hashes, h)
	}
	tc := NewTxCache()
	if err := tc.Fetch(ctx, b, hashes); err != nil {
		return err
	}

	set.OnBlock(&track.BlockRecord{Number: number})
	blocksDispatchedCounter.Inc(1)
	lastSeenBlockGauge.Update(int64(number))

	if processEvents {
		dispatchLogs(logs, tc, set, events, funcs)
	}
	if processDeployments && block != nil {
		for _, tx := range block.Transactions {
			if tx.To != nil {
				continue
			}
			receipt := tc.Receipt(tx.Hash)
			if receipt == nil || receipt.ContractAddress == nil {
				continue
			}
			rec := &track.ContractCreationRecord{
				TxHash:          tx.Hash,
				ContractAddress: *receipt.ContractAddress,
				Deployer:        tx.From,
				BlockNumber:     number,
			}
			if receipt.TxIndex != nil {
				rec.TxIndex = uint64(*receipt.TxIndex)
			}
			gasUsed := uint64(receipt.GasUsed)
			rec.GasUsed = &gasUsed
			if len(tx.Input) > 0 {
				rec.ConstructorArgs = tx.Input
			}
			set.OnContractCreation(rec)
			// The deployment also flows to OnTx so selector and receipt
			// scanners see it.
			set.OnTx(track.NewTxRecord(tx, receipt, funcs))
			txsDispatchedCounter.Inc(1)
		}
	}
	return nil
}
