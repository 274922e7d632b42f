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

	"github.com/ethereum/go-ethereum/common"

	"github.com/evmtrack/evmtrack/client"
	"github.com/evmtrack/evmtrack/sigs"
	"github.com/evmtrack/evmtrack/track"
)

// Range is a historical block range scan argument set.
type Range struct {
	From uint64
	To   uint64
	// Step is the chunk size of event queries. Zero means DefaultStepBlocks.
	Step uint64
}

const (
	// DefaultStepBlocks is the eth_getLogs chunk size of the events path.
	DefaultStepBlocks = 10_000

	// miniBatchBlocks is the chunk size of the filtered blocks path, kept
	// small because every chunk also coalesces tx and receipt fetches.
	miniBatchBlocks = 10
)

func (r Range) step() uint64 {
	if r.Step == 0 {
		return DefaultStepBlocks
	}
	return r.Step
}

// HistoricalEvents iterates [From..To] in chunks of Step, issuing one
// get_logs query per chunk and dispatching events in source order.
func HistoricalEvents(ctx context.Context, b Backend, addrs []common.Address, r Range, set *track.ActionSet) error {
	events, err := sigs.LoadEventsDefault()
	if err != nil {
		logger.Warn("loading event catalog failed", "err", err)
		events = sigs.EventSigMap{}
	}
	step := r.step()
	for cur := r.From; cur <= r.To; {
		end := cur + step - 1
		if end > r.To || end < cur {
			end = r.To
		}
		logs, err := b.FilterLogs(ctx, client.Filter{
			FromBlock: new(big.Int).SetUint64(cur),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: addrs,
		})
		if err != nil {
			return err
		}
		sortLogs(logs)
		for i := range logs {
			set.OnEvent(track.DecodeLog(&logs[i], events))
			eventsDispatchedCounter.Inc(1)
		}
		if end == r.To {
			break
		}
		cur = end + 1
	}
	return nil
}

// HistoricalBlocks scans [From..To] dispatching blocks, events and
// transactions. With an address filter it walks mini-batches and coalesces
// tx/receipt fetches; without one it falls back to the slow, complete
// block-by-block path.
func HistoricalBlocks(ctx context.Context, b Backend, addrs []common.Address, r Range, set *track.ActionSet) error {
	events, _ := sigs.LoadEventsDefault()
	funcs, _ := sigs.LoadFuncsDefault()
	if len(addrs) == 0 {
		return historicalBlocksFull(ctx, b, r, set, funcs)
	}
	return historicalBlocksFiltered(ctx, b, addrs, r, set, events, funcs)
}

// historicalBlocksFull fetches every transaction of every block one by one,
// respecting the limiter. Slow but complete.
func historicalBlocksFull(ctx context.Context, b Backend, r Range, set *track.ActionSet, funcs sigs.FuncSigMap) error {
	for n := r.From; n <= r.To; n++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		set.OnBlock(&track.BlockRecord{Number: n})
		blocksDispatchedCounter.Inc(1)
		hashes, err := b.BlockTxHashes(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			logger.Warn("block fetch failed; skipping", "block", n, "err", err)
			continue
		}
		for _, h := range hashes {
			tx, err := b.TransactionByHash(ctx, h)
			if err != nil {
				logger.Warn("transaction fetch failed; skipping", "hash", h, "err", err)
				continue
			}
			if tx == nil {
				continue
			}
			receipt, err := b.TransactionReceipt(ctx, h)
			if err != nil {
				logger.Warn("receipt fetch failed", "hash", h, "err", err)
				receipt = nil
			}
			set.OnTx(track.NewTxRecord(tx, receipt, funcs))
			txsDispatchedCounter.Inc(1)
		}
	}
	return nil
}

// historicalBlocksFiltered issues one get_logs per mini-batch of blocks and
// rebuilds transactions once per unique hash through the coalescer.
func historicalBlocksFiltered(ctx context.Context, b Backend, addrs []common.Address, r Range, set *track.ActionSet, events sigs.EventSigMap, funcs sigs.FuncSigMap) error {
	for cur := r.From; cur <= r.To; {
		end := cur + miniBatchBlocks - 1
		if end > r.To || end < cur {
			end = r.To
		}
		for n := cur; n <= end; n++ {
			set.OnBlock(&track.BlockRecord{Number: n})
			blocksDispatchedCounter.Inc(1)
		}
		logs, err := b.FilterLogs(ctx, client.Filter{
			FromBlock: new(big.Int).SetUint64(cur),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: addrs,
		})
		if err != nil {
			logger.Warn("get_logs failed; skipping batch", "from", cur, "to", end, "err", err)
		} else if err := DispatchLogBatch(ctx, b, logs, set, events, funcs); err != nil {
			return err
		}
		if end == r.To {
			break
		}
		cur = end + 1
	}
	return nil
}
