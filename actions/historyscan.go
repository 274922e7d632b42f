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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/evmtrack/evmtrack/client"
)

// TxLite is the JSON-lines shape of recorded deployment transactions.
type TxLite struct {
	Hash common.Hash     `json:"hash"`
	To   *common.Address `json:"to"`
}

const (
	DefaultNullTxPath = "data/null.json"
	DefaultTracePath  = "data/create_transactions_data.json"
)

// historySource is the slice of the node client the historical init scan
// uses.
type historySource interface {
	BlockByNumber(ctx context.Context, number *big.Int) (*client.RPCBlock, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*client.RPCReceipt, error)
}

// HistoryInitScanOptions configures a block-range initializer sweep.
type HistoryInitScanOptions struct {
	FromBlock       uint64
	ToBlock         uint64
	Concurrency     int
	ProgressEvery   uint64
	ProgressPercent uint64
	NullFilePath    string
	Initscan        InitscanOptions
}

func progressTick(total, every, percent uint64) uint64 {
	switch {
	case every > 0:
		return every
	case percent > 0:
		if t := total * percent / 100; t > 0 {
			return t
		}
		return 1
	default:
		if t := total / 100; t > 0 {
			return t
		}
		return 1
	}
}

// RunHistoryInitScan walks [FromBlock..ToBlock], records every to-less
// transaction to the null file, and feeds deployed contract addresses to the
// initializer heuristic.
func RunHistoryInitScan(ctx context.Context, source historySource, caller initCaller, opts HistoryInitScanOptions) error {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.NullFilePath == "" {
		opts.NullFilePath = DefaultNullTxPath
	}
	scan := NewInitscanAction(caller, opts.Initscan)
	defer scan.Stop()

	total := opts.ToBlock - opts.FromBlock + 1
	tick := progressTick(total, opts.ProgressEvery, opts.ProgressPercent)
	fmt.Printf("[initscan] starting historical scan: from=%d to=%d total=%d blocks concurrency=%d\n",
		opts.FromBlock, opts.ToBlock, total, opts.Concurrency)

	var fileMu sync.Mutex
	var processed atomic.Uint64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for n := opts.FromBlock; n <= opts.ToBlock; n++ {
		n := n
		g.Go(func() error {
			if err := scanBlockForDeployments(gctx, source, scan, n, opts.NullFilePath, &fileMu); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("block scan failed; skipping", "block", n, "err", err)
			}
			done := processed.Add(1)
			if done%tick == 0 || done == total {
				fmt.Printf("[initscan] block progress: %d/%d (%.0f%%)\n", done, total, float64(done)/float64(total)*100)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Println("[initscan] historical scan finished")
	return nil
}

func scanBlockForDeployments(ctx context.Context, source historySource, scan *InitscanAction, n uint64, nullPath string, fileMu *sync.Mutex) error {
	block, err := source.BlockByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return err
	}
	if block == nil {
		return nil
	}
	for _, tx := range block.Transactions {
		if tx.To != nil {
			continue
		}
		line, err := json.Marshal(TxLite{Hash: tx.Hash})
		if err == nil {
			fileMu.Lock()
			if werr := appendLine(nullPath, string(line)); werr != nil {
				logger.Warn("null tx log write failed", "path", nullPath, "err", werr)
			}
			fileMu.Unlock()
		}
		receipt, err := source.TransactionReceipt(ctx, tx.Hash)
		if err != nil {
			logger.Warn("receipt fetch failed; skipping tx", "hash", tx.Hash, "err", err)
			continue
		}
		if receipt != nil && receipt.ContractAddress != nil {
			blockNum := n
			scan.TryInitForContract(ctx, *receipt.ContractAddress, &blockNum)
		}
	}
	return nil
}

// txTracer is the slice of the node client the trace sweep uses.
type txTracer interface {
	TraceTransaction(ctx context.Context, hash common.Hash, tracer string) (json.RawMessage, error)
}

// HistoryTxScanOptions configures the trace sweep over recorded
// transactions.
type HistoryTxScanOptions struct {
	Concurrency     int
	ProgressEvery   uint64
	ProgressPercent uint64
	InputPath       string
	OutputPath      string
}

// RunHistoryTxScan reads recorded transaction hashes and appends their
// callTracer frames to the output file.
func RunHistoryTxScan(ctx context.Context, tracer txTracer, opts HistoryTxScanOptions) error {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.InputPath == "" {
		opts.InputPath = DefaultNullTxPath
	}
	if opts.OutputPath == "" {
		opts.OutputPath = DefaultTracePath
	}

	input, err := os.Open(opts.InputPath)
	if err != nil {
		return err
	}
	defer input.Close()

	var lines []string
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Text()) > 0 {
			lines = append(lines, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	total := uint64(len(lines))
	if total == 0 {
		return nil
	}
	tick := progressTick(total, opts.ProgressEvery, opts.ProgressPercent)
	logger.Info("history tx scan started", "transactions", total, "concurrency", opts.Concurrency)

	out, err := os.OpenFile(opts.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	writer := bufio.NewWriter(out)
	var writeMu sync.Mutex
	var processed atomic.Uint64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, line := range lines {
		line := line
		g.Go(func() error {
			var tx TxLite
			if err := json.Unmarshal([]byte(line), &tx); err != nil {
				logger.Warn("unparseable tx line", "err", err)
			} else if trace, err := tracer.TraceTransaction(gctx, tx.Hash, "callTracer"); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("trace fetch failed", "hash", tx.Hash, "err", err)
			} else if trace != nil {
				writeMu.Lock()
				writer.Write(trace)
				writer.WriteByte('\n')
				writeMu.Unlock()
			}
			done := processed.Add(1)
			if done%tick == 0 || done == total {
				fmt.Printf("[history-tx-scan] progress: %d/%d (%.2f%%)\n", done, total, float64(done)/float64(total)*100)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := writer.Flush(); err != nil {
		logger.Warn("trace output flush failed", "err", err)
	}
	logger.Info("history tx scan finished")
	return nil
}
