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

// Package client wraps a JSON-RPC connection to an EVM node behind typed
// helpers. The transport is selected from the URL scheme (http(s), ws(s) or a
// local IPC path) and every call acquires the process-wide rate limiter
// before touching the network.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/evmtrack/evmtrack/ratelimit"
)

// Client is a thin facade over rpc.Client in the manner of ethclient.
type Client struct {
	c *rpc.Client
}

// Dial connects to the node at rawurl. Subscriptions are only available when
// the resulting transport is ws or IPC; HTTP callers must poll.
func Dial(ctx context.Context, rawurl string) (*Client, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return &Client{c: c}, nil
}

// NewClient wraps an existing rpc.Client.
func NewClient(c *rpc.Client) *Client { return &Client{c: c} }

// Close tears the underlying connection down.
func (ec *Client) Close() { ec.c.Close() }

// IsNotificationsUnsupported reports whether err means the transport cannot
// serve eth_subscribe, in which case callers fall back to polling.
func IsNotificationsUnsupported(err error) bool {
	return errors.Is(err, rpc.ErrNotificationsUnsupported)
}

// Request is the untyped passthrough for methods without a typed helper
// (eth_call variants, tracers, raw block queries).
func (ec *Client) Request(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := ratelimit.Acquire(ctx); err != nil {
		return err
	}
	return ec.c.CallContext(ctx, result, method, args...)
}

// BlockNumber returns the number of the most recent block.
func (ec *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	err := ec.Request(ctx, &result, "eth_blockNumber")
	return uint64(result), err
}

// RPCTransaction is the wire form of a transaction as returned by
// eth_getTransactionByHash. A nil To marks contract creation.
type RPCTransaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Input       hexutil.Bytes   `json:"input"`
	Gas         hexutil.Uint64  `json:"gas"`
	GasPrice    *hexutil.Big    `json:"gasPrice"`
	Value       *hexutil.Big    `json:"value"`
	Nonce       hexutil.Uint64  `json:"nonce"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
	TxIndex     *hexutil.Uint64 `json:"transactionIndex"`
}

// RPCReceipt is the wire form of a transaction receipt.
type RPCReceipt struct {
	TxHash            common.Hash     `json:"transactionHash"`
	TxIndex           *hexutil.Uint64 `json:"transactionIndex"`
	BlockHash         *common.Hash    `json:"blockHash"`
	BlockNumber       *hexutil.Big    `json:"blockNumber"`
	From              common.Address  `json:"from"`
	To                *common.Address `json:"to"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	CumulativeGasUsed hexutil.Uint64  `json:"cumulativeGasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	ContractAddress   *common.Address `json:"contractAddress"`
	Status            hexutil.Uint64  `json:"status"`
	Logs              []*types.Log    `json:"logs"`
}

// RPCBlock is the wire form of a block fetched with full transactions.
type RPCBlock struct {
	Number       *hexutil.Big      `json:"number"`
	Hash         common.Hash       `json:"hash"`
	Transactions []*RPCTransaction `json:"transactions"`
}

func toBlockNumArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	return hexutil.EncodeBig(number)
}

// BlockByNumber fetches a block with its full transaction objects. A nil
// number selects the latest block. The result is nil for unknown blocks.
func (ec *Client) BlockByNumber(ctx context.Context, number *big.Int) (*RPCBlock, error) {
	var result *RPCBlock
	err := ec.Request(ctx, &result, "eth_getBlockByNumber", toBlockNumArg(number), true)
	return result, err
}

// BlockTxHashes fetches only the transaction hash list of a block.
func (ec *Client) BlockTxHashes(ctx context.Context, number *big.Int) ([]common.Hash, error) {
	var result *struct {
		Transactions []common.Hash `json:"transactions"`
	}
	err := ec.Request(ctx, &result, "eth_getBlockByNumber", toBlockNumArg(number), false)
	if err != nil || result == nil {
		return nil, err
	}
	return result.Transactions, nil
}

// Filter selects logs by block range and emitting addresses.
type Filter struct {
	FromBlock *big.Int
	ToBlock   *big.Int
	Addresses []common.Address
	Topics    [][]common.Hash
}

func (q Filter) toArg() map[string]interface{} {
	arg := map[string]interface{}{}
	if len(q.Addresses) > 0 {
		arg["address"] = q.Addresses
	}
	if q.FromBlock != nil {
		arg["fromBlock"] = hexutil.EncodeBig(q.FromBlock)
	}
	if q.ToBlock != nil {
		arg["toBlock"] = hexutil.EncodeBig(q.ToBlock)
	}
	if len(q.Topics) > 0 {
		arg["topics"] = q.Topics
	}
	return arg
}

// FilterLogs executes one eth_getLogs query.
func (ec *Client) FilterLogs(ctx context.Context, q Filter) ([]types.Log, error) {
	var result []types.Log
	err := ec.Request(ctx, &result, "eth_getLogs", q.toArg())
	return result, err
}

// TransactionByHash returns nil for unknown transactions.
func (ec *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*RPCTransaction, error) {
	var result *RPCTransaction
	err := ec.Request(ctx, &result, "eth_getTransactionByHash", hash)
	return result, err
}

// TransactionReceipt returns nil for pending or unknown transactions.
func (ec *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*RPCReceipt, error) {
	var result *RPCReceipt
	err := ec.Request(ctx, &result, "eth_getTransactionReceipt", hash)
	return result, err
}

// StorageAt reads one storage slot at the latest block.
func (ec *Client) StorageAt(ctx context.Context, account common.Address, slot common.Hash) (common.Hash, error) {
	var result hexutil.Bytes
	err := ec.Request(ctx, &result, "eth_getStorageAt", account, slot, "latest")
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(result), nil
}

// CodeAt reads the runtime bytecode at the latest block.
func (ec *Client) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	var result hexutil.Bytes
	err := ec.Request(ctx, &result, "eth_getCode", account, "latest")
	return result, err
}

// CallMsg is the argument object of eth_call and trace_call.
type CallMsg struct {
	From  *common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

func (msg CallMsg) toArg() map[string]interface{} {
	arg := map[string]interface{}{
		"to":   msg.To,
		"data": hexutil.Bytes(msg.Data),
	}
	if msg.From != nil {
		arg["from"] = *msg.From
	}
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	arg["value"] = hexutil.EncodeBig(value)
	return arg
}

// CallContract executes eth_call at the given block (nil for latest).
func (ec *Client) CallContract(ctx context.Context, msg CallMsg, blockNumber *big.Int) ([]byte, error) {
	var result hexutil.Bytes
	err := ec.Request(ctx, &result, "eth_call", msg.toArg(), toBlockNumArg(blockNumber))
	return result, err
}

// TraceFrame is one entry of a trace_call "trace" array; only the error field
// matters to the heuristics built on top.
type TraceFrame struct {
	Error string `json:"error"`
}

// TraceResult is the ["trace","stateDiff"] answer of trace_call. StateDiff is
// kept raw: consumers scan it as text.
type TraceResult struct {
	Trace     []TraceFrame    `json:"trace"`
	StateDiff json.RawMessage `json:"stateDiff"`
}

// Succeeded reports whether every trace entry completed without error.
func (tr *TraceResult) Succeeded() bool {
	for _, f := range tr.Trace {
		if f.Error != "" {
			return false
		}
	}
	return true
}

// TraceCall runs trace_call with the trace and stateDiff tracers. Some nodes
// wrap the answer in a result envelope; both shapes are accepted.
func (ec *Client) TraceCall(ctx context.Context, msg CallMsg, blockNumber *big.Int) (*TraceResult, error) {
	var raw json.RawMessage
	err := ec.Request(ctx, &raw, "trace_call", msg.toArg(), []string{"trace", "stateDiff"}, toBlockNumArg(blockNumber))
	if err != nil {
		return nil, err
	}
	var result TraceResult
	if err := json.Unmarshal(raw, &result); err == nil && (result.Trace != nil || result.StateDiff != nil) {
		return &result, nil
	}
	var wrapped struct {
		Result TraceResult `json:"result"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return &wrapped.Result, nil
}

// TraceTransaction runs debug_traceTransaction with the given tracer and
// returns the raw frame.
func (ec *Client) TraceTransaction(ctx context.Context, hash common.Hash, tracer string) (json.RawMessage, error) {
	var raw json.RawMessage
	opts := map[string]interface{}{"tracer": tracer}
	err := ec.Request(ctx, &raw, "debug_traceTransaction", hash, opts)
	return raw, err
}

// SubscribeLogs opens an eth_subscribe("logs") stream with the given filter.
func (ec *Client) SubscribeLogs(ctx context.Context, q Filter, ch chan<- types.Log) (goethereum.Subscription, error) {
	if err := ratelimit.Acquire(ctx); err != nil {
		return nil, err
	}
	arg := map[string]interface{}{}
	if len(q.Addresses) > 0 {
		arg["address"] = q.Addresses
	}
	if len(q.Topics) > 0 {
		arg["topics"] = q.Topics
	}
	return ec.c.EthSubscribe(ctx, ch, "logs", arg)
}

// SubscribeNewHeads opens an eth_subscribe("newHeads") stream.
func (ec *Client) SubscribeNewHeads(ctx context.Context, ch chan<- *types.Header) (goethereum.Subscription, error) {
	if err := ratelimit.Acquire(ctx); err != nil {
		return nil, err
	}
	return ec.c.EthSubscribe(ctx, ch, "newHeads")
}

// SubscribePendingTransactions streams pending transaction hashes.
func (ec *Client) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (goethereum.Subscription, error) {
	if err := ratelimit.Acquire(ctx); err != nil {
		return nil, err
	}
	return ec.c.EthSubscribe(ctx, ch, "newPendingTransactions")
}

// SubscribeFullPendingTransactions streams full pending transaction objects.
// Not every node supports the full variant; callers fall back to hashes.
func (ec *Client) SubscribeFullPendingTransactions(ctx context.Context, ch chan<- *RPCTransaction) (goethereum.Subscription, error) {
	if err := ratelimit.Acquire(ctx); err != nil {
		return nil, err
	}
	return ec.c.EthSubscribe(ctx, ch, "newPendingTransactions", true)
}
