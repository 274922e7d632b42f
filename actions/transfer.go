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
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/semaphore"

	"github.com/evmtrack/evmtrack/abi"
	"github.com/evmtrack/evmtrack/client"
	"github.com/evmtrack/evmtrack/track"
)

// contractCaller is the slice of the node client the enrichment actions use.
type contractCaller interface {
	CallContract(ctx context.Context, msg client.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var (
	decimalsSelector = []byte{0x31, 0x3c, 0xe5, 0x67} // decimals()
	symbolSelector   = []byte{0x95, 0xd8, 0x9b, 0x41} // symbol()
)

const (
	tokenMetaCacheSize  = 4096
	transferConcurrency = 5
)

type tokenMeta struct {
	symbol   string
	decimals uint8
}

// TransferAction enriches Transfer events with the emitting token's symbol
// and decimals, cached per contract, and prints the scaled amount.
type TransferAction struct {
	track.BaseAction
	caller contractCaller
	cache  *lru.Cache
	sem    *semaphore.Weighted
}

// NewTransferAction builds the action around a contract caller.
func NewTransferAction(caller contractCaller) *TransferAction {
	cache, _ := lru.New(tokenMetaCacheSize)
	return &TransferAction{
		caller: caller,
		cache:  cache,
		sem:    semaphore.NewWeighted(transferConcurrency),
	}
}

// decodeStringReturn reads the common head/tail string return of symbol().
func decodeStringReturn(data []byte) (string, bool) {
	if len(data) < 64 {
		return "", false
	}
	length := new(big.Int).SetBytes(data[32:64])
	if !length.IsInt64() || 64+length.Int64() > int64(len(data)) {
		return "", false
	}
	return string(data[64 : 64+length.Int64()]), true
}

// decodeBytes32Symbol handles legacy tokens returning symbol as bytes32.
func decodeBytes32Symbol(data []byte) (string, bool) {
	if len(data) < 32 {
		return "", false
	}
	end := 0
	for i := 31; i >= 0; i-- {
		if data[i] != 0 {
			end = i + 1
			break
		}
	}
	if end == 0 {
		return "", false
	}
	return string(data[:end]), true
}

func (a *TransferAction) tokenMeta(ctx context.Context, token common.Address) tokenMeta {
	if v, ok := a.cache.Get(token); ok {
		return v.(tokenMeta)
	}
	meta := tokenMeta{symbol: "TKN", decimals: 18}
	if ret, err := a.caller.CallContract(ctx, client.CallMsg{To: token, Data: decimalsSelector}, nil); err == nil && len(ret) >= 32 {
		meta.decimals = ret[31]
	}
	if ret, err := a.caller.CallContract(ctx, client.CallMsg{To: token, Data: symbolSelector}, nil); err == nil {
		if s, ok := decodeStringReturn(ret); ok {
			meta.symbol = s
		} else if s, ok := decodeBytes32Symbol(ret); ok {
			meta.symbol = s
		}
	}
	a.cache.Add(token, meta)
	return meta
}

func (a *TransferAction) OnEvent(e *track.EventRecord) error {
	if e.Name != "Transfer" {
		return nil
	}
	var from, to *common.Address
	var amount *big.Int
	for _, f := range e.Fields {
		switch f.Name {
		case "from", "_from":
			if f.Value.Kind == abi.KindAddress {
				addr := f.Value.Addr
				from = &addr
			}
		case "to", "_to":
			if f.Value.Kind == abi.KindAddress {
				addr := f.Value.Addr
				to = &addr
			}
		case "value", "amount":
			if f.Value.Kind == abi.KindUint {
				amount = f.Value.Num
			}
		}
	}
	token := e.Address
	go func() {
		ctx := context.Background()
		if err := a.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer a.sem.Release(1)
		meta := a.tokenMeta(ctx, token)
		human := "?"
		raw := "?"
		if amount != nil {
			human = scaleAmount(amount, meta.decimals)
			raw = amount.String()
		}
		fmt.Printf("[transfer] token=%s(%s) from=%s to=%s value_raw=%s value=%s\n",
			strings.ToLower(token.Hex()), meta.symbol, fmtAddr(from), fmtAddr(to), raw, human)
	}()
	return nil
}

func transferFactory() track.Factory {
	return track.Factory{
		Description:   "Enrich Transfer events with token symbol and decimals via eth_call",
		ConfigExample: `{"enabled": true, "addresses": {}, "options": {}}`,
		New: func(ctx *track.FactoryContext) (track.Action, error) {
			return NewTransferAction(ctx.Client), nil
		},
	}
}
